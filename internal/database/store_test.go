package database_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/yueye109/chatvault/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDB(dbPath, 1, time.Second)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return database.NewStore(db, log, 5*time.Second)
}

func testMessage(id, session, group, month, createdTime string) *database.Message {
	m := &database.Message{
		MessageID:    id,
		PlatformType: "telegram",
		SelfID:       "bot-1",
		SessionID:    session,
		Sender:       database.Sender{UserID: "u1", Nickname: "alice"}.Encode(),
		Content:      "hello",
		CreatedTime:  createdTime,
		Month:        month,
	}
	if group != "" {
		m.GroupID.String, m.GroupID.Valid = group, true
	}
	return m
}

func TestAppendAndGetMessage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("m1", "s1", "g1", "2025-08", "2025-08-15 10:00:00")
	msg.ImageHashes = database.EncodeHashes([]string{"abc"})

	if err := store.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, err := store.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.SessionID != "s1" || got.GroupID.String != "g1" || got.Month != "2025-08" {
		t.Errorf("unexpected row: %+v", got)
	}
	if hashes := database.DecodeHashes(got.ImageHashes); len(hashes) != 1 || hashes[0] != "abc" {
		t.Errorf("unexpected image hashes: %v", hashes)
	}

	if _, err := store.GetMessage(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestAppendMessageRejectsIncompleteRows(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  *database.Message
	}{
		{name: "nil message", msg: nil},
		{name: "missing message id", msg: testMessage("", "s1", "", "2025-08", "2025-08-01 00:00:00")},
		{name: "missing session", msg: testMessage("m1", "", "", "2025-08", "2025-08-01 00:00:00")},
		{name: "missing month", msg: testMessage("m1", "s1", "", "", "2025-08-01 00:00:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.AppendMessage(ctx, tt.msg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestQueryMessagesOrderingAndFilter(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rows := []*database.Message{
		testMessage("m1", "s1", "g1", "2025-08", "2025-08-01 08:00:00"),
		testMessage("m2", "s1", "g1", "2025-08", "2025-08-02 09:00:00"),
		testMessage("m3", "s1", "g1", "2025-08", "2025-08-02 18:30:00"),
		testMessage("m4", "other", "g2", "2025-08", "2025-08-02 12:00:00"),
	}
	for _, m := range rows {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage(%s) failed: %v", m.MessageID, err)
		}
	}

	got, err := store.QueryMessages(ctx, "g1", "", 100)
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	wantOrder := []string{"m3", "m2", "m1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d rows, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].MessageID != id {
			t.Errorf("row %d: got %s, want %s", i, got[i].MessageID, id)
		}
	}

	filtered, err := store.QueryMessages(ctx, "g1", "2025-08-02", 100)
	if err != nil {
		t.Fatalf("QueryMessages with date failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("date filter returned %d rows, want 2", len(filtered))
	}

	limited, err := store.QueryMessages(ctx, "g1", "", 1)
	if err != nil {
		t.Fatalf("QueryMessages with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].MessageID != "m3" {
		t.Errorf("limit=1 should return only the newest row, got %v", limited)
	}

	none, err := store.QueryMessages(ctx, "nope", "", 100)
	if err != nil {
		t.Fatalf("QueryMessages for unknown target failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown target should return no rows, got %d", len(none))
	}
}

func TestPinMonthIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := store.AppendMessage(ctx, testMessage(id, "s1", "g1", "2025-07", "2025-07-10 00:00:00")); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	updated, err := store.PinMonth(ctx, "2025-07")
	if err != nil {
		t.Fatalf("PinMonth failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("first pin updated %d rows, want 2", updated)
	}

	again, err := store.PinMonth(ctx, "2025-07")
	if err != nil {
		t.Fatalf("second PinMonth failed: %v", err)
	}
	if again != 0 {
		t.Errorf("re-pin updated %d rows, want 0", again)
	}

	empty, err := store.PinMonth(ctx, "1999-01")
	if err != nil {
		t.Fatalf("PinMonth on empty month failed: %v", err)
	}
	if empty != 0 {
		t.Errorf("pinning an empty month updated %d rows, want 0", empty)
	}
}

func TestInsertAssetIfAbsent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	asset := &database.Asset{
		Hash:        "deadbeef",
		FilePath:    "/data/2025-08/deadbeef.jpg",
		FileSize:    42,
		CreatedTime: "2025-08-01 00:00:00",
	}

	inserted, err := store.InsertAssetIfAbsent(ctx, database.AssetImage, asset)
	if err != nil {
		t.Fatalf("InsertAssetIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("first insert should report inserted=true")
	}

	dup := &database.Asset{Hash: "deadbeef", FilePath: "/elsewhere/deadbeef.jpg"}
	inserted, err = store.InsertAssetIfAbsent(ctx, database.AssetImage, dup)
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}

	got, err := store.GetAsset(ctx, database.AssetImage, "deadbeef")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.FilePath != asset.FilePath {
		t.Errorf("duplicate insert must not overwrite the winner: got %s", got.FilePath)
	}

	// Asset tables are independent per kind.
	if _, err := store.GetAsset(ctx, database.AssetVideo, "deadbeef"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("hash must not leak across kinds, got %v", err)
	}
}

func TestDeleteAsset(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertAssetIfAbsent(ctx, database.AssetVideo, &database.Asset{Hash: "h1"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.DeleteAsset(ctx, database.AssetVideo, "h1"); err != nil {
		t.Fatalf("DeleteAsset failed: %v", err)
	}
	if err := store.DeleteAsset(ctx, database.AssetVideo, "h1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("deleting an absent asset should return ErrNotFound, got %v", err)
	}
}

func TestGrantTarget(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	granted, err := store.GrantTarget(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("GrantTarget failed: %v", err)
	}
	if !granted {
		t.Error("first grant should report granted=true")
	}

	granted, err = store.GrantTarget(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("repeat GrantTarget failed: %v", err)
	}
	if granted {
		t.Error("repeat grant should report granted=false")
	}

	if _, err := store.GrantTarget(ctx, "", "g1"); err == nil {
		t.Error("empty identity should be rejected")
	}

	if _, err := store.GrantTarget(ctx, "u1", "g2"); err != nil {
		t.Fatalf("GrantTarget failed: %v", err)
	}

	targets, err := store.TargetsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("TargetsFor failed: %v", err)
	}
	if len(targets) != 2 || targets[0] != "g1" || targets[1] != "g2" {
		t.Errorf("unexpected grant set: %v", targets)
	}

	empty, err := store.TargetsFor(ctx, "stranger")
	if err != nil {
		t.Fatalf("TargetsFor for unknown identity failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown identity should have no grants, got %v", empty)
	}
}

func TestListTargetIDs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rows := []*database.Message{
		testMessage("m1", "s-group", "g1", "2025-08", "2025-08-01 00:00:00"),
		testMessage("m2", "s-group", "g1", "2025-08", "2025-08-01 00:01:00"),
		testMessage("m3", "private-1", "", "2025-08", "2025-08-01 00:02:00"),
	}
	for _, m := range rows {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	targets, err := store.ListTargetIDs(ctx)
	if err != nil {
		t.Fatalf("ListTargetIDs failed: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range targets {
		seen[id] = true
	}
	if !seen["g1"] || !seen["private-1"] {
		t.Errorf("expected g1 and private-1 in %v", targets)
	}
	if len(targets) != 2 {
		t.Errorf("expected exactly 2 targets, got %v", targets)
	}
}

func TestLatestTargetName(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	old := testMessage("m1", "s1", "g1", "2025-07", "2025-07-01 00:00:00")
	old.GroupName.String, old.GroupName.Valid = "Old Name", true
	recent := testMessage("m2", "s1", "g1", "2025-08", "2025-08-01 00:00:00")
	recent.GroupName.String, recent.GroupName.Valid = "New Name", true
	unnamed := testMessage("m3", "s1", "g1", "2025-08", "2025-08-02 00:00:00")

	for _, m := range []*database.Message{old, recent, unnamed} {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	name, err := store.LatestTargetName(ctx, "g1")
	if err != nil {
		t.Fatalf("LatestTargetName failed: %v", err)
	}
	if name != "New Name" {
		t.Errorf("got %q, want the most recent non-empty name", name)
	}

	name, err = store.LatestTargetName(ctx, "unknown")
	if err != nil {
		t.Fatalf("LatestTargetName for unknown target failed: %v", err)
	}
	if name != "" {
		t.Errorf("unknown target should yield empty name, got %q", name)
	}
}

func TestExpiredMonths(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rows := []*database.Message{
		testMessage("m1", "s1", "g1", "2025-01", "2025-01-10 00:00:00"),
		testMessage("m2", "s1", "g1", "2025-02", "2025-02-10 00:00:00"),
		testMessage("m3", "s1", "g1", "2025-03", "2025-03-10 00:00:00"),
		testMessage("m4", "s1", "g1", "2025-06", "2025-06-10 00:00:00"),
	}
	for _, m := range rows {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	if _, err := store.PinMonth(ctx, "2025-02"); err != nil {
		t.Fatalf("PinMonth failed: %v", err)
	}

	months, err := store.ExpiredMonths(ctx, "2025-06")
	if err != nil {
		t.Fatalf("ExpiredMonths failed: %v", err)
	}
	if len(months) != 2 || months[0] != "2025-01" || months[1] != "2025-03" {
		t.Errorf("got %v, want [2025-01 2025-03] (pinned month excluded, cutoff month excluded)", months)
	}
}

func TestAssetReferenceCounting(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	old := testMessage("m1", "s1", "g1", "2025-01", "2025-01-10 00:00:00")
	old.ImageHashes = database.EncodeHashes([]string{"shared", "exclusive"})
	recent := testMessage("m2", "s1", "g1", "2025-08", "2025-08-10 00:00:00")
	recent.ImageHashes = database.EncodeHashes([]string{"shared"})

	for _, m := range []*database.Message{old, recent} {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	hashes, err := store.MonthAssetHashes(ctx, database.AssetImage, "2025-01")
	if err != nil {
		t.Fatalf("MonthAssetHashes failed: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %v, want both hashes of the old bucket", hashes)
	}

	tests := []struct {
		name  string
		hash  string
		month string
		want  int64
	}{
		{name: "shared hash survives outside expiring bucket", hash: "shared", month: "2025-01", want: 1},
		{name: "exclusive hash has no survivors", hash: "exclusive", month: "2025-01", want: 0},
		{name: "empty month scans whole ledger", hash: "shared", month: "", want: 2},
		{name: "unknown hash", hash: "nope", month: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := store.CountAssetReferencesExcludingMonth(ctx, database.AssetImage, tt.hash, tt.month)
			if err != nil {
				t.Fatalf("CountAssetReferencesExcludingMonth failed: %v", err)
			}
			if count != tt.want {
				t.Errorf("got %d, want %d", count, tt.want)
			}
		})
	}
}

func TestMessageIndexesCoverTargetAndTime(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), 1, time.Second)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	names := []string{}
	err = db.Select(&names, `
		SELECT name FROM sqlite_master
		WHERE type = 'index' AND tbl_name = 'messages'`)
	if err != nil {
		t.Fatalf("index listing failed: %v", err)
	}
	have := map[string]bool{}
	for _, n := range names {
		have[n] = true
	}

	// Target lookups match either group_id or session_id, so each needs its
	// own (column, created_time) index; a composite over both only serves
	// its leading column.
	for _, want := range []string{
		"idx_messages_group_created",
		"idx_messages_session_created",
		"idx_messages_month_created",
	} {
		if !have[want] {
			t.Errorf("missing index %s (have %v)", want, names)
		}
	}
}

func TestDeleteMonth(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for i, month := range []string{"2025-01", "2025-01", "2025-02"} {
		m := testMessage(string(rune('a'+i)), "s1", "g1", month, month+"-10 00:00:00")
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	deleted, err := store.DeleteMonth(ctx, "2025-01")
	if err != nil {
		t.Fatalf("DeleteMonth failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d rows, want 2", deleted)
	}

	left, err := store.QueryMessages(ctx, "g1", "", 100)
	if err != nil {
		t.Fatalf("QueryMessages failed: %v", err)
	}
	if len(left) != 1 || left[0].Month != "2025-02" {
		t.Errorf("unexpected surviving rows: %v", left)
	}
}

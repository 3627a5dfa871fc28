package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the data access layer over the archive tables: the message
// ledger, the per-kind asset tables, and the authorization grants.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// AppendMessage inserts a new ledger row. The row is written whole: any
	// asset hashes must already be resolved (or their slots left empty).
	AppendMessage(ctx context.Context, message *Message) error

	// GetMessage retrieves a ledger row by message id.
	// Returns ErrNotFound if no such row exists.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// QueryMessages returns rows for a target (group id or session id)
	// ordered by event time descending, optionally restricted to a date
	// prefix, capped at limit. It performs no authorization.
	QueryMessages(ctx context.Context, target, datePrefix string, limit int) ([]Message, error)

	// PinMonth marks every row in the month bucket as exempt from retention.
	// Re-pinning an already-pinned bucket is a successful no-op.
	PinMonth(ctx context.Context, month string) (int64, error)

	// ListTargetIDs returns every distinct conversation target known to the
	// ledger: group ids plus private session ids.
	ListTargetIDs(ctx context.Context) ([]string, error)

	// LatestTargetName returns the most recent non-empty display name
	// recorded for a target, or "" if none was ever recorded.
	LatestTargetName(ctx context.Context, target string) (string, error)

	// InsertAssetIfAbsent atomically inserts an asset row unless one already
	// exists for the hash. Returns true if the row was inserted.
	InsertAssetIfAbsent(ctx context.Context, kind AssetKind, asset *Asset) (bool, error)

	// GetAsset retrieves an asset row by hash. Returns ErrNotFound if absent.
	GetAsset(ctx context.Context, kind AssetKind, hash string) (*Asset, error)

	// DeleteAsset removes an asset row. Returns ErrNotFound if absent.
	DeleteAsset(ctx context.Context, kind AssetKind, hash string) error

	// GrantTarget records that identity has been observed posting into
	// target. Returns true if the (identity, target) pair was newly granted.
	// The grant is durably committed before the call returns.
	GrantTarget(ctx context.Context, identity, target string) (bool, error)

	// TargetsFor returns the targets granted to an identity.
	TargetsFor(ctx context.Context, identity string) ([]string, error)

	// ExpiredMonths returns distinct month buckets strictly older than
	// cutoff that contain no pinned row, oldest first.
	ExpiredMonths(ctx context.Context, cutoff string) ([]string, error)

	// MonthAssetHashes returns the distinct asset hashes of a kind
	// referenced by the month's rows.
	MonthAssetHashes(ctx context.Context, kind AssetKind, month string) ([]string, error)

	// CountAssetReferencesExcludingMonth counts ledger rows referencing the
	// hash across every bucket except the named one. An empty month scans
	// the whole ledger.
	CountAssetReferencesExcludingMonth(ctx context.Context, kind AssetKind, hash, month string) (int64, error)

	// DeleteMonth removes every ledger row in the month bucket.
	DeleteMonth(ctx context.Context, month string) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db        *sqlx.DB
	logger    *slog.Logger
	opTimeout time.Duration
}

// NewStore creates a new Store implementation backed by sqlx. opTimeout is
// applied per operation; an operation that cannot acquire storage within it
// fails with ErrResourceExhausted instead of blocking indefinitely.
func NewStore(db *sqlx.DB, logger *slog.Logger, opTimeout time.Duration) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &sqlxStore{
		db:        db,
		logger:    logger.With("component", "store"),
		opTimeout: opTimeout,
	}
}

// opContext bounds an operation with the store's timeout unless the caller
// already set an earlier deadline.
func (s *sqlxStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// mapErr converts deadline expiry into the resource-exhaustion error callers
// are expected to retry on.
func mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return err
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return mapErr(s.db.PingContext(ctx))
}

func (s *sqlxStore) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if message.MessageID == "" {
		return fmt.Errorf("message must have a message_id")
	}
	if message.SessionID == "" {
		return fmt.Errorf("message must have a session_id")
	}
	if message.Month == "" {
		return fmt.Errorf("message must have a month bucket")
	}
	if message.Sender == "" {
		message.Sender = "{}"
	}
	if message.ImageHashes == "" {
		message.ImageHashes = "[]"
	}
	if message.VideoHashes == "" {
		message.VideoHashes = "[]"
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO messages (message_id, platform_type, self_id, session_id,
		                      group_id, group_name, sender, content, raw_message,
		                      image_hashes, video_hashes, timestamp, created_time,
		                      month, pinned)
		VALUES (:message_id, :platform_type, :self_id, :session_id,
		        :group_id, :group_name, :sender, :content, :raw_message,
		        :image_hashes, :video_hashes, :timestamp, :created_time,
		        :month, :pinned)`, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append message",
			"message_id", message.MessageID, "error", err)
		return mapErr(fmt.Errorf("failed to append message: %w", err))
	}
	return nil
}

func (s *sqlxStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var m Message
	err := s.db.GetContext(ctx, &m,
		`SELECT * FROM messages WHERE message_id = ?`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapErr(fmt.Errorf("failed to get message: %w", err))
	}
	return &m, nil
}

func (s *sqlxStore) QueryMessages(ctx context.Context, target, datePrefix string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1000
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := `
		SELECT * FROM messages
		WHERE (group_id = ? OR session_id = ?)`
	args := []any{target, target}

	if datePrefix != "" {
		query += ` AND created_time LIKE ?`
		args = append(args, datePrefix+"%")
	}

	query += ` ORDER BY created_time DESC LIMIT ?`
	args = append(args, limit)

	messages := []Message{}
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, mapErr(fmt.Errorf("failed to query messages: %w", err))
	}
	return messages, nil
}

func (s *sqlxStore) PinMonth(ctx context.Context, month string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET pinned = 1 WHERE month = ? AND pinned = 0`, month)
	if err != nil {
		return 0, mapErr(fmt.Errorf("failed to pin month %s: %w", month, err))
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pin result: %w", err)
	}
	s.logger.InfoContext(ctx, "Month pinned", "month", month, "rows", updated)
	return updated, nil
}

func (s *sqlxStore) ListTargetIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	targets := []string{}
	err := s.db.SelectContext(ctx, &targets, `
		SELECT DISTINCT group_id FROM messages
		WHERE group_id IS NOT NULL AND group_id != ''
		UNION
		SELECT DISTINCT session_id FROM messages
		WHERE session_id != ''
		  AND session_id NOT IN (
			SELECT group_id FROM messages WHERE group_id IS NOT NULL AND group_id != ''
		  )`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list targets: %w", err))
	}
	return targets, nil
}

func (s *sqlxStore) LatestTargetName(ctx context.Context, target string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var name string
	err := s.db.GetContext(ctx, &name, `
		SELECT group_name FROM messages
		WHERE (group_id = ? OR session_id = ?)
		  AND group_name IS NOT NULL AND group_name != ''
		ORDER BY created_time DESC LIMIT 1`, target, target)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", mapErr(fmt.Errorf("failed to resolve target name: %w", err))
	}
	return name, nil
}

func (s *sqlxStore) InsertAssetIfAbsent(ctx context.Context, kind AssetKind, asset *Asset) (bool, error) {
	if asset == nil || asset.Hash == "" {
		return false, fmt.Errorf("asset must have a hash")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// Unique key plus conflict no-op: the atomic insert-if-absent primitive
	// that closes the concurrent-put dedup race.
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (hash, file_path, file_size, created_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`, kind.Table()),
		asset.Hash, asset.FilePath, asset.FileSize, asset.CreatedTime)
	if err != nil {
		return false, mapErr(fmt.Errorf("failed to insert %s asset: %w", kind, err))
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read asset insert result: %w", err)
	}
	return inserted > 0, nil
}

func (s *sqlxStore) GetAsset(ctx context.Context, kind AssetKind, hash string) (*Asset, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var a Asset
	err := s.db.GetContext(ctx, &a, fmt.Sprintf(
		`SELECT * FROM %s WHERE hash = ?`, kind.Table()), hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapErr(fmt.Errorf("failed to get %s asset: %w", kind, err))
	}
	return &a, nil
}

func (s *sqlxStore) DeleteAsset(ctx context.Context, kind AssetKind, hash string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE hash = ?`, kind.Table()), hash)
	if err != nil {
		return mapErr(fmt.Errorf("failed to delete %s asset: %w", kind, err))
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read asset delete result: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) GrantTarget(ctx context.Context, identity, target string) (bool, error) {
	if identity == "" || target == "" {
		return false, fmt.Errorf("identity and target must be non-empty")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// Write-through: the grant is committed before this returns, so an
	// ingestion-path grant survives immediate process termination.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO authorizations (identity, target_id, granted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity, target_id) DO NOTHING`,
		identity, target, time.Now().UTC().Format(TimeFormat))
	if err != nil {
		return false, mapErr(fmt.Errorf("failed to record grant: %w", err))
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read grant result: %w", err)
	}
	return inserted > 0, nil
}

func (s *sqlxStore) TargetsFor(ctx context.Context, identity string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	targets := []string{}
	err := s.db.SelectContext(ctx, &targets,
		`SELECT target_id FROM authorizations WHERE identity = ? ORDER BY target_id`,
		identity)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to load grants: %w", err))
	}
	return targets, nil
}

func (s *sqlxStore) ExpiredMonths(ctx context.Context, cutoff string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// A bucket containing any pinned row is never eligible, so rows added to
	// an already-pinned old month stay protected too.
	months := []string{}
	err := s.db.SelectContext(ctx, &months, `
		SELECT DISTINCT month FROM messages
		WHERE month < ?
		  AND month NOT IN (SELECT DISTINCT month FROM messages WHERE pinned = 1)
		ORDER BY month`, cutoff)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to enumerate expired months: %w", err))
	}
	return months, nil
}

func (s *sqlxStore) MonthAssetHashes(ctx context.Context, kind AssetKind, month string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	hashes := []string{}
	err := s.db.SelectContext(ctx, &hashes, fmt.Sprintf(`
		SELECT DISTINCT je.value FROM messages m, json_each(m.%s) je
		WHERE m.month = ?`, kind.HashColumn()), month)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to collect %s hashes for month %s: %w", kind, month, err))
	}
	return hashes, nil
}

func (s *sqlxStore) CountAssetReferencesExcludingMonth(ctx context.Context, kind AssetKind, hash, month string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var count int64
	err := s.db.GetContext(ctx, &count, fmt.Sprintf(`
		SELECT COUNT(*) FROM messages m, json_each(m.%s) je
		WHERE je.value = ? AND (? = '' OR m.month != ?)`, kind.HashColumn()),
		hash, month, month)
	if err != nil {
		return 0, mapErr(fmt.Errorf("failed to count %s references: %w", kind, err))
	}
	return count, nil
}

func (s *sqlxStore) DeleteMonth(ctx context.Context, month string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE month = ?`, month)
	if err != nil {
		return 0, mapErr(fmt.Errorf("failed to delete month %s: %w", month, err))
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read month delete result: %w", err)
	}
	return deleted, nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	// VACUUM cannot run inside the per-op timeout budget on large archives;
	// give maintenance a generous fixed window instead.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	for _, stmt := range []string{"VACUUM", "ANALYZE", "PRAGMA optimize"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("maintenance statement %q failed: %w", stmt, err)
		}
	}
	s.logger.InfoContext(ctx, "SQL maintenance completed")
	return nil
}

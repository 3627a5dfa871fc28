package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TimeFormat is the storage and API representation of timestamps. The format
// sorts lexicographically in chronological order, so created_time can back
// both the descending event-time ordering and the date-prefix filter.
const TimeFormat = "2006-01-02 15:04:05"

// MonthFormat is the retention bucket representation (calendar month).
const MonthFormat = "2006-01"

// AssetKind selects one of the two asset tables.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// Table returns the asset table backing the kind.
func (k AssetKind) Table() string {
	if k == AssetVideo {
		return "video_assets"
	}
	return "image_assets"
}

// HashColumn returns the messages column holding hash references of the kind.
func (k AssetKind) HashColumn() string {
	if k == AssetVideo {
		return "video_hashes"
	}
	return "image_hashes"
}

// Message is one archived chat event. A row is written once by ingestion and
// never mutated afterwards except for the pinned flag, which only transitions
// false to true.
type Message struct {
	MessageID    string         `db:"message_id"`
	PlatformType string         `db:"platform_type"`
	SelfID       string         `db:"self_id"`
	SessionID    string         `db:"session_id"`
	GroupID      sql.NullString `db:"group_id"`
	GroupName    sql.NullString `db:"group_name"`
	Sender       string         `db:"sender"`       // JSON-encoded Sender
	Content      string         `db:"content"`
	RawMessage   string         `db:"raw_message"`  // opaque platform payload, preserved verbatim
	ImageHashes  string         `db:"image_hashes"` // JSON array of content hashes
	VideoHashes  string         `db:"video_hashes"`
	Timestamp    int64          `db:"timestamp"`
	CreatedTime  string         `db:"created_time"` // TimeFormat
	Month        string         `db:"month"`        // MonthFormat, immutable once set
	Pinned       bool           `db:"pinned"`
}

// Target returns the conversation the message belongs to: the group id for
// group messages, the session id otherwise.
func (m *Message) Target() string {
	if m.GroupID.Valid && m.GroupID.String != "" {
		return m.GroupID.String
	}
	return m.SessionID
}

// Sender identifies who sent a message.
type Sender struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	PlatformID string `json:"platform_id"`
}

// Encode returns the storage form of the sender.
func (s Sender) Encode() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeSender decodes the storage form of a sender.
func DecodeSender(raw string) Sender {
	var s Sender
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &s)
	}
	return s
}

// EncodeHashes returns the storage form of an asset-hash list.
func EncodeHashes(hashes []string) string {
	if len(hashes) == 0 {
		return "[]"
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeHashes decodes the storage form of an asset-hash list.
func DecodeHashes(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var hashes []string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return []string{}
	}
	return hashes
}

// Asset is one content-addressed media file. Exactly one physical file exists
// per hash; reference counts are derived from the ledger, never stored.
type Asset struct {
	Hash        string `db:"hash"`
	FilePath    string `db:"file_path"`
	FileSize    int64  `db:"file_size"`
	CreatedTime string `db:"created_time"`
}

// BucketTime derives the storage timestamp and month bucket from an event time.
func BucketTime(t time.Time) (createdTime, month string) {
	return t.Format(TimeFormat), t.Format(MonthFormat)
}

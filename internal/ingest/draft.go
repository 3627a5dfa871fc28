// Package ingest turns normalized chat events into durable archive records.
// Platform adapters produce Drafts; the Archiver resolves attached media
// through the asset store, extends the authorization registry, and appends
// the finished record to the ledger.
package ingest

import (
	"time"

	"github.com/yueye109/chatvault/internal/database"
)

// Draft is one inbound chat event, normalized by a platform adapter. The core
// never inspects raw platform payloads; adapters classify every event into
// one of the closed Body variants below.
type Draft struct {
	MessageID string
	Platform  string
	SelfID    string
	SessionID string
	GroupID   string // empty for private sessions
	GroupName string
	Sender    database.Sender
	Text      string // rendered text content, may be empty
	Raw       string // opaque platform payload, preserved verbatim
	EventTime time.Time
	Body      Body
}

// Target returns the conversation target the draft belongs to.
func (d *Draft) Target() string {
	if d.GroupID != "" {
		return d.GroupID
	}
	return d.SessionID
}

// Body is the closed set of message kinds an adapter may produce.
type Body interface {
	isBody()
}

// TextMessage is a plain chat message; Draft.Text carries the content.
type TextMessage struct{}

func (TextMessage) isBody() {}

// MediaMessage is a chat message carrying downloadable attachments.
// ComponentKinds lists the raw component type names observed, used only to
// pick a placeholder when nothing else survives.
type MediaMessage struct {
	Images         []Attachment
	Videos         []Attachment
	ComponentKinds []string
}

func (MediaMessage) isBody() {}

// Attachment is one downloadable media reference.
type Attachment struct {
	URL string
}

// NoticeKind enumerates system-notice subtypes.
type NoticeKind string

const (
	NoticeFileUpload  NoticeKind = "file_upload"
	NoticeMemberJoin  NoticeKind = "member_join"
	NoticeMemberLeave NoticeKind = "member_leave"
	NoticePoke        NoticeKind = "poke"
	NoticeRecall      NoticeKind = "recall"
	NoticeOther       NoticeKind = "other"
)

// SystemNotice is a platform event that is not a chat message: file uploads,
// membership changes, pokes, recalls.
type SystemNotice struct {
	Subtype NoticeKind

	// File upload fields.
	FileName string
	FileSize int64

	// Recall fields. OperatorID differs from UserID when an admin recalled
	// someone else's message.
	OperatorID        string
	UserID            string
	Nickname          string
	RecalledMessageID string

	// Label names the raw subtype for NoticeOther.
	Label string
}

func (SystemNotice) isBody() {}

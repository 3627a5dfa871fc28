// Package telegram adapts Telegram updates into archive drafts. It is the
// only package that understands the platform's payload shape; everything past
// the Draft boundary is platform-agnostic.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/yueye109/chatvault/internal/database"
	"github.com/yueye109/chatvault/internal/ingest"
)

// Archiver is the part of the ingestion pipeline the adapter needs.
type Archiver interface {
	Archive(ctx context.Context, d *ingest.Draft) error
}

// Adapter listens for Telegram updates and feeds them to the archiver.
type Adapter struct {
	bot      *bot.Bot
	token    string
	archiver Archiver
	store    database.Store
	adminID  int64
	logger   *slog.Logger
}

// New creates the adapter and its bot instance.
func New(token string, adminID int64, archiver Archiver, store database.Store, logger *slog.Logger) (*Adapter, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		token:    token,
		archiver: archiver,
		store:    store,
		adminID:  adminID,
		logger:   logger.With("component", "telegram"),
	}

	b, err := bot.New(token,
		bot.WithDefaultHandler(a.handleUpdate),
		bot.WithMiddlewares(loggingMiddleware(a.logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	a.bot = b

	b.RegisterHandler(bot.HandlerTypeMessageText, "/pin", bot.MatchTypePrefix, a.handlePin)

	return a, nil
}

// Run starts long polling until the context is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	a.logger.Info("Telegram listener starting")
	a.bot.Start(ctx)
	a.logger.Info("Telegram listener stopped")
}

// handleUpdate archives every non-command message event. Each update is
// handled independently; a failure is logged and never aborts the listener.
func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	draft := a.draftFromMessage(update, msg)
	if err := a.archiver.Archive(ctx, draft); err != nil {
		a.logger.ErrorContext(ctx, "Failed to archive update",
			"message_id", draft.MessageID, "error", err)
	}
}

// draftFromMessage normalizes one Telegram message into a Draft.
func (a *Adapter) draftFromMessage(update *models.Update, msg *models.Message) *ingest.Draft {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	raw, err := json.Marshal(update)
	if err != nil {
		raw = []byte("{}")
	}

	d := &ingest.Draft{
		MessageID: fmt.Sprintf("%s:%d", chatID, msg.ID),
		Platform:  "telegram",
		SessionID: chatID,
		Sender: database.Sender{
			UserID:     strconv.FormatInt(msg.From.ID, 10),
			Nickname:   senderName(msg.From),
			PlatformID: "telegram",
		},
		Text:      messageText(msg),
		Raw:       string(raw),
		EventTime: time.Unix(int64(msg.Date), 0),
		Body:      ingest.TextMessage{},
	}

	if msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup {
		d.GroupID = chatID
		d.GroupName = msg.Chat.Title
	}

	switch {
	case len(msg.NewChatMembers) > 0:
		d.Body = ingest.SystemNotice{Subtype: ingest.NoticeMemberJoin}
	case msg.LeftChatMember != nil:
		d.Body = ingest.SystemNotice{Subtype: ingest.NoticeMemberLeave}
	case msg.Document != nil && !isVideoDocument(msg.Document):
		d.Body = ingest.SystemNotice{
			Subtype:  ingest.NoticeFileUpload,
			FileName: msg.Document.FileName,
			FileSize: msg.Document.FileSize,
		}
	default:
		if body, ok := a.mediaBody(msg); ok {
			d.Body = body
		}
	}

	return d
}

// mediaBody extracts downloadable attachments. File ids are resolved to
// Bot API download URLs lazily here so the core only ever sees plain URLs.
func (a *Adapter) mediaBody(msg *models.Message) (ingest.MediaMessage, bool) {
	var body ingest.MediaMessage

	if len(msg.Photo) > 0 {
		// Telegram sends every thumbnail size; the last entry is the original.
		largest := msg.Photo[len(msg.Photo)-1]
		if url := a.fileURL(largest.FileID); url != "" {
			body.Images = append(body.Images, ingest.Attachment{URL: url})
		}
		body.ComponentKinds = append(body.ComponentKinds, "photo")
	}
	if msg.Video != nil {
		if url := a.fileURL(msg.Video.FileID); url != "" {
			body.Videos = append(body.Videos, ingest.Attachment{URL: url})
		}
		body.ComponentKinds = append(body.ComponentKinds, "video")
	}
	if msg.Document != nil && isVideoDocument(msg.Document) {
		if url := a.fileURL(msg.Document.FileID); url != "" {
			body.Videos = append(body.Videos, ingest.Attachment{URL: url})
		}
		body.ComponentKinds = append(body.ComponentKinds, "video")
	}
	if msg.Sticker != nil {
		body.ComponentKinds = append(body.ComponentKinds, "sticker")
	}
	if msg.Voice != nil {
		body.ComponentKinds = append(body.ComponentKinds, "voice")
	}
	if msg.VideoNote != nil {
		body.ComponentKinds = append(body.ComponentKinds, "video")
	}

	if len(body.ComponentKinds) == 0 {
		return body, false
	}
	return body, true
}

// fileURL resolves a file id to its Bot API download URL. Failures degrade
// the attachment slot, matching the asset-unavailable contract.
func (a *Adapter) fileURL(fileID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil || file.FilePath == "" {
		a.logger.Warn("Failed to resolve telegram file", "file_id", fileID, "error", err)
		return ""
	}
	return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", a.token, file.FilePath)
}

func senderName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func isVideoDocument(doc *models.Document) bool {
	name := strings.ToLower(doc.FileName)
	for _, ext := range []string{".mp4", ".mov", ".avi", ".mkv"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

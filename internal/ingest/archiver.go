package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yueye109/chatvault/internal/assets"
	"github.com/yueye109/chatvault/internal/authz"
	"github.com/yueye109/chatvault/internal/database"
)

// Archiver archives normalized chat events. Each event is handled
// independently; a failed or unreachable attachment degrades that one
// message's content to a placeholder and never aborts the pipeline.
type Archiver struct {
	store      database.Store
	fetcher    *assets.Fetcher
	registry   *authz.Registry
	saveImages bool
	saveVideos bool
	logger     *slog.Logger
}

// NewArchiver wires the archiver.
func NewArchiver(
	store database.Store,
	fetcher *assets.Fetcher,
	registry *authz.Registry,
	saveImages, saveVideos bool,
	logger *slog.Logger,
) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:      store,
		fetcher:    fetcher,
		registry:   registry,
		saveImages: saveImages,
		saveVideos: saveVideos,
		logger:     logger.With("component", "archiver"),
	}
}

// Archive resolves a draft's media, extends the sender's grant set, and
// appends the finished record to the ledger. The record is appended only
// after every attachment slot has resolved to a hash or been left empty.
func (a *Archiver) Archive(ctx context.Context, d *Draft) error {
	if d == nil || d.MessageID == "" {
		return fmt.Errorf("draft must have a message id")
	}

	target := d.Target()
	if d.Sender.UserID != "" && target != "" {
		if _, err := a.registry.Observe(ctx, d.Sender.UserID, target); err != nil {
			// Losing a grant write is worse than losing a message; surface it.
			return fmt.Errorf("failed to extend grant set: %w", err)
		}
	}

	createdTime, month := database.BucketTime(d.EventTime)

	content := strings.TrimSpace(d.Text)
	var imageHashes, videoHashes []string

	switch body := d.Body.(type) {
	case TextMessage:
		// Text already in content.
	case MediaMessage:
		imageHashes, videoHashes = a.resolveMedia(ctx, &body, month)
		if len(imageHashes) > 0 || len(videoHashes) > 0 {
			content = scrubMediaMarkers(content)
		}
		if content == "" && len(imageHashes) == 0 && len(videoHashes) == 0 {
			content = emptyContentPlaceholder(body.ComponentKinds)
		}
	case SystemNotice:
		content = noticePlaceholder(body, a.recalledNickname(ctx, body))
	default:
		return fmt.Errorf("unknown message body %T", d.Body)
	}

	msg := &database.Message{
		MessageID:    d.MessageID,
		PlatformType: d.Platform,
		SelfID:       d.SelfID,
		SessionID:    d.SessionID,
		GroupID:      nullable(d.GroupID),
		GroupName:    nullable(d.GroupName),
		Sender:       d.Sender.Encode(),
		Content:      content,
		RawMessage:   d.Raw,
		ImageHashes:  database.EncodeHashes(imageHashes),
		VideoHashes:  database.EncodeHashes(videoHashes),
		Timestamp:    d.EventTime.Unix(),
		CreatedTime:  createdTime,
		Month:        month,
	}

	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to archive message %s: %w", d.MessageID, err)
	}

	a.logger.DebugContext(ctx, "Message archived",
		"message_id", d.MessageID, "target", target,
		"images", len(imageHashes), "videos", len(videoHashes))
	return nil
}

// resolveMedia fetches every attachment concurrently. A slot that fails stays
// empty and is never retried automatically; slot order is preserved.
func (a *Archiver) resolveMedia(ctx context.Context, m *MediaMessage, month string) (images, videos []string) {
	imageSlots := make([]string, len(m.Images))
	videoSlots := make([]string, len(m.Videos))

	g, gCtx := errgroup.WithContext(ctx)

	if a.saveImages {
		for i, att := range m.Images {
			i, att := i, att
			g.Go(func() error {
				hash, err := a.fetcher.Fetch(gCtx, assets.KindImage, att.URL, month)
				if err != nil {
					a.logger.WarnContext(gCtx, "Image attachment degraded",
						"url", att.URL, "error", err)
					return nil
				}
				imageSlots[i] = hash
				return nil
			})
		}
	}
	if a.saveVideos {
		for i, att := range m.Videos {
			i, att := i, att
			g.Go(func() error {
				hash, err := a.fetcher.Fetch(gCtx, assets.KindVideo, att.URL, month)
				if err != nil {
					a.logger.WarnContext(gCtx, "Video attachment degraded",
						"url", att.URL, "error", err)
					return nil
				}
				videoSlots[i] = hash
				return nil
			})
		}
	}

	// Fetch failures are contained per slot, so Wait never returns an error.
	_ = g.Wait()

	return compact(imageSlots), compact(videoSlots)
}

// recalledNickname looks up the historical nickname of a recalled message's
// sender from the ledger, falling back to the notice's own data.
func (a *Archiver) recalledNickname(ctx context.Context, n SystemNotice) string {
	if n.Subtype != NoticeRecall {
		return ""
	}
	if n.RecalledMessageID != "" {
		if old, err := a.store.GetMessage(ctx, n.RecalledMessageID); err == nil {
			if s := database.DecodeSender(old.Sender); s.Nickname != "" {
				return s.Nickname
			}
		} else if !errors.Is(err, database.ErrNotFound) {
			a.logger.WarnContext(ctx, "Recalled-message lookup failed",
				"message_id", n.RecalledMessageID, "error", err)
		}
	}
	if n.Nickname != "" {
		return n.Nickname
	}
	return n.UserID
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func compact(slots []string) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yueye109/chatvault/internal/assets"
	"github.com/yueye109/chatvault/internal/authz"
	"github.com/yueye109/chatvault/internal/database"
)

const (
	defaultMessageLimit = 1000
	nameCacheEntries    = 512
	nameCacheTTL        = 10 * time.Minute
)

// Handler serves the query endpoints. Every operation authorizes the caller
// before touching the ledger; media streaming is intentionally exempt (the
// hash itself is the unguessable capability, an accepted trade-off inherited
// from the upstream design).
type Handler struct {
	store    database.Store
	assets   *assets.Store
	registry *authz.Registry
	names    *nameCache
	logger   *slog.Logger
}

// NewHandler wires the query handler.
func NewHandler(store database.Store, assetStore *assets.Store, registry *authz.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		assets:   assetStore,
		registry: registry,
		names:    newNameCache(nameCacheEntries, nameCacheTTL),
		logger:   logger.With("component", "api"),
	}
}

type credentials struct {
	QQ  string `json:"qq"`
	Pwd string `json:"pwd"`
}

type groupsRequest struct {
	credentials
}

type messagesRequest struct {
	credentials
	TargetID string `json:"target_id"`
	Date     string `json:"date"`
	Limit    int    `json:"limit"`
}

type targetView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type messageView struct {
	MessageID    string          `json:"message_id"`
	PlatformType string          `json:"platform_type"`
	SessionID    string          `json:"session_id"`
	GroupID      string          `json:"group_id"`
	Sender       database.Sender `json:"sender"`
	MessageStr   string          `json:"message_str"`
	ImageIDs     []string        `json:"image_ids"`
	VideoIDs     []string        `json:"video_ids"`
	CreatedTime  string          `json:"created_time"`
}

// Groups handles POST /api/groups: list the targets the caller may see, each
// with a best-effort display name.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	var req groupsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	ctx := r.Context()

	var targets []string
	switch {
	case h.registry.IsAdmin(req.QQ, req.Pwd):
		all, err := h.store.ListTargetIDs(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to list targets", "error", err)
			writeDenied(w, "query failed")
			return
		}
		targets = all
	case h.registry.IsAdminIdentity(req.QQ):
		writeDenied(w, "invalid admin password")
		return
	default:
		allowed, err := h.registry.AllowedTargets(ctx, req.QQ)
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to load grants", "identity", req.QQ, "error", err)
			writeDenied(w, "query failed")
			return
		}
		if len(allowed) == 0 {
			writeDenied(w, "identity not authorized")
			return
		}
		targets = allowed
	}

	views := make([]targetView, 0, len(targets))
	for _, id := range targets {
		views = append(views, targetView{ID: id, Name: h.displayName(r, id)})
	}
	writeSuccess(w, views)
}

// displayName resolves the most recent non-empty name recorded for a target,
// falling back to the target id itself.
func (h *Handler) displayName(r *http.Request, target string) string {
	if name, ok := h.names.get(target); ok {
		return name
	}

	name, err := h.store.LatestTargetName(r.Context(), target)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Display-name lookup failed",
			"target", target, "error", err)
		return target
	}
	if name == "" {
		name = target
	}
	h.names.put(target, name)
	return name
}

// Messages handles POST /api/messages: authorize, then query the ledger for
// one target with optional date filter and limit.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.TargetID == "" {
		writeSuccess(w, []messageView{})
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultMessageLimit
	}

	ctx := r.Context()

	if err := h.registry.Authorize(ctx, req.QQ, req.Pwd, req.TargetID); err != nil {
		if errors.Is(err, authz.ErrUnauthorized) {
			writeDenied(w, "not authorized for this target")
			return
		}
		h.logger.ErrorContext(ctx, "Authorization check failed", "error", err)
		writeDenied(w, "query failed")
		return
	}

	rows, err := h.store.QueryMessages(ctx, req.TargetID, req.Date, req.Limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Message query failed",
			"target", req.TargetID, "error", err)
		writeDenied(w, "query failed")
		return
	}

	views := make([]messageView, 0, len(rows))
	for _, m := range rows {
		views = append(views, messageView{
			MessageID:    m.MessageID,
			PlatformType: m.PlatformType,
			SessionID:    m.SessionID,
			GroupID:      m.GroupID.String,
			Sender:       database.DecodeSender(m.Sender),
			MessageStr:   m.Content,
			ImageIDs:     database.DecodeHashes(m.ImageHashes),
			VideoIDs:     database.DecodeHashes(m.VideoHashes),
			CreatedTime:  m.CreatedTime,
		})
	}
	writeSuccess(w, views)
}

// Media returns a handler streaming an asset of the given kind by hash.
func (h *Handler) Media(kind assets.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		if hash == "" {
			http.NotFound(w, r)
			return
		}

		asset, err := h.assets.Get(r.Context(), kind, hash)
		if err != nil {
			// Integrity violations were already logged loudly by the store;
			// the caller just sees absence either way.
			if errors.Is(err, database.ErrNotFound) || errors.Is(err, assets.ErrIntegrity) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "media lookup failed", http.StatusInternalServerError)
			return
		}

		http.ServeFile(w, r, asset.FilePath)
	}
}

// Healthz reports storage liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "storage unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

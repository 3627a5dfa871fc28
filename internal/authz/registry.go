// Package authz implements the authorization registry: identities earn read
// access to a conversation target by being observed posting into it, and a
// configured admin identity/secret pair bypasses the registry entirely.
package authz

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/yueye109/chatvault/internal/database"
)

// ErrUnauthorized indicates the caller may not read the requested target.
// The caller receives no data at all, not even confirmation that data exists.
var ErrUnauthorized = errors.New("unauthorized")

// Registry maps identities to the targets they have been observed posting
// into. Grants accumulate and are never revoked automatically; every new
// grant is durably persisted before the observing call returns.
type Registry struct {
	store         database.Store
	adminIdentity string
	adminSecret   string
	logger        *slog.Logger
}

// NewRegistry creates the registry. An empty admin identity disables admin
// access entirely.
func NewRegistry(store database.Store, adminIdentity, adminSecret string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:         store,
		adminIdentity: adminIdentity,
		adminSecret:   adminSecret,
		logger:        logger.With("component", "authz"),
	}
}

// IsAdmin reports whether the identity/secret pair matches the configured
// admin credentials. Both halves are compared in constant time.
func (r *Registry) IsAdmin(identity, secret string) bool {
	if r.adminIdentity == "" {
		return false
	}
	idOK := subtle.ConstantTimeCompare([]byte(identity), []byte(r.adminIdentity))
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(r.adminSecret))
	return idOK&secretOK == 1
}

// IsAdminIdentity reports whether the identity alone names the admin account,
// regardless of the secret. Used to distinguish "wrong admin password" from
// "unknown identity" in API responses.
func (r *Registry) IsAdminIdentity(identity string) bool {
	return r.adminIdentity != "" &&
		subtle.ConstantTimeCompare([]byte(identity), []byte(r.adminIdentity)) == 1
}

// Observe records that identity posted into target, extending its grant set
// if the pair is new. Returns true when a new grant was persisted.
func (r *Registry) Observe(ctx context.Context, identity, target string) (bool, error) {
	if identity == "" || target == "" {
		return false, nil
	}

	granted, err := r.store.GrantTarget(ctx, identity, target)
	if err != nil {
		return false, err
	}
	if granted {
		r.logger.InfoContext(ctx, "New target granted",
			"identity", identity, "target", target)
	}
	return granted, nil
}

// AllowedTargets returns the grant set for an identity.
func (r *Registry) AllowedTargets(ctx context.Context, identity string) ([]string, error) {
	return r.store.TargetsFor(ctx, identity)
}

// Authorize decides a read request: admin credentials allow any target, a
// non-admin identity must hold a grant for it. Denials return ErrUnauthorized
// with no hint of whether the target has data.
func (r *Registry) Authorize(ctx context.Context, identity, secret, target string) error {
	if r.IsAdmin(identity, secret) {
		return nil
	}
	if r.IsAdminIdentity(identity) {
		return ErrUnauthorized
	}

	targets, err := r.store.TargetsFor(ctx, identity)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if t == target {
			return nil
		}
	}
	return ErrUnauthorized
}

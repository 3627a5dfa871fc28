package assets

import "errors"

var (
	// ErrUnavailable indicates a media fetch or store operation failed.
	// Ingestion degrades the affected slot instead of failing the message.
	ErrUnavailable = errors.New("asset unavailable")

	// ErrIntegrity indicates a ledger or asset row references a file that no
	// longer exists on disk. This should never happen; it is logged loudly
	// and surfaced as a data-quality signal, never a crash.
	ErrIntegrity = errors.New("storage integrity violation")
)

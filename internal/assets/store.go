// Package assets implements content-addressed storage of binary media.
// A file is identified by the SHA-256 of its bytes, persisted exactly once
// per unique hash, and referenced from the message ledger by hash only.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yueye109/chatvault/internal/database"
)

// Kind selects the image or video side of the store.
type Kind = database.AssetKind

const (
	KindImage = database.AssetImage
	KindVideo = database.AssetVideo
)

// Store is the content-addressed asset store. Files live under the per-kind
// base directory in one subfolder per month bucket; rows live in the per-kind
// asset table.
type Store struct {
	db       database.Store
	imageDir string
	videoDir string
	logger   *slog.Logger
}

// NewStore creates the asset store, ensuring both base directories exist.
func NewStore(db database.Store, imageDir, videoDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{imageDir, videoDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}
	return &Store{
		db:       db,
		imageDir: imageDir,
		videoDir: videoDir,
		logger:   logger.With("component", "assets"),
	}, nil
}

func (s *Store) baseDir(kind Kind) string {
	if kind == KindVideo {
		return s.videoDir
	}
	return s.imageDir
}

// Put streams r into the store, returning the content hash. The stream is
// written to a temporary file while being hashed incrementally, so the full
// size never needs to be known in advance. month names the per-period
// subfolder the file lands in.
//
// Dedup contract: identical content stored twice, even concurrently, yields
// exactly one row and one physical file. The temporary file is moved into its
// hash-named final path before the row insert, so a crash between write and
// insert can only leave an orphaned file, never a row without a file.
func (s *Store) Put(ctx context.Context, kind Kind, r io.Reader, month string) (string, error) {
	dir := filepath.Join(s.baseDir(kind), month)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: failed to create %s: %v", ErrUnavailable, dir, err)
	}

	tmpPath := filepath.Join(dir, "tmp-"+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %v", ErrUnavailable, err)
	}

	hasher := sha256.New()
	header := make([]byte, 0, sniffLen)
	size := int64(0)

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(header) < sniffLen {
				take := sniffLen - len(header)
				if take > n {
					take = n
				}
				header = append(header, chunk[:take]...)
			}
			if _, err := f.Write(chunk); err != nil {
				f.Close()
				os.Remove(tmpPath)
				return "", fmt.Errorf("%w: failed to write temp file: %v", ErrUnavailable, err)
			}
			hasher.Write(chunk)
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("%w: failed to read stream: %v", ErrUnavailable, readErr)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: fsync failed: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: close failed: %v", ErrUnavailable, err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	finalPath := filepath.Join(dir, hash+detectExtension(kind, header))

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: atomic rename failed: %v", ErrUnavailable, err)
	}

	inserted, err := s.db.InsertAssetIfAbsent(ctx, kind, &database.Asset{
		Hash:        hash,
		FilePath:    finalPath,
		FileSize:    size,
		CreatedTime: time.Now().Format(database.TimeFormat),
	})
	if err != nil {
		// The renamed file must stay: for duplicate content the rename landed
		// on the path an existing row already points at, and removing it
		// would leave that row without a file. A file without a row is
		// harmless garbage; a row without a file is a broken archive.
		return "", fmt.Errorf("%w: failed to record asset: %v", ErrUnavailable, err)
	}

	if !inserted {
		// A row already existed, possibly inserted by a concurrent Put of the
		// same content. Keep that row's file; remove ours unless the rename
		// above already landed on the same path. When the lookup itself fails
		// the duplicate stays behind as an orphan, which is never served.
		existing, getErr := s.db.GetAsset(ctx, kind, hash)
		if getErr == nil && existing.FilePath != finalPath {
			os.Remove(finalPath)
			s.pruneDir(dir)
		}
		s.logger.DebugContext(ctx, "Duplicate content deduplicated",
			"kind", kind, "hash", hash)
	}

	return hash, nil
}

// Get resolves a hash to its asset row. Returns database.ErrNotFound for an
// unknown hash and ErrIntegrity if the row exists but the file is missing.
func (s *Store) Get(ctx context.Context, kind Kind, hash string) (*database.Asset, error) {
	asset, err := s.db.GetAsset(ctx, kind, hash)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(asset.FilePath); err != nil {
		s.logger.ErrorContext(ctx, "Asset row references a missing file",
			"kind", kind, "hash", hash, "path", asset.FilePath, "error", err)
		return nil, fmt.Errorf("%w: %s asset %s has no file at %s", ErrIntegrity, kind, hash, asset.FilePath)
	}
	return asset, nil
}

// Delete removes the asset row and its file. The row goes first: a crash in
// between leaves an orphaned file (harmless, never served) rather than a row
// pointing at nothing. The per-month subfolder is pruned when it empties.
func (s *Store) Delete(ctx context.Context, kind Kind, hash string) error {
	asset, err := s.db.GetAsset(ctx, kind, hash)
	if err != nil {
		return err
	}

	if err := s.db.DeleteAsset(ctx, kind, hash); err != nil {
		return err
	}

	if err := os.Remove(asset.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.WarnContext(ctx, "Failed to remove asset file",
			"kind", kind, "hash", hash, "path", asset.FilePath, "error", err)
		return nil
	}

	s.pruneDir(filepath.Dir(asset.FilePath))
	return nil
}

// pruneDir removes a per-month subfolder if it has emptied. Best-effort:
// a non-empty directory or racing writer just leaves it in place.
func (s *Store) pruneDir(dir string) {
	if dir == s.imageDir || dir == s.videoDir {
		return
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("Subfolder not pruned", "dir", dir, "error", err)
	}
}

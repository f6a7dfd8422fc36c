// Package store is the persistence boundary of the catalog. The core
// never issues raw SQL; everything goes through the Store interface.
package store

import (
	"context"
	"errors"

	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/track"
)

var ErrNotFound = errors.New("record not found")

// FileRecord is one persisted catalog entry.
type FileRecord struct {
	Path  string
	Mtime int64
	Metas *meta.Metas
}

// Store is the narrow interface the core consumes. Implementations wrap
// their own errors; callers treat any failure as a backing-store error.
type Store interface {
	// Files returns every persisted record.
	Files(ctx context.Context) ([]FileRecord, error)
	// FilesBy runs a full-text query and returns the matching records.
	FilesBy(ctx context.Context, phrase string) ([]FileRecord, error)
	// FilesUnder returns records whose path falls under the given prefix.
	FilesUnder(ctx context.Context, prefix string) ([]FileRecord, error)

	// Metas returns the stored record for path when its mtime still
	// matches, nil when absent or stale.
	Metas(ctx context.Context, path string, mtime int64) (*meta.Metas, error)
	PutMetas(ctx context.Context, path string, mtime int64, m *meta.Metas) error
	DeleteMetas(ctx context.Context, path string) error

	// ValidateFTS sanitizes a raw query fragment for the full-text engine.
	ValidateFTS(fragment string) string

	// GarbageFilesOutOfFolders deletes records whose path is under none of
	// the allowed folders and returns the removed paths.
	GarbageFilesOutOfFolders(ctx context.Context, folders []string) ([]string, error)

	track.TokenStore

	Close() error
}

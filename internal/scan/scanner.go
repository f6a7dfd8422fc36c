// Package scan drives catalog construction: it walks collection folders,
// extracts (or replays) metadata and feeds the hierarchy builder. A
// failure on one file never stops the scan of its siblings.
package scan

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/mediatree/internal/hierarchy"
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/store"
	"github.com/agentic-research/mediatree/internal/tree"
)

const metaCacheSize = 4096

var audioExt = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".oga": true,
	".m4a": true, ".m4b": true, ".aac": true, ".wav": true,
}

var videoExt = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".webm": true,
}

var imageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// Scanner walks a filesystem and builds one collection's hierarchy.
type Scanner struct {
	fs      billy.Filesystem
	st      store.Store
	reg     *tree.Registry
	builder *hierarchy.Builder
	extract meta.Extractor
	ignore  []glob.Glob
	cache   *lru.Cache[string, *meta.Metas]
}

// New creates a scanner. ignorePatterns are glob expressions matched
// against full paths.
func New(fs billy.Filesystem, st store.Store, reg *tree.Registry, builder *hierarchy.Builder, extract meta.Extractor, ignorePatterns []string) (*Scanner, error) {
	var ignore []glob.Glob
	for _, p := range ignorePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		ignore = append(ignore, g)
	}
	cache, err := lru.New[string, *meta.Metas](metaCacheSize)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		fs: fs, st: st, reg: reg, builder: builder,
		extract: extract, ignore: ignore, cache: cache,
	}, nil
}

// ScanFolder walks folder recursively, depth-first.
func (s *Scanner) ScanFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.scanDir(ctx, folder)
}

// ScanFolderCached replays previously persisted records for the folder
// instead of walking the filesystem; with nothing persisted yet it falls
// back to a real scan. The hierarchy construction is identical either
// way.
func (s *Scanner) ScanFolderCached(ctx context.Context, folder string) error {
	recs, err := s.st.FilesUnder(ctx, folder)
	if err != nil {
		return fmt.Errorf("load cached records: %w", err)
	}
	if len(recs) == 0 {
		return s.ScanFolder(ctx, folder)
	}
	for _, rec := range recs {
		item := &hierarchy.ItemData{Path: rec.Path, URL: fileURL(rec.Path), Metas: rec.Metas}
		if err := s.builder.Process(item); err != nil {
			log.Printf("scan: replay %s: %v", rec.Path, err)
		}
	}
	return nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	// Images and tracks surface in arbitrary order within one listing;
	// collect both and link when the directory is done.
	link := hierarchy.NewImageLink(s.reg)

	var subdirs []string
	for _, fi := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.fs.Join(dir, fi.Name())
		if s.ignored(path) {
			continue
		}
		if fi.IsDir() {
			subdirs = append(subdirs, path)
			continue
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case imageExt[ext]:
			link.AddImage(path)
		case audioExt[ext] || videoExt[ext]:
			leaf, err := s.processFile(ctx, path, fi.ModTime().Unix(), fi.Size())
			if err != nil {
				log.Printf("scan: %s: %v", path, err)
				continue
			}
			link.AddTrack(leaf)
		}
	}
	link.Link()

	for _, sub := range subdirs {
		if err := s.scanDir(ctx, sub); err != nil {
			log.Printf("scan: %v", err)
		}
	}
	return nil
}

// processFile resolves metadata (store, cache, then extraction) and
// hands the file to the builder. Returns the leaf item node.
func (s *Scanner) processFile(ctx context.Context, path string, mtime, size int64) (*tree.Node, error) {
	m, err := s.st.Metas(ctx, path, mtime)
	if err != nil {
		return nil, fmt.Errorf("load metas: %w", err)
	}
	if m == nil {
		cacheKey := fmt.Sprintf("%s@%d", path, mtime)
		if cached, ok := s.cache.Get(cacheKey); ok {
			m = cached
		} else {
			m, err = s.extractFile(path)
			if err != nil {
				return nil, err
			}
			m.Size = size
			s.cache.Add(cacheKey, m)
		}
		if err := s.st.PutMetas(ctx, path, mtime, m); err != nil {
			return nil, fmt.Errorf("persist metas: %w", err)
		}
	}

	item := &hierarchy.ItemData{Path: path, URL: fileURL(path), Metas: m}
	if err := s.builder.Process(item); err != nil {
		return nil, err
	}
	return item.Leaf(), nil
}

func (s *Scanner) extractFile(path string) (*meta.Metas, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := s.extract.Extract(path, f)
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}
	return m, nil
}

// RemoveFile drops a deleted file from the store and the tree.
func (s *Scanner) RemoveFile(ctx context.Context, path string) error {
	if err := s.st.DeleteMetas(ctx, path); err != nil {
		return err
	}
	n, err := s.reg.ByContentPath(path)
	if err != nil {
		return nil // never materialized
	}
	return s.reg.Remove(n.ID)
}

func (s *Scanner) ignored(path string) bool {
	for _, g := range s.ignore {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func fileURL(path string) string {
	return "file://" + filepath.ToSlash(path)
}

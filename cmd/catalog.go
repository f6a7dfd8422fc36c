package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/mediatree/api"
	"github.com/agentic-research/mediatree/internal/hierarchy"
	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/query"
	"github.com/agentic-research/mediatree/internal/scan"
	"github.com/agentic-research/mediatree/internal/store"
	"github.com/agentic-research/mediatree/internal/track"
	"github.com/agentic-research/mediatree/internal/tree"
)

// catalog bundles the wired core for one process: registry, tracker,
// backing store, per-collection scanners and the query engine.
type catalog struct {
	cfg      *api.Config
	reg      *tree.Registry
	st       *store.SQLite
	tracker  *track.Tracker
	engine   *query.Engine
	scanners map[string]*scan.Scanner
}

func loadConfig() (*api.Config, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".mediatree", "config.yaml")
	}
	return api.LoadConfig(path)
}

func openCatalog() (*catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	reg := tree.New()
	tracker := track.New(st, nil)
	reg.SetUpdateHook(func(n *tree.Node) { tracker.Stamp(n.ID) })
	tracker.Start(200 * time.Millisecond)

	c := &catalog{
		cfg:      cfg,
		reg:      reg,
		st:       st,
		tracker:  tracker,
		engine:   query.NewEngine(reg, st, tracker, labels.English),
		scanners: make(map[string]*scan.Scanner),
	}

	for _, col := range cfg.Collections {
		root, err := reg.CreateNode(tree.RootID, col.Name, "object.container", tree.CreateOptions{
			Kind:        tree.Container,
			Virtual:     true,
			DefaultSort: col.DefaultSort,
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("collection %s: %w", col.Name, err)
		}

		var (
			tasks     []hierarchy.Task
			itemClass string
		)
		switch col.Type {
		case api.Movies:
			tasks = hierarchy.MovieTasks()
			itemClass = "object.item.videoItem.movie"
		default:
			tasks = hierarchy.MusicTasks()
			itemClass = "object.item.audioItem.musicTrack"
		}
		builder := hierarchy.New(reg, labels.English, root.ID, itemClass, tasks)

		sc, err := scan.New(osfs.New("/"), st, reg, builder, meta.TagExtractor{}, col.Ignore)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("collection %s: %w", col.Name, err)
		}
		c.scanners[col.Name] = sc
	}
	return c, nil
}

// materialize replays persisted records so browse/search in a fresh
// process sees the full tree without re-reading media files.
func (c *catalog) materialize(ctx context.Context) error {
	for _, col := range c.cfg.Collections {
		sc := c.scanners[col.Name]
		for _, folder := range col.Folders {
			if err := sc.ScanFolderCached(ctx, folder); err != nil {
				return fmt.Errorf("collection %s: %w", col.Name, err)
			}
		}
	}
	return nil
}

// watchCollections runs one watcher per collection until ctx ends.
func watchCollections(ctx context.Context, c *catalog) error {
	errCh := make(chan error, len(c.cfg.Collections))
	for _, col := range c.cfg.Collections {
		w, err := scan.NewWatcher(c.scanners[col.Name], col.Folders)
		if err != nil {
			return fmt.Errorf("watch %s: %w", col.Name, err)
		}
		go func() { errCh <- w.Run(ctx) }()
	}
	return <-errCh
}

func (c *catalog) Close() error {
	c.tracker.Close()
	return c.st.Close()
}

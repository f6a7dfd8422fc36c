// Package api holds the public configuration surface of the catalog
// server: collections and where their media lives.
package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CollectionType selects the grouping rule set for a collection.
type CollectionType string

const (
	Music  CollectionType = "music"
	Movies CollectionType = "movies"
)

// Collection maps a set of media folders to one subtree of the catalog.
type Collection struct {
	// Name of the collection's root container.
	Name string `yaml:"name"`
	// Type picks the grouping hierarchy (music, movies).
	Type CollectionType `yaml:"type"`
	// Folders are the filesystem roots scanned into this collection.
	Folders []string `yaml:"folders"`
	// Ignore lists glob patterns for files/directories to skip.
	Ignore []string `yaml:"ignore,omitempty"`
	// DefaultSort is the sort criteria applied when a browse request
	// carries none, e.g. "+dc:title".
	DefaultSort string `yaml:"defaultSort,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	// Database is the path of the catalog database.
	Database string `yaml:"database"`
	// Collections served by this instance.
	Collections []Collection `yaml:"collections"`
}

// LoadConfig reads and validates a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i, c := range cfg.Collections {
		if c.Name == "" {
			return nil, fmt.Errorf("collection %d has no name", i)
		}
		if c.Type != Music && c.Type != Movies {
			return nil, fmt.Errorf("collection %s: unknown type %q", c.Name, c.Type)
		}
		if len(c.Folders) == 0 {
			return nil, fmt.Errorf("collection %s has no folders", c.Name)
		}
	}
	return &cfg, nil
}

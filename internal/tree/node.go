package tree

import (
	"errors"
	"fmt"

	"github.com/agentic-research/mediatree/internal/meta"
)

var (
	ErrNotFound        = errors.New("node not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("duplicate sibling title")

	// ErrDanglingReference wraps ErrNotFound: a dangling reference is a
	// NotFound as far as callers are concerned.
	ErrDanglingReference = fmt.Errorf("dangling reference: %w", ErrNotFound)
)

// Kind discriminates the three node shapes in the catalog tree.
type Kind uint8

const (
	Container Kind = iota
	Item
	Reference
)

func (k Kind) String() string {
	switch k {
	case Container:
		return "container"
	case Item:
		return "item"
	case Reference:
		return "reference"
	}
	return "unknown"
}

// RootID is the reserved id of the tree root.
const RootID int64 = 0

// Node is the universal tree entity: a real or virtual container, a leaf
// item backed by a content locator, or a reference standing in for an
// item/container placed elsewhere in the tree.
//
// Child order is the insertion order chosen by the builder. The derived
// byTitle/byPath indices keep find-or-create lookups O(1); they are
// maintained exclusively by the Registry.
type Node struct {
	ID       int64
	ParentID int64 // -1 only for the root
	Kind     Kind
	Class    string // upnp class tag, e.g. "object.container.album.musicAlbum"
	Virtual  bool   // synthesized grouping container, no filesystem backing
	Title    string

	// ContentPath is the locator for items backed by a file. References
	// inherit their target's path so rescans can find them among siblings.
	ContentPath string
	ContentURL  string

	RefID int64 // Reference only: id of the node this stands in for

	Attrs *meta.Metas

	// UpdateID bumps whenever this node's children or attributes change.
	UpdateID uint64

	// DefaultSort is the container's configured sort criteria, used when a
	// browse request carries none.
	DefaultSort string

	children []int64
	byTitle  map[string]int64
	byPath   map[string]int64
}

// ChildIDs returns the child id list in tree order. The returned slice is
// the node's own backing array; callers must not mutate it.
func (n *Node) ChildIDs() []int64 { return n.children }

func (n *Node) indexChild(c *Node, beforeID int64) {
	if n.byTitle == nil {
		n.byTitle = make(map[string]int64)
		n.byPath = make(map[string]int64)
	}
	n.byTitle[c.Title] = c.ID
	if c.ContentPath != "" {
		n.byPath[c.ContentPath] = c.ID
	}
	if beforeID != 0 {
		for i, id := range n.children {
			if id == beforeID {
				n.children = append(n.children, 0)
				copy(n.children[i+1:], n.children[i:])
				n.children[i] = c.ID
				return
			}
		}
	}
	n.children = append(n.children, c.ID)
}

func (n *Node) unindexChild(c *Node) {
	if n.byTitle != nil && n.byTitle[c.Title] == c.ID {
		delete(n.byTitle, c.Title)
	}
	if n.byPath != nil && c.ContentPath != "" && n.byPath[c.ContentPath] == c.ID {
		delete(n.byPath, c.ContentPath)
	}
	for i, id := range n.children {
		if id == c.ID {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

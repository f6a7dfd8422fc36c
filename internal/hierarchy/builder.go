// Package hierarchy turns one file's extracted attributes into the chain
// of virtual grouping containers declared by a collection's tasks, and
// attaches the leaf item exactly once — every later placement becomes a
// reference to that first item.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/tree"
)

// ItemData carries one file through the builder. The leaf node created by
// the first grouping path is remembered here so every later path
// references it instead of duplicating content.
type ItemData struct {
	Path  string
	URL   string
	Metas *meta.Metas

	leaf *tree.Node
}

// Leaf returns the item node after Process, nil before.
func (d *ItemData) Leaf() *tree.Node { return d.leaf }

// Builder constructs virtual hierarchies under one collection root.
// Concurrent Process calls for different files are safe: every sibling
// lookup/insert happens under the parent's advisory lock.
type Builder struct {
	reg       *tree.Registry
	labels    labels.Provider
	rootID    int64
	itemClass string
	tasks     []Task
}

func New(reg *tree.Registry, lab labels.Provider, rootID int64, itemClass string, tasks []Task) *Builder {
	return &Builder{reg: reg, labels: lab, rootID: rootID, itemClass: itemClass, tasks: tasks}
}

// Process places one file under every grouping task, in task order. A
// failure aborts only this file.
func (b *Builder) Process(item *ItemData) error {
	if item.Metas == nil {
		return fmt.Errorf("no metadata for %s: %w", item.Path, tree.ErrInvalidArgument)
	}
	for _, task := range b.tasks {
		root, err := b.findOrCreate(b.rootID, b.labels.Get(task.LabelKey), task.Class)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.LabelKey, err)
		}
		if err := b.descend(root, task.Levels, item); err != nil {
			return fmt.Errorf("task %s: %w", task.LabelKey, err)
		}
	}
	return nil
}

// descend walks the remaining levels below parent, fanning out over
// multi-valued levels, and places the leaf once the chain is exhausted.
func (b *Builder) descend(parent *tree.Node, levels []Level, item *ItemData) error {
	if len(levels) == 0 {
		return b.placeLeaf(parent, item)
	}
	lv := levels[0]
	values := lv.Values(item.Metas)
	if len(values) == 0 {
		values = []string{b.labels.Get(lv.UnknownKey)}
	}
	for _, title := range values {
		child, err := b.findOrCreate(parent.ID, title, lv.Class)
		if err != nil {
			return err
		}
		if err := b.descend(child, levels[1:], item); err != nil {
			return err
		}
	}
	return nil
}

// findOrCreate serializes on the parent's lock: of two concurrent scans
// discovering the same new grouping name, exactly one creates it.
func (b *Builder) findOrCreate(parentID int64, title, class string) (*tree.Node, error) {
	b.reg.TakeLock(parentID)
	defer b.reg.LeaveLock(parentID)

	parent, err := b.reg.ByID(parentID)
	if err != nil {
		return nil, err
	}
	if existing, ok := b.reg.ChildByTitle(parent, title); ok {
		if existing.Kind == tree.Container {
			return existing, nil
		}
		return nil, fmt.Errorf("%q is not a container: %w", title, tree.ErrConflict)
	}
	return b.reg.NewVirtualContainer(parentID, title, class)
}

// placeLeaf attaches the file under parent: the first placement creates
// the real item, later ones create references to it. A sibling already
// carrying this content locator is reused verbatim so node identity
// survives rescans.
func (b *Builder) placeLeaf(parent *tree.Node, item *ItemData) error {
	b.reg.TakeLock(parent.ID)
	defer b.reg.LeaveLock(parent.ID)

	if existing, ok := b.reg.ChildByContentPath(parent, item.Path); ok {
		if item.leaf == nil && existing.Kind == tree.Item {
			item.leaf = existing
		}
		return nil
	}

	title := item.Metas.Title
	if title == "" {
		title = meta.TitleFromPath(item.Path)
	}

	if item.leaf == nil {
		n, err := b.createDisambiguated(parent, title, func(t string) (*tree.Node, error) {
			return b.reg.CreateNode(parent.ID, t, b.itemClass, tree.CreateOptions{
				Kind:        tree.Item,
				ContentPath: item.Path,
				ContentURL:  item.URL,
				Attrs:       item.Metas,
			})
		})
		if err != nil {
			return err
		}
		item.leaf = n
		return nil
	}

	_, err := b.createDisambiguated(parent, title, func(t string) (*tree.Node, error) {
		return b.reg.CreateReference(parent.ID, item.leaf.ID, t)
	})
	return err
}

// createDisambiguated retries a title-conflicting insert with a numeric
// suffix. Distinct files may legitimately share a display title under one
// grouping folder.
func (b *Builder) createDisambiguated(parent *tree.Node, title string, create func(string) (*tree.Node, error)) (*tree.Node, error) {
	try := title
	for i := 2; ; i++ {
		n, err := create(try)
		if err == nil {
			return n, nil
		}
		if !isConflict(err) || i > len(parent.ChildIDs())+2 {
			return nil, err
		}
		try = fmt.Sprintf("%s (%d)", title, i)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, tree.ErrConflict)
}

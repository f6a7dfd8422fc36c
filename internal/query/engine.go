// Package query implements the browse/search surface of the catalog:
// BrowseMetadata, BrowseDirectChildren and Search, with pagination,
// multi-key locale-aware sorting and attribute filtering. The transport
// layer hands it already-parsed parameters and wraps its typed errors.
package query

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/store"
	"github.com/agentic-research/mediatree/internal/track"
	"github.com/agentic-research/mediatree/internal/tree"
)

// MaterializeFunc lets a repository populate a container's children on
// demand before they are listed.
type MaterializeFunc func(ctx context.Context, n *tree.Node) error

// Engine answers catalog queries against a registry, delegating
// full-text matching to the backing store.
type Engine struct {
	reg     *tree.Registry
	st      store.Store
	tracker *track.Tracker
	lab     labels.Provider

	// Materialize, when set, runs before a container's children are read.
	Materialize MaterializeFunc
}

func NewEngine(reg *tree.Registry, st store.Store, tracker *track.Tracker, lab labels.Provider) *Engine {
	return &Engine{reg: reg, st: st, tracker: tracker, lab: lab}
}

// Record is the rendered output representation of one node.
type Record struct {
	ID       int64
	ParentID int64
	RefID    int64 // 0 unless the node is a reference
	Kind     tree.Kind
	Title    string
	Fields   map[string]string
}

// Page is a browse/search result window.
type Page struct {
	Records      []Record
	Returned     int
	TotalMatches int
	// UpdateID is the queried container's update counter, or the system
	// revision when the root was queried.
	UpdateID uint64
}

// entry pairs a listed node with its reference target (itself for
// non-references); attributes are inherited through the link.
type entry struct {
	node     *tree.Node
	resolved *tree.Node
}

func (e entry) sortValue(field string) string {
	if field == "dc:title" {
		return e.node.Title
	}
	if e.resolved.Attrs != nil {
		return e.resolved.Attrs.Field(field)
	}
	return ""
}

// BrowseMetadata returns exactly one record for the object itself. A
// reference is resolved for attributes but reports its own id, parent
// and ref-id.
func (e *Engine) BrowseMetadata(ctx context.Context, objectID int64, filter Filter) (*Page, error) {
	n, err := e.reg.ByID(objectID)
	if err != nil {
		return nil, err
	}
	resolved, err := e.reg.ResolveLink(n)
	if err != nil {
		return nil, err
	}
	rec := e.render(entry{node: n, resolved: resolved}, filter)
	return &Page{
		Records:      []Record{rec},
		Returned:     1,
		TotalMatches: 1,
		UpdateID:     e.updateID(resolved),
	}, nil
}

// BrowseDirectChildren lists a container's children: rendered, sorted,
// then paginated. An out-of-range startingIndex yields an empty page;
// requestedCount <= 0 means no limit.
func (e *Engine) BrowseDirectChildren(ctx context.Context, objectID int64, filter Filter, startingIndex, requestedCount int, sortCriteria string) (*Page, error) {
	n, err := e.reg.ByID(objectID)
	if err != nil {
		return nil, err
	}
	resolved, err := e.reg.ResolveLink(n)
	if err != nil {
		return nil, err
	}
	if resolved.Kind != tree.Container {
		return nil, fmt.Errorf("object %d is a %s: %w", objectID, resolved.Kind, tree.ErrInvalidArgument)
	}
	if e.Materialize != nil {
		if err := e.Materialize(ctx, resolved); err != nil {
			return nil, fmt.Errorf("materialize %d: %w", resolved.ID, err)
		}
	}

	children, err := e.reg.ChildrenOf(n)
	if err != nil {
		return nil, err
	}
	entries := e.resolveEntries(children)

	keys, err := e.sortKeysFor(sortCriteria, resolved)
	if err != nil {
		return nil, err
	}
	newSorter(keys, e.lab).sortEntries(entries)

	return e.paginate(entries, filter, startingIndex, requestedCount, e.updateID(resolved)), nil
}

// Search filters the container's recursive child set by the parsed
// criteria: class acceptance AND (full-text hit OR direct title match),
// with repeated container titles shown once.
func (e *Engine) Search(ctx context.Context, containerID int64, criteria string, filter Filter, startingIndex, requestedCount int, sortCriteria string) (*Page, error) {
	n, err := e.reg.ByID(containerID)
	if err != nil {
		return nil, err
	}
	resolved, err := e.reg.ResolveLink(n)
	if err != nil {
		return nil, err
	}
	if resolved.Kind != tree.Container {
		return nil, fmt.Errorf("object %d is a %s: %w", containerID, resolved.Kind, tree.ErrInvalidArgument)
	}
	if e.Materialize != nil {
		if err := e.Materialize(ctx, resolved); err != nil {
			return nil, fmt.Errorf("materialize %d: %w", resolved.ID, err)
		}
	}

	pc, err := ParseCriteria(criteria)
	if err != nil {
		return nil, fmt.Errorf("search criteria: %w", err)
	}

	ftsPaths := make(map[string]bool)
	if pc.HasFieldClauses() {
		phrase := pc.FTSPhrase(e.st.ValidateFTS)
		if phrase != "" {
			recs, err := e.st.FilesBy(ctx, phrase)
			if err != nil {
				return nil, fmt.Errorf("full-text query: %w", err)
			}
			for _, rec := range recs {
				ftsPaths[rec.Path] = true
			}
		}
	}

	var (
		entries     []entry
		seenTitles  = make(map[string]bool)
		seenTargets = make(map[int64]bool)
	)
	e.walk(ctx, resolved, make(map[int64]bool), func(node, target *tree.Node) {
		if !pc.AcceptsClass(target.Class) {
			return
		}
		if pc.HasFieldClauses() {
			hit := target.ContentPath != "" && ftsPaths[target.ContentPath]
			if !hit && !pc.MatchesTitle(node.Title) {
				return
			}
		}
		// Same album reachable from two artists shows once; references
		// to one item collapse onto it.
		if target.Kind == tree.Container {
			if seenTitles[node.Title] {
				return
			}
			seenTitles[node.Title] = true
		} else {
			if seenTargets[target.ID] {
				return
			}
			seenTargets[target.ID] = true
		}
		entries = append(entries, entry{node: node, resolved: target})
	})

	keys, err := e.sortKeysFor(sortCriteria, resolved)
	if err != nil {
		return nil, err
	}
	newSorter(keys, e.lab).sortEntries(entries)

	return e.paginate(entries, filter, startingIndex, requestedCount, e.updateID(resolved)), nil
}

// walk visits every descendant of c depth-first, resolving references.
// Each container is materialized once before its children are read;
// visited guards against revisiting containers reachable through
// references. The caller materializes c itself.
func (e *Engine) walk(ctx context.Context, c *tree.Node, visited map[int64]bool, visit func(node, target *tree.Node)) {
	if visited[c.ID] {
		return
	}
	visited[c.ID] = true

	children, err := e.reg.ChildrenOf(c)
	if err != nil {
		log.Printf("walk %d: %v", c.ID, err)
		return
	}
	for _, child := range children {
		target, err := e.reg.ResolveLink(child)
		if err != nil {
			log.Printf("skip node %d: %v", child.ID, err)
			continue
		}
		visit(child, target)
		if target.Kind != tree.Container || visited[target.ID] {
			continue
		}
		if e.Materialize != nil {
			if err := e.Materialize(ctx, target); err != nil {
				log.Printf("materialize %d: %v", target.ID, err)
				continue
			}
		}
		e.walk(ctx, target, visited, visit)
	}
}

// resolveEntries renders child nodes to entries, skipping dangling
// references with a warning instead of failing the listing.
func (e *Engine) resolveEntries(children []*tree.Node) []entry {
	entries := make([]entry, 0, len(children))
	for _, c := range children {
		target, err := e.reg.ResolveLink(c)
		if err != nil {
			log.Printf("skip node %d: %v", c.ID, err)
			continue
		}
		entries = append(entries, entry{node: c, resolved: target})
	}
	return entries
}

// sortKeysFor resolves the effective sort order: explicit criteria, then
// the container's configured default, then the class default.
func (e *Engine) sortKeysFor(sortCriteria string, container *tree.Node) ([]sortKey, error) {
	keys, err := parseSortCriteria(sortCriteria)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		if keys, err = parseSortCriteria(container.DefaultSort); err != nil {
			return nil, err
		}
	}
	if keys == nil {
		keys = classDefaultSort(container.Class)
	}
	return keys, nil
}

func (e *Engine) paginate(entries []entry, filter Filter, start, count int, updateID uint64) *Page {
	total := len(entries)
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if count > 0 && start+count < total {
		end = start + count
	}

	page := &Page{TotalMatches: total, UpdateID: updateID}
	for _, en := range entries[start:end] {
		page.Records = append(page.Records, e.render(en, filter))
	}
	page.Returned = len(page.Records)
	return page
}

// updateID annotates results: the resolved node's own counter, or the
// system-wide revision for the root.
func (e *Engine) updateID(n *tree.Node) uint64 {
	if n.ID == tree.RootID {
		return e.tracker.Revision()
	}
	return n.UpdateID
}

// render produces a node's output representation. The filter callback is
// consulted once per serialized field, so class-specific projections need
// no engine knowledge.
func (e *Engine) render(en entry, filter Filter) Record {
	n, target := en.node, en.resolved
	rec := Record{
		ID:       n.ID,
		ParentID: n.ParentID,
		Kind:     n.Kind,
		Title:    n.Title,
		Fields:   make(map[string]string),
	}
	if n.Kind == tree.Reference {
		rec.RefID = n.RefID
	}

	add := func(field, value string) {
		if value != "" && filter.Allows(field) {
			rec.Fields[field] = value
		}
	}
	add("upnp:class", target.Class)
	add("res", target.ContentURL)
	if target.Attrs != nil {
		m := target.Attrs
		add("upnp:album", m.Field("upnp:album"))
		add("upnp:artist", m.Field("upnp:artist"))
		add("upnp:genre", m.Field("upnp:genre"))
		add("upnp:author", m.Field("upnp:author"))
		add("upnp:actor", m.Field("upnp:actor"))
		add("dc:date", m.Field("dc:date"))
		add("upnp:originalTrackNumber", m.Field("upnp:originalTrackNumber"))
		add("upnp:rating", m.Field("upnp:rating"))
		if len(m.Pictures) > 0 && m.Pictures[0].Path != "" {
			add("upnp:albumArtURI", m.Pictures[0].Path)
		}
		if m.Duration > 0 {
			add("res@duration", m.Duration.String())
		}
		if m.Size > 0 {
			add("res@size", strconv.FormatInt(m.Size, 10))
		}
	}
	return rec
}

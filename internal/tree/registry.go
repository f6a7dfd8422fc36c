package tree

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/mediatree/internal/meta"
)

// Registry owns node identity: it allocates ids, holds the arena, and
// maintains the by-id / by-content-path / by-title indices. Structural
// mutation goes through the registry; concurrent builders serialize on the
// per-node advisory lock (TakeLock/LeaveLock) before touching a parent's
// children.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[int64]*Node
	byPath map[string]int64
	// refsTo indexes target id -> bitmap of reference node ids, so that
	// removing an item cascades to every reference in O(k).
	refsTo map[int64]*roaring64.Bitmap
	nextID int64

	locks *lockTable

	hookMu   sync.Mutex
	onUpdate func(*Node)
}

// New creates a registry holding only the root container (id 0).
func New() *Registry {
	r := &Registry{
		nodes:  make(map[int64]*Node),
		byPath: make(map[string]int64),
		refsTo: make(map[int64]*roaring64.Bitmap),
		nextID: 1,
		locks:  newLockTable(),
	}
	r.nodes[RootID] = &Node{
		ID:       RootID,
		ParentID: -1,
		Kind:     Container,
		Virtual:  true,
		Class:    "object.container",
		Title:    "root",
	}
	return r
}

// SetUpdateHook installs the callback invoked after every structural or
// attribute mutation, with the node whose contents changed.
func (r *Registry) SetUpdateHook(fn func(*Node)) {
	r.hookMu.Lock()
	r.onUpdate = fn
	r.hookMu.Unlock()
}

// Root returns the tree root.
func (r *Registry) Root() *Node {
	n, _ := r.ByID(RootID)
	return n
}

// ByID is the O(1) arena lookup.
func (r *Registry) ByID(id int64) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// ByContentPath resolves a content locator to its item node.
func (r *Registry) ByContentPath(path string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPath[path]
	if !ok {
		return nil, fmt.Errorf("path %s: %w", path, ErrNotFound)
	}
	return r.nodes[id], nil
}

// ChildByTitle looks up a direct child by exact title match.
func (r *Registry) ChildByTitle(parent *Node, title string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := parent.byTitle[title]
	if !ok {
		return nil, false
	}
	n, ok := r.nodes[id]
	return n, ok
}

// ChildByContentPath looks up a direct child by its content locator.
func (r *Registry) ChildByContentPath(parent *Node, path string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := parent.byPath[path]
	if !ok {
		return nil, false
	}
	n, ok := r.nodes[id]
	return n, ok
}

// CreateOptions carries the optional parts of node creation.
type CreateOptions struct {
	Kind        Kind
	Virtual     bool
	ContentPath string
	ContentURL  string
	Attrs       *meta.Metas
	// Before inserts the new node before the given sibling id instead of
	// appending; 0 appends.
	Before int64
	// Replace atomically swaps out an existing same-titled sibling.
	Replace     bool
	DefaultSort string
	// RefID is the target id for Kind Reference. The target is
	// re-validated under the registry lock so the reference is complete
	// the instant it becomes visible.
	RefID int64
}

// CreateNode allocates, registers and attaches a new node under parentID.
// The id is assigned exactly once and never reused. A duplicate sibling
// title yields ErrConflict unless opts.Replace is set.
func (r *Registry) CreateNode(parentID int64, title, class string, opts CreateOptions) (*Node, error) {
	if title == "" {
		return nil, fmt.Errorf("empty title: %w", ErrInvalidArgument)
	}

	r.mu.Lock()
	parent, ok := r.nodes[parentID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("parent %d: %w", parentID, ErrNotFound)
	}
	if parent.Kind != Container {
		r.mu.Unlock()
		return nil, fmt.Errorf("parent %d is a %s: %w", parentID, parent.Kind, ErrInvalidArgument)
	}

	var replaced *Node
	if oldID, dup := parent.byTitle[title]; dup {
		if !opts.Replace {
			r.mu.Unlock()
			return nil, fmt.Errorf("%q under %d: %w", title, parentID, ErrConflict)
		}
		replaced = r.nodes[oldID]
	}

	var target *Node
	if opts.Kind == Reference {
		t, ok := r.nodes[opts.RefID]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("reference target %d: %w", opts.RefID, ErrNotFound)
		}
		if t.Kind == Reference {
			r.mu.Unlock()
			return nil, fmt.Errorf("reference to reference %d: %w", opts.RefID, ErrInvalidArgument)
		}
		target = t
	}

	n := &Node{
		ID:          r.nextID,
		ParentID:    parentID,
		Kind:        opts.Kind,
		Class:       class,
		Virtual:     opts.Virtual,
		Title:       title,
		ContentPath: opts.ContentPath,
		ContentURL:  opts.ContentURL,
		RefID:       opts.RefID,
		Attrs:       opts.Attrs,
		DefaultSort: opts.DefaultSort,
	}
	r.nextID++

	before := opts.Before
	if replaced != nil {
		before = replaced.ID
	}
	r.nodes[n.ID] = n
	// The global path index resolves to the real item; references carry
	// the path only for their parent's sibling index.
	if n.ContentPath != "" && n.Kind != Reference {
		r.byPath[n.ContentPath] = n.ID
	}
	parent.indexChild(n, before)
	if target != nil {
		bm := r.refsTo[target.ID]
		if bm == nil {
			bm = roaring64.New()
			r.refsTo[target.ID] = bm
		}
		bm.Add(uint64(n.ID))
	}
	var touched []*Node
	if replaced != nil {
		touched = r.removeLocked(replaced)
	}
	parent.UpdateID++
	r.mu.Unlock()

	for _, p := range touched {
		r.notify(p)
	}
	r.notify(parent)
	return n, nil
}

// NewVirtualContainer creates a synthesized grouping folder under parentID.
func (r *Registry) NewVirtualContainer(parentID int64, title, class string) (*Node, error) {
	return r.CreateNode(parentID, title, class, CreateOptions{Kind: Container, Virtual: true})
}

// CreateReference creates a node standing in for target at another tree
// location. The title defaults to the target's own. Chained references are
// rejected.
func (r *Registry) CreateReference(parentID, targetID int64, title string) (*Node, error) {
	r.mu.RLock()
	target, ok := r.nodes[targetID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("reference target %d: %w", targetID, ErrNotFound)
	}
	if target.Kind == Reference {
		return nil, fmt.Errorf("reference to reference %d: %w", targetID, ErrInvalidArgument)
	}
	if title == "" {
		title = target.Title
	}

	return r.CreateNode(parentID, title, target.Class, CreateOptions{
		Kind: Reference, RefID: targetID, ContentPath: target.ContentPath,
	})
}

// ResolveLink follows a reference to its target. Non-reference nodes
// resolve to themselves. A removed target yields ErrDanglingReference.
func (r *Registry) ResolveLink(n *Node) (*Node, error) {
	if n.Kind != Reference {
		return n, nil
	}
	r.mu.RLock()
	target, ok := r.nodes[n.RefID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node %d -> %d: %w", n.ID, n.RefID, ErrDanglingReference)
	}
	return target, nil
}

// ChildrenOf lists a container's children, resolving through a reference
// container transparently (browsing into a ref shows the target's
// children). Dangling references among the children are skipped.
func (r *Registry) ChildrenOf(n *Node) ([]*Node, error) {
	resolved, err := r.ResolveLink(n)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(resolved.children))
	for _, id := range resolved.children {
		if c, ok := r.nodes[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Remove unregisters the node and its subtree, cascading to every
// reference node that points at a removed node.
func (r *Registry) Remove(id int64) error {
	if id == RootID {
		return fmt.Errorf("root is permanent: %w", ErrInvalidArgument)
	}
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	parent := r.nodes[n.ParentID]
	touched := r.removeLocked(n)
	if parent != nil {
		parent.UpdateID++
		touched = append(touched, parent)
	}
	r.mu.Unlock()

	for _, p := range touched {
		r.notify(p)
	}
	return nil
}

// removeLocked deletes n, its subtree, and all references to any deleted
// node. Caller holds r.mu. Returns the parents of cascade-removed
// references so the caller can notify after unlocking.
func (r *Registry) removeLocked(n *Node) []*Node {
	var touched []*Node
	for _, childID := range append([]int64(nil), n.children...) {
		if c, ok := r.nodes[childID]; ok {
			touched = append(touched, r.removeLocked(c)...)
		}
	}

	delete(r.nodes, n.ID)
	if n.ContentPath != "" && r.byPath[n.ContentPath] == n.ID {
		delete(r.byPath, n.ContentPath)
	}
	if parent, ok := r.nodes[n.ParentID]; ok {
		parent.unindexChild(n)
	}
	if n.Kind == Reference {
		if bm := r.refsTo[n.RefID]; bm != nil {
			bm.Remove(uint64(n.ID))
			if bm.IsEmpty() {
				delete(r.refsTo, n.RefID)
			}
		}
	}

	// Cascade: references to this node lose their target.
	if bm := r.refsTo[n.ID]; bm != nil {
		delete(r.refsTo, n.ID)
		it := bm.Iterator()
		for it.HasNext() {
			refID := int64(it.Next())
			ref, ok := r.nodes[refID]
			if !ok {
				continue
			}
			refParent := r.nodes[ref.ParentID]
			touched = append(touched, r.removeLocked(ref)...)
			if refParent != nil {
				refParent.UpdateID++
				touched = append(touched, refParent)
			}
		}
	}
	return touched
}

// RefreshAttrs replaces a node's attribute bag and stamps its update id.
// This is the deliberate metadata-refresh path; plain rescans reuse nodes
// without touching attributes.
func (r *Registry) RefreshAttrs(id int64, m *meta.Metas) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	n.Attrs = m
	n.UpdateID++
	r.mu.Unlock()

	r.notify(n)
	return nil
}

// TakeLock acquires the node's advisory FIFO lock. It never fails; it
// waits until every earlier taker has left.
func (r *Registry) TakeLock(id int64) { r.locks.take(id) }

// LeaveLock releases the node's advisory lock, waking the next waiter.
func (r *Registry) LeaveLock(id int64) { r.locks.leave(id) }

// GarbageCollector is the narrow backing-store view folder cleanup needs.
type GarbageCollector interface {
	GarbageFilesOutOfFolders(ctx context.Context, folders []string) ([]string, error)
}

// GarbageOutsideFolders removes catalog entries whose content path is no
// longer under any allowed folder, both from the backing store and from
// the tree. It returns the removed paths.
func (r *Registry) GarbageOutsideFolders(ctx context.Context, gc GarbageCollector, allowed []string) ([]string, error) {
	paths, err := gc.GarbageFilesOutOfFolders(ctx, allowed)
	if err != nil {
		return nil, fmt.Errorf("garbage files: %w", err)
	}
	for _, p := range paths {
		n, err := r.ByContentPath(p)
		if err != nil {
			continue // never materialized in this registry
		}
		_ = r.Remove(n.ID)
	}
	return paths, nil
}

// PathIsUnder reports whether path falls under folder (prefix match on
// path separators).
func PathIsUnder(path, folder string) bool {
	if path == folder {
		return true
	}
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	return strings.HasPrefix(path, folder)
}

func (r *Registry) notify(n *Node) {
	r.hookMu.Lock()
	fn := r.onUpdate
	r.hookMu.Unlock()
	if fn != nil {
		fn(n)
	}
}

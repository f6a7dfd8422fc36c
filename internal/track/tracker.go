// Package track maintains the catalog's revision state: a global counter,
// per-container stamps, coalesced change events, and the persisted
// content-change token clients use for incremental sync.
package track

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change is one entry of the persisted content-change log.
type Change struct {
	Token int64
	Op    string // "add", "update" or "delete"
	Path  string
}

// TokenStore is the backing-store slice the tracker needs: token
// persistence and the change log keyed by token.
type TokenStore interface {
	LastContentToken(ctx context.Context) (int64, error)
	MintContentToken(ctx context.Context) (int64, error)
	ContentChanges(ctx context.Context, since int64) ([]Change, error)
}

// ContainerUpdate pairs a container with the global revision at which it
// last changed.
type ContainerUpdate struct {
	ContainerID int64
	Revision    uint64
}

// Event is one coalesced batch of container updates. Many rapid mutations
// inside one tick interval collapse into a single event.
type Event struct {
	SID     string
	Updates []ContainerUpdate
}

// Tracker stamps containers with a monotonically increasing global
// revision and emits batched notifications.
//
// Emission is moderated the same way the flush side is: Stamp marks state
// dirty and a ticker goroutine drains at most once per interval, so event
// rate is bounded independent of mutation rate.
type Tracker struct {
	store TokenStore
	emit  func(Event)

	mu         sync.Mutex
	revision   uint64
	containers map[int64]uint64 // container id -> revision of last change
	dirty      map[int64]uint64 // pending stamps since last drain

	tick    *time.Ticker
	stopCh  chan struct{}
	stopped bool

	token        int64
	tokenMinted  bool
	tokenHanded  bool
	mutatedSince bool
}

// New creates a tracker. emit may be nil when nobody listens for events.
func New(store TokenStore, emit func(Event)) *Tracker {
	return &Tracker{
		store:      store,
		emit:       emit,
		containers: make(map[int64]uint64),
		dirty:      make(map[int64]uint64),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the coalescing goroutine. Safe to call once.
func (t *Tracker) Start(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tick != nil {
		return
	}
	t.tick = time.NewTicker(interval)
	go t.coalesceLoop()
}

func (t *Tracker) coalesceLoop() {
	for {
		select {
		case <-t.tick.C:
			t.drain()
		case <-t.stopCh:
			return
		}
	}
}

// Stamp records a mutation of the given container: the global revision
// advances and the container is stamped with the new value.
func (t *Tracker) Stamp(containerID int64) {
	t.mu.Lock()
	t.revision++
	t.containers[containerID] = t.revision
	t.dirty[containerID] = t.revision
	t.mutatedSince = true
	t.mu.Unlock()
}

// Revision returns the current global revision.
func (t *Tracker) Revision() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

// ContainerRevision returns the revision at which the container last
// changed, 0 if it never did.
func (t *Tracker) ContainerRevision(id int64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.containers[id]
}

// drain flushes accumulated stamps into a single event.
func (t *Tracker) drain() {
	t.mu.Lock()
	if len(t.dirty) == 0 || t.emit == nil {
		t.mu.Unlock()
		return
	}
	pending := t.dirty
	t.dirty = make(map[int64]uint64)
	emit := t.emit
	t.mu.Unlock()

	updates := make([]ContainerUpdate, 0, len(pending))
	for id, rev := range pending {
		updates = append(updates, ContainerUpdate{ContainerID: id, Revision: rev})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Revision < updates[j].Revision })
	emit(Event{SID: uuid.NewString(), Updates: updates})
}

// Close stops the coalescing goroutine and drains any pending stamps.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.tick != nil {
		t.tick.Stop()
		close(t.stopCh)
	}
	t.mu.Unlock()
	t.drain()
}

// CurrentToken returns the content-change token a sync client should hold.
// The first caller mints one lazily; once a token has been handed out and
// a later mutation arrives, the next caller gets a freshly minted token so
// two sessions never share a token whose meaning changed.
func (t *Tracker) CurrentToken(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tokenMinted {
		last, err := t.store.LastContentToken(ctx)
		if err != nil {
			return 0, fmt.Errorf("load content token: %w", err)
		}
		t.token = last
		t.tokenMinted = true
		if last == 0 {
			tok, err := t.store.MintContentToken(ctx)
			if err != nil {
				return 0, fmt.Errorf("mint content token: %w", err)
			}
			t.token = tok
		}
		t.mutatedSince = false
	} else if t.tokenHanded && t.mutatedSince {
		tok, err := t.store.MintContentToken(ctx)
		if err != nil {
			return 0, fmt.Errorf("mint content token: %w", err)
		}
		t.token = tok
		t.mutatedSince = false
	}
	t.tokenHanded = true
	return t.token, nil
}

// ChangesSince enumerates the content changes recorded after the given
// token.
func (t *Tracker) ChangesSince(ctx context.Context, token int64) ([]Change, error) {
	return t.store.ContentChanges(ctx, token)
}

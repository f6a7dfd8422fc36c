package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/store"
	"github.com/agentic-research/mediatree/internal/track"
	"github.com/agentic-research/mediatree/internal/tree"
)

// qfix wires a registry, an in-memory store and an engine around a small
// music tree:
//
//	By Album / OK Computer / {Airbag, Paranoid Android, Karma Police}
//	By Artist / Radiohead / -> OK Computer, -> Paranoid Android
type qfix struct {
	reg     *tree.Registry
	st      *store.SQLite
	tracker *track.Tracker
	eng     *Engine

	album *tree.Node
	items []*tree.Node
}

func setupEngine(t *testing.T) *qfix {
	t.Helper()

	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := tree.New()
	tracker := track.New(st, nil)
	reg.SetUpdateHook(func(n *tree.Node) { tracker.Stamp(n.ID) })
	t.Cleanup(func() {
		tracker.Close()
		_ = st.Close()
	})

	f := &qfix{
		reg:     reg,
		st:      st,
		tracker: tracker,
		eng:     NewEngine(reg, st, tracker, labels.English),
	}

	byAlbum := f.container(t, tree.RootID, "By Album", "object.container")
	f.album = f.container(t, byAlbum.ID, "OK Computer", "object.container.album.musicAlbum")
	tracks := []struct {
		title string
		num   int
	}{
		{"Airbag", 1},
		{"Paranoid Android", 2},
		{"Karma Police", 6},
	}
	for _, tr := range tracks {
		path := fmt.Sprintf("/m/ok/%02d.mp3", tr.num)
		m := &meta.Metas{
			Title: tr.title, Album: "OK Computer",
			Artists: []string{"Radiohead"}, Track: tr.num, Year: 1997,
		}
		item, err := reg.CreateNode(f.album.ID, tr.title, "object.item.audioItem.musicTrack", tree.CreateOptions{
			Kind: tree.Item, ContentPath: path, ContentURL: "file://" + path, Attrs: m,
		})
		if err != nil {
			t.Fatalf("create item %q: %v", tr.title, err)
		}
		if err := st.PutMetas(context.Background(), path, 1, m); err != nil {
			t.Fatalf("persist %q: %v", tr.title, err)
		}
		f.items = append(f.items, item)
	}

	byArtist := f.container(t, tree.RootID, "By Artist", "object.container")
	artist := f.container(t, byArtist.ID, "Radiohead", "object.container.person.musicArtist")
	if _, err := reg.CreateReference(artist.ID, f.album.ID, ""); err != nil {
		t.Fatalf("album reference: %v", err)
	}
	if _, err := reg.CreateReference(artist.ID, f.items[1].ID, ""); err != nil {
		t.Fatalf("item reference: %v", err)
	}
	return f
}

func (f *qfix) container(t *testing.T, parentID int64, title, class string) *tree.Node {
	t.Helper()
	n, err := f.reg.CreateNode(parentID, title, class, tree.CreateOptions{Kind: tree.Container, Virtual: true})
	if err != nil {
		t.Fatalf("create container %q: %v", title, err)
	}
	return n
}

func recordTitles(page *Page) []string {
	out := make([]string, 0, len(page.Records))
	for _, r := range page.Records {
		out = append(out, r.Title)
	}
	return out
}

func TestBrowseMetadata(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	page, err := f.eng.BrowseMetadata(ctx, f.items[0].ID, ParseFilter("*"))
	if err != nil {
		t.Fatalf("BrowseMetadata returned error: %v", err)
	}
	if page.Returned != 1 || page.TotalMatches != 1 {
		t.Errorf("page counts = %d/%d, want 1/1", page.Returned, page.TotalMatches)
	}
	rec := page.Records[0]
	if rec.ID != f.items[0].ID || rec.Title != "Airbag" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Fields["upnp:class"] != "object.item.audioItem.musicTrack" {
		t.Errorf("class field = %q", rec.Fields["upnp:class"])
	}
	if rec.Fields["upnp:artist"] != "Radiohead" {
		t.Errorf("artist field = %q", rec.Fields["upnp:artist"])
	}
	if rec.Fields["dc:date"] != "1997" {
		t.Errorf("date field = %q", rec.Fields["dc:date"])
	}
}

func TestBrowseMetadataOfReference(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	// The item reference under the artist container.
	artist, _ := f.reg.ChildByTitle(mustNode(t, f.reg, tree.RootID, "By Artist"), "Radiohead")
	ref, ok := f.reg.ChildByTitle(artist, "Paranoid Android")
	if !ok {
		t.Fatal("item reference missing")
	}

	page, err := f.eng.BrowseMetadata(ctx, ref.ID, ParseFilter("*"))
	if err != nil {
		t.Fatalf("BrowseMetadata returned error: %v", err)
	}
	rec := page.Records[0]
	if rec.ID != ref.ID {
		t.Errorf("record id = %d, want the reference's own %d", rec.ID, ref.ID)
	}
	if rec.RefID != f.items[1].ID {
		t.Errorf("ref id = %d, want target %d", rec.RefID, f.items[1].ID)
	}
	// Attributes come through the link.
	if rec.Fields["upnp:album"] != "OK Computer" {
		t.Errorf("album field = %q", rec.Fields["upnp:album"])
	}
}

func mustNode(t *testing.T, reg *tree.Registry, parentID int64, title string) *tree.Node {
	t.Helper()
	parent, err := reg.ByID(parentID)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := reg.ChildByTitle(parent, title)
	if !ok {
		t.Fatalf("no child %q under %d", title, parentID)
	}
	return n
}

func TestBrowseDirectChildrenSortsByClassDefault(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	// Album class default: track number, then title.
	page, err := f.eng.BrowseDirectChildren(ctx, f.album.ID, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("BrowseDirectChildren returned error: %v", err)
	}
	want := []string{"Airbag", "Paranoid Android", "Karma Police"}
	got := recordTitles(page)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if page.UpdateID != f.album.UpdateID {
		t.Errorf("update id = %d, want container's %d", page.UpdateID, f.album.UpdateID)
	}

	// Explicit criteria override the default.
	page, err = f.eng.BrowseDirectChildren(ctx, f.album.ID, ParseFilter("*"), 0, 0, "-dc:title")
	if err != nil {
		t.Fatal(err)
	}
	if got := recordTitles(page); got[0] != "Paranoid Android" {
		t.Errorf("descending title order = %v", got)
	}
}

func TestBrowsePagination(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	bulk := f.container(t, tree.RootID, "Bulk", "object.container")
	for i := 1; i <= 25; i++ {
		if _, err := f.reg.CreateNode(bulk.ID, fmt.Sprintf("Track %02d", i), "object.item.audioItem.musicTrack", tree.CreateOptions{
			Kind: tree.Item, ContentPath: fmt.Sprintf("/m/bulk/%02d.mp3", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.eng.BrowseDirectChildren(ctx, bulk.ID, ParseFilter("*"), 20, 10, "")
	if err != nil {
		t.Fatalf("BrowseDirectChildren returned error: %v", err)
	}
	if page.Returned != 5 || page.TotalMatches != 25 {
		t.Errorf("page counts = %d/%d, want 5/25", page.Returned, page.TotalMatches)
	}
	if page.Records[0].Title != "Track 21" {
		t.Errorf("first record = %q, want Track 21", page.Records[0].Title)
	}

	// Out-of-range start yields an empty page, not an error.
	page, err = f.eng.BrowseDirectChildren(ctx, bulk.ID, ParseFilter("*"), 100, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if page.Returned != 0 || page.TotalMatches != 25 {
		t.Errorf("page counts = %d/%d, want 0/25", page.Returned, page.TotalMatches)
	}

	// count <= 0 means unlimited.
	page, err = f.eng.BrowseDirectChildren(ctx, bulk.ID, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if page.Returned != 25 {
		t.Errorf("unlimited count returned %d, want 25", page.Returned)
	}
}

func TestBrowseThroughReferenceContainer(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	artist := mustNode(t, f.reg, mustNode(t, f.reg, tree.RootID, "By Artist").ID, "Radiohead")
	ref, ok := f.reg.ChildByTitle(artist, "OK Computer")
	if !ok {
		t.Fatal("album reference missing")
	}

	page, err := f.eng.BrowseDirectChildren(ctx, ref.ID, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("BrowseDirectChildren returned error: %v", err)
	}
	if page.TotalMatches != 3 {
		t.Errorf("matches = %d, want target's 3 children", page.TotalMatches)
	}
	if page.UpdateID != f.album.UpdateID {
		t.Errorf("update id = %d, want target container's %d", page.UpdateID, f.album.UpdateID)
	}
}

func TestBrowseErrors(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	if _, err := f.eng.BrowseDirectChildren(ctx, 9999, ParseFilter("*"), 0, 0, ""); !errors.Is(err, tree.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := f.eng.BrowseDirectChildren(ctx, f.items[0].ID, ParseFilter("*"), 0, 0, ""); !errors.Is(err, tree.ErrInvalidArgument) {
		t.Errorf("item children error = %v, want ErrInvalidArgument", err)
	}
}

func TestBrowseRootReportsSystemRevision(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	page, err := f.eng.BrowseDirectChildren(ctx, tree.RootID, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if page.UpdateID != f.tracker.Revision() {
		t.Errorf("root update id = %d, want system revision %d", page.UpdateID, f.tracker.Revision())
	}
}

func TestBrowseInvokesMaterialize(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	var materialized []int64
	f.eng.Materialize = func(ctx context.Context, n *tree.Node) error {
		materialized = append(materialized, n.ID)
		return nil
	}
	if _, err := f.eng.BrowseDirectChildren(ctx, f.album.ID, ParseFilter("*"), 0, 0, ""); err != nil {
		t.Fatal(err)
	}
	if len(materialized) != 1 || materialized[0] != f.album.ID {
		t.Errorf("materialize calls = %v, want [%d]", materialized, f.album.ID)
	}
}

func TestSearchInvokesMaterialize(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	var materialized []int64
	f.eng.Materialize = func(ctx context.Context, n *tree.Node) error {
		materialized = append(materialized, n.ID)
		return nil
	}
	if _, err := f.eng.Search(ctx, tree.RootID, "*", ParseFilter("*"), 0, 0, ""); err != nil {
		t.Fatal(err)
	}

	seen := make(map[int64]int)
	for _, id := range materialized {
		seen[id]++
	}
	if seen[tree.RootID] != 1 {
		t.Errorf("root materialized %d times, want 1 (calls %v)", seen[tree.RootID], materialized)
	}
	if seen[f.album.ID] != 1 {
		t.Errorf("album materialized %d times, want 1 (calls %v)", seen[f.album.ID], materialized)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("container %d materialized %d times", id, n)
		}
	}
}

func TestSearchByClassDedupsReferences(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	page, err := f.eng.Search(ctx, tree.RootID,
		`upnp:class derivedfrom "object.item.audioItem"`, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	// Three items; the reference to Paranoid Android collapses onto it.
	if page.TotalMatches != 3 {
		t.Errorf("matches = %d (%v), want 3", page.TotalMatches, recordTitles(page))
	}
}

func TestSearchContainerTitleShownOnce(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	// "OK Computer" is reachable under By Album and via the artist
	// reference; one result.
	page, err := f.eng.Search(ctx, tree.RootID,
		`(upnp:class derivedfrom "object.container") and (dc:title contains "comput")`,
		ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if page.TotalMatches != 1 || page.Records[0].Title != "OK Computer" {
		t.Errorf("results = %v, want [OK Computer]", recordTitles(page))
	}
}

func TestSearchFullText(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	page, err := f.eng.Search(ctx, tree.RootID,
		`upnp:artist contains "radiohead"`, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if page.TotalMatches != 3 {
		t.Errorf("matches = %d (%v), want all 3 indexed tracks", page.TotalMatches, recordTitles(page))
	}

	page, err = f.eng.Search(ctx, tree.RootID,
		`dc:title contains "karma"`, ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalMatches != 1 || page.Records[0].Title != "Karma Police" {
		t.Errorf("results = %v, want [Karma Police]", recordTitles(page))
	}
}

func TestSearchScopedToSubtree(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	byArtist := mustNode(t, f.reg, tree.RootID, "By Artist")
	page, err := f.eng.Search(ctx, byArtist.ID, "*", ParseFilter("*"), 0, 0, "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	for _, title := range recordTitles(page) {
		if title == "By Album" {
			t.Error("search escaped the requested subtree")
		}
	}
}

func TestSearchBadCriteria(t *testing.T) {
	ctx := context.Background()
	f := setupEngine(t)

	_, err := f.eng.Search(ctx, tree.RootID, `dc:title exists true`, ParseFilter("*"), 0, 0, "")
	if !errors.Is(err, tree.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

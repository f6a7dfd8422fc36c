package tests

import (
	"context"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/mediatree/internal/hierarchy"
	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/agentic-research/mediatree/internal/query"
	"github.com/agentic-research/mediatree/internal/scan"
	"github.com/agentic-research/mediatree/internal/store"
	"github.com/agentic-research/mediatree/internal/track"
	"github.com/agentic-research/mediatree/internal/tree"
)

// testFixture bundles the fully wired catalog for integration tests: an
// in-memory filesystem holding a small music library, the SQLite/bleve
// store, registry, tracker, scanner and query engine.
type testFixture struct {
	fs      billy.Filesystem
	st      *store.SQLite
	reg     *tree.Registry
	tracker *track.Tracker
	sc      *scan.Scanner
	eng     *query.Engine
}

// libraryMetas is the canned metadata the stub extractor serves, keyed by
// content path.
var libraryMetas = map[string]*meta.Metas{
	"/srv/music/radiohead/ok computer/01.mp3": {
		Title: "Airbag", Album: "OK Computer",
		Artists: []string{"Radiohead"}, Genres: []string{"Rock"}, Track: 1, Year: 1997,
	},
	"/srv/music/radiohead/ok computer/02.mp3": {
		Title: "Paranoid Android", Album: "OK Computer",
		Artists: []string{"Radiohead"}, Genres: []string{"Rock"}, Track: 2, Year: 1997,
	},
	"/srv/music/beatles/abbey road/01.mp3": {
		Title: "Come Together", Album: "Abbey Road",
		Artists: []string{"The Beatles"}, Genres: []string{"Rock"}, Track: 1, Year: 1969,
	},
}

type stubExtractor struct{}

func (stubExtractor) Extract(path string, r io.ReadSeeker) (*meta.Metas, error) {
	if m, ok := libraryMetas[path]; ok {
		return m.Clone(), nil
	}
	return &meta.Metas{Title: meta.TitleFromPath(path)}, nil
}

func setup(t *testing.T) *testFixture {
	t.Helper()

	fs := memfs.New()
	for path := range libraryMetas {
		require.NoError(t, util.WriteFile(fs, path, []byte("media"), 0o644))
	}
	require.NoError(t, util.WriteFile(fs, "/srv/music/radiohead/ok computer/cover.jpg", []byte("img"), 0o644))

	st, err := store.OpenMemory()
	require.NoError(t, err)

	reg := tree.New()
	tracker := track.New(st, nil)
	reg.SetUpdateHook(func(n *tree.Node) { tracker.Stamp(n.ID) })
	t.Cleanup(func() {
		tracker.Close()
		_ = st.Close()
	})

	root, err := reg.CreateNode(tree.RootID, "music", "object.container", tree.CreateOptions{
		Kind: tree.Container, Virtual: true,
	})
	require.NoError(t, err)
	builder := hierarchy.New(reg, labels.English, root.ID, "object.item.audioItem.musicTrack", hierarchy.MusicTasks())

	sc, err := scan.New(fs, st, reg, builder, stubExtractor{}, nil)
	require.NoError(t, err)

	return &testFixture{
		fs:      fs,
		st:      st,
		reg:     reg,
		tracker: tracker,
		sc:      sc,
		eng:     query.NewEngine(reg, st, tracker, labels.English),
	}
}

func child(t *testing.T, f *testFixture, parent *tree.Node, title string) *tree.Node {
	t.Helper()
	n, ok := f.reg.ChildByTitle(parent, title)
	require.True(t, ok, "child %q under %q", title, parent.Title)
	return n
}

func TestScanBrowseSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	// Descend music / By Artist / Radiohead / OK Computer.
	music := child(t, f, f.reg.Root(), "music")
	byArtist := child(t, f, music, "By Artist")
	radiohead := child(t, f, byArtist, "Radiohead")
	album := child(t, f, radiohead, "OK Computer")

	page, err := f.eng.BrowseDirectChildren(ctx, album.ID, query.ParseFilter("*"), 0, 0, "")
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalMatches)
	// Album class default sort: track number order.
	assert.Equal(t, "Airbag", page.Records[0].Title)
	assert.Equal(t, "Paranoid Android", page.Records[1].Title)
	assert.Equal(t, "object.item.audioItem.musicTrack", page.Records[0].Fields["upnp:class"])
	assert.Equal(t, "/srv/music/radiohead/ok computer/cover.jpg", page.Records[0].Fields["upnp:albumArtURI"])

	// The artist placement is a reference; the real item lives under By
	// Album.
	assert.NotZero(t, page.Records[0].RefID)

	// Search the whole catalog for audio items matching an artist.
	page, err = f.eng.Search(ctx, tree.RootID,
		`(upnp:class derivedfrom "object.item.audioItem") and (upnp:artist contains "beatles")`,
		query.ParseFilter("*"), 0, 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalMatches)
	assert.Equal(t, "Come Together", page.Records[0].Title)

	// Virtual containers match on their titles.
	page, err = f.eng.Search(ctx, tree.RootID,
		`(upnp:class derivedfrom "object.container") and (dc:title contains "abbey")`,
		query.ParseFilter("*"), 0, 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalMatches)
	assert.Equal(t, "Abbey Road", page.Records[0].Title)
}

func TestRescanKeepsNodeIdentity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	before, err := f.reg.ByContentPath("/srv/music/radiohead/ok computer/02.mp3")
	require.NoError(t, err)

	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))
	after, err := f.reg.ByContentPath("/srv/music/radiohead/ok computer/02.mp3")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "rescan must reuse the existing node")
}

func TestFreshProcessReplaysFromStore(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	// A second process: same store, empty filesystem, fresh tree.
	reg := tree.New()
	root, err := reg.CreateNode(tree.RootID, "music", "object.container", tree.CreateOptions{
		Kind: tree.Container, Virtual: true,
	})
	require.NoError(t, err)
	builder := hierarchy.New(reg, labels.English, root.ID, "object.item.audioItem.musicTrack", hierarchy.MusicTasks())
	sc, err := scan.New(memfs.New(), f.st, reg, builder, stubExtractor{}, nil)
	require.NoError(t, err)

	require.NoError(t, sc.ScanFolderCached(ctx, "/srv/music"))
	item, err := reg.ByContentPath("/srv/music/beatles/abbey road/01.mp3")
	require.NoError(t, err)
	assert.Equal(t, "Come Together", item.Attrs.Title)
}

func TestContentChangeTokens(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	tok, err := f.tracker.CurrentToken(ctx)
	require.NoError(t, err)

	// Nothing changed since the token was handed out.
	changes, err := f.tracker.ChangesSince(ctx, tok)
	require.NoError(t, err)
	assert.Empty(t, changes)

	// A removal shows up under a later token.
	require.NoError(t, f.sc.RemoveFile(ctx, "/srv/music/beatles/abbey road/01.mp3"))
	changes, err = f.tracker.ChangesSince(ctx, tok)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "delete", changes[0].Op)
	assert.Equal(t, "/srv/music/beatles/abbey road/01.mp3", changes[0].Path)

	// The next session gets a fresh token covering the removal.
	tok2, err := f.tracker.CurrentToken(ctx)
	require.NoError(t, err)
	assert.Greater(t, tok2, tok)
}

func TestRemovalCascadesThroughCatalog(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	require.NoError(t, f.sc.RemoveFile(ctx, "/srv/music/beatles/abbey road/01.mp3"))

	// Gone from browse results under every grouping.
	music := child(t, f, f.reg.Root(), "music")
	byArtist := child(t, f, music, "By Artist")
	beatles := child(t, f, byArtist, "The Beatles")
	album := child(t, f, beatles, "Abbey Road")

	page, err := f.eng.BrowseDirectChildren(ctx, album.ID, query.ParseFilter("*"), 0, 0, "")
	require.NoError(t, err)
	assert.Zero(t, page.TotalMatches)

	// Gone from search, both full-text and class walks.
	page, err = f.eng.Search(ctx, tree.RootID,
		`upnp:artist contains "beatles"`, query.ParseFilter("*"), 0, 0, "")
	require.NoError(t, err)
	assert.Zero(t, page.TotalMatches)
}

func TestGarbageCollectOutsideFolders(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.sc.ScanFolder(ctx, "/srv/music"))

	// The beatles folder is no longer part of the collection.
	removed, err := f.reg.GarbageOutsideFolders(ctx, f.st, []string{"/srv/music/radiohead"})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "/srv/music/beatles/abbey road/01.mp3", removed[0])

	_, err = f.reg.ByContentPath("/srv/music/beatles/abbey road/01.mp3")
	assert.Error(t, err)
	_, err = f.reg.ByContentPath("/srv/music/radiohead/ok computer/01.mp3")
	assert.NoError(t, err)
}

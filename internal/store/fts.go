package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentic-research/mediatree/internal/meta"
	"github.com/blevesearch/bleve/v2"
)

// ftsIndex mirrors the searchable metadata fields into a bleve index.
// Documents are keyed by content path so re-indexing a rescanned file
// replaces its entry.
type ftsIndex struct {
	idx bleve.Index
}

// ftsDoc is the flattened, search-facing projection of a Metas record.
// Field names match the column names the criteria translator emits.
type ftsDoc struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Genre  string `json:"genre"`
	Author string `json:"author"`
	Actor  string `json:"actor"`
}

func openFTS(path string) (*ftsIndex, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err := bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create fts index %s: %w", path, err)
		}
		return &ftsIndex{idx: idx}, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fts index %s: %w", path, err)
	}
	return &ftsIndex{idx: idx}, nil
}

func openMemFTS() (*ftsIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory fts index: %w", err)
	}
	return &ftsIndex{idx: idx}, nil
}

func (f *ftsIndex) Close() error { return f.idx.Close() }

func (f *ftsIndex) index(path string, m *meta.Metas) error {
	doc := ftsDoc{
		Title:  m.Title,
		Album:  m.Album,
		Artist: strings.Join(m.Artists, " "),
		Genre:  strings.Join(m.Genres, " "),
		Author: strings.Join(m.Composers, " "),
		Actor:  strings.Join(m.Actors, " "),
	}
	if doc.Artist == "" {
		doc.Artist = m.AlbumArtist
	}
	return f.idx.Index(path, doc)
}

func (f *ftsIndex) remove(path string) error {
	return f.idx.Delete(path)
}

// search evaluates a query-string phrase and returns matching paths.
func (f *ftsIndex) search(phrase string) ([]string, error) {
	if strings.TrimSpace(phrase) == "" {
		return nil, nil
	}
	q := bleve.NewQueryStringQuery(phrase)
	req := bleve.NewSearchRequest(q)
	req.Size = 10000
	res, err := f.idx.Search(req)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		paths = append(paths, hit.ID)
	}
	return paths, nil
}

// ValidateFTS strips characters that carry query-string syntax, leaving a
// fragment safe to embed in a full-text phrase.
func (s *SQLite) ValidateFTS(fragment string) string {
	var b strings.Builder
	for _, r := range fragment {
		switch r {
		case '+', '-', '=', '&', '|', '>', '<', '!', '(', ')', '{', '}',
			'[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

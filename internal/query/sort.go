package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/mediatree/internal/labels"
	"github.com/agentic-research/mediatree/internal/tree"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// sortKey is one token of a sort-criteria string: a property with a
// direction.
type sortKey struct {
	Field string
	Desc  bool
}

// parseSortCriteria parses "±prop,±prop,…". An empty string yields nil,
// letting the caller fall back to container/class defaults.
func parseSortCriteria(s string) ([]sortKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var keys []sortKey
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key := sortKey{Field: tok}
		switch tok[0] {
		case '+':
			key.Field = tok[1:]
		case '-':
			key.Field = tok[1:]
			key.Desc = true
		}
		if key.Field == "" {
			return nil, fmt.Errorf("empty sort token: %w", tree.ErrInvalidArgument)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// classDefaultSort is the per-class fallback when neither the request nor
// the container specifies sort criteria.
func classDefaultSort(class string) []sortKey {
	switch {
	case strings.HasPrefix(class, "object.container.album"):
		return []sortKey{{Field: "upnp:originalTrackNumber"}, {Field: "dc:title"}}
	default:
		return []sortKey{{Field: "dc:title"}}
	}
}

// sorter compares rendered entries key by key, each later key breaking
// ties of the earlier ones. String comparison is locale-aware, case- and
// diacritic-insensitive, with leading articles stripped from titles;
// values that both parse as numbers compare numerically. A missing value
// sorts last ascending, first descending.
type sorter struct {
	keys     []sortKey
	coll     *collate.Collator
	articles []string
}

func newSorter(keys []sortKey, lab labels.Provider) *sorter {
	return &sorter{
		keys:     keys,
		coll:     collate.New(language.Und, collate.Loose),
		articles: lab.Articles(),
	}
}

func (s *sorter) sortEntries(entries []entry) {
	if len(s.keys) == 0 {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return s.less(entries[i], entries[j])
	})
}

func (s *sorter) less(a, b entry) bool {
	for _, key := range s.keys {
		av := a.sortValue(key.Field)
		bv := b.sortValue(key.Field)
		if av == bv {
			continue
		}
		if av == "" {
			return key.Desc // missing: last ascending, first descending
		}
		if bv == "" {
			return !key.Desc
		}
		cmp := s.compare(key.Field, av, bv)
		if cmp == 0 {
			continue
		}
		if key.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func (s *sorter) compare(field, av, bv string) int {
	an, errA := strconv.ParseFloat(av, 64)
	bn, errB := strconv.ParseFloat(bv, 64)
	if errA == nil && errB == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if field == "dc:title" {
		av = s.stripArticle(av)
		bv = s.stripArticle(bv)
	}
	return s.coll.CompareString(av, bv)
}

// stripArticle removes a leading article ("The ", …) so titles sort by
// their normalized form.
func (s *sorter) stripArticle(v string) string {
	lower := strings.ToLower(v)
	for _, art := range s.articles {
		if strings.HasPrefix(lower, art) && len(v) > len(art) {
			return v[len(art):]
		}
	}
	return v
}

package query

import (
	"fmt"
	"strings"

	"github.com/agentic-research/mediatree/internal/tree"
)

// Clause is one extracted field predicate of a search-criteria string.
type Clause struct {
	Field  string // dc:title, upnp:artist, ...
	Op     string // "contains" or "="
	Value  string
	Depth  int    // parenthesis nesting at the clause
	Concat string // "and" or "or" relative to the previous clause
}

// ParsedCriteria is the typed result of parsing a search-criteria string.
// It is not a full expression tree: class acceptance and field clauses
// are extracted independently, matching the protocol's effective
// semantics (class filter AND any-field match).
type ParsedCriteria struct {
	Classes     []string // exact upnp:class matches
	DerivedFrom []string // class prefixes from derivedfrom
	Clauses     []Clause
}

// searchableFields maps protocol field names to full-text column names.
var searchableFields = map[string]string{
	"dc:title":    "title",
	"upnp:artist": "artist",
	"dc:creator":  "artist",
	"upnp:album":  "album",
	"upnp:genre":  "genre",
	"upnp:author": "author",
	"upnp:actor":  "actor",
}

// ParseCriteria extracts class rules and field clauses from a constrained
// boolean search expression. "*" accepts everything.
func ParseCriteria(criteria string) (*ParsedCriteria, error) {
	pc := &ParsedCriteria{}
	criteria = strings.TrimSpace(criteria)
	if criteria == "" || criteria == "*" {
		return pc, nil
	}

	toks, err := tokenize(criteria)
	if err != nil {
		return nil, err
	}

	depth := 0
	concat := "or"
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.kind == tokOpen:
			depth++
		case t.kind == tokClose:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parenthesis: %w", tree.ErrInvalidArgument)
			}
		case t.kind == tokWord && (strings.EqualFold(t.text, "and") || strings.EqualFold(t.text, "or")):
			concat = strings.ToLower(t.text)
		case t.kind == tokWord:
			// Expect: field op "value"
			if i+2 >= len(toks) || toks[i+1].kind != tokWord || toks[i+2].kind != tokString {
				return nil, fmt.Errorf("malformed clause at %q: %w", t.text, tree.ErrInvalidArgument)
			}
			field, op, value := t.text, strings.ToLower(toks[i+1].text), toks[i+2].text
			// A clause's own wrapping parenthesis is not nesting.
			clauseDepth := depth
			if i > 0 && toks[i-1].kind == tokOpen && clauseDepth > 0 {
				clauseDepth--
			}
			i += 2

			if field == "upnp:class" {
				switch op {
				case "=":
					pc.Classes = append(pc.Classes, value)
				case "derivedfrom":
					pc.DerivedFrom = append(pc.DerivedFrom, value)
				default:
					return nil, fmt.Errorf("class operator %q: %w", op, tree.ErrInvalidArgument)
				}
				continue
			}
			if _, ok := searchableFields[field]; !ok {
				continue // unrecognized fields are ignored, not errors
			}
			if op != "contains" && op != "=" {
				return nil, fmt.Errorf("operator %q on %s: %w", op, field, tree.ErrInvalidArgument)
			}
			pc.Clauses = append(pc.Clauses, Clause{
				Field: field, Op: op, Value: value, Depth: clauseDepth, Concat: concat,
			})
			concat = "or"
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parenthesis: %w", tree.ErrInvalidArgument)
	}
	return pc, nil
}

// AcceptsClass applies class acceptance: exact match, or prefix match
// against any derivedfrom rule. No class rules accepts everything.
func (pc *ParsedCriteria) AcceptsClass(class string) bool {
	if len(pc.Classes) == 0 && len(pc.DerivedFrom) == 0 {
		return true
	}
	for _, c := range pc.Classes {
		if class == c {
			return true
		}
	}
	for _, prefix := range pc.DerivedFrom {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

// MatchesTitle checks title clauses directly against a candidate's own
// title, covering nodes the full-text index has not seen (virtual
// containers).
func (pc *ParsedCriteria) MatchesTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, cl := range pc.Clauses {
		if cl.Field != "dc:title" {
			continue
		}
		switch cl.Op {
		case "contains":
			if strings.Contains(lower, strings.ToLower(cl.Value)) {
				return true
			}
		case "=":
			if strings.EqualFold(title, cl.Value) {
				return true
			}
		}
	}
	return false
}

// HasFieldClauses reports whether any full-text clause was extracted.
func (pc *ParsedCriteria) HasFieldClauses() bool { return len(pc.Clauses) > 0 }

// FTSPhrase translates the field clauses into one full-text query phrase.
// sanitize is the backing store's fragment validator. contains clauses
// get a prefix wildcard; "and" concatenation marks the term as required.
func (pc *ParsedCriteria) FTSPhrase(sanitize func(string) string) string {
	var terms []string
	for _, cl := range pc.Clauses {
		value := sanitize(cl.Value)
		if value == "" {
			continue
		}
		column := searchableFields[cl.Field]
		// Multi-word values quote poorly with a wildcard; take the last
		// word as the prefix term and require the rest.
		words := strings.Fields(value)
		term := column + ":" + words[len(words)-1]
		if cl.Op == "contains" {
			term += "*"
		}
		if cl.Concat == "and" {
			term = "+" + term
		}
		for _, w := range words[:len(words)-1] {
			terms = append(terms, column+":"+w)
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " ")
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokOpen
	tokClose
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokOpen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokClose, ")"})
			i++
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string: %w", tree.ErrInvalidArgument)
			}
			toks = append(toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n()\"", rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokWord, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

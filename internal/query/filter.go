package query

import "strings"

// Filter restricts which attributes are serialized per result. "*" (or
// an empty string) allows everything; otherwise only the named fields
// pass. Structural identity (id, parent, title) is always reported.
type Filter struct {
	all    bool
	fields map[string]bool
}

// ParseFilter parses a comma-separated filter parameter.
func ParseFilter(s string) Filter {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Filter{all: true}
	}
	f := Filter{fields: make(map[string]bool)}
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			f.fields[field] = true
		}
	}
	return f
}

// Allows reports whether the named field should be serialized.
func (f Filter) Allows(field string) bool {
	if f.all {
		return true
	}
	// res@size etc. ride along when their base field is allowed.
	if i := strings.IndexByte(field, '@'); i > 0 && f.fields[field[:i]] {
		return true
	}
	return f.fields[field]
}

package realtime

import (
	"fmt"
	"strings"
)

// Filter is a single-column row predicate in the hosted feed syntax
// "column=op.value", e.g. "author_id=neq.<id>".
type Filter struct {
	Column string
	Op     string
	Value  string
}

var filterColumns = map[string]bool{"id": true, "author_id": true, "title": true}

// ParseFilter parses s. An empty string is the match-all filter.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}
	column = strings.TrimSpace(column)
	if !filterColumns[column] {
		return Filter{}, fmt.Errorf("invalid filter %q: unsupported column %q", s, column)
	}
	if op != "eq" && op != "neq" {
		return Filter{}, fmt.Errorf("invalid filter %q: unsupported operator %q", s, op)
	}
	return Filter{Column: column, Op: op, Value: value}, nil
}

// ExcludeAuthor matches posts not written by authorID.
func ExcludeAuthor(authorID string) Filter {
	return Filter{Column: "author_id", Op: "neq", Value: authorID}
}

func (f Filter) IsZero() bool {
	return f.Column == ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=" + f.Op + "." + f.Value
}

// Match reports whether ev's record satisfies the filter.
func (f Filter) Match(ev Event) bool {
	if f.IsZero() {
		return true
	}
	var got string
	switch f.Column {
	case "id":
		got = ev.Record.ID
	case "author_id":
		got = ev.Record.AuthorID
	case "title":
		got = ev.Record.Title
	default:
		return false
	}
	if f.Op == "neq" {
		return got != f.Value
	}
	return got == f.Value
}

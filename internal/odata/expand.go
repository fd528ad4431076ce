package odata

import (
	"strconv"
	"strings"
)

// ExpandPath is one top-level entry of a $expand clause.
//
// A chain such as "Category/Products" is kept flat: the first navigation
// property is NavigationProperty and the rest are SubExpands. Query options
// therefore apply to the whole chain and cannot be attached to a single
// nesting level.
type ExpandPath struct {
	NavigationProperty string
	SubExpands         []string
	Filter             string
	Select             string
	Top                *int
	Skip               *int
}

// HasOptions reports whether any of $filter, $select, $top or $skip is set.
func (p ExpandPath) HasOptions() bool {
	return p.Filter != "" || p.Select != "" || p.Top != nil || p.Skip != nil
}

// IsSimpleExpand reports whether the path is a bare navigation property.
func (p ExpandPath) IsSimpleExpand() bool {
	return !p.HasOptions() && len(p.SubExpands) == 0
}

// ColumnName returns the output column name for the expanded data,
// e.g. "Category_Products" for "Category/Products".
func (p ExpandPath) ColumnName() string {
	parts := make([]string, 0, 1+len(p.SubExpands))
	parts = append(parts, p.NavigationProperty)
	parts = append(parts, p.SubExpands...)
	return strings.Join(parts, "_")
}

// ParseExpandClause parses a comma-separated $expand clause. Commas inside
// parentheses belong to the options of the current path. Unclosed parentheses
// leave that path without options instead of failing.
func ParseExpandClause(clause string) []ExpandPath {
	var paths []ExpandPath
	for _, segment := range splitTopLevel(clause, ',') {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if path, ok := parseExpandSegment(segment); ok {
			paths = append(paths, path)
		}
	}
	return paths
}

func parseExpandSegment(segment string) (ExpandPath, bool) {
	var path ExpandPath

	parenIdx := strings.IndexByte(segment, '(')
	slashIdx := strings.IndexByte(segment, '/')

	navEnd := len(segment)
	if parenIdx >= 0 {
		navEnd = parenIdx
	}
	if slashIdx >= 0 && slashIdx < navEnd {
		navEnd = slashIdx
	}
	path.NavigationProperty = strings.TrimSpace(segment[:navEnd])
	if path.NavigationProperty == "" {
		return path, false
	}

	if slashIdx >= 0 && slashIdx == navEnd {
		subEnd := len(segment)
		if parenIdx > slashIdx {
			subEnd = parenIdx
		}
		for _, sub := range strings.Split(segment[slashIdx+1:subEnd], "/") {
			if sub = strings.TrimSpace(sub); sub != "" {
				path.SubExpands = append(path.SubExpands, sub)
			}
		}
	}

	if parenIdx >= 0 {
		closeIdx := matchingParen(segment, parenIdx)
		if closeIdx > parenIdx {
			applyExpandOptions(&path, segment[parenIdx+1:closeIdx])
		}
	}
	return path, true
}

func applyExpandOptions(path *ExpandPath, options string) {
	for _, clause := range splitTopLevel(options, ';') {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, QueryFilter+"="):
			path.Filter = strings.TrimPrefix(clause, QueryFilter+"=")
		case strings.HasPrefix(clause, QuerySelect+"="):
			path.Select = strings.TrimPrefix(clause, QuerySelect+"=")
		case strings.HasPrefix(clause, QueryTop+"="):
			if n, err := strconv.Atoi(strings.TrimPrefix(clause, QueryTop+"=")); err == nil && n >= 0 {
				path.Top = &n
			}
		case strings.HasPrefix(clause, QuerySkip+"="):
			if n, err := strconv.Atoi(strings.TrimPrefix(clause, QuerySkip+"=")); err == nil && n >= 0 {
				path.Skip = &n
			}
		}
	}
}

// BuildExpandClause is the inverse of ParseExpandClause.
func BuildExpandClause(paths []ExpandPath) string {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		if p.NavigationProperty == "" {
			continue
		}
		parts = append(parts, buildExpandPath(p))
	}
	return strings.Join(parts, ",")
}

func buildExpandPath(p ExpandPath) string {
	var b strings.Builder
	b.WriteString(p.NavigationProperty)
	for _, sub := range p.SubExpands {
		b.WriteByte('/')
		b.WriteString(sub)
	}
	if !p.HasOptions() {
		return b.String()
	}
	var options []string
	if p.Filter != "" {
		options = append(options, QueryFilter+"="+p.Filter)
	}
	if p.Select != "" {
		options = append(options, QuerySelect+"="+p.Select)
	}
	if p.Top != nil {
		options = append(options, QueryTop+"="+strconv.Itoa(*p.Top))
	}
	if p.Skip != nil {
		options = append(options, QuerySkip+"="+strconv.Itoa(*p.Skip))
	}
	b.WriteByte('(')
	b.WriteString(strings.Join(options, ";"))
	b.WriteByte(')')
	return b.String()
}

// splitTopLevel splits s on sep, ignoring separators nested in parentheses or single-quoted literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// matchingParen returns the index of the parenthesis closing the one at open, or -1.
func matchingParen(s string, open int) int {
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

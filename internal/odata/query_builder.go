package odata

import (
	"strconv"
	"strings"
)

// QueryBuilder assembles the query string for one entity-set request.
// A builder is not safe for concurrent use.
type QueryBuilder struct {
	baseURL string
	version Version
	selects []string
	filters []string
	orderBy []string
	expands []ExpandPath
	apply   string
	search  string
	format  string
	top     int
	skip    int
	count   bool
	params  [][2]string
}

// NewQueryBuilder creates a builder for the given entity-set URL.
func NewQueryBuilder(baseURL string, version Version) *QueryBuilder {
	return &QueryBuilder{baseURL: baseURL, version: version, top: -1, skip: -1}
}

// Select adds properties to $select.
func (b *QueryBuilder) Select(fields ...string) *QueryBuilder {
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			b.selects = append(b.selects, f)
		}
	}
	return b
}

// Filter adds a raw $filter expression. Multiple expressions are combined with "and".
func (b *QueryBuilder) Filter(expr string) *QueryBuilder {
	if expr = strings.TrimSpace(expr); expr != "" {
		b.filters = append(b.filters, expr)
	}
	return b
}

// FilterEq adds "field eq <literal>" with the value encoded for the builder's version.
func (b *QueryBuilder) FilterEq(field string, value any) *QueryBuilder {
	return b.Filter(field + " eq " + EncodeLiteralVersion(value, b.version))
}

// OrderBy appends an ordering term.
func (b *QueryBuilder) OrderBy(field string, desc bool) *QueryBuilder {
	if field = strings.TrimSpace(field); field == "" {
		return b
	}
	if desc {
		field += " desc"
	}
	b.orderBy = append(b.orderBy, field)
	return b
}

// Expand parses clause and appends its paths to $expand.
func (b *QueryBuilder) Expand(clause string) *QueryBuilder {
	b.expands = append(b.expands, ParseExpandClause(clause)...)
	return b
}

// ExpandPaths appends already-parsed expand paths.
func (b *QueryBuilder) ExpandPaths(paths ...ExpandPath) *QueryBuilder {
	b.expands = append(b.expands, paths...)
	return b
}

// Apply sets the $apply transformation pipeline.
func (b *QueryBuilder) Apply(clause string) *QueryBuilder {
	b.apply = strings.TrimSpace(clause)
	return b
}

// Search sets $search.
func (b *QueryBuilder) Search(term string) *QueryBuilder {
	b.search = strings.TrimSpace(term)
	return b
}

// Top sets $top. Negative values clear it.
func (b *QueryBuilder) Top(n int) *QueryBuilder {
	b.top = max(n, -1)
	return b
}

// Skip sets $skip. Negative values clear it.
func (b *QueryBuilder) Skip(n int) *QueryBuilder {
	b.skip = max(n, -1)
	return b
}

// Count requests the total count: $count=true on v4, $inlinecount=allpages on v2.
func (b *QueryBuilder) Count() *QueryBuilder {
	b.count = true
	return b
}

// Format sets $format, e.g. "json".
func (b *QueryBuilder) Format(format string) *QueryBuilder {
	b.format = strings.TrimSpace(format)
	return b
}

// Param appends a custom query parameter such as "sap-client".
func (b *QueryBuilder) Param(key, value string) *QueryBuilder {
	if key != "" {
		b.params = append(b.params, [2]string{key, value})
	}
	return b
}

// QueryString renders the options in a stable order without a leading '?'.
func (b *QueryBuilder) QueryString() string {
	var parts []string
	add := func(key, value string) {
		parts = append(parts, key+"="+EscapeQueryValue(value))
	}
	if len(b.selects) > 0 {
		add(QuerySelect, strings.Join(b.selects, ","))
	}
	if len(b.expands) > 0 {
		add(QueryExpand, BuildExpandClause(b.expands))
	}
	switch len(b.filters) {
	case 0:
	case 1:
		add(QueryFilter, b.filters[0])
	default:
		wrapped := make([]string, len(b.filters))
		for i, f := range b.filters {
			wrapped[i] = "(" + f + ")"
		}
		add(QueryFilter, strings.Join(wrapped, " and "))
	}
	if b.apply != "" {
		add(QueryApply, b.apply)
	}
	if b.search != "" {
		add(QuerySearch, b.search)
	}
	if len(b.orderBy) > 0 {
		add(QueryOrderBy, strings.Join(b.orderBy, ","))
	}
	if b.top >= 0 {
		add(QueryTop, strconv.Itoa(b.top))
	}
	if b.skip >= 0 {
		add(QuerySkip, strconv.Itoa(b.skip))
	}
	if b.count {
		if b.version == V4 {
			add(QueryCount, "true")
		} else {
			add(QueryInlineCount, "allpages")
		}
	}
	if b.format != "" {
		add(QueryFormat, b.format)
	}
	for _, p := range b.params {
		add(EscapeQueryValue(p[0]), p[1])
	}
	return strings.Join(parts, "&")
}

// Build returns the full request URL.
func (b *QueryBuilder) Build() string {
	qs := b.QueryString()
	if qs == "" {
		return b.baseURL
	}
	sep := "?"
	if strings.Contains(b.baseURL, "?") {
		sep = "&"
	}
	return b.baseURL + sep + qs
}

// BuildCountURL returns the URL of the /$count resource for the entity set,
// carrying only $filter and $search.
func (b *QueryBuilder) BuildCountURL() string {
	counter := NewQueryBuilder(strings.TrimRight(b.baseURL, "/")+"/"+QueryCount, b.version)
	counter.filters = b.filters
	counter.search = b.search
	return counter.Build()
}

// Reset clears every option while keeping the base URL and version.
func (b *QueryBuilder) Reset() {
	*b = *NewQueryBuilder(b.baseURL, b.version)
}

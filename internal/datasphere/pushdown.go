package datasphere

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/odatalink/odatalink/internal/odata"
	"github.com/odatalink/odatalink/internal/util"
)

// aggregationFunctions is the closed set of $apply aggregate() methods.
var aggregationFunctions = map[string]struct{}{
	"sum":           {},
	"average":       {},
	"count":         {},
	"min":           {},
	"max":           {},
	"countdistinct": {},
}

// sqlToODataOperators is applied in order; longer operators come before their prefixes.
var sqlToODataOperators = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`\bAND\b`), "and"},
	{regexp.MustCompile(`\bOR\b`), "or"},
	{regexp.MustCompile(`\bNOT\b`), "not"},
	{regexp.MustCompile(`\bLIKE\b`), "contains"},
	{regexp.MustCompile(`\bIN\b`), "in"},
	{regexp.MustCompile(`\s*!=\s*`), " ne "},
	{regexp.MustCompile(`\s*<>\s*`), " ne "},
	{regexp.MustCompile(`\s*>=\s*`), " ge "},
	{regexp.MustCompile(`\s*<=\s*`), " le "},
	{regexp.MustCompile(`\s*=\s*`), " eq "},
	{regexp.MustCompile(`\s*>\s*`), " gt "},
	{regexp.MustCompile(`\s*<\s*`), " lt "},
}

var orderByDirection = regexp.MustCompile(`(?i)(\S+)\s+(DESC|ASC)\b`)

// ValidateAggregationFunction returns the canonical lower-case name of fn, or
// "" when fn is not a supported aggregation method.
func ValidateAggregationFunction(fn string) string {
	canonical := strings.ToLower(strings.TrimSpace(fn))
	if _, ok := aggregationFunctions[canonical]; ok {
		return canonical
	}
	return ""
}

// ValidateAnalyticalQuery reports whether the components can be pushed down.
func ValidateAnalyticalQuery(components AnalyticalQueryComponents) bool {
	return Validate(components) == nil
}

// Validate is ValidateAnalyticalQuery with the failure reason attached.
func Validate(components AnalyticalQueryComponents) error {
	if len(components.Dimensions) == 0 {
		return &InvalidQueryComponentsError{Reason: "at least one dimension is required"}
	}
	if len(components.Aggregations) == 0 {
		return &InvalidQueryComponentsError{Reason: "at least one aggregation is required"}
	}
	for _, dimension := range components.Dimensions {
		if err := util.ValidateIdentifier("dimension", dimension); err != nil {
			return &InvalidQueryComponentsError{Reason: err.Error()}
		}
	}
	for _, measure := range sortedKeys(components.Aggregations) {
		if err := util.ValidateIdentifier("measure", measure); err != nil {
			return &InvalidQueryComponentsError{Reason: err.Error()}
		}
		if ValidateAggregationFunction(components.Aggregations[measure]) == "" {
			return &InvalidQueryComponentsError{Reason: "unsupported aggregation function " + strconv.Quote(components.Aggregations[measure]) + " for measure " + measure}
		}
	}
	if err := util.ValidateNonNegative("top limit", components.TopLimit); err != nil {
		return &InvalidQueryComponentsError{Reason: err.Error()}
	}
	if err := util.ValidateNonNegative("skip offset", components.SkipOffset); err != nil {
		return &InvalidQueryComponentsError{Reason: err.Error()}
	}
	return nil
}

// BuildApplyClause renders the full $apply pipeline for the components.
func BuildApplyClause(components AnalyticalQueryComponents) string {
	return buildPipeline(groupByStage(components.Dimensions, components.Aggregations, nil), components)
}

// BuildApplyClauseWithAggregation renders only the groupby/aggregate stage.
func BuildApplyClauseWithAggregation(dimensions []string, aggregations map[string]string) string {
	return groupByStage(dimensions, aggregations, nil)
}

// BuildApplyClauseWithHierarchy adds the hierarchy level path as an extra
// grouping expression after the plain dimensions.
func BuildApplyClauseWithHierarchy(components AnalyticalQueryComponents, hierarchy HierarchyNavigation) string {
	dimensions := append([]string(nil), components.Dimensions...)
	if expr := hierarchyExpression(hierarchy); expr != "" {
		dimensions = append(dimensions, expr)
	}
	return buildPipeline(groupByStage(dimensions, components.Aggregations, nil), components)
}

// BuildApplyClauseWithCalculatedMeasures appends ",name as expression" entries
// after the plain aggregations inside aggregate(...).
func BuildApplyClauseWithCalculatedMeasures(components AnalyticalQueryComponents, measures []CalculatedMeasure) string {
	return buildPipeline(groupByStage(components.Dimensions, components.Aggregations, measures), components)
}

// BuildQueryString validates the components and returns the query string to
// append to an entity-set URL.
func BuildQueryString(components AnalyticalQueryComponents) (string, error) {
	if err := Validate(components); err != nil {
		return "", err
	}
	query := odata.QueryApply + "=" + odata.EscapeQueryValue(BuildApplyClause(components))
	if components.CountOnly {
		query += "&" + odata.QueryCount + "=true"
	}
	return query, nil
}

// BuildFilterClause substitutes SQL operators with their OData spelling.
//
// Keyword operators only match as whole words, so identifiers that contain
// them (BRAND, ORDER_ID, NOTES, LIKES, INCOME) are left intact where a plain
// substring replacement would corrupt them. Keywords are case-sensitive
// upper-case. This is still a lossy textual rewrite, not a parser: operators
// inside string literals (for example 'R AND D') are rewritten as well.
func BuildFilterClause(sqlWhere string) string {
	clause := strings.TrimSpace(sqlWhere)
	if clause == "" {
		return ""
	}
	for _, op := range sqlToODataOperators {
		clause = op.pattern.ReplaceAllString(clause, op.replace)
	}
	return strings.TrimSpace(clause)
}

// BuildOrderByClause lower-cases ASC/DESC suffixes, e.g. "Sales DESC" -> "Sales desc".
func BuildOrderByClause(sqlOrderBy string) string {
	clause := strings.TrimSpace(sqlOrderBy)
	return orderByDirection.ReplaceAllStringFunc(clause, func(m string) string {
		parts := orderByDirection.FindStringSubmatch(m)
		return parts[1] + " " + strings.ToLower(parts[2])
	})
}

func groupByStage(dimensions []string, aggregations map[string]string, calculated []CalculatedMeasure) string {
	if len(dimensions) == 0 || len(aggregations) == 0 {
		return ""
	}
	aggParts := make([]string, 0, len(aggregations)+len(calculated))
	for _, measure := range sortedKeys(aggregations) {
		fn := ValidateAggregationFunction(aggregations[measure])
		if fn == "" {
			fn = strings.ToLower(strings.TrimSpace(aggregations[measure]))
		}
		aggParts = append(aggParts, measure+" with "+fn)
	}
	for _, m := range calculated {
		if m.Name == "" || m.Expression == "" {
			continue
		}
		aggParts = append(aggParts, m.Name+" as "+m.Expression)
	}
	return "groupby((" + strings.Join(dimensions, ",") + "),aggregate(" + strings.Join(aggParts, ",") + "))"
}

func buildPipeline(groupBy string, components AnalyticalQueryComponents) string {
	var stages []string
	if groupBy != "" {
		stages = append(stages, groupBy)
	}
	if filter := strings.TrimSpace(components.FilterClause); filter != "" {
		stages = append(stages, "filter("+filter+")")
	}
	if orderBy := strings.TrimSpace(components.OrderByClause); orderBy != "" {
		stages = append(stages, "orderby("+orderBy+")")
	}
	if components.SkipOffset > 0 {
		stages = append(stages, "skip("+strconv.Itoa(components.SkipOffset)+")")
	}
	if components.TopLimit > 0 {
		stages = append(stages, "top("+strconv.Itoa(components.TopLimit)+")")
	}
	return strings.Join(stages, "/")
}

func hierarchyExpression(h HierarchyNavigation) string {
	var levels []string
	for _, level := range h.Levels {
		if level = strings.TrimSpace(level); level != "" {
			levels = append(levels, level)
		}
	}
	expr := strings.Join(levels, ",")
	if drill := strings.TrimSpace(h.DrillPath); drill != "" {
		if expr == "" {
			expr = drill
		} else {
			expr += "/" + drill
		}
	}
	return expr
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

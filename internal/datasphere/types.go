// Package datasphere translates SQL-shaped analytical query components into
// OData $apply pipelines (groupby, aggregate, filter, orderby, skip, top) for
// SAP Datasphere analytical consumption models.
package datasphere

import (
	"errors"
	"fmt"
)

// AnalyticalQueryComponents is the semantic output of the host's SQL planner
// for one analytical scan.
type AnalyticalQueryComponents struct {
	// Dimensions are group-by columns in emission order.
	Dimensions []string `json:"dimensions"`
	// Measures lists the measure columns referenced by the query.
	Measures []string `json:"measures,omitempty"`
	// Aggregations maps a measure to its aggregation function name.
	Aggregations  map[string]string `json:"aggregations"`
	FilterClause  string            `json:"filter,omitempty"`
	OrderByClause string            `json:"orderby,omitempty"`
	TopLimit      int               `json:"top,omitempty"`
	SkipOffset    int               `json:"skip,omitempty"`
	CountOnly     bool              `json:"count_only,omitempty"`
}

// HierarchyNavigation adds hierarchy-aware grouping to an analytical query.
type HierarchyNavigation struct {
	HierarchyName string   `json:"hierarchy_name"`
	Levels        []string `json:"levels"`
	DrillPath     string   `json:"drill_path,omitempty"`
}

// CalculatedMeasure is emitted inside aggregate() as "name as expression".
type CalculatedMeasure struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	DataType   string `json:"data_type,omitempty"`
}

// ErrInvalidQueryComponents is matched by every InvalidQueryComponentsError.
var ErrInvalidQueryComponents = errors.New("invalid analytical query components")

// InvalidQueryComponentsError reports why a query cannot be pushed down.
type InvalidQueryComponentsError struct {
	Reason string
}

// Error returns a string representation of the validation failure.
func (e *InvalidQueryComponentsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidQueryComponents.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrInvalidQueryComponents) succeed.
func (e *InvalidQueryComponentsError) Is(target error) bool {
	return target == ErrInvalidQueryComponents
}

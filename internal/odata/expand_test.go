package odata

import (
	"reflect"
	"testing"
)

func TestParseExpandClauseChain(t *testing.T) {
	paths := ParseExpandClause("Category/Products")
	if len(paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(paths))
	}
	p := paths[0]
	if p.NavigationProperty != "Category" {
		t.Fatalf("navigation property = %q", p.NavigationProperty)
	}
	if !reflect.DeepEqual(p.SubExpands, []string{"Products"}) {
		t.Fatalf("sub expands = %v", p.SubExpands)
	}
	if p.IsSimpleExpand() || p.HasOptions() {
		t.Fatalf("unexpected flags: simple=%v options=%v", p.IsSimpleExpand(), p.HasOptions())
	}
	if p.ColumnName() != "Category_Products" {
		t.Fatalf("column name = %q", p.ColumnName())
	}
	if got := BuildExpandClause(paths); got != "Category/Products" {
		t.Fatalf("BuildExpandClause = %q", got)
	}
}

func TestParseExpandClauseOptions(t *testing.T) {
	paths := ParseExpandClause("Orders($filter=Amount gt 100;$select=ID,Amount;$top=5;$skip=10), Customer")
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %+v", len(paths), paths)
	}
	orders := paths[0]
	if orders.NavigationProperty != "Orders" || orders.Filter != "Amount gt 100" || orders.Select != "ID,Amount" {
		t.Fatalf("unexpected orders path: %+v", orders)
	}
	if orders.Top == nil || *orders.Top != 5 || orders.Skip == nil || *orders.Skip != 10 {
		t.Fatalf("unexpected paging: top=%v skip=%v", orders.Top, orders.Skip)
	}
	if !paths[1].IsSimpleExpand() || paths[1].NavigationProperty != "Customer" {
		t.Fatalf("unexpected customer path: %+v", paths[1])
	}
	want := "Orders($filter=Amount gt 100;$select=ID,Amount;$top=5;$skip=10),Customer"
	if got := BuildExpandClause(paths); got != want {
		t.Fatalf("BuildExpandClause = %q, want %q", got, want)
	}
}

func TestParseExpandClauseSubExpandWithOptions(t *testing.T) {
	paths := ParseExpandClause("Category/Products/Supplier($select=Name)")
	if len(paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(paths))
	}
	p := paths[0]
	if !reflect.DeepEqual(p.SubExpands, []string{"Products", "Supplier"}) {
		t.Fatalf("sub expands = %v", p.SubExpands)
	}
	if p.Select != "Name" {
		t.Fatalf("select = %q", p.Select)
	}
}

func TestParseExpandClauseMalformedParens(t *testing.T) {
	paths := ParseExpandClause("Orders($top=5")
	if len(paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(paths))
	}
	if paths[0].NavigationProperty != "Orders" || paths[0].HasOptions() {
		t.Fatalf("malformed options must be dropped: %+v", paths[0])
	}
}

func TestParseExpandClauseEmpty(t *testing.T) {
	if paths := ParseExpandClause(" , "); len(paths) != 0 {
		t.Fatalf("expected no paths, got %+v", paths)
	}
	if got := BuildExpandClause(nil); got != "" {
		t.Fatalf("BuildExpandClause(nil) = %q", got)
	}
}

func TestBuildExpandClauseOptionOrder(t *testing.T) {
	top := 3
	p := ExpandPath{NavigationProperty: "Items", Top: &top, Select: "A", Filter: "A eq 1"}
	if got := BuildExpandClause([]ExpandPath{p}); got != "Items($filter=A eq 1;$select=A;$top=3)" {
		t.Fatalf("BuildExpandClause = %q", got)
	}
}

package search

import (
	"path/filepath"
	"testing"

	"github.com/FeatheredSystems/TytoDB/container"
	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/types"
)

func testSchema() ([]string, []types.Kind) {
	return []string{"id", "name", "score"},
		[]types.Kind{types.KindI64, types.KindStringSmall, types.KindF64}
}

func openTestContainer(t *testing.T) *container.Container {
	t.Helper()
	names, kinds := testSchema()
	dir := t.TempDir()
	c, err := container.Open(filepath.Join(dir, "rows.dat"), names, kinds, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func row(id int64, name string, score float64) []types.Value {
	_, kinds := testSchema()
	return []types.Value{types.I64(id), types.String(kinds[1], name), types.F64(score)}
}

func seedRows(t *testing.T, c *container.Container, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := c.PushRow(row(int64(i), "name", float64(i))); err != nil {
			t.Fatalf("PushRow(%d): %v", i, err)
		}
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestScanFindsAllMatches(t *testing.T) {
	c := openTestContainer(t)
	seedRows(t, c, 5)
	names, kinds := testSchema()
	pred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
		{Column: "score", Operator: predicate.GreaterEqual, Literal: types.F64(3)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	matches, err := Scan(c, pred, DefaultLimit)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
}

func TestScanRespectsLimit(t *testing.T) {
	c := openTestContainer(t)
	seedRows(t, c, 5)
	names, kinds := testSchema()
	pred, err := predicate.Compile(names, kinds, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	matches, err := Scan(c, pred, 2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected limit of 2 matches, got %d", len(matches))
	}
}

func TestScanSkipsDeletedRows(t *testing.T) {
	c := openTestContainer(t)
	seedRows(t, c, 3)
	names, kinds := testSchema()
	delPred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
		{Column: "id", Operator: predicate.Equal, Literal: types.I64(2)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := c.DeleteRow(delPred); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	allPred, err := predicate.Compile(names, kinds, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	matches, err := Scan(c, allPred, DefaultLimit)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 surviving rows, got %d", len(matches))
	}
}

func TestExecuteUsesIndexedPlanForPKEquality(t *testing.T) {
	c := openTestContainer(t)
	seedRows(t, c, 5)
	names, kinds := testSchema()
	pred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
		{Column: "id", Operator: predicate.Equal, Literal: types.I64(3)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if pred.QueryType().Kind != predicate.Indexed {
		t.Fatalf("expected an Indexed plan for a strict PK equality atom")
	}
	matches, err := Execute(c, pred, DefaultLimit)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Row[0].I64 != 3 {
		t.Fatalf("expected row id 3, got %d", matches[0].Row[0].I64)
	}
}

func TestExecuteFallsBackToScanForNonPKPredicate(t *testing.T) {
	c := openTestContainer(t)
	seedRows(t, c, 5)
	names, kinds := testSchema()
	pred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
		{Column: "score", Operator: predicate.Lower, Literal: types.F64(3)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	matches, err := Execute(c, pred, DefaultLimit)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

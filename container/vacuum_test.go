package container

import (
	"testing"

	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/types"
)

func TestVacuumCompactsAndPreservesRows(t *testing.T) {
	c := openTestContainer(t)
	for i := int64(1); i <= 5; i++ {
		if err := c.PushRow(row(i, "name", float64(i))); err != nil {
			t.Fatalf("PushRow(%d): %v", i, err)
		}
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	names, kinds := testSchema()
	// Delete the low-offset rows so vacuum has dead slots to reclaim.
	for _, id := range []int64{1, 2} {
		pred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
			{Column: "id", Operator: predicate.Equal, Literal: types.I64(id)},
		}, nil)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		if _, err := c.DeleteRow(pred); err != nil {
			t.Fatalf("DeleteRow(%d): %v", id, err)
		}
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	before, err := c.arrlen()
	if err != nil {
		t.Fatalf("arrlen: %v", err)
	}

	relocated, err := c.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if relocated != 2 {
		t.Fatalf("expected 2 relocations, got %d", relocated)
	}

	after, err := c.arrlen()
	if err != nil {
		t.Fatalf("arrlen after vacuum: %v", err)
	}
	if after >= before {
		t.Fatalf("expected vacuum to shrink row count, before=%d after=%d", before, after)
	}
	if after != 3 {
		t.Fatalf("expected 3 surviving rows, got %d", after)
	}

	for _, id := range []int64{3, 4, 5} {
		pred, err := predicate.Compile(names, kinds, []predicate.AtomSpec{
			{Column: "id", Operator: predicate.Equal, Literal: types.I64(id)},
		}, nil)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		matches, err := c.findMatches(pred)
		if err != nil {
			t.Fatalf("findMatches(%d): %v", id, err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected surviving row %d to still be findable, got %d matches", id, len(matches))
		}
	}
}

func TestVacuumRefusesWithOutstandingStaging(t *testing.T) {
	c := openTestContainer(t)
	if err := c.PushRow(row(1, "alice", 1.0)); err != nil {
		t.Fatalf("PushRow: %v", err)
	}
	if _, err := c.Vacuum(); err == nil {
		t.Fatalf("expected Vacuum to refuse with outstanding staged changes")
	}
}

func TestVacuumNoOpOnEmptyContainer(t *testing.T) {
	c := openTestContainer(t)
	relocated, err := c.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if relocated != 0 {
		t.Fatalf("expected 0 relocations on empty container, got %d", relocated)
	}
}

package predicate

import (
	"testing"

	"github.com/FeatheredSystems/TytoDB/types"
)

var testColumnNames = []string{"id", "name", "score"}
var testColumns = []types.Kind{types.KindI64, types.KindStringSmall, types.KindF64}

func TestEvaluateEmptyChainMatchesAll(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || !ok {
		t.Fatalf("Evaluate empty chain = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEvaluateSingleAtomEqual(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(1)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	match := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	miss := []types.Value{types.I64(2), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	if ok, err := chain.Evaluate(match); err != nil || !ok {
		t.Fatalf("Evaluate(match) = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := chain.Evaluate(miss); err != nil || ok {
		t.Fatalf("Evaluate(miss) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEvaluateAndShortCircuits(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(1)},
		{Column: "score", Operator: Greater, Literal: types.F64(10)},
	}, []Gate{And})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || ok {
		t.Fatalf("Evaluate = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEvaluateOrMatchesEither(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(99)},
		{Column: "name", Operator: Equal, Literal: types.String(types.KindStringSmall, "Ada")},
	}, []Gate{Or})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || !ok {
		t.Fatalf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEvaluateAndGateShortCircuitsBeforeLaterOrAtom(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(999)},
		{Column: "name", Operator: Equal, Literal: types.String(types.KindStringSmall, "nobody")},
		{Column: "score", Operator: Equal, Literal: types.F64(1.5)},
	}, []Gate{And, Or})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// id != 999, so the And-gate must kill the chain here even though the
	// trailing Or-gated atom on score would otherwise match.
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || ok {
		t.Fatalf("Evaluate = (%v, %v), want (false, nil): an And-gate failure must short-circuit past a later matching Or atom", ok, err)
	}
}

func TestEvaluateShortCircuitNeverReachesTrailingAtom(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(999)},
		{Column: "name", Operator: StringRegex, Literal: types.String(types.KindStringSmall, "(")},
	}, []Gate{And})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The regex atom is invalid and would error if ever evaluated; a true
	// short-circuit on the failing And-gate must never reach it.
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || ok {
		t.Fatalf("Evaluate = (%v, %v), want (false, nil) without reaching the invalid trailing regex atom", ok, err)
	}
}

func TestEvaluateNumericPromotion(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: GreaterEqual, Literal: types.I32(1)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	row := []types.Value{types.I64(5), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || !ok {
		t.Fatalf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEvaluateStringRegex(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "name", Operator: StringRegex, Literal: types.String(types.KindStringSmall, "^A")},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	match := []types.Value{types.I64(1), types.String(types.KindStringSmall, "Ada"), types.F64(1.5)}
	miss := []types.Value{types.I64(1), types.String(types.KindStringSmall, "eve"), types.F64(1.5)}
	if ok, err := chain.Evaluate(match); err != nil || !ok {
		t.Fatalf("Evaluate(match) = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := chain.Evaluate(miss); err != nil || ok {
		t.Fatalf("Evaluate(miss) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEvaluateStringContainsCaseInsensitive(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "name", Operator: StringContainsCaseInsensitive, Literal: types.String(types.KindStringSmall, "ada")},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	row := []types.Value{types.I64(1), types.String(types.KindStringSmall, "ADA"), types.F64(1.5)}
	ok, err := chain.Evaluate(row)
	if err != nil || !ok {
		t.Fatalf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEvaluateMissingColumnIsSkipped(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "score", Operator: Equal, Literal: types.F64(1.5)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	shortRow := []types.Value{types.I64(1)}
	ok, err := chain.Evaluate(shortRow)
	if err != nil || !ok {
		t.Fatalf("Evaluate(shortRow) = (%v, %v), want (true, nil) since the atom is skipped", ok, err)
	}
}

func TestCompileUnknownColumn(t *testing.T) {
	_, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "nope", Operator: Equal, Literal: types.I64(1)},
	}, nil)
	if err == nil {
		t.Fatalf("Compile with unknown column should fail")
	}
}

func TestQueryTypeScanWhenEmpty(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan := chain.QueryType(); plan.Kind != Scan {
		t.Fatalf("QueryType() = %v, want Scan", plan.Kind)
	}
}

func TestQueryTypeIndexedOnStrictEqualPK(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Equal, Literal: types.I64(42)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	plan := chain.QueryType()
	if plan.Kind != Indexed || len(plan.Hashes) != 1 {
		t.Fatalf("QueryType() = %+v, want Indexed with 1 hash", plan)
	}
}

func TestQueryTypeScanOnNonPKAtom(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "name", Operator: Equal, Literal: types.String(types.KindStringSmall, "Ada")},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan := chain.QueryType(); plan.Kind != Scan {
		t.Fatalf("QueryType() = %v, want Scan", plan.Kind)
	}
}

func TestQueryTypeScanOnPKRangeOperator(t *testing.T) {
	chain, err := Compile(testColumnNames, testColumns, []AtomSpec{
		{Column: "id", Operator: Greater, Literal: types.I64(1)},
	}, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan := chain.QueryType(); plan.Kind != Scan {
		t.Fatalf("QueryType() = %v, want Scan (range on PK must not be indexed per spec §9)", plan.Kind)
	}
}

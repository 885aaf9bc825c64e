// Package predicate implements the query predicate engine (spec §4.4): a
// flat chain of atomic comparisons joined left-to-right by And/Or with
// short-circuit evaluation and no operator precedence.
package predicate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

// Operator is one atomic comparison kind (spec §4.4).
type Operator int

const (
	Equal Operator = iota
	StrictEqual
	Greater
	GreaterEqual
	Lower
	LowerEqual
	Different
	StringContains
	StringContainsCaseInsensitive
	StringRegex
)

// Gate joins two adjacent atoms in the chain.
type Gate int

const (
	And Gate = iota
	Or
)

// AtomSpec is an uncompiled atom: a column name, an operator, and a literal
// value not yet bound to the column's kind.
type AtomSpec struct {
	Column   string
	Operator Operator
	Literal  types.Value
}

// atom is a compiled atom: column resolved to its index, literal coerced to
// the column's kind (spec §4.4: "literal coercion by column kind is
// mandatory").
type atom struct {
	column  string
	index   int
	op      Operator
	literal types.Value
}

// Chain is a compiled predicate: a left-to-right fold of atoms joined by
// gates. len(gates) == len(atoms)-1. Regex patterns are compiled lazily and
// cached for the lifetime of the Chain, i.e. once per evaluation run (spec
// §4.4: "Regex is compiled once per pattern per evaluation run (cache is
// per predicate run)") — construct a fresh Chain per run if a different
// cache scope is required.
type Chain struct {
	atoms      []atom
	gates      []Gate
	regexCache map[string]*regexp.Regexp
}

// Compile resolves every atom's column name against columnNames and coerces
// its literal to the matching column kind, failing with NotFound on an
// unknown column and TypeMismatch on an uncoercible literal or a gate
// count that does not match the atom count.
func Compile(columnNames []string, columns []types.Kind, specs []AtomSpec, gates []Gate) (*Chain, error) {
	if len(specs) > 0 && len(gates) != len(specs)-1 {
		return nil, tytoerr.New(tytoerr.TypeMismatch, "predicate.Compile",
			fmt.Sprintf("expected %d gates for %d atoms, got %d", len(specs)-1, len(specs), len(gates)))
	}
	atoms := make([]atom, 0, len(specs))
	for _, spec := range specs {
		idx := -1
		for i, name := range columnNames {
			if name == spec.Column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, tytoerr.New(tytoerr.NotFound, "predicate.Compile",
				fmt.Sprintf("unknown column %q", spec.Column))
		}
		literal, err := spec.Literal.CoerceTo(columns[idx])
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, atom{column: spec.Column, index: idx, op: spec.Operator, literal: literal})
	}
	return &Chain{atoms: atoms, gates: gates}, nil
}

// Atoms exposes the compiled atoms read-only, for the planner.
func (c *Chain) Atoms() []AtomSpec {
	out := make([]AtomSpec, len(c.atoms))
	for i, a := range c.atoms {
		out[i] = AtomSpec{Column: a.column, Operator: a.op, Literal: a.literal}
	}
	return out
}

// Len reports the number of compiled atoms.
func (c *Chain) Len() int { return len(c.atoms) }

// Empty reports whether the chain has no atoms (spec §4.4: an empty chain
// matches every row).
func (c *Chain) Empty() bool { return len(c.atoms) == 0 }

// Evaluate runs the chain left-to-right against row, carrying a running
// boolean, and short-circuits the moment the outcome is decided: an
// And-gate seeing false, or an Or-gate seeing true, stops evaluation and
// returns immediately without touching the remaining atoms (spec §4.4:
// "And short-circuits on false, Or short-circuits on true", matching
// `query_conditions.rs::row_match`'s break-on-decision loop). A missing
// column (row shorter than the atom's index) causes that atom to be
// skipped entirely — treated as if it were absent from the chain,
// including its connecting gate (spec §4.4: "missing columns in a row
// cause that atom to be skipped (treated as 'no effect')").
func (c *Chain) Evaluate(row []types.Value) (bool, error) {
	if len(c.atoms) == 0 {
		return true, nil
	}
	result := false
	have := false
	for i, a := range c.atoms {
		if a.index >= len(row) {
			continue
		}
		if have {
			if gate := c.gates[i-1]; gate == And && !result {
				return false, nil
			} else if gate == Or && result {
				return true, nil
			}
		}
		check, err := c.evalAtom(a, row[a.index])
		if err != nil {
			return false, err
		}
		if !have {
			result = check
			have = true
			continue
		}
		gate := c.gates[i-1]
		switch gate {
		case And:
			result = result && check
		case Or:
			result = result || check
		}
		if gate == And && !result {
			return false, nil
		}
		if gate == Or && result {
			return true, nil
		}
	}
	if !have {
		return true, nil
	}
	return result, nil
}

func (c *Chain) evalAtom(a atom, rowValue types.Value) (bool, error) {
	switch a.op {
	case Equal, StrictEqual:
		return rowValue.Equal(a.literal), nil
	case Different:
		return !rowValue.Equal(a.literal), nil
	case Greater, GreaterEqual, Lower, LowerEqual:
		cmp, ok := rowValue.Compare(a.literal)
		if !ok {
			return false, tytoerr.New(tytoerr.TypeMismatch, "predicate.evalAtom",
				fmt.Sprintf("column %q is not numeric-comparable", a.column))
		}
		switch a.op {
		case Greater:
			return cmp > 0, nil
		case GreaterEqual:
			return cmp >= 0, nil
		case Lower:
			return cmp < 0, nil
		case LowerEqual:
			return cmp <= 0, nil
		}
	case StringContains, StringContainsCaseInsensitive:
		rowStr, ok1 := rowValue.AsString()
		litStr, ok2 := a.literal.AsString()
		if !ok1 || !ok2 {
			return false, tytoerr.New(tytoerr.TypeMismatch, "predicate.evalAtom",
				fmt.Sprintf("column %q cannot be used in a string operation", a.column))
		}
		if a.op == StringContainsCaseInsensitive {
			return strings.Contains(strings.ToLower(rowStr), strings.ToLower(litStr)), nil
		}
		return strings.Contains(rowStr, litStr), nil
	case StringRegex:
		rowStr, ok1 := rowValue.AsString()
		pattern, ok2 := a.literal.AsString()
		if !ok1 || !ok2 {
			return false, tytoerr.New(tytoerr.TypeMismatch, "predicate.evalAtom",
				fmt.Sprintf("column %q cannot be used in a regex operation", a.column))
		}
		re, err := c.compiledRegex(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(rowStr), nil
	}
	return false, tytoerr.New(tytoerr.TypeMismatch, "predicate.evalAtom",
		fmt.Sprintf("unhandled operator %d", a.op))
}

func (c *Chain) compiledRegex(pattern string) (*regexp.Regexp, error) {
	if c.regexCache == nil {
		c.regexCache = make(map[string]*regexp.Regexp)
	}
	if re, ok := c.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.TypeMismatch, "predicate.compiledRegex", err)
	}
	c.regexCache[pattern] = re
	return re, nil
}

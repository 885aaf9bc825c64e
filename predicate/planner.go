package predicate

import (
	"github.com/FeatheredSystems/TytoDB/hashindex"
	"github.com/FeatheredSystems/TytoDB/types"
)

// PlanKind distinguishes a full scan from an indexed lookup.
type PlanKind int

const (
	Scan PlanKind = iota
	Indexed
)

// Plan is the result of query_type (spec §4.4): either Scan, or Indexed
// with one hash per strict-equality atom on the primary key (a chain can
// carry more than one such atom, e.g. `pk == 1 Or pk == 2`).
type Plan struct {
	Kind   PlanKind
	Hashes []uint64
}

// pkColumnIndex is fixed by spec §3: "the first column is the primary key".
const pkColumnIndex = 0

// QueryType implements spec §4.4's planner: an empty chain, or one with no
// atom touching the primary key, plans a Scan. Otherwise every strict
// equality atom on the primary key contributes a candidate hash to an
// Indexed plan; if none of the PK atoms use Equal/StrictEqual, fall back to
// Scan. Per spec §9's open question, range-planning on the primary key is
// deliberately NOT attempted — only strict equality is ever indexed.
func (c *Chain) QueryType() Plan {
	if c.Empty() {
		return Plan{Kind: Scan}
	}
	var hashes []uint64
	for _, a := range c.atoms {
		if a.index != pkColumnIndex {
			continue
		}
		if a.op == Equal || a.op == StrictEqual {
			hashes = append(hashes, hashindex.Hash64(types.CanonicalBytes(a.literal)))
		}
	}
	if len(hashes) == 0 {
		return Plan{Kind: Scan}
	}
	return Plan{Kind: Indexed, Hashes: hashes}
}

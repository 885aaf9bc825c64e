// Package search implements the two read-only query entry points (spec
// §4.5): a chunked sequential scan and an indexed point lookup. Neither
// ever mutates container state beyond the graveyard's opportunistic cache
// of newly-discovered tombstones.
package search

import (
	"github.com/FeatheredSystems/TytoDB/container"
	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

// scanChunkBytes is the nominal chunk size scan reads the row region in
// (spec §4.5: "chunks of floor(40960 / element_size) * element_size
// bytes (minimum one row)").
const scanChunkBytes = 40960

// Match is one matching row paired with the slot offset it currently
// occupies.
type Match struct {
	Offset uint64
	Row    []types.Value
}

// DefaultLimit means unbounded. Spec §9 flags the original's hardcoded
// 100-match scan cap as inconsistent across revisions and recommends an
// explicit, caller-controlled limit instead; callers that want the old
// ceiling can pass 100 themselves.
const DefaultLimit = 0

// Scan reads c's row region in aligned chunks, testing pred against every
// occupied, non-tombstoned slot, and stops once limit matches have
// accumulated (limit <= 0 means unbounded). It acquires the container lock
// for the duration of the read.
func Scan(c *container.Container, pred *predicate.Chain, limit int) ([]Match, error) {
	c.Lock()
	defer c.Unlock()
	return scanLocked(c, pred, limit)
}

func scanLocked(c *container.Container, pred *predicate.Chain, limit int) ([]Match, error) {
	elementSize := c.ElementSize()
	rowsPerChunk := scanChunkBytes / elementSize
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	chunkBytes := rowsPerChunk * elementSize

	info, err := c.File().Stat()
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "search.Scan", err)
	}
	headersOffset := c.HeadersOffset()
	if info.Size() <= headersOffset {
		return nil, nil
	}
	rowRegion := info.Size() - headersOffset

	var out []Match
	buf := make([]byte, chunkBytes)
	for pos := int64(0); pos < rowRegion; pos += int64(chunkBytes) {
		remaining := rowRegion - pos
		n := int64(chunkBytes)
		if remaining < n {
			n = remaining
		}
		n -= n % int64(elementSize)
		if n == 0 {
			break
		}
		chunk := buf[:n]
		if _, err := c.File().ReadAt(chunk, headersOffset+pos); err != nil {
			return nil, tytoerr.Wrap(tytoerr.Io, "search.Scan", err)
		}
		for off := int64(0); off < n; off += int64(elementSize) {
			slot := chunk[off : off+int64(elementSize)]
			offset := uint64(headersOffset + pos + off)

			if c.Graveyard().Contains(offset) {
				continue
			}
			if types.IsTombstone(slot) {
				c.Graveyard().Add(offset)
				continue
			}
			row, err := types.Deserialize(slot, c.Columns())
			if err != nil {
				return nil, err
			}
			ok, err := pred.Evaluate(row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, Match{Offset: offset, Row: row})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// IndexedLookup reads exactly one slot per candidate offset the predicate's
// plan produced, testing pred against each before emitting it. Callers
// should only invoke this when pred.QueryType().Kind == predicate.Indexed.
// It acquires the container lock for the duration of the read.
func IndexedLookup(c *container.Container, pred *predicate.Chain, candidateOffsets []uint64) ([]Match, error) {
	c.Lock()
	defer c.Unlock()
	return indexedLookupLocked(c, pred, candidateOffsets)
}

func indexedLookupLocked(c *container.Container, pred *predicate.Chain, candidateOffsets []uint64) ([]Match, error) {
	var out []Match
	buf := make([]byte, c.ElementSize())
	for _, offset := range candidateOffsets {
		if c.Graveyard().Contains(offset) {
			continue
		}
		if _, err := c.File().ReadAt(buf, int64(offset)); err != nil {
			return nil, tytoerr.Wrap(tytoerr.Io, "search.IndexedLookup", err)
		}
		if types.IsTombstone(buf) {
			c.Graveyard().Add(offset)
			continue
		}
		row, err := types.Deserialize(buf, c.Columns())
		if err != nil {
			return nil, err
		}
		ok, err := pred.Evaluate(row)
		if err != nil {
			return nil, err
		}
		if ok {
			rowCopy := append([]types.Value(nil), row...)
			out = append(out, Match{Offset: offset, Row: rowCopy})
		}
	}
	return out, nil
}

// Execute runs pred's planner and dispatches to IndexedLookup or Scan under
// a single lock acquisition, resolving candidate offsets from the
// container's index when the plan is Indexed (spec §4.4's query_type
// contract feeding §4.5's executor).
func Execute(c *container.Container, pred *predicate.Chain, limit int) ([]Match, error) {
	plan := pred.QueryType()
	c.Lock()
	defer c.Unlock()

	if plan.Kind != predicate.Indexed {
		return scanLocked(c, pred, limit)
	}
	offsets := make([]uint64, 0, len(plan.Hashes))
	for _, h := range plan.Hashes {
		offset, found, err := c.Index().Get(h)
		if err != nil {
			return nil, err
		}
		if found {
			offsets = append(offsets, offset)
		}
	}
	matches, err := indexedLookupLocked(c, pred, offsets)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

package container

import (
	"github.com/FeatheredSystems/TytoDB/hashindex"
	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

// MaxVacuumLength bounds the number of (dead, alive) pairs a single Vacuum
// call will relocate (spec §4.3.3, "e.g. 625000").
const MaxVacuumLength = 625000

// vacuumChunkBytes bounds how much of the row region is read into memory at
// once while building the tombstone bitmap (spec §4.3.3: "streaming the row
// region in ≤4 MiB chunks").
const vacuumChunkBytes = 4 << 20

// Vacuum offline-compacts the row file: every occupied high-offset slot
// paired with a tombstoned low-offset slot is relocated downward, then the
// trailing contiguous tombstone run is truncated away. It must not be
// called while any staged changes are outstanding (spec §4.3.3 step 1:
// "clear staging and graveyard cache" — Vacuum refuses to run over
// staged work rather than silently discarding it).
func (c *Container) Vacuum() (relocated int, err error) {
	c.Lock()
	defer c.Unlock()

	if len(c.mvcc) != 0 {
		return 0, tytoerr.New(tytoerr.Io, "container.Vacuum",
			"refusing to vacuum with staged changes outstanding; commit or rollback first")
	}
	c.graveyard.Clear()

	rows, err := c.arrlen()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}

	occupied, err := c.buildOccupancyBitmap(rows)
	if err != nil {
		return 0, err
	}

	fwd, back := uint64(0), rows-1
	pairs := 0
	for fwd < back && pairs < MaxVacuumLength {
		for fwd < back && occupied[fwd] {
			fwd++
		}
		for fwd < back && !occupied[back] {
			back--
		}
		if fwd >= back {
			break
		}
		deadOffset := uint64(c.headersOffset) + fwd*uint64(c.elementSize)
		aliveOffset := uint64(c.headersOffset) + back*uint64(c.elementSize)

		aliveBuf, err := c.readSlot(aliveOffset)
		if err != nil {
			return relocated, err
		}
		row, err := types.Deserialize(aliveBuf, c.columns)
		if err != nil {
			return relocated, err
		}
		if _, err := c.file.WriteAt(aliveBuf, int64(deadOffset)); err != nil {
			return relocated, tytoerr.Wrap(tytoerr.Io, "container.Vacuum", err)
		}
		tombstone := types.TombstoneFill(c.elementSize)
		if _, err := c.file.WriteAt(tombstone, int64(aliveOffset)); err != nil {
			return relocated, tytoerr.Wrap(tytoerr.Io, "container.Vacuum", err)
		}
		pkHash := hashindex.Hash64(types.CanonicalBytes(row[pkColumnIndex]))
		if err := c.index.Insert(pkHash, deadOffset); err != nil {
			return relocated, err
		}
		if err := c.index.Sync(); err != nil {
			return relocated, err
		}

		occupied[fwd] = true
		occupied[back] = false
		fwd++
		back--
		pairs++
		relocated++
	}

	if err := c.truncateTrailingTombstones(occupied); err != nil {
		return relocated, err
	}
	return relocated, nil
}

// buildOccupancyBitmap streams the row region in vacuumChunkBytes-sized
// chunks and returns one bool per row: true if occupied, false if
// tombstoned.
func (c *Container) buildOccupancyBitmap(rows uint64) ([]bool, error) {
	occupied := make([]bool, rows)
	rowsPerChunk := uint64(vacuumChunkBytes / c.elementSize)
	if rowsPerChunk == 0 {
		rowsPerChunk = 1
	}
	buf := make([]byte, 0, rowsPerChunk*uint64(c.elementSize))
	for start := uint64(0); start < rows; start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > rows {
			end = rows
		}
		n := end - start
		need := int(n) * c.elementSize
		if cap(buf) < need {
			buf = make([]byte, need)
		}
		buf = buf[:need]
		offset := int64(c.headersOffset) + int64(start)*int64(c.elementSize)
		if _, err := c.file.ReadAt(buf, offset); err != nil {
			return nil, tytoerr.Wrap(tytoerr.Io, "container.buildOccupancyBitmap", err)
		}
		for i := uint64(0); i < n; i++ {
			slot := buf[i*uint64(c.elementSize) : (i+1)*uint64(c.elementSize)]
			occupied[start+i] = !types.IsTombstone(slot)
		}
	}
	return occupied, nil
}

// truncateTrailingTombstones implements spec §4.3.3 step 5: shrink the file
// to discard the trailing contiguous run of tombstoned slots.
func (c *Container) truncateTrailingTombstones(occupied []bool) error {
	rows := uint64(len(occupied))
	newLen := rows
	for newLen > 0 && !occupied[newLen-1] {
		newLen--
	}
	if newLen == rows {
		return nil
	}
	newSize := c.headersOffset + int64(newLen)*int64(c.elementSize)
	if err := c.file.Truncate(newSize); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "container.truncateTrailingTombstones", err)
	}
	return nil
}

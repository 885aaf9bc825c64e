// Package ioshim is the external I/O shim (spec §4.6): a single capability
// to submit a batch of (offset, bytes) writes against an open file
// descriptor, returning once every entry is queued and completed. The
// Rust original crossed an FFI boundary into a static C library
// (`batch_write_data_c`) for this; the idiomatic Go analog used here is
// `golang.org/x/sys/unix.Pwritev`, coalescing contiguous entries into a
// single vectored syscall per run and falling back to one pwrite per
// non-contiguous entry.
package ioshim

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// MaxBatchEntries is the largest batch the engine ever submits in one call
// (spec §4.3 step 5 / §4.6: "pipes batches of ≤3000 entries at a time").
const MaxBatchEntries = 3000

// Entry is a single positioned write: Data must be written at Offset.
type Entry struct {
	Offset int64
	Data   []byte
}

// SubmitBatch writes every entry to f, preserving offsets and per-entry
// length exactly. Entries need not be sorted; contiguous runs (by ascending
// offset) are coalesced into a single Pwritev submission, so callers that
// hand in offset-sorted, densely-packed entries (the common case after a
// commit or vacuum pass) get one syscall per run instead of one per entry.
func SubmitBatch(f *os.File, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) > MaxBatchEntries {
		return tytoerr.New(tytoerr.Io, "ioshim.SubmitBatch",
			fmt.Sprintf("batch of %d entries exceeds MaxBatchEntries (%d)", len(entries), MaxBatchEntries))
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	fd := int(f.Fd())
	i := 0
	for i < len(sorted) {
		j := i + 1
		end := sorted[i].Offset + int64(len(sorted[i].Data))
		for j < len(sorted) && sorted[j].Offset == end {
			end += int64(len(sorted[j].Data))
			j++
		}
		if err := writeRun(fd, sorted[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// writeRun submits one contiguous run (entries whose offsets chain end to
// start) as a single vectored write starting at run[0].Offset.
func writeRun(fd int, run []Entry) error {
	if len(run) == 1 {
		if _, err := unix.Pwrite(fd, run[0].Data, run[0].Offset); err != nil {
			return tytoerr.Wrap(tytoerr.Io, "ioshim.writeRun", err)
		}
		return nil
	}
	iovs := make([][]byte, len(run))
	for i, e := range run {
		iovs[i] = e.Data
	}
	if _, err := unix.Pwritev(fd, iovs, run[0].Offset); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "ioshim.writeRun", err)
	}
	return nil
}

// ReadAt is the read-side counterpart used by the search executor and
// vacuum: a single positioned read of exactly len(buf) bytes.
func ReadAt(f *os.File, buf []byte, offset int64) error {
	n, err := f.ReadAt(buf, offset)
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "ioshim.ReadAt", err)
	}
	if n != len(buf) {
		return tytoerr.New(tytoerr.Io, "ioshim.ReadAt",
			fmt.Sprintf("short read: got %d bytes, want %d", n, len(buf)))
	}
	return nil
}

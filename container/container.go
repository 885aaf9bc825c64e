// Package container implements the Container component (spec §4.3): one
// row file plus its sidecars (primary-key hash index, write-ahead record),
// MVCC staging, commit/rollback, and vacuum compaction.
package container

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/FeatheredSystems/TytoDB/hashindex"
	"github.com/FeatheredSystems/TytoDB/ioshim"
	"github.com/FeatheredSystems/TytoDB/logger"
	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

const pkColumnIndex = 0

// StagedRow is one MVCC staging entry (spec §3: "an ordered mapping from
// absolute byte offset to (state, row)").
type StagedRow struct {
	State        Tag
	Row          []types.Value
	PKHash       uint64 // hash to insert at commit (Insert/Edit)
	OldPKHash    uint64 // hash to remove at commit (Edit/Delete)
	HasOldPKHash bool
}

// Change is one (column_index -> new_value) edit to apply to a matched row
// (spec §4.3: "composes a new row by applying (column_index → new_value)").
type Change struct {
	ColumnIndex int
	NewValue    types.Value
}

// Container owns one row file and its sidecars.
type Container struct {
	mu        chanMutex
	lockStats LockStats

	rowPath       string
	file          *os.File
	columnNames   []string
	columns       []types.Kind
	elementSize   int
	headersOffset int64

	index     *hashindex.Index
	wal       *WAL
	graveyard *Graveyard

	mvcc map[uint64]StagedRow
}

// chanMutex is a plain mutual-exclusion lock; named so Container's lock
// field reads as what it models (spec §5's single "container lock"), not a
// generic sync.Mutex grabbed incidentally.
type chanMutex struct{ ch chan struct{} }

func newChanMutex() chanMutex {
	m := chanMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m.ch }
func (m chanMutex) Unlock() { m.ch <- struct{}{} }

// Open opens (or creates) the row file at rowPath along with its index and
// WAL sidecars, then replays any pending WAL entries into MVCC staging.
func Open(rowPath string, columnNames []string, columns []types.Kind, headersOffset int64) (*Container, error) {
	return openInternal(rowPath, columnNames, columns, headersOffset, nil)
}

// OpenSecured is Open plus HMAC integrity tagging of the WAL sidecar under
// integrityKey (derived by the caller from the database's shared secret).
// A non-nil key makes Open fail closed with IntegrityMismatch if the WAL's
// on-disk contents don't match its stored tag, before any replay happens.
func OpenSecured(rowPath string, columnNames []string, columns []types.Kind, headersOffset int64, integrityKey []byte) (*Container, error) {
	return openInternal(rowPath, columnNames, columns, headersOffset, integrityKey)
}

func openInternal(rowPath string, columnNames []string, columns []types.Kind, headersOffset int64, integrityKey []byte) (*Container, error) {
	f, err := os.OpenFile(rowPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "container.Open", err)
	}
	idx, err := hashindex.Open(rowPath + ".hashmap")
	if err != nil {
		return nil, err
	}
	wal, err := OpenWAL(rowPath+".mr", types.ElementSize(columns))
	if err != nil {
		return nil, err
	}
	if integrityKey != nil {
		wal.SetIntegrityKey(integrityKey)
		if err := wal.VerifyIntegrity(); err != nil {
			return nil, err
		}
	}
	c := &Container{
		mu:            newChanMutex(),
		rowPath:       rowPath,
		file:          f,
		columnNames:   columnNames,
		columns:       columns,
		elementSize:   types.ElementSize(columns),
		headersOffset: headersOffset,
		index:         idx,
		wal:           wal,
		graveyard:     NewGraveyard(MaxGraveyardInMemory),
		mvcc:          make(map[uint64]StagedRow),
	}
	if err := c.replayWAL(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) replayWAL() error {
	entries, err := c.wal.ReadAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		row, err := types.Deserialize(e.Row, c.columns)
		if err != nil {
			return err
		}
		staged := StagedRow{State: e.Tag, Row: row, PKHash: hashindex.Hash64(types.CanonicalBytes(row[pkColumnIndex]))}
		if e.Tag == TagEdit || e.Tag == TagDelete {
			staged.HasOldPKHash = true
			staged.OldPKHash = staged.PKHash
		}
		c.mvcc[e.Offset] = staged
	}
	if len(entries) > 0 {
		logger.Info("container %s: replayed %d WAL entries into staging", c.rowPath, len(entries))
	}
	return nil
}

// Lock acquires the single exclusive container lock described in spec §5.
// Exported so the search executor and admin surface can hold it across a
// multi-call operation (e.g. a whole scan).
func (c *Container) Lock() {
	start := time.Now()
	c.mu.Lock()
	c.lockStats.record(time.Since(start))
}

// Unlock releases the container lock.
func (c *Container) Unlock() { c.mu.Unlock() }

// LockStats returns the contention counters for this container's lock.
func (c *Container) LockStats() *LockStats { return &c.lockStats }

// ElementSize is the fixed on-disk row width.
func (c *Container) ElementSize() int { return c.elementSize }

// Columns is the ordered column kind list.
func (c *Container) Columns() []types.Kind { return c.columns }

// ColumnNames is the ordered column name list.
func (c *Container) ColumnNames() []string { return c.columnNames }

// HeadersOffset is the byte offset where the row region begins.
func (c *Container) HeadersOffset() int64 { return c.headersOffset }

// File exposes the underlying row file for the search executor's direct
// reads (taken under the container lock per spec §5).
func (c *Container) File() *os.File { return c.file }

// Index exposes the primary-key hash index.
func (c *Container) Index() *hashindex.Index { return c.index }

// Graveyard exposes the free-slot cache.
func (c *Container) Graveyard() *Graveyard { return c.graveyard }

// arrlen mirrors the original's row-count accessor: the number of rows
// implied by file size, or by the highest staged offset if that reaches
// further, whichever is larger.
func (c *Container) arrlen() (uint64, error) {
	info, err := c.file.Stat()
	if err != nil {
		return 0, tytoerr.Wrap(tytoerr.Io, "container.arrlen", err)
	}
	var fileRows uint64
	if info.Size() > c.headersOffset {
		fileRows = uint64(info.Size()-c.headersOffset) / uint64(c.elementSize)
	}
	var mvccMax uint64
	for offset := range c.mvcc {
		idx := (offset-uint64(c.headersOffset))/uint64(c.elementSize) + 1
		if idx > mvccMax {
			mvccMax = idx
		}
	}
	if mvccMax > fileRows {
		return mvccMax, nil
	}
	return fileRows, nil
}

// SlotCount reports the number of row-sized slots currently allocated in
// the row file (occupied and tombstoned alike), counting as well any slot
// past the end of the file that a staged entry has reserved, for
// introspection callers that don't need per-row detail.
func (c *Container) SlotCount() (uint64, error) {
	c.Lock()
	defer c.Unlock()
	return c.arrlen()
}

// nextOffset implements spec §4.3's push_row slot allocation: the smallest
// graveyard entry if any, else one past the highest staged offset, else
// end of file.
func (c *Container) nextOffset() (uint64, error) {
	if off, ok := c.graveyard.PopSmallest(); ok {
		return off, nil
	}
	var maxStaged uint64
	any := false
	for off := range c.mvcc {
		if !any || off > maxStaged {
			maxStaged = off
			any = true
		}
	}
	if any {
		return maxStaged + uint64(c.elementSize), nil
	}
	info, err := c.file.Stat()
	if err != nil {
		return 0, tytoerr.Wrap(tytoerr.Io, "container.nextOffset", err)
	}
	if info.Size() < c.headersOffset {
		return uint64(c.headersOffset), nil
	}
	return uint64(info.Size()), nil
}

func (c *Container) readSlot(offset uint64) ([]byte, error) {
	buf := make([]byte, c.elementSize)
	if err := ioshim.ReadAt(c.file, buf, int64(offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// PushRow stages an Insert (spec §4.3). It enforces PK uniqueness against
// the committed index; duplicate keys fail with DuplicateKey without
// mutating any state.
func (c *Container) PushRow(row []types.Value) error {
	c.Lock()
	defer c.Unlock()

	coerced, err := types.CoerceRow(row, c.columns)
	if err != nil {
		return err
	}
	pkHash := hashindex.Hash64(types.CanonicalBytes(coerced[pkColumnIndex]))
	if _, found, err := c.index.Get(pkHash); err != nil {
		return err
	} else if found {
		return tytoerr.New(tytoerr.DuplicateKey, "container.PushRow",
			fmt.Sprintf("primary key already present (hash 0x%x)", pkHash))
	}

	offset, err := c.nextOffset()
	if err != nil {
		return err
	}
	serialized, err := types.Serialize(coerced, c.columns)
	if err != nil {
		return err
	}
	if err := c.wal.Append(TagInsert, serialized, offset); err != nil {
		return err
	}
	c.mvcc[offset] = StagedRow{State: TagInsert, Row: coerced, PKHash: pkHash}
	return nil
}

// match is one predicate hit: the matched row's current offset and its
// deserialized (pre-edit, pre-delete) values.
type match struct {
	offset uint64
	row    []types.Value
}

// findMatches runs pred over every currently committed row, consulting the
// index when the plan is Indexed and falling back to a full scan
// otherwise. Unlike the public search executor (§4.5), this internal path
// used by EditRow/DeleteRow never caps the number of matches — every
// matching row must be mutated.
func (c *Container) findMatches(pred *predicate.Chain) ([]match, error) {
	plan := pred.QueryType()
	var out []match

	consider := func(offset uint64) error {
		if c.graveyard.Contains(offset) {
			return nil
		}
		buf, err := c.readSlot(offset)
		if err != nil {
			return err
		}
		if types.IsTombstone(buf) {
			c.graveyard.Add(offset)
			return nil
		}
		row, err := types.Deserialize(buf, c.columns)
		if err != nil {
			return err
		}
		ok, err := pred.Evaluate(row)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, match{offset: offset, row: row})
		}
		return nil
	}

	if plan.Kind == predicate.Indexed {
		for _, h := range plan.Hashes {
			offset, found, err := c.index.Get(h)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			if err := consider(offset); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	rows, err := c.arrlen()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < rows; i++ {
		offset := uint64(c.headersOffset) + i*uint64(c.elementSize)
		if err := consider(offset); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EditRow stages an Edit for every row matching pred, applying changes
// positionally (spec §4.3).
func (c *Container) EditRow(pred *predicate.Chain, changes []Change) (int, error) {
	c.Lock()
	defer c.Unlock()

	matches, err := c.findMatches(pred)
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		newRow := append([]types.Value(nil), m.row...)
		for _, ch := range changes {
			if ch.ColumnIndex < 0 || ch.ColumnIndex >= len(c.columns) {
				return 0, tytoerr.New(tytoerr.NotFound, "container.EditRow",
					fmt.Sprintf("column index %d out of range", ch.ColumnIndex))
			}
			coerced, err := ch.NewValue.CoerceTo(c.columns[ch.ColumnIndex])
			if err != nil {
				return 0, err
			}
			newRow[ch.ColumnIndex] = coerced
		}
		oldPKHash := hashindex.Hash64(types.CanonicalBytes(m.row[pkColumnIndex]))
		newPKHash := hashindex.Hash64(types.CanonicalBytes(newRow[pkColumnIndex]))
		serialized, err := types.Serialize(newRow, c.columns)
		if err != nil {
			return 0, err
		}
		if err := c.wal.Append(TagEdit, serialized, m.offset); err != nil {
			return 0, err
		}
		c.mvcc[m.offset] = StagedRow{
			State: TagEdit, Row: newRow,
			PKHash: newPKHash, OldPKHash: oldPKHash, HasOldPKHash: true,
		}
	}
	return len(matches), nil
}

// DeleteRow stages a Delete for every row matching pred.
func (c *Container) DeleteRow(pred *predicate.Chain) (int, error) {
	c.Lock()
	defer c.Unlock()

	matches, err := c.findMatches(pred)
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		pkHash := hashindex.Hash64(types.CanonicalBytes(m.row[pkColumnIndex]))
		serialized, err := types.Serialize(m.row, c.columns)
		if err != nil {
			return 0, err
		}
		if err := c.wal.Append(TagDelete, serialized, m.offset); err != nil {
			return 0, err
		}
		c.mvcc[m.offset] = StagedRow{State: TagDelete, Row: m.row, OldPKHash: pkHash, HasOldPKHash: true}
	}
	return len(matches), nil
}

// Rollback discards all staged changes and truncates the WAL (spec §4.3).
func (c *Container) Rollback() error {
	c.Lock()
	defer c.Unlock()
	c.mvcc = make(map[uint64]StagedRow)
	return c.wal.Truncate()
}

// Commit materializes every staged change (spec §4.3): index inserts, then
// index removes, then index sync, then batched row writes, then WAL clear.
func (c *Container) Commit() error {
	c.Lock()
	defer c.Unlock()

	if len(c.mvcc) == 0 {
		return nil
	}

	type write struct {
		offset uint64
		bytes  []byte
	}
	var writes []write
	var indexInserts []struct {
		hash   uint64
		offset uint64
	}
	var indexRemoves []uint64

	offsets := make([]uint64, 0, len(c.mvcc))
	for off := range c.mvcc {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	tombstone := types.TombstoneFill(c.elementSize)

	for _, off := range offsets {
		staged := c.mvcc[off]
		switch staged.State {
		case TagInsert, TagEdit:
			serialized, err := types.Serialize(staged.Row, c.columns)
			if err != nil {
				return err
			}
			writes = append(writes, write{offset: off, bytes: serialized})
			indexInserts = append(indexInserts, struct {
				hash   uint64
				offset uint64
			}{staged.PKHash, off})
			// Removes run after inserts, so an edit that keeps its primary
			// key must not queue a removal of the hash it just re-inserted.
			if staged.HasOldPKHash && staged.OldPKHash != staged.PKHash {
				indexRemoves = append(indexRemoves, staged.OldPKHash)
			}
		case TagDelete:
			writes = append(writes, write{offset: off, bytes: tombstone})
			if staged.HasOldPKHash {
				indexRemoves = append(indexRemoves, staged.OldPKHash)
			}
			c.graveyard.Add(off)
		}
	}

	for _, ins := range indexInserts {
		if err := c.index.Insert(ins.hash, ins.offset); err != nil {
			return err
		}
	}
	for _, h := range indexRemoves {
		if err := c.index.Remove(h); err != nil {
			return err
		}
	}
	if err := c.index.Sync(); err != nil {
		return err
	}

	const maxBatch = ioshim.MaxBatchEntries
	for start := 0; start < len(writes); start += maxBatch {
		end := start + maxBatch
		if end > len(writes) {
			end = len(writes)
		}
		entries := make([]ioshim.Entry, end-start)
		for i, w := range writes[start:end] {
			entries[i] = ioshim.Entry{Offset: int64(w.offset), Data: w.bytes}
		}
		if err := ioshim.SubmitBatch(c.file, entries); err != nil {
			return err
		}
	}

	c.mvcc = make(map[uint64]StagedRow)
	if err := c.wal.Truncate(); err != nil {
		return err
	}
	logger.Debug("container %s: committed %d staged entries", c.rowPath, len(offsets))
	return nil
}

// Verify audits the primary-key index against the row file: for every
// Occupied cell it reads the slot the cell points at and confirms the slot
// is not a tombstone and deserializes to a row whose primary key hashes
// back to the cell's key. It never mutates state; callers decide what to
// do with reported mismatches (spec §9's index-before-row-write crash
// ordering question).
func (c *Container) Verify() ([]hashindex.Mismatch, error) {
	c.Lock()
	defer c.Unlock()

	return c.index.Verify(func(key, value uint64) (bool, string, error) {
		buf, err := c.readSlot(value)
		if err != nil {
			return false, "", err
		}
		if types.IsTombstone(buf) {
			return false, fmt.Sprintf("offset %d is tombstoned", value), nil
		}
		row, err := types.Deserialize(buf, c.columns)
		if err != nil {
			return false, "", err
		}
		gotHash := hashindex.Hash64(types.CanonicalBytes(row[pkColumnIndex]))
		if gotHash != key {
			return false, fmt.Sprintf("offset %d holds pk hash 0x%x, index expects 0x%x", value, gotHash, key), nil
		}
		return true, "", nil
	})
}

// Close closes the row file and every sidecar.
func (c *Container) Close() error {
	if err := c.index.Close(); err != nil {
		return err
	}
	if err := c.wal.Close(); err != nil {
		return err
	}
	if err := c.file.Close(); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "container.Close", err)
	}
	return nil
}

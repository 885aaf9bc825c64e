package container

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// Tag is the staged-operation kind recorded in a WAL entry (spec §4.3.2).
type Tag uint8

const (
	TagInsert Tag = 0
	TagEdit   Tag = 1
	TagDelete Tag = 2
)

// Entry is one write-ahead record: tag(u8) || serialized_row(element_size
// bytes) || offset(u64 le), per spec §4.3.2.
type Entry struct {
	Tag    Tag
	Row    []byte
	Offset uint64
}

// WAL is the append-only write-ahead record at `<container>.mr`.
type WAL struct {
	file         *os.File
	path         string
	elementSize  int
	integrityKey []byte
}

func walEntrySize(elementSize int) int64 { return 1 + int64(elementSize) + 8 }

// OpenWAL opens (creating if necessary) the WAL sidecar at path.
func OpenWAL(path string, elementSize int) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "wal.Open", err)
	}
	return &WAL{file: f, path: path, elementSize: elementSize}, nil
}

// SetIntegrityKey enables HMAC tagging of the WAL's contents under key,
// derived by the caller from the database's shared secret (spec's ambient
// durability hardening, not part of the on-disk entry layout itself: the
// tag lives in a `<path>.hmac` sidecar, so the fixed tag/row/offset stride
// of each entry is untouched).
func (w *WAL) SetIntegrityKey(key []byte) {
	w.integrityKey = key
}

func (w *WAL) hmacSidecarPath() string { return w.path + ".hmac" }

func (w *WAL) computeTag() ([]byte, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "wal.computeTag", err)
	}
	mac := hmac.New(sha256.New, w.integrityKey)
	if _, err := io.Copy(mac, w.file); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "wal.computeTag", err)
	}
	return mac.Sum(nil), nil
}

// writeIntegrityTag recomputes and persists the WAL's HMAC sidecar. A
// no-op when no integrity key is set.
func (w *WAL) writeIntegrityTag() error {
	if w.integrityKey == nil {
		return nil
	}
	tag, err := w.computeTag()
	if err != nil {
		return err
	}
	if err := os.WriteFile(w.hmacSidecarPath(), tag, 0o600); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.writeIntegrityTag", err)
	}
	return nil
}

// VerifyIntegrity checks the WAL's contents against its HMAC sidecar. A
// missing sidecar is treated as first-run (a tag is written, not an
// error); a mismatch reports IntegrityMismatch. A no-op when no integrity
// key is set.
func (w *WAL) VerifyIntegrity() error {
	if w.integrityKey == nil {
		return nil
	}
	stored, err := os.ReadFile(w.hmacSidecarPath())
	if os.IsNotExist(err) {
		return w.writeIntegrityTag()
	}
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.VerifyIntegrity", err)
	}
	computed, err := w.computeTag()
	if err != nil {
		return err
	}
	if !bytes.Equal(stored, computed) {
		return tytoerr.New(tytoerr.IntegrityMismatch, "wal.VerifyIntegrity",
			fmt.Sprintf("WAL %q failed its integrity check", w.path))
	}
	return nil
}

// Append writes one entry to the end of the log. row must be exactly
// elementSize bytes.
func (w *WAL) Append(tag Tag, row []byte, offset uint64) error {
	if len(row) != w.elementSize {
		return tytoerr.New(tytoerr.SerializationSize, "wal.Append",
			fmt.Sprintf("row is %d bytes, want %d", len(row), w.elementSize))
	}
	info, err := w.file.Stat()
	if err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.Append", err)
	}
	buf := make([]byte, walEntrySize(w.elementSize))
	buf[0] = byte(tag)
	copy(buf[1:1+w.elementSize], row)
	binary.LittleEndian.PutUint64(buf[1+w.elementSize:], offset)
	if _, err := w.file.WriteAt(buf, info.Size()); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.Append", err)
	}
	return w.writeIntegrityTag()
}

// ReadAll replays every entry currently in the log, in append order. Spec
// §4.3.2: "the file is consumed in fixed-stride chunks and replayed into
// staging" — a trailing partial entry (a crash mid-append) is ignored.
func (w *WAL) ReadAll() ([]Entry, error) {
	info, err := w.file.Stat()
	if err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "wal.ReadAll", err)
	}
	stride := walEntrySize(w.elementSize)
	n := info.Size() / stride
	entries := make([]Entry, 0, n)
	buf := make([]byte, stride)
	for i := int64(0); i < n; i++ {
		if _, err := w.file.ReadAt(buf, i*stride); err != nil {
			return nil, tytoerr.Wrap(tytoerr.Io, "wal.ReadAll", err)
		}
		row := make([]byte, w.elementSize)
		copy(row, buf[1:1+w.elementSize])
		entries = append(entries, Entry{
			Tag:    Tag(buf[0]),
			Row:    row,
			Offset: binary.LittleEndian.Uint64(buf[1+w.elementSize:]),
		})
	}
	return entries, nil
}

// Truncate empties the log (spec §4.3.2: "a successful commit truncates it
// to zero"; rollback does the same).
func (w *WAL) Truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.Truncate", err)
	}
	return w.writeIntegrityTag()
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	if err := w.file.Close(); err != nil {
		return tytoerr.Wrap(tytoerr.Io, "wal.Close", err)
	}
	return nil
}

package ioshim

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tempFile(t *testing.T, size int64) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestSubmitBatchContiguous(t *testing.T) {
	f := tempFile(t, 30)
	entries := []Entry{
		{Offset: 0, Data: []byte("aaaaaaaaaa")},
		{Offset: 10, Data: []byte("bbbbbbbbbb")},
		{Offset: 20, Data: []byte("cccccccccc")},
	}
	if err := SubmitBatch(f, entries); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	buf := make([]byte, 30)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := []byte("aaaaaaaaaabbbbbbbbbbcccccccccc")
	if !bytes.Equal(buf, want) {
		t.Fatalf("got %q, want %q", buf, want)
	}
}

func TestSubmitBatchNonContiguousAndUnsorted(t *testing.T) {
	f := tempFile(t, 40)
	entries := []Entry{
		{Offset: 30, Data: []byte("zzzz")},
		{Offset: 0, Data: []byte("aaaa")},
		{Offset: 15, Data: []byte("mmmm")},
	}
	if err := SubmitBatch(f, entries); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	check := func(off int64, want string) {
		buf := make([]byte, len(want))
		if _, err := f.ReadAt(buf, off); err != nil {
			t.Fatalf("ReadAt(%d): %v", off, err)
		}
		if string(buf) != want {
			t.Fatalf("at %d: got %q, want %q", off, buf, want)
		}
	}
	check(0, "aaaa")
	check(15, "mmmm")
	check(30, "zzzz")
}

func TestSubmitBatchEmpty(t *testing.T) {
	f := tempFile(t, 0)
	if err := SubmitBatch(f, nil); err != nil {
		t.Fatalf("SubmitBatch(nil): %v", err)
	}
}

func TestSubmitBatchTooLarge(t *testing.T) {
	f := tempFile(t, 1)
	entries := make([]Entry, MaxBatchEntries+1)
	for i := range entries {
		entries[i] = Entry{Offset: 0, Data: []byte{0}}
	}
	if err := SubmitBatch(f, entries); err == nil {
		t.Fatalf("SubmitBatch with %d entries should have failed", len(entries))
	}
}

func TestReadAt(t *testing.T) {
	f := tempFile(t, 10)
	if err := SubmitBatch(f, []Entry{{Offset: 0, Data: []byte("helloworld")}}); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	buf := make([]byte, 5)
	if err := ReadAt(f, buf, 5); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("got %q, want %q", buf, "world")
	}
}

func TestReadAtShort(t *testing.T) {
	f := tempFile(t, 2)
	buf := make([]byte, 10)
	if err := ReadAt(f, buf, 0); err == nil {
		t.Fatalf("ReadAt should fail on short read")
	}
}

package database

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
	"github.com/FeatheredSystems/TytoDB/types"
)

// writeHeader writes the row-file header block (spec §6): column_count(u64
// le) followed by, for each column, name_len(u64 le) || name_bytes ||
// type_id(u8). It returns headers_offset, the byte length of the block,
// matching the original's create_container_headers/get_container_headers
// byte-for-byte.
func writeHeader(f *os.File, columnNames []string, columns []types.Kind) (int64, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(len(columnNames)))
	for i, name := range columnNames {
		nameBytes := []byte(name)
		entry := make([]byte, 8+len(nameBytes)+1)
		binary.LittleEndian.PutUint64(entry[:8], uint64(len(nameBytes)))
		copy(entry[8:8+len(nameBytes)], nameBytes)
		entry[8+len(nameBytes)] = columns[i].ID()
		buf = append(buf, entry...)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return 0, tytoerr.Wrap(tytoerr.Io, "database.writeHeader", err)
	}
	return int64(len(buf)), nil
}

// readHeader parses the row-file header block back out of f, returning the
// ordered column names/kinds and headers_offset.
func readHeader(f *os.File) (columnNames []string, columns []types.Kind, headersOffset int64, err error) {
	var countBuf [8]byte
	if _, err = f.ReadAt(countBuf[:], 0); err != nil {
		return nil, nil, 0, tytoerr.Wrap(tytoerr.BadHeader, "database.readHeader", err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	offset := int64(8)

	columnNames = make([]string, 0, count)
	columns = make([]types.Kind, 0, count)
	for i := uint64(0); i < count; i++ {
		var lenBuf [8]byte
		if _, err = f.ReadAt(lenBuf[:], offset); err != nil {
			return nil, nil, 0, tytoerr.Wrap(tytoerr.BadHeader, "database.readHeader", err)
		}
		offset += 8
		nameLen := binary.LittleEndian.Uint64(lenBuf[:])
		nameBytes := make([]byte, nameLen)
		if _, err = f.ReadAt(nameBytes, offset); err != nil {
			return nil, nil, 0, tytoerr.Wrap(tytoerr.BadHeader, "database.readHeader", err)
		}
		offset += int64(nameLen)
		var typeBuf [1]byte
		if _, err = f.ReadAt(typeBuf[:], offset); err != nil {
			return nil, nil, 0, tytoerr.Wrap(tytoerr.BadHeader, "database.readHeader", err)
		}
		offset++
		kind, ok := types.KindFromID(typeBuf[0])
		if !ok {
			return nil, nil, 0, tytoerr.New(tytoerr.BadHeader, "database.readHeader",
				fmt.Sprintf("unknown column type id %d", typeBuf[0]))
		}
		columnNames = append(columnNames, string(nameBytes))
		columns = append(columns, kind)
	}
	return columnNames, columns, offset, nil
}

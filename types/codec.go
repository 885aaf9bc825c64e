package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// TombstoneByte is the fill value written into a deleted slot (spec
// Glossary: "a slot whose bytes equal 0xFF repeated for element_size").
const TombstoneByte = 0xFF

// CoerceRow binds each positional value in row to its column's declared
// kind (spec §4.4). A column that row doesn't reach gets None(), which
// binds only to a KindNone column; for any other kind the short row fails
// with TypeMismatch.
func CoerceRow(row []Value, cols []Kind) ([]Value, error) {
	out := make([]Value, len(cols))
	for i, col := range cols {
		var v Value
		if i < len(row) {
			v = row[i]
		} else {
			v = None()
		}
		coerced, err := v.CoerceTo(col)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

// Serialize writes row positionally against cols, each value to its
// declared kind's fixed width (spec §4.1). It refuses a row whose total
// serialized length differs from ElementSize(cols).
func Serialize(row []Value, cols []Kind) ([]byte, error) {
	coerced, err := CoerceRow(row, cols)
	if err != nil {
		return nil, err
	}
	size := ElementSize(cols)
	buf := make([]byte, 0, size)
	for i, col := range cols {
		b, err := serializeOne(coerced[i], col)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	if len(buf) != size {
		return nil, tytoerr.New(tytoerr.SerializationSize, "codec.serialize",
			fmt.Sprintf("expected %d bytes, got %d", size, len(buf)))
	}
	return buf, nil
}

func serializeOne(v Value, col Kind) ([]byte, error) {
	switch col {
	case KindI32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v.I32))
		return b, nil
	case KindI64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.I64))
		return b, nil
	case KindF64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v.F64))
		return b, nil
	case KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindUnicodeScalar:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.Rune))
		return b, nil
	case KindNone:
		return nil, nil
	default:
		if col.IsString() {
			return serializeClosed(col, []byte(v.Str), true), nil
		}
		if col.IsBytes() {
			return serializeClosed(col, v.Bytes, false), nil
		}
	}
	return nil, tytoerr.New(tytoerr.TypeMismatch, "codec.serializeOne",
		fmt.Sprintf("unhandled column kind %s", col))
}

// serializeClosed encodes a bounded string/bytes payload as:
// len-prefix(8 bytes) || payload || zero-pad, to exactly col.Size() bytes.
// Strings use a big-endian length prefix, bytes a little-endian one (spec
// §3: "8-byte big-endian length + payload" vs "8-byte little-endian
// length + payload").
func serializeClosed(col Kind, payload []byte, bigEndianLen bool) []byte {
	size := col.Size()
	cap := col.payloadCap()
	if len(payload) > cap {
		payload = payload[:cap]
	}
	out := make([]byte, size)
	if bigEndianLen {
		binary.BigEndian.PutUint64(out[0:8], uint64(len(payload)))
	} else {
		binary.LittleEndian.PutUint64(out[0:8], uint64(len(payload)))
	}
	copy(out[8:8+len(payload)], payload)
	return out
}

// IsTombstone reports whether buf is a full-width run of TombstoneByte, the
// pattern written at a freed slot (spec §4.3.1).
func IsTombstone(buf []byte) bool {
	for _, b := range buf {
		if b != TombstoneByte {
			return false
		}
	}
	return true
}

// TombstoneFill returns a fresh tombstone-pattern buffer of the given width.
func TombstoneFill(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = TombstoneByte
	}
	return buf
}

// Deserialize reads buf positionally according to cols. buf must be exactly
// ElementSize(cols) bytes; callers are responsible for never presenting a
// tombstone-filled slot here (spec §4.1).
func Deserialize(buf []byte, cols []Kind) ([]Value, error) {
	want := ElementSize(cols)
	if len(buf) != want {
		return nil, tytoerr.New(tytoerr.SerializationSize, "codec.deserialize",
			fmt.Sprintf("expected %d bytes, got %d", want, len(buf)))
	}
	values := make([]Value, 0, len(cols))
	off := 0
	for _, col := range cols {
		v, n, err := deserializeOne(buf[off:], col)
		if err != nil {
			return nil, err
		}
		off += n
		values = append(values, v)
	}
	return values, nil
}

func deserializeOne(buf []byte, col Kind) (Value, int, error) {
	switch col {
	case KindI32:
		return I32(int32(binary.BigEndian.Uint32(buf[:4]))), 4, nil
	case KindI64:
		return I64(int64(binary.BigEndian.Uint64(buf[:8]))), 8, nil
	case KindF64:
		return F64(math.Float64frombits(binary.BigEndian.Uint64(buf[:8]))), 8, nil
	case KindBool:
		return Bool(buf[0] != 0), 1, nil
	case KindUnicodeScalar:
		code := binary.LittleEndian.Uint32(buf[:4])
		r := rune(code)
		if code > utf8.MaxRune || !utf8.ValidRune(r) {
			return Value{}, 0, tytoerr.New(tytoerr.InvalidUnicode, "codec.deserializeOne",
				fmt.Sprintf("code point 0x%x is not a valid unicode scalar value", code))
		}
		return Rune(r), 4, nil
	case KindNone:
		return None(), 0, nil
	default:
		if col.IsString() {
			s, n := deserializeClosedString(col, buf)
			return Value{Kind: col, Str: s}, n, nil
		}
		if col.IsBytes() {
			b, n := deserializeClosedBytes(col, buf)
			return Value{Kind: col, Bytes: b}, n, nil
		}
	}
	return Value{}, 0, tytoerr.New(tytoerr.TypeMismatch, "codec.deserializeOne",
		fmt.Sprintf("unhandled column kind %s", col))
}

func deserializeClosedString(col Kind, buf []byte) (string, int) {
	size := col.Size()
	window := buf[:size]
	length := binary.BigEndian.Uint64(window[0:8])
	cap := col.payloadCap()
	n := int(length)
	if n > cap {
		n = cap
	}
	payload := window[8 : 8+n]
	return string(payload), size
}

func deserializeClosedBytes(col Kind, buf []byte) ([]byte, int) {
	size := col.Size()
	window := buf[:size]
	length := binary.LittleEndian.Uint64(window[0:8])
	cap := col.payloadCap()
	n := int(length)
	if n > cap {
		n = cap
	}
	payload := make([]byte, n)
	copy(payload, window[8:8+n])
	return payload, size
}

package types

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

// Value is a tagged variant over Kind (spec §9 Design Notes: "Model as a
// tagged variant over the enumerated kinds ... avoid runtime reflection").
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	I32   int32
	I64   int64
	F64   float64
	Bool  bool
	Rune  rune
	Str   string
	Bytes []byte
}

// ZeroValue returns the zero-valued Value for k, used when a caller needs a
// placeholder for a column a partial row leaves unspecified but the
// fixed-width codec still requires a value for every column (e.g. a
// CreateRow command naming only a subset of columns, spec §6).
func ZeroValue(k Kind) Value {
	switch k {
	case KindI32:
		return I32(0)
	case KindI64:
		return I64(0)
	case KindF64:
		return F64(0)
	case KindBool:
		return Bool(false)
	case KindUnicodeScalar:
		return Rune(0)
	case KindNone:
		return None()
	default:
		if k.IsString() {
			return String(k, "")
		}
		if k.IsBytes() {
			return BytesOf(k, nil)
		}
		return None()
	}
}

// CanonicalBytes renders v into a stable byte sequence suitable for hashing
// (spec §4.2's pk_hash) regardless of kind. It is not a wire format — only
// stability and uniqueness-per-value matter here, not compactness.
func CanonicalBytes(v Value) []byte {
	switch v.Kind {
	case KindI32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.I32))
		return b[:]
	case KindI64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.I64))
		return b[:]
	case KindF64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.F64))
		return b[:]
	case KindBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case KindUnicodeScalar:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Rune))
		return b[:]
	case KindNone:
		return nil
	default:
		if v.Kind.IsString() {
			return []byte(v.Str)
		}
		if v.Kind.IsBytes() {
			return v.Bytes
		}
		return nil
	}
}

func I32(v int32) Value  { return Value{Kind: KindI32, I32: v} }
func I64(v int64) Value  { return Value{Kind: KindI64, I64: v} }
func F64(v float64) Value { return Value{Kind: KindF64, F64: v} }
func Bool(v bool) Value  { return Value{Kind: KindBool, Bool: v} }
func Rune(v rune) Value  { return Value{Kind: KindUnicodeScalar, Rune: v} }
func None() Value        { return Value{Kind: KindNone} }

// String builds a bounded-string value of the given kind, truncating the
// payload to the kind's capacity.
func String(k Kind, s string) Value {
	return Value{Kind: k, Str: truncateString(k, s)}
}

// BytesOf builds a bounded-bytes value of the given kind, truncating the
// payload to the kind's capacity.
func BytesOf(k Kind, b []byte) Value {
	return Value{Kind: k, Bytes: truncateBytes(k, b)}
}

func truncateString(k Kind, s string) string {
	cap := k.payloadCap()
	if cap <= 0 || len(s) <= cap {
		return s
	}
	return s[:cap]
}

func truncateBytes(k Kind, b []byte) []byte {
	cap := k.payloadCap()
	if cap <= 0 || len(b) <= cap {
		return b
	}
	out := make([]byte, cap)
	copy(out, b)
	return out
}

// CoerceTo binds a literal Value to a column's declared Kind, applying the
// widening/truncation rules of spec §4.4:
//   - a string literal bound to a bounded-string column is truncated,
//   - numeric literals widen to the column's width,
//   - a one-character string can bind to the unicode-scalar kind,
//   - bytes literals bind to bytes kinds with truncation.
//
// Mismatches fail with TypeMismatch.
func (v Value) CoerceTo(col Kind) (Value, error) {
	switch col {
	case KindI32:
		switch v.Kind {
		case KindI32:
			return v, nil
		case KindI64:
			return I32(int32(v.I64)), nil
		case KindF64:
			return I32(int32(v.F64)), nil
		}
	case KindI64:
		switch v.Kind {
		case KindI32:
			return I64(int64(v.I32)), nil
		case KindI64:
			return v, nil
		case KindF64:
			return I64(int64(v.F64)), nil
		}
	case KindF64:
		switch v.Kind {
		case KindI32:
			return F64(float64(v.I32)), nil
		case KindI64:
			return F64(float64(v.I64)), nil
		case KindF64:
			return v, nil
		}
	case KindBool:
		if v.Kind == KindBool {
			return v, nil
		}
	case KindUnicodeScalar:
		switch v.Kind {
		case KindUnicodeScalar:
			return v, nil
		case KindStringNano, KindStringSmall, KindStringMedium, KindStringBig, KindStringLarge:
			runes := []rune(v.Str)
			if len(runes) == 1 {
				return Rune(runes[0]), nil
			}
		}
	default:
		if col.IsString() {
			if v.Kind.IsString() || v.Kind == KindUnicodeScalar {
				s := v.Str
				if v.Kind == KindUnicodeScalar {
					s = string(v.Rune)
				}
				return String(col, s), nil
			}
		}
		if col.IsBytes() {
			if v.Kind.IsBytes() {
				return BytesOf(col, v.Bytes), nil
			}
		}
		if col == KindNone {
			return None(), nil
		}
	}
	return Value{}, tytoerr.New(tytoerr.TypeMismatch, "value.coerce",
		fmt.Sprintf("cannot bind literal of kind %s to column of kind %s", v.Kind, col))
}

// AsString returns a textual rendering of numeric/string values, used by the
// string-comparison operators (spec §4.4: StringContains and friends accept
// numeric row values rendered as text).
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindI32:
		return fmt.Sprintf("%d", v.I32), true
	case KindI64:
		return fmt.Sprintf("%d", v.I64), true
	case KindF64:
		return fmt.Sprintf("%g", v.F64), true
	case KindStringNano, KindStringSmall, KindStringMedium, KindStringBig, KindStringLarge:
		return v.Str, true
	default:
		return "", false
	}
}

// promoteNumeric converts a and b, each one of {i32, i64, f64}, to float64
// for comparison, following spec §4.4's numeric auto-promotion; ok is
// false if either side is not numeric.
func promoteNumeric(a, b Value) (af, bf float64, ok bool) {
	if !a.Kind.IsNumeric() || !b.Kind.IsNumeric() {
		return 0, 0, false
	}
	toF := func(v Value) float64 {
		switch v.Kind {
		case KindI32:
			return float64(v.I32)
		case KindI64:
			return float64(v.I64)
		case KindF64:
			return v.F64
		}
		return 0
	}
	return toF(a), toF(b), true
}

// Equal reports value equality, honoring numeric promotion for cross-kind
// comparisons and exact equality otherwise.
func (v Value) Equal(o Value) bool {
	if v.Kind.IsNumeric() && o.Kind.IsNumeric() {
		af, bf, _ := promoteNumeric(v, o)
		return af == bf
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindUnicodeScalar:
		return v.Rune == o.Rune
	case KindNone:
		return true
	default:
		if v.Kind.IsString() {
			return v.Str == o.Str
		}
		if v.Kind.IsBytes() {
			if len(v.Bytes) != len(o.Bytes) {
				return false
			}
			for i := range v.Bytes {
				if v.Bytes[i] != o.Bytes[i] {
					return false
				}
			}
			return true
		}
	}
	return false
}

// Compare returns -1, 0, 1 for numeric (with promotion) comparisons. ok is
// false if the pair is not comparable.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	af, bf, numeric := promoteNumeric(v, o)
	if !numeric {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

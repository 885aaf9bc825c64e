// Package types implements the closed set of column value kinds (spec §3)
// and the byte-exact row codec (spec §4.1) built on top of them.
package types

import "fmt"

// Kind is the closed set of column value kinds a container's schema can use.
// Every Kind has a fixed on-disk size; size and (de)serialization are
// dispatched on Kind, never via reflection.
type Kind uint8

const (
	KindI32 Kind = iota
	KindI64
	KindF64
	KindBool
	KindUnicodeScalar
	KindStringNano   // 18 bytes on disk (8-byte length prefix + 10 payload)
	KindStringSmall  // 108
	KindStringMedium // 508
	KindStringBig    // 2008
	KindStringLarge  // 3008
	KindBytesNano    // 18 bytes on disk (8-byte length prefix + 10 payload)
	KindBytesSmall   // 1008
	KindBytesMedium  // 10008
	KindBytesBig     // 100008
	KindBytesLarge   // 1000008
	// KindNone is the deprecated zero-size placeholder ("Text" in the
	// original source). It allocates no on-disk bytes and always
	// deserializes to an absent value; do not use it in new schemas.
	KindNone
)

func (k Kind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindUnicodeScalar:
		return "unicode_scalar"
	case KindStringNano:
		return "string_nano"
	case KindStringSmall:
		return "string_small"
	case KindStringMedium:
		return "string_medium"
	case KindStringBig:
		return "string_big"
	case KindStringLarge:
		return "string_large"
	case KindBytesNano:
		return "bytes_nano"
	case KindBytesSmall:
		return "bytes_small"
	case KindBytesMedium:
		return "bytes_medium"
	case KindBytesBig:
		return "bytes_big"
	case KindBytesLarge:
		return "bytes_large"
	case KindNone:
		return "none"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// lengthPrefixSize is the width of the length prefix carried by every
// bounded string/bytes kind.
const lengthPrefixSize = 8

// Size returns the fixed on-disk width of a value of this kind.
func (k Kind) Size() int {
	switch k {
	case KindI32:
		return 4
	case KindI64:
		return 8
	case KindF64:
		return 8
	case KindBool:
		return 1
	case KindUnicodeScalar:
		return 4
	case KindStringNano, KindBytesNano:
		return 18
	case KindStringSmall:
		return 108
	case KindBytesSmall:
		return 1008
	case KindStringMedium:
		return 508
	case KindBytesMedium:
		return 10008
	case KindStringBig:
		return 2008
	case KindBytesBig:
		return 100008
	case KindStringLarge:
		return 3008
	case KindBytesLarge:
		return 1000008
	case KindNone:
		return 0
	default:
		return 0
	}
}

// IsString reports whether k is one of the bounded string kinds.
func (k Kind) IsString() bool {
	switch k {
	case KindStringNano, KindStringSmall, KindStringMedium, KindStringBig, KindStringLarge:
		return true
	}
	return false
}

// IsBytes reports whether k is one of the bounded bytes kinds.
func (k Kind) IsBytes() bool {
	switch k {
	case KindBytesNano, KindBytesSmall, KindBytesMedium, KindBytesBig, KindBytesLarge:
		return true
	}
	return false
}

// IsNumeric reports whether k participates in the {i32, i64, f64}
// auto-promotion group used by numeric comparisons (spec §4.4).
func (k Kind) IsNumeric() bool {
	return k == KindI32 || k == KindI64 || k == KindF64
}

// payloadCap returns the number of bytes available for string/bytes payload
// after the length prefix, i.e. Size() - lengthPrefixSize.
func (k Kind) payloadCap() int {
	return k.Size() - lengthPrefixSize
}

// ElementSize returns the fixed on-disk row width for an ordered column list,
// i.e. element_size = sum(size(column_k)) (spec §3).
func ElementSize(kinds []Kind) int {
	total := 0
	for _, k := range kinds {
		total += k.Size()
	}
	return total
}

// KindFromID maps a stable numeric ID (used in the row-file header, spec §6)
// back to a Kind.
func KindFromID(id uint8) (Kind, bool) {
	k := Kind(id)
	if k > KindNone {
		return 0, false
	}
	return k, true
}

// ID returns the stable numeric ID for this kind, as stored in the row-file
// header (spec §6: `type_id(u8)`).
func (k Kind) ID() uint8 {
	return uint8(k)
}

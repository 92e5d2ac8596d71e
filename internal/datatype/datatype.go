// Package datatype defines the closed set of column kinds the engine
// stores, plus the conversions between literals, display strings, and
// on-disk bytes. All multi-byte encodings are little-endian; VarChar
// carries a uint16 length prefix.
package datatype

import (
	"encoding/binary"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DataType is a column kind. The numeric values are the on-disk type
// tags written into descriptor pages, so the order is frozen.
type DataType uint16

const (
	Char DataType = iota // single byte
	U32                  // 4-byte unsigned
	I32                  // 4-byte signed
	U64                  // 8-byte unsigned
	I64                  // 8-byte signed
	VarChar              // uint16 length prefix + bytes
)

func (t DataType) String() string {
	switch t {
	case Char:
		return "char"
	case U32:
		return "u32"
	case I32:
		return "i32"
	case U64:
		return "u64"
	case I64:
		return "i64"
	case VarChar:
		return "varchar"
	default:
		return "unknown"
	}
}

// FromTag maps an on-disk type tag back to a DataType.
func FromTag(tag uint16) (DataType, bool) {
	t := DataType(tag)
	return t, t <= VarChar
}

// Tag is the on-disk type tag.
func (t DataType) Tag() uint16 { return uint16(t) }

// IsFixedSize reports whether the kind has a static byte width.
func (t DataType) IsFixedSize() bool { return t != VarChar }

// FixedSize is the static width of a fixed kind; zero for VarChar.
func (t DataType) FixedSize() int {
	switch t {
	case Char:
		return 1
	case U32, I32:
		return 4
	case U64, I64:
		return 8
	default:
		return 0
	}
}

// DataSize is the width of one value of this kind at the start of
// bytes. For VarChar that means reading its own length prefix; the
// second return is false when the prefix is truncated.
func (t DataType) DataSize(bytes []byte) (int, bool) {
	if t.IsFixedSize() {
		return t.FixedSize(), true
	}
	if len(bytes) < 2 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint16(bytes)) + 2, true
}

// ───────────────────────────────────────────────────────────────────────────
// SQL kinds
// ───────────────────────────────────────────────────────────────────────────

// SQLKind is a parsed SQL column type as the (external) parser reports
// it: a name plus an optional size argument.
type SQLKind struct {
	Name string // "char", "varchar", "int" (case-insensitive)
	Size int
}

// FromSQLKind maps a SQL column type onto a storage kind. Char(1) is a
// Char; any wider Char degrades to VarChar. Unrecognized kinds return
// false.
func FromSQLKind(k SQLKind) (DataType, bool) {
	switch strings.ToLower(k.Name) {
	case "char":
		if k.Size == 1 {
			return Char, true
		}
		return VarChar, true
	case "varchar":
		return VarChar, true
	case "int":
		return I32, true
	default:
		return 0, false
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Literals
// ───────────────────────────────────────────────────────────────────────────

// LiteralKind discriminates Literal.
type LiteralKind uint8

const (
	LiteralString LiteralKind = iota
	LiteralInt
)

// Literal is a typed constant from the (external) SQL AST.
type Literal struct {
	Kind LiteralKind
	Str  string
	Int  int64
}

// StringLit builds a string literal.
func StringLit(s string) Literal { return Literal{Kind: LiteralString, Str: s} }

// IntLit builds an integer literal.
func IntLit(v int64) Literal { return Literal{Kind: LiteralInt, Int: v} }

// String renders the literal the way DataToString would.
func (l Literal) String() string {
	if l.Kind == LiteralInt {
		return strconv.FormatInt(l.Int, 10)
	}
	return l.Str
}

// MatchLiteral reports whether a literal is storable under this kind.
func (t DataType) MatchLiteral(lit Literal) bool {
	switch t {
	case Char:
		return lit.Kind == LiteralString && len(lit.Str) == 1
	case U32, I32, U64, I64:
		return lit.Kind == LiteralInt
	case VarChar:
		return lit.Kind == LiteralString
	default:
		return false
	}
}

// DataFromLiteral encodes a literal; false when the literal does not
// match the kind.
func (t DataType) DataFromLiteral(lit Literal) ([]byte, bool) {
	if !t.MatchLiteral(lit) {
		return nil, false
	}
	switch t {
	case Char, VarChar:
		return t.StringToData(lit.Str)
	default:
		return t.StringToData(strconv.FormatInt(lit.Int, 10))
	}
}

// StringToData parses a display string into the kind's byte encoding.
func (t DataType) StringToData(s string) ([]byte, bool) {
	switch t {
	case Char:
		if len(s) != 1 {
			return nil, false
		}
		return []byte(s), true
	case U32:
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, false
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, true
	case I32:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, false
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
		return buf, true
	case U64:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, false
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf, true
	case I64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return buf, true
	case VarChar:
		if len(s) > 0xFFFF {
			return nil, false
		}
		buf := make([]byte, 2, 2+len(s))
		binary.LittleEndian.PutUint16(buf, uint16(len(s)))
		return append(buf, s...), true
	default:
		return nil, false
	}
}

// DataToString renders encoded bytes. The slice must be exactly one
// value of this kind; char kinds must decode as UTF-8.
func (t DataType) DataToString(bytes []byte) (string, bool) {
	size, ok := t.DataSize(bytes)
	if !ok || len(bytes) == 0 || len(bytes) != size {
		return "", false
	}
	switch t {
	case Char:
		if !utf8.Valid(bytes) {
			return "", false
		}
		return string(bytes), true
	case U32:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(bytes)), 10), true
	case I32:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(bytes))), 10), true
	case U64:
		return strconv.FormatUint(binary.LittleEndian.Uint64(bytes), 10), true
	case I64:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(bytes)), 10), true
	case VarChar:
		if !utf8.Valid(bytes[2:]) {
			return "", false
		}
		return string(bytes[2:]), true
	default:
		return "", false
	}
}

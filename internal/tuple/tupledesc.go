// Package tuple implements the tuple descriptor: the ordered schema of
// a relation, and the codec that turns rows of literals or strings into
// tuple bytes and back.
package tuple

import (
	"github.com/SimonWaldherr/tinyREL/internal/datatype"
	"github.com/SimonWaldherr/tinyREL/internal/storage"
)

// Attr is one attribute of a relation: a name and a column kind. Names
// are metadata only; descriptor equality compares kinds.
type Attr struct {
	Name string
	Kind datatype.DataType
}

// TupleDesc is the ordered attribute list of a relation.
type TupleDesc struct {
	attrs []Attr
}

// NewTupleDesc builds a descriptor over the given attributes.
func NewTupleDesc(attrs []Attr) TupleDesc {
	return TupleDesc{attrs: attrs}
}

// NumAttrs is the attribute count.
func (d TupleDesc) NumAttrs() int { return len(d.attrs) }

// Attrs returns the attributes in order.
func (d TupleDesc) Attrs() []Attr { return d.attrs }

// Equal reports whether two descriptors agree on attribute kinds in
// order. Names do not participate.
func (d TupleDesc) Equal(other TupleDesc) bool {
	if len(d.attrs) != len(other.attrs) {
		return false
	}
	for i, a := range d.attrs {
		if a.Kind != other.attrs[i].Kind {
			return false
		}
	}
	return true
}

// IsFixedSize reports whether every attribute has a static width.
func (d TupleDesc) IsFixedSize() bool {
	for _, a := range d.attrs {
		if !a.Kind.IsFixedSize() {
			return false
		}
	}
	return true
}

// FixedSize is the tuple width of a fully-fixed descriptor.
func (d TupleDesc) FixedSize() int {
	size := 0
	for _, a := range d.attrs {
		size += a.Kind.FixedSize()
	}
	return size
}

// ───────────────────────────────────────────────────────────────────────────
// Row codec
// ───────────────────────────────────────────────────────────────────────────

// DataFromLiterals encodes one row of literals, in attribute order.
func (d TupleDesc) DataFromLiterals(row []datatype.Literal) ([]byte, error) {
	if len(row) != len(d.attrs) {
		return nil, storage.Errf(storage.ErrInvalidArgument,
			"row has %d values, descriptor has %d attrs", len(row), len(d.attrs))
	}
	var buf []byte
	for i, lit := range row {
		data, ok := d.attrs[i].Kind.DataFromLiteral(lit)
		if !ok {
			return nil, storage.Errf(storage.ErrInvalidArgument,
				"literal %q does not match %s attr %q", lit, d.attrs[i].Kind, d.attrs[i].Name)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// DataFromStrings encodes one row of display strings.
func (d TupleDesc) DataFromStrings(row []string) ([]byte, error) {
	if len(row) != len(d.attrs) {
		return nil, storage.Errf(storage.ErrInvalidArgument,
			"row has %d values, descriptor has %d attrs", len(row), len(d.attrs))
	}
	var buf []byte
	for i, s := range row {
		data, ok := d.attrs[i].Kind.StringToData(s)
		if !ok {
			return nil, storage.Errf(storage.ErrInvalidArgument,
				"value %q does not parse as %s attr %q", s, d.attrs[i].Kind, d.attrs[i].Name)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// DecodeFields slices tuple bytes into one view per attribute. Fixed
// kinds advance by their width; VarChar reads its own length prefix.
func (d TupleDesc) DecodeFields(data []byte) ([][]byte, error) {
	fields := make([][]byte, 0, len(d.attrs))
	off := 0
	for _, a := range d.attrs {
		size, ok := a.Kind.DataSize(data[off:])
		if !ok || off+size > len(data) {
			return nil, storage.Errf(storage.ErrInvalidData,
				"tuple truncated in attr %q at offset %d", a.Name, off)
		}
		fields = append(fields, data[off:off+size])
		off += size
	}
	return fields, nil
}

// DecodeStrings renders selected attributes of a tuple. indices nil
// selects every attribute; otherwise the output follows the given
// column indices. Fails when the tuple does not parse or a char kind is
// not valid UTF-8.
func (d TupleDesc) DecodeStrings(data []byte, indices []int) ([]string, error) {
	fields, err := d.DecodeFields(data)
	if err != nil {
		return nil, err
	}
	if indices == nil {
		indices = make([]int, len(d.attrs))
		for i := range indices {
			indices[i] = i
		}
	}
	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(d.attrs) {
			return nil, storage.Errf(storage.ErrInvalidArgument,
				"projection index %d out of range [0..%d)", idx, len(d.attrs))
		}
		s, ok := d.attrs[idx].Kind.DataToString(fields[idx])
		if !ok {
			return nil, storage.Errf(storage.ErrInvalidData,
				"attr %q does not render as %s", d.attrs[idx].Name, d.attrs[idx].Kind)
		}
		out = append(out, s)
	}
	return out, nil
}

// AssertDataLen validates that data is exactly one tuple under this
// descriptor: length equality for fully-fixed descriptors, a full
// consuming parse otherwise.
func (d TupleDesc) AssertDataLen(data []byte) error {
	if d.IsFixedSize() {
		if len(data) != d.FixedSize() {
			return storage.Errf(storage.ErrInvalidData,
				"tuple is %d bytes, descriptor wants %d", len(data), d.FixedSize())
		}
		return nil
	}
	off := 0
	for _, a := range d.attrs {
		size, ok := a.Kind.DataSize(data[off:])
		if !ok || off+size > len(data) {
			return storage.Errf(storage.ErrInvalidData,
				"tuple truncated in attr %q at offset %d", a.Name, off)
		}
		off += size
	}
	if off != len(data) {
		return storage.Errf(storage.ErrInvalidData,
			"tuple has %d trailing bytes", len(data)-off)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Descriptor-page codec
// ───────────────────────────────────────────────────────────────────────────
//
// Page 0 of a relation stores the descriptor as tuples: tuple 0 is the
// attribute count (uint32 LE), tuples 1..n are one attribute each —
// uint16-length-prefixed name followed by the uint16 type tag.

// ToData encodes the per-attribute tuples for the descriptor page.
func (d TupleDesc) ToData() [][]byte {
	out := make([][]byte, 0, len(d.attrs))
	for _, a := range d.attrs {
		var buf []byte
		buf = storage.AppendBytes16(buf, []byte(a.Name))
		buf = storage.AppendU16(buf, a.Kind.Tag())
		out = append(out, buf)
	}
	return out
}

// FromData rebuilds a descriptor from the per-attribute tuples read off
// a descriptor page.
func FromData(attrData [][]byte) (TupleDesc, error) {
	attrs := make([]Attr, 0, len(attrData))
	for i, data := range attrData {
		rd := storage.NewReader(data)
		name, err := rd.Bytes16()
		if err != nil {
			return TupleDesc{}, storage.Errf(storage.ErrInvalidData, "attr %d: bad name", i)
		}
		tag, err := rd.U16()
		if err != nil {
			return TupleDesc{}, storage.Errf(storage.ErrInvalidData, "attr %d: bad type tag", i)
		}
		kind, ok := datatype.FromTag(tag)
		if !ok {
			return TupleDesc{}, storage.Errf(storage.ErrInvalidData,
				"attr %d: unknown type tag %d", i, tag)
		}
		attrs = append(attrs, Attr{Name: string(name), Kind: kind})
	}
	return NewTupleDesc(attrs), nil
}

// Package protoframe gives the SINC message codec ordinary field-by-field
// encode/decode calls over protobuf wire format without requiring generated
// .pb.go code. The message schema is owned by an external collaborator
// (spec §1); protowire's low-level varint/tag primitives are the right level
// of commitment for a core that must stay schema-agnostic while still
// producing and consuming real protobuf wire bytes.
package protoframe

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer accumulates protobuf-encoded fields into a byte slice.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) String(field protowire.Number, v string) {
	if v == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, v)
}

func (w *Writer) Bytes_(field protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

func (w *Writer) Int64(field protowire.Number, v int64) {
	if v == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

func (w *Writer) Uint64(field protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *Writer) Bool(field protowire.Number, v bool) {
	if !v {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeBool(true))
}

func (w *Writer) Double(field protowire.Number, v float64) {
	if v == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.Fixed64Type)
	w.buf = protowire.AppendFixed64(w.buf, math.Float64bits(v))
}

// Field is one decoded (number, wireType, raw-value) tuple.
type Field struct {
	Number protowire.Number
	Type   protowire.Type
	Varint uint64
	Fixed  uint64
	Bytes  []byte
}

// Reader walks a protobuf-encoded byte slice field by field. Unknown fields
// (from a schema version ahead of this build) are simply skipped by the
// caller's loop, matching ordinary generated-code forward-compatibility.
type Reader struct {
	buf []byte
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Next returns the next field, or ok=false at end of input.
func (r *Reader) Next() (Field, bool, error) {
	if len(r.buf) == 0 {
		return Field{}, false, nil
	}
	num, typ, n := protowire.ConsumeTag(r.buf)
	if n < 0 {
		return Field{}, false, fmt.Errorf("protoframe: bad tag: %w", protowire.ParseError(n))
	}
	r.buf = r.buf[n:]

	f := Field{Number: num, Type: typ}
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(r.buf)
		if n < 0 {
			return Field{}, false, fmt.Errorf("protoframe: bad varint: %w", protowire.ParseError(n))
		}
		f.Varint = v
		r.buf = r.buf[n:]
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(r.buf)
		if n < 0 {
			return Field{}, false, fmt.Errorf("protoframe: bad fixed64: %w", protowire.ParseError(n))
		}
		f.Fixed = v
		r.buf = r.buf[n:]
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(r.buf)
		if n < 0 {
			return Field{}, false, fmt.Errorf("protoframe: bad bytes: %w", protowire.ParseError(n))
		}
		f.Bytes = v
		r.buf = r.buf[n:]
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(r.buf)
		if n < 0 {
			return Field{}, false, fmt.Errorf("protoframe: bad fixed32: %w", protowire.ParseError(n))
		}
		f.Fixed = uint64(v)
		r.buf = r.buf[n:]
	default:
		n := protowire.ConsumeFieldValue(num, typ, r.buf)
		if n < 0 {
			return Field{}, false, fmt.Errorf("protoframe: bad field: %w", protowire.ParseError(n))
		}
		r.buf = r.buf[n:]
	}

	return f, true, nil
}

func (f Field) Int64() int64    { return protowire.DecodeZigZag(f.Varint) }
func (f Field) Bool() bool      { return protowire.DecodeBool(f.Varint) }
func (f Field) String() string  { return string(f.Bytes) }
func (f Field) Double() float64 { return math.Float64frombits(f.Fixed) }

package sinc

import (
	"encoding/binary"
	"math"

	"github.com/cwsl/gosinc/internal/protoframe"
	"google.golang.org/protobuf/encoding/protowire"
)

// appendFloatsAsPacked writes a repeated double field in protobuf's packed
// encoding: one bytes-typed field whose payload is the concatenation of
// 8-byte little-endian IEEE-754 values, matching how protoc-generated code
// encodes `repeated double` fields.
func appendFloatsAsPacked(w *protoframe.Writer, field protowire.Number, vals []float64) {
	if len(vals) == 0 {
		return
	}
	packed := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(packed[i*8:], math.Float64bits(v))
	}
	w.Bytes_(field, packed)
}

func parsePackedFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, newErrorf(ReadFailed, "packed double field has %d bytes, not a multiple of 8", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

// appendUint32sAsPacked writes a repeated uint32 (or fixed32) field packed
// as 4-byte little-endian values, matching protoc's `repeated fixed32`/
// `repeated uint32` packed encoding.
func appendUint32sAsPacked(w *protoframe.Writer, field protowire.Number, vals []uint32) {
	if len(vals) == 0 {
		return
	}
	packed := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(packed[i*4:], v)
	}
	w.Bytes_(field, packed)
}

func parsePackedUint32s(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, newErrorf(ReadFailed, "packed uint32 field has %d bytes, not a multiple of 4", len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

package sinc

import (
	"encoding/binary"

	"github.com/cwsl/gosinc/internal/protoframe"
)

// HistogramStats is the fixed statistics block carried alongside every
// histogram result, whether it arrived over the TCP protobuf path or the
// legacy UDP datagram path (spec §3 "Datagram packet" / §4.D "Histogram
// assembly"). Both decoders below populate the same struct so callers never
// need to know which transport a given HistogramResult came in on.
type HistogramStats struct {
	ElapsedTimeNs   uint64
	DetectedSamples uint64
	ErasedSamples   uint64
	AcceptedPulses  uint64
	RejectedPulses  uint64

	InputCountRate  float64
	OutputCountRate float64
	DeadTimePercent float64
	RefreshRateHz   float64

	GateState       uint32
	SpectrumSelMask uint32
	SubregionStart  uint32
	SubregionEnd    uint32
	RailHitsLow     uint32
	RailHitsHigh    uint32

	// TriggerKind and Intensity are only populated when the datagram's
	// header_len indicates they were actually sent (spec §3 "Datagram
	// packet": "plus optional trigger u32, plus optional
	// intensity-length+data").
	HasTriggerKind bool
	TriggerKind    uint32
	Intensity      []float64
}

// datagramStatsCoreLen is the byte length of the mandatory statistics block
// that follows datagramHeader in a UDP histogram datagram: 5 uint64 fields,
// 4 float64 fields, 6 uint32 fields (spec §3).
const datagramStatsCoreLen = 5*8 + 4*8 + 6*4

// decodeDatagramStats parses the mandatory statistics block plus whatever
// optional trailing fields fit within headerLen (the trigger u32, then an
// intensity-vector length-prefix and payload). Anything beyond what
// header_len admits is left for the caller as tail bytes (sample arrays).
func decodeDatagramStats(b []byte, headerLen int) (HistogramStats, []byte, error) {
	if len(b) < datagramStatsCoreLen {
		return HistogramStats{}, nil, newErrorf(ReadFailed, "datagram too short for stats block: %d bytes", len(b))
	}
	var s HistogramStats
	s.ElapsedTimeNs = binary.LittleEndian.Uint64(b[0:8])
	s.DetectedSamples = binary.LittleEndian.Uint64(b[8:16])
	s.ErasedSamples = binary.LittleEndian.Uint64(b[16:24])
	s.AcceptedPulses = binary.LittleEndian.Uint64(b[24:32])
	s.RejectedPulses = binary.LittleEndian.Uint64(b[32:40])
	s.InputCountRate = decodeFloat64LE(b[40:48])
	s.OutputCountRate = decodeFloat64LE(b[48:56])
	s.DeadTimePercent = decodeFloat64LE(b[56:64])
	s.RefreshRateHz = decodeFloat64LE(b[64:72])
	s.GateState = binary.LittleEndian.Uint32(b[72:76])
	s.SpectrumSelMask = binary.LittleEndian.Uint32(b[76:80])
	s.SubregionStart = binary.LittleEndian.Uint32(b[80:84])
	s.SubregionEnd = binary.LittleEndian.Uint32(b[84:88])
	s.RailHitsLow = binary.LittleEndian.Uint32(b[88:92])
	s.RailHitsHigh = binary.LittleEndian.Uint32(b[92:96])
	rest := b[datagramStatsCoreLen:]

	optional := headerLen - datagramFixedHeaderLen - datagramStatsCoreLen
	if optional < 0 {
		optional = 0
	}
	if optional >= 4 && len(rest) >= 4 {
		s.HasTriggerKind = true
		s.TriggerKind = binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		optional -= 4
	}
	if optional >= 4 && len(rest) >= 4 {
		n := int(binary.LittleEndian.Uint32(rest[0:4]))
		rest = rest[4:]
		need := n * 8
		if need > optional-4 || need > len(rest) {
			return HistogramStats{}, nil, newErrorf(ReadFailed, "datagram intensity vector exceeds header_len bound")
		}
		vals, err := parsePackedFloats(rest[:need])
		if err != nil {
			return HistogramStats{}, nil, err
		}
		s.Intensity = vals
		rest = rest[need:]
	}

	return s, rest, nil
}

// HistogramResult is the assembled output of get_histogram / a histogram
// datagram (spec §3, §4.D "Histogram assembly"): the accepted/rejected pulse
// count arrays, their owning channel and statistics, plus optional
// gonum-derived summary stats.
type HistogramResult struct {
	FromChannelID int
	Accepted      []uint32
	Rejected      []uint32
	Stats         HistogramStats

	Derived *HistogramDerivedStats
}

// decodeHistogramDatagram parses a lifted UDP histogram datagram body: the
// 20-byte legacy header, the 96-byte stats block, then the raw sample
// counts selected by spectrumMask (accepted-only, rejected-only, or both,
// per spec §3 "spectrum selection mask").
func decodeHistogramDatagram(body []byte) (HistogramResult, error) {
	hdr, rest, err := parseDatagramHeader(body)
	if err != nil {
		return HistogramResult{}, err
	}
	stats, rest, err := decodeDatagramStats(rest, int(hdr.headerLen))
	if err != nil {
		return HistogramResult{}, err
	}
	stats.SpectrumSelMask = hdr.spectrumMask

	const (
		selAccepted = 1 << 0
		selRejected = 1 << 1
	)

	result := HistogramResult{
		FromChannelID: int(hdr.channelID),
		Stats:         stats,
	}

	n := int(hdr.samples)
	need := 0
	if hdr.spectrumMask&selAccepted != 0 {
		need += n * 4
	}
	if hdr.spectrumMask&selRejected != 0 {
		need += n * 4
	}
	if len(rest) < need {
		return HistogramResult{}, newErrorf(ReadFailed, "datagram sample data truncated: want %d bytes, have %d", need, len(rest))
	}

	if hdr.spectrumMask&selAccepted != 0 {
		result.Accepted, err = parsePackedUint32s(rest[:n*4])
		if err != nil {
			return HistogramResult{}, err
		}
		rest = rest[n*4:]
	}
	if hdr.spectrumMask&selRejected != 0 {
		result.Rejected, err = parsePackedUint32s(rest[:n*4])
		if err != nil {
			return HistogramResult{}, err
		}
	}

	return result, nil
}

// Protobuf field numbers for the TCP histogram-response message, recovered
// from the same encode.c/decode.c field-order conventions as calibration.go
// and params.go.
const (
	histFieldFromChannelID = 1
	histFieldAccepted       = 2
	histFieldRejected       = 3
	histFieldElapsedTimeNs  = 4
	histFieldDetected       = 5
	histFieldErased         = 6
	histFieldAcceptedCount  = 7
	histFieldRejectedCount  = 8
	histFieldInputRate      = 9
	histFieldOutputRate     = 10
	histFieldDeadTimePct    = 11
	histFieldRefreshRateHz  = 12
	histFieldGateState      = 13
	histFieldSpectrumMask   = 14
	histFieldSubregionStart = 15
	histFieldSubregionEnd   = 16
	histFieldRailLow        = 17
	histFieldRailHigh       = 18
	histFieldTriggerKind    = 19
	histFieldIntensity      = 20
)

func encodeHistogramResponse(r HistogramResult) []byte {
	w := protoframe.NewWriter()
	w.Int64(histFieldFromChannelID, int64(r.FromChannelID))
	appendUint32sAsPacked(w, histFieldAccepted, r.Accepted)
	appendUint32sAsPacked(w, histFieldRejected, r.Rejected)
	w.Uint64(histFieldElapsedTimeNs, r.Stats.ElapsedTimeNs)
	w.Uint64(histFieldDetected, r.Stats.DetectedSamples)
	w.Uint64(histFieldErased, r.Stats.ErasedSamples)
	w.Uint64(histFieldAcceptedCount, r.Stats.AcceptedPulses)
	w.Uint64(histFieldRejectedCount, r.Stats.RejectedPulses)
	w.Double(histFieldInputRate, r.Stats.InputCountRate)
	w.Double(histFieldOutputRate, r.Stats.OutputCountRate)
	w.Double(histFieldDeadTimePct, r.Stats.DeadTimePercent)
	w.Double(histFieldRefreshRateHz, r.Stats.RefreshRateHz)
	w.Uint64(histFieldGateState, uint64(r.Stats.GateState))
	w.Uint64(histFieldSpectrumMask, uint64(r.Stats.SpectrumSelMask))
	w.Uint64(histFieldSubregionStart, uint64(r.Stats.SubregionStart))
	w.Uint64(histFieldSubregionEnd, uint64(r.Stats.SubregionEnd))
	w.Uint64(histFieldRailLow, uint64(r.Stats.RailHitsLow))
	w.Uint64(histFieldRailHigh, uint64(r.Stats.RailHitsHigh))
	if r.Stats.HasTriggerKind {
		w.Uint64(histFieldTriggerKind, uint64(r.Stats.TriggerKind))
	}
	appendFloatsAsPacked(w, histFieldIntensity, r.Stats.Intensity)
	return w.Bytes()
}

// decodeHistogramResponse parses the TCP-path protobuf histogram response
// (spec §4.D "Histogram assembly"). Every field, including the accepted and
// rejected count arrays, is read as an ordinary protobuf field; this decoder
// does not read an extended-length shim or a raw tail after a nested header.
func decodeHistogramResponse(body []byte) (HistogramResult, error) {
	var r HistogramResult
	rd := protoframe.NewReader(body)
	for {
		f, ok, err := rd.Next()
		if err != nil {
			return HistogramResult{}, err
		}
		if !ok {
			break
		}
		switch f.Number {
		case histFieldFromChannelID:
			r.FromChannelID = int(f.Int64())
		case histFieldAccepted:
			r.Accepted, err = parsePackedUint32s(f.Bytes)
		case histFieldRejected:
			r.Rejected, err = parsePackedUint32s(f.Bytes)
		case histFieldElapsedTimeNs:
			r.Stats.ElapsedTimeNs = f.Varint
		case histFieldDetected:
			r.Stats.DetectedSamples = f.Varint
		case histFieldErased:
			r.Stats.ErasedSamples = f.Varint
		case histFieldAcceptedCount:
			r.Stats.AcceptedPulses = f.Varint
		case histFieldRejectedCount:
			r.Stats.RejectedPulses = f.Varint
		case histFieldInputRate:
			r.Stats.InputCountRate = f.Double()
		case histFieldOutputRate:
			r.Stats.OutputCountRate = f.Double()
		case histFieldDeadTimePct:
			r.Stats.DeadTimePercent = f.Double()
		case histFieldRefreshRateHz:
			r.Stats.RefreshRateHz = f.Double()
		case histFieldGateState:
			r.Stats.GateState = uint32(f.Varint)
		case histFieldSpectrumMask:
			r.Stats.SpectrumSelMask = uint32(f.Varint)
		case histFieldSubregionStart:
			r.Stats.SubregionStart = uint32(f.Varint)
		case histFieldSubregionEnd:
			r.Stats.SubregionEnd = uint32(f.Varint)
		case histFieldRailLow:
			r.Stats.RailHitsLow = uint32(f.Varint)
		case histFieldRailHigh:
			r.Stats.RailHitsHigh = uint32(f.Varint)
		case histFieldTriggerKind:
			r.Stats.HasTriggerKind = true
			r.Stats.TriggerKind = uint32(f.Varint)
		case histFieldIntensity:
			r.Stats.Intensity, err = parsePackedFloats(f.Bytes)
		}
		if err != nil {
			return HistogramResult{}, err
		}
	}
	return r, nil
}

func decodeFloat64LE(b []byte) float64 {
	v, _ := parsePackedFloats(b)
	return v[0]
}

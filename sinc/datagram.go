package sinc

import "encoding/binary"

// datagramTypeOffset is the offset within a UDP datagram body at which the
// legacy header's message-type byte lives (spec §4.C "Datagram rewrite",
// spec §9 open question). It's only consulted when at least 4 bytes of the
// datagram were read; below that the synthesized header falls back to
// HistogramDatagramResponse.
const datagramTypeOffset = 6

// liftDatagram synthesizes a 10-byte framed-packet header directly ahead of
// a UDP datagram body that has already been written into dst at offset
// bodyOff, turning it into an ordinary framed packet in place. dst must have
// at least headerLength bytes of room before bodyOff; the caller (receive.go)
// guarantees this by reserving headerLength bytes ahead of the write.
//
// Grounded on original_source/handel/libsinc-c/blocking.c's SincReadMessage
// UDP branch: fakeMsgType defaults to HistogramDatagramResponse and is only
// overridden from bufPos[SINC_HEADER_LENGTH+6] when bytesRead>=4 — the
// encodeHeaderGeneric call backfills the 10 reserved bytes, so bytesRead
// itself never counts them (resolves the first spec §9 open question).
func liftDatagram(dst []byte, bodyOff, bodyLen int) {
	msgType := HistogramDatagramResponse
	if bodyLen >= 4 {
		msgType = MessageType(dst[bodyOff+datagramTypeOffset])
	}

	hdr := dst[bodyOff-headerLength : bodyOff]
	binary.LittleEndian.PutUint32(hdr[0:4], ResponseMarker)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(bodyLen+2))
	hdr[8] = responseCodeProtobuf
	hdr[9] = byte(msgType)
}

// datagramHeader is the legacy fixed layout from spec §3 "Datagram packet".
// The statistics block that follows it is shared with the TCP histogram
// path and decoded by HistogramStats in histogram.go.
type datagramHeader struct {
	headerLen    uint32
	protocolVer  uint16
	msgType      uint16
	channelID    uint32
	samples      uint32
	spectrumMask uint32
}

const datagramFixedHeaderLen = 4 + 2 + 2 + 4 + 4 + 4 // 20 bytes before the stats block

func parseDatagramHeader(body []byte) (datagramHeader, []byte, error) {
	if len(body) < datagramFixedHeaderLen {
		return datagramHeader{}, nil, newErrorf(ReadFailed, "datagram too short for fixed header: %d bytes", len(body))
	}
	h := datagramHeader{
		headerLen:    binary.LittleEndian.Uint32(body[0:4]),
		protocolVer:  binary.LittleEndian.Uint16(body[4:6]),
		msgType:      binary.LittleEndian.Uint16(body[6:8]),
		channelID:    binary.LittleEndian.Uint32(body[8:12]),
		samples:      binary.LittleEndian.Uint32(body[12:16]),
		spectrumMask: binary.LittleEndian.Uint32(body[16:20]),
	}
	if h.protocolVer != 0 {
		return datagramHeader{}, nil, newErrorf(ReadFailed, "unsupported datagram protocol version %d", h.protocolVer)
	}
	return h, body[datagramFixedHeaderLen:], nil
}

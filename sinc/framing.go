package sinc

import (
	"bytes"
	"encoding/binary"
)

// encodeHeader writes the 10-byte framed-packet header described in spec §3
// into buf, always producing exactly headerLength bytes: marker, then
// payload_len_plus_two (little-endian), then response_code=3, then
// msgType. Grounded on original_source's SincProtocolEncodeHeaderGeneric.
func encodeHeader(buf *Buffer, payloadLen int, msgType MessageType, marker uint32) {
	var hdr [headerLength]byte
	binary.LittleEndian.PutUint32(hdr[0:4], marker)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(payloadLen+2))
	hdr[8] = responseCodeProtobuf
	hdr[9] = byte(msgType)
	buf.Append(hdr[:])
}

// encodePacket appends a complete framed packet (header + body) to buf using
// the client->device command marker.
func encodePacket(buf *Buffer, msgType MessageType, body []byte) {
	encodeHeader(buf, len(body), msgType, CommandMarker)
	buf.Append(body)
}

// decodeResult is the outcome of one decode attempt against a read buffer.
type decodeResult struct {
	found    bool
	msgType  MessageType
	body     []byte
	consumed int
	resynced int // bytes dropped purely for resynchronization, for metrics
	skipped  int // packets skipped due to response_code != 3, for metrics
}

// decodePacket scans data for marker, handling resynchronization exactly as
// spec §4.C describes. It never mutates data; callers that want to consume
// bytes do so via the returned consumed count (peek-mode callers ignore it).
//
// Matches original_source/encapsulation.c's SincDecodePacketEncapsulation
// field-for-field: short-header threshold, 256MiB/zero length rejection,
// response_code!=3 silent skip, and the "keep last 3 bytes when no marker
// found" tail-preservation rule (spec calls for 3; the implementation marker
// is 4 bytes, so a straddling marker can have at most 3 bytes of itself
// present at the very end of the buffer).
func decodePacket(data []byte, marker uint32) decodeResult {
	var markerBytes [4]byte
	binary.LittleEndian.PutUint32(markerBytes[:], marker)

	consumed := 0
	resynced := 0
	skipped := 0

	for {
		buf := data[consumed:]
		idx := bytes.Index(buf, markerBytes[:])
		if idx < 0 {
			// No marker anywhere in the remainder. Discard everything
			// except the last 3 bytes, in case a marker straddles the tail.
			if len(buf) > 3 {
				consumed += len(buf) - 3
			}
			return decodeResult{found: false, consumed: consumed, resynced: resynced, skipped: skipped}
		}

		consumed += idx
		buf = data[consumed:]

		// spec §4.C step 1: need the full 10-byte header (marker, length,
		// response_code, message_type) before anything past the marker can
		// be read.
		if len(buf) < headerLength {
			return decodeResult{found: false, consumed: consumed, resynced: resynced, skipped: skipped}
		}

		payloadLenPlusTwo := binary.LittleEndian.Uint32(buf[4:8])
		if payloadLenPlusTwo == 0 || payloadLenPlusTwo > maxPacketSize {
			// Doesn't look like a valid length field: drop just the 4
			// marker bytes and keep scanning (spec §4.C step 2).
			consumed += 4
			resynced += 4
			continue
		}

		packetLen := int(payloadLenPlusTwo) + (headerLength - 2)
		if len(buf) < packetLen {
			return decodeResult{found: false, consumed: consumed, resynced: resynced, skipped: skipped}
		}

		responseCode := buf[8]
		msgType := MessageType(buf[9])

		if responseCode != responseCodeProtobuf {
			// Not a protobuf-carried message: skip the whole packet and
			// keep scanning (spec §4.C step 5).
			consumed += packetLen
			skipped++
			continue
		}

		bodyLen := int(payloadLenPlusTwo) - 2
		body := buf[headerLength : headerLength+bodyLen]
		consumed += packetLen

		return decodeResult{found: true, msgType: msgType, body: body, consumed: consumed, resynced: resynced, skipped: skipped}
	}
}

package sinc

import (
	"encoding/binary"
	"testing"
)

func rawPacket(marker uint32, responseCode byte, msgType MessageType, body []byte) []byte {
	out := make([]byte, headerLength+len(body))
	binary.LittleEndian.PutUint32(out[0:4], marker)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(body)+2))
	out[8] = responseCode
	out[9] = byte(msgType)
	copy(out[10:], body)
	return out
}

// P1: a well-formed packet round-trips through encode/decode with the
// original message type and body intact.
func TestDecodePacket_WellFormed(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	data := rawPacket(ResponseMarker, responseCodeProtobuf, GetParamResponse, body)

	res := decodePacket(data, ResponseMarker)
	if !res.found {
		t.Fatalf("expected a packet to be found")
	}
	if res.msgType != GetParamResponse {
		t.Errorf("msgType = %v, want %v", res.msgType, GetParamResponse)
	}
	if string(res.body) != string(body) {
		t.Errorf("body = %v, want %v", res.body, body)
	}
	if res.consumed != len(data) {
		t.Errorf("consumed = %d, want %d", res.consumed, len(data))
	}
	if res.resynced != 0 || res.skipped != 0 {
		t.Errorf("resynced/skipped should be zero for a clean packet, got %d/%d", res.resynced, res.skipped)
	}
}

// P2: garbage preceding a valid marker is resynchronized over (consumed but
// not reported as the packet's own content), and the marker search doesn't
// mistake garbage for a header.
func TestDecodePacket_ResyncOverGarbage(t *testing.T) {
	body := []byte{0xAA}
	junk := []byte{0x00, 0x11, 0x22, 0x33, 0x44}
	data := append(append([]byte{}, junk...), rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, body)...)

	res := decodePacket(data, ResponseMarker)
	if !res.found {
		t.Fatalf("expected a packet to be found after junk")
	}
	if res.msgType != PingCommand {
		t.Errorf("msgType = %v, want %v", res.msgType, PingCommand)
	}
	if string(res.body) != string(body) {
		t.Errorf("body = %v, want %v", res.body, body)
	}
}

// P2 continued: a zero or oversized length field following a marker causes
// the decoder to drop exactly the 4 marker bytes and keep scanning, rather
// than getting stuck or consuming the whole buffer.
func TestDecodePacket_BadLengthDropsMarkerAndResyncs(t *testing.T) {
	bad := make([]byte, headerLength)
	binary.LittleEndian.PutUint32(bad[0:4], ResponseMarker)
	binary.LittleEndian.PutUint32(bad[4:8], 0) // zero length: invalid

	good := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, []byte{0x7F})
	data := append(append([]byte{}, bad...), good...)

	res := decodePacket(data, ResponseMarker)
	if !res.found {
		t.Fatalf("expected the valid packet after the bad one to be found")
	}
	if res.resynced != 4 {
		t.Errorf("resynced = %d, want 4 (dropped marker bytes)", res.resynced)
	}
	if res.msgType != PingCommand {
		t.Errorf("msgType = %v, want %v", res.msgType, PingCommand)
	}

	oversized := make([]byte, headerLength)
	binary.LittleEndian.PutUint32(oversized[0:4], ResponseMarker)
	binary.LittleEndian.PutUint32(oversized[4:8], maxPacketSize+1)
	data2 := append(append([]byte{}, oversized...), good...)
	res2 := decodePacket(data2, ResponseMarker)
	if !res2.found || res2.resynced != 4 {
		t.Errorf("oversized length: found=%v resynced=%d, want found=true resynced=4", res2.found, res2.resynced)
	}
}

// A packet whose response_code isn't the protobuf code is skipped whole,
// incrementing the skip counter, and scanning continues to the next
// packet — framing robustness beyond the named properties.
func TestDecodePacket_NonProtobufResponseCodeSkipped(t *testing.T) {
	skip := rawPacket(ResponseMarker, 0x01, GetParamResponse, []byte{0xDE, 0xAD})
	good := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, nil)
	data := append(append([]byte{}, skip...), good...)

	res := decodePacket(data, ResponseMarker)
	if !res.found {
		t.Fatalf("expected the packet after the skipped one to be found")
	}
	if res.skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.skipped)
	}
	if res.msgType != PingCommand {
		t.Errorf("msgType = %v, want %v", res.msgType, PingCommand)
	}
}

// When no marker is present at all, the decoder preserves the last 3
// bytes of the buffer (in case a marker straddles a future read) and
// consumes everything before that.
func TestDecodePacket_NoMarkerKeepsLastThreeBytes(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	res := decodePacket(data, ResponseMarker)
	if res.found {
		t.Fatalf("expected no packet to be found")
	}
	if res.consumed != len(data)-3 {
		t.Errorf("consumed = %d, want %d (len-3)", res.consumed, len(data)-3)
	}

	short := []byte{0x01, 0x02}
	res2 := decodePacket(short, ResponseMarker)
	if res2.found || res2.consumed != 0 {
		t.Errorf("short buffer (<=3 bytes): consumed = %d, want 0", res2.consumed)
	}
}

// A marker present but without a full 10-byte header yet (straddling a
// read boundary) is left unconsumed rather than misread.
func TestDecodePacket_MarkerWithShortHeaderWaits(t *testing.T) {
	var markerBytes [4]byte
	binary.LittleEndian.PutUint32(markerBytes[:], ResponseMarker)
	data := append(append([]byte{}, markerBytes[:]...), 0x00, 0x00, 0x00)

	res := decodePacket(data, ResponseMarker)
	if res.found {
		t.Fatalf("expected no packet to be found with a short header")
	}
	if res.consumed != 0 {
		t.Errorf("consumed = %d, want 0 (wait for more bytes)", res.consumed)
	}
}

// P3 continued: a packet whose declared length extends past the available
// buffer is left unconsumed until more bytes arrive, within a single
// decode call (the multi-write case is exercised in receive_test.go).
func TestDecodePacket_IncompletePacketWaits(t *testing.T) {
	full := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, []byte{1, 2, 3, 4, 5})
	partial := full[:len(full)-2]

	res := decodePacket(partial, ResponseMarker)
	if res.found {
		t.Fatalf("expected no packet to be found with a truncated body")
	}
	if res.consumed != 0 {
		t.Errorf("consumed = %d, want 0", res.consumed)
	}
}

func TestEncodePacket_RoundTrips(t *testing.T) {
	buf := NewBuffer(0)
	body := []byte{0x10, 0x20, 0x30}
	encodePacket(buf, SetParamCommand, body)

	res := decodePacket(buf.Bytes(), CommandMarker)
	if !res.found {
		t.Fatalf("expected encoded packet to decode")
	}
	if res.msgType != SetParamCommand {
		t.Errorf("msgType = %v, want %v", res.msgType, SetParamCommand)
	}
	if string(res.body) != string(body) {
		t.Errorf("body = %v, want %v", res.body, body)
	}
}

package sinc

import (
	"testing"
	"time"
)

// Multi-connection selector: PeekMulti returns the connection that actually
// has a message, leaving the other connection's buffer untouched.
func TestPeekMulti_ReturnsReadyConnection(t *testing.T) {
	c1, srv1 := dialPair(t)
	defer c1.Disconnect()
	defer srv1.Close()
	c2, srv2 := dialPair(t)
	defer c2.Disconnect()
	defer srv2.Close()

	srv2.Write(rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, nil))
	time.Sleep(50 * time.Millisecond)

	idx, mt, _, err := PeekMulti([]*Connection{c1, c2}, 2000)
	if err.Code != NoError {
		t.Fatalf("PeekMulti: %v", err)
	}
	if idx != 1 {
		t.Errorf("idx = %d, want 1", idx)
	}
	if mt != PingCommand {
		t.Errorf("msgType = %v, want %v", mt, PingCommand)
	}
}

// A packet already sitting in one connection's buffer from an earlier
// partial ReadMessage call (which left it undelivered because the packet
// wasn't complete yet at the time) is picked up by PeekMulti's no-wait fast
// path once it completes, ahead of the other connection.
func TestPeekMulti_FastPathBufferedPacket(t *testing.T) {
	c1, srv1 := dialPair(t)
	defer c1.Disconnect()
	defer srv1.Close()
	c2, srv2 := dialPair(t)
	defer c2.Disconnect()
	defer srv2.Close()

	full := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, []byte{1, 2, 3})
	srv1.Write(full[:len(full)-1])
	time.Sleep(50 * time.Millisecond)
	// This read observes an incomplete packet and returns Timeout without
	// consuming the partial bytes, leaving them staged in c1's read buffer.
	if _, _, err := c1.ReadMessage(0); err.Code != Timeout {
		t.Fatalf("priming read: %v", err)
	}
	srv1.Write(full[len(full)-1:])
	time.Sleep(50 * time.Millisecond)

	idx, mt, _, err := PeekMulti([]*Connection{c1, c2}, 100)
	if err.Code != NoError {
		t.Fatalf("PeekMulti: %v", err)
	}
	if idx != 0 {
		t.Errorf("idx = %d, want 0", idx)
	}
	if mt != PingCommand {
		t.Errorf("msgType = %v, want %v", mt, PingCommand)
	}
}

// When neither connection has anything to offer, PeekMulti reports Timeout
// rather than blocking forever.
func TestPeekMulti_TimeoutWhenNothingReady(t *testing.T) {
	c1, srv1 := dialPair(t)
	defer c1.Disconnect()
	defer srv1.Close()
	c2, srv2 := dialPair(t)
	defer c2.Disconnect()
	defer srv2.Close()

	_, _, _, err := PeekMulti([]*Connection{c1, c2}, 100)
	if err.Code != Timeout {
		t.Errorf("err.Code = %v, want Timeout", err.Code)
	}
}

// A PeekMulti call that fails (here with Timeout) releases every guard it
// acquired instead of leaving one held.
func TestPeekMulti_AcquireRollbackOnFailure(t *testing.T) {
	c1, srv1 := dialPair(t)
	defer c1.Disconnect()
	defer srv1.Close()

	// Nothing is sent on c1, so this call times out; returning releases the
	// guard it took on c1.
	if _, _, _, err := PeekMulti([]*Connection{c1}, 50); err.Code != Timeout {
		t.Fatalf("first PeekMulti: %v", err)
	}

	// The guard must have been released: a second call should behave
	// identically rather than failing with MultipleThreadWait.
	_, _, _, err := PeekMulti([]*Connection{c1}, 50)
	if err.Code != Timeout {
		t.Errorf("second PeekMulti err = %v, want Timeout", err.Code)
	}
}

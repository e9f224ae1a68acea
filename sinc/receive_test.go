package sinc

import (
	"net"
	"testing"
	"time"
)

// dialPair starts a loopback TCP listener, connects a Connection to it via
// Connect (which dials through the same raw-fd path production code uses),
// and hands back the server-side net.Conn for the test to drive.
func dialPair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := NewConnection()
	if !c.Connect("127.0.0.1", addr.Port, 2000) {
		t.Fatalf("Connect failed: %v", c.ReadError())
	}

	select {
	case conn := <-accepted:
		return c, conn
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for accept")
	}
	return nil, nil
}

// P3 (partial packet): a packet split across two TCP writes (straddling a
// read boundary) still assembles into one complete message once both
// halves arrive.
func TestReadMessage_AssemblesSplitPacket(t *testing.T) {
	c, srv := dialPair(t)
	defer c.Disconnect()
	defer srv.Close()

	full := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, []byte{1, 2, 3, 4, 5})
	split := len(full) / 2

	if _, err := srv.Write(full[:split]); err != nil {
		t.Fatalf("write first half: %v", err)
	}

	done := make(chan struct{})
	var gotType MessageType
	var gotErr Error
	go func() {
		gotType, _, gotErr = c.ReadMessage(2000)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := srv.Write(full[split:]); err != nil {
		t.Fatalf("write second half: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ReadMessage did not return after the split packet completed")
	}

	if gotErr.Code != NoError {
		t.Fatalf("ReadMessage: %v", gotErr)
	}
	if gotType != PingCommand {
		t.Errorf("msgType = %v, want %v", gotType, PingCommand)
	}
}

// ReadMessage reports Timeout (not a hang) when a poll-style 0ms timeout is
// used and nothing is buffered.
func TestReadMessage_ZeroTimeoutPollsOnce(t *testing.T) {
	c, srv := dialPair(t)
	defer c.Disconnect()
	defer srv.Close()

	_, _, err := c.ReadMessage(0)
	if err.Code != Timeout {
		t.Errorf("err.Code = %v, want Timeout", err.Code)
	}
}

// Two packets written back-to-back are each delivered in turn from the same
// buffered read.
func TestReadMessage_DeliversTwoBufferedPackets(t *testing.T) {
	c, srv := dialPair(t)
	defer c.Disconnect()
	defer srv.Close()

	first := rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, nil)
	second := rawPacket(ResponseMarker, responseCodeProtobuf, GetParamResponse, []byte{0x9})
	if _, err := srv.Write(append(append([]byte{}, first...), second...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	mt1, _, err1 := c.ReadMessage(2000)
	if err1.Code != NoError || mt1 != PingCommand {
		t.Fatalf("first message: mt=%v err=%v", mt1, err1)
	}
	mt2, body2, err2 := c.ReadMessage(2000)
	if err2.Code != NoError || mt2 != GetParamResponse {
		t.Fatalf("second message: mt=%v err=%v", mt2, err2)
	}
	if string(body2) != "\x09" {
		t.Errorf("second body = %v, want [0x9]", body2)
	}
}

// P6 (reentrancy guard): a second concurrent ReadMessage call fails fast
// with MultipleThreadWait rather than blocking behind the first.
func TestReadMessage_ConcurrentWaitersFailFast(t *testing.T) {
	c, srv := dialPair(t)
	defer c.Disconnect()
	defer srv.Close()

	result := make(chan Error, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		_, _, err := c.ReadMessage(500)
		result <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, _, err := c.ReadMessage(500)
	if err.Code != MultipleThreadWait {
		t.Errorf("second waiter err = %v, want MultipleThreadWait", err.Code)
	}

	srv.Write(rawPacket(ResponseMarker, responseCodeProtobuf, PingCommand, nil))
	<-result
}

// The peer closing the connection surfaces from ReadMessage as a clean
// error rather than a panic or hang.
func TestReadMessage_SocketClosedUnexpectedly(t *testing.T) {
	c, srv := dialPair(t)
	defer c.Disconnect()

	srv.Close()

	_, _, err := c.ReadMessage(2000)
	if err.Code != SocketClosedUnexpectedly && err.Code != ReadFailed {
		t.Errorf("err.Code = %v, want SocketClosedUnexpectedly or ReadFailed", err.Code)
	}
}

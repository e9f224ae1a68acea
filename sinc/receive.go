package sinc

// udpStagingSize is the minimum spare capacity reserved ahead of a UDP read
// (64 KiB of datagram payload plus the 10-byte synthesized header), per spec
// §4.E step 4's UDP branch.
const udpStagingSize = 64*1024 + headerLength

// tcpStagingSize is the size of the temporary staging buffer used to grow
// read_buf when no spare capacity remains for an in-place TCP read (spec
// §4.E step 4's TCP branch).
const tcpStagingSize = 64 * 1024

// ReadMessage implements the receive pipeline (spec §4.E): drain whatever is
// already buffered, then nonblocking-drain both descriptors, blocking only
// when nothing was available, bounded by timeoutMs (-1 = infinite, 0 = poll
// once and fail with Timeout).
func (c *Connection) ReadMessage(timeoutMs int) (MessageType, []byte, Error) {
	timeoutMs = c.resolveTimeout(timeoutMs)

	for {
		if msgType, body, ok := c.nextPacketFromBuffer(); ok {
			return msgType, body, Error{}
		}

		if !c.connected {
			return 0, nil, newError(NotConnected)
		}

		if !c.wait.acquire() {
			return 0, nil, newError(MultipleThreadWait)
		}
		msgType, body, err := c.drainAndWait(timeoutMs)
		c.wait.release()
		if err.Code != NoError {
			return 0, nil, err
		}
		if body != nil {
			return msgType, body, Error{}
		}
		// drainAndWait read bytes but no complete packet assembled yet;
		// retry from the top (spec §4.E step 5).
	}
}

// drainAndWait performs steps 4-6 of spec §4.E once: nonblocking-drain
// whatever is ready on TCP/UDP, and if nothing was ready at all, block for up
// to timeoutMs before trying again.
func (c *Connection) drainAndWait(timeoutMs int) (MessageType, []byte, Error) {
	for {
		anyRead, err := c.drainOnce()
		if err.Code != NoError {
			return 0, nil, err
		}
		if anyRead {
			if msgType, body, ok := c.nextPacketFromBuffer(); ok {
				return msgType, body, Error{}
			}
			return 0, nil, Error{}
		}

		fds, udpIdx := c.pollDescriptors()
		ready, werr := waitMulti(fds, timeoutMs)
		if werr.Code != NoError {
			if werr.Code == Timeout && timeoutMs == 0 {
				return 0, nil, newError(Timeout)
			}
			if werr.Code == Timeout {
				continue
			}
			return 0, nil, werr
		}
		if !ready[0] && (udpIdx < 0 || !ready[udpIdx]) {
			continue
		}
		// Loop back to step 4's drain with what's now ready.
		_ = udpIdx
	}
}

// pollDescriptors assembles the flat fd list for this connection's wait
// (TCP always, UDP when enabled), returning the index of the UDP entry or -1.
func (c *Connection) pollDescriptors() ([]int, int) {
	fds := []int{c.tcp.fd}
	if c.datagramXferEnabled && c.udp != nil {
		fds = append(fds, c.udp.fd)
		return fds, 1
	}
	return fds, -1
}

// drainOnce performs one nonblocking pass over TCP then UDP, reading
// whatever is immediately available without blocking (spec §4.E step 4).
func (c *Connection) drainOnce() (bool, Error) {
	any := false

	for {
		n, err := c.readTCPOnce()
		if err.Code == Timeout {
			break
		}
		if err.Code != NoError {
			return any, err
		}
		if n == 0 {
			break
		}
		any = true
	}

	if c.datagramXferEnabled && c.udp != nil {
		for {
			n, err := c.readUDPOnce()
			if err.Code == Timeout {
				break
			}
			if err.Code != NoError {
				return any, err
			}
			if n == 0 {
				break
			}
			any = true
		}
	}

	return any, Error{}
}

// readTCPOnce reads into the end of read_buf, growing it via a temporary
// staging buffer only when no spare capacity remains (spec §4.E step 4 TCP
// branch). bytesRead==0 is SocketClosedUnexpectedly.
func (c *Connection) readTCPOnce() (int, Error) {
	if c.readBuf.spareCap() == 0 {
		staging := make([]byte, tcpStagingSize)
		n, err := c.tcp.read(staging)
		if err.Code != NoError {
			return 0, err
		}
		if n == 0 {
			c.errs.setRead(newError(SocketClosedUnexpectedly))
			return 0, newError(SocketClosedUnexpectedly)
		}
		c.readBuf.Append(staging[:n])
		c.metrics.bytesRead.Add(float64(n))
		return n, Error{}
	}

	dst := c.readBuf.grow(c.readBuf.spareCap())
	n, err := c.tcp.read(dst)
	if err.Code != NoError {
		c.readBuf.shrinkBack(len(dst) - n)
		return 0, err
	}
	if n == 0 {
		c.readBuf.shrinkBack(len(dst))
		c.errs.setRead(newError(SocketClosedUnexpectedly))
		return 0, newError(SocketClosedUnexpectedly)
	}
	if n < len(dst) {
		c.readBuf.shrinkBack(len(dst) - n)
	}
	c.metrics.bytesRead.Add(float64(n))
	return n, Error{}
}

// readUDPOnce ensures read_buf has at least 64KiB+10 bytes of spare room,
// reserves the 10-byte header slot, reads one datagram into the body slot,
// synthesizes the header in place, and advances len by body+10 (spec §4.E
// step 4 UDP branch, §4.C "Datagram rewrite").
func (c *Connection) readUDPOnce() (int, Error) {
	if c.readBuf.spareCap() < udpStagingSize {
		extra := udpStagingSize - c.readBuf.spareCap()
		dst := c.readBuf.grow(extra)
		c.readBuf.shrinkBack(len(dst))
	}

	slot := c.readBuf.grow(udpStagingSize)
	bodyOff := headerLength
	n, err := c.udp.readDatagram(slot[bodyOff:], true)
	if err.Code == Timeout {
		c.readBuf.shrinkBack(len(slot))
		return 0, Error{}
	}
	if err.Code != NoError {
		c.readBuf.shrinkBack(len(slot))
		return 0, err
	}

	liftDatagram(slot, bodyOff, n)
	c.readBuf.shrinkBack(len(slot) - (n + headerLength))
	c.metrics.bytesRead.Add(float64(n))
	c.metrics.datagramsLifted.Inc()
	return n, Error{}
}

// nextPacketFromBuffer attempts to extract one complete packet from the
// front of read_buf, consuming it (and any resync/skip bytes ahead of it) on
// success (spec §4.E step 1, §4.C).
func (c *Connection) nextPacketFromBuffer() (MessageType, []byte, bool) {
	res := decodePacket(c.readBuf.Bytes(), ResponseMarker)
	if res.resynced > 0 {
		c.metrics.framesResynced.Add(float64(res.resynced))
	}
	if res.skipped > 0 {
		c.metrics.framesSkipped.Add(float64(res.skipped))
	}
	if !res.found {
		c.readBuf.consume(res.consumed)
		return 0, nil, false
	}
	body := append([]byte(nil), res.body...)
	c.readBuf.consume(res.consumed)
	return res.msgType, body, true
}

package sinc

// PeekMulti implements spec §4.G: wait across several connections at once,
// returning the index of whichever connection produced a message first.
func PeekMulti(conns []*Connection, timeoutMs int) (int, MessageType, []byte, Error) {
	// Step 1: no-wait fast path — a connection may already have a complete
	// packet buffered from a previous partial read.
	for i, c := range conns {
		if hasBufferedPacket(c) {
			mt, body, err := c.ReadMessage(0)
			if err.Code != NoError && err.Code != Timeout {
				return i, 0, nil, err
			}
			if err.Code == NoError {
				return i, mt, body, Error{}
			}
		}
	}

	// Step 3: acquire every connection's reentrancy guard before touching
	// any of them; release whatever was already acquired if one fails.
	acquired := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if !c.wait.acquire() {
			for _, a := range acquired {
				a.wait.release()
			}
			return -1, 0, nil, newError(MultipleThreadWait)
		}
		acquired = append(acquired, c)
	}
	defer func() {
		for _, a := range acquired {
			a.wait.release()
		}
	}()

	// Step 2: assemble the flat descriptor list with an index-back map.
	var fds []int
	var backMap []int
	for i, c := range conns {
		fds = append(fds, c.tcp.fd)
		backMap = append(backMap, i)
		if c.datagramXferEnabled && c.udp != nil {
			fds = append(fds, c.udp.fd)
			backMap = append(backMap, i)
		}
	}

	ready, err := waitMulti(fds, timeoutMs)
	if err.Code != NoError {
		return -1, 0, nil, err
	}

	seen := make(map[int]bool)
	for j, r := range ready {
		if !r {
			continue
		}
		i := backMap[j]
		if seen[i] {
			continue
		}
		seen[i] = true

		mt, body, rerr := conns[i].readMessageLocked(0)
		if rerr.Code == Timeout {
			// Another descriptor may still succeed (spec §4.G step 4).
			continue
		}
		if rerr.Code != NoError {
			return i, 0, nil, rerr
		}
		return i, mt, body, Error{}
	}

	return -1, 0, nil, newError(Timeout)
}

// hasBufferedPacket reports whether c's read buffer already holds a
// complete packet, without consuming it.
func hasBufferedPacket(c *Connection) bool {
	return decodePacket(c.readBuf.Bytes(), ResponseMarker).found
}

// readMessageLocked is ReadMessage's body without the reentrancy-guard
// acquire/release, for use by PeekMulti which has already claimed every
// connection's guard for the duration of the wait.
func (c *Connection) readMessageLocked(timeoutMs int) (MessageType, []byte, Error) {
	for {
		if msgType, body, ok := c.nextPacketFromBuffer(); ok {
			return msgType, body, Error{}
		}
		if !c.connected {
			return 0, nil, newError(NotConnected)
		}
		msgType, body, err := c.drainAndWait(timeoutMs)
		if err.Code != NoError {
			return 0, nil, err
		}
		if body != nil {
			return msgType, body, Error{}
		}
	}
}

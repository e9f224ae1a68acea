package sinc

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// EnableDatagrams negotiates and turns on the UDP histogram channel (spec
// §6 Transport): bind an ephemeral local port, report it to the device via
// SetParams, verify the path with a ProbeDatagram round trip, then enable
// delivery. Connect must have already succeeded.
func (c *Connection) EnableDatagrams(timeoutMs int) Error {
	if !c.connected {
		return newError(NotConnected)
	}

	udp, err := bindDatagram()
	if err.Code != NoError {
		return err
	}
	c.udp = udp

	timeoutMs = c.resolveTimeout(timeoutMs)

	if err := c.SetParams([]KeyValue{
		{Key: "histogram.datagram.ip", Type: ParamTypeString, StringVal: ""},
		{Key: "histogram.datagram.port", Type: ParamTypeInt, IntVal: int64(udp.port)},
	}, timeoutMs); err.Code != NoError {
		c.udp.close()
		c.udp = nil
		return err
	}

	token := probeToken()
	var buf Buffer
	encodeProbeDatagram(&buf, token)
	if err := c.send(&buf); err.Code != NoError {
		c.udp.close()
		c.udp = nil
		return err
	}
	body, err := c.waitForType(timeoutMs, ProbeDatagramResponse)
	if err.Code != NoError {
		c.udp.close()
		c.udp = nil
		return err
	}
	echoed, decErr := decodeProbeDatagramResponse(body)
	if decErr != nil || echoed != token {
		c.udp.close()
		c.udp = nil
		return newError(DeviceError)
	}
	c.datagramReady = true

	if err := c.SetParams([]KeyValue{
		{Key: "histogram.datagram.enable", Type: ParamTypeBool, BoolVal: true},
	}, timeoutMs); err.Code != NoError {
		c.udp.close()
		c.udp = nil
		c.datagramReady = false
		return err
	}

	c.datagramXferEnabled = true
	return Error{}
}

// DisableDatagrams turns off the UDP histogram channel and releases its
// local port.
func (c *Connection) DisableDatagrams(timeoutMs int) Error {
	if !c.datagramXferEnabled {
		return Error{}
	}
	err := c.SetParams([]KeyValue{
		{Key: "histogram.datagram.enable", Type: ParamTypeBool, BoolVal: false},
	}, c.resolveTimeout(timeoutMs))

	if c.udp != nil {
		c.udp.close()
		c.udp = nil
	}
	c.datagramXferEnabled = false
	c.datagramReady = false
	return err
}

// probeToken produces a token unlikely to collide with a stale in-flight
// probe, reusing the same uuid generator as call correlation IDs rather than
// hand-rolling a PRNG.
func probeToken() uint32 {
	id := uuid.New()
	v := binary.BigEndian.Uint32(id[0:4])
	if v == 0 {
		v = 1
	}
	return v
}

// ReceiveHistogramDatagram decodes a body already identified as
// HistogramDatagramResponse by ReadMessage/PeekMulti into a HistogramResult.
func (c *Connection) ReceiveHistogramDatagram(body []byte) (HistogramResult, Error) {
	res, err := decodeHistogramDatagram(body)
	if err != nil {
		return HistogramResult{}, newErrorf(ReadFailed, "%s", err)
	}
	if c.deriveStats {
		res.Derived = deriveHistogramStats(res)
	}
	return res, Error{}
}

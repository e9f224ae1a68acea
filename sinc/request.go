package sinc

import (
	"github.com/google/uuid"
)

// send writes buf's contents to the TCP descriptor, installing any failure
// in the write-error slot (spec §4.B).
func (c *Connection) send(buf *Buffer) Error {
	if !c.connected {
		return newError(NotConnected)
	}
	err := c.tcp.write(buf.Bytes())
	if err.Code != NoError {
		c.errs.setWrite(err)
		return err
	}
	c.metrics.bytesWritten.Add(float64(buf.Len()))
	return Error{}
}

// callID is attached to each request/reply pair's log lines so a device
// session's log can be correlated call-by-call (SPEC_FULL §4 Domain Stack).
func (c *Connection) callID() string { return uuid.New().String() }

// checkSuccess implements spec §4.F "Simple success": wait for a
// SuccessResponse and route its in-band success record through
// interpretSuccess.
func (c *Connection) checkSuccess(timeoutMs int) Error {
	body, err := c.waitForType(timeoutMs, SuccessResponse)
	if err.Code != NoError {
		return err
	}
	return c.interpretSuccess(body)
}

// waitForType implements spec §4.F "Wait-for-type": read messages one at a
// time, routing async errors and unexpected success responses out of band,
// silently skipping everything else, until want is observed.
func (c *Connection) waitForType(timeoutMs int, want MessageType) ([]byte, Error) {
	id := c.callID()
	for {
		mt, body, err := c.ReadMessage(timeoutMs)
		if err.Code != NoError {
			c.log.Printf("sinc[%s]: wait_for_type(%d) failed: %v", id, want, err)
			return nil, err
		}
		if mt == want {
			return body, Error{}
		}
		if mt == AsynchronousErrorResponse {
			rec, decErr := decodeSuccessRecord(body)
			if decErr == nil && rec.Code != NoError {
				c.errs.setRead(newErrorf(rec.Code, "%s", rec.Message))
			}
			continue
		}
		if mt == SuccessResponse {
			// Unexpected success reply interleaved with the sought type:
			// treat as a possible failure response and consume it (spec
			// §4.F), without returning it to the caller.
			c.interpretSuccess(body)
			continue
		}
		// Any other type is silently skipped.
	}
}

// waitReady implements spec §4.F "Wait-ready": issued after a stop/
// calibration command, it polls channel.state until the targeted channel (or
// any channel, if channelID<0) reports "ready".
func (c *Connection) waitReady(timeoutMs int, channelID int) Error {
	var buf Buffer
	encodeGetParam(&buf, channelID, "channel.state")
	if err := c.send(&buf); err.Code != NoError {
		return err
	}

	for {
		mt, body, err := c.ReadMessage(timeoutMs)
		if err.Code != NoError {
			return err
		}

		switch mt {
		case AsynchronousErrorResponse:
			rec, decErr := decodeSuccessRecord(body)
			if decErr == nil && rec.Code != NoError {
				c.errs.setRead(newErrorf(rec.Code, "%s", rec.Message))
			}
		case ParamUpdatedResponse:
			kv, decErr := decodeKeyValue(body)
			if decErr == nil && kv.Type == ParamTypeString && kv.StringVal == "ready" &&
				(channelID < 0 || !kv.HasChannelID || kv.ChannelID == channelID) {
				// The terminating event was a ParamUpdatedResponse; the
				// outstanding GetParamResponse must still be consumed to
				// keep the sent/received counters balanced (spec §4.F).
				if _, _, err := c.ReadMessage(timeoutMs); err.Code != NoError {
					return err
				}
				return Error{}
			}
		case GetParamResponse:
			kv, decErr := decodeKeyValue(body)
			if decErr == nil && kv.Type == ParamTypeString && kv.StringVal == "ready" &&
				(channelID < 0 || !kv.HasChannelID || kv.ChannelID == channelID) {
				return Error{}
			}
		}
	}
}

// waitCalibrationComplete implements spec §4.F "Wait-calibration-complete":
// consume CalibrationProgressResponse messages until complete=true, then
// issue get_calibration and return the assembled payload.
func (c *Connection) waitCalibrationComplete(timeoutMs int, channelID int) (CalibrationPayload, Error) {
	for {
		mt, body, err := c.ReadMessage(timeoutMs)
		if err.Code != NoError {
			return CalibrationPayload{}, err
		}
		if mt == AsynchronousErrorResponse {
			rec, decErr := decodeSuccessRecord(body)
			if decErr == nil && rec.Code != NoError {
				c.errs.setRead(newErrorf(rec.Code, "%s", rec.Message))
			}
			continue
		}
		if mt != CalibrationProgressResponse {
			continue
		}
		if ierr := c.interpretSuccess(body); ierr.Code != NoError {
			return CalibrationPayload{}, ierr
		}
		complete, decErr := decodeCalibrationProgress(body)
		if decErr != nil {
			return CalibrationPayload{}, newErrorf(ReadFailed, "%s", decErr)
		}
		if !complete {
			continue
		}
		return c.GetCalibration(channelID, timeoutUseDefault)
	}
}

// --- Public request/reply API (spec §4.F sub-protocols wired to §4.D codec) ---

// Ping round-trips a no-op command, useful as a liveness check.
func (c *Connection) Ping(timeoutMs int) Error {
	var buf Buffer
	encodePing(&buf)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	return c.checkSuccess(c.resolveTimeout(timeoutMs))
}

// GetParam fetches one parameter by key, optionally scoped to a channel
// (channelID<0 means instrument-level).
func (c *Connection) GetParam(channelID int, key string, timeoutMs int) (KeyValue, Error) {
	var buf Buffer
	encodeGetParam(&buf, channelID, key)
	if err := c.send(&buf); err.Code != NoError {
		return KeyValue{}, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), GetParamResponse)
	if err.Code != NoError {
		return KeyValue{}, err
	}
	if ierr := c.interpretSuccess(body); ierr.Code != NoError {
		return KeyValue{}, ierr
	}
	kv, decErr := decodeGetParamResponse(body)
	if decErr != nil {
		return KeyValue{}, newErrorf(ReadFailed, "%s", decErr)
	}
	return kv, Error{}
}

// SetParam sets one parameter and waits for the command's success reply.
func (c *Connection) SetParam(kv KeyValue, timeoutMs int) Error {
	var buf Buffer
	encodeSetParam(&buf, kv)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	return c.checkSuccess(c.resolveTimeout(timeoutMs))
}

// SetParams sets several parameters in a single round trip.
func (c *Connection) SetParams(kvs []KeyValue, timeoutMs int) Error {
	var buf Buffer
	encodeSetParams(&buf, kvs)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	return c.checkSuccess(c.resolveTimeout(timeoutMs))
}

// SetAllParams sets every accumulated parameter from a project-file load,
// passing the source firmware version so the device can upgrade its stored
// defaults (spec §4.H step 6).
func (c *Connection) SetAllParams(kvs []KeyValue, fromFirmwareVersion string, timeoutMs int) Error {
	var buf Buffer
	encodeSetAllParams(&buf, kvs, fromFirmwareVersion)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	return c.checkSuccess(c.resolveTimeout(timeoutMs))
}

// ListParamDetails fetches the authoritative type/settability metadata for
// every parameter whose name starts with prefix (spec §4.H step 2).
func (c *Connection) ListParamDetails(channelID int, prefix string, timeoutMs int) ([]ParamDetail, Error) {
	var buf Buffer
	encodeListParamDetails(&buf, channelID, prefix)
	if err := c.send(&buf); err.Code != NoError {
		return nil, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), ListParamDetailsResponse)
	if err.Code != NoError {
		return nil, err
	}
	if ierr := c.interpretSuccess(body); ierr.Code != NoError {
		return nil, ierr
	}
	details, decErr := decodeListParamDetailsResponse(body)
	if decErr != nil {
		return nil, newErrorf(ReadFailed, "%s", decErr)
	}
	return details, Error{}
}

// StartCalibration begins calibration on channelID and blocks until it
// completes, returning the assembled calibration payload.
func (c *Connection) StartCalibration(channelID int, timeoutMs int) (CalibrationPayload, Error) {
	var buf Buffer
	encodeStartCalibration(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return CalibrationPayload{}, err
	}
	if err := c.checkSuccess(c.resolveTimeout(timeoutMs)); err.Code != NoError {
		return CalibrationPayload{}, err
	}
	return c.waitCalibrationComplete(c.resolveTimeout(timeoutMs), channelID)
}

// StopCalibration cancels an in-progress calibration and waits for the
// channel to report ready.
func (c *Connection) StopCalibration(channelID int, timeoutMs int) Error {
	var buf Buffer
	encodeStopCalibration(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	if err := c.checkSuccess(c.resolveTimeout(timeoutMs)); err.Code != NoError {
		return err
	}
	return c.waitReady(c.resolveTimeout(timeoutMs), channelID)
}

// GetCalibration fetches the current calibration payload for channelID.
func (c *Connection) GetCalibration(channelID int, timeoutMs int) (CalibrationPayload, Error) {
	var buf Buffer
	encodeGetCalibration(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return CalibrationPayload{}, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), GetCalibrationResponse)
	if err.Code != NoError {
		return CalibrationPayload{}, err
	}
	if ierr := c.interpretSuccess(body); ierr.Code != NoError {
		return CalibrationPayload{}, ierr
	}
	_, payload, decErr := decodeGetCalibrationResponse(body)
	if decErr != nil {
		return CalibrationPayload{}, newErrorf(ReadFailed, "%s", decErr)
	}
	if c.deriveStats {
		payload.Derived = deriveCalibrationStats(payload)
	}
	return payload, Error{}
}

// SetCalibration uploads a calibration payload for channelID.
func (c *Connection) SetCalibration(channelID int, p CalibrationPayload, timeoutMs int) Error {
	var buf Buffer
	encodeSetCalibration(&buf, channelID, p)
	if err := c.send(&buf); err.Code != NoError {
		return err
	}
	return c.checkSuccess(c.resolveTimeout(timeoutMs))
}

// OscilloscopeData fetches the current oscilloscope waveform for channelID.
func (c *Connection) OscilloscopeData(channelID int, timeoutMs int) (OscilloscopeResult, Error) {
	var buf Buffer
	encodeOscilloscopeDataRequest(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return OscilloscopeResult{}, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), OscilloscopeDataResponse)
	if err.Code != NoError {
		return OscilloscopeResult{}, err
	}
	res, decErr := decodeOscilloscopeDataResponse(body)
	if decErr != nil {
		return OscilloscopeResult{}, newErrorf(ReadFailed, "%s", decErr)
	}
	return res, Error{}
}

// HistogramData fetches the current histogram over TCP (as opposed to the
// subscribed UDP datagram stream enabled by EnableDatagrams).
func (c *Connection) HistogramData(channelID int, timeoutMs int) (HistogramResult, Error) {
	var buf Buffer
	encodeHistogramDataRequest(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return HistogramResult{}, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), HistogramDataResponse)
	if err.Code != NoError {
		return HistogramResult{}, err
	}
	res, decErr := decodeHistogramDataResponse(body)
	if decErr != nil {
		return HistogramResult{}, newErrorf(ReadFailed, "%s", decErr)
	}
	if c.deriveStats {
		res.Derived = deriveHistogramStats(res)
	}
	return res, Error{}
}

// ListModeData fetches the current list-mode event buffer for channelID.
func (c *Connection) ListModeData(channelID int, timeoutMs int) (ListModeResult, Error) {
	var buf Buffer
	encodeListModeDataRequest(&buf, channelID)
	if err := c.send(&buf); err.Code != NoError {
		return ListModeResult{}, err
	}
	body, err := c.waitForType(c.resolveTimeout(timeoutMs), ListModeDataResponse)
	if err.Code != NoError {
		return ListModeResult{}, err
	}
	res, decErr := decodeListModeDataResponse(body)
	if decErr != nil {
		return ListModeResult{}, newErrorf(ReadFailed, "%s", decErr)
	}
	return res, Error{}
}

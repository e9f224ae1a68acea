package sinc

import "github.com/cwsl/gosinc/internal/protoframe"

// Every reply that names a specific operation carries the same nested
// success record (spec §4.D "In-band success"). It's modeled as an ordinary
// nested message at a field number past any operation-specific fields, so
// encode_X/decode_X pairs below can embed or extract it without knowing the
// rest of the body's shape.
const successRecordField = 99

type successRecord struct {
	Code    Code
	Message string
}

func encodeSuccessRecord(rec successRecord) []byte {
	w := protoframe.NewWriter()
	w.Int64(1, int64(rec.Code))
	w.String(2, rec.Message)
	return w.Bytes()
}

func decodeSuccessRecord(b []byte) (successRecord, error) {
	var rec successRecord
	r := protoframe.NewReader(b)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return successRecord{}, err
		}
		if !ok {
			break
		}
		switch f.Number {
		case 1:
			rec.Code = Code(f.Int64())
		case 2:
			rec.Message = f.String()
		}
	}
	return rec, nil
}

// appendSuccessRecord appends the nested success sub-message to a reply
// body under construction.
func appendSuccessRecord(w *protoframe.Writer, rec successRecord) {
	w.Bytes_(successRecordField, encodeSuccessRecord(rec))
}

// interpretSuccess extracts the nested success record from a reply body; if
// the record's code is not NoError, it installs the code+message into the
// connection's read-error slot and returns an error, matching spec §4.D's
// centralized interpret_success helper.
func (c *Connection) interpretSuccess(body []byte) Error {
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return newErrorf(ReadFailed, "%s", err)
		}
		if !ok {
			return Error{}
		}
		if f.Number == successRecordField {
			rec, err := decodeSuccessRecord(f.Bytes)
			if err != nil {
				return newErrorf(ReadFailed, "%s", err)
			}
			if rec.Code != NoError {
				e := newErrorf(rec.Code, "%s", rec.Message)
				c.errs.setRead(e)
				return e
			}
			return Error{}
		}
	}
}

// --- Ping ---

func encodePing(buf *Buffer) {
	encodePacket(buf, PingCommand, nil)
}

// --- GetParam / SetParam / SetParams / SetAllParams ---

// encodeGetParam builds a get_param request body: an optional channel id and
// a key name (used by GetParam and by waitReady's channel.state query).
func encodeGetParam(buf *Buffer, channelID int, key string) {
	w := protoframe.NewWriter()
	if channelID >= 0 {
		w.Int64(1, int64(channelID))
	}
	w.String(2, key)
	encodePacket(buf, GetParamCommand, w.Bytes())
}

func decodeGetParamResponse(body []byte) (KeyValue, error) {
	return decodeKeyValue(body)
}

func encodeSetParam(buf *Buffer, kv KeyValue) {
	encodePacket(buf, SetParamCommand, encodeKeyValue(kv))
}

func encodeSetParams(buf *Buffer, kvs []KeyValue) {
	w := protoframe.NewWriter()
	for _, kv := range kvs {
		w.Bytes_(1, encodeKeyValue(kv))
	}
	encodePacket(buf, SetParamsCommand, w.Bytes())
}

// encodeSetAllParams additionally carries from_firmware_version so the
// device can upgrade stored defaults when loading an older project file
// (spec §4.H step 6).
func encodeSetAllParams(buf *Buffer, kvs []KeyValue, fromFirmwareVersion string) {
	w := protoframe.NewWriter()
	for _, kv := range kvs {
		w.Bytes_(1, encodeKeyValue(kv))
	}
	w.String(2, fromFirmwareVersion)
	encodePacket(buf, SetAllParamsCommand, w.Bytes())
}

// --- ListParamDetails ---

func encodeListParamDetails(buf *Buffer, channelID int, prefix string) {
	w := protoframe.NewWriter()
	if channelID >= 0 {
		w.Int64(1, int64(channelID))
	}
	w.String(2, prefix)
	encodePacket(buf, ListParamDetailsCommand, w.Bytes())
}

func decodeListParamDetailsResponse(body []byte) ([]ParamDetail, error) {
	var out []ParamDetail
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if f.Number == 1 {
			pd, err := decodeParamDetail(f.Bytes)
			if err != nil {
				return nil, err
			}
			out = append(out, pd)
		}
	}
	return out, nil
}

// --- Calibration ---

func encodeStartCalibration(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, StartCalibrationCommand, w.Bytes())
}

func encodeStopCalibration(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, StopCalibrationCommand, w.Bytes())
}

func encodeGetCalibration(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, GetCalibrationCommand, w.Bytes())
}

func encodeSetCalibration(buf *Buffer, channelID int, p CalibrationPayload) {
	body := encodeGetCalibrationResponse(channelID, p)
	encodePacket(buf, SetCalibrationCommand, body)
}

// decodeCalibrationProgress reports whether calibration has finished (spec
// §4.F "Wait-calibration-complete").
func decodeCalibrationProgress(body []byte) (complete bool, err error) {
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			return complete, nil
		}
		if f.Number == 1 {
			complete = f.Bool()
		}
	}
}

// --- Bulk data (oscilloscope / histogram-TCP / list-mode). Oscilloscope and
// list-mode replies use the extended-length shim (spec §4.C "Extended-length
// shim"); the histogram-TCP reply is decoded by decodeHistogramResponse as
// plain protobuf fields and does not go through the shim. ---

// splitExtendedLengthShim reads the nested protobuf-header length from the
// front of body and returns the header bytes and the raw tail, validating
// that the nested length plus overhead doesn't exceed body's length.
func splitExtendedLengthShim(body []byte) (header, tail []byte, err error) {
	if len(body) < 2 {
		return nil, nil, newErrorf(ReadFailed, "body too short for extended-length shim: %d bytes", len(body))
	}
	nested := int(body[0]) | int(body[1])<<8
	overhead := 2
	if nested == 0xFFFF {
		if len(body) < 6 {
			return nil, nil, newErrorf(ReadFailed, "body too short for 32-bit extended length: %d bytes", len(body))
		}
		nested = int(body[2]) | int(body[3])<<8 | int(body[4])<<16 | int(body[5])<<24
		overhead = 6
	}
	if nested < 0 || nested+overhead > len(body) {
		return nil, nil, newErrorf(ReadFailed, "extended-length shim nested_len %d exceeds body_len %d", nested, len(body))
	}
	header = body[overhead : overhead+nested]
	tail = body[overhead+nested:]
	return header, tail, nil
}

func encodeOscilloscopeDataRequest(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, OscilloscopeDataCommand, w.Bytes())
}

// OscilloscopeResult is the assembled waveform from get_oscilloscope_data:
// a single f64 trace sized by the nested protobuf header (spec §4.D shape 2).
type OscilloscopeResult struct {
	FromChannelID int
	Trace         []float64
}

func decodeOscilloscopeDataResponse(body []byte) (OscilloscopeResult, error) {
	header, tail, err := splitExtendedLengthShim(body)
	if err != nil {
		return OscilloscopeResult{}, err
	}

	var fromChannelID int
	r := protoframe.NewReader(header)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return OscilloscopeResult{}, err
		}
		if !ok {
			break
		}
		if f.Number == 1 {
			fromChannelID = int(f.Int64())
		}
	}

	trace, err := parsePackedFloats(tail)
	if err != nil {
		return OscilloscopeResult{}, err
	}
	return OscilloscopeResult{FromChannelID: fromChannelID, Trace: trace}, nil
}

func encodeHistogramDataRequest(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, HistogramDataCommand, w.Bytes())
}

func decodeHistogramDataResponse(body []byte) (HistogramResult, error) {
	return decodeHistogramResponse(body)
}

// ListModeResult is the assembled event stream from get_list_mode_data: a
// single u32 event-word array sized by the nested protobuf header.
type ListModeResult struct {
	FromChannelID int
	Events        []uint32
}

func encodeListModeDataRequest(buf *Buffer, channelID int) {
	w := protoframe.NewWriter()
	w.Int64(1, int64(channelID))
	encodePacket(buf, ListModeDataCommand, w.Bytes())
}

func decodeListModeDataResponse(body []byte) (ListModeResult, error) {
	header, tail, err := splitExtendedLengthShim(body)
	if err != nil {
		return ListModeResult{}, err
	}

	var fromChannelID int
	r := protoframe.NewReader(header)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return ListModeResult{}, err
		}
		if !ok {
			break
		}
		if f.Number == 1 {
			fromChannelID = int(f.Int64())
		}
	}

	events, err := parsePackedUint32s(tail)
	if err != nil {
		return ListModeResult{}, err
	}
	return ListModeResult{FromChannelID: fromChannelID, Events: events}, nil
}

// --- ProbeDatagram (spec §6 Transport) ---

func encodeProbeDatagram(buf *Buffer, token uint32) {
	w := protoframe.NewWriter()
	w.Uint64(1, uint64(token))
	encodePacket(buf, ProbeDatagramCommand, w.Bytes())
}

func decodeProbeDatagramResponse(body []byte) (uint32, error) {
	r := protoframe.NewReader(body)
	var token uint32
	for {
		f, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return token, nil
		}
		if f.Number == 1 {
			token = uint32(f.Varint)
		}
	}
}

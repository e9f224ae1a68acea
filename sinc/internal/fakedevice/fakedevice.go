// Package fakedevice is a minimal, test-only stand-in for a SINC device: it
// speaks the same 10-byte framed wire format as the real client (spec §3/
// §4.C) but reimplements encode/decode independently rather than reaching
// into package sinc's unexported codec, since a real device shares no Go
// code with this client either. Used only by sinc/*_test.go and
// sincproject/*_test.go files (spec §1 Non-goals: no real device in-process).
package fakedevice

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cwsl/gosinc/internal/protoframe"
)

const (
	commandMarker        uint32 = 0x88E7D5C6
	responseMarker       uint32 = 0x87D6C4B5
	responseCodeProtobuf byte   = 3
	headerLength                = 10
	successRecordField          = 99
)

// Message types, mirrored from sinc/messagetype.go's internal numbering —
// the two sides must agree on these the way a real client/device pair
// agrees on a shared external schema.
const (
	successResponse             = 1
	getParamResponse            = 2
	paramUpdatedResponse        = 3
	asynchronousErrorResponse   = 4
	calibrationProgressResponse = 5
	histogramDatagramResponse   = 6

	getParamCommand          = 10
	setParamCommand          = 11
	setParamsCommand         = 12
	setAllParamsCommand      = 13
	listParamDetailsCommand  = 14
	listParamDetailsResponse = 15
	pingCommand              = 16
	startCalibrationCommand  = 17
	getCalibrationCommand    = 18
	getCalibrationResponse   = 19
	setCalibrationCommand    = 20
	stopCalibrationCommand   = 21
)

// Param is one entry in the fake device's parameter store.
type Param struct {
	Name            string
	Type            byte // matches sinc.ParamType's encoding: 0 int,1 float,2 bool,3 string,4 option
	InstrumentLevel bool
	Settable        bool

	IntVal    int64
	FloatVal  float64
	BoolVal   bool
	StringVal string
	OptionVal string
}

// Server is a single-connection fake device. Start it, point a
// sinc.Connection at its Addr(), and it answers the subset of the protocol
// exercised by tests.
type Server struct {
	ln          net.Listener
	mu          sync.Mutex
	params      map[string]Param
	calibration []byte // raw flat calibration body, same layout as getCalibrationCommand's reply
	done        chan struct{}
	conn        net.Conn

	pendingAsyncErr *asyncError
}

// asyncError is a one-shot AsynchronousErrorResponse to send ahead of the
// next command's own reply, letting a test exercise a real device's async-
// event interleaving (spec §4.F "Wait-for-type").
type asyncError struct {
	code int
	msg  string
}

// InjectAsyncError arms a one-shot AsynchronousErrorResponse that precedes
// the next GetParam reply, then clears itself.
func (s *Server) InjectAsyncError(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAsyncErr = &asyncError{code: code, msg: msg}
}

// New starts listening on 127.0.0.1:0 and returns a Server ready to Accept.
// channel.state starts out "ready" so a bare StopCalibration/waitReady round
// trip completes without the test having to seed it.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, params: map[string]Param{}, done: make(chan struct{})}
	s.params["channel.state"] = Param{Name: "channel.state", Type: 3, StringVal: "ready"}
	return s, nil
}

// SetParam seeds or overwrites a parameter the device reports for GetParam/
// ListParamDetails.
func (s *Server) SetParam(p Param) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[p.Name] = p
}

// Addr returns the host and port tests should Connect to.
func (s *Server) Addr() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Serve accepts exactly one connection and answers requests until it closes
// or Close is called. Run it in a goroutine.
func (s *Server) Serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if err != nil {
			return
		}
		buf = append(buf, readBuf[:n]...)

		for {
			msgType, body, consumed, ok := decodeFrame(buf)
			if !ok {
				break
			}
			buf = buf[consumed:]
			for _, resp := range s.handle(msgType, body) {
				if _, err := conn.Write(resp); err != nil {
					return
				}
			}
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// Close stops accepting further connections and, if a client is attached,
// closes that connection too so a blocked client-side read unblocks with an
// error instead of hanging.
func (s *Server) Close() {
	close(s.done)
	s.ln.Close()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func decodeFrame(buf []byte) (msgType int, body []byte, consumed int, ok bool) {
	if len(buf) < headerLength {
		return 0, nil, 0, false
	}
	marker := binary.LittleEndian.Uint32(buf[0:4])
	if marker != commandMarker {
		return 0, nil, 0, false
	}
	lenPlus2 := binary.LittleEndian.Uint32(buf[4:8])
	if lenPlus2 < 2 {
		return 0, nil, 0, false
	}
	bodyLen := int(lenPlus2) - 2
	total := headerLength + bodyLen
	if len(buf) < total {
		return 0, nil, 0, false
	}
	return int(buf[9]), buf[headerLength:total], total, true
}

func encodeFrame(msgType int, body []byte) []byte {
	out := make([]byte, headerLength+len(body))
	binary.LittleEndian.PutUint32(out[0:4], responseMarker)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(body)+2))
	out[8] = responseCodeProtobuf
	out[9] = byte(msgType)
	copy(out[10:], body)
	return out
}

func appendSuccess(w *protoframe.Writer, code int, msg string) {
	sw := protoframe.NewWriter()
	sw.Int64(1, int64(code))
	sw.String(2, msg)
	w.Bytes_(successRecordField, sw.Bytes())
}

// encodeAsyncError builds an AsynchronousErrorResponse frame. Its body is
// the flat success-record shape (fields 1/2), not nested under field 99 —
// waitForType decodes it directly rather than through interpretSuccess.
func encodeAsyncError(code int, msg string) []byte {
	w := protoframe.NewWriter()
	w.Int64(1, int64(code))
	w.String(2, msg)
	return encodeFrame(asynchronousErrorResponse, w.Bytes())
}

// handle returns the frame(s) to write back for one request. Most commands
// produce a single reply; starting calibration produces a success reply
// followed by an unsolicited CalibrationProgressResponse, mirroring a real
// device's asynchronous completion notice.
func (s *Server) handle(msgType int, body []byte) [][]byte {
	switch msgType {
	case pingCommand:
		w := protoframe.NewWriter()
		appendSuccess(w, 0, "")
		return [][]byte{encodeFrame(successResponse, w.Bytes())}

	case getParamCommand:
		s.mu.Lock()
		pending := s.pendingAsyncErr
		s.pendingAsyncErr = nil
		s.mu.Unlock()
		if pending != nil {
			return [][]byte{encodeAsyncError(pending.code, pending.msg), s.handleGetParam(body)}
		}
		return [][]byte{s.handleGetParam(body)}

	case setParamCommand, setParamsCommand, setAllParamsCommand:
		s.applySetParams(msgType, body)
		w := protoframe.NewWriter()
		appendSuccess(w, 0, "")
		return [][]byte{encodeFrame(successResponse, w.Bytes())}

	case listParamDetailsCommand:
		return [][]byte{s.handleListParamDetails(body)}

	case startCalibrationCommand:
		sw := protoframe.NewWriter()
		appendSuccess(sw, 0, "")
		success := encodeFrame(successResponse, sw.Bytes())

		pw := protoframe.NewWriter()
		pw.Bool(1, true)
		appendSuccess(pw, 0, "")
		progress := encodeFrame(calibrationProgressResponse, pw.Bytes())
		return [][]byte{success, progress}

	case stopCalibrationCommand:
		w := protoframe.NewWriter()
		appendSuccess(w, 0, "")
		s.SetParam(Param{Name: "channel.state", Type: 3, StringVal: "ready", Settable: true})
		return [][]byte{encodeFrame(successResponse, w.Bytes())}

	case getCalibrationCommand:
		w := protoframe.NewWriter()
		appendSuccess(w, 0, "")
		s.mu.Lock()
		cal := s.calibration
		s.mu.Unlock()
		// The calibration payload's fields (from_channel_id, data, the three
		// plots) sit flat in the reply body alongside the success record,
		// exactly as set_calibration's request body carried them in.
		out := append(append([]byte{}, w.Bytes()...), cal...)
		return [][]byte{encodeFrame(getCalibrationResponse, out)}

	case setCalibrationCommand:
		s.mu.Lock()
		s.calibration = append([]byte(nil), body...)
		s.mu.Unlock()
		w := protoframe.NewWriter()
		appendSuccess(w, 0, "")
		return [][]byte{encodeFrame(successResponse, w.Bytes())}
	}
	return nil
}

func (s *Server) handleGetParam(body []byte) []byte {
	r := protoframe.NewReader(body)
	var key string
	for {
		f, ok, err := r.Next()
		if err != nil || !ok {
			break
		}
		if f.Number == 2 {
			key = f.String()
		}
	}

	s.mu.Lock()
	p, known := s.params[key]
	s.mu.Unlock()

	w := protoframe.NewWriter()
	if !known {
		appendSuccess(w, 3, "not found: "+key) // 3 == sinc.NotFound
		return encodeFrame(getParamResponse, w.Bytes())
	}
	appendSuccess(w, 0, "")
	w.String(2, p.Name)
	switch p.Type {
	case 0:
		w.Int64(3, p.IntVal)
	case 1:
		w.Double(4, p.FloatVal)
	case 2:
		w.Bool(5, p.BoolVal)
	case 3:
		w.String(6, p.StringVal)
	case 4:
		w.String(7, p.OptionVal)
	}
	return encodeFrame(getParamResponse, w.Bytes())
}

func (s *Server) applySetParams(msgType int, body []byte) {
	// set_param carries one bare KeyValue; set_params/set_all_params wrap
	// each KeyValue in a repeated field 1.
	if msgType == setParamCommand {
		s.applyOneKeyValue(body)
		return
	}
	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil || !ok {
			break
		}
		if f.Number == 1 {
			s.applyOneKeyValue(f.Bytes)
		}
	}
}

func (s *Server) applyOneKeyValue(body []byte) {
	r := protoframe.NewReader(body)
	var p Param
	for {
		f, ok, err := r.Next()
		if err != nil || !ok {
			break
		}
		switch f.Number {
		case 2:
			p.Name = f.String()
		case 3:
			p.Type = 0
			p.IntVal = f.Int64()
		case 4:
			p.Type = 1
			p.FloatVal = f.Double()
		case 5:
			p.Type = 2
			p.BoolVal = f.Bool()
		case 6:
			p.Type = 3
			p.StringVal = f.String()
		case 7:
			p.Type = 4
			p.OptionVal = f.String()
		}
	}
	if p.Name == "" {
		return
	}
	s.mu.Lock()
	existing, ok := s.params[p.Name]
	if ok {
		p.InstrumentLevel = existing.InstrumentLevel
		p.Settable = existing.Settable
	} else {
		p.Settable = true
	}
	s.params[p.Name] = p
	s.mu.Unlock()
}

func (s *Server) handleListParamDetails(body []byte) []byte {
	r := protoframe.NewReader(body)
	var prefix string
	for {
		f, ok, err := r.Next()
		if err != nil || !ok {
			break
		}
		if f.Number == 2 {
			prefix = f.String()
		}
	}

	w := protoframe.NewWriter()
	appendSuccess(w, 0, "")

	s.mu.Lock()
	for _, p := range s.params {
		if prefix != "" && !hasPrefix(p.Name, prefix) {
			continue
		}
		dw := protoframe.NewWriter()
		dw.String(1, p.Name)
		dw.Int64(2, int64(p.Type))
		dw.Bool(3, p.InstrumentLevel)
		dw.Bool(4, p.Settable)
		w.Bytes_(1, dw.Bytes())
	}
	s.mu.Unlock()

	return encodeFrame(listParamDetailsResponse, w.Bytes())
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

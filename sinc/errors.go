package sinc

import "fmt"

// Code identifies a SINC protocol error. The zero value is NoError.
type Code uint8

const (
	NoError Code = iota
	OutOfMemory
	Unimplemented
	NotFound
	BadParameters
	HostNotFound
	OutOfResources
	ConnectionFailed
	ReadFailed
	WriteFailed
	CommandFailed
	SocketClosedUnexpectedly
	Timeout
	HostUnreachable
	AuthorizationFailed
	DeviceError
	InvalidRequest
	NonGatedHistogramDisabled
	MultipleThreadWait
	NotConnected
)

// defaultMessages holds the default human-readable message for every defined
// Code. Every Code above must have an entry here.
var defaultMessages = map[Code]string{
	NoError:                   "no error",
	OutOfMemory:               "out of memory",
	Unimplemented:             "unimplemented",
	NotFound:                  "not found",
	BadParameters:             "bad parameters",
	HostNotFound:              "host not found",
	OutOfResources:            "out of resources",
	ConnectionFailed:          "connection failed",
	ReadFailed:                "read failed",
	WriteFailed:               "write failed",
	CommandFailed:             "command failed",
	SocketClosedUnexpectedly:  "socket closed unexpectedly",
	Timeout:                   "timeout",
	HostUnreachable:           "host unreachable",
	AuthorizationFailed:       "authorization failed",
	DeviceError:               "device error",
	InvalidRequest:            "invalid request",
	NonGatedHistogramDisabled: "non-gated histogram disabled",
	MultipleThreadWait:        "multiple thread wait",
	NotConnected:              "not connected",
}

func (c Code) String() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code %d", uint8(c))
}

// Error is a SINC protocol error: a code plus a human-readable message.
// newError installs a Code's default message; newErrorf supplies a custom
// one instead, e.g. with device-supplied detail.
type Error struct {
	Code    Code
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Message
}

// newError builds an Error with the default message for code.
func newError(code Code) Error {
	return Error{Code: code, Message: code.String()}
}

// newErrorf builds an Error with a custom message.
func newErrorf(code Code, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errState holds the two independent error slots described in spec §3/§4.B:
// one for the most recent read/receive failure, one for the most recent
// write/send failure, plus a selector for whichever was set most recently.
type errState struct {
	read    Error
	write   Error
	current *Error
}

func (s *errState) setRead(e Error) {
	s.read = e
	s.current = &s.read
}

func (s *errState) setWrite(e Error) {
	s.write = e
	s.current = &s.write
}

func (s *errState) clear() {
	s.read = Error{}
	s.write = Error{}
	s.current = nil
}

// ReadError returns the most recent read/receive error.
func (c *Connection) ReadError() Error { return c.errs.read }

// WriteError returns the most recent write/send error.
func (c *Connection) WriteError() Error { return c.errs.write }

// LastError returns whichever of ReadError/WriteError was set most recently.
// It returns the zero Error (NoError) if neither slot has ever been set.
func (c *Connection) LastError() Error {
	if c.errs.current == nil {
		return Error{}
	}
	return *c.errs.current
}

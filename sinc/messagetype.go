package sinc

// MessageType identifies the kind of body carried by a framed packet. The
// full enumeration is owned by the external message schema (see spec §6);
// the core only needs to name the sentinels it treats specially.
type MessageType uint8

const (
	// CommandMarker and ResponseMarker are the 32-bit magic values that open
	// every framed packet on the wire (spec §3 "Framed packet").
	CommandMarker  uint32 = 0x88E7D5C6
	ResponseMarker uint32 = 0x87D6C4B5

	// responseCodeProtobuf is the only response_code the core's framing
	// layer decodes a body for; everything else is skipped (spec §4.C).
	responseCodeProtobuf uint8 = 3

	// maxPacketSize is the implementation cap on payload_len_plus_two
	// (spec §4.C step 2).
	maxPacketSize uint32 = 256 * 1024 * 1024

	// headerLength is the size in bytes of the 10-byte framed packet header.
	headerLength = 10
)

// Sentinel message types named by spec §6. All other MessageType values are
// opaque to the core and are simply round-tripped.
const (
	SuccessResponse             MessageType = 1
	GetParamResponse            MessageType = 2
	ParamUpdatedResponse        MessageType = 3
	AsynchronousErrorResponse   MessageType = 4
	CalibrationProgressResponse MessageType = 5
	HistogramDatagramResponse   MessageType = 6

	// Additional named types used by the codec and project-file flow. Real
	// deployments assign these from the externally-owned schema; the values
	// here are internally consistent defaults usable against a
	// schema-compatible test device.
	GetParamCommand            MessageType = 10
	SetParamCommand            MessageType = 11
	SetParamsCommand           MessageType = 12
	SetAllParamsCommand        MessageType = 13
	ListParamDetailsCommand    MessageType = 14
	ListParamDetailsResponse   MessageType = 15
	PingCommand                MessageType = 16
	StartCalibrationCommand    MessageType = 17
	GetCalibrationCommand      MessageType = 18
	GetCalibrationResponse     MessageType = 19
	SetCalibrationCommand      MessageType = 20
	StopCalibrationCommand     MessageType = 21
	OscilloscopeDataCommand    MessageType = 22
	OscilloscopeDataResponse   MessageType = 23
	HistogramDataCommand       MessageType = 24
	HistogramDataResponse      MessageType = 25
	ListModeDataCommand        MessageType = 26
	ListModeDataResponse       MessageType = 27
	ProbeDatagramCommand       MessageType = 28
	ProbeDatagramResponse      MessageType = 29
	StartCalibrationResponse   MessageType = 30
)

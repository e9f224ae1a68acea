package sinc

import (
	"testing"
	"time"

	"github.com/cwsl/gosinc/sinc/internal/fakedevice"
)

func startFakeDevice(t *testing.T) (*fakedevice.Server, *Connection) {
	t.Helper()
	dev, err := fakedevice.New()
	if err != nil {
		t.Fatalf("fakedevice.New: %v", err)
	}
	go dev.Serve()

	host, port := dev.Addr()
	c := NewConnection()
	if !c.Connect(host, port, 2000) {
		t.Fatalf("Connect: %v", c.ReadError())
	}
	return dev, c
}

// A full request/reply round trip over a real TCP loopback connection,
// against an independent wire-level implementation of the same protocol.
func TestConnection_Ping(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	if err := c.Ping(2000); err.Code != NoError {
		t.Fatalf("Ping: %v", err)
	}
}

func TestConnection_GetParam_Found(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	dev.SetParam(fakedevice.Param{Name: "pulse.riseTime", Type: 0, IntVal: 42, Settable: true})

	kv, err := c.GetParam(-1, "pulse.riseTime", 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam: %v", err)
	}
	if kv.Type != ParamTypeInt || kv.IntVal != 42 {
		t.Errorf("kv = %+v, want IntVal=42", kv)
	}
}

func TestConnection_GetParam_NotFound(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	_, err := c.GetParam(-1, "no.such.param", 2000)
	if err.Code != NotFound {
		t.Fatalf("err.Code = %v, want NotFound", err.Code)
	}
}

func TestConnection_SetParam_ThenGetParam(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	if err := c.SetParam(KeyValue{Key: "histogram.datagram.ip", Type: ParamTypeString, StringVal: "10.0.0.9"}, 2000); err.Code != NoError {
		t.Fatalf("SetParam: %v", err)
	}

	kv, err := c.GetParam(-1, "histogram.datagram.ip", 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam: %v", err)
	}
	if kv.StringVal != "10.0.0.9" {
		t.Errorf("StringVal = %q, want 10.0.0.9", kv.StringVal)
	}
}

func TestConnection_SetParams_Multiple(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	err := c.SetParams([]KeyValue{
		{Key: "a.b", Type: ParamTypeBool, BoolVal: true},
		{Key: "c.d", Type: ParamTypeFloat, FloatVal: 3.25},
	}, 2000)
	if err.Code != NoError {
		t.Fatalf("SetParams: %v", err)
	}

	kv1, err1 := c.GetParam(-1, "a.b", 2000)
	if err1.Code != NoError || !kv1.BoolVal {
		t.Errorf("a.b = %+v, err=%v", kv1, err1)
	}
	kv2, err2 := c.GetParam(-1, "c.d", 2000)
	if err2.Code != NoError || kv2.FloatVal != 3.25 {
		t.Errorf("c.d = %+v, err=%v", kv2, err2)
	}
}

func TestConnection_ListParamDetails(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	dev.SetParam(fakedevice.Param{Name: "pulse.riseTime", Type: 0, Settable: true})
	dev.SetParam(fakedevice.Param{Name: "pulse.fallTime", Type: 0, Settable: true})
	dev.SetParam(fakedevice.Param{Name: "histogram.datagram.ip", Type: 3, Settable: true})

	details, err := c.ListParamDetails(-1, "pulse.", 2000)
	if err.Code != NoError {
		t.Fatalf("ListParamDetails: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("got %d details, want 2: %+v", len(details), details)
	}
	for _, d := range details {
		if d.Name != "pulse.riseTime" && d.Name != "pulse.fallTime" {
			t.Errorf("unexpected detail %+v", d)
		}
	}
}

// StartCalibration exercises the wait-calibration-complete loop: the fake
// device answers with a success reply, then an unsolicited
// CalibrationProgressResponse(complete=true), after which the client issues
// its own get_calibration to fetch the assembled payload.
func TestConnection_StartCalibration(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	payload, err := c.StartCalibration(0, 2000)
	if err.Code != NoError {
		t.Fatalf("StartCalibration: %v", err)
	}
	_ = payload // the fake device's calibration store starts empty; shape is what matters here
}

// SetCalibration followed by GetCalibration round-trips the full payload
// through the fake device's store.
func TestConnection_SetThenGetCalibration(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	p := CalibrationPayload{
		Data:    []byte{9, 8, 7},
		Example: Plot{X: []float64{0, 1}, Y: []float64{0.1, 0.2}},
		Model:   Plot{X: []float64{0, 1}, Y: []float64{0.3, 0.4}},
		Final:   Plot{X: []float64{0, 1}, Y: []float64{0.5, 0.6}},
	}
	if err := c.SetCalibration(3, p, 2000); err.Code != NoError {
		t.Fatalf("SetCalibration: %v", err)
	}

	got, err := c.GetCalibration(3, 2000)
	if err.Code != NoError {
		t.Fatalf("GetCalibration: %v", err)
	}
	if string(got.Data) != string(p.Data) {
		t.Errorf("Data = %v, want %v", got.Data, p.Data)
	}
	if len(got.Final.Y) != 2 || got.Final.Y[1] != 0.6 {
		t.Errorf("Final.Y = %v", got.Final.Y)
	}
}

// StopCalibration exercises wait-ready: a get_param poll for channel.state
// that must see "ready" before returning.
func TestConnection_StopCalibration(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	if err := c.StopCalibration(0, 2000); err.Code != NoError {
		t.Fatalf("StopCalibration: %v", err)
	}
}

// P5 (async-event transparency): an AsynchronousErrorResponse arriving ahead
// of the sought reply is consumed out of band by waitForType — it lands in
// ReadError() rather than being returned to the caller, while the call's own
// value still comes back normally (spec §4.F "Wait-for-type").
func TestConnection_AsyncErrorInterleavedWithGetParam(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	dev.SetParam(fakedevice.Param{Name: "pulse.riseTime", Type: 0, IntVal: 11, Settable: true})
	dev.InjectAsyncError(int(BadParameters), "async notice ahead of reply")

	kv, err := c.GetParam(-1, "pulse.riseTime", 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam: %v", err)
	}
	if kv.IntVal != 11 {
		t.Errorf("IntVal = %d, want 11", kv.IntVal)
	}

	if got := c.ReadError(); got.Code != BadParameters {
		t.Errorf("ReadError().Code = %v, want BadParameters", got.Code)
	}
}

// A request issued after the device side has gone away surfaces as a read
// error rather than hanging.
func TestConnection_DeviceGoesAway(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer c.Disconnect()

	dev.Close()
	time.Sleep(20 * time.Millisecond)

	_, err := c.GetParam(-1, "anything", 500)
	if err.Code == NoError {
		t.Fatalf("expected an error once the device is gone")
	}
}

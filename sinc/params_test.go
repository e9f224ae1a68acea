package sinc

import (
	"testing"

	"github.com/cwsl/gosinc/sinc/internal/fakedevice"
)

// P10: calling SetParam with a value the device already holds succeeds
// without side effect — a second identical set behaves exactly like the
// first, and a subsequent get still reports the same value.
func TestSetParam_Idempotent(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	kv := KeyValue{Key: "pulse.detectionThreshold", Type: ParamTypeFloat, FloatVal: 1.5}

	if err := c.SetParam(kv, 2000); err.Code != NoError {
		t.Fatalf("first SetParam: %v", err)
	}
	got1, err := c.GetParam(-1, kv.Key, 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam after first set: %v", err)
	}
	if got1.FloatVal != 1.5 {
		t.Fatalf("FloatVal = %v, want 1.5", got1.FloatVal)
	}

	if err := c.SetParam(kv, 2000); err.Code != NoError {
		t.Fatalf("second (idempotent) SetParam: %v", err)
	}
	got2, err := c.GetParam(-1, kv.Key, 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam after second set: %v", err)
	}
	if got2.FloatVal != 1.5 {
		t.Fatalf("FloatVal after idempotent set = %v, want 1.5", got2.FloatVal)
	}
	if got2 != got1 {
		t.Errorf("idempotent set changed the observed value: %+v vs %+v", got2, got1)
	}
}

// Setting several parameters repeatedly via SetParams is likewise
// side-effect-free once values stabilize.
func TestSetParams_IdempotentBatch(t *testing.T) {
	dev, c := startFakeDevice(t)
	defer dev.Close()
	defer c.Disconnect()

	kvs := []KeyValue{
		{Key: "histogram.datagram.enable", Type: ParamTypeBool, BoolVal: true},
		{Key: "histogram.datagram.port", Type: ParamTypeInt, IntVal: 9000},
	}

	for i := 0; i < 2; i++ {
		if err := c.SetParams(kvs, 2000); err.Code != NoError {
			t.Fatalf("SetParams round %d: %v", i, err)
		}
	}

	port, err := c.GetParam(-1, "histogram.datagram.port", 2000)
	if err.Code != NoError {
		t.Fatalf("GetParam: %v", err)
	}
	if port.IntVal != 9000 {
		t.Errorf("IntVal = %d, want 9000", port.IntVal)
	}
}

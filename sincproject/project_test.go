package sincproject

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwsl/gosinc/sinc"
	"github.com/cwsl/gosinc/sinc/internal/fakedevice"
)

func startDevice(t *testing.T) (*fakedevice.Server, *sinc.Connection) {
	t.Helper()
	dev, err := fakedevice.New()
	if err != nil {
		t.Fatalf("fakedevice.New: %v", err)
	}
	go dev.Serve()

	host, port := dev.Addr()
	c := sinc.NewConnection()
	if !c.Connect(host, port, 2000) {
		t.Fatalf("Connect: %v", c.ReadError())
	}
	return dev, c
}

// seedSchema gives a fake device the parameter metadata (name/type/settable/
// instrument-level) a real device reports via list_param_details, independent
// of whatever value is currently held.
func seedSchema(dev *fakedevice.Server) {
	dev.SetParam(fakedevice.Param{Name: "instrument.numChannels", Type: 0, Settable: false, InstrumentLevel: true, IntVal: 1})
	dev.SetParam(fakedevice.Param{Name: "pulse.riseTime", Type: 0, Settable: true, InstrumentLevel: true})
	dev.SetParam(fakedevice.Param{Name: "pulse.detectionThreshold", Type: 1, Settable: true, InstrumentLevel: false})
}

// P9: save then load restores the same parameter set and calibration arrays
// (modulo the regenerated x axes) across two independent device attachments.
func TestSaveLoad_RoundTrip(t *testing.T) {
	srcDev, src := startDevice(t)
	defer srcDev.Close()
	defer src.Disconnect()
	seedSchema(srcDev)

	if err := src.SetParam(sinc.KeyValue{HasChannelID: true, ChannelID: 0, Key: "pulse.riseTime", Type: sinc.ParamTypeInt, IntVal: 7}, 2000); err.Code != sinc.NoError {
		t.Fatalf("seed pulse.riseTime: %v", err)
	}
	if err := src.SetParam(sinc.KeyValue{HasChannelID: true, ChannelID: 0, Key: "pulse.detectionThreshold", Type: sinc.ParamTypeFloat, FloatVal: 2.5}, 2000); err.Code != sinc.NoError {
		t.Fatalf("seed pulse.detectionThreshold: %v", err)
	}

	cal := sinc.CalibrationPayload{
		Data:    []byte{1, 2, 3},
		Example: sinc.Plot{X: []float64{0, 1, 2}, Y: []float64{1.1, 2.2, 3.3}},
		Model:   sinc.Plot{X: []float64{0, 1, 2}, Y: []float64{1.0, 2.0, 3.0}},
		Final:   sinc.Plot{X: []float64{0, 1, 2}, Y: []float64{0.9, 1.9, 2.9}},
	}
	if err := src.SetCalibration(0, cal, 2000); err.Code != sinc.NoError {
		t.Fatalf("seed calibration: %v", err)
	}

	path := filepath.Join(t.TempDir(), "roundtrip.siprj")
	if err := Save(src, path, 2000); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("project file not written: %v", err)
	}

	dstDev, dst := startDevice(t)
	defer dstDev.Close()
	defer dst.Disconnect()
	seedSchema(dstDev) // same schema, different (zero) values

	if err := Load(dst, path, 2000); err != nil {
		t.Fatalf("Load: %v", err)
	}

	riseTime, werr := dst.GetParam(0, "pulse.riseTime", 2000)
	if werr.Code != sinc.NoError {
		t.Fatalf("GetParam pulse.riseTime: %v", werr)
	}
	if riseTime.IntVal != 7 {
		t.Errorf("pulse.riseTime = %d, want 7", riseTime.IntVal)
	}

	threshold, werr := dst.GetParam(0, "pulse.detectionThreshold", 2000)
	if werr.Code != sinc.NoError {
		t.Fatalf("GetParam pulse.detectionThreshold: %v", werr)
	}
	if threshold.FloatVal != 2.5 {
		t.Errorf("pulse.detectionThreshold = %v, want 2.5", threshold.FloatVal)
	}

	gotCal, werr := dst.GetCalibration(0, 2000)
	if werr.Code != sinc.NoError {
		t.Fatalf("GetCalibration: %v", werr)
	}
	if string(gotCal.Data) != string(cal.Data) {
		t.Errorf("calibration Data = %v, want %v", gotCal.Data, cal.Data)
	}
	if len(gotCal.Final.Y) != 3 || gotCal.Final.Y[2] != 2.9 {
		t.Errorf("calibration Final.Y = %v, want %v", gotCal.Final.Y, cal.Final.Y)
	}
	// x axes are regenerated as 0..n-1 by the load path, not persisted.
	for i, x := range gotCal.Final.X {
		if x != float64(i) {
			t.Errorf("Final.X[%d] = %v, want %d", i, x, i)
		}
	}
}

// A negative pulse.detectionThreshold is clamped to zero on load (spec §4.H
// step 3's clamp rule).
func TestLoad_ClampsNegativeDetectionThreshold(t *testing.T) {
	dev, c := startDevice(t)
	defer dev.Close()
	defer c.Disconnect()
	seedSchema(dev)

	path := filepath.Join(t.TempDir(), "clamp.siprj")
	doc := `{"pulse":{"detectionThreshold":-3.5},"channels":[{"_channelId":0}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := Load(c, path, 2000); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, werr := c.GetParam(0, "pulse.detectionThreshold", 2000)
	if werr.Code != sinc.NoError {
		t.Fatalf("GetParam: %v", werr)
	}
	if got.FloatVal != 0 {
		t.Errorf("FloatVal = %v, want 0 (clamped)", got.FloatVal)
	}
}

// Save writes a gzip member when the destination path ends in .gz, and Load
// transparently reads it back.
func TestSaveLoad_Gzip(t *testing.T) {
	srcDev, src := startDevice(t)
	defer srcDev.Close()
	defer src.Disconnect()
	seedSchema(srcDev)

	if err := src.SetParam(sinc.KeyValue{HasChannelID: true, ChannelID: 0, Key: "pulse.riseTime", Type: sinc.ParamTypeInt, IntVal: 99}, 2000); err.Code != sinc.NoError {
		t.Fatalf("seed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "roundtrip.siprj.gz")
	if err := Save(src, path, 2000); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Errorf("file does not look gzip-compressed: first bytes %v", raw[:min(2, len(raw))])
	}


	dstDev, dst := startDevice(t)
	defer dstDev.Close()
	defer dst.Disconnect()
	seedSchema(dstDev)

	if err := Load(dst, path, 2000); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, werr := dst.GetParam(0, "pulse.riseTime", 2000)
	if werr.Code != sinc.NoError || got.IntVal != 99 {
		t.Errorf("pulse.riseTime = %+v, err=%v", got, werr)
	}
}

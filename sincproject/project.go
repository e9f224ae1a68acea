// Package sincproject reads and writes ".siprj" project files: JSON
// documents that round-trip a device's parameter set and per-channel
// calibration through a single load/save call pair (spec §4.H).
package sincproject

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/cwsl/gosinc/sinc"
	version "github.com/hashicorp/go-version"
	"github.com/klauspost/compress/gzip"
)

const (
	fileTypeTag = "SiToro Project"

	calibrationDataKey    = "calibration.data"
	calibrationExampleKey = "calibration.exampleShape.y"
	calibrationModelKey   = "calibration.modelShape.y"
	calibrationFinalKey   = "calibration.finalShape.y"

	firmwareVersionKey = "instrument.firmwareVersion"
)

// Load reads path (transparently gzip-decompressing a ".siprj.gz" file),
// queries the device's parameter metadata, and pushes every settable
// parameter and per-channel calibration it finds onto conn (spec §4.H "Load
// flow").
func Load(conn *sinc.Connection, path string, timeoutMs int) error {
	raw, err := readMaybeGzip(path)
	if err != nil {
		return fmt.Errorf("sincproject: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("sincproject: parse %s: %w", path, err)
	}

	details, werr := conn.ListParamDetails(0, "", timeoutMs)
	if werr.Code != sinc.NoError {
		return fmt.Errorf("sincproject: list_param_details: %w", werr)
	}
	detailsByName := make(map[string]sinc.ParamDetail, len(details))
	for _, d := range details {
		detailsByName[d.Name] = d
	}

	var firmwareVersion string
	var params []sinc.KeyValue

	instrumentDoc := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "channels" {
			continue
		}
		instrumentDoc[k] = v
	}
	collectParams(instrumentDoc, "", -1, false, detailsByName, &firmwareVersion, &params)

	logFirmwareDrift(conn, firmwareVersion, timeoutMs)

	calibrations := map[int]sinc.CalibrationPayload{}
	if rawChannels, ok := doc["channels"].([]any); ok {
		for _, rc := range rawChannels {
			chObj, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			channelID := 0
			if idv, ok := chObj["_channelId"].(float64); ok {
				channelID = int(idv)
			}

			chParams := make(map[string]any, len(chObj))
			for k, v := range chObj {
				if k == "_channelId" {
					continue
				}
				chParams[k] = v
			}
			collectParams(chParams, "", channelID, true, detailsByName, &firmwareVersion, &params)
			calibrations[channelID] = calibrationFromJSON(chObj)
		}
	}

	if werr := conn.SetAllParams(params, firmwareVersion, timeoutMs); werr.Code != sinc.NoError {
		return fmt.Errorf("sincproject: set_all_params: %w", werr)
	}

	for channelID, payload := range calibrations {
		if len(payload.Data) == 0 && len(payload.Example.Y) == 0 && len(payload.Model.Y) == 0 && len(payload.Final.Y) == 0 {
			continue
		}
		if werr := conn.SetCalibration(channelID, payload, timeoutMs); werr.Code != sinc.NoError {
			return fmt.Errorf("sincproject: set_calibration(channel %d): %w", channelID, werr)
		}
	}

	return nil
}

// collectParams recursively walks obj, joining nested object keys with dots,
// and appends a KeyValue for every leaf whose dotted name is a settable,
// non-calibration parameter known to the device. The firmwareVersion side
// slot and the negative-detectionThreshold clamp are handled here, per spec
// §4.H step 3.
func collectParams(obj map[string]any, prefix string, channelID int, hasChannelID bool, details map[string]sinc.ParamDetail, firmwareVersion *string, out *[]sinc.KeyValue) {
	for k, v := range obj {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}

		if nested, ok := v.(map[string]any); ok {
			collectParams(nested, full, channelID, hasChannelID, details, firmwareVersion, out)
			continue
		}
		if _, ok := v.([]any); ok {
			// Arrays belong to the calibration payload, handled separately.
			continue
		}
		if strings.HasPrefix(full, "calibration.") {
			continue
		}
		if full == firmwareVersionKey {
			if s, ok := v.(string); ok {
				*firmwareVersion = s
			}
			continue
		}

		pd, ok := details[full]
		if !ok || !pd.Settable {
			continue
		}

		kv := sinc.KeyValue{HasChannelID: hasChannelID, ChannelID: channelID, Key: full, Type: pd.Type}
		switch pd.Type {
		case sinc.ParamTypeInt:
			if f, ok := v.(float64); ok {
				kv.IntVal = int64(f)
			}
		case sinc.ParamTypeFloat:
			f, _ := v.(float64)
			if full == "pulse.detectionThreshold" && f < 0 {
				f = 0
			}
			kv.FloatVal = f
		case sinc.ParamTypeBool:
			kv.BoolVal, _ = v.(bool)
		case sinc.ParamTypeString:
			kv.StringVal, _ = v.(string)
		case sinc.ParamTypeOption:
			kv.OptionVal, _ = v.(string)
		}
		*out = append(*out, kv)
	}
}

func calibrationFromJSON(chObj map[string]any) sinc.CalibrationPayload {
	var p sinc.CalibrationPayload
	if s, ok := chObj[calibrationDataKey].(string); ok && s != "" {
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
			p.Data = decoded
		}
	}
	p.Example = plotFromJSON(chObj[calibrationExampleKey])
	p.Model = plotFromJSON(chObj[calibrationModelKey])
	p.Final = plotFromJSON(chObj[calibrationFinalKey])
	return p
}

// plotFromJSON builds a Plot from a JSON array of y-values; the x axis is
// regenerated as 0..n-1 since it isn't persisted (spec §4.H).
func plotFromJSON(raw any) sinc.Plot {
	arr, ok := raw.([]any)
	if !ok {
		return sinc.Plot{}
	}
	y := make([]float64, len(arr))
	x := make([]float64, len(arr))
	for i, v := range arr {
		if f, ok := v.(float64); ok {
			y[i] = f
		}
		x[i] = float64(i)
	}
	return sinc.Plot{X: x, Y: y}
}

// Save queries the device's current parameter set and calibration for every
// channel and writes a project file to path (spec §4.H "Save flow"). A gzip
// member is written when path ends in ".gz".
func Save(conn *sinc.Connection, path string, timeoutMs int) error {
	numChannelsKV, werr := conn.GetParam(-1, "instrument.numChannels", timeoutMs)
	if werr.Code != sinc.NoError {
		return fmt.Errorf("sincproject: get instrument.numChannels: %w", werr)
	}
	numChannels := int(numChannelsKV.IntVal)

	doc := make(map[string]any)
	var channels []any
	instrumentParams := map[string]any{}

	for ch := 0; ch < numChannels; ch++ {
		details, werr := conn.ListParamDetails(ch, "", timeoutMs)
		if werr.Code != sinc.NoError {
			return fmt.Errorf("sincproject: list_param_details(channel %d): %w", ch, werr)
		}

		chObj := map[string]any{"_channelId": ch}
		sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })

		for _, d := range details {
			if !d.Settable {
				continue
			}
			kv, werr := conn.GetParam(ch, d.Name, timeoutMs)
			if werr.Code != sinc.NoError {
				continue
			}
			val := jsonValue(kv)
			if d.InstrumentLevel {
				instrumentParams[d.Name] = val
			} else {
				chObj[d.Name] = val
			}
		}

		// get_calibration is best-effort: a failure leaves an empty
		// calibration rather than aborting the whole save (spec §4.H step 2).
		if cal, werr := conn.GetCalibration(ch, timeoutMs); werr.Code == sinc.NoError {
			if len(cal.Data) > 0 {
				chObj[calibrationDataKey] = base64.StdEncoding.EncodeToString(cal.Data)
			}
			if len(cal.Example.Y) > 0 {
				chObj[calibrationExampleKey] = cal.Example.Y
			}
			if len(cal.Model.Y) > 0 {
				chObj[calibrationModelKey] = cal.Model.Y
			}
			if len(cal.Final.Y) > 0 {
				chObj[calibrationFinalKey] = cal.Final.Y
			}
		}

		channels = append(channels, chObj)
	}

	doc["channels"] = channels
	for k, v := range instrumentParams {
		doc[k] = v
	}
	doc["_fileType"] = fileTypeTag
	doc["address"] = conn.PeerAddress()

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sincproject: marshal: %w", err)
	}
	return writeMaybeGzip(path, out)
}

// jsonValue converts a decoded KeyValue into the JSON scalar the Save flow
// writes, with integers encoded without a decimal point (spec §4.H
// "Numeric formatting").
func jsonValue(kv sinc.KeyValue) any {
	switch kv.Type {
	case sinc.ParamTypeInt:
		return kv.IntVal
	case sinc.ParamTypeFloat:
		return kv.FloatVal
	case sinc.ParamTypeBool:
		return kv.BoolVal
	case sinc.ParamTypeOption:
		return kv.OptionVal
	default:
		return kv.StringVal
	}
}

func readMaybeGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(f)
}

func writeMaybeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	_, err = f.Write(data)
	return err
}

// compareFirmwareVersion reports whether running is older than required,
// using go-version's semver-ish comparator rather than string comparison,
// grounded in its use for defaults-upgrade gating (spec §4.H step 6).
func compareFirmwareVersion(running, required string) (bool, error) {
	rv, err := version.NewVersion(running)
	if err != nil {
		return false, err
	}
	qv, err := version.NewVersion(required)
	if err != nil {
		return false, err
	}
	return rv.LessThan(qv), nil
}

// logFirmwareDrift compares the device's live instrument.firmwareVersion
// against recorded, the version a project file carried in its
// instrument.firmwareVersion side slot, and logs an upgrade/downgrade
// notice. Informational only: set_all_params' from_firmware_version field
// is what actually lets the device reconcile defaults (spec §4.H step 6).
func logFirmwareDrift(conn *sinc.Connection, recorded string, timeoutMs int) {
	if recorded == "" {
		return
	}
	live, werr := conn.GetParam(-1, firmwareVersionKey, timeoutMs)
	if werr.Code != sinc.NoError || live.StringVal == "" {
		return
	}
	older, err := compareFirmwareVersion(live.StringVal, recorded)
	if err != nil {
		log.Printf("sincproject: could not compare firmware versions %q (device) and %q (project): %v", live.StringVal, recorded, err)
		return
	}
	switch {
	case older:
		log.Printf("sincproject: device firmware %s is older than project file's recorded %s", live.StringVal, recorded)
	case live.StringVal != recorded:
		log.Printf("sincproject: device firmware %s is newer than project file's recorded %s", live.StringVal, recorded)
	}
}

package sinc

import "github.com/cwsl/gosinc/internal/protoframe"

// Plot is a pair of equal-length vectors (spec §3 "Calibration payload").
type Plot struct {
	X []float64
	Y []float64
}

// CalibrationPayload is the assembled result of get_calibration (spec §3,
// §4.D "Calibration assembly"): opaque calibration bytes plus three plots.
type CalibrationPayload struct {
	Data    []byte
	Example Plot
	Model   Plot
	Final   Plot

	// Derived is populated only when the caller opts in via
	// WithDerivedStats (SPEC_FULL §5, gonum-backed summary stats).
	Derived *CalibrationDerivedStats
}

const (
	calFieldFromChannelID = 1
	calFieldData          = 2
	calFieldExampleX      = 3
	calFieldExampleY      = 4
	calFieldModelX        = 5
	calFieldModelY        = 6
	calFieldFinalX        = 7
	calFieldFinalY        = 8
)

func encodeGetCalibrationResponse(fromChannelID int, p CalibrationPayload) []byte {
	w := protoframe.NewWriter()
	w.Int64(calFieldFromChannelID, int64(fromChannelID))
	w.Bytes_(calFieldData, p.Data)
	appendFloatsAsPacked(w, calFieldExampleX, p.Example.X)
	appendFloatsAsPacked(w, calFieldExampleY, p.Example.Y)
	appendFloatsAsPacked(w, calFieldModelX, p.Model.X)
	appendFloatsAsPacked(w, calFieldModelY, p.Model.Y)
	appendFloatsAsPacked(w, calFieldFinalX, p.Final.X)
	appendFloatsAsPacked(w, calFieldFinalY, p.Final.Y)
	return w.Bytes()
}

// decodeGetCalibrationResponse assembles the CalibrationPayload by copying
// each of the six x/y vectors into freshly-owned slices (spec §4.D
// "Calibration assembly": "if allocation for any of the six arrays fails,
// the routine releases all prior allocations"). In Go this is naturally
// satisfied by building the whole result in a local value and only
// returning it once every field parsed successfully — on any error the
// half-built local value is simply discarded and nothing is reachable via
// the caller's out-parameter, matching property P8.
func decodeGetCalibrationResponse(body []byte) (int, CalibrationPayload, error) {
	var fromChannelID int
	var payload CalibrationPayload

	r := protoframe.NewReader(body)
	for {
		f, ok, err := r.Next()
		if err != nil {
			return 0, CalibrationPayload{}, err
		}
		if !ok {
			break
		}
		switch f.Number {
		case calFieldFromChannelID:
			fromChannelID = int(f.Int64())
		case calFieldData:
			payload.Data = append([]byte(nil), f.Bytes...)
		case calFieldExampleX:
			payload.Example.X, err = parsePackedFloats(f.Bytes)
		case calFieldExampleY:
			payload.Example.Y, err = parsePackedFloats(f.Bytes)
		case calFieldModelX:
			payload.Model.X, err = parsePackedFloats(f.Bytes)
		case calFieldModelY:
			payload.Model.Y, err = parsePackedFloats(f.Bytes)
		case calFieldFinalX:
			payload.Final.X, err = parsePackedFloats(f.Bytes)
		case calFieldFinalY:
			payload.Final.Y, err = parsePackedFloats(f.Bytes)
		}
		if err != nil {
			return 0, CalibrationPayload{}, err
		}
	}

	if len(payload.Example.X) != len(payload.Example.Y) ||
		len(payload.Model.X) != len(payload.Model.Y) ||
		len(payload.Final.X) != len(payload.Final.Y) {
		return 0, CalibrationPayload{}, newErrorf(ReadFailed, "calibration plot x/y length mismatch")
	}

	return fromChannelID, payload, nil
}

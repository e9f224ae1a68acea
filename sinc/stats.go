package sinc

import "gonum.org/v1/gonum/stat"

// CalibrationDerivedStats holds optional summary statistics over a
// calibration result's three plots, computed with gonum/stat rather than
// hand-rolled accumulators (SPEC_FULL §4 Domain Stack). Populated only when
// a Connection was built WithDerivedStats().
type CalibrationDerivedStats struct {
	ExampleMean, ExampleStdDev float64
	ModelMean, ModelStdDev     float64
	FinalMean, FinalStdDev     float64
}

func deriveCalibrationStats(p CalibrationPayload) *CalibrationDerivedStats {
	d := &CalibrationDerivedStats{}
	d.ExampleMean, d.ExampleStdDev = meanStdDev(p.Example.Y)
	d.ModelMean, d.ModelStdDev = meanStdDev(p.Model.Y)
	d.FinalMean, d.FinalStdDev = meanStdDev(p.Final.Y)
	return d
}

// HistogramDerivedStats holds optional summary statistics over a
// histogram's accepted/rejected count arrays.
type HistogramDerivedStats struct {
	AcceptedMean, AcceptedStdDev float64
	RejectedMean, RejectedStdDev float64
}

func deriveHistogramStats(r HistogramResult) *HistogramDerivedStats {
	d := &HistogramDerivedStats{}
	d.AcceptedMean, d.AcceptedStdDev = meanStdDevU32(r.Accepted)
	d.RejectedMean, d.RejectedStdDev = meanStdDevU32(r.Rejected)
	return d
}

func meanStdDev(vals []float64) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean = stat.Mean(vals, nil)
	if len(vals) < 2 {
		return mean, 0
	}
	stddev = stat.StdDev(vals, nil)
	return mean, stddev
}

func meanStdDevU32(vals []uint32) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	fv := make([]float64, len(vals))
	for i, v := range vals {
		fv[i] = float64(v)
	}
	return meanStdDev(fv)
}

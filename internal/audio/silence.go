package audio

import (
	"fmt"
	"math"
	"os"
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// peakHeadroomDB lets short clicks through the gate as long as the average
// level stays under the threshold.
const peakHeadroomDB = 6

func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	return IsSilentWAVBytes(data, thresholdDBFS)
}

// IsSilentWAVBytes reports whether an in-memory WAV payload stays below
// thresholdDBFS. Empty audio counts as silent.
func IsSilentWAVBytes(data []byte, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	m, err := Measure(data)
	if err != nil {
		return false, SilenceMetrics{}, err
	}
	if m.Samples == 0 || math.IsInf(m.PeakdBFS, -1) {
		return true, m, nil
	}
	return m.RMSdBFS <= thresholdDBFS && m.PeakdBFS <= thresholdDBFS+peakHeadroomDB, m, nil
}

// Measure computes RMS and peak level across all channels of a WAV payload.
func Measure(data []byte) (SilenceMetrics, error) {
	format, raw, err := parseWAV(data)
	if err != nil {
		return SilenceMetrics{}, err
	}

	size := format.sampleSize()
	var peak, sumSquares float64
	var n int64
	for i := 0; i+size <= len(raw); i += size {
		v := format.decodeSample(raw[i : i+size])
		peak = math.Max(peak, math.Abs(v))
		sumSquares += v * v
		n++
	}

	if n == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}
	return SilenceMetrics{
		RMSdBFS:  toDBFS(math.Sqrt(sumSquares / float64(n))),
		PeakdBFS: toDBFS(peak),
		Samples:  n,
	}, nil
}

func toDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}

package audio

import "math"

// SilenceDBFS is the level reported for a frame whose RMS is zero.
const SilenceDBFS = -120.0

// fullScale is the int16 magnitude used as the 0 dBFS reference.
const fullScale = 32768.0

// Peak returns the largest absolute sample value in samples, clamped to
// 32767 so that a -32768 sample does not overflow the positive range.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak > math.MaxInt16 {
		peak = math.MaxInt16
	}
	return peak
}

// RMSDBFS returns the root-mean-square level of samples in dBFS. Empty or
// all-zero input maps to [SilenceDBFS], never -Inf.
func RMSDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return SilenceDBFS
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return SilenceDBFS
	}
	return 20 * math.Log10(rms/fullScale)
}

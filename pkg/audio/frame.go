// Package audio defines the PCM frame format shared by every stage of the
// voicefront capture pipeline, the capture device abstraction that delivers
// those frames, and small helpers for measuring and packaging PCM audio.
//
// All audio handled by the endpointing core is mono, 16-bit signed
// little-endian PCM at [SampleRate]. Frames are exactly [FrameSamples]
// samples ([FrameBytes] bytes) long; a shorter read is never passed to the
// gate or the segmenter.
//
// Device implementations live in sub-packages (audio/malgo) or are provided
// here for files and readers ([ReaderDevice]). Test doubles live in
// audio/mock.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000

	// Channels is the capture channel count.
	Channels = 1

	// FrameMs is the duration of one frame in milliseconds.
	FrameMs = 20

	// FrameSamples is the number of samples in one frame.
	FrameSamples = SampleRate * FrameMs / 1000

	// FrameBytes is the size of one frame in bytes.
	FrameBytes = FrameSamples * 2

	// FrameDuration is FrameMs as a [time.Duration].
	FrameDuration = FrameMs * time.Millisecond
)

// Frame is a single captured frame of audio.
type Frame struct {
	// PCM holds FrameBytes of little-endian int16 samples.
	PCM []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SamplesToBytes encodes int16 samples as little-endian PCM into dst and
// returns the written slice. dst is grown when it is too small.
func SamplesToBytes(dst []byte, samples []int16) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

// BytesToSamples decodes little-endian PCM into int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// DurationOf returns the playback duration of mono PCM16 bytes at sampleRate.
func DurationOf(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

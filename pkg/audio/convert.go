package audio

import (
	"fmt"
	"log/slog"
)

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter turns a PCM16 stream in Source format into Target format,
// one chunk at a time. Stereo is downmixed before resampling. The resampler
// keeps its phase and the previous chunk's last sample, so chunk boundaries
// do not add clicks or drift. Use one converter per stream.
type FormatConverter struct {
	Source Format
	Target Format

	announced bool
	warnedOdd bool

	// pos is the source position of the next output sample, relative to
	// prev (index 0) when havePrev is set.
	pos      float64
	prev     int16
	havePrev bool
}

// Convert returns chunk in the target format. Chunks must hold whole source
// frames; a chunk with an odd byte count is dropped. When no conversion is
// needed chunk itself is returned.
func (c *FormatConverter) Convert(chunk []byte) []byte {
	if len(chunk)%2 != 0 {
		if !c.warnedOdd {
			c.warnedOdd = true
			slog.Warn("audio: dropping PCM chunk with odd byte count", "bytes", len(chunk), "format", c.Source.String())
		}
		return nil
	}
	if c.Source == c.Target {
		return chunk
	}
	if !c.announced {
		c.announced = true
		slog.Info("audio: converting source format", "from", c.Source.String(), "to", c.Target.String())
	}

	if c.Source.Channels == 2 && c.Target.Channels == 1 {
		chunk = StereoToMono(chunk)
	}
	if c.Source.SampleRate == c.Target.SampleRate || c.Source.SampleRate <= 0 || c.Target.SampleRate <= 0 {
		return chunk
	}
	return c.resample(BytesToSamples(chunk))
}

// resample linearly interpolates in across chunk boundaries.
func (c *FormatConverter) resample(in []int16) []byte {
	if len(in) == 0 {
		return nil
	}
	src := in
	if c.havePrev {
		src = make([]int16, 0, len(in)+1)
		src = append(src, c.prev)
		src = append(src, in...)
	}
	step := float64(c.Source.SampleRate) / float64(c.Target.SampleRate)

	out := make([]int16, 0, int(float64(len(src))/step)+1)
	for ; c.pos+1 < float64(len(src)); c.pos += step {
		i := int(c.pos)
		frac := c.pos - float64(i)
		out = append(out, int16(float64(src[i])*(1-frac)+float64(src[i+1])*frac))
	}

	c.prev = src[len(src)-1]
	c.havePrev = true
	c.pos -= float64(len(src) - 1)
	return SamplesToBytes(nil, out)
}

// StereoToMono averages the left and right sample of each interleaved stereo
// frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8))
		r := int32(int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8))
		avg := int16((l + r) / 2)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(uint16(avg) >> 8)
	}
	return out
}

// ResampleMono16 resamples a complete mono PCM16 buffer from srcRate to
// dstRate by linear interpolation. Equal or invalid rates return pcm as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := BytesToSamples(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	step := float64(srcRate) / float64(dstRate)
	out := make([]int16, n)
	for k := range out {
		pos := float64(k) * step
		i := int(pos)
		next := in[min(i+1, len(in)-1)]
		frac := pos - float64(i)
		out[k] = int16(float64(in[i])*(1-frac) + float64(next)*frac)
	}
	return SamplesToBytes(nil, out)
}

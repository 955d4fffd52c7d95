package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts interleaved float blocks to a target format. It
// logs a warning on the first format mismatch.
// Create one per stream and feed it blocks in order: resampling carries its
// phase from one block to the next. Not safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	resampler      *Resampler
}

// Convert converts block, which is interleaved in src, to the target format.
// If the source already matches the target, block is returned unchanged.
// Conversion order: downmix first, then resample.
func (c *FormatConverter) Convert(block []float32, src Format) []float32 {
	if src.SampleRate == c.Target.SampleRate && src.Channels == c.Target.Channels {
		return block
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", formatString(src.SampleRate, src.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	out := block
	if src.Channels > 1 && c.Target.Channels == 1 {
		out = DownmixFloat32(out, src.Channels)
	}
	if src.SampleRate != c.Target.SampleRate {
		r := c.resampler
		if r == nil || r.srcRate != src.SampleRate || r.dstRate != c.Target.SampleRate {
			r = NewResampler(src.SampleRate, c.Target.SampleRate)
			c.resampler = r
		}
		out = r.Process(out)
	}
	return out
}

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodeBase64PCM encodes samples as base64 little-endian PCM, the format
// used for media chunks on the wire.
func EncodeBase64PCM(samples []int16) string {
	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples))
}

// DecodeBase64PCM decodes a base64 media chunk into int16 samples.
func DecodeBase64PCM(data string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 pcm: %w", err)
	}
	if len(raw)%2 != 0 {
		slog.Debug("audio: odd byte count in PCM payload, trailing byte ignored", "bytes", len(raw))
	}
	return BytesToSamples(raw), nil
}

// SamplesToFloat32 converts int16 samples to floats in [-1, 1).
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToSamples converts floats to int16, clamping to [-1, 1] first and
// rounding to the nearest step.
func Float32ToSamples(block []float32) []int16 {
	out := make([]int16, len(block))
	for i, f := range block {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		if f < 0 {
			out[i] = int16(math.Round(float64(f) * 32768))
		} else {
			out[i] = int16(math.Round(float64(f) * 32767))
		}
	}
	return out
}

// DownmixFloat32 averages interleaved frames of the given channel count into
// mono.
func DownmixFloat32(block []float32, channels int) []float32 {
	if channels <= 1 {
		return block
	}
	frames := len(block) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += block[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono16 resamples int16 mono samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned
// unchanged.
func ResampleMono16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ResampleFloat32 resamples mono float samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned
// unchanged.
func ResampleFloat32(block []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(block) == 0 {
		return block
	}
	dstSamples := int(int64(len(block)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := block[srcIdx]
		s1 := s0
		if srcIdx+1 < len(block) {
			s1 = block[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Resampler resamples a continuous mono float stream delivered in blocks,
// using linear interpolation. Unlike [ResampleFloat32] it keeps the
// fractional read position and the last input sample between calls, so the
// output of consecutive blocks matches resampling the concatenated input.
type Resampler struct {
	srcRate, dstRate int
	step             float64 // input samples per output sample

	// pos is the input position of the next output sample relative to the
	// first sample of the next block. -1 addresses last.
	pos  float64
	last float32
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive
// rates make Process a pass-through.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate > 0 && dstRate > 0 {
		r.step = float64(srcRate) / float64(dstRate)
	}
	return r
}

// Process resamples the next block of the stream.
func (r *Resampler) Process(block []float32) []float32 {
	if r.step == 0 || r.srcRate == r.dstRate || len(block) == 0 {
		return block
	}
	n := len(block)
	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return block[i]
	}

	out := make([]float32, 0, int(float64(n)/r.step)+1)
	for r.pos <= float64(n-1) {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		s0 := at(i)
		s1 := s0
		if i+1 < n {
			s1 = block[i+1]
		}
		out = append(out, s0*(1-frac)+s1*frac)
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.last = block[n-1]
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Step maps a minimum buffer depth to a flush delay.
type Step struct {
	MinDepth int           `yaml:"min_depth"`
	Delay    time.Duration `yaml:"delay"`
}

// Thresholds select the debounce delay before a flush from the number of
// frames waiting. Deeper buffers flush sooner: a burst of frames means the
// model is streaming and latency matters more than batching.
type Thresholds struct {
	// Steps are checked in order; the first whose MinDepth is reached wins.
	Steps []Step `yaml:"steps"`

	// Fallback applies when no step matches.
	Fallback time.Duration `yaml:"fallback"`
}

// DefaultThresholds returns ≥8 → 0ms, ≥5 → 25ms, ≥3 → 75ms, else 150ms.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Steps: []Step{
			{MinDepth: 8, Delay: 0},
			{MinDepth: 5, Delay: 25 * time.Millisecond},
			{MinDepth: 3, Delay: 75 * time.Millisecond},
		},
		Fallback: 150 * time.Millisecond,
	}
}

// FlushDelay returns the debounce delay for depth pending frames.
func (t Thresholds) FlushDelay(depth int) time.Duration {
	for _, s := range t.Steps {
		if depth >= s.MinDepth {
			return s.Delay
		}
	}
	return t.Fallback
}

// Validate checks that steps are ordered by strictly decreasing depth and
// that no delay is negative.
func (t Thresholds) Validate() error {
	var errs []error
	for i, s := range t.Steps {
		if s.MinDepth < 1 {
			errs = append(errs, fmt.Errorf("step %d: min_depth must be at least 1", i))
		}
		if s.Delay < 0 {
			errs = append(errs, fmt.Errorf("step %d: delay must not be negative", i))
		}
		if i > 0 && s.MinDepth >= t.Steps[i-1].MinDepth {
			errs = append(errs, fmt.Errorf("step %d: min_depth must be lower than step %d", i, i-1))
		}
	}
	if t.Fallback < 0 {
		errs = append(errs, errors.New("fallback delay must not be negative"))
	}
	return errors.Join(errs...)
}

// JitterBuffer is a FIFO of inbound frames waiting to be flushed.
//
// It is not safe for concurrent use; the [Pipeline] guards it.
type JitterBuffer struct {
	frames  []audio.AudioFrame
	samples int
}

// Push appends f. Empty frames are ignored.
func (b *JitterBuffer) Push(f audio.AudioFrame) {
	if f.Empty() {
		return
	}
	b.frames = append(b.frames, f)
	b.samples += len(f.Samples)
}

// Len returns the number of pending frames.
func (b *JitterBuffer) Len() int { return len(b.frames) }

// Samples returns the total number of pending samples.
func (b *JitterBuffer) Samples() int { return b.samples }

// Oldest returns the timestamp of the first pending frame, or the zero time.
func (b *JitterBuffer) Oldest() time.Time {
	if len(b.frames) == 0 {
		return time.Time{}
	}
	return b.frames[0].Timestamp
}

// Drain concatenates every pending frame in arrival order and empties the
// buffer.
func (b *JitterBuffer) Drain() []int16 {
	if len(b.frames) == 0 {
		return nil
	}
	out := make([]int16, 0, b.samples)
	for _, f := range b.frames {
		out = append(out, f.Samples...)
	}
	b.Reset()
	return out
}

// Reset discards every pending frame.
func (b *JitterBuffer) Reset() {
	clear(b.frames)
	b.frames = b.frames[:0]
	b.samples = 0
}

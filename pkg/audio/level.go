package audio

// DefaultLevelScale multiplies the mean absolute amplitude so that normal
// speech lands in the upper half of the [0, 1] meter range.
const DefaultLevelScale = 5.0

// DefaultGateThreshold is the absolute amplitude below which the noise gate
// zeroes a sample.
const DefaultGateThreshold = 0.01

// Level computes a UI meter value for block: the mean absolute amplitude,
// multiplied by scale and clamped to [0, 1]. An empty block has level 0.
func Level(block []float32, scale float64) float64 {
	if len(block) == 0 {
		return 0
	}
	if scale <= 0 {
		scale = DefaultLevelScale
	}
	var sum float64
	for _, s := range block {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	lvl := sum / float64(len(block)) * scale
	if lvl > 1 {
		return 1
	}
	return lvl
}

// NoiseGate zeroes samples whose absolute amplitude is below Threshold.
type NoiseGate struct {
	Threshold float32
}

// Apply gates block in place and returns it.
func (g NoiseGate) Apply(block []float32) []float32 {
	t := g.Threshold
	if t <= 0 {
		return block
	}
	for i, s := range block {
		if s < t && s > -t {
			block[i] = 0
		}
	}
	return block
}

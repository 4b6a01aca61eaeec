package engine

// GainParams configures a Gain effect: a per-channel linear multiplier
// applied sample-for-sample, no state and no latency.
type GainParams struct {
	Linear [Channels]float32
}

// Gain is the simplest possible Effect: scales each channel by a fixed
// linear factor. It never buffers, so Process always returns a chunk
// the same length as its input and has no preferred batch size.
type Gain struct {
	params GainParams
}

// NewGain builds a Gain effect from its parameters.
func NewGain(p GainParams) *Gain {
	return &Gain{params: p}
}

func (g *Gain) Process(input []float32, _ bool) []float32 {
	out := make([]float32, len(input))
	for i := 0; i < len(input); i += Channels {
		for ch := 0; ch < Channels && i+ch < len(input); ch++ {
			out[i+ch] = input[i+ch] * g.params.Linear[ch]
		}
	}
	return out
}

func (g *Gain) ResetState() {}

func (g *Gain) PreferredBatchSamples() (int, bool) { return 0, false }

package engine

// Effect is a uniform DSP processor: the chain treats every effect the
// same, whether it's a one-line gain scalar or a block-partitioned
// convolution reverb, so it can hold a heterogeneous,
// atomically-swappable sequence of them.
type Effect interface {
	// Process consumes an interleaved input chunk and returns an
	// interleaved output chunk. Output length need not match input
	// length; the mix scheduler absorbs the difference via the effect
	// tail buffer. drain is true once every upstream source has
	// finished, signaling the effect to flush any retained state
	// (e.g. a convolution tail) instead of waiting for more input.
	Process(input []float32, drain bool) []float32

	// ResetState zeroes all internal history: filter state, feedback
	// lines, FFT overlap buffers. Called on seek/selection-change
	// reset, distinct from a crossfade swap which discards the old
	// chain instead of resetting it.
	ResetState()

	// PreferredBatchSamples reports the frame-count alignment this
	// effect needs the mix stage to round chunk sizes to (up when the
	// rounded size still fits the buffered frames and the next shuffle
	// event, down otherwise), or false if it has no preference. Only the convolution reverb returns
	// true, so its FFT partitions stay aligned to full blocks.
	PreferredBatchSamples() (n int, ok bool)
}

// Chain is an ordered sequence of effects; a premix chunk flows head to
// tail through every stage in order.
type Chain struct {
	effects []Effect
}

// NewChain builds a chain from already-constructed effects, in the
// order spec'd for the track (e.g. by a container/config loader
// resolving []EffectSpec into concrete Effect values).
func NewChain(effects ...Effect) *Chain {
	return &Chain{effects: effects}
}

// Process runs input through every stage of the chain in order.
func (c *Chain) Process(input []float32, drain bool) []float32 {
	out := input
	for _, e := range c.effects {
		out = e.Process(out, drain)
	}
	return out
}

// ResetState resets every stage.
func (c *Chain) ResetState() {
	for _, e := range c.effects {
		e.ResetState()
	}
}

// PreferredBatchSamples is the least common multiple of every stage's
// preference; the mix scheduler rounds the chunk size to a multiple of
// this so every effect in the chain sees aligned input.
func (c *Chain) PreferredBatchSamples() (int, bool) {
	result := 0
	any := false
	for _, e := range c.effects {
		n, ok := e.PreferredBatchSamples()
		if !ok {
			continue
		}
		any = true
		if result == 0 {
			result = n
			continue
		}
		result = lcm(result, n)
	}
	return result, any
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

package engine

import "math"

// BiquadKind selects which standard biquad coefficient formula
// computeBiquadCoeffs uses (Robert Bristow-Johnson's Audio EQ Cookbook
// forms).
type BiquadKind int

const (
	BiquadLowpass BiquadKind = iota
	BiquadHighpass
	BiquadBandpass
)

// BiquadParams configures a Biquad effect: corner frequency and Q,
// expressed relative to the sample rate given in SampleHz.
type BiquadParams struct {
	Kind      BiquadKind
	FreqHz    float64
	Q         float64
	SampleHz  float64
}

type biquadCoeffs struct {
	b0, b1, b2 float64
	a1, a2     float64 // a0 already normalized to 1
}

// computeBiquadCoeffs evaluates the RBJ cookbook formulas and
// normalizes by a0 so the difference equation needs no division.
func computeBiquadCoeffs(p BiquadParams) biquadCoeffs {
	omega := 2 * math.Pi * p.FreqHz / p.SampleHz
	sinOmega, cosOmega := math.Sin(omega), math.Cos(omega)
	alpha := sinOmega / (2 * p.Q)

	var b0, b1, b2, a0, a1, a2 float64
	switch p.Kind {
	case BiquadHighpass:
		b0 = (1 + cosOmega) / 2
		b1 = -(1 + cosOmega)
		b2 = (1 + cosOmega) / 2
	case BiquadBandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default: // BiquadLowpass
		b0 = (1 - cosOmega) / 2
		b1 = 1 - cosOmega
		b2 = (1 - cosOmega) / 2
	}
	a0 = 1 + alpha
	a1 = -2 * cosOmega
	a2 = 1 - alpha

	return biquadCoeffs{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// biquadChannelState holds one channel's direct-form-II history.
type biquadChannelState struct {
	w1, w2 float64
}

// Biquad is a direct-form-II IIR filter run independently per channel.
// It has no lookahead, so it never buffers: output length equals input
// length and it has no preferred batch size.
type Biquad struct {
	coeffs biquadCoeffs
	state  [Channels]biquadChannelState
}

// NewBiquad builds a Biquad effect from its parameters, computing
// coefficients once up front (ResetState clears history, not
// coefficients).
func NewBiquad(p BiquadParams) *Biquad {
	return &Biquad{coeffs: computeBiquadCoeffs(p)}
}

func (b *Biquad) Process(input []float32, _ bool) []float32 {
	out := make([]float32, len(input))
	c := b.coeffs
	for i := 0; i < len(input); i += Channels {
		for ch := 0; ch < Channels && i+ch < len(input); ch++ {
			x := float64(input[i+ch])
			s := &b.state[ch]
			w0 := x - c.a1*s.w1 - c.a2*s.w2
			y := c.b0*w0 + c.b1*s.w1 + c.b2*s.w2
			s.w2 = s.w1
			s.w1 = w0
			out[i+ch] = float32(y)
		}
	}
	return out
}

func (b *Biquad) ResetState() {
	b.state = [Channels]biquadChannelState{}
}

func (b *Biquad) PreferredBatchSamples() (int, bool) { return 0, false }

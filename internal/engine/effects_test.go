package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGain_Scales(t *testing.T) {
	g := NewGain(GainParams{Linear: [Channels]float32{0.5, 2}})
	out := g.Process([]float32{1, 1, 2, 2}, false)
	assert.Equal(t, []float32{0.5, 2, 1, 4}, out)

	n, ok := g.PreferredBatchSamples()
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestBiquad_DCBlockedByHighpass(t *testing.T) {
	b := NewBiquad(BiquadParams{Kind: BiquadHighpass, FreqHz: 200, Q: 0.707, SampleHz: 48000})

	const n = 4800
	input := make([]float32, n*Channels)
	for i := range input {
		input[i] = 1 // constant DC
	}
	out := b.Process(input, false)

	// After settling, a highpass should drive a DC input toward zero.
	tailMean := float32(0)
	const tailFrames = 100
	for i := n - tailFrames; i < n; i++ {
		tailMean += out[i*Channels]
	}
	tailMean /= tailFrames
	assert.Less(t, math.Abs(float64(tailMean)), 0.05)
}

func TestBiquad_ResetClearsHistory(t *testing.T) {
	b := NewBiquad(BiquadParams{Kind: BiquadLowpass, FreqHz: 1000, Q: 0.707, SampleHz: 48000})
	b.Process([]float32{1, 1, 1, 1, 1, 1}, false)
	b.ResetState()
	assert.Equal(t, [Channels]biquadChannelState{}, b.state)
}

func TestConvolutionReverb_UnitImpulsePassesThrough(t *testing.T) {
	ir := []float32{1, 1} // single unit frame, stereo
	r := NewConvolutionReverb(ReverbParams{BlockSamples: 8, Mix: 1}, ir)

	batch, ok := r.PreferredBatchSamples()
	assert.True(t, ok)
	assert.Equal(t, 8, batch)

	input := make([]float32, batch*Channels)
	for i := range input {
		input[i] = float32(i % 3)
	}
	out := r.Process(input, false)
	assert.GreaterOrEqual(t, len(out), len(input))
	for i := 0; i < len(input); i++ {
		assert.InDelta(t, input[i], out[i], 1e-3)
	}
}

// TestConvolutionReverb_MultiPartitionTimeAlignment uses a two-partition
// impulse response that is a pure delay of one full block: an impulse
// at exactly BlockSamples (the first frame of the second partition).
// A correct frequency-delay-line implementation reproduces the input
// shifted by BlockSamples samples; a buggy one that multiplies every
// partition against only the current block (ignoring delay) would
// instead reproduce the input undelayed, or scrambled.
func TestConvolutionReverb_MultiPartitionTimeAlignment(t *testing.T) {
	const blockFrames = 4

	irFrames := blockFrames * 2
	ir := make([]float32, irFrames*Channels)
	ir[blockFrames*Channels] = 1
	ir[blockFrames*Channels+1] = 1

	r := NewConvolutionReverb(ReverbParams{BlockSamples: blockFrames, Mix: 1}, ir)
	batch, ok := r.PreferredBatchSamples()
	require.True(t, ok)
	require.Equal(t, blockFrames, batch)

	const numBlocks = 4
	input := make([]float32, numBlocks*blockFrames*Channels)
	for i := 0; i < numBlocks*blockFrames; i++ {
		input[i*Channels] = float32(i + 1)
		input[i*Channels+1] = float32(i + 1)
	}

	out := r.Process(input, true)
	require.GreaterOrEqual(t, len(out)/Channels, numBlocks*blockFrames+blockFrames)

	for i := 0; i < numBlocks*blockFrames; i++ {
		var expect float32
		if i >= blockFrames {
			expect = float32(i - blockFrames + 1)
		}
		assert.InDelta(t, expect, out[i*Channels], 1e-2, "frame %d channel 0", i)
		assert.InDelta(t, expect, out[i*Channels+1], 1e-2, "frame %d channel 1", i)
	}
}

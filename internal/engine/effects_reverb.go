package engine

import (
	"github.com/argusdusty/gofft"
)

// ReverbParams configures a ConvolutionReverb: the impulse response and
// the block size its uniform-partitioned FFT convolution runs at.
// BlockSamples must be a power of two; NewConvolutionReverb rounds up
// if it isn't.
type ReverbParams struct {
	BlockSamples int
	Mix          float32 // 0 = dry, 1 = fully wet
}

// ConvolutionReverb is a uniform-partitioned overlap-add FFT
// convolution: the impulse response is split into fixed-size blocks,
// each block's spectrum is computed once up front, and every incoming
// input block is convolved against each IR partition via a per-channel
// frequency-delay line. The transform itself comes from
// github.com/argusdusty/gofft.
//
// Each incoming block's spectrum is kept in history[ch] for as many
// steps as there are IR partitions; partition p is always multiplied
// against the block from p steps ago before the products are summed
// and inverse-transformed, so a partition's contribution lands at the
// correct time offset instead of all partitions being applied to only
// the current block.
//
// Convolving one input block against the IR produces up to
// 2*BlockSamples-1 non-zero samples; the part past the block is kept in
// overlap[ch] and added into the next block. With drain false the
// output therefore has exactly as many frames as the input. With drain
// true the final block also emits the carried overlap, so the output is
// longer than the input and the excess becomes the mix scheduler's
// effect tail buffer.
type ConvolutionReverb struct {
	params     ReverbParams
	block      int // power-of-two FFT size, 2x BlockSamples
	partitions [][]complex128 // IR partitions' spectra, index 0 = least delay
	overlap    [Channels][]complex128

	history  [Channels][][]complex128 // per-channel frequency delay line, one slot per partition
	accum    [Channels][]complex128   // reused per-channel accumulator, sized to avoid per-block allocation
	histHead int                      // slot holding the most recently written block's spectrum
}

// NewConvolutionReverb partitions irSamples (interleaved, Channels-wide
// frames, mono IR duplicated across channels if only one channel worth
// of samples is given) into BlockSamples-sized blocks and precomputes
// each block's FFT once.
func NewConvolutionReverb(p ReverbParams, irSamples []float32) *ConvolutionReverb {
	blockFrames := nextPow2(p.BlockSamples)
	if blockFrames <= 0 {
		blockFrames = 1
	}
	fftSize := blockFrames * 2

	frameCount := len(irSamples) / Channels
	numPartitions := (frameCount + blockFrames - 1) / blockFrames
	if numPartitions == 0 {
		numPartitions = 1
	}

	r := &ConvolutionReverb{
		params: ReverbParams{BlockSamples: blockFrames, Mix: p.Mix},
		block:  fftSize,
	}

	for part := 0; part < numPartitions; part++ {
		spectrum := make([]complex128, fftSize)
		for i := 0; i < blockFrames; i++ {
			frame := part*blockFrames + i
			if frame >= frameCount {
				break
			}
			// mono-sum the IR frame; the wet path is applied per output
			// channel identically, matching a single shared impulse
			// response convolved against every channel.
			var sum float64
			for ch := 0; ch < Channels; ch++ {
				idx := frame*Channels + ch
				if idx < len(irSamples) {
					sum += float64(irSamples[idx])
				}
			}
			spectrum[i] = complex(sum/float64(Channels), 0)
		}
		_ = gofft.FFT(spectrum)
		r.partitions = append(r.partitions, spectrum)
	}

	for ch := range r.overlap {
		r.overlap[ch] = make([]complex128, fftSize)
		r.accum[ch] = make([]complex128, fftSize)
		r.history[ch] = make([][]complex128, numPartitions)
		for p := range r.history[ch] {
			r.history[ch][p] = make([]complex128, fftSize)
		}
	}

	return r
}

func (r *ConvolutionReverb) Process(input []float32, drain bool) []float32 {
	blockFrames := r.params.BlockSamples
	frames := len(input) / Channels
	numPartitions := len(r.partitions)

	wet := make([][]float32, Channels)
	for ch := range wet {
		wet[ch] = make([]float32, 0, frames+blockFrames*numPartitions)
	}

	for start := 0; start < frames; start += blockFrames {
		n := blockFrames
		if start+n > frames {
			n = frames - start
		}

		// histHead always points at the slot holding this step's block;
		// advancing it backwards overwrites the oldest slot (now the
		// furthest delayed) with the newest block, so slot (histHead+p)
		// holds the block from p steps ago for every p in one step.
		r.histHead = (r.histHead - 1 + numPartitions) % numPartitions

		for ch := 0; ch < Channels; ch++ {
			newest := r.history[ch][r.histHead]
			for i := range newest {
				newest[i] = 0
			}
			for i := 0; i < n; i++ {
				newest[i] = complex(float64(input[(start+i)*Channels+ch]), 0)
			}
			_ = gofft.FFT(newest)

			acc := r.accum[ch]
			for i := range acc {
				acc[i] = 0
			}
			for p := 0; p < numPartitions; p++ {
				delayed := r.history[ch][(r.histHead+p)%numPartitions]
				spectrum := r.partitions[p]
				for i, s := range spectrum {
					acc[i] += delayed[i] * s
				}
			}
			_ = gofft.IFFT(acc)

			out := r.overlap[ch]
			for i := 0; i < r.block; i++ {
				out[i] += acc[i]
			}

			emit := n
			if drain && start+blockFrames >= frames {
				emit = r.block
			}
			for i := 0; i < emit && i < len(out); i++ {
				wet[ch] = append(wet[ch], float32(real(out[i])))
			}

			copy(out, out[emit:])
			for i := len(out) - emit; i < len(out); i++ {
				out[i] = 0
			}
		}
	}

	maxLen := 0
	for ch := range wet {
		if len(wet[ch]) > maxLen {
			maxLen = len(wet[ch])
		}
	}

	result := make([]float32, maxLen*Channels)
	for i := 0; i < maxLen; i++ {
		for ch := 0; ch < Channels; ch++ {
			var dry float32
			if i < frames {
				dry = input[i*Channels+ch]
			}
			var w float32
			if i < len(wet[ch]) {
				w = wet[ch][i]
			}
			result[i*Channels+ch] = dry*(1-r.params.Mix) + w*r.params.Mix
		}
	}
	return result
}

func (r *ConvolutionReverb) ResetState() {
	for ch := range r.overlap {
		for i := range r.overlap[ch] {
			r.overlap[ch][i] = 0
		}
		for i := range r.accum[ch] {
			r.accum[ch][i] = 0
		}
		for _, slot := range r.history[ch] {
			for i := range slot {
				slot[i] = 0
			}
		}
	}
	r.histHead = 0
}

func (r *ConvolutionReverb) PreferredBatchSamples() (int, bool) {
	return r.params.BlockSamples, true
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBatchFrames = 4096

// wavDecoder streams a `.wav` file through `github.com/go-audio/wav`,
// converting each batch to interleaved stereo float32 via downmix.
type wavDecoder struct {
	f         *os.File
	dec       *wav.Decoder
	buf       *audio.IntBuffer
	channels  int
	maxValue  float64
	remaining int // frames left to skip for seek-by-decode
}

// OpenWAV opens path, validates it as a WAV file, and positions the
// decoder at startMs by discarding leading frames (WAV has no native
// seek table beyond the data chunk start).
func OpenWAV(path string, startMs int64) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("codec: open %s: %w", path, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("codec: %s is not a valid WAV file", path)
	}
	dec.ReadInfo()

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	sampleRate := int(dec.SampleRate)
	if sampleRate <= 0 {
		sampleRate = 44100
	}

	w := &wavDecoder{
		f:        f,
		dec:      dec,
		channels: channels,
		maxValue: float64(int64(1) << (bitDepth - 1)),
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			Data:   make([]int, wavBatchFrames*channels),
		},
	}
	if startMs > 0 {
		w.remaining = int(startMs) * sampleRate / 1000
	}
	return w, nil
}

func (w *wavDecoder) Decode() ([]float32, error) {
	for {
		n, err := w.dec.PCMBuffer(w.buf)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("codec: wav decode: %w", err)
		}
		if n == 0 {
			return nil, io.EOF
		}

		frames := n / w.channels
		out := make([]float32, 0, frames*Channels)
		for i := 0; i < frames; i++ {
			frame := make([]float64, w.channels)
			for ch := 0; ch < w.channels; ch++ {
				frame[ch] = float64(w.buf.Data[i*w.channels+ch]) / w.maxValue
			}
			stereo := downmix(frame)
			out = append(out, stereo[0], stereo[1])
		}

		if w.remaining > 0 {
			if w.remaining >= frames {
				w.remaining -= frames
				continue
			}
			skip := w.remaining
			w.remaining = 0
			out = out[skip*Channels:]
		}
		if len(out) == 0 {
			continue
		}
		return out, nil
	}
}

func (w *wavDecoder) Close() error {
	return w.f.Close()
}

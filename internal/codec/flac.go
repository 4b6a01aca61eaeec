package codec

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// flacDecoder streams a `.flac` file through `github.com/mewkiz/flac`,
// one native frame at a time, converting to interleaved stereo float32.
type flacDecoder struct {
	stream    *flac.Stream
	channels  int
	maxValue  float64
	remaining int
}

// OpenFLAC opens path and positions the decoder at startMs by
// discarding leading frames (mewkiz/flac exposes frame-granular
// decoding, not millisecond seek).
func OpenFLAC(path string, startMs int64) (Decoder, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("codec: open %s: %w", path, err)
	}

	channels := int(stream.Info.NChannels)
	if channels <= 0 {
		channels = 1
	}
	bitDepth := stream.Info.BitsPerSample
	if bitDepth == 0 {
		bitDepth = 16
	}
	sampleRate := int(stream.Info.SampleRate)
	if sampleRate <= 0 {
		sampleRate = 44100
	}

	d := &flacDecoder{
		stream:   stream,
		channels: channels,
		maxValue: float64(int64(1) << (bitDepth - 1)),
	}
	if startMs > 0 {
		d.remaining = int(startMs) * sampleRate / 1000
	}
	return d, nil
}

func (d *flacDecoder) Decode() ([]float32, error) {
	for {
		frame, err := d.stream.ParseNext()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("codec: flac decode: %w", err)
		}

		n := int(frame.BlockSize)
		out := make([]float32, 0, n*Channels)
		samples := make([]float64, d.channels)
		for i := 0; i < n; i++ {
			for ch := 0; ch < d.channels && ch < len(frame.Subframes); ch++ {
				samples[ch] = float64(frame.Subframes[ch].Samples[i]) / d.maxValue
			}
			stereo := downmix(samples)
			out = append(out, stereo[0], stereo[1])
		}

		if d.remaining > 0 {
			if d.remaining >= n {
				d.remaining -= n
				continue
			}
			skip := d.remaining
			d.remaining = 0
			out = out[skip*Channels:]
		}
		if len(out) == 0 {
			continue
		}
		return out, nil
	}
}

func (d *flacDecoder) Close() error {
	return d.stream.Close()
}

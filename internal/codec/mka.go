package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/at-wat/ebml-go"

	"github.com/doismellburning/protplay/internal/container"
)

// mkaClusterDoc pulls the raw SimpleBlock payloads back out of a
// `.mka` file's Cluster elements. Header parsing (track table, tags)
// already happened once in internal/container when the file was
// opened; this is a second, narrower pass over the same file, paid
// only when a container-track source is actually selected for
// playback, consistent with the engine's "each track opens its own
// handle" approach elsewhere.
type mkaClusterDoc struct {
	Segment struct {
		Cluster []struct {
			SimpleBlock [][]byte `ebml:"SimpleBlock"`
		} `ebml:"Cluster"`
	} `ebml:"Segment"`
}

// mkaTrackDecoder decodes one embedded audio track's PCM samples out of
// a `.mka` file's SimpleBlock payloads. Only the "A_PCM/INT/LIT" codec
// (Matroska's raw signed little-endian PCM codec id) is supported --
// compressed embedded codecs (FLAC-in-Matroska, Opus, ...) would need a
// full per-codec decoder wired onto the demuxed payload, which is out
// of proportion to what this reader needs; such tracks are reported as
// a load error instead of silently producing silence.
type mkaTrackDecoder struct {
	frames    [][]byte
	idx       int
	channels  int
	maxValue  float64
	remaining int // frames left to discard for seek-by-decode
}

// OpenContainerTrack demuxes track's SimpleBlock payloads out of the
// `.mka` file at path and returns a Decoder over them, positioned at
// startMs by discarding leading frames.
func OpenContainerTrack(path string, track container.Track, startMs int64) (Decoder, error) {
	if track.CodecID != "A_PCM/INT/LIT" {
		return nil, fmt.Errorf("codec: embedded codec %q for track %s is not supported", track.CodecID, track.ID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("codec: open %s: %w", path, err)
	}
	defer f.Close()

	var doc mkaClusterDoc
	if err := ebml.Unmarshal(f, &doc, ebml.WithIgnoreUnknown(true)); err != nil {
		return nil, fmt.Errorf("codec: parse %s: %w", path, err)
	}

	var frames [][]byte
	for _, cluster := range doc.Segment.Cluster {
		for _, raw := range cluster.SimpleBlock {
			num, payload, ok := parseSimpleBlock(raw)
			if !ok || num != track.TrackNumber {
				continue
			}
			frames = append(frames, payload)
		}
	}

	channels := track.SourceChannels
	if channels <= 0 {
		channels = Channels
	}

	d := &mkaTrackDecoder{
		frames:   frames,
		channels: channels,
		maxValue: 32768,
	}
	if startMs > 0 && track.SampleRate > 0 {
		d.remaining = int(float64(startMs) / 1000 * track.SampleRate)
	}
	return d, nil
}

func (d *mkaTrackDecoder) Decode() ([]float32, error) {
	for {
		if d.idx >= len(d.frames) {
			return nil, io.EOF
		}
		raw := d.frames[d.idx]
		d.idx++

		const bytesPerSample = 2
		frameSize := bytesPerSample * d.channels
		if frameSize == 0 {
			continue
		}
		n := len(raw) / frameSize
		out := make([]float32, 0, n*Channels)
		for i := 0; i < n; i++ {
			frame := make([]float64, d.channels)
			for ch := 0; ch < d.channels; ch++ {
				off := i*frameSize + ch*bytesPerSample
				v := int16(uint16(raw[off]) | uint16(raw[off+1])<<8)
				frame[ch] = float64(v) / d.maxValue
			}
			stereo := downmix(frame)
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

func (d *mkaTrackDecoder) Close() error { return nil }

// parseSimpleBlock reads a Matroska Block Structure header: an EBML
// vint track number, a 2-byte timecode, one flags byte, then payload.
// Lacing (flag bits 6-5) is not supported -- unlaced single-frame
// blocks are what every common muxer produces for uncompressed PCM, and
// handling laced frames would need the lace size table this reader
// doesn't parse.
func parseSimpleBlock(raw []byte) (trackNumber uint64, payload []byte, ok bool) {
	num, width, ok := readVint(raw)
	if !ok || width+3 > len(raw) {
		return 0, nil, false
	}
	flags := raw[width+2]
	const lacingMask = 0x06
	if flags&lacingMask != 0 {
		return 0, nil, false
	}
	return num, raw[width+3:], true
}

// readVint reads an EBML variable-length integer from the start of b,
// returning its value (with the length-marker bits cleared) and its
// width in bytes.
func readVint(b []byte) (value uint64, width int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	first := b[0]
	for w := 1; w <= 8; w++ {
		if first&(0x80>>(w-1)) != 0 {
			if len(b) < w {
				return 0, 0, false
			}
			value = uint64(first) &^ (0xFF << uint(8-w))
			for i := 1; i < w; i++ {
				value = value<<8 | uint64(b[i])
			}
			return value, w, true
		}
	}
	return 0, 0, false
}

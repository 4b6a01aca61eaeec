// Package codec turns an opened media source and a start timestamp
// into interleaved stereo float32 frames. Three concrete decoders ship
// -- WAV/PCM, FLAC, and raw PCM tracks embedded in a `.mka` file --
// enough to exercise the engine end to end
// without claiming to be a production codec suite.
package codec

// Channels is the fixed interleaved width every Decoder emits,
// mirroring engine.Channels (this package does not import engine, to
// keep the dependency direction container/codec -> engine one-way).
const Channels = 2

// Decoder yields successive batches of interleaved stereo float32
// frames from one opened media source. Decode returns io.EOF once the
// source is exhausted; any other error is treated by the caller as an
// early EOS -- decoder errors never escape past the runtime key's
// finished-set entry.
type Decoder interface {
	Decode() ([]float32, error)
	Close() error
}

// downmix converts one decoded frame of arbitrary channel count into
// the engine's fixed stereo width: mono is duplicated to both channels,
// anything wider than stereo is truncated to its first two channels.
func downmix(frame []float64) [Channels]float32 {
	switch len(frame) {
	case 0:
		return [Channels]float32{}
	case 1:
		v := float32(frame[0])
		return [Channels]float32{v, v}
	default:
		return [Channels]float32{float32(frame[0]), float32(frame[1])}
	}
}

// skipFrames discards n frames worth of samples from an interleaved
// decode batch, used to implement seek-by-decoding when a decoder has
// no native seek table.
func skipFrames(buf []float32, channels, n int) []float32 {
	skip := n * channels
	if skip >= len(buf) {
		return nil
	}
	return buf[skip:]
}

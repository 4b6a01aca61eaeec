package engine

import "time"

// Knobs gathers every playback tunable: startup buffering, chunk
// sizing, shuffle/seek/pause fade lengths and sink backpressure
// bounds. Callers normally start from DefaultKnobs and override some
// fields from CLI flags (see cmd/protplay). The play-settings file read
// by internal/config carries per-track overrides only and sets no knobs.
type Knobs struct {
	// StartBufferMs is the minimum buffered milliseconds required per
	// slot before the mix scheduler emits its first chunk.
	StartBufferMs int

	// MinMixMs is the target minimum chunk size, in milliseconds, that
	// the mix scheduler tries to assemble before clipping to event
	// boundaries or premix capacity.
	MinMixMs int

	// TrackEOSMs is how long a decoder may go without producing a
	// frame before its runtime key is declared finished.
	TrackEOSMs int

	// ShuffleCrossfadeMs is the linear fade-out length applied to the
	// outgoing source at a shuffle point.
	ShuffleCrossfadeMs int

	// InlineTransitionMs is the crossfade length when the effect chain
	// is swapped in place, without a full reset.
	InlineTransitionMs int

	// StartSinkChunks is how many chunks must be queued at the sink
	// before playback starts.
	StartSinkChunks int

	// MaxSinkChunks bounds the sink queue for backpressure.
	MaxSinkChunks int

	// PauseFadeMs / ResumeFadeMs are the sink volume ramp lengths for
	// pause and resume transitions.
	PauseFadeMs  int
	ResumeFadeMs int

	// SeekFadeOutMs / SeekFadeInMs are the sink volume ramp lengths
	// that bracket a seek.
	SeekFadeOutMs int
	SeekFadeInMs  int

	// StartupSilenceMs is an optional silence pre-roll appended to the
	// sink before the first real chunk, absorbing device-start jitter.
	// Zero disables it.
	StartupSilenceMs int

	// SampleRate is the output sample rate in Hz, inherited from the
	// sink device.
	SampleRate int

	// RingCapacityMs bounds each per-track ring buffer's capacity.
	RingCapacityMs int

	// PremixCapacityChunks bounds the premix FIFO depth.
	PremixCapacityChunks int

	// RNGSeed seeds the schedule model's shuffle draws. Zero means
	// "seed from the OS" (non-reproducible); any other value makes the
	// schedule deterministic for identical inputs.
	RNGSeed int64
}

// DefaultKnobs returns defaults conservative enough to never glitch on
// a loaded machine, tight enough to keep latency reasonable.
func DefaultKnobs() Knobs {
	return Knobs{
		StartBufferMs:        20,
		MinMixMs:             20,
		TrackEOSMs:           1000,
		ShuffleCrossfadeMs:   5,
		InlineTransitionMs:   25,
		StartSinkChunks:      2,
		MaxSinkChunks:        8,
		PauseFadeMs:          60,
		ResumeFadeMs:         60,
		SeekFadeOutMs:        80,
		SeekFadeInMs:         80,
		StartupSilenceMs:     0,
		SampleRate:           48000,
		RingCapacityMs:       300,
		PremixCapacityChunks: 16,
		RNGSeed:              0,
	}
}

// RingCapacityFrames is the per-track ring capacity in frames, derived
// from RingCapacityMs and the configured sample rate.
func (k Knobs) RingCapacityFrames() int {
	return msToFrames(k.RingCapacityMs, k.SampleRate)
}

// StartBufferFrames is the minimum per-slot buffered frame count
// required before the mixer may emit its first chunk.
func (k Knobs) StartBufferFrames() int {
	return msToFrames(k.StartBufferMs, k.SampleRate)
}

// MinMixFrames is the target minimum chunk size in frames.
func (k Knobs) MinMixFrames() int {
	return msToFrames(k.MinMixMs, k.SampleRate)
}

// TrackEOSTimeout is TrackEOSMs as a time.Duration.
func (k Knobs) TrackEOSTimeout() time.Duration {
	return time.Duration(k.TrackEOSMs) * time.Millisecond
}

func msToFrames(ms, rate int) int {
	if ms <= 0 || rate <= 0 {
		return 0
	}
	return (ms * rate) / 1000
}

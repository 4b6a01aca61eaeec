// Package engine implements the playback pipeline that ties decoder
// workers, per-track ring buffers, the mix scheduler, the DSP effect
// chain and the sink-feeding worker into one generation of playback.
package engine

import (
	"sync/atomic"

	"github.com/doismellburning/protplay/internal/container"
)

// Channels is the number of interleaved output channels the pipeline
// produces. The mix scheduler, effect chain and sink worker all speak
// this fixed width; channel-count conversion happens only at decode
// time (mono duplicated, >2 channels truncated to the first two -- see
// downmix in internal/codec). No sample-rate conversion is done.
const Channels = 2

// RuntimeKey identifies one decoder-ring-slot binding within a
// generation. Keys are never reused within a generation so that a
// stale reference (e.g. a finished-set lookup racing a new worker
// spawn) can never accidentally match the wrong ring.
type RuntimeKey uint64

var runtimeKeySeq atomic.Uint64

// NewRuntimeKey allocates a fresh, generation-unique runtime key.
func NewRuntimeKey() RuntimeKey {
	return RuntimeKey(runtimeKeySeq.Add(1))
}

// SourceSpec names a decodable source: either a track inside a `.prot`
// or `.mka` container, or a bare file path. Exactly one of ContainerID
// or FilePath is set.
type SourceSpec struct {
	ContainerID string // container.Track.ID, when sourced from the shared container
	FilePath    string // standalone media file, when not
}

// IsContainerTrack reports whether this spec names a track inside the
// shared container rather than a standalone file.
func (s SourceSpec) IsContainerTrack() bool {
	return s.ContainerID != ""
}

func (s SourceSpec) String() string {
	if s.IsContainerTrack() {
		return "container:" + s.ContainerID
	}
	return "file:" + s.FilePath
}

// Equal reports whether two source specs name the same source.
func (s SourceSpec) Equal(o SourceSpec) bool {
	return s.ContainerID == o.ContainerID && s.FilePath == o.FilePath
}

// ScheduleEntry is a full slot snapshot anchored at a timestamp: the
// source spec picked for every slot at that instant. The first entry
// is always at 0ms; later entries sit at shuffle points.
type ScheduleEntry struct {
	AtMs    int64
	Sources []SourceSpec // one per slot, in slot order
}

// RuntimePlan is what the schedule model hands the mixer at playback
// start: the source list in force at start_time, and every later
// shuffle event still ahead of it.
type RuntimePlan struct {
	Current  []SourceSpec
	Upcoming []ScheduleEntry
}

// TrackDef is one slot definition as produced by the container/config
// layer: a set of candidate sources the schedule model draws from,
// expanded into SelectionsCount concurrent slots, plus per-slot mixing
// parameters and an optional effect chain.
type TrackDef struct {
	Candidates      []SourceSpec
	SelectionsCount int
	ShuffleMs       []int64 // shuffle points for this track, in ms; BuildSchedule sorts and deduplicates them
	Weight          float32
	Gain            [Channels]float32
	Effects         []EffectSpec
}

// EffectSpec names one effect instance in a chain, resolved externally
// (container / play-settings layer) into concrete parameters before the
// engine ever sees it. The engine only depends on the Effect interface;
// this struct exists so config/container code has something concrete
// to build and hand to config.BuildEffectChain.
type EffectSpec struct {
	Kind      string // "gain", "biquad", "reverb"
	Gain      GainParams
	Biquad    BiquadParams
	Reverb    ReverbParams
	IRSamples []float32 // decoded impulse response, for Kind == "reverb"
}

// TrackSlot is one concurrent mix channel. It always has exactly one
// active runtime key; the outgoing key of a shuffle-point crossfade is
// tracked in the mixer's fading set, not here.
type TrackSlot struct {
	Index      int
	Weight     float32
	Gain       [Channels]float32
	Source     SourceSpec
	RuntimeKey RuntimeKey
	Def        *TrackDef
}

// ContainerModel is the narrow slice of the external container contract
// the engine depends on: a lookup from track id to its decodable form.
// Concrete implementations live in internal/container.
type ContainerModel interface {
	Track(id string) (container.Track, bool)
	Path() string
}

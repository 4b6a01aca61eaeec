// Package container turns a `.prot` or `.mka` file into the
// track/selection/shuffle model the schedule model (internal/engine)
// builds its runtime plan from. Neither reader is a full production
// parser -- each extracts just the fields the engine contract needs.
package container

import "fmt"

// EffectRef names one effect instance attached to a track, as read from
// the container file, before the engine layer resolves it into a
// concrete engine.EffectSpec.
type EffectRef struct {
	Kind   string
	Params map[string]float64
	IRPath string // non-empty only for Kind == "reverb"
}

// Track is one track record as the container layer understands it: a
// stable id, a candidate source list the schedule model draws from, a
// selections count, a shuffle-point list, mixing parameters and an
// optional effect chain.
type Track struct {
	ID              string
	Candidates      []string // track ids (mka) or clip paths (prot), schedule draws from this set
	SelectionsCount int
	ShuffleMs       []int64
	Weight          float32
	Gain            [2]float32
	DurationMs      int64 // 0 means unknown; track-end heuristic applies
	Effects         []EffectRef

	// CodecID, TrackNumber, SampleRate and SourceChannels describe how to
	// demux this track's own embedded audio (mka only; a candidate equal
	// to ID itself means "play the container's own track", as opposed to
	// an external file path). Zero values for a prot track, which always
	// resolves through external clip file candidates instead.
	CodecID        string
	TrackNumber    uint64
	SampleRate     float64
	SourceChannels int
}

// Model is the concrete shape produced by a container reader. It
// structurally satisfies engine.ContainerModel (Track, Path) without
// engine needing to depend on this package's constructors.
type Model interface {
	Path() string
	Tracks() []Track
	Track(id string) (Track, bool)
}

// ErrNoSuchTrack is returned by lookups against an unknown track id.
type ErrNoSuchTrack struct {
	ID string
}

func (e *ErrNoSuchTrack) Error() string {
	return fmt.Sprintf("container: no such track %q", e.ID)
}

package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/protplay/internal/codec"
	"github.com/doismellburning/protplay/internal/container"
	"github.com/doismellburning/protplay/internal/engine"
)

// BuildTrackDefs bridges the container reader's output and this
// package's play-settings overlay into the engine's own TrackDef
// shape, resolving impulse-response references to decoded sample
// arrays along the way.
func BuildTrackDefs(model container.Model, settings *PlaySettings) ([]*engine.TrackDef, error) {
	var defs []*engine.TrackDef

	for _, tr := range model.Tracks() {
		def := engine.TrackDef{
			SelectionsCount: tr.SelectionsCount,
			ShuffleMs:       append([]int64(nil), tr.ShuffleMs...),
			Weight:          tr.Weight,
			Gain:            tr.Gain,
		}
		for _, c := range tr.Candidates {
			if c == tr.ID {
				// The container's own embedded track, not an external file
				// (only possible for .mka; .prot candidates are always
				// clip paths and never equal the track's own id).
				def.Candidates = append(def.Candidates, engine.SourceSpec{ContainerID: c})
				continue
			}
			def.Candidates = append(def.Candidates, engine.SourceSpec{FilePath: c})
		}
		for _, e := range tr.Effects {
			spec, err := resolveContainerEffect(e)
			if err != nil {
				return nil, fmt.Errorf("config: track %s: %w", tr.ID, err)
			}
			def.Effects = append(def.Effects, spec)
		}

		if override, ok := settings.Override(tr.ID); ok {
			merged, errs := override.ApplyTo(def)
			for _, e := range errs {
				log.Warn("skipping malformed play-settings entry", "err", e)
			}
			def = merged
		}

		defs = append(defs, &def)
	}

	return defs, nil
}

func resolveContainerEffect(e container.EffectRef) (engine.EffectSpec, error) {
	spec := engine.EffectSpec{Kind: e.Kind}
	switch e.Kind {
	case "gain":
		spec.Gain = engine.GainParams{Linear: [engine.Channels]float32{
			float32(e.Params["left"]), float32(e.Params["right"]),
		}}
	case "biquad":
		spec.Biquad = engine.BiquadParams{
			FreqHz:   e.Params["freq_hz"],
			Q:        e.Params["q"],
			SampleHz: e.Params["sample_hz"],
		}
	case "reverb":
		spec.Reverb = engine.ReverbParams{
			BlockSamples: int(e.Params["block_samples"]),
			Mix:          float32(e.Params["mix"]),
		}
		if e.IRPath != "" {
			ir, err := loadImpulseResponse(e.IRPath)
			if err != nil {
				return spec, err
			}
			spec.IRSamples = ir
		}
	}
	return spec, nil
}

// loadImpulseResponse resolves an impulse-response reference -- a
// `file:<path>` form or a bare path -- and decodes the named WAV file
// fully into memory; unlike the streaming decode path used for
// playback, impulse responses are short enough that whole-file loading
// is the right shape. `attachment:<name>` references name a container
// attachment and must be resolved by the container layer before they
// reach this loader; one surviving to here is a load error.
func loadImpulseResponse(ref string) ([]float32, error) {
	path := ref
	switch {
	case strings.HasPrefix(ref, "file:"):
		path = strings.TrimPrefix(ref, "file:")
	case strings.HasPrefix(ref, "attachment:"):
		return nil, fmt.Errorf("config: impulse response %q names an unresolved container attachment", ref)
	}
	dec, err := codec.OpenWAV(path, 0)
	if err != nil {
		return nil, fmt.Errorf("config: open impulse response %s: %w", path, err)
	}
	defer dec.Close()

	var samples []float32
	for {
		batch, err := dec.Decode()
		samples = append(samples, batch...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("config: decode impulse response %s: %w", path, err)
		}
	}
	return samples, nil
}

// BuildEffectChain resolves a TrackDef's effect specs into a concrete
// engine.Chain.
func BuildEffectChain(specs []engine.EffectSpec) *engine.Chain {
	effects := make([]engine.Effect, 0, len(specs))
	for _, s := range specs {
		switch s.Kind {
		case "gain":
			effects = append(effects, engine.NewGain(s.Gain))
		case "biquad":
			effects = append(effects, engine.NewBiquad(s.Biquad))
		case "reverb":
			effects = append(effects, engine.NewConvolutionReverb(s.Reverb, s.IRSamples))
		}
	}
	return engine.NewChain(effects...)
}

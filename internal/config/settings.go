// Package config implements the play-settings overlay: a YAML file
// layered over the container's own track parameters, giving per-track
// weight/gain/shuffle/effect overrides external to the container file
// itself.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/doismellburning/protplay/internal/engine"
)

// EffectConfig is one effect instance as written in a play-settings
// file, mirroring container.EffectRef's shape but independently
// serializable (YAML tags instead of Matroska SimpleTag extensions).
type EffectConfig struct {
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params,omitempty"`
	IRPath string             `yaml:"ir_path,omitempty"`
}

// TrackOverride overlays onto a container.Track of the same id.
type TrackOverride struct {
	ID         string         `yaml:"id"`
	Weight     *float32       `yaml:"weight,omitempty"`
	Gain       *[2]float32    `yaml:"gain,omitempty"`
	ShuffleMs  []string       `yaml:"shuffle,omitempty"` // SS / MM:SS / HH:MM:SS, parsed by engine.ParseShuffleTimestamp
	Effects    []EffectConfig `yaml:"effects,omitempty"`
}

// PlaySettings is the root of a play-settings YAML document.
type PlaySettings struct {
	Tracks []TrackOverride `yaml:"tracks"`
}

// Load reads and parses a play-settings YAML file. A missing file is
// not an error -- an empty PlaySettings overlays nothing, so CLI-only
// configuration keeps working without one.
func Load(path string) (*PlaySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PlaySettings{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var ps PlaySettings
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &ps, nil
}

// Override finds the override entry for id, if any.
func (ps *PlaySettings) Override(id string) (TrackOverride, bool) {
	for _, t := range ps.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackOverride{}, false
}

// ApplyTo overlays this override onto a TrackDef already built from the
// container model, returning the merged result. Malformed shuffle
// timestamps, and reverb overrides whose impulse response cannot be
// loaded, are skipped with an error collected into the returned slice
// rather than failing the whole load.
func (o TrackOverride) ApplyTo(def engine.TrackDef) (engine.TrackDef, []error) {
	var errs []error
	if o.Weight != nil {
		def.Weight = *o.Weight
	}
	if o.Gain != nil {
		def.Gain = *o.Gain
	}
	for _, s := range o.ShuffleMs {
		ms, err := engine.ParseShuffleTimestamp(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: track %s: %w", o.ID, err))
			continue
		}
		def.ShuffleMs = append(def.ShuffleMs, ms)
	}
	for _, e := range o.Effects {
		spec := EffectConfigToSpec(e)
		if e.Kind == "reverb" && e.IRPath != "" {
			ir, err := loadImpulseResponse(e.IRPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: track %s: %w", o.ID, err))
				continue
			}
			spec.IRSamples = ir
		}
		def.Effects = append(def.Effects, spec)
	}
	return def, errs
}

// EffectConfigToSpec converts a YAML-authored effect override into the
// engine's EffectSpec shape. It does not load impulse-response samples;
// ApplyTo does that for a reverb override that names an ir_path.
func EffectConfigToSpec(e EffectConfig) engine.EffectSpec {
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
	}
	return spec
}

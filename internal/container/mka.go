package container

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/at-wat/ebml-go"
)

// mkaDoc mirrors just the Matroska elements the reader needs: the track
// table and the Tags section, which carries protplay's own selection /
// shuffle / effect metadata as SimpleTag extensions -- standard Matroska
// files have no native concept of "candidate list" or "shuffle point",
// so this reuses Matroska's own extensibility point rather than
// inventing a side-channel file.
type mkaDoc struct {
	Segment mkaSegment `ebml:"Segment"`
}

type mkaSegment struct {
	Tracks mkaTracks `ebml:"Tracks"`
	Tags   mkaTags   `ebml:"Tags"`
}

type mkaTags struct {
	Tag []mkaTag `ebml:"Tag"`
}

type mkaTracks struct {
	TrackEntry []mkaTrackEntry `ebml:"TrackEntry"`
}

type mkaTrackEntry struct {
	TrackNumber uint64  `ebml:"TrackNumber"`
	TrackUID    uint64  `ebml:"TrackUID"`
	TrackType   uint64  `ebml:"TrackType"`
	CodecID     string  `ebml:"CodecID"`
	Name        string  `ebml:"Name"`
	Audio       mkaAudio `ebml:"Audio"`
}

type mkaAudio struct {
	Channels          uint64  `ebml:"Channels"`
	SamplingFrequency float64 `ebml:"SamplingFrequency"`
}

type mkaTag struct {
	Targets   mkaTargets    `ebml:"Targets"`
	SimpleTag []mkaSimpleTag `ebml:"SimpleTag"`
}

type mkaTargets struct {
	TrackUID uint64 `ebml:"TagTrackUID"`
}

type mkaSimpleTag struct {
	TagName   string `ebml:"TagName"`
	TagString string `ebml:"TagString"`
}

const mkaAudioTrackType = 2

// MKA is a `.mka` container read via `at-wat/ebml-go`'s struct-tag
// Unmarshal.
type MKA struct {
	path   string
	tracks []Track
	byID   map[string]Track
}

// OpenMKA parses a `.mka` file's Segment header (Tracks + Tags) into the
// container model. It does not touch Cluster/SimpleBlock payload data --
// that is read on demand by the codec decoders, keyed by TrackNumber,
// once a track is selected for playback.
func OpenMKA(path string) (*MKA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	defer f.Close()

	// Real-world .mka files carry far more elements (SeekHead, Info,
	// Chapters, Cluster payload) than this header model names.
	var doc mkaDoc
	if err := ebml.Unmarshal(f, &doc, ebml.WithIgnoreUnknown(true)); err != nil {
		return nil, fmt.Errorf("container: parse %s: %w", path, err)
	}

	tagsByTrack := make(map[uint64][]mkaSimpleTag)
	for _, tag := range doc.Segment.Tags.Tag {
		tagsByTrack[tag.Targets.TrackUID] = append(tagsByTrack[tag.Targets.TrackUID], tag.SimpleTag...)
	}

	m := &MKA{
		path: path,
		byID: make(map[string]Track),
	}

	for _, te := range doc.Segment.Tracks.TrackEntry {
		if te.TrackType != mkaAudioTrackType {
			continue
		}
		id := strconv.FormatUint(te.TrackUID, 10)
		tr := Track{
			ID:              id,
			Candidates:      []string{id},
			SelectionsCount: 1,
			Weight:          1,
			Gain:            [2]float32{1, 1},
			CodecID:         te.CodecID,
			TrackNumber:     te.TrackNumber,
			SampleRate:      te.Audio.SamplingFrequency,
			SourceChannels:  int(te.Audio.Channels),
		}
		applyMkaTags(&tr, tagsByTrack[te.TrackUID])
		m.tracks = append(m.tracks, tr)
		m.byID[id] = tr
	}

	return m, nil
}

// applyMkaTags overlays protplay's SimpleTag extensions onto a track's
// defaults. Unrecognized or malformed tags are ignored, not fatal, so
// a `.mka` missing protplay metadata still plays as one
// single-selection, unit-weight, unit-gain track.
func applyMkaTags(tr *Track, tags []mkaSimpleTag) {
	for _, tag := range tags {
		switch tag.TagName {
		case "PROTPLAY_CANDIDATE":
			tr.Candidates = append(tr.Candidates, tag.TagString)
		case "PROTPLAY_SELECTIONS":
			if n, err := strconv.Atoi(tag.TagString); err == nil {
				tr.SelectionsCount = n
			}
		case "PROTPLAY_SHUFFLE_MS":
			tr.ShuffleMs = parseMkaInt64List(tag.TagString)
		case "PROTPLAY_WEIGHT":
			if w, err := strconv.ParseFloat(tag.TagString, 32); err == nil {
				tr.Weight = float32(w)
			}
		case "PROTPLAY_GAIN":
			g := parseMkaFloat32List(tag.TagString)
			if len(g) == 2 {
				tr.Gain = [2]float32{g[0], g[1]}
			}
		case "PROTPLAY_DURATION_MS":
			if d, err := strconv.ParseInt(tag.TagString, 10, 64); err == nil {
				tr.DurationMs = d
			}
		case "PROTPLAY_EFFECT":
			if e, ok := parseMkaEffect(tag.TagString); ok {
				tr.Effects = append(tr.Effects, e)
			}
		}
	}
}

func parseMkaInt64List(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseMkaFloat32List(s string) []float32 {
	var out []float32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseFloat(part, 32); err == nil {
			out = append(out, float32(v))
		}
	}
	return out
}

// parseMkaEffect reads "kind=biquad;ir=ir.wav;freq_hz=200;q=0.7" style tag
// strings: semicolon-separated key=value pairs, "kind" selecting the
// effect, "ir" naming an impulse-response file, everything else a
// numeric parameter.
func parseMkaEffect(s string) (EffectRef, bool) {
	var e EffectRef
	e.Params = make(map[string]float64)
	found := false
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "kind":
			e.Kind = val
			found = true
		case "ir":
			e.IRPath = val
		default:
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				e.Params[key] = f
			}
		}
	}
	return e, found
}

func (m *MKA) Path() string { return m.path }

func (m *MKA) Tracks() []Track {
	out := make([]Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *MKA) Track(id string) (Track, bool) {
	tr, ok := m.byID[id]
	return tr, ok
}

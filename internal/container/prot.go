package container

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// protMagic identifies a `.prot` file. Files that don't start with it
// are rejected at open time.
var protMagic = [4]byte{'P', 'R', 'O', 'T'}

const protVersion = 1

// Prot is a `.prot` container: a flat, little-endian binary record of
// tracks (magic, version, track count, then fixed-layout track
// records) rather than a self-describing format.
type Prot struct {
	path   string
	tracks []Track
	byID   map[string]Track
}

// OpenProt reads and fully decodes a `.prot` file. The format is a
// small control-plane manifest, not a streamed media container, so
// loading it whole is the right shape (unlike the decode path, which
// never buffers a whole file).
func OpenProt(path string) (*Prot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("container: read magic: %w", err)
	}
	if magic != protMagic {
		return nil, fmt.Errorf("container: %s is not a .prot file", path)
	}

	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("container: read version: %w", err)
	}
	if version != protVersion {
		return nil, fmt.Errorf("container: unsupported .prot version %d", version)
	}

	var trackCount uint32
	if err := binary.Read(r, binary.LittleEndian, &trackCount); err != nil {
		return nil, fmt.Errorf("container: read track count: %w", err)
	}

	p := &Prot{
		path:   path,
		tracks: make([]Track, 0, trackCount),
		byID:   make(map[string]Track, trackCount),
	}

	for i := uint32(0); i < trackCount; i++ {
		tr, err := readProtTrack(r)
		if err != nil {
			return nil, fmt.Errorf("container: track %d: %w", i, err)
		}
		p.tracks = append(p.tracks, tr)
		p.byID[tr.ID] = tr
	}

	return p, nil
}

func readProtTrack(r io.Reader) (Track, error) {
	var tr Track

	id, err := readProtString(r)
	if err != nil {
		return tr, fmt.Errorf("id: %w", err)
	}
	tr.ID = id

	var candCount uint16
	if err := binary.Read(r, binary.LittleEndian, &candCount); err != nil {
		return tr, fmt.Errorf("candidate count: %w", err)
	}
	tr.Candidates = make([]string, candCount)
	for i := range tr.Candidates {
		c, err := readProtString(r)
		if err != nil {
			return tr, fmt.Errorf("candidate %d: %w", i, err)
		}
		tr.Candidates[i] = c
	}

	var selections uint32
	if err := binary.Read(r, binary.LittleEndian, &selections); err != nil {
		return tr, fmt.Errorf("selections count: %w", err)
	}
	tr.SelectionsCount = int(selections)

	var shuffleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &shuffleCount); err != nil {
		return tr, fmt.Errorf("shuffle count: %w", err)
	}
	tr.ShuffleMs = make([]int64, shuffleCount)
	if err := binary.Read(r, binary.LittleEndian, &tr.ShuffleMs); err != nil {
		return tr, fmt.Errorf("shuffle points: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &tr.Weight); err != nil {
		return tr, fmt.Errorf("weight: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &tr.Gain); err != nil {
		return tr, fmt.Errorf("gain: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &tr.DurationMs); err != nil {
		return tr, fmt.Errorf("duration: %w", err)
	}

	var effectCount uint16
	if err := binary.Read(r, binary.LittleEndian, &effectCount); err != nil {
		return tr, fmt.Errorf("effect count: %w", err)
	}
	tr.Effects = make([]EffectRef, effectCount)
	for i := range tr.Effects {
		e, err := readProtEffect(r)
		if err != nil {
			return tr, fmt.Errorf("effect %d: %w", i, err)
		}
		tr.Effects[i] = e
	}

	return tr, nil
}

func readProtEffect(r io.Reader) (EffectRef, error) {
	var e EffectRef

	kind, err := readProtString(r)
	if err != nil {
		return e, fmt.Errorf("kind: %w", err)
	}
	e.Kind = kind

	var paramCount uint16
	if err := binary.Read(r, binary.LittleEndian, &paramCount); err != nil {
		return e, fmt.Errorf("param count: %w", err)
	}
	if paramCount > 0 {
		e.Params = make(map[string]float64, paramCount)
	}
	for i := uint16(0); i < paramCount; i++ {
		key, err := readProtString(r)
		if err != nil {
			return e, fmt.Errorf("param %d key: %w", i, err)
		}
		var val float64
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return e, fmt.Errorf("param %d value: %w", i, err)
		}
		e.Params[key] = val
	}

	irPath, err := readProtString(r)
	if err != nil {
		return e, fmt.Errorf("ir path: %w", err)
	}
	e.IRPath = irPath

	return e, nil
}

func readProtString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (p *Prot) Path() string { return p.path }

func (p *Prot) Tracks() []Track {
	out := make([]Track, len(p.tracks))
	copy(out, p.tracks)
	return out
}

func (p *Prot) Track(id string) (Track, bool) {
	tr, ok := p.byID[id]
	return tr, ok
}

package container

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeProtString mirrors readProtString's wire format: a uint16
// length prefix followed by the raw bytes.
func writeProtString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func buildProtFile(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(protMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint8(protVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // track count

	writeProtString(&buf, "lead")
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // candidate count
	writeProtString(&buf, "clip_a.wav")
	writeProtString(&buf, "clip_b.flac")
	binary.Write(&buf, binary.LittleEndian, uint32(2))       // selections
	binary.Write(&buf, binary.LittleEndian, uint32(1))       // shuffle count
	binary.Write(&buf, binary.LittleEndian, int64(5000))     // shuffle point
	binary.Write(&buf, binary.LittleEndian, float32(1.5))    // weight
	binary.Write(&buf, binary.LittleEndian, [2]float32{1, 1}) // gain
	binary.Write(&buf, binary.LittleEndian, int64(60000))    // duration
	binary.Write(&buf, binary.LittleEndian, uint16(0))       // effect count

	path := filepath.Join(t.TempDir(), "test.prot")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpenProt_RoundTrip(t *testing.T) {
	path := buildProtFile(t)

	p, err := OpenProt(path)
	require.NoError(t, err)
	require.Equal(t, path, p.Path())

	tracks := p.Tracks()
	require.Len(t, tracks, 1)

	tr, ok := p.Track("lead")
	require.True(t, ok)
	require.Equal(t, tracks[0], tr)

	require.Equal(t, []string{"clip_a.wav", "clip_b.flac"}, tr.Candidates)
	require.Equal(t, 2, tr.SelectionsCount)
	require.Equal(t, []int64{5000}, tr.ShuffleMs)
	require.InDelta(t, 1.5, tr.Weight, 1e-6)
	require.Equal(t, [2]float32{1, 1}, tr.Gain)
	require.Equal(t, int64(60000), tr.DurationMs)
	require.Empty(t, tr.Effects)
}

func TestOpenProt_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.prot")
	require.NoError(t, os.WriteFile(path, []byte("NOTP"), 0o644))

	_, err := OpenProt(path)
	require.Error(t, err)
}

func TestOpenProt_MissingFile(t *testing.T) {
	_, err := OpenProt(filepath.Join(t.TempDir(), "missing.prot"))
	require.Error(t, err)
}

func TestOpenProt_UnknownTrack(t *testing.T) {
	path := buildProtFile(t)
	p, err := OpenProt(path)
	require.NoError(t, err)

	_, ok := p.Track("nonexistent")
	require.False(t, ok)
}

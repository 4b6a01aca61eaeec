package codec

import (
	"testing"

	"github.com/doismellburning/protplay/internal/container"
)

func TestReadVint(t *testing.T) {
	cases := []struct {
		name      string
		in        []byte
		wantValue uint64
		wantWidth int
		wantOK    bool
	}{
		{"one byte", []byte{0x81}, 1, 1, true},
		{"one byte, max", []byte{0xFF}, 0x7F, 1, true},
		{"two byte", []byte{0x40, 0x01}, 1, 2, true},
		{"empty", nil, 0, 0, false},
		{"no marker bit", []byte{0x00, 0x00}, 0, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, w, ok := readVint(c.in)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if !ok {
				return
			}
			if v != c.wantValue {
				t.Errorf("value = %d, want %d", v, c.wantValue)
			}
			if w != c.wantWidth {
				t.Errorf("width = %d, want %d", w, c.wantWidth)
			}
		})
	}
}

func TestParseSimpleBlock(t *testing.T) {
	// track number 1 (single-byte vint 0x81), timecode 0x0000, flags
	// 0x00 (no lacing), payload "abcd".
	raw := []byte{0x81, 0x00, 0x00, 0x00, 'a', 'b', 'c', 'd'}

	num, payload, ok := parseSimpleBlock(raw)
	if !ok {
		t.Fatal("parseSimpleBlock returned ok=false for a well-formed block")
	}
	if num != 1 {
		t.Errorf("track number = %d, want 1", num)
	}
	if string(payload) != "abcd" {
		t.Errorf("payload = %q, want %q", payload, "abcd")
	}
}

func TestParseSimpleBlock_RejectsLacing(t *testing.T) {
	// flags byte 0x06 sets both lacing bits.
	raw := []byte{0x81, 0x00, 0x00, 0x06, 'a', 'b'}

	_, _, ok := parseSimpleBlock(raw)
	if ok {
		t.Fatal("parseSimpleBlock should reject a laced block")
	}
}

func TestParseSimpleBlock_Truncated(t *testing.T) {
	_, _, ok := parseSimpleBlock([]byte{0x81, 0x00})
	if ok {
		t.Fatal("parseSimpleBlock should reject a block shorter than its header")
	}
}

func TestOpenContainerTrack_UnsupportedCodec(t *testing.T) {
	tr := container.Track{ID: "1", CodecID: "A_OPUS"}
	_, err := OpenContainerTrack("irrelevant.mka", tr, 0)
	if err == nil {
		t.Fatal("expected an error for an unsupported embedded codec")
	}
}

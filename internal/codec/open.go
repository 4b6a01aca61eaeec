package codec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open dispatches to the decoder matching path's extension. It is the
// single entry point the engine's decoder workers use to turn a
// source's file path into a Decoder.
func Open(path string, startMs int64) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return OpenWAV(path, startMs)
	case ".flac":
		return OpenFLAC(path, startMs)
	default:
		return nil, fmt.Errorf("codec: unsupported extension %q for %s", filepath.Ext(path), path)
	}
}

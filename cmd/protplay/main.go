// Command protplay is the thin CLI wrapper around the playback engine:
// it opens a `.prot` or `.mka` container, resolves an optional
// play-settings overlay, picks a sink (a real device, or a null sink
// for --benchmark/--decode-only), and drives one engine.Player
// generation to completion. The read/scan/probe/verify modes report
// and exit before any sink is built.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/doismellburning/protplay/internal/audio"
	"github.com/doismellburning/protplay/internal/codec"
	"github.com/doismellburning/protplay/internal/config"
	"github.com/doismellburning/protplay/internal/container"
	"github.com/doismellburning/protplay/internal/engine"
)

// Exit codes per the documented CLI contract: 0 success, 1 unreadable
// input, 2 decoder failure.
const (
	exitOK              = 0
	exitUnreadableInput = 1
	exitDecoderFailure  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		seek            = pflag.StringP("seek", "s", "0", "Start position as SS, MM:SS or HH:MM:SS.")
		gain            = pflag.Float64P("gain", "g", 1.0, "Initial output volume, 0.0-1.0+.")
		configPath      = pflag.StringP("config", "c", "", "Play-settings YAML file overlaying the container's own track parameters.")
		sampleRate      = pflag.IntP("sample-rate", "r", 48000, "Output sample rate in Hz.")
		framesPerBuffer = pflag.IntP("frames-per-buffer", "f", 512, "Device callback size in frames.")
		startBufferMs   = pflag.Int("start-buffer-ms", 0, "Override the default per-slot startup buffer, in milliseconds. 0 keeps the default.")
		trackEOSMs      = pflag.Int("track-eos-ms", 0, "Override the default track-end inactivity timeout, in milliseconds. 0 keeps the default.")
		noGapless       = pflag.Bool("no-gapless", false, "Disable shuffle-point and inline-swap crossfades; transition instantly instead.")
		benchmark       = pflag.Bool("benchmark", false, "Run the full pipeline against a null sink as fast as possible and report throughput.")
		decodeOnly      = pflag.Bool("decode-only", false, "Run the full pipeline against a null sink without reporting throughput.")
		readDurations   = pflag.Bool("read-durations", false, "Print each track's known duration (from container metadata) and exit.")
		scanDurations   = pflag.Bool("scan-durations", false, "Decode every candidate fully to measure its duration and exit.")
		probeOnly       = pflag.Bool("probe-only", false, "Verify every candidate file opens and exit without decoding.")
		verifyOnly      = pflag.Bool("verify-only", false, "Fully decode every candidate checking for decoder errors and exit.")
		verbose         = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		timestampFormat = pflag.StringP("timestamp-format", "T", "", "Precede --read-durations/--scan-durations/--probe-only/--verify-only output lines with an strftime-format time stamp.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <path.prot|path.mka>\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		return exitUnreadableInput
	}
	path := pflag.Arg(0)

	model, err := openContainer(path)
	if err != nil {
		logger.Error("open container", "path", path, "err", err)
		return exitUnreadableInput
	}

	settings := &config.PlaySettings{}
	if *configPath != "" {
		settings, err = config.Load(*configPath)
		if err != nil {
			logger.Error("load play settings", "path", *configPath, "err", err)
			return exitUnreadableInput
		}
	}

	defs, err := config.BuildTrackDefs(model, settings)
	if err != nil {
		logger.Error("build track definitions", "err", err)
		return exitUnreadableInput
	}

	prefix := timestampPrefixer(*timestampFormat)

	switch {
	case *readDurations:
		printDurations(model, prefix)
		return exitOK
	case *scanDurations:
		return scanCandidateDurations(model, logger, prefix)
	case *probeOnly:
		return probeCandidates(model, logger, prefix)
	case *verifyOnly:
		return verifyCandidates(model, logger, prefix)
	}

	seekMs, err := engine.ParseShuffleTimestamp(*seek)
	if err != nil {
		logger.Error("parse --seek", "value", *seek, "err", err)
		return exitUnreadableInput
	}

	knobs := engine.DefaultKnobs()
	knobs.SampleRate = *sampleRate
	if *startBufferMs > 0 {
		knobs.StartBufferMs = *startBufferMs
	}
	if *trackEOSMs > 0 {
		knobs.TrackEOSMs = *trackEOSMs
	}
	if *noGapless {
		knobs.ShuffleCrossfadeMs = 0
		knobs.InlineTransitionMs = 0
	}

	var sink engine.Sink
	report := *benchmark || *decodeOnly
	var nullSink *audio.NullSink
	if report {
		nullSink = audio.NewNullSink()
		sink = nullSink
	} else {
		sink = audio.NewPortAudioSink(*sampleRate, *framesPerBuffer)
	}

	player := engine.NewPlayer(knobs, defs, model, sink, logger)
	player.SetVolume(float32(*gain))

	start := time.Now()
	if err := player.Play(seekMs); err != nil {
		logger.Error("start playback", "err", err)
		return exitDecoderFailure
	}
	player.Wait()

	if *benchmark {
		elapsed := time.Since(start)
		logger.Info("benchmark complete",
			"chunks", nullSink.ChunksSeen,
			"frames", nullSink.FramesSeen,
			"wall_time", elapsed,
			"frames_per_sec", float64(nullSink.FramesSeen)/elapsed.Seconds(),
		)
	}
	return exitOK
}

// openContainer dispatches by file extension, per the container
// layer's `.prot`/`.mka` contract.
func openContainer(path string) (container.Model, error) {
	switch strings.ToLower(extOf(path)) {
	case ".mka":
		return container.OpenMKA(path)
	case ".prot":
		return container.OpenProt(path)
	default:
		return nil, fmt.Errorf("unrecognized container extension %q (want .prot or .mka)", extOf(path))
	}
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i:]
}

// timestampPrefixer returns a function producing a formatted
// current-time prefix for each report line, or an always-empty one
// when no format string was given.
func timestampPrefixer(format string) func() string {
	if format == "" {
		return func() string { return "" }
	}
	return func() string {
		s, err := strftime.Format(format, time.Now())
		if err != nil {
			return ""
		}
		return s + "\t"
	}
}

// printDurations reports each track's DurationMs as recorded in the
// container's own metadata (0 meaning unknown).
func printDurations(model container.Model, prefix func() string) {
	for _, tr := range model.Tracks() {
		fmt.Printf("%s%s\t%dms\n", prefix(), tr.ID, tr.DurationMs)
	}
}

// scanCandidateDurations decodes every candidate source of every track
// to completion, measuring decoded frame counts rather than trusting
// container metadata. This never touches a real device.
func scanCandidateDurations(model container.Model, logger *log.Logger, prefix func() string) int {
	status := exitOK
	for _, tr := range model.Tracks() {
		for _, cand := range tr.Candidates {
			dec, err := openCandidate(model, tr, cand)
			if err != nil {
				logger.Error("scan-durations: open", "track", tr.ID, "candidate", cand, "err", err)
				status = exitDecoderFailure
				continue
			}
			frames := 0
			for {
				batch, derr := dec.Decode()
				frames += len(batch) / engine.Channels
				if derr == io.EOF {
					break
				}
				if derr != nil {
					logger.Error("scan-durations: decode", "track", tr.ID, "candidate", cand, "err", derr)
					status = exitDecoderFailure
					break
				}
			}
			dec.Close()
			durationMs := frames * 1000 / sampleRateOrDefault(tr)
			fmt.Printf("%s%s\t%s\t%dms\n", prefix(), tr.ID, cand, durationMs)
		}
	}
	return status
}

// probeCandidates verifies every candidate opens without fully
// decoding it, a cheap sanity check before a real play session.
func probeCandidates(model container.Model, logger *log.Logger, prefix func() string) int {
	status := exitOK
	for _, tr := range model.Tracks() {
		for _, cand := range tr.Candidates {
			dec, err := openCandidate(model, tr, cand)
			if err != nil {
				logger.Error("probe-only: open failed", "track", tr.ID, "candidate", cand, "err", err)
				status = exitUnreadableInput
				continue
			}
			dec.Close()
			fmt.Printf("%s%s\t%s\tOK\n", prefix(), tr.ID, cand)
		}
	}
	return status
}

// verifyCandidates fully decodes every candidate, surfacing any
// mid-stream decoder error that a probe-only open would miss.
func verifyCandidates(model container.Model, logger *log.Logger, prefix func() string) int {
	status := exitOK
	for _, tr := range model.Tracks() {
		for _, cand := range tr.Candidates {
			dec, err := openCandidate(model, tr, cand)
			if err != nil {
				logger.Error("verify-only: open failed", "track", tr.ID, "candidate", cand, "err", err)
				status = exitUnreadableInput
				continue
			}
			for {
				_, derr := dec.Decode()
				if derr == io.EOF {
					break
				}
				if derr != nil {
					logger.Error("verify-only: decode failed", "track", tr.ID, "candidate", cand, "err", derr)
					status = exitDecoderFailure
					break
				}
			}
			dec.Close()
			fmt.Printf("%s%s\t%s\tOK\n", prefix(), tr.ID, cand)
		}
	}
	return status
}

// openCandidate resolves one candidate string the same way the engine
// does at playback time: the track's own id names an embedded
// container track, anything else is a standalone file path.
func openCandidate(model container.Model, tr container.Track, candidate string) (codec.Decoder, error) {
	if candidate == tr.ID {
		return codec.OpenContainerTrack(model.Path(), tr, 0)
	}
	return codec.Open(candidate, 0)
}

func sampleRateOrDefault(tr container.Track) int {
	if tr.SampleRate > 0 {
		return int(tr.SampleRate)
	}
	return 48000
}

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/protplay/internal/codec"
)

// finishedSet is the shared set of runtime keys whose decoder has
// reached EOS, errored, timed out, or been aborted. Access is guarded
// by a short-lived lock; nothing ever holds it across a blocking call.
type finishedSet struct {
	mu   sync.Mutex
	keys map[RuntimeKey]struct{}
}

func newFinishedSet() *finishedSet {
	return &finishedSet{keys: make(map[RuntimeKey]struct{})}
}

func (f *finishedSet) mark(key RuntimeKey) {
	f.mu.Lock()
	f.keys[key] = struct{}{}
	f.mu.Unlock()
}

func (f *finishedSet) isFinished(key RuntimeKey) bool {
	f.mu.Lock()
	_, ok := f.keys[key]
	f.mu.Unlock()
	return ok
}

// DecoderWorker runs a single-source decode loop for one runtime key:
// open the media, decode packets in order, push interleaved stereo f32
// batches into ring, and mark the key finished on EOS, error, the
// track-end inactivity heuristic, or generation abort.
type DecoderWorker struct {
	Key        RuntimeKey
	Source     SourceSpec
	StartMs    int64
	Ring       *Ring
	Finished   *finishedSet
	Generation *Generation
	EOSTimeout time.Duration
	Logger     *log.Logger

	// Container resolves a container-track source to its decodable form.
	// Nil unless the run was built from a .prot/.mka container, in which
	// case every container-sourced slot shares the one model instance.
	Container ContainerModel

	// OpenDecoder overrides how Source is opened; nil means the default
	// codec dispatch. Tests use it to stand in decoders that stall
	// without ever reporting EOS.
	OpenDecoder func() (codec.Decoder, error)
}

// Run decodes until EOS, error, inactivity timeout, or generation
// abort, then marks the key finished. It is meant to run on its own
// goroutine; the caller does not join it beyond observing Finished.
func (w *DecoderWorker) Run() {
	defer w.Finished.mark(w.Key)

	logger := w.Logger.With("runtime_key", w.Key, "source", w.Source.String())

	dec, err := w.open()
	if err != nil {
		logger.Warn("decoder open failed, treating as EOS", "err", err)
		return
	}
	defer dec.Close()

	lastFrame := time.Now()
	for {
		if w.Generation.Done() {
			logger.Debug("decoder aborted by generation")
			return
		}

		batch, err := dec.Decode()
		if len(batch) > 0 {
			if w.Ring.Push(batch) == PushAborted {
				logger.Debug("ring aborted mid-push")
				return
			}
			lastFrame = time.Now()
		}
		if err != nil {
			logger.Debug("decoder reached end of stream", "err", err)
			return
		}
		if len(batch) == 0 {
			if time.Since(lastFrame) >= w.EOSTimeout {
				logger.Debug("decoder inactivity timeout, declaring finished")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// open resolves this worker's source into a codec.Decoder: a
// standalone file, or one track demuxed out of the shared container.
func (w *DecoderWorker) open() (codec.Decoder, error) {
	if w.OpenDecoder != nil {
		return w.OpenDecoder()
	}
	if !w.Source.IsContainerTrack() {
		return codec.Open(w.Source.FilePath, w.StartMs)
	}
	if w.Container == nil {
		return nil, fmt.Errorf("engine: container source %s with no container model", w.Source.ContainerID)
	}
	track, ok := w.Container.Track(w.Source.ContainerID)
	if !ok {
		return nil, fmt.Errorf("engine: no such container track %s", w.Source.ContainerID)
	}
	return codec.OpenContainerTrack(w.Container.Path(), track, w.StartMs)
}

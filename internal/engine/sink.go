package engine

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Sink is the platform audio device contract the sink worker drives.
// A portaudio-backed implementation lives in internal/audio, alongside
// a null implementation for benchmarking.
type Sink interface {
	Open() error
	Play()
	Pause()
	SetVolume(v float32)
	// Append enqueues one chunk's samples for playback. It blocks the
	// caller only as long as it takes to copy the samples in; queue
	// depth is the sink worker's responsibility, not the device's.
	Append(samples []float32) error
	QueuedChunks() int
	Close() error
}

// SinkWorker owns the device side of playback: startup prefill, fade
// in/out, chunk append, clock accounting and drain.
type SinkWorker struct {
	knobs      Knobs
	sink       Sink
	generation *Generation
	logger     *log.Logger

	mu            sync.Mutex
	chunkLengths  []float64 // seconds, one per appended chunk
	consumedIdx   int
	subChunkStart time.Time
	paused        bool
	volume        float32 // last value handed to sink.SetVolume, fade ramps start here
}

// NewSinkWorker opens sink, retrying a bounded number of times before
// giving up, and returns a worker ready to run.
func NewSinkWorker(knobs Knobs, sink Sink, generation *Generation, logger *log.Logger) (*SinkWorker, error) {
	const openRetries = 3
	var err error
	for attempt := 0; attempt < openRetries; attempt++ {
		if err = sink.Open(); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	sink.SetVolume(0)
	return &SinkWorker{
		knobs:         knobs,
		sink:          sink,
		generation:    generation,
		logger:        logger,
		subChunkStart: time.Now(),
	}, nil
}

// Run drains chunks from in until it closes, then drains the device
// and returns. Playback does not start, and the fade-in to target
// volume does not begin, until StartSinkChunks chunks are queued.
func (w *SinkWorker) Run(in <-chan Chunk, targetVolume float32) {
	started := false
	fadeBudget := msToFrames(w.knobs.ResumeFadeMs, w.knobs.SampleRate)
	fadeElapsed := 0

	if frames := msToFrames(w.knobs.StartupSilenceMs, w.knobs.SampleRate); frames > 0 {
		w.append(Chunk{
			Samples:         make([]float32, frames*Channels),
			DurationSeconds: float64(frames) / float64(w.knobs.SampleRate),
		})
	}

	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				w.drain()
				return
			}
			if w.generation.Done() {
				continue // stale chunk from a killed generation
			}
			w.append(chunk)

			if !started && w.queuedChunks() >= w.knobs.StartSinkChunks {
				started = true
				w.sink.Play()
				if fadeBudget <= 0 {
					w.setVolume(targetVolume)
				}
			}
			if started && fadeElapsed < fadeBudget {
				frames := len(chunk.Samples) / Channels
				fadeElapsed += frames
				v := targetVolume * float32(fadeElapsed) / float32(fadeBudget)
				if v > targetVolume {
					v = targetVolume
				}
				w.setVolume(v)
			}
		case <-time.After(20 * time.Millisecond):
			if w.generation.Done() {
				return
			}
		}
	}
}

func (w *SinkWorker) append(chunk Chunk) {
	defer chunk.Release()

	for w.queuedChunks() >= w.knobs.MaxSinkChunks {
		if w.generation.Done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if err := w.sink.Append(chunk.Samples); err != nil {
		w.logger.Warn("sink append failed", "err", err)
		return
	}
	w.mu.Lock()
	w.chunkLengths = append(w.chunkLengths, chunk.DurationSeconds)
	w.mu.Unlock()
}

func (w *SinkWorker) queuedChunks() int {
	return w.sink.QueuedChunks()
}

// Pause ramps volume to zero over PauseFadeMs then pauses the device.
func (w *SinkWorker) Pause() {
	w.fadeVolume(0, w.knobs.PauseFadeMs)
	w.sink.Pause()
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume un-pauses and ramps volume back up over ResumeFadeMs.
func (w *SinkWorker) Resume(targetVolume float32) {
	w.sink.Play()
	w.fadeVolume(targetVolume, w.knobs.ResumeFadeMs)
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

// setVolume forwards to the sink while recording the value, so fade
// ramps always start from wherever the volume actually is.
func (w *SinkWorker) setVolume(v float32) {
	w.mu.Lock()
	w.volume = v
	w.mu.Unlock()
	w.sink.SetVolume(v)
}

// fadeVolume ramps linearly from the current volume to target over ms.
// Ramping down to zero (pause, seek fade-out) and up from zero (resume,
// seek fade-in) both go through here.
func (w *SinkWorker) fadeVolume(target float32, ms int) {
	const steps = 10
	w.mu.Lock()
	from := w.volume
	w.mu.Unlock()
	if ms <= 0 || from == target {
		w.setVolume(target)
		return
	}
	step := time.Duration(ms) * time.Millisecond / steps
	for i := 1; i <= steps; i++ {
		w.setVolume(from + (target-from)*float32(i)/float32(steps))
		time.Sleep(step)
	}
}

// TimePassed is the playback clock: consumed chunk lengths plus the
// elapsed time within the chunk currently being consumed. The
// sub-chunk timer resets each time the consumed count advances.
func (w *SinkWorker) TimePassed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	consumed := len(w.chunkLengths) - w.sink.QueuedChunks()
	if consumed < 0 {
		consumed = 0
	}
	if consumed != w.consumedIdx {
		w.consumedIdx = consumed
		w.subChunkStart = time.Now()
	}

	var total float64
	for i := 0; i < consumed && i < len(w.chunkLengths); i++ {
		total += w.chunkLengths[i]
	}
	total += time.Since(w.subChunkStart).Seconds()
	return time.Duration(total * float64(time.Second))
}

func (w *SinkWorker) drain() {
	w.mu.Lock()
	var final float64
	for _, d := range w.chunkLengths {
		final += d
	}
	w.mu.Unlock()

	const epsilon = 5 * time.Millisecond
	for w.TimePassed() < time.Duration(final*float64(time.Second))-epsilon {
		if w.generation.Done() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.sink.Close()
}

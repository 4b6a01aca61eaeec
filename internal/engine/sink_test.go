package engine

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink is an in-memory Sink that "consumes" queued chunks only when
// a test calls consume, so SinkWorker.TimePassed advances without a
// real device.
type fakeSink struct {
	mu      sync.Mutex
	opened  bool
	playing bool
	volume  float32
	volumes []float32 // every value SetVolume has seen, in order
	queue   []float64 // seconds per queued chunk
	closed  bool
}

func (s *fakeSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *fakeSink) Play()  { s.mu.Lock(); s.playing = true; s.mu.Unlock() }
func (s *fakeSink) Pause() { s.mu.Lock(); s.playing = false; s.mu.Unlock() }

func (s *fakeSink) SetVolume(v float32) {
	s.mu.Lock()
	s.volume = v
	s.volumes = append(s.volumes, v)
	s.mu.Unlock()
}

func (s *fakeSink) Append(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, float64(len(samples)/Channels)/8000)
	return nil
}

func (s *fakeSink) QueuedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// consume pops n queued chunks, simulating the device draining them.
func (s *fakeSink) consume(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.queue) {
		n = len(s.queue)
	}
	s.queue = s.queue[n:]
}

func TestSinkWorker_StartGating(t *testing.T) {
	knobs := testKnobs()
	knobs.StartSinkChunks = 2
	knobs.MaxSinkChunks = 100
	knobs.ResumeFadeMs = 0

	sink := &fakeSink{}
	gen := NewGeneration()
	logger := log.New(io.Discard)

	w, err := NewSinkWorker(knobs, sink, gen, logger)
	require.NoError(t, err)

	in := make(chan Chunk, 4)
	go w.Run(in, 1)

	in <- Chunk{Samples: constantStereoFrames(80, 0.1, 0.1), DurationSeconds: 0.01}
	time.Sleep(10 * time.Millisecond)
	sink.mu.Lock()
	playing := sink.playing
	sink.mu.Unlock()
	assert.False(t, playing, "must not play before start_sink_chunks reached")

	in <- Chunk{Samples: constantStereoFrames(80, 0.1, 0.1), DurationSeconds: 0.01}
	time.Sleep(10 * time.Millisecond)
	sink.mu.Lock()
	playing = sink.playing
	sink.mu.Unlock()
	assert.True(t, playing)

	close(in)
}

func TestSinkWorker_PauseRampsDownThroughIntermediateVolumes(t *testing.T) {
	knobs := testKnobs()
	knobs.PauseFadeMs = 20

	sink := &fakeSink{}
	gen := NewGeneration()
	logger := log.New(io.Discard)

	w, err := NewSinkWorker(knobs, sink, gen, logger)
	require.NoError(t, err)

	w.setVolume(1)
	w.Pause()

	sink.mu.Lock()
	volumes := append([]float32(nil), sink.volumes...)
	playing := sink.playing
	sink.mu.Unlock()

	assert.False(t, playing)
	require.NotEmpty(t, volumes)
	assert.Equal(t, float32(0), volumes[len(volumes)-1])

	// The ramp must pass through values strictly between the starting
	// volume and silence, not jump straight to zero.
	sawIntermediate := false
	for _, v := range volumes {
		if v > 0 && v < 1 {
			sawIntermediate = true
		}
	}
	assert.True(t, sawIntermediate, "pause fade must ramp, not snap to zero")
}

func TestSinkWorker_TimePassedMonotonic(t *testing.T) {
	knobs := testKnobs()
	knobs.StartSinkChunks = 1
	knobs.MaxSinkChunks = 100
	knobs.ResumeFadeMs = 0

	sink := &fakeSink{}
	gen := NewGeneration()
	logger := log.New(io.Discard)

	w, err := NewSinkWorker(knobs, sink, gen, logger)
	require.NoError(t, err)

	in := make(chan Chunk, 4)
	go w.Run(in, 1)

	in <- Chunk{Samples: constantStereoFrames(8000, 0.1, 0.1), DurationSeconds: 1}
	time.Sleep(5 * time.Millisecond)

	first := w.TimePassed()
	sink.consume(1)
	time.Sleep(5 * time.Millisecond)
	second := w.TimePassed()

	assert.GreaterOrEqual(t, second, first)
	close(in)
}

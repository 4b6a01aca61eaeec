package audio

import "sync"

// NullSink discards everything appended to it and reports its queue as
// always empty, so a SinkWorker drains as fast as the mixer can
// produce chunks. Used by protplay --benchmark and --decode-only, which
// run the full pipeline without a real device. The --scan-durations /
// --probe-only / --verify-only modes use the codec layer directly and
// build no sink at all.
type NullSink struct {
	mu      sync.Mutex
	opened  bool
	playing bool
	volume  float32
	closed  bool

	// ChunksSeen counts every Append call, for throughput reporting.
	ChunksSeen int
	FramesSeen int
}

func NewNullSink() *NullSink { return &NullSink{} }

func (s *NullSink) Open() error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *NullSink) Play()  { s.mu.Lock(); s.playing = true; s.mu.Unlock() }
func (s *NullSink) Pause() { s.mu.Lock(); s.playing = false; s.mu.Unlock() }

func (s *NullSink) SetVolume(v float32) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *NullSink) Append(samples []float32) error {
	s.mu.Lock()
	s.ChunksSeen++
	s.FramesSeen += len(samples) / 2
	s.mu.Unlock()
	return nil
}

// QueuedChunks is always zero: nothing is ever actually queued for a
// device, so the sink worker never throttles on it.
func (s *NullSink) QueuedChunks() int { return 0 }

func (s *NullSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Package audio provides the concrete engine.Sink implementations:
// a real device backed by PortAudio, and a null sink for benchmark and
// decode-only runs that never touch a device at all.
package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/doismellburning/protplay/internal/engine"
)

func float32bits(v float32) uint32    { return math.Float32bits(v) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// PortAudioSink drives a real output device through
// github.com/gordonklaus/portaudio's callback-driven stream API. The
// device callback copies from a queue of appended chunks; an empty
// queue renders silence rather than blocking the I/O thread.
type PortAudioSink struct {
	sampleRate int
	frames     int

	stream *portaudio.Stream

	mu       sync.Mutex
	queue    [][]float32 // one entry per Append'd chunk, consumed front-to-back
	frontPos int         // frames already consumed from queue[0]

	volume atomic.Uint32 // float32 bits
}

// NewPortAudioSink returns a sink that will render sampleRate, stereo
// audio in framesPerBuffer-sized device callbacks.
func NewPortAudioSink(sampleRate, framesPerBuffer int) *PortAudioSink {
	s := &PortAudioSink{sampleRate: sampleRate, frames: framesPerBuffer}
	s.volume.Store(0)
	return s
}

func (s *PortAudioSink) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audio: portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, engine.Channels, float64(s.sampleRate), s.frames, s.callback)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("audio: open default stream: %w", err)
	}
	s.stream = stream
	return nil
}

// callback is invoked by PortAudio's I/O thread to fill one device
// buffer; an empty queue renders silence rather than blocking.
func (s *PortAudioSink) callback(out []float32) {
	vol := float32frombits(s.volume.Load())

	s.mu.Lock()
	defer s.mu.Unlock()

	i := 0
	for i < len(out) {
		if len(s.queue) == 0 {
			for ; i < len(out); i++ {
				out[i] = 0
			}
			return
		}
		front := s.queue[0]
		remaining := len(front) - s.frontPos
		n := len(out) - i
		if n > remaining {
			n = remaining
		}
		for j := 0; j < n; j++ {
			out[i+j] = front[s.frontPos+j] * vol
		}
		i += n
		s.frontPos += n
		if s.frontPos >= len(front) {
			s.queue = s.queue[1:]
			s.frontPos = 0
		}
	}
}

func (s *PortAudioSink) Play()  { s.stream.Start() }
func (s *PortAudioSink) Pause() { s.stream.Stop() }

func (s *PortAudioSink) SetVolume(v float32) {
	s.volume.Store(float32bits(v))
}

func (s *PortAudioSink) Append(samples []float32) error {
	cp := append([]float32(nil), samples...)
	s.mu.Lock()
	s.queue = append(s.queue, cp)
	s.mu.Unlock()
	return nil
}

func (s *PortAudioSink) QueuedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *PortAudioSink) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}

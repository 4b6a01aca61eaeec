package engine

import "sync"

// Ring is a bounded, single-producer/single-consumer FIFO of
// interleaved stereo f32 frames. It is the only thing shared between a
// decoder worker and the mix scheduler for one runtime key -- each
// Ring owns its own lock, never a global map lock, so decoders and the
// mixer never contend across unrelated keys.
//
// Storage is a single pre-sized slice of float32, reused as a circular
// buffer; Push and PopUpTo never allocate once the Ring is built.
type Ring struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	buf        []float32 // capacityFrames * Channels
	head       int       // frame index of oldest sample
	lenFrames  int       // frames currently buffered
	capFrames  int
	aborted    bool
	scratch    []float32 // PopUpTo's reusable output buffer, capacityFrames * Channels
}

// NewRing allocates a Ring that can hold capFrames stereo frames.
func NewRing(capFrames int) *Ring {
	if capFrames <= 0 {
		capFrames = 1
	}
	r := &Ring{
		buf:       make([]float32, capFrames*Channels),
		capFrames: capFrames,
		scratch:   make([]float32, capFrames*Channels),
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// PushResult is the outcome of a Push call.
type PushResult int

const (
	// PushOK means every frame was written.
	PushOK PushResult = iota
	// PushAborted means the ring was aborted before all frames could
	// be written; the caller should unwind without retrying.
	PushAborted
)

// Push writes every frame in samples (interleaved, len a multiple of
// Channels) into the ring, blocking while it is full. It returns
// PushAborted, writing nothing further, once Abort has been called.
func (r *Ring) Push(samples []float32) PushResult {
	frames := len(samples) / Channels
	written := 0

	r.mu.Lock()
	defer r.mu.Unlock()

	for written < frames {
		if r.aborted {
			return PushAborted
		}
		free := r.capFrames - r.lenFrames
		if free == 0 {
			r.notFull.Wait()
			continue
		}

		n := frames - written
		if n > free {
			n = free
		}

		tail := (r.head + r.lenFrames) % r.capFrames
		for i := 0; i < n; i++ {
			slot := (tail + i) % r.capFrames
			copy(r.buf[slot*Channels:slot*Channels+Channels], samples[(written+i)*Channels:(written+i+1)*Channels])
		}
		r.lenFrames += n
		written += n
		r.notEmpty.Signal()
	}

	return PushOK
}

// PopUpTo returns up to n frames (interleaved) from the head of the
// ring without blocking. An empty result is legal and does not mean
// the ring is done -- only that nothing is buffered right now.
//
// The returned slice aliases the Ring's own scratch buffer and is only
// valid until the next PopUpTo call on this Ring. That's safe because
// a Ring has exactly one consumer, which the mix scheduler always
// drains synchronously (copied into the premix buffer) before popping
// again; it must not be retained past the call that produced it.
func (r *Ring) PopUpTo(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.lenFrames {
		n = r.lenFrames
	}
	if n <= 0 {
		return nil
	}

	out := r.scratch[:n*Channels]
	for i := 0; i < n; i++ {
		slot := (r.head + i) % r.capFrames
		copy(out[i*Channels:i*Channels+Channels], r.buf[slot*Channels:slot*Channels+Channels])
	}
	r.head = (r.head + n) % r.capFrames
	r.lenFrames -= n
	r.notFull.Signal()
	return out
}

// Len returns the instantaneous buffered frame count. It may race a
// concurrent Push/PopUpTo but is safe to use for the waiting
// heuristics in the mix scheduler, which re-check after waking.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenFrames
}

// IsEmpty reports whether the ring currently holds no frames.
func (r *Ring) IsEmpty() bool {
	return r.Len() == 0
}

// Abort unblocks any pending Push and causes future Push calls to
// return PushAborted immediately.
func (r *Ring) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// NotifyConsumer wakes a producer blocked on a full ring, e.g. after an
// external event changes whether more space is expected soon.
func (r *Ring) NotifyConsumer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFull.Broadcast()
}

// NotifyProducer wakes a consumer that may be waiting on this ring's
// condvar. The mix scheduler does not wait on it: its chunk-sizing wait
// is a short sleep.
func (r *Ring) NotifyProducer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notEmpty.Broadcast()
}

package engine

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Chunk is what the mix scheduler hands to the sink worker: interleaved
// stereo float32 samples and their duration in seconds.
type Chunk struct {
	Samples         []float32
	DurationSeconds float64

	release func()
}

// Release returns this chunk's backing buffer to the mixer's buffer
// pool. The sink worker calls it once Samples has been handed to the
// device (which copies synchronously -- see portaudio_sink.go), so the
// mix scheduler never allocates a fresh buffer for a chunk it could
// instead recycle. A Chunk with no release callback treats it as a
// no-op, which is always true for chunks built by tests.
func (c Chunk) Release() {
	if c.release != nil {
		c.release()
	}
}

// DecoderSpawner is how the mix scheduler asks for a new decoder
// worker when a shuffle event replaces a slot's source, or at startup
// for the initial slot set. It owns ring creation and worker lifetime;
// the mixer only ever talks to the ring it gets back.
type DecoderSpawner interface {
	SpawnDecoder(key RuntimeKey, source SourceSpec, startMs int64) *Ring
}

type fadeState struct {
	ring           *Ring
	weight         float32
	gain           [Channels]float32
	budgetFrames   int
	consumedFrames int
}

// resetRequest carries a seek/selection-change reset into the mixer
// goroutine; it is the only cross-goroutine signal besides the pending
// chain slot and the generation's abort flag.
type resetRequest struct {
	startMs int64
	done    chan struct{}
}

// Mixer is the mix scheduler: it consumes per-track rings, applies
// gain/crossfade, clips to shuffle-event boundaries, runs the DSP
// chain and emits chunks to the sink. Chunk size follows ring
// availability, event boundaries and batch alignment, so it varies.
type Mixer struct {
	knobs      Knobs
	schedule   *ScheduleModel
	spawner    DecoderSpawner
	generation *Generation
	logger     *log.Logger

	out chan Chunk

	slots  []*TrackSlot
	rings  map[RuntimeKey]*Ring
	fading map[RuntimeKey]*fadeState
	finished *finishedSet

	upcoming  []ScheduleEntry
	nextEvent int

	sourceTimelineFrames int64

	premix     [][]float32
	premixCap  int
	tail       []float32

	activeChain *Chain
	swapChain   *Chain
	swapTotal   int
	swapDone    int

	pendingChain atomic.Pointer[Chain]
	resetCh      chan resetRequest

	bufFree chan []float32
}

// NewMixer builds a mixer that will, once Run is called, spawn the
// initial decoders for plan.Current and begin producing chunks.
func NewMixer(knobs Knobs, schedule *ScheduleModel, plan RuntimePlan, spawner DecoderSpawner, finished *finishedSet, generation *Generation, startMs int64, initialChain *Chain, logger *log.Logger) *Mixer {
	m := &Mixer{
		knobs:      knobs,
		schedule:   schedule,
		spawner:    spawner,
		generation: generation,
		logger:     logger,
		out:        make(chan Chunk, 4),
		rings:      make(map[RuntimeKey]*Ring),
		fading:     make(map[RuntimeKey]*fadeState),
		finished:   finished,
		upcoming:   plan.Upcoming,
		activeChain: initialChain,
		premixCap:  knobs.PremixCapacityChunks,
		resetCh:    make(chan resetRequest, 1),
		bufFree:    make(chan []float32, knobs.PremixCapacityChunks+2),
	}
	if m.activeChain == nil {
		m.activeChain = NewChain()
	}
	m.startSlots(plan.Current, startMs)
	return m
}

func (m *Mixer) startSlots(sources []SourceSpec, startMs int64) {
	m.slots = make([]*TrackSlot, len(sources))
	for i, src := range sources {
		def := m.schedule.SlotDef(i)
		key := NewRuntimeKey()
		ring := m.spawner.SpawnDecoder(key, src, startMs)
		m.rings[key] = ring
		m.slots[i] = &TrackSlot{
			Index:      i,
			Weight:     def.Weight,
			Gain:       def.Gain,
			Source:     src,
			RuntimeKey: key,
			Def:        def,
		}
	}
}

// Out is the receive channel of (chunk, duration) pairs the sink
// worker drains. It closes once the mixer reaches end of stream.
func (m *Mixer) Out() <-chan Chunk { return m.out }

// SetChain stages a new effect chain for an inline, crossfaded swap.
// It is the single-writer side of the hand-off slot; only the mixer
// goroutine ever reads it.
func (m *Mixer) SetChain(chain *Chain) {
	m.pendingChain.Store(chain)
}

// Reset handles a seek or selection change: every effect's state is
// zeroed, the premix FIFO and effect tail are emptied, fading keys are
// cleared, and the mixer resumes from startup buffering at newStartMs.
// It blocks until the reset has been applied by the mixer goroutine.
func (m *Mixer) Reset(newStartMs int64) {
	done := make(chan struct{})
	m.resetCh <- resetRequest{startMs: newStartMs, done: done}
	<-done
}

// Run is the mix scheduler's dedicated-thread loop. It blocks until
// end of stream or generation abort, then closes Out().
func (m *Mixer) Run() {
	defer close(m.out)

	m.waitForStartBuffer()

	for {
		if m.generation.Done() {
			return
		}
		select {
		case req := <-m.resetCh:
			m.applyReset(req)
			m.waitForStartBuffer()
			continue
		default:
		}
		if pending := m.pendingChain.Swap(nil); pending != nil {
			m.beginSwap(pending)
		}

		m.fireDueEvents()

		chunk, ok := m.mixOneChunk()
		if !ok {
			if m.shouldForceEOS() {
				m.drainToEOS()
				return
			}
			m.waitShort()
			continue
		}
		m.premix = append(m.premix, chunk)

		for m.emitOne() {
		}
	}
}

// waitForStartBuffer blocks until every slot's ring holds at least
// StartBufferFrames frames; no chunk may be emitted before then.
func (m *Mixer) waitForStartBuffer() {
	need := m.knobs.StartBufferFrames()
	for {
		if m.generation.Done() {
			return
		}
		ready := true
		for _, slot := range m.slots {
			ring := m.rings[slot.RuntimeKey]
			if ring.Len() < need && !m.finished.isFinished(slot.RuntimeKey) {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// acquireBuf returns a zeroed buffer of length n, reusing one released
// by releaseBuf when one of sufficient capacity is waiting, so the
// steady-state mix loop does not allocate per chunk.
func (m *Mixer) acquireBuf(n int) []float32 {
	select {
	case buf := <-m.bufFree:
		if cap(buf) >= n {
			buf = buf[:n]
			for i := range buf {
				buf[i] = 0
			}
			return buf
		}
	default:
	}
	return make([]float32, n)
}

// releaseBuf returns buf to the pool for a future acquireBuf call. A
// buffer is dropped silently if the pool is momentarily full; pool
// capacity tracks premixCap so in steady state there is always a slot
// waiting for every buffer this mixer has handed out.
func (m *Mixer) releaseBuf(buf []float32) {
	select {
	case m.bufFree <- buf:
	default:
	}
}

func (m *Mixer) currentSourceMs() int64 {
	if m.knobs.SampleRate == 0 {
		return 0
	}
	return m.sourceTimelineFrames * 1000 / int64(m.knobs.SampleRate)
}

// fireDueEvents replaces the affected slots' sources for any upcoming
// shuffle event whose timestamp has arrived, moving their old keys into
// the fading set.
func (m *Mixer) fireDueEvents() {
	for m.nextEvent < len(m.upcoming) && m.upcoming[m.nextEvent].AtMs <= m.currentSourceMs() {
		event := m.upcoming[m.nextEvent]
		for i, newSource := range event.Sources {
			if i >= len(m.slots) {
				continue
			}
			slot := m.slots[i]
			if slot.Source.Equal(newSource) {
				continue
			}
			oldKey := slot.RuntimeKey
			m.fading[oldKey] = &fadeState{
				ring:         m.rings[oldKey],
				weight:       slot.Weight,
				gain:         slot.Gain,
				budgetFrames: msToFrames(m.knobs.ShuffleCrossfadeMs, m.knobs.SampleRate),
			}

			newKey := NewRuntimeKey()
			ring := m.spawner.SpawnDecoder(newKey, newSource, event.AtMs)
			m.rings[newKey] = ring

			slot.RuntimeKey = newKey
			slot.Source = newSource
		}
		m.nextEvent++
	}
}

// mixOneChunk sizes the next chunk against ring availability, the next
// event boundary and premix capacity, and if every active non-finished
// slot can contribute, mixes it and returns true.
func (m *Mixer) mixOneChunk() ([]float32, bool) {
	if len(m.premix) >= m.premixCap {
		return nil, false
	}

	frames := m.knobs.MinMixFrames()
	if frames < 1 {
		frames = 1
	}

	anyContributing := false
	for _, slot := range m.slots {
		ring := m.rings[slot.RuntimeKey]
		finished := m.finished.isFinished(slot.RuntimeKey)
		avail := ring.Len()
		if finished && avail == 0 {
			continue
		}
		anyContributing = true
		if !finished && avail == 0 {
			return nil, false
		}
		if avail < frames {
			frames = avail
		}
	}
	if !anyContributing {
		return nil, false
	}
	// frames is now bounded by every contributing ring's availability;
	// the batch round-up below must never push it back past this bound.
	ringBound := frames

	// eventBound stays -1 (no bound) when no event is pending; the
	// batch round-up below must never push frames past it either, or a
	// chunk would straddle the shuffle boundary.
	eventBound := -1
	if m.nextEvent < len(m.upcoming) {
		nextMs := m.upcoming[m.nextEvent].AtMs
		untilMs := nextMs - m.currentSourceMs()
		if untilMs < 0 {
			untilMs = 0
		}
		untilFrames := int(untilMs * int64(m.knobs.SampleRate) / 1000)
		eventBound = untilFrames
		if untilFrames < frames {
			frames = untilFrames
		}
	}

	if remaining := m.premixCap - len(m.premix); remaining <= 0 {
		return nil, false
	}

	if batch, ok := m.activeChain.PreferredBatchSamples(); ok && batch > 0 && frames%batch != 0 {
		roundedUp := frames + (batch - frames%batch)
		fitsRing := roundedUp <= ringBound
		fitsEvent := eventBound < 0 || roundedUp <= eventBound
		if fitsRing && fitsEvent {
			frames = roundedUp
		} else {
			// Rounding up would either over-read a ring (a silent
			// per-track short PopUpTo) or cross the shuffle boundary;
			// round down instead and let a short/zero chunk fall
			// through to the wait-and-retry path below.
			frames -= frames % batch
		}
	}

	if frames <= 0 {
		return nil, false
	}

	out := m.acquireBuf(frames * Channels)
	for _, slot := range m.slots {
		ring := m.rings[slot.RuntimeKey]
		frame := ring.PopUpTo(frames)
		n := len(frame) / Channels
		for i := 0; i < n; i++ {
			for ch := 0; ch < Channels; ch++ {
				out[i*Channels+ch] += frame[i*Channels+ch] * slot.Weight * slot.Gain[ch]
			}
		}
	}

	for key, fs := range m.fading {
		if fs.ring.IsEmpty() {
			delete(m.fading, key)
			continue
		}
		avail := frames
		if fs.ring.Len() < avail {
			avail = fs.ring.Len()
		}
		frame := fs.ring.PopUpTo(avail)
		n := len(frame) / Channels
		for i := 0; i < n; i++ {
			remaining := fs.budgetFrames - fs.consumedFrames
			if remaining <= 0 {
				break
			}
			fadeGain := float32(remaining) / float32(fs.budgetFrames)
			for ch := 0; ch < Channels; ch++ {
				out[i*Channels+ch] += frame[i*Channels+ch] * fs.weight * fs.gain[ch] * fadeGain
			}
			fs.consumedFrames++
		}
		if fs.consumedFrames >= fs.budgetFrames {
			delete(m.fading, key)
		}
	}

	m.sourceTimelineFrames += int64(frames)
	return out, true
}

// emitOne performs exactly one DSP-stage emission per call -- effect
// tail first, then one premix chunk -- returning true if it produced a
// chunk worth sending (so Run can call it in a tight loop until it has
// nothing left to do this iteration).
func (m *Mixer) emitOne() bool {
	if len(m.tail) > 0 {
		n := m.knobs.MinMixFrames() * Channels
		if n <= 0 || n > len(m.tail) {
			n = len(m.tail)
		}
		m.send(m.tail[:n], nil)
		m.tail = m.tail[n:]
		return true
	}

	if len(m.premix) == 0 {
		return false
	}
	input := m.premix[0]
	m.premix = m.premix[1:]

	processed := m.process(input, false)

	switch {
	case len(processed) == len(input):
		// The common case: either an effect produced a same-length
		// buffer of its own, or the chain has no effects and processed
		// aliases input directly. Either way input is done being read
		// once the chunk has been sent (the sink copies synchronously
		// before returning), so releasing it there is always safe.
		m.send(processed, func() { m.releaseBuf(input) })
	case len(processed) < len(input):
		padded := m.acquireBuf(len(input))
		copy(padded, processed)
		copy(padded[len(processed):], input[len(processed):])
		m.send(padded, func() {
			m.releaseBuf(input)
			m.releaseBuf(padded)
		})
	default:
		m.tail = append(m.tail, processed[len(input):]...)
		m.send(processed[:len(input)], func() { m.releaseBuf(input) })
	}
	return true
}

// safeProcess runs one chain over one chunk, containing any panic from
// an effect to this single call: the DSP must not break audio
// continuity, so a panicking effect yields silence the length of its
// input rather than taking down the mix scheduler goroutine.
func (m *Mixer) safeProcess(chain *Chain, input []float32, drain bool) (out []float32) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("effect chain panicked, emitting silence", "err", r)
			out = make([]float32, len(input))
		}
	}()
	return chain.Process(input, drain)
}

// process runs input through the active chain, or through both chains
// crossfaded if an inline swap is in progress.
func (m *Mixer) process(input []float32, drain bool) []float32 {
	if m.swapChain == nil {
		return m.safeProcess(m.activeChain, input, drain)
	}

	oldOut := m.safeProcess(m.activeChain, input, drain)
	newOut := m.safeProcess(m.swapChain, input, drain)
	n := len(oldOut)
	if len(newOut) < n {
		n = len(newOut)
	}

	// Pre-sized to newOut's full length so the tail append below never
	// triggers a second allocation: swaps are bounded by swapTotal, not
	// steady-state, so this buffer is deliberately left outside the
	// pool (emitOne has no way to attribute it back to a single input).
	out := make([]float32, n, len(newOut))
	frames := n / Channels
	for i := 0; i < frames; i++ {
		remaining := m.swapTotal - m.swapDone
		if remaining < 0 {
			remaining = 0
		}
		g := float32(0)
		if m.swapTotal > 0 {
			g = float32(remaining) / float32(m.swapTotal)
		}
		for ch := 0; ch < Channels; ch++ {
			idx := i*Channels + ch
			out[idx] = oldOut[idx]*g + newOut[idx]*(1-g)
		}
		m.swapDone++
	}

	if m.swapDone >= m.swapTotal {
		m.activeChain = m.swapChain
		m.swapChain = nil
		m.swapTotal = 0
		m.swapDone = 0
	}

	if extra := len(newOut) - n; extra > 0 {
		out = append(out, newOut[n:]...)
	}
	return out
}

func (m *Mixer) beginSwap(next *Chain) {
	m.swapChain = next
	m.swapTotal = msToFrames(m.knobs.InlineTransitionMs, m.knobs.SampleRate)
	if m.swapTotal <= 0 {
		m.swapTotal = 1
	}
	m.swapDone = 0
}

// send hands samples to the sink worker, attaching release so the
// buffer pool gets samples back once the sink has finished with it --
// including on the abort path, where the chunk is never read at all.
func (m *Mixer) send(samples []float32, release func()) {
	if len(samples) == 0 {
		if release != nil {
			release()
		}
		return
	}
	chunk := Chunk{
		Samples:         samples,
		DurationSeconds: float64(len(samples)/Channels) / float64(m.knobs.SampleRate),
		release:         release,
	}
	select {
	case m.out <- chunk:
	case <-m.generation.DoneCh():
		if release != nil {
			release()
		}
	}
}

// shouldForceEOS covers both the ordinary end-of-stream drain (every
// slot finished, no events left to fire) and the stall safeguard
// (every slot finished with events still pending, which can only mean
// those events will never match any live slot). The two share the same
// trigger, every slot finished and empty with nothing buffered, so
// there is one check, not two.
func (m *Mixer) shouldForceEOS() bool {
	if len(m.premix) > 0 || len(m.tail) > 0 {
		return false
	}
	for _, slot := range m.slots {
		if m.rings[slot.RuntimeKey].Len() > 0 {
			return false
		}
		if !m.finished.isFinished(slot.RuntimeKey) {
			return false
		}
	}
	for _, fs := range m.fading {
		if !fs.ring.IsEmpty() {
			return false
		}
	}
	return true
}

func (m *Mixer) drainToEOS() {
	for {
		out := m.process(nil, true)
		if len(out) == 0 {
			return
		}
		m.send(out, nil)
	}
}

func (m *Mixer) waitShort() {
	time.Sleep(5 * time.Millisecond)
}

func (m *Mixer) applyReset(req resetRequest) {
	m.activeChain.ResetState()
	if m.swapChain != nil {
		m.swapChain.ResetState()
		m.swapChain = nil
	}
	m.premix = nil
	m.tail = nil
	m.fading = make(map[RuntimeKey]*fadeState)
	m.sourceTimelineFrames = req.startMs * int64(m.knobs.SampleRate) / 1000
	close(req.done)
}

package engine

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSpawner hands out already-filled rings instead of launching real
// decoder workers, so mixer tests are deterministic and don't touch the
// filesystem.
type fakeSpawner struct {
	frames map[string][]float32 // source path -> pre-decoded interleaved stereo samples
	cap    int
}

func (s *fakeSpawner) SpawnDecoder(key RuntimeKey, source SourceSpec, startMs int64) *Ring {
	capFrames := s.cap
	if capFrames <= 0 {
		capFrames = 4096
	}
	r := NewRing(capFrames)
	data := s.frames[source.FilePath]
	if len(data) > 0 {
		go func() {
			r.Push(data)
		}()
	}
	return r
}

func testKnobs() Knobs {
	k := DefaultKnobs()
	k.SampleRate = 8000
	k.StartBufferMs = 10
	k.MinMixMs = 10
	k.RingCapacityMs = 1000
	k.PremixCapacityChunks = 32
	return k
}

func constantStereoFrames(n int, l, r float32) []float32 {
	out := make([]float32, n*Channels)
	for i := 0; i < n; i++ {
		out[i*Channels] = l
		out[i*Channels+1] = r
	}
	return out
}

func drainAll(t *testing.T, out <-chan Chunk, timeout time.Duration) []float32 {
	t.Helper()
	var all []float32
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return all
			}
			all = append(all, chunk.Samples...)
		case <-deadline:
			t.Fatal("timed out draining mixer output")
			return nil
		}
	}
}

func TestMixer_SingleTrackGapless(t *testing.T) {
	knobs := testKnobs()
	frames := 4000
	samples := constantStereoFrames(frames, 0.25, 0.25)

	defs := []*TrackDef{{
		Candidates:      []SourceSpec{{FilePath: "one.wav"}},
		SelectionsCount: 1,
		Weight:          1,
		Gain:            [Channels]float32{1, 1},
	}}
	sm := BuildSchedule(defs, 1)
	plan := sm.RuntimePlan(0)

	spawner := &fakeSpawner{frames: map[string][]float32{"one.wav": samples}, cap: frames * 2}
	finished := newFinishedSet()
	gen := NewGeneration()
	logger := log.New(io.Discard)

	mixer := NewMixer(knobs, sm, plan, spawner, finished, gen, 0, NewChain(), logger)

	// Let the fake decoder finish quickly so the mixer can reach EOS.
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, slot := range mixer.slots {
			finished.mark(slot.RuntimeKey)
		}
	}()

	go mixer.Run()
	out := drainAll(t, mixer.Out(), 2*time.Second)

	require.Len(t, out, frames*Channels)
	for i := 0; i < frames; i++ {
		assert.InDelta(t, 0.25, out[i*Channels], 1e-6)
		assert.Equal(t, out[i*Channels], out[i*Channels+1])
	}
}

func TestMixer_OppositePhaseCancels(t *testing.T) {
	knobs := testKnobs()
	frames := 2000
	a := constantStereoFrames(frames, 0.5, 0.5)
	b := constantStereoFrames(frames, -0.5, -0.5)

	defs := []*TrackDef{
		{Candidates: []SourceSpec{{FilePath: "a.wav"}}, SelectionsCount: 1, Weight: 1, Gain: [Channels]float32{1, 1}},
		{Candidates: []SourceSpec{{FilePath: "b.wav"}}, SelectionsCount: 1, Weight: 1, Gain: [Channels]float32{1, 1}},
	}
	sm := BuildSchedule(defs, 1)
	plan := sm.RuntimePlan(0)

	spawner := &fakeSpawner{frames: map[string][]float32{"a.wav": a, "b.wav": b}, cap: frames * 2}
	finished := newFinishedSet()
	gen := NewGeneration()
	logger := log.New(io.Discard)

	mixer := NewMixer(knobs, sm, plan, spawner, finished, gen, 0, NewChain(), logger)
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, slot := range mixer.slots {
			finished.mark(slot.RuntimeKey)
		}
	}()

	go mixer.Run()
	out := drainAll(t, mixer.Out(), 2*time.Second)

	for _, v := range out {
		assert.InDelta(t, 0, v, 1e-6)
	}
}

// fakeSyncSpawner hands out already-filled rings synchronously (no
// background goroutine), so a test driving fireDueEvents/mixOneChunk
// directly can rely on a new slot's ring being fully populated the
// instant SpawnDecoder returns.
type fakeSyncSpawner struct {
	rings map[SourceSpec]*Ring
}

func (s *fakeSyncSpawner) SpawnDecoder(key RuntimeKey, source SourceSpec, startMs int64) *Ring {
	if r, ok := s.rings[source]; ok {
		return r
	}
	return NewRing(1)
}

// TestMixer_ShuffleCrossfadeExactBoundary drives fireDueEvents and
// mixOneChunk directly: a shuffle event must land its boundary on an
// exact chunk edge, and the 5ms after it must blend outgoing and
// incoming sources by a linear ramp before the outgoing key drops out
// of the fading set entirely.
func TestMixer_ShuffleCrossfadeExactBoundary(t *testing.T) {
	knobs := testKnobs()
	knobs.SampleRate = 1000
	knobs.MinMixMs = 50          // target chunk: 50 frames
	knobs.ShuffleCrossfadeMs = 5 // fade budget: 5 frames at this rate

	oldKey := NewRuntimeKey()
	oldRing := NewRing(10000)
	require.Equal(t, PushOK, oldRing.Push(constantStereoFrames(2000, 1, 0)))

	newSpec := SourceSpec{FilePath: "new.wav"}
	newRing := NewRing(10000)
	require.Equal(t, PushOK, newRing.Push(constantStereoFrames(2000, 0, 1)))

	spawner := &fakeSyncSpawner{rings: map[SourceSpec]*Ring{newSpec: newRing}}

	m := &Mixer{
		knobs:       knobs,
		spawner:     spawner,
		generation:  NewGeneration(),
		logger:      log.New(io.Discard),
		out:         make(chan Chunk, 4),
		rings:       map[RuntimeKey]*Ring{oldKey: oldRing},
		fading:      make(map[RuntimeKey]*fadeState),
		finished:    newFinishedSet(),
		activeChain: NewChain(),
		premixCap:   8,
		bufFree:     make(chan []float32, 8),
		slots: []*TrackSlot{{
			Index:      0,
			Weight:     1,
			Gain:       [Channels]float32{1, 1},
			Source:     SourceSpec{FilePath: "old.wav"},
			RuntimeKey: oldKey,
		}},
		upcoming: []ScheduleEntry{{AtMs: 1000, Sources: []SourceSpec{newSpec}}},
	}

	// 995ms in: the event is 5ms away, so the chunk must clip to
	// exactly 5 frames instead of the 50-frame target, and the event
	// must not have fired yet.
	m.sourceTimelineFrames = 995
	m.fireDueEvents()
	require.Equal(t, 0, m.nextEvent, "event must not fire before its timestamp")

	preBoundary, ok := m.mixOneChunk()
	require.True(t, ok)
	require.Len(t, preBoundary, 5*Channels, "chunk must clip exactly to the event boundary")
	for i := 0; i < 5; i++ {
		assert.Equal(t, float32(1), preBoundary[i*Channels], "frame %d: must be exclusively the old source", i)
		assert.Equal(t, float32(0), preBoundary[i*Channels+1], "frame %d: must be exclusively the old source", i)
	}
	require.EqualValues(t, 1000, m.sourceTimelineFrames, "source timeline must land exactly on the shuffle boundary")

	// The source timeline now sits exactly at the event's timestamp:
	// fireDueEvents must fire it, move the old key into the fading set,
	// and replace the slot's source/runtime key with the new one.
	m.fireDueEvents()
	require.Equal(t, 1, m.nextEvent)
	require.Contains(t, m.fading, oldKey)
	require.Equal(t, newSpec, m.slots[0].Source)
	require.NotEqual(t, oldKey, m.slots[0].RuntimeKey)

	postBoundary, ok := m.mixOneChunk()
	require.True(t, ok)
	require.Len(t, postBoundary, 50*Channels)

	// The first budgetFrames (5) frames blend old and new by the linear
	// fade ramp; the new source is always present at full weight, the
	// old source's contribution decays as (budget-consumed)/budget.
	for i := 0; i < 5; i++ {
		fadeGain := float32(5-i) / 5
		assert.InDelta(t, fadeGain, postBoundary[i*Channels], 1e-6, "frame %d fade gain", i)
		assert.InDelta(t, 1, postBoundary[i*Channels+1], 1e-6, "frame %d new-source channel", i)
	}
	// 5ms after the boundary, the fade is fully consumed: output must
	// be exclusively the new source.
	for i := 5; i < 50; i++ {
		assert.Equal(t, float32(0), postBoundary[i*Channels], "frame %d: must be exclusively the new source", i)
		assert.Equal(t, float32(1), postBoundary[i*Channels+1], "frame %d: must be exclusively the new source", i)
	}
	assert.NotContains(t, m.fading, oldKey, "outgoing key must drop out of the fading set once its budget is spent")
}

// fixedBatchEffect is a no-op Effect whose only role is to report a
// fixed PreferredBatchSamples, so tests can exercise the mix stage's
// batch-alignment rounding without a real convolution reverb.
type fixedBatchEffect struct {
	batch int
}

func (fixedBatchEffect) Process(input []float32, drain bool) []float32 { return input }
func (fixedBatchEffect) ResetState()                                   {}
func (e fixedBatchEffect) PreferredBatchSamples() (int, bool)          { return e.batch, true }

// TestMixer_BatchRoundingRespectsEventBoundary: when the chain's
// preferred batch size doesn't evenly divide the frame count a shuffle
// event would otherwise allow, the mixer must round *down* rather than
// push the chunk past the event boundary or past a ring's
// availability.
func TestMixer_BatchRoundingRespectsEventBoundary(t *testing.T) {
	knobs := testKnobs()
	knobs.SampleRate = 1000
	knobs.MinMixMs = 50 // target chunk: 50 frames

	key := NewRuntimeKey()
	ring := NewRing(10000)
	require.Equal(t, PushOK, ring.Push(constantStereoFrames(2000, 0.3, 0.3)))

	m := &Mixer{
		knobs:       knobs,
		generation:  NewGeneration(),
		logger:      log.New(io.Discard),
		out:         make(chan Chunk, 4),
		rings:       map[RuntimeKey]*Ring{key: ring},
		fading:      make(map[RuntimeKey]*fadeState),
		finished:    newFinishedSet(),
		activeChain: NewChain(fixedBatchEffect{batch: 16}),
		premixCap:   8,
		bufFree:     make(chan []float32, 8),
		slots: []*TrackSlot{{
			Index:      0,
			Weight:     1,
			Gain:       [Channels]float32{1, 1},
			Source:     SourceSpec{FilePath: "a.wav"},
			RuntimeKey: key,
		}},
		// Event 37 frames away: not a multiple of the batch size, so
		// rounding up (to 48) would cross it.
		upcoming: []ScheduleEntry{{AtMs: 37, Sources: []SourceSpec{{FilePath: "a.wav"}}}},
	}

	chunk, ok := m.mixOneChunk()
	require.True(t, ok)
	require.Len(t, chunk, 32*Channels, "must round down to 32 (<=37) rather than up to 48 (>37)")
	assert.LessOrEqual(t, len(chunk)/Channels, 37)
	assert.Zero(t, len(chunk)/Channels%16, "chunk size must still be a multiple of the preferred batch")
}

// TestMixer_BatchRoundingRespectsRingAvailability is the second half of
// the same regression: when a ring holds fewer frames than the
// rounded-up batch size would need, the mixer must not request more
// frames than the ring can supply (which would silently short-read one
// track's contribution); it rounds down instead.
func TestMixer_BatchRoundingRespectsRingAvailability(t *testing.T) {
	knobs := testKnobs()
	knobs.SampleRate = 1000
	knobs.MinMixMs = 50 // target chunk: 50 frames

	key := NewRuntimeKey()
	ring := NewRing(100)
	// Only 20 frames buffered -- less than the 32-frame rounded-up
	// batch a naive implementation would request.
	require.Equal(t, PushOK, ring.Push(constantStereoFrames(20, 0.3, 0.3)))

	m := &Mixer{
		knobs:       knobs,
		generation:  NewGeneration(),
		logger:      log.New(io.Discard),
		out:         make(chan Chunk, 4),
		rings:       map[RuntimeKey]*Ring{key: ring},
		fading:      make(map[RuntimeKey]*fadeState),
		finished:    newFinishedSet(),
		activeChain: NewChain(fixedBatchEffect{batch: 16}),
		premixCap:   8,
		bufFree:     make(chan []float32, 8),
		slots: []*TrackSlot{{
			Index:      0,
			Weight:     1,
			Gain:       [Channels]float32{1, 1},
			Source:     SourceSpec{FilePath: "a.wav"},
			RuntimeKey: key,
		}},
	}

	chunk, ok := m.mixOneChunk()
	require.True(t, ok)
	require.Len(t, chunk, 16*Channels, "must round down to 16 (<=20 available) rather than up to 32")
	assert.Equal(t, 4, ring.Len(), "must not have over-read the ring")
}

// TestMixer_ResetIdempotent drives applyReset directly: two consecutive
// resets must leave the mixer in the same state as one (premix and tail
// emptied, fading keys cleared, source timeline rebased to the new
// start).
func TestMixer_ResetIdempotent(t *testing.T) {
	knobs := testKnobs()

	m := &Mixer{
		knobs:       knobs,
		generation:  NewGeneration(),
		logger:      log.New(io.Discard),
		out:         make(chan Chunk, 4),
		rings:       make(map[RuntimeKey]*Ring),
		fading:      map[RuntimeKey]*fadeState{NewRuntimeKey(): {ring: NewRing(4)}},
		finished:    newFinishedSet(),
		activeChain: NewChain(NewBiquad(BiquadParams{Kind: BiquadLowpass, FreqHz: 1000, Q: 0.707, SampleHz: 8000})),
		premix:      [][]float32{make([]float32, 8)},
		tail:        make([]float32, 4),
		premixCap:   8,
		bufFree:     make(chan []float32, 8),
	}
	m.sourceTimelineFrames = 12345

	reset := func() {
		done := make(chan struct{})
		m.applyReset(resetRequest{startMs: 2000, done: done})
		<-done
	}
	reset()

	assert.Empty(t, m.premix)
	assert.Empty(t, m.tail)
	assert.Empty(t, m.fading)
	wantFrames := int64(2000) * int64(knobs.SampleRate) / 1000
	assert.Equal(t, wantFrames, m.sourceTimelineFrames)

	reset()
	assert.Empty(t, m.premix)
	assert.Empty(t, m.tail)
	assert.Empty(t, m.fading)
	assert.Equal(t, wantFrames, m.sourceTimelineFrames)
}

func TestMixer_StallForcesEOS(t *testing.T) {
	knobs := testKnobs()
	knobs.StartBufferMs = 0

	defs := []*TrackDef{{
		Candidates:      []SourceSpec{{FilePath: "short.wav"}},
		SelectionsCount: 1,
		Weight:          1,
		Gain:            [Channels]float32{1, 1},
		ShuffleMs:       []int64{5000}, // an event that can never be reached
	}}
	sm := BuildSchedule(defs, 1)
	plan := sm.RuntimePlan(0)

	spawner := &fakeSpawner{frames: map[string][]float32{"short.wav": constantStereoFrames(100, 0.1, 0.1)}, cap: 4096}
	finished := newFinishedSet()
	gen := NewGeneration()
	logger := log.New(io.Discard)

	mixer := NewMixer(knobs, sm, plan, spawner, finished, gen, 0, NewChain(), logger)
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, slot := range mixer.slots {
			finished.mark(slot.RuntimeKey)
		}
	}()

	go mixer.Run()
	drainAll(t, mixer.Out(), 2*time.Second) // must terminate, not hang
}

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Player is the top-level orchestrator: it owns the current generation,
// wires the schedule model, mix scheduler and sink worker together, and
// exposes the playback control surface (Play, Seek, Pause, Resume,
// Refresh).
type Player struct {
	knobs  Knobs
	sink   Sink
	logger *log.Logger

	volume float32

	generation *Generation
	finished   *finishedSet
	mixer      *Mixer
	sinkWorker *SinkWorker
	spawner    *playerSpawner
	schedule   *ScheduleModel
	chain      *Chain
	container  ContainerModel
	done       chan struct{}
}

// NewPlayer builds a player from already-loaded track definitions and a
// freshly opened sink device. container is nil when defs were built
// from standalone files rather than a .prot/.mka container.
func NewPlayer(knobs Knobs, defs []*TrackDef, container ContainerModel, sink Sink, logger *log.Logger) *Player {
	return &Player{
		knobs:     knobs,
		sink:      sink,
		logger:    logger,
		volume:    1,
		schedule:  BuildSchedule(defs, resolveSeed(knobs.RNGSeed)),
		chain:     NewChain(),
		container: container,
	}
}

// resolveSeed implements Knobs.RNGSeed's documented "zero means seed
// from the OS" contract: a caller-supplied nonzero seed always wins
// (reproducible runtime_plan(t)); zero draws fresh entropy instead of
// degenerating to rand's own fixed default seed.
func resolveSeed(configured int64) int64 {
	if configured != 0 {
		return configured
	}
	return time.Now().UnixNano()
}

// SetChain installs the effect chain used by any generation started
// from this point on, and stages an inline swap if a generation is
// already running.
func (p *Player) SetChain(chain *Chain) {
	p.chain = chain
	if p.mixer != nil {
		p.mixer.SetChain(chain)
	}
}

// Play starts a fresh generation at startMs, aborting whatever
// generation (if any) is currently running.
func (p *Player) Play(startMs int64) error {
	p.abortCurrent()
	return p.startGeneration(startMs)
}

// Seek fades the sink out, kills the current generation (which causes
// the mix scheduler to terminate), then starts a fresh generation at
// newMs and fades back in.
func (p *Player) Seek(newMs int64) error {
	if p.sinkWorker != nil {
		p.sinkWorker.fadeVolume(0, p.knobs.SeekFadeOutMs)
	}
	p.abortCurrent()
	if err := p.startGeneration(newMs); err != nil {
		return err
	}
	go func() {
		time.Sleep(time.Duration(p.knobs.StartBufferMs) * time.Millisecond)
		p.sinkWorker.fadeVolume(p.volume, p.knobs.SeekFadeInMs)
	}()
	return nil
}

// abortCurrent marks the running generation done and unblocks every
// ring it owns. Generation.Done alone only stops a decoder worker
// between packets; a worker parked in Ring.Push against a full ring
// needs the ring's own abort broadcast to wake it immediately.
func (p *Player) abortCurrent() {
	if p.generation == nil {
		return
	}
	p.generation.Abort()
	if p.spawner != nil {
		p.spawner.AbortAll()
	}
}

// Pause ramps the sink to silence and pauses the device.
func (p *Player) Pause() {
	if p.sinkWorker != nil {
		p.sinkWorker.Pause()
	}
}

// Resume un-pauses and ramps back to the configured volume.
func (p *Player) Resume() {
	if p.sinkWorker != nil {
		p.sinkWorker.Resume(p.volume)
	}
}

// SetVolume sets the target volume future fades ramp toward.
func (p *Player) SetVolume(v float32) {
	p.volume = v
}

// Refresh re-reads the track definitions into a new schedule and, if a
// generation is running, aborts it and starts a fresh one on the new
// schedule at the sink worker's TimePassed position.
func (p *Player) Refresh(defs []*TrackDef) {
	nowMs := int64(0)
	if p.sinkWorker != nil {
		nowMs = p.sinkWorker.TimePassed().Milliseconds()
	}
	p.schedule = BuildSchedule(defs, resolveSeed(p.knobs.RNGSeed))
	if p.generation != nil {
		if err := p.Play(nowMs); err != nil {
			p.logger.Error("refresh: restart playback", "err", err)
		}
	}
}

// TimePassed is the sink worker's playback clock, or zero if nothing
// has started.
func (p *Player) TimePassed() time.Duration {
	if p.sinkWorker == nil {
		return 0
	}
	return p.sinkWorker.TimePassed()
}

// Wait blocks until the current generation's sink worker has drained,
// i.e. every slot has reached end of stream and the device has played
// out its queue. It returns immediately if no generation is running.
func (p *Player) Wait() {
	if p.done != nil {
		<-p.done
	}
}

func (p *Player) startGeneration(startMs int64) error {
	generation := NewGeneration()
	finished := newFinishedSet()

	sinkWorker, err := NewSinkWorker(p.knobs, p.sink, generation, p.logger)
	if err != nil {
		return fmt.Errorf("engine: open sink: %w", err)
	}

	plan := p.schedule.RuntimePlan(startMs)
	fastPath := len(plan.Upcoming) == 0
	spawner := newPlayerSpawner(p.knobs, finished, generation, p.logger, p.container, plan.Current, fastPath)
	mixer := NewMixer(p.knobs, p.schedule, plan, spawner, finished, generation, startMs, p.chain, p.logger)

	p.generation = generation
	p.finished = finished
	p.mixer = mixer
	p.sinkWorker = sinkWorker
	p.spawner = spawner
	p.done = make(chan struct{})

	go mixer.Run()
	done := p.done
	go func() {
		sinkWorker.Run(mixer.Out(), p.volume)
		close(done)
	}()
	return nil
}

// playerSpawner is the DecoderSpawner the mixer uses to start decoder
// workers; it owns ring creation so the mixer never has to know how
// big a ring should be. It also implements the shared-container
// fast path: when every initial slot that names a container track
// reads from the one container this player has open, and the runtime
// plan has no upcoming shuffle events, those slots are serviced by one
// SharedContainerWorker instead of one DecoderWorker each -- this is
// the ordinary case (distinct tracks demuxed out of the same open
// `.prot`/`.mka` file), not the degenerate case of two slots drawing
// the identical track id. Sources drawn later by a shuffle event
// always fall back to an individual DecoderWorker, since the fast path
// is only ever eligible at generation start, before any event fires.
type playerSpawner struct {
	knobs      Knobs
	finished   *finishedSet
	generation *Generation
	logger     *log.Logger
	container  ContainerModel

	mu             sync.Mutex
	groupRemaining int
	pending        map[RuntimeKey]SourceSpec
	rings          map[RuntimeKey]*Ring
	allRings       []*Ring
}

// AbortAll wakes every decoder worker this spawner has ever fed a ring
// to, including ones blocked inside Ring.Push against a full buffer.
// Called once per generation, right after Generation.Abort.
func (s *playerSpawner) AbortAll() {
	s.mu.Lock()
	rings := append([]*Ring(nil), s.allRings...)
	s.mu.Unlock()
	for _, ring := range rings {
		ring.Abort()
	}
}

// newPlayerSpawner counts how many of the initial slots are eligible
// for the shared-container fast path -- container-track sources, with
// fastPath true (no upcoming events) -- so SpawnDecoder knows how many
// calls belong to the one shareable group as they arrive one at a
// time. Two or more eligible slots are required; a single container
// slot gets an ordinary DecoderWorker, since there is nothing to share.
func newPlayerSpawner(knobs Knobs, finished *finishedSet, generation *Generation, logger *log.Logger, container ContainerModel, initial []SourceSpec, fastPath bool) *playerSpawner {
	groupRemaining := 0
	if fastPath && container != nil {
		for _, src := range initial {
			if src.IsContainerTrack() {
				groupRemaining++
			}
		}
	}
	if groupRemaining < 2 {
		groupRemaining = 0
	}
	return &playerSpawner{
		knobs:          knobs,
		finished:       finished,
		generation:     generation,
		logger:         logger,
		container:      container,
		groupRemaining: groupRemaining,
		pending:        make(map[RuntimeKey]SourceSpec),
		rings:          make(map[RuntimeKey]*Ring),
	}
}

func (s *playerSpawner) SpawnDecoder(key RuntimeKey, source SourceSpec, startMs int64) *Ring {
	ring := NewRing(s.knobs.RingCapacityFrames())

	s.mu.Lock()
	s.allRings = append(s.allRings, ring)

	if source.IsContainerTrack() && s.groupRemaining > 0 {
		s.pending[key] = source
		s.rings[key] = ring
		s.groupRemaining--

		if s.groupRemaining == 0 {
			worker := &SharedContainerWorker{
				Tracks:     s.pending,
				Rings:      s.rings,
				StartMs:    startMs,
				Finished:   s.finished,
				Generation: s.generation,
				EOSTimeout: s.knobs.TrackEOSTimeout(),
				Logger:     s.logger,
				Container:  s.container,
			}
			s.pending = nil
			s.rings = nil
			s.mu.Unlock()
			go worker.Run()
			return ring
		}
		s.mu.Unlock()
		return ring
	}
	s.mu.Unlock()

	worker := &DecoderWorker{
		Key:        key,
		Source:     source,
		StartMs:    startMs,
		Ring:       ring,
		Finished:   s.finished,
		Generation: s.generation,
		EOSTimeout: s.knobs.TrackEOSTimeout(),
		Logger:     s.logger,
		Container:  s.container,
	}
	go worker.Run()
	return ring
}

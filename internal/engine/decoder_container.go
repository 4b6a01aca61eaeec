package engine

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/protplay/internal/codec"
)

// containerTrackFeed is one track's state within a SharedContainerWorker:
// its own decoder, ring and runtime key, fed round-robin from the
// shared worker goroutine instead of a dedicated one.
type containerTrackFeed struct {
	key       RuntimeKey
	ring      *Ring
	dec       codec.Decoder
	lastFrame time.Time
	done      bool
}

// SharedContainerWorker is the shared-container fast path: when two or
// more initial slots name tracks of the player's `.prot`/`.mka`
// container and no shuffle event is pending, one goroutine services
// all of those slots instead of spawning N independent decoder threads
// (see newPlayerSpawner). Each track's
// resolved media is still opened independently (codec.OpenContainerTrack
// for an embedded track, codec.Open for a file path), but
// the single-goroutine dispatch and shared finished-set/abort handling
// is the actual concurrency saving.
type SharedContainerWorker struct {
	Tracks     map[RuntimeKey]SourceSpec
	Rings      map[RuntimeKey]*Ring
	StartMs    int64
	Finished   *finishedSet
	Generation *Generation
	EOSTimeout time.Duration
	Logger     *log.Logger
	Container  ContainerModel
}

// Run opens every track's decoder and round-robins decode batches into
// each track's ring until every track is finished or the generation is
// aborted.
func (w *SharedContainerWorker) Run() {
	logger := w.Logger.With("component", "shared_container_worker")

	feeds := make(map[RuntimeKey]*containerTrackFeed, len(w.Tracks))
	for key, source := range w.Tracks {
		dec, err := w.open(source)
		if err != nil {
			logger.Warn("shared-container track open failed, treating as EOS", "runtime_key", key, "err", err)
			w.Finished.mark(key)
			continue
		}
		feeds[key] = &containerTrackFeed{
			key:       key,
			ring:      w.Rings[key],
			dec:       dec,
			lastFrame: time.Now(),
		}
	}
	defer func() {
		for _, feed := range feeds {
			feed.dec.Close()
		}
	}()

	for {
		if w.Generation.Done() {
			for _, feed := range feeds {
				if !feed.done {
					w.Finished.mark(feed.key)
				}
			}
			return
		}

		allDone := true
		for _, feed := range feeds {
			if feed.done {
				continue
			}
			allDone = false

			batch, err := feed.dec.Decode()
			if len(batch) > 0 {
				if feed.ring.Push(batch) == PushAborted {
					feed.done = true
					w.Finished.mark(feed.key)
					continue
				}
				feed.lastFrame = time.Now()
			}
			if err != nil {
				feed.done = true
				w.Finished.mark(feed.key)
				continue
			}
			if len(batch) == 0 && time.Since(feed.lastFrame) >= w.EOSTimeout {
				feed.done = true
				w.Finished.mark(feed.key)
			}
		}
		if allDone {
			return
		}
	}
}

func (w *SharedContainerWorker) open(source SourceSpec) (codec.Decoder, error) {
	if !source.IsContainerTrack() {
		return codec.Open(source.FilePath, w.StartMs)
	}
	if w.Container == nil {
		return nil, fmt.Errorf("engine: container source %s with no container model", source.ContainerID)
	}
	track, ok := w.Container.Track(source.ContainerID)
	if !ok {
		return nil, fmt.Errorf("engine: no such container track %s", source.ContainerID)
	}
	return codec.OpenContainerTrack(w.Container.Path(), track, w.StartMs)
}

package engine

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/protplay/internal/container"
)

type fakeContainerModel struct {
	path string
}

func (f *fakeContainerModel) Path() string { return f.path }

func (f *fakeContainerModel) Track(id string) (container.Track, bool) {
	return container.Track{}, false
}

func TestPlayer_SharedContainerGroupDrainsOnOpenFailure(t *testing.T) {
	// Two slots sharing a container id that never resolves (the fake
	// model always reports "no such track") exercises the
	// shared-container grouping path in newPlayerSpawner/SpawnDecoder:
	// both slots are serviced by one SharedContainerWorker, which should
	// mark both runtime keys finished immediately rather than hang.
	defs := []*TrackDef{
		{
			Candidates:      []SourceSpec{{ContainerID: "shared"}},
			SelectionsCount: 1,
			Weight:          1,
			Gain:            [Channels]float32{1, 1},
		},
		{
			Candidates:      []SourceSpec{{ContainerID: "shared"}},
			SelectionsCount: 1,
			Weight:          1,
			Gain:            [Channels]float32{1, 1},
		},
	}

	sink := &fakeSink{}
	logger := log.New(io.Discard)
	player := NewPlayer(DefaultKnobs(), defs, &fakeContainerModel{path: "song.mka"}, sink, logger)

	require.NoError(t, player.Play(0))

	done := make(chan struct{})
	go func() {
		player.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("player did not drain after every slot's decoder failed to open")
	}
}

func TestResolveSeed(t *testing.T) {
	if got := resolveSeed(42); got != 42 {
		t.Errorf("resolveSeed(42) = %d, want 42", got)
	}
	if got := resolveSeed(0); got == 0 {
		t.Error("resolveSeed(0) should draw a nonzero seed from the OS clock")
	}
}

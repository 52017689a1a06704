package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(stage Stage) Event {
	return Event{
		RunID: uuid.New(),
		TS:    time.Now().UTC(),
		Stage: stage,
		URL:   "https://example.com/",
	}
}

func TestHubDeliversAndCloses(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(validEvent(StageRunStart))
	hub.Emit(validEvent(StagePageDone))
	hub.Emit(validEvent(StageRunDone))

	require.NoError(t, hub.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 3)
	require.Equal(t, StageRunStart, got[0].Stage)
	require.Equal(t, StageRunDone, got[2].Stage)
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{})                                              // missing everything
	hub.Emit(Event{RunID: uuid.New(), TS: time.Now(), Stage: "X"}) // unknown stage
	hub.Emit(validEvent(StagePageStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.snapshot(), 1)
}

func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StagePageDone))
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Run("page stages require url", func(t *testing.T) {
		evt := Event{RunID: uuid.New(), TS: time.Now(), Stage: StagePageDone}
		require.Error(t, evt.Validate())
		evt.URL = "https://example.com/"
		require.NoError(t, evt.Validate())
	})

	t.Run("run stages need no url", func(t *testing.T) {
		evt := Event{RunID: uuid.New(), TS: time.Now(), Stage: StageRunStart}
		require.NoError(t, evt.Validate())
	})

	t.Run("negative duration rejected", func(t *testing.T) {
		evt := validEvent(StagePageDone)
		evt.Dur = -time.Second
		require.Error(t, evt.Validate())
	})
}

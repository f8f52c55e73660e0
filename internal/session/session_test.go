package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/collabsync/internal/sync"
)

func newTestSession(t *testing.T) (*Session, chan sync.Event) {
	inbox := make(chan sync.Event, 8)
	s := &Session{
		id:       "client-1",
		userID:   uuid.New(),
		outbound: make(chan []byte, 8),
		inbox:    inbox,
		logger:   zaptest.NewLogger(t),
	}
	return s, inbox
}

func TestDispatchUpdateTag(t *testing.T) {
	s, inbox := newTestSession(t)
	frame := []byte{1, 2, 3, sync.TagUpdate}

	require.True(t, s.dispatch(frame))
	ev := <-inbox
	update, ok := ev.(sync.Update)
	require.True(t, ok)
	assert.Equal(t, "client-1", update.SenderID)
	assert.Equal(t, frame, update.Frame)
}

func TestDispatchSyncStep2TagAlsoProducesUpdate(t *testing.T) {
	s, inbox := newTestSession(t)
	frame := []byte{9, sync.TagSyncStep2}

	require.True(t, s.dispatch(frame))
	ev := <-inbox
	_, ok := ev.(sync.Update)
	assert.True(t, ok)
}

func TestDispatchSyncStep1ProducesGetDiff(t *testing.T) {
	s, inbox := newTestSession(t)
	frame := []byte{7, 8, sync.TagSyncStep1}

	require.True(t, s.dispatch(frame))
	ev := <-inbox
	getDiff, ok := ev.(sync.GetDiff)
	require.True(t, ok)
	assert.Equal(t, frame, getDiff.Frame)
}

func TestDispatchAwarenessWithPayloadProducesUpdateAwareness(t *testing.T) {
	s, inbox := newTestSession(t)
	frame := []byte{5, 6, sync.TagAwareness}

	require.True(t, s.dispatch(frame))
	ev := <-inbox
	_, ok := ev.(sync.UpdateAwareness)
	assert.True(t, ok)
}

func TestDispatchBareAwarenessTagProducesGetAwareness(t *testing.T) {
	s, inbox := newTestSession(t)
	frame := []byte{sync.TagAwareness}

	require.True(t, s.dispatch(frame))
	ev := <-inbox
	getAwareness, ok := ev.(sync.GetAwareness)
	require.True(t, ok)
	assert.Equal(t, "client-1", getAwareness.RequesterID)
}

func TestDispatchUnknownTagIsDroppedNotFatal(t *testing.T) {
	s, inbox := newTestSession(t)
	ok := s.dispatch([]byte{1, 2, 99})
	assert.True(t, ok)

	select {
	case ev := <-inbox:
		t.Fatalf("expected no event enqueued, got %v", ev)
	default:
	}
}

func TestDispatchEmptyFrameIsDroppedNotFatal(t *testing.T) {
	s, inbox := newTestSession(t)
	ok := s.dispatch(nil)
	assert.True(t, ok)

	select {
	case ev := <-inbox:
		t.Fatalf("expected no event enqueued, got %v", ev)
	default:
	}
}

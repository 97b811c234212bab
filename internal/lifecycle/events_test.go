package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

type recordingNotifier struct {
	events  []lifecycle.Event
	handled bool
	err     error
}

func (n *recordingNotifier) Publish(_ context.Context, event lifecycle.Event) (bool, error) {
	n.events = append(n.events, event)
	return n.handled, n.err
}

func TestDispatchStopsAfterHandled(t *testing.T) {
	first := &recordingNotifier{handled: true}
	second := &recordingNotifier{}
	dispatcher := lifecycle.NewDispatcher([]lifecycle.Notifier{first, second}, zap.NewNop())

	dispatcher.Dispatch(context.Background(), lifecycle.NewEvent(lifecycle.EventSignIn))

	require.Len(t, first.events, 1)
	require.Empty(t, second.events)
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("sink down")}
	fallback := &recordingNotifier{handled: true}
	dispatcher := lifecycle.NewDispatcher([]lifecycle.Notifier{failing, fallback}, zap.NewNop())

	dispatcher.Dispatch(context.Background(), lifecycle.NewEvent(lifecycle.EventSignOut))

	require.Len(t, failing.events, 1)
	require.Len(t, fallback.events, 1)
}

func TestNewEventStamps(t *testing.T) {
	event := lifecycle.NewEvent(lifecycle.EventChallenge)
	require.NotEmpty(t, event.ID)
	require.Equal(t, lifecycle.EventChallenge, event.Type)
	require.False(t, event.OccurredAt.IsZero())
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []FailedEvent
	err    error
}

func (r *memoryRecorder) Record(ctx context.Context, event FailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *memoryRecorder) recorded() []FailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FailedEvent(nil), r.events...)
}

func TestRegisterRejectsBadBindings(t *testing.T) {
	d := NewDispatcher(time.Minute, nil, nil)
	noop := func(ctx context.Context, env Envelope) error { return nil }

	require.Error(t, d.Register("", noop))
	require.Error(t, d.Register(ActionDirectExport, nil))
	require.Error(t, d.Register("BOGUS.NAMESPACE", noop))

	require.NoError(t, d.Register(ActionDirectExport, noop))
	require.Error(t, d.Register(ActionDirectExport, noop))
}

func TestProcessImportTimeout(t *testing.T) {
	d := NewDispatcher(20*time.Millisecond, nil, nil)

	var disarmed []Action
	done := make(chan struct{})
	d.onDisarm = func(a Action) {
		disarmed = append(disarmed, a)
		close(done)
	}

	require.NoError(t, d.Register(ActionFetchExpenses, func(ctx context.Context, env Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := d.Process(context.Background(), Envelope{Action: ActionFetchExpenses, WorkspaceID: 7})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, ActionFetchExpenses, timeoutErr.Action)
	require.Equal(t, 20*time.Millisecond, timeoutErr.Limit)
	require.Contains(t, timeoutErr.Error(), "IMPORT.EXPENSES")

	<-done
	require.Equal(t, []Action{ActionFetchExpenses}, disarmed)
}

func TestProcessDisarmsDeadlineOnSuccess(t *testing.T) {
	d := NewDispatcher(time.Minute, nil, nil)

	disarmed := make(chan Action, 1)
	d.onDisarm = func(a Action) { disarmed <- a }

	require.NoError(t, d.Register(ActionSyncDimensions, func(ctx context.Context, env Envelope) error {
		return nil
	}))

	require.NoError(t, d.Process(context.Background(), Envelope{Action: ActionSyncDimensions, WorkspaceID: 7}))

	select {
	case a := <-disarmed:
		require.Equal(t, ActionSyncDimensions, a)
	case <-time.After(time.Second):
		t.Fatal("deadline never disarmed")
	}
}

func TestProcessDropsUnknownAction(t *testing.T) {
	recorder := &memoryRecorder{}
	d := NewDispatcher(time.Minute, recorder, nil)

	require.NoError(t, d.Process(context.Background(), Envelope{Action: "EXPORT.P9.NOPE", WorkspaceID: 7}))
	require.Empty(t, recorder.recorded())
}

func TestDispatchRecordsFailureAndAcknowledges(t *testing.T) {
	recorder := &memoryRecorder{}
	d := NewDispatcher(time.Minute, recorder, nil)

	boom := errors.New("ledger exploded")
	require.NoError(t, d.Register(ActionDirectExport, func(ctx context.Context, env Envelope) error {
		return boom
	}))

	env := Envelope{Action: ActionDirectExport, WorkspaceID: 42, Data: []byte(`{"reason":"test"}`)}
	require.NoError(t, d.Dispatch(context.Background(), env))

	events := recorder.recorded()
	require.Len(t, events, 1)
	require.Equal(t, "EXPORT.P0.DIRECT", events[0].RoutingKey)
	require.Equal(t, int64(42), events[0].WorkspaceID)
	require.Contains(t, events[0].Traceback, "ledger exploded")
	require.False(t, events[0].CreatedAt.IsZero())
}

func TestDispatchDropsMalformedEnvelope(t *testing.T) {
	recorder := &memoryRecorder{}
	d := NewDispatcher(time.Minute, recorder, nil)

	invoked := false
	require.NoError(t, d.Register(ActionDirectExport, func(ctx context.Context, env Envelope) error {
		invoked = true
		return nil
	}))

	require.NoError(t, d.Dispatch(context.Background(), Envelope{Action: ActionDirectExport}))
	require.False(t, invoked)
	require.Empty(t, recorder.recorded())
}

func TestProcessCapturesHandlerPanic(t *testing.T) {
	d := NewDispatcher(time.Minute, nil, nil)

	require.NoError(t, d.Register(ActionVendorPayment, func(ctx context.Context, env Envelope) error {
		panic("nil deref somewhere")
	}))

	err := d.Process(context.Background(), Envelope{Action: ActionVendorPayment, WorkspaceID: 7})
	require.Error(t, err)
	require.Contains(t, err.Error(), "handler panic")
	require.Contains(t, err.Error(), "nil deref somewhere")
}

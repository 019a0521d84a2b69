package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/session"
	"github.com/danmuck/indexd/internal/protocol/typed"
	"github.com/danmuck/indexd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	err  error
}

func (s *fakeSender) TrySend(m *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *fakeSender) decoded(t *testing.T) []typed.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]typed.Event, 0, len(s.msgs))
	for _, m := range s.msgs {
		require.Equal(t, typed.Protocol, m.Protocol)
		ev, err := typed.DecodeEvent(m.Payload)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestForwarderConvertsLifecycleEvents(t *testing.T) {
	testlog.Start(t)

	bus := NewBus()
	sender := &fakeSender{}
	fwd := NewForwarder(sender, 0)
	detach := fwd.Attach(bus)
	defer detach()

	op := bus.NextOperationID()
	bus.Publish(Event{Kind: ScanStarted, OperationID: op})
	bus.Publish(Event{Kind: FilesLoadingProgress, OperationID: op, Done: 1, Total: 2})
	bus.Publish(Event{Kind: ScanFinished, OperationID: op, Files: 2, Err: errors.New("partial")})
	bus.Publish(Event{Kind: IndexingStateChanged, Paused: true})

	got := sender.decoded(t)
	require.Len(t, got, 4)
	require.Equal(t, schema.EvtScanStarted, got[0].Kind)
	require.Equal(t, op, got[0].OperationID)

	done, err := got[1].Fields.GetUint64(schema.FieldFilesDone)
	require.NoError(t, err)
	require.EqualValues(t, 1, done)

	msg, err := got[2].Fields.GetString(schema.FieldError)
	require.NoError(t, err)
	require.Equal(t, "partial", msg)

	paused, err := got[3].Fields.GetBool(schema.FieldPaused)
	require.NoError(t, err)
	require.True(t, paused)
	require.EqualValues(t, 4, fwd.Stats().Sent)
}

func TestForwarderThrottlesOnlyProgress(t *testing.T) {
	testlog.Start(t)

	sender := &fakeSender{}
	fwd := NewForwarder(sender, 0.001)

	fwd.Forward(Event{Kind: FilesLoading, OperationID: 1})
	for i := 0; i < 10; i++ {
		fwd.Forward(Event{Kind: FilesLoadingProgress, OperationID: 1, Done: uint64(i), Total: 10})
	}
	fwd.Forward(Event{Kind: FilesLoaded, OperationID: 1, Files: 10})

	got := sender.decoded(t)
	require.Len(t, got, 3)
	require.Equal(t, schema.EvtFilesLoading, got[0].Kind)
	require.Equal(t, schema.EvtFilesLoadingProgress, got[1].Kind)
	require.Equal(t, schema.EvtFilesLoaded, got[2].Kind)
	require.EqualValues(t, 9, fwd.Stats().Throttled)
}

func TestForwarderDeliversFilesLoadedAfterThrottledFinalProgress(t *testing.T) {
	testlog.Start(t)

	sender := &fakeSender{}
	fwd := NewForwarder(sender, 0.001)

	fwd.Forward(Event{Kind: FilesLoadingProgress, OperationID: 3, Done: 64, Total: 100})
	fwd.Forward(Event{Kind: FilesLoadingProgress, OperationID: 3, Done: 100, Total: 100})
	fwd.Forward(Event{Kind: FilesLoaded, OperationID: 3, Files: 100})

	got := sender.decoded(t)
	require.Len(t, got, 2)
	done, err := got[0].Fields.GetUint64(schema.FieldFilesDone)
	require.NoError(t, err)
	require.EqualValues(t, 64, done)

	require.Equal(t, schema.EvtFilesLoaded, got[1].Kind)
	require.Equal(t, uint64(3), got[1].OperationID)
	files, err := got[1].Fields.GetUint64(schema.FieldFiles)
	require.NoError(t, err)
	require.EqualValues(t, 100, files)
	require.EqualValues(t, 1, fwd.Stats().Throttled)
}

func TestForwarderDropsOnFullQueue(t *testing.T) {
	testlog.Start(t)

	sender := &fakeSender{err: session.ErrQueueFull}
	fwd := NewForwarder(sender, 0)
	fwd.Forward(Event{Kind: ScanStarted, OperationID: 7})
	fwd.Forward(Event{Kind: ScanFinished, OperationID: 7})

	stats := fwd.Stats()
	require.Zero(t, stats.Sent)
	require.EqualValues(t, 2, stats.Dropped)
}

func TestToTypedRejectsUnknownKind(t *testing.T) {
	testlog.Start(t)

	_, ok := ToTyped(Event{Kind: Kind(99)})
	require.False(t, ok)
}

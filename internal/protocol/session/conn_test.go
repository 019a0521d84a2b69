package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/frame"
	"github.com/danmuck/indexd/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.WriteTimeout = -1
	return cfg
}

func echoDispatcher() Dispatcher {
	return DispatcherFunc(func(_ context.Context, req *protocol.Message) *protocol.Message {
		if req.Protocol != "echo" {
			return req.ReplyError("unhandled_protocol", "no handler for "+req.Protocol)
		}
		return req.Reply(req.Payload)
	})
}

// startConn runs c in the background and returns a channel with Run's result.
func startConn(t *testing.T, c *Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	t.Cleanup(func() { _ = c.Close() })
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

// rawPeer speaks frames directly on the far end of a pipe.
type rawPeer struct {
	conn net.Conn
}

func (p rawPeer) read(t *testing.T) *protocol.Message {
	t.Helper()
	f, err := frame.ReadFrame(p.conn, frame.DefaultLimits())
	require.NoError(t, err)
	m, err := protocol.Decode(f)
	require.NoError(t, err)
	return m
}

func (p rawPeer) write(t *testing.T, m *protocol.Message) {
	t.Helper()
	require.NoError(t, frame.WriteFrame(p.conn, protocol.Encode(m), frame.DefaultLimits()))
}

func TestConcurrentCallsAreCorrelated(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	var mu sync.Mutex
	seen := make(map[uint64]int)
	server := New(b, testConfig(), DispatcherFunc(func(ctx context.Context, req *protocol.Message) *protocol.Message {
		mu.Lock()
		seen[req.ID]++
		mu.Unlock()
		return echoDispatcher().Dispatch(ctx, req)
	}), nil)
	client := New(a, testConfig(), nil, nil)
	startConn(t, server)
	startConn(t, client)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := fmt.Sprintf("payload-%d", i)
			got, err := client.Call(context.Background(), "echo", []byte(want))
			if assert.NoError(t, err) {
				assert.Equal(t, want, string(got))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, n)
	for id, count := range seen {
		require.Equal(t, 1, count, "id %d", id)
	}
	require.Zero(t, client.Pending())
}

func TestUnhandledProtocolKeepsConnectionServing(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	server := New(b, testConfig(), echoDispatcher(), nil)
	client := New(a, testConfig(), nil, nil)
	startConn(t, server)
	startConn(t, client)

	_, err := client.Call(context.Background(), "mystery", nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "unhandled_protocol", re.Info.Kind)
	require.Equal(t, "mystery", re.Protocol)

	got, err := client.Call(context.Background(), "echo", []byte("still here"))
	require.NoError(t, err)
	require.Equal(t, "still here", string(got))
}

func TestSaturatedHandlersDoNotStallResponses(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	cfg := testConfig()
	cfg.MaxInflight = 2
	server := New(b, cfg, DispatcherFunc(func(ctx context.Context, req *protocol.Message) *protocol.Message {
		if req.Protocol != "slow" {
			return echoDispatcher().Dispatch(ctx, req)
		}
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return req.Reply(req.Payload)
	}), nil)
	client := New(a, testConfig(), echoDispatcher(), nil)
	startConn(t, server)
	startConn(t, client)

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	slow := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := client.Call(context.Background(), "slow", []byte("hold"))
			slow <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("slow handler %d did not start", i)
		}
	}

	_, err := client.Call(context.Background(), "slow", []byte("third"))
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, BusyErrorKind, re.Info.Kind)
	require.Equal(t, ErrBusy.Error(), re.Info.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := server.Call(ctx, "echo", []byte("outbound"))
	require.NoError(t, err)
	require.Equal(t, "outbound", string(got))
	require.Zero(t, server.Pending())

	unblock()
	for i := 0; i < 2; i++ {
		require.NoError(t, <-slow)
	}
}

func TestCloseFailsOutstandingRequests(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	release := make(chan struct{})
	defer close(release)
	server := New(b, testConfig(), DispatcherFunc(func(ctx context.Context, req *protocol.Message) *protocol.Message {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return req.Reply(nil)
	}), nil)
	client := New(a, testConfig(), nil, nil)
	startConn(t, server)
	clientDone := startConn(t, client)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := client.Call(context.Background(), "slow", nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return client.Pending() == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, <-errs, ErrConnectionClosed)
	}
	require.NoError(t, waitRun(t, clientDone))
	require.ErrorIs(t, client.Err(), ErrConnectionClosed)

	_, err := client.Call(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestPeerCloseFailsPendingAndRunReturnsNil(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	client := New(a, testConfig(), nil, nil)
	done := startConn(t, client)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "echo", []byte("x"))
		errc <- err
	}()
	req := peer.read(t)
	require.Equal(t, frame.KindRequest, req.Kind)
	require.NoError(t, b.Close())

	require.ErrorIs(t, <-errc, ErrConnectionClosed)
	require.NoError(t, waitRun(t, done))
	select {
	case <-client.Done():
	default:
		t.Fatalf("Done not closed after peer close")
	}
}

func TestCancelCompletesOnlyThatRequest(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	client := New(a, testConfig(), nil, nil)
	startConn(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, "echo", []byte("first"))
		first <- err
	}()
	req1 := peer.read(t)

	second := make(chan []byte, 1)
	go func() {
		got, err := client.Call(context.Background(), "echo", []byte("second"))
		assert.NoError(t, err)
		second <- got
	}()
	req2 := peer.read(t)
	require.NotEqual(t, req1.ID, req2.ID)

	cancel()
	err := <-first
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)

	// A late response for the canceled id is discarded.
	peer.write(t, req1.Reply([]byte("late")))
	peer.write(t, req2.Reply(req2.Payload))

	select {
	case got := <-second:
		require.Equal(t, "second", string(got))
	case <-time.After(5 * time.Second):
		t.Fatalf("second request never completed")
	}
	require.Zero(t, client.Pending())
}

func TestRequestTimeout(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	client := New(a, cfg, nil, nil)
	startConn(t, client)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "echo", nil)
		errc <- err
	}()
	peer.read(t)
	err := <-errc
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInboundEventReachesSink(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	events := make(chan *protocol.Message, 1)
	client := New(a, testConfig(), nil, func(ev *protocol.Message) { events <- ev })
	startConn(t, client)

	peer.write(t, protocol.NewEvent("typed-message", []byte("progress")))
	select {
	case ev := <-events:
		require.Equal(t, frame.KindEvent, ev.Kind)
		require.Equal(t, "progress", string(ev.Payload))
	case <-time.After(5 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestInboundRequestIsAnswered(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	server := New(a, testConfig(), echoDispatcher(), nil)
	startConn(t, server)

	req := protocol.NewRequest("echo", []byte("ping"))
	req.ID = 99
	peer.write(t, req)
	resp := peer.read(t)
	require.Equal(t, frame.KindResponse, resp.Kind)
	require.EqualValues(t, 99, resp.ID)
	require.Equal(t, "ping", string(resp.Payload))

	bad := protocol.NewRequest("nope", nil)
	bad.ID = 100
	peer.write(t, bad)
	resp = peer.read(t)
	require.True(t, resp.IsError())
	require.Equal(t, "unhandled_protocol", resp.Error.Kind)

	peer.write(t, req)
	resp = peer.read(t)
	require.Equal(t, "ping", string(resp.Payload))
}

func TestFramingErrorEndsConnection(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	peer := rawPeer{conn: b}
	client := New(a, testConfig(), nil, nil)
	done := startConn(t, client)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "echo", nil)
		errc <- err
	}()
	peer.read(t)

	h := frame.Header{Magic: 0xbad, Version: frame.Version, HeaderLen: frame.FixedHeaderLen, Kind: frame.KindResponse}
	_, err := b.Write(frame.EncodeHeader(h))
	require.NoError(t, err)

	runErr := waitRun(t, done)
	require.ErrorIs(t, runErr, frame.ErrFraming)
	require.ErrorIs(t, runErr, frame.ErrBadMagic)

	callErr := <-errc
	require.ErrorIs(t, callErr, ErrConnectionClosed)
	require.ErrorIs(t, callErr, frame.ErrBadMagic)
}

func TestRunReturnsContextError(t *testing.T) {
	testlog.Start(t)

	a, _ := net.Pipe()
	client := New(a, testConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	cancel()
	require.ErrorIs(t, waitRun(t, done), context.Canceled)
	require.True(t, errors.Is(client.Err(), context.Canceled))
}

func TestTrySendReportsFullQueue(t *testing.T) {
	testlog.Start(t)

	a, _ := net.Pipe()
	cfg := testConfig()
	cfg.SendQueueSize = 1
	c := New(a, cfg, nil, nil)

	require.NoError(t, c.Notify("typed-message", []byte("one")))
	require.ErrorIs(t, c.Notify("typed-message", []byte("two")), ErrQueueFull)
	require.Equal(t, 1, c.QueueDepth())

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Notify("typed-message", nil), ErrConnectionClosed)
}

func TestOversizeRequestFailsOnlyThatCall(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	cfg := testConfig()
	cfg.Limits = frame.Limits{MaxPayloadBytes: 256}
	server := New(b, cfg, echoDispatcher(), nil)
	client := New(a, cfg, nil, nil)
	startConn(t, server)
	startConn(t, client)

	_, err := client.Call(context.Background(), "echo", make([]byte, 1024))
	require.ErrorIs(t, err, frame.ErrPayloadTooLarge)

	got, err := client.Call(context.Background(), "echo", []byte("small"))
	require.NoError(t, err)
	require.Equal(t, "small", string(got))
}

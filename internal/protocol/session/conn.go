package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/indexd/internal/observability"
	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrCanceled         = errors.New("session: request canceled")
	ErrQueueFull        = errors.New("session: send queue full")
	ErrDuplicateID      = errors.New("session: correlation id already pending")
	ErrBusy             = errors.New("session: too many requests in flight")
)

// BusyErrorKind is the error kind sent when a request arrives while
// MaxInflight handlers are already running.
const BusyErrorKind = "handler_execution"

// RemoteError is an error response received for an outbound request.
type RemoteError struct {
	ID       uint64
	Protocol string
	Info     protocol.ErrorInfo
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error id=%d protocol=%s: %s", e.ID, e.Protocol, e.Info.Error())
}

// Dispatcher produces the response for one inbound request. It must always
// return a message, using an error response for failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *protocol.Message) *protocol.Message
}

type DispatcherFunc func(ctx context.Context, req *protocol.Message) *protocol.Message

func (f DispatcherFunc) Dispatch(ctx context.Context, req *protocol.Message) *protocol.Message {
	return f(ctx, req)
}

// EventSink receives inbound events on the reader loop. It must not block.
type EventSink func(ev *protocol.Message)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn pumps frames over one stream: a single reader decodes and routes,
// a single writer drains the send queue in FIFO order.
type Conn struct {
	id         string
	rwc        io.ReadWriteCloser
	cfg        Config
	dispatcher Dispatcher
	sink       EventSink
	logger     zerolog.Logger

	nextID   atomic.Uint64
	pending  *pendingTable
	outgoing chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func New(rwc io.ReadWriteCloser, cfg Config, dispatcher Dispatcher, sink EventSink) *Conn {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	return &Conn{
		id:         id,
		rwc:        rwc,
		cfg:        cfg,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     log.With().Str("component", "session").Str("conn_id", id).Logger(),
		pending:    newPendingTable(),
		outgoing:   make(chan *protocol.Message, cfg.SendQueueSize),
		done:       make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Run blocks until the connection ends. A clean peer close or a local Close
// returns nil; ctx cancellation returns ctx.Err(); anything else returns the
// transport or framing error that ended the connection.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info().Int("queue", cap(c.outgoing)).Int("max_inflight", c.cfg.MaxInflight).Msg("session.Run start")

	g, gctx := errgroup.WithContext(ctx)
	var handlers errgroup.Group
	handlers.SetLimit(c.cfg.MaxInflight)

	g.Go(func() error { return c.readLoop(gctx, &handlers) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			c.shutdown(context.Cause(gctx))
		case <-c.done:
		}
		return nil
	})

	err := g.Wait()
	_ = handlers.Wait()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("session.Run stop")
	} else {
		c.logger.Info().Msg("session.Run stop")
	}
	return err
}

func (c *Conn) readLoop(ctx context.Context, handlers *errgroup.Group) error {
	c.logger.Debug().Msg("session.readLoop start")
	defer c.logger.Debug().Msg("session.readLoop stop")
	for {
		f, err := frame.ReadFrame(c.rwc, c.cfg.Limits)
		if err != nil {
			return c.readFailed(err)
		}
		observability.RecordFrame("in", f.Header.Kind.String())

		msg, err := protocol.Decode(f)
		if err != nil {
			return c.readFailed(err)
		}

		switch msg.Kind {
		case frame.KindResponse:
			if !c.pending.complete(msg.ID, result{msg: msg}) {
				c.logger.Debug().Uint64("id", msg.ID).Msg("session.readLoop response for unknown id discarded")
			}
		case frame.KindRequest:
			// The reader never waits on handlers; a full pool answers busy.
			if !handlers.TryGo(func() error {
				c.serve(ctx, msg)
				return nil
			}) {
				c.rejectBusy(msg)
			}
		case frame.KindEvent:
			c.deliver(msg)
		}
	}
}

func (c *Conn) readFailed(err error) error {
	if errors.Is(err, frame.ErrConnectionClosed) {
		c.logger.Info().Msg("session.readLoop peer closed connection")
		c.shutdown(ErrConnectionClosed)
		return nil
	}
	if c.isClosed() {
		return nil
	}
	c.logger.Error().Err(err).Msg("session.readLoop failed")
	c.shutdown(err)
	return err
}

func (c *Conn) serve(ctx context.Context, req *protocol.Message) {
	var resp *protocol.Message
	if c.dispatcher != nil {
		resp = c.dispatcher.Dispatch(ctx, req)
	}
	if resp == nil {
		resp = req.ReplyError("unhandled_protocol", "no dispatcher")
	}
	resp.Kind = frame.KindResponse
	resp.ID = req.ID
	if err := c.send(ctx, resp); err != nil {
		c.logger.Debug().Uint64("id", req.ID).Err(err).Msg("session.serve response not sent")
	}
}

// rejectBusy answers req with a handler_execution error without waiting
// on the send queue.
func (c *Conn) rejectBusy(req *protocol.Message) {
	observability.RecordRequest(req.Protocol, "busy", 0)
	c.logger.Warn().Uint64("id", req.ID).Str("protocol", req.Protocol).Int("max_inflight", c.cfg.MaxInflight).Msg("session.readLoop handler pool full")
	if err := c.TrySend(req.ReplyError(BusyErrorKind, ErrBusy.Error())); err != nil {
		c.logger.Debug().Uint64("id", req.ID).Err(err).Msg("session.readLoop busy response not sent")
	}
}

func (c *Conn) deliver(ev *protocol.Message) {
	if c.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("protocol", ev.Protocol).Msg("session.deliver event sink panicked")
		}
	}()
	c.sink(ev)
}

func (c *Conn) writeLoop(ctx context.Context) error {
	c.logger.Debug().Msg("session.writeLoop start")
	defer c.logger.Debug().Msg("session.writeLoop stop")
	for {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		case m := <-c.outgoing:
			if err := c.write(m); err != nil {
				if errors.Is(err, frame.ErrFraming) {
					c.rejectOutbound(m, err)
					continue
				}
				if c.isClosed() {
					return nil
				}
				c.logger.Error().Err(err).Msg("session.writeLoop failed")
				c.shutdown(err)
				return err
			}
			observability.RecordFrame("out", m.Kind.String())
		}
	}
}

func (c *Conn) write(m *protocol.Message) error {
	if d, ok := c.rwc.(writeDeadliner); ok && c.cfg.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return frame.WriteFrame(c.rwc, protocol.Encode(m), c.cfg.Limits)
}

// rejectOutbound handles a message the frame layer refused to encode. The
// stream is untouched, so only that message fails.
func (c *Conn) rejectOutbound(m *protocol.Message, err error) {
	c.logger.Warn().Err(err).Str("kind", m.Kind.String()).Uint64("id", m.ID).Msg("session.writeLoop message rejected")
	switch m.Kind {
	case frame.KindRequest:
		c.pending.complete(m.ID, result{err: err})
	case frame.KindResponse:
		if m.Error == nil {
			_ = c.TrySend(m.ReplyError("handler_execution", err.Error()))
		}
	}
}

// Call sends a request and waits for its response payload.
func (c *Conn) Call(ctx context.Context, proto string, payload []byte) ([]byte, error) {
	resp, err := c.Request(ctx, protocol.NewRequest(proto, payload))
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Request assigns a fresh correlation id to req, sends it and waits until
// the response arrives, ctx ends, or the connection closes. Without a ctx
// deadline the configured RequestTimeout applies.
func (c *Conn) Request(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	out := *req
	out.Kind = frame.KindRequest
	out.ID = c.nextID.Add(1)

	ch, err := c.pending.register(out.ID)
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, &out); err != nil {
		c.pending.remove(out.ID)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		return nil, err
	}

	select {
	case r := <-ch:
		return c.unwrap(r)
	case <-ctx.Done():
		if c.pending.remove(out.ID) {
			c.logger.Debug().Uint64("id", out.ID).Err(ctx.Err()).Msg("session.Request canceled")
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		// Completed while we were canceling; the slot holds the result.
		return c.unwrap(<-ch)
	}
}

func (c *Conn) unwrap(r result) (*protocol.Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.msg.Error != nil {
		return nil, &RemoteError{ID: r.msg.ID, Protocol: r.msg.Protocol, Info: *r.msg.Error}
	}
	return r.msg, nil
}

// Notify enqueues an event without waiting.
func (c *Conn) Notify(proto string, payload []byte) error {
	return c.TrySend(protocol.NewEvent(proto, payload))
}

// TrySend enqueues m without blocking. It fails with ErrQueueFull when the
// send queue is at capacity.
func (c *Conn) TrySend(m *protocol.Message) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.outgoing <- m:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrQueueFull
	}
}

// send enqueues m, waiting for queue space.
func (c *Conn) send(ctx context.Context, m *protocol.Message) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.outgoing <- m:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the connection. Outstanding requests fail with
// ErrConnectionClosed.
func (c *Conn) Close() error {
	c.shutdown(ErrConnectionClosed)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrConnectionClosed
		}
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		close(c.done)
		_ = c.rwc.Close()

		failErr := ErrConnectionClosed
		if !errors.Is(cause, ErrConnectionClosed) {
			failErr = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
		}
		n := c.pending.failAll(failErr)
		c.logger.Info().Err(cause).Int("failed_pending", n).Msg("session.shutdown")
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the cause of shutdown, or nil while the connection is open.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Pending returns the number of outbound requests awaiting responses.
func (c *Conn) Pending() int {
	return c.pending.len()
}

// QueueDepth returns the number of messages waiting for the writer.
func (c *Conn) QueueDepth() int {
	return len(c.outgoing)
}

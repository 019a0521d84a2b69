package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/indexd/internal/observability"
	"github.com/danmuck/indexd/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Error response kinds.
const (
	KindUnhandledProtocol    = "unhandled_protocol"
	KindHandlerExecution     = "handler_execution"
	KindUnhandledRequestType = "unhandled_request_type"
)

var (
	ErrUnhandledProtocol    = errors.New("handlers: no handler for protocol")
	ErrUnhandledRequestType = errors.New("handlers: no handler for request type")
	ErrHandlerNil           = errors.New("handlers: handler is nil")
	ErrHandlerExists        = errors.New("handlers: handler name already registered")
	ErrHandlerPanic         = errors.New("handlers: handler panicked")
)

// ExecutionError reports a handler that failed or panicked.
type ExecutionError struct {
	Protocol string
	Handler  string
	Err      error
	Panic    any
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handlers: %s (%s) panicked: %v", e.Handler, e.Protocol, e.Panic)
	}
	return fmt.Sprintf("handlers: %s (%s): %v", e.Handler, e.Protocol, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Handler serves one family of protocols.
type Handler interface {
	Name() string
	CanHandle(req *protocol.Message) bool
	Handle(ctx context.Context, req *protocol.Message) ([]byte, error)
}

// Registry holds a fixed, ordered handler list. The first handler whose
// CanHandle returns true serves the request.
type Registry struct {
	handlers []Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	seen := make(map[string]struct{}, len(handlers))
	list := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h == nil {
			return nil, ErrHandlerNil
		}
		name := strings.TrimSpace(h.Name())
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrHandlerExists, name)
		}
		seen[name] = struct{}{}
		list = append(list, h)
	}
	return &Registry{handlers: list}, nil
}

// Names lists handlers in dispatch order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Name())
	}
	return out
}

// Handle runs the matching handler. A panic is recovered into an
// *ExecutionError wrapping ErrHandlerPanic.
func (r *Registry) Handle(ctx context.Context, req *protocol.Message) ([]byte, error) {
	for _, h := range r.handlers {
		if h.CanHandle(req) {
			return run(ctx, h, req)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnhandledProtocol, req.Protocol)
}

func run(ctx context.Context, h Handler, req *protocol.Message) (payload []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = &ExecutionError{Protocol: req.Protocol, Handler: h.Name(), Err: ErrHandlerPanic, Panic: rec}
		}
	}()
	payload, err = h.Handle(ctx, req)
	if err != nil {
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			err = &ExecutionError{Protocol: req.Protocol, Handler: h.Name(), Err: err}
		}
	}
	return payload, err
}

// Dispatch answers req with a response or an error response. It satisfies
// session.Dispatcher.
func (r *Registry) Dispatch(ctx context.Context, req *protocol.Message) *protocol.Message {
	start := time.Now()
	payload, err := r.Handle(ctx, req)
	if err == nil {
		observability.RecordRequest(req.Protocol, "ok", time.Since(start))
		return req.Reply(payload)
	}

	kind := ErrorKind(err)
	observability.RecordRequest(req.Protocol, kind, time.Since(start))
	ev := log.Warn()
	if kind == KindHandlerExecution {
		ev = log.Error()
	}
	ev.Str("component", "handlers").
		Uint64("id", req.ID).
		Str("protocol", req.Protocol).
		Str("kind", kind).
		Err(err).
		Msg("handlers.Dispatch request failed")
	return req.ReplyError(kind, err.Error())
}

// ErrorKind maps a dispatch error to its wire error kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnhandledProtocol):
		return KindUnhandledProtocol
	case errors.Is(err, ErrUnhandledRequestType):
		return KindUnhandledRequestType
	default:
		return KindHandlerExecution
	}
}

package handlers

import (
	"context"
	"fmt"

	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/typed"
	"github.com/rs/zerolog/log"
)

// TypedHandler serves one or more typed request kinds.
type TypedHandler interface {
	CanHandle(req typed.Request) bool
	Handle(ctx context.Context, req typed.Request) (typed.Response, error)
}

// KindHandler serves exactly one request kind. A response with a zero Kind
// is stamped with the matching response kind.
type KindHandler struct {
	Kind uint32
	Fn   func(ctx context.Context, req typed.Request) (typed.Response, error)
}

func (h KindHandler) CanHandle(req typed.Request) bool {
	return req.Kind == h.Kind
}

func (h KindHandler) Handle(ctx context.Context, req typed.Request) (typed.Response, error) {
	resp, err := h.Fn(ctx, req)
	if err != nil {
		return typed.Response{}, err
	}
	if resp.Kind == 0 {
		resp.Kind = schema.ResponseFor(req.Kind)
	}
	return resp, nil
}

// TypedMessageHandler decodes the "typed-message" protocol and routes on the
// inner request kind.
type TypedMessageHandler struct {
	handlers []TypedHandler
}

func NewTypedMessageHandler(handlers ...TypedHandler) *TypedMessageHandler {
	return &TypedMessageHandler{handlers: handlers}
}

func (h *TypedMessageHandler) Name() string { return typed.Protocol }

func (h *TypedMessageHandler) CanHandle(req *protocol.Message) bool {
	return req.Protocol == typed.Protocol
}

func (h *TypedMessageHandler) Handle(ctx context.Context, msg *protocol.Message) ([]byte, error) {
	req, err := typed.DecodeRequest(msg.Payload)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("component", "handlers").Uint64("id", msg.ID).Stringer("request", req).Msg("handlers.Typed handle")
	for _, th := range h.handlers {
		if !th.CanHandle(req) {
			continue
		}
		resp, err := th.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		if schema.Known(resp.Kind) {
			if err := schema.Validate(resp.Kind, resp.Fields); err != nil {
				return nil, fmt.Errorf("handlers: invalid %s response: %w", req, err)
			}
		}
		return typed.EncodeResponse(resp), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnhandledRequestType, req)
}

package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/tlv"
	"github.com/danmuck/indexd/internal/protocol/typed"
	"github.com/danmuck/indexd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	name  string
	proto string
	fn    func(ctx context.Context, req *protocol.Message) ([]byte, error)
}

func (h funcHandler) Name() string {
	return h.name
}

func (h funcHandler) CanHandle(req *protocol.Message) bool {
	return req.Protocol == h.proto
}

func (h funcHandler) Handle(ctx context.Context, req *protocol.Message) ([]byte, error) {
	return h.fn(ctx, req)
}

func request(id uint64, proto string, payload []byte) *protocol.Message {
	m := protocol.NewRequest(proto, payload)
	m.ID = id
	return m
}

func TestNewRegistryRejectsNilAndDuplicates(t *testing.T) {
	testlog.Start(t)

	_, err := NewRegistry(EchoHandler{}, nil)
	require.ErrorIs(t, err, ErrHandlerNil)

	_, err = NewRegistry(EchoHandler{}, EchoHandler{})
	require.ErrorIs(t, err, ErrHandlerExists)

	reg, err := NewRegistry(EchoHandler{}, NewTypedMessageHandler())
	require.NoError(t, err)
	require.Equal(t, []string{EchoProtocol, typed.Protocol}, reg.Names())
}

func TestUnhandledProtocolThenServedRequest(t *testing.T) {
	testlog.Start(t)

	reg, err := NewRegistry(EchoHandler{})
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), request(1, "nope", nil))
	require.True(t, resp.IsError())
	require.Equal(t, KindUnhandledProtocol, resp.Error.Kind)
	require.EqualValues(t, 1, resp.ID)

	resp = reg.Dispatch(context.Background(), request(2, EchoProtocol, []byte("hi")))
	require.False(t, resp.IsError())
	require.Equal(t, []byte("hi"), resp.Payload)
	require.EqualValues(t, 2, resp.ID)
}

func TestFirstMatchingHandlerWins(t *testing.T) {
	testlog.Start(t)

	first := funcHandler{name: "first", proto: "p", fn: func(context.Context, *protocol.Message) ([]byte, error) {
		return []byte("first"), nil
	}}
	second := funcHandler{name: "second", proto: "p", fn: func(context.Context, *protocol.Message) ([]byte, error) {
		return []byte("second"), nil
	}}
	reg, err := NewRegistry(first, second)
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), request(1, "p", nil))
	require.Equal(t, []byte("first"), resp.Payload)
}

func TestHandlerErrorAndPanicBecomeExecutionErrors(t *testing.T) {
	testlog.Start(t)

	boom := errors.New("boom")
	failing := funcHandler{name: "failing", proto: "fail", fn: func(context.Context, *protocol.Message) ([]byte, error) {
		return nil, boom
	}}
	panicking := funcHandler{name: "panicking", proto: "panic", fn: func(context.Context, *protocol.Message) ([]byte, error) {
		panic("kaboom")
	}}
	reg, err := NewRegistry(failing, panicking, EchoHandler{})
	require.NoError(t, err)

	_, err = reg.Handle(context.Background(), request(1, "fail", nil))
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "failing", execErr.Handler)

	_, err = reg.Handle(context.Background(), request(2, "panic", nil))
	require.ErrorAs(t, err, &execErr)
	require.ErrorIs(t, err, ErrHandlerPanic)
	require.Equal(t, "kaboom", execErr.Panic)

	resp := reg.Dispatch(context.Background(), request(3, "panic", nil))
	require.Equal(t, KindHandlerExecution, resp.Error.Kind)

	resp = reg.Dispatch(context.Background(), request(4, EchoProtocol, []byte("still up")))
	require.False(t, resp.IsError())
}

func TestTypedUnknownRequestKind(t *testing.T) {
	testlog.Start(t)

	reg, err := NewRegistry(NewTypedMessageHandler(KindHandler{
		Kind: schema.ReqPing,
		Fn: func(context.Context, typed.Request) (typed.Response, error) {
			return typed.NewResponse(0, tlv.Uint64(schema.FieldUptimeMillis, 1), tlv.String(schema.FieldVersion, "t")), nil
		},
	}))
	require.NoError(t, err)

	payload := typed.EncodeRequest(typed.NewRequest(999))
	resp := reg.Dispatch(context.Background(), request(1, typed.Protocol, payload))
	require.True(t, resp.IsError())
	require.Equal(t, KindUnhandledRequestType, resp.Error.Kind)

	resp = reg.Dispatch(context.Background(), request(2, typed.Protocol, typed.EncodeRequest(typed.NewRequest(schema.ReqPing))))
	require.False(t, resp.IsError())
	out, err := typed.DecodeResponse(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, schema.RespPing, out.Kind)
}

func TestTypedInvalidResponseIsExecutionError(t *testing.T) {
	testlog.Start(t)

	reg, err := NewRegistry(NewTypedMessageHandler(KindHandler{
		Kind: schema.ReqPing,
		Fn: func(context.Context, typed.Request) (typed.Response, error) {
			return typed.NewResponse(0), nil
		},
	}))
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), request(1, typed.Protocol, typed.EncodeRequest(typed.NewRequest(schema.ReqPing))))
	require.True(t, resp.IsError())
	require.Equal(t, KindHandlerExecution, resp.Error.Kind)
}

func TestTypedMalformedPayload(t *testing.T) {
	testlog.Start(t)

	reg, err := NewRegistry(NewTypedMessageHandler())
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), request(1, typed.Protocol, []byte{0xff}))
	require.True(t, resp.IsError())
	require.Equal(t, KindHandlerExecution, resp.Error.Kind)
}

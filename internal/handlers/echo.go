package handlers

import (
	"context"

	"github.com/danmuck/indexd/internal/protocol"
)

const EchoProtocol = "echo"

// EchoHandler returns the request payload unchanged. Clients use it as a
// liveness probe.
type EchoHandler struct{}

func (EchoHandler) Name() string { return EchoProtocol }

func (EchoHandler) CanHandle(req *protocol.Message) bool {
	return req.Protocol == EchoProtocol
}

func (EchoHandler) Handle(_ context.Context, req *protocol.Message) ([]byte, error) {
	return req.Payload, nil
}

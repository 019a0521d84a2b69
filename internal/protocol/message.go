package protocol

import (
	"fmt"

	"github.com/danmuck/indexd/internal/protocol/frame"
	"github.com/danmuck/indexd/internal/protocol/tlv"
)

// Envelope field ids.
const (
	FieldProtocol     uint16 = 1
	FieldPayload      uint16 = 2
	FieldErrorKind    uint16 = 3
	FieldErrorMessage uint16 = 4
)

// Message is one decoded frame. ID correlates a request with its response
// and is zero for events.
type Message struct {
	Kind     frame.Kind
	ID       uint64
	Protocol string
	Payload  []byte
	Error    *ErrorInfo
}

func NewRequest(protocol string, payload []byte) *Message {
	return &Message{Kind: frame.KindRequest, Protocol: protocol, Payload: payload}
}

func NewEvent(protocol string, payload []byte) *Message {
	return &Message{Kind: frame.KindEvent, Protocol: protocol, Payload: payload}
}

// Reply builds the successful response to m.
func (m *Message) Reply(payload []byte) *Message {
	return &Message{Kind: frame.KindResponse, ID: m.ID, Protocol: m.Protocol, Payload: payload}
}

// ReplyError builds an error response to m.
func (m *Message) ReplyError(kind, msg string) *Message {
	return &Message{
		Kind:     frame.KindResponse,
		ID:       m.ID,
		Protocol: m.Protocol,
		Error:    &ErrorInfo{Kind: kind, Message: msg},
	}
}

func (m *Message) IsError() bool {
	return m.Error != nil
}

func (m *Message) String() string {
	return fmt.Sprintf("%s id=%d protocol=%s bytes=%d error=%t", m.Kind, m.ID, m.Protocol, len(m.Payload), m.IsError())
}

// Encode converts m into a frame.
func Encode(m *Message) frame.Frame {
	fields := []tlv.Field{
		tlv.String(FieldProtocol, m.Protocol),
	}
	if len(m.Payload) > 0 {
		fields = append(fields, tlv.Bytes(FieldPayload, m.Payload))
	}
	var flags uint32
	if m.Error != nil {
		flags |= frame.FlagIsError
		fields = append(fields,
			tlv.String(FieldErrorKind, m.Error.Kind),
			tlv.String(FieldErrorMessage, m.Error.Message),
		)
	}
	return frame.Frame{
		Header:  frame.Header{MessageID: m.ID, Kind: m.Kind, Flags: flags},
		Payload: tlv.EncodeFields(fields),
	}
}

// Decode converts a frame into a Message. A payload that does not parse is a
// framing error: the stream can no longer be trusted.
func Decode(f frame.Frame) (*Message, error) {
	fail := func(err error) (*Message, error) {
		return nil, &frame.FramingError{Op: "decode message", MessageID: f.Header.MessageID, Err: err}
	}

	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return fail(err)
	}
	proto, err := fields.GetString(FieldProtocol)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrMissingProtocol, err))
	}
	m := &Message{Kind: f.Header.Kind, ID: f.Header.MessageID, Protocol: proto}
	if fields.Has(FieldPayload) {
		if m.Payload, err = fields.GetBytes(FieldPayload); err != nil {
			return fail(err)
		}
	}
	if f.Header.Flags&frame.FlagIsError != 0 {
		kind, err := fields.GetString(FieldErrorKind)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrMalformedError, err))
		}
		msg, err := fields.OptString(FieldErrorMessage, "")
		if err != nil {
			return fail(err)
		}
		m.Error = &ErrorInfo{Kind: kind, Message: msg}
	}
	return m, nil
}

// Package typed carries a discriminated request/response/event union inside
// the payload of the "typed-message" protocol.
package typed

import (
	"errors"
	"fmt"

	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/tlv"
)

// Protocol is the outer protocol identifier for typed messages.
const Protocol = "typed-message"

const (
	fieldKind        uint16 = 1
	fieldOperationID uint16 = 2
	fieldBody        uint16 = 3
)

var ErrMalformed = errors.New("typed: malformed typed message")

type Request struct {
	Kind   uint32
	Fields tlv.Fields
}

type Response struct {
	Kind   uint32
	Fields tlv.Fields
}

// Event is pushed without correlation. OperationID ties it to the request
// or background operation that produced it.
type Event struct {
	Kind        uint32
	OperationID uint64
	Fields      tlv.Fields
}

func (r Request) String() string  { return schema.Name(r.Kind) }
func (r Response) String() string { return schema.Name(r.Kind) }
func (e Event) String() string    { return fmt.Sprintf("%s op=%d", schema.Name(e.Kind), e.OperationID) }

func NewRequest(kind uint32, fields ...tlv.Field) Request {
	return Request{Kind: kind, Fields: fields}
}

func NewResponse(kind uint32, fields ...tlv.Field) Response {
	return Response{Kind: kind, Fields: fields}
}

func NewEvent(kind uint32, operationID uint64, fields ...tlv.Field) Event {
	return Event{Kind: kind, OperationID: operationID, Fields: fields}
}

func EncodeRequest(r Request) []byte {
	return encode(r.Kind, 0, r.Fields)
}

func EncodeResponse(r Response) []byte {
	return encode(r.Kind, 0, r.Fields)
}

func EncodeEvent(e Event) []byte {
	return encode(e.Kind, e.OperationID, e.Fields)
}

// DecodeRequest parses a typed request. Known kinds are validated against the
// schema; unknown kinds decode so dispatch can reject them by kind.
func DecodeRequest(b []byte) (Request, error) {
	kind, _, body, err := decode(b)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: kind, Fields: body}, nil
}

func DecodeResponse(b []byte) (Response, error) {
	kind, _, body, err := decode(b)
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: kind, Fields: body}, nil
}

func DecodeEvent(b []byte) (Event, error) {
	kind, op, body, err := decode(b)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, OperationID: op, Fields: body}, nil
}

func encode(kind uint32, operationID uint64, body []tlv.Field) []byte {
	fields := []tlv.Field{tlv.Uint32(fieldKind, kind)}
	if operationID != 0 {
		fields = append(fields, tlv.Uint64(fieldOperationID, operationID))
	}
	fields = append(fields, tlv.Bytes(fieldBody, tlv.EncodeFields(body)))
	return tlv.EncodeFields(fields)
}

func decode(b []byte) (uint32, uint64, tlv.Fields, error) {
	outer, err := tlv.DecodeFields(b)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	kind, err := outer.GetUint32(fieldKind)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: kind: %w", ErrMalformed, err)
	}
	var op uint64
	if outer.Has(fieldOperationID) {
		if op, err = outer.GetUint64(fieldOperationID); err != nil {
			return 0, 0, nil, fmt.Errorf("%w: operation id: %w", ErrMalformed, err)
		}
	}
	var body tlv.Fields
	if outer.Has(fieldBody) {
		raw, err := outer.GetBytes(fieldBody)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("%w: body: %w", ErrMalformed, err)
		}
		if body, err = tlv.DecodeFields(raw); err != nil {
			return 0, 0, nil, fmt.Errorf("%w: body: %w", ErrMalformed, err)
		}
	}
	if schema.Known(kind) {
		if err := schema.Validate(kind, body); err != nil {
			return 0, 0, nil, err
		}
	}
	return kind, op, body, nil
}

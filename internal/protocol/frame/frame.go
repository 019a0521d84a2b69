package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 32
	Magic          uint32 = 0x49445831 // "IDX1"
	Version        uint16 = 1
	FlagIsError    uint32 = 0x01
)

var (
	// ErrConnectionClosed is a clean end of stream on a frame boundary.
	ErrConnectionClosed = errors.New("frame: connection closed")

	ErrFraming            = errors.New("frame: malformed frame")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLen          = errors.New("frame: invalid header_len")
	ErrUnknownKind        = errors.New("frame: unknown message kind")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrTruncated          = errors.New("frame: truncated frame")
)

// FramingError reports a frame that could not be read or written. It matches
// both ErrFraming and the specific cause under errors.Is.
type FramingError struct {
	Op        string
	MessageID uint64
	Err       error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("frame: %s message_id=%d: %v", e.Op, e.MessageID, e.Err)
}

func (e *FramingError) Unwrap() []error {
	return []error{ErrFraming, e.Err}
}

// Kind discriminates requests, responses and events.
type Kind uint32

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindEvent    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

func (k Kind) Valid() bool {
	return k >= KindRequest && k <= KindEvent
}

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	MessageID  uint64
	Kind       Kind
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame blocks until one full frame is read. A stream that ends before
// the first header byte yields ErrConnectionClosed; one that ends anywhere
// later yields a FramingError.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if n, err := io.ReadFull(r, fixed[:]); err != nil {
		switch {
		case n == 0 && errors.Is(err, io.EOF):
			return Frame{}, ErrConnectionClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, &FramingError{Op: "read header", Err: ErrTruncated}
		default:
			return Frame{}, err
		}
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := validate(h, limits); err != nil {
		return Frame{}, &FramingError{Op: "read header", MessageID: h.MessageID, Err: err}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, &FramingError{Op: "read payload", MessageID: h.MessageID, Err: ErrTruncated}
			}
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes header and payload with a single Write call so frames
// never interleave on a shared stream.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return &FramingError{Op: "write", MessageID: f.Header.MessageID, Err: ErrPayloadTooLarge}
	}
	if !f.Header.Kind.Valid() {
		return &FramingError{Op: "write", MessageID: f.Header.MessageID, Err: ErrUnknownKind}
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	buf := make([]byte, int(FixedHeaderLen)+len(f.Payload))
	putHeader(buf, h)
	copy(buf[FixedHeaderLen:], f.Payload)
	_, err := w.Write(buf)
	return err
}

func validate(h Header, limits Limits) error {
	switch {
	case h.Magic != Magic:
		return ErrBadMagic
	case h.Version != Version:
		return ErrUnsupportedVersion
	case h.HeaderLen != FixedHeaderLen:
		return ErrHeaderLen
	case !h.Kind.Valid():
		return ErrUnknownKind
	case h.PayloadLen > limits.MaxPayloadBytes:
		return ErrPayloadTooLarge
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Kind))
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		MessageID:  binary.BigEndian.Uint64(b[8:16]),
		Kind:       Kind(binary.BigEndian.Uint32(b[16:20])),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}

package events

import (
	"errors"
	"sync/atomic"

	"github.com/danmuck/indexd/internal/observability"
	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/session"
	"github.com/danmuck/indexd/internal/protocol/tlv"
	"github.com/danmuck/indexd/internal/protocol/typed"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Sender enqueues an outbound message without blocking.
type Sender interface {
	TrySend(m *protocol.Message) error
}

// Forwarder turns bus events into typed events on a connection's send queue.
// Delivery is fire-and-forget: a full queue drops the event. Progress events
// are additionally rate limited; every other kind is always offered.
type Forwarder struct {
	sender   Sender
	progress *rate.Limiter
	logger   zerolog.Logger

	sent      atomic.Uint64
	dropped   atomic.Uint64
	throttled atomic.Uint64
}

// NewForwarder limits progress events to perSecond. A non-positive value
// disables throttling.
func NewForwarder(sender Sender, perSecond float64) *Forwarder {
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = 1
	}
	return &Forwarder{
		sender:   sender,
		progress: rate.NewLimiter(limit, burst),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Attach subscribes the forwarder to bus.
func (f *Forwarder) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(f.Forward)
}

// Forward converts ev and offers it to the sender.
func (f *Forwarder) Forward(ev Event) {
	name := ev.Kind.String()
	// The final progress tick may be throttled; FilesLoaded reports completion.
	if ev.Kind == FilesLoadingProgress && !f.progress.Allow() {
		f.throttled.Add(1)
		observability.RecordEvent(name, "throttled")
		return
	}

	te, ok := ToTyped(ev)
	if !ok {
		f.logger.Warn().Str("event", name).Msg("events.Forwarder unknown event kind")
		return
	}
	err := f.sender.TrySend(protocol.NewEvent(typed.Protocol, typed.EncodeEvent(te)))
	switch {
	case err == nil:
		f.sent.Add(1)
		observability.RecordEvent(name, "sent")
	case errors.Is(err, session.ErrQueueFull):
		f.dropped.Add(1)
		observability.RecordEvent(name, "dropped")
		f.logger.Warn().Str("event", name).Uint64("operation_id", ev.OperationID).Err(err).Msg("events.Forwarder dropped event")
	default:
		f.dropped.Add(1)
		observability.RecordEvent(name, "closed")
		f.logger.Debug().Str("event", name).Err(err).Msg("events.Forwarder connection unavailable")
	}
}

// ForwarderStats counts forwarding outcomes.
type ForwarderStats struct {
	Sent      uint64
	Dropped   uint64
	Throttled uint64
}

func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Sent:      f.sent.Load(),
		Dropped:   f.dropped.Load(),
		Throttled: f.throttled.Load(),
	}
}

// ToTyped maps a lifecycle event onto its wire form.
func ToTyped(ev Event) (typed.Event, bool) {
	var kind uint32
	var fields []tlv.Field
	switch ev.Kind {
	case ScanStarted:
		kind = schema.EvtScanStarted
	case ScanFinished:
		kind = schema.EvtScanFinished
		fields = append(fields, tlv.Uint64(schema.FieldFiles, ev.Files))
	case FilesLoading:
		kind = schema.EvtFilesLoading
		fields = append(fields, tlv.Uint64(schema.FieldFilesTotal, ev.Total))
	case FilesLoadingProgress:
		kind = schema.EvtFilesLoadingProgress
		fields = append(fields,
			tlv.Uint64(schema.FieldFilesDone, ev.Done),
			tlv.Uint64(schema.FieldFilesTotal, ev.Total),
		)
	case FilesLoaded:
		kind = schema.EvtFilesLoaded
		fields = append(fields, tlv.Uint64(schema.FieldFiles, ev.Files))
	case IndexingStateChanged:
		kind = schema.EvtIndexingStateChanged
		fields = append(fields, tlv.Bool(schema.FieldPaused, ev.Paused))
	default:
		return typed.Event{}, false
	}
	if ev.Err != nil {
		fields = append(fields, tlv.String(schema.FieldError, ev.Err.Error()))
	}
	return typed.NewEvent(kind, ev.OperationID, fields...), true
}

package events

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// Bus channel and stream names used for committed events.
const (
	ChannelEvents = "events"
	StreamEvents  = "events:stream"
)

// Counter records per-kind event counts.
type Counter interface {
	Record(ctx context.Context, ev domain.Event) error
}

// BusSink publishes events as protobuf frames on a domain.SignalBus: live
// on ChannelEvents and durably on StreamEvents.
type BusSink struct {
	bus      domain.SignalBus
	counters Counter
}

// NewBusSink creates a sink on bus. counters may be nil.
func NewBusSink(bus domain.SignalBus, counters Counter) *BusSink {
	return &BusSink{bus: bus, counters: counters}
}

// Name implements domain.EventSink.
func (s *BusSink) Name() string { return "redis" }

// Handle implements domain.EventSink.
func (s *BusSink) Handle(ctx context.Context, ev domain.Event) error {
	frame, err := EncodeProto(ev)
	if err != nil {
		return err
	}
	if err := s.bus.StreamAppend(ctx, StreamEvents, frame); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, ChannelEvents, frame); err != nil {
		return err
	}
	if s.counters != nil {
		return s.counters.Record(ctx, ev)
	}
	return nil
}

// AuditSink copies events into the audit log.
type AuditSink struct {
	store domain.AuditStore
}

// NewAuditSink creates a sink writing to store.
func NewAuditSink(store domain.AuditStore) *AuditSink {
	return &AuditSink{store: store}
}

// Name implements domain.EventSink.
func (s *AuditSink) Name() string { return "audit" }

// Handle implements domain.EventSink.
func (s *AuditSink) Handle(ctx context.Context, ev domain.Event) error {
	rec := domain.AuditRecord{
		Action: string(ev.Kind),
		Actor:  ev.Actor,
		Detail: ev.Fields(),
		At:     ev.At,
	}
	if err := s.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("events: audit %s: %w", ev.Kind, err)
	}
	return nil
}

// Notifier delivers operator notifications filtered by event name.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Formatter renders an event as a notification title and body.
type Formatter func(ev domain.Event) (title, message string)

// NotifySink forwards events to operator channels.
type NotifySink struct {
	notifier Notifier
	format   Formatter
}

// NewNotifySink creates a sink that formats events with format.
func NewNotifySink(n Notifier, format Formatter) *NotifySink {
	return &NotifySink{notifier: n, format: format}
}

// Name implements domain.EventSink.
func (s *NotifySink) Name() string { return "notify" }

// Handle implements domain.EventSink.
func (s *NotifySink) Handle(ctx context.Context, ev domain.Event) error {
	title, msg := s.format(ev)
	return s.notifier.Notify(ctx, string(ev.Kind), title, msg)
}

var (
	_ domain.EventSink = (*BusSink)(nil)
	_ domain.EventSink = (*AuditSink)(nil)
	_ domain.EventSink = (*NotifySink)(nil)
)

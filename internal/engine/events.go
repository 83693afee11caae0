package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signlane/pkg/domain"
)

// Event is emitted after a transition commits. Any subscriber model (pub/sub,
// polling, websocket push) layers on top of this contract without touching
// the state machine.
type Event struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// LogPublisher writes each event as a structured log line; the default
// subscriber when no delivery transport is wired.
type LogPublisher struct{ Log *zap.Logger }

func (p LogPublisher) Publish(_ context.Context, ev Event) {
	p.Log.Info("event",
		zap.String("type", ev.Type),
		zap.String("request_id", ev.RequestID),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.Any("payload", ev.Payload),
	)
}

func eventFrom(entry domain.AuditEntry) Event {
	return Event{
		Type:       string(entry.Action),
		RequestID:  entry.RequestID,
		OccurredAt: entry.Timestamp,
		Payload:    entry.Details,
	}
}

package events

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryPublisher records events in memory. Used in tests and as the
// fallback bus when no Redis address is configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
	byChan map[string][]Envelope
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{byChan: make(map[string][]Envelope)}
}

func (p *MemoryPublisher) Publish(ctx context.Context, channel, eventType string, data map[string]any) error {
	env := NewEnvelope(eventType, data)
	p.mu.Lock()
	p.events = append(p.events, env)
	p.byChan[channel] = append(p.byChan[channel], env)
	p.mu.Unlock()
	return nil
}

// All returns every published event in publish order.
func (p *MemoryPublisher) All() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.events))
	copy(out, p.events)
	return out
}

// OnChannel returns the events published to a single channel.
func (p *MemoryPublisher) OnChannel(channel string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.byChan[channel]
	out := make([]Envelope, len(evs))
	copy(out, evs)
	return out
}

// LoggingPublisher wraps another publisher and logs failures instead of
// surfacing them. State authority lives in the ride state machine, not in
// successful delivery of its announcements, so this is where publish errors
// stop propagating.
type LoggingPublisher struct {
	Next   Publisher
	Logger *slog.Logger
}

func (p *LoggingPublisher) Publish(ctx context.Context, channel, eventType string, data map[string]any) error {
	if err := p.Next.Publish(ctx, channel, eventType, data); err != nil {
		p.Logger.Error("event publish failed", "channel", channel, "event_type", eventType, "error", err)
	}
	return nil
}

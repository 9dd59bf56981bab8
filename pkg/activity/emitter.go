package activity

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "tracker"

// Config controls emission defaults supplied by settings.
type Config struct {
	Enabled bool
	Channel string
}

// Emitter normalizes events, numbers them and fans them out to hooks.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	seq     atomic.Uint64
	now     func() time.Time
}

// NewEmitter returns an emitter over hooks; nil hooks are dropped. An
// emitter without hooks is disabled.
func NewEmitter(cfg Config, hooks ...Hook) *Emitter {
	kept := make(Hooks, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			kept = append(kept, h)
		}
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Emitter{
		hooks:   kept,
		enabled: cfg.Enabled && len(kept) > 0,
		channel: channel,
		now:     time.Now,
	}
}

func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Emit delivers event to every hook. Invalid events are dropped silently.
// Sequence numbers start at 1 and grow by one per delivered event.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	event = Normalize(event, e.now())
	if !event.Valid() {
		return nil
	}
	if event.Channel == "" {
		event.Channel = e.channel
	}
	event.Sequence = e.seq.Add(1)
	if ctx == nil {
		ctx = context.Background()
	}
	return e.hooks.Notify(ctx, event)
}

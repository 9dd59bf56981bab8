package activity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Hook receives normalized events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, event Event) error

func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks notifies every member in order and joins their errors.
type Hooks []Hook

func (h Hooks) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter forwards only events whose verb is listed. No verbs forwards all.
func Filter(hook Hook, verbs ...string) Hook {
	if len(verbs) == 0 {
		return hook
	}
	allowed := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		allowed[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return HookFunc(func(ctx context.Context, event Event) error {
		if _, ok := allowed[strings.ToLower(event.Verb)]; !ok {
			return nil
		}
		return hook.Notify(ctx, event)
	})
}

// CaptureHook records events, mostly for tests.
type CaptureHook struct {
	// Err is returned from every Notify.
	Err error

	mu     sync.Mutex
	events []Event
}

func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.Err
}

// Events returns a copy of the recorded events.
func (h *CaptureHook) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Verbs returns the recorded verbs in order.
func (h *CaptureHook) Verbs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	verbs := make([]string, len(h.events))
	for i, e := range h.events {
		verbs[i] = e.Verb
	}
	return verbs
}

func (h *CaptureHook) Reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

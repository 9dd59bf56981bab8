package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context names the document being decoded. Slug identifies the document
// kind ("metadata", "custom"); Scope is the owning store or type name.
type Context struct {
	Slug  string
	Scope string
}

func (c Context) label() string {
	if c.Scope == "" {
		return c.Slug
	}
	return c.Slug + "@" + c.Scope
}

// PreHook rewrites or checks the payload before decoding. Returning a nil
// map keeps the current payload.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the encoding/json step.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder.
type DecoderOption[T any] func(*Decoder[T])

// Decoder turns loosely typed documents into T. Payloads are deep-copied
// through JSON before hooks run, so callers' maps are never modified.
type Decoder[T any] struct {
	preHooks  []PreHook
	postHooks []PostHook[T]
	configure []func(*json.Decoder)
	custom    CustomDecoder[T]
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.preHooks = append(d.preHooks, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.postHooks = append(d.postHooks, hook)
		}
	}
}

// WithUseNumber keeps numbers as json.Number.
func WithUseNumber[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(dec *json.Decoder) { dec.UseNumber() })
}

// WithDisallowUnknownFields rejects keys T does not declare.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(dec *json.Decoder) { dec.DisallowUnknownFields() })
}

// WithDecoderConfig exposes the json.Decoder used for the final step.
func WithDecoderConfig[T any](configure func(*json.Decoder)) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if configure != nil {
			d.configure = append(d.configure, configure)
		}
	}
}

func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

// NewDecoder builds a Decoder. Without options it is plain encoding/json.
func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// DecodeJSON unmarshals data into a map and decodes it.
func (d *Decoder[T]) DecodeJSON(ctx Context, data []byte) (T, error) {
	var zero T
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return zero, fmt.Errorf("hydrate: parse %s: %w", ctx.label(), err)
	}
	return d.Decode(ctx, payload)
}

// Decode runs the pre hooks, decodes payload into T and runs the post hooks.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("hydrate: %s payload is nil", ctx.label())
	}
	current, err := clonePayload(payload)
	if err != nil {
		return zero, fmt.Errorf("hydrate: copy %s: %w", ctx.label(), err)
	}
	for _, hook := range d.preHooks {
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: %s pre-hook: %w", ctx.label(), err)
		}
		if next != nil {
			current = next
		}
	}

	result, err := d.decode(ctx, current)
	if err != nil {
		return zero, err
	}
	for _, hook := range d.postHooks {
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: %s post-hook: %w", ctx.label(), err)
		}
	}
	return result, nil
}

func (d *Decoder[T]) decode(ctx Context, payload map[string]any) (T, error) {
	var result T
	if d.custom != nil {
		out, err := d.custom(ctx, payload)
		if err != nil {
			return result, fmt.Errorf("hydrate: %s custom decoder: %w", ctx.label(), err)
		}
		return out, nil
	}
	buffer, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("hydrate: encode %s: %w", ctx.label(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(buffer))
	for _, configure := range d.configure {
		configure(dec)
	}
	if err := dec.Decode(&result); err != nil {
		return result, fmt.Errorf("hydrate: decode %s: %w", ctx.label(), err)
	}
	return result, nil
}

func clonePayload(payload map[string]any) (map[string]any, error) {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, err
	}
	return out, nil
}

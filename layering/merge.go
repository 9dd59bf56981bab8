// Package layering merges custom metadata blocks ordered from strongest to
// weakest. Metadata imports use it to overlay incoming custom blocks onto the
// ones already registered.
package layering

// Merge returns a new block where keys of earlier layers win. Nested blocks
// (map[string]any) merge per key; any other value, lists included, is taken
// whole from the strongest layer that sets it. Nil layers are skipped and the
// result is nil when every layer is nil.
func Merge(layers ...map[string]any) map[string]any {
	var out map[string]any
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] == nil {
			continue
		}
		out = overlay(layers[i], out)
	}
	return out
}

func overlay(strong, weak map[string]any) map[string]any {
	out := Clone(weak)
	if out == nil {
		out = make(map[string]any, len(strong))
	}
	for k, v := range strong {
		sv, strongIsBlock := v.(map[string]any)
		wv, weakIsBlock := out[k].(map[string]any)
		if strongIsBlock && weakIsBlock {
			out[k] = overlay(sv, wv)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone deep-copies a custom block, descending into nested blocks and lists.
func Clone(custom map[string]any) map[string]any {
	if custom == nil {
		return nil
	}
	out := make(map[string]any, len(custom))
	for k, v := range custom {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

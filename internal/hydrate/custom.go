package hydrate

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeCustom decodes a metadata custom block into T. Keys match `json`
// tags case-insensitively; strings convert to durations and weakly typed
// scalars are coerced.
func DecodeCustom[T any](custom map[string]any) (T, error) {
	var out T
	if custom == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return out, fmt.Errorf("hydrate: custom decoder: %w", err)
	}
	if err := dec.Decode(custom); err != nil {
		return out, fmt.Errorf("hydrate: decode custom: %w", err)
	}
	return out, nil
}

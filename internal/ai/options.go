package ai

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultMaxTokens applies when neither the request nor the provider sets a
// token ceiling.
const DefaultMaxTokens = 1024

// Options override a provider's generation defaults for one request.
// Temperature, TopP and TopK are pointers so that an explicit zero is
// honored rather than replaced by the provider default.
type Options struct {
	SystemPrompt  string         `mapstructure:"system_prompt"`
	MaxTokens     int            `mapstructure:"max_tokens"`
	Temperature   *float64       `mapstructure:"temperature"`
	TopP          *float64       `mapstructure:"top_p"`
	TopK          *int           `mapstructure:"top_k"`
	StopSequences []string       `mapstructure:"stop_sequences"`
	Extra         map[string]any `mapstructure:",remain"`
}

// DecodeOptions converts a loose JSON object into Options. Keys match
// case-insensitively with or without underscores, so "maxTokens" and
// "max_tokens" are equivalent. Unknown keys land in Extra.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return opts, fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

func (o Options) maxTokens(providerDefault int) int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	if providerDefault > 0 {
		return providerDefault
	}
	return DefaultMaxTokens
}

func (o Options) temperature(providerDefault float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return providerDefault
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

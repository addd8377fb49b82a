package llm

// CompletionOptions describes sampling behavior for one completion call.
// Every field is optional: nil means "not set", which is different from a
// value explicitly set to zero.
type CompletionOptions struct {
	MaxTokens        *int     `mapstructure:"max_tokens"`
	Temperature      *float64 `mapstructure:"temperature"`
	TopP             *float64 `mapstructure:"top_p"`
	FrequencyPenalty *float64 `mapstructure:"frequency_penalty"`
	PresencePenalty  *float64 `mapstructure:"presence_penalty"`
	Stop             []string `mapstructure:"stop"`
}

// Wire keys used by Projection.
const (
	OptMaxTokens        = "max_tokens"
	OptTemperature      = "temperature"
	OptTopP             = "top_p"
	OptFrequencyPenalty = "frequency_penalty"
	OptPresencePenalty  = "presence_penalty"
	OptStop             = "stop"
)

// DefaultCompletionOptions returns the receptionist's baseline sampling.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		MaxTokens:        Int(256),
		Temperature:      Float(1),
		TopP:             Float(1),
		FrequencyPenalty: Float(0),
		PresencePenalty:  Float(0),
	}
}

// Projection returns only the explicitly set fields, keyed by wire name.
// Zero values that were set are kept.
func (o CompletionOptions) Projection() map[string]any {
	out := make(map[string]any, 6)
	if o.MaxTokens != nil {
		out[OptMaxTokens] = *o.MaxTokens
	}
	if o.Temperature != nil {
		out[OptTemperature] = *o.Temperature
	}
	if o.TopP != nil {
		out[OptTopP] = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		out[OptFrequencyPenalty] = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		out[OptPresencePenalty] = *o.PresencePenalty
	}
	if o.Stop != nil {
		stop := make([]string, len(o.Stop))
		copy(stop, o.Stop)
		out[OptStop] = stop
	}
	return out
}

// Merge returns o with every field set in override replacing the corresponding field.
func (o CompletionOptions) Merge(override CompletionOptions) CompletionOptions {
	if override.MaxTokens != nil {
		o.MaxTokens = Int(*override.MaxTokens)
	}
	if override.Temperature != nil {
		o.Temperature = Float(*override.Temperature)
	}
	if override.TopP != nil {
		o.TopP = Float(*override.TopP)
	}
	if override.FrequencyPenalty != nil {
		o.FrequencyPenalty = Float(*override.FrequencyPenalty)
	}
	if override.PresencePenalty != nil {
		o.PresencePenalty = Float(*override.PresencePenalty)
	}
	if override.Stop != nil {
		o.Stop = append([]string(nil), override.Stop...)
	}
	return o
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

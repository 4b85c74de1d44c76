package inference

import (
	"fmt"
	"math"

	"github.com/tripwise/planner/backend/internal/config"
)

// DefaultStop lists the Llama 3 markers that end an assistant turn.
func DefaultStop() []string {
	return []string{"<|eot_id|>", "<|end_of_text|>"}
}

// ResolveParams fills unset overrides from defaults and validates the result
// against the context window. Out-of-range values are rejected, never
// clamped.
func ResolveParams(defaults config.GenerationConfig, contextWindow int, temperature *float64, maxTokens *int) (Params, error) {
	p := Params{
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
		TopP:        defaults.TopP,
		Stop:        DefaultStop(),
	}
	if temperature != nil {
		p.Temperature = *temperature
	}
	if maxTokens != nil {
		p.MaxTokens = *maxTokens
	}
	if err := p.Validate(contextWindow); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks p against the documented ranges.
func (p Params) Validate(contextWindow int) error {
	if math.IsNaN(p.Temperature) || p.Temperature < config.MinTemperature || p.Temperature > config.MaxTemperature {
		return fmt.Errorf("%w: temperature %v outside [%.0f, %.0f]", ErrInvalidParameter, p.Temperature, config.MinTemperature, config.MaxTemperature)
	}
	if p.MaxTokens < 1 || (contextWindow > 0 && p.MaxTokens > contextWindow) {
		return fmt.Errorf("%w: max tokens %d outside [1, %d]", ErrInvalidParameter, p.MaxTokens, contextWindow)
	}
	if math.IsNaN(p.TopP) || p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("%w: top_p %v outside [0, 1]", ErrInvalidParameter, p.TopP)
	}
	return nil
}

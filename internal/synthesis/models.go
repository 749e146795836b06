package synthesis

import (
	"fmt"
	"sort"

	"imageforge/internal/domain"
)

// ModelConfig describes one supported synthesis model.
type ModelConfig struct {
	ID               string
	CostCredits      int
	EstimatedSeconds int
	DefaultSteps     int
	MinSteps         int
	MaxSteps         int
}

// Model catalog. Cost is fixed per model and stamped onto the generation
// record at submission time.
var modelCatalog = map[string]ModelConfig{
	"flux-schnell": {ID: "flux-schnell", CostCredits: 1, EstimatedSeconds: 5, DefaultSteps: 4, MinSteps: 4, MaxSteps: 4},
	"flux-dev":     {ID: "flux-dev", CostCredits: 2, EstimatedSeconds: 15, DefaultSteps: 28, MinSteps: 20, MaxSteps: 50},
	"flux-pro":     {ID: "flux-pro", CostCredits: 5, EstimatedSeconds: 25, DefaultSteps: 40, MinSteps: 40, MaxSteps: 100},
}

var validDimensions = map[int]bool{512: true, 768: true, 1024: true, 1536: true}

// Models lists the catalog in stable order.
func Models() []ModelConfig {
	ids := make([]string, 0, len(modelCatalog))
	for id := range modelCatalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ModelConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, modelCatalog[id])
	}
	return out
}

// LookupModel resolves a model identifier against the catalog.
func LookupModel(id string) (ModelConfig, error) {
	cfg, ok := modelCatalog[id]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: unknown model %q", domain.ErrValidation, id)
	}
	return cfg, nil
}

// ValidateSettings checks the open settings bag against the model's schema.
// Unknown keys pass through untouched; the worker never re-validates.
func ValidateSettings(model string, settings map[string]any) error {
	cfg, err := LookupModel(model)
	if err != nil {
		return err
	}
	for _, key := range []string{"width", "height"} {
		if raw, ok := settings[key]; ok {
			dim, ok := asInt(raw)
			if !ok || !validDimensions[dim] {
				return fmt.Errorf("%w: %s must be one of 512, 768, 1024, 1536", domain.ErrValidation, key)
			}
		}
	}
	if raw, ok := settings["num_inference_steps"]; ok {
		steps, ok := asInt(raw)
		if !ok || steps < cfg.MinSteps || steps > cfg.MaxSteps {
			return fmt.Errorf("%w: num_inference_steps must be between %d and %d for %s",
				domain.ErrValidation, cfg.MinSteps, cfg.MaxSteps, model)
		}
	}
	if raw, ok := settings["guidance_scale"]; ok {
		scale, ok := asFloat(raw)
		if !ok || scale < 1.0 || scale > 20.0 {
			return fmt.Errorf("%w: guidance_scale must be between 1 and 20", domain.ErrValidation)
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

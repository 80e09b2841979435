package executor

import (
	"fmt"

	"github.com/sluiceio/sluice/pkg/config"
)

// MergeSource tags which side a merged field came from.
type MergeSource string

const (
	FromBase     MergeSource = "base"
	FromOverride MergeSource = "override"
)

// MergeOverride folds an executor override into a base config. Accepted
// override shapes:
//
//	nil                  the base, untouched
//	string               shorthand for {type: s}
//	config.ExecutorPatch presence-tracked partial config (also *ExecutorPatch)
//	map[string]any       the same, as decoded YAML/JSON
//
// A field wins by presence, never by value: an override equal to the base is
// still tagged FromOverride, and an explicit null clears the field to its
// zero value. The returned map records the winning side per field.
func MergeOverride(base config.ExecutorConfig, override any) (config.ExecutorConfig, map[string]MergeSource, error) {
	sources := map[string]MergeSource{
		"type":        FromBase,
		"max_workers": FromBase,
		"num_cpus":    FromBase,
	}

	patch, err := asPatch(override)
	if err != nil {
		return config.ExecutorConfig{}, nil, err
	}
	if patch == nil {
		return base, sources, nil
	}

	merged := base
	if patch.Type.IsSet() {
		merged.Type = patch.Type.Value()
		sources["type"] = FromOverride
	}
	if patch.MaxWorkers.IsSet() {
		merged.MaxWorkers = patch.MaxWorkers.Value()
		sources["max_workers"] = FromOverride
	}
	if patch.NumCPUs.IsSet() {
		merged.NumCPUs = patch.NumCPUs.Value()
		sources["num_cpus"] = FromOverride
	}

	if !merged.Type.Valid() {
		return config.ExecutorConfig{}, nil, &ResolutionError{
			Field:   "type",
			Value:   string(merged.Type),
			Allowed: config.ExecutorTypes,
			Message: "unknown executor type",
		}
	}
	if merged.MaxWorkers < 0 {
		return config.ExecutorConfig{}, nil, &ResolutionError{
			Field:   "max_workers",
			Value:   merged.MaxWorkers,
			Message: "must not be negative",
		}
	}
	if merged.NumCPUs < 0 {
		return config.ExecutorConfig{}, nil, &ResolutionError{
			Field:   "num_cpus",
			Value:   merged.NumCPUs,
			Message: "must not be negative",
		}
	}
	return merged, sources, nil
}

// asPatch normalizes the accepted override shapes into a single patch.
func asPatch(override any) (*config.ExecutorPatch, error) {
	switch v := override.(type) {
	case nil:
		return nil, nil
	case string:
		p := config.ExecutorPatch{Type: config.Some(config.ExecutorType(v))}
		return &p, nil
	case config.ExecutorPatch:
		return &v, nil
	case *config.ExecutorPatch:
		return v, nil
	case map[string]any:
		return patchFromMap(v)
	default:
		return nil, &ResolutionError{
			Value:   override,
			Message: fmt.Sprintf("unsupported executor override type %T", override),
		}
	}
}

func patchFromMap(m map[string]any) (*config.ExecutorPatch, error) {
	var p config.ExecutorPatch
	for key, raw := range m {
		switch key {
		case "type":
			// A key mapped to nil is an explicit null: present, zero value.
			if raw == nil {
				p.Type = config.Some(config.ExecutorType(""))
				continue
			}
			s, ok := raw.(string)
			if !ok {
				return nil, &ResolutionError{
					Field:   "type",
					Value:   raw,
					Message: fmt.Sprintf("expected string, got %T", raw),
				}
			}
			p.Type = config.Some(config.ExecutorType(s))
		case "max_workers":
			opt, err := intOption("max_workers", raw)
			if err != nil {
				return nil, err
			}
			p.MaxWorkers = opt
		case "num_cpus":
			opt, err := intOption("num_cpus", raw)
			if err != nil {
				return nil, err
			}
			p.NumCPUs = opt
		default:
			return nil, &ResolutionError{
				Field:   key,
				Value:   raw,
				Allowed: []string{"type", "max_workers", "num_cpus"},
				Message: "unknown executor field",
			}
		}
	}
	return &p, nil
}

func intOption(field string, raw any) (config.Option[int], error) {
	if raw == nil {
		return config.Some(0), nil
	}
	switch n := raw.(type) {
	case int:
		return config.Some(n), nil
	case int64:
		return config.Some(int(n)), nil
	case float64:
		if n != float64(int(n)) {
			return config.None[int](), &ResolutionError{
				Field:   field,
				Value:   raw,
				Message: "expected integer, got fractional number",
			}
		}
		return config.Some(int(n)), nil
	default:
		return config.None[int](), &ResolutionError{
			Field:   field,
			Value:   raw,
			Message: fmt.Sprintf("expected integer, got %T", raw),
		}
	}
}

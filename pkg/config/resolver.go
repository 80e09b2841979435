package config

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/sluiceio/sluice/pkg/retry"
)

// Resolved is the outcome of a resolution: the owned RunConfig, the
// per-field source tags, and the retry matchers compiled from
// retry_exceptions. The value aliases nothing from the input sources.
type Resolved struct {
	RunConfig

	// Sources maps each field path to the source it resolved from.
	Sources map[string]Source

	// Matchers are the retry-exception matchers, resolved at load time.
	Matchers []retry.Matcher
}

// SourceOf returns the resolution source for a field path, e.g.
// "executor.max_workers".
func (r *Resolved) SourceOf(field string) Source {
	return r.Sources[field]
}

var validate = validator.New()

// Resolve merges the candidate sources into a RunConfig. For every field the
// first source where the field is present wins, in this order: runtime
// override, pipeline-scoped env, YAML, project-scoped env, global env, code
// default. Presence is the Option flag; equality between a candidate value
// and the default never suppresses the candidate.
//
// Validation runs on the merged result before it is returned: numeric
// ranges, the executor type enum, and retry exception names (resolved
// against reg) must all pass, so no run ever starts on an invalid config.
func Resolve(defaults RunConfig, yamlPatch *RunPatch, overlay Overlay, override *RunPatch, reg *retry.Registry) (*Resolved, error) {
	res := &Resolved{Sources: make(map[string]Source)}

	// Candidate patches in precedence order, highest first.
	ladder := []rung{
		{SourceRuntime, override},
		{SourceEnvPipeline, &overlay.Pipeline},
		{SourceYAML, yamlPatch},
		{SourceEnvProject, &overlay.Project},
		{SourceEnvGlobal, &overlay.Global},
	}

	res.Executor.Type = pick(res, "executor.type", defaults.Executor.Type,
		collect(ladder, func(p *RunPatch) Option[ExecutorType] {
			return execField(p, func(e ExecutorPatch) Option[ExecutorType] { return e.Type })
		})...)
	res.Executor.MaxWorkers = pick(res, "executor.max_workers", defaults.Executor.MaxWorkers,
		collect(ladder, func(p *RunPatch) Option[int] {
			return execField(p, func(e ExecutorPatch) Option[int] { return e.MaxWorkers })
		})...)
	res.Executor.NumCPUs = pick(res, "executor.num_cpus", defaults.Executor.NumCPUs,
		collect(ladder, func(p *RunPatch) Option[int] {
			return execField(p, func(e ExecutorPatch) Option[int] { return e.NumCPUs })
		})...)

	res.Retry.MaxRetries = pick(res, "retry.max_retries", defaults.Retry.MaxRetries,
		collect(ladder, func(p *RunPatch) Option[int] {
			return retryField(p, func(r RetryPatch) Option[int] { return r.MaxRetries })
		})...)
	res.Retry.RetryDelay = pick(res, "retry.retry_delay", defaults.Retry.RetryDelay,
		collect(ladder, func(p *RunPatch) Option[float64] {
			return retryField(p, func(r RetryPatch) Option[float64] { return r.RetryDelay })
		})...)
	res.Retry.JitterFactor = pick(res, "retry.jitter_factor", defaults.Retry.JitterFactor,
		collect(ladder, func(p *RunPatch) Option[*float64] {
			return retryField(p, func(r RetryPatch) Option[*float64] { return r.JitterFactor })
		})...)
	res.Retry.RetryExceptions = pick(res, "retry.retry_exceptions", defaults.Retry.RetryExceptions,
		collect(ladder, func(p *RunPatch) Option[[]string] {
			return retryField(p, func(r RetryPatch) Option[[]string] { return r.RetryExceptions })
		})...)

	res.FinalVars = pick(res, "final_vars", defaults.FinalVars,
		collect(ladder, func(p *RunPatch) Option[[]string] {
			if p == nil {
				return None[[]string]()
			}
			return p.FinalVars
		})...)
	res.Params = pick(res, "params", defaults.Params,
		collect(ladder, func(p *RunPatch) Option[map[string]any] {
			if p == nil {
				return None[map[string]any]()
			}
			return p.Params
		})...)
	res.LogLevel = pick(res, "log_level", defaults.LogLevel,
		collect(ladder, func(p *RunPatch) Option[string] {
			if p == nil {
				return None[string]()
			}
			return p.LogLevel
		})...)

	// Detach the result from its sources.
	res.FinalVars = cloneSlice(res.FinalVars)
	res.Retry.RetryExceptions = cloneSlice(res.Retry.RetryExceptions)
	res.Params = cloneMap(res.Params)

	if err := validateResolved(res, reg); err != nil {
		return nil, err
	}
	return res, nil
}

// rung is one source in the precedence ladder.
type rung struct {
	src   Source
	patch *RunPatch
}

// candidate pairs a source tag with the field value it offers.
type candidate[T any] struct {
	src Source
	opt Option[T]
}

// pick returns the first present candidate, tagging the field's source; with
// none present, the default wins.
func pick[T any](res *Resolved, field string, def T, cands ...candidate[T]) T {
	for _, c := range cands {
		if c.opt.IsSet() {
			res.Sources[field] = c.src
			return c.opt.Value()
		}
	}
	res.Sources[field] = SourceDefault
	return def
}

func collect[T any](ladder []rung, get func(*RunPatch) Option[T]) []candidate[T] {
	out := make([]candidate[T], 0, len(ladder))
	for _, rung := range ladder {
		out = append(out, candidate[T]{src: rung.src, opt: get(rung.patch)})
	}
	return out
}

func execField[T any](p *RunPatch, get func(ExecutorPatch) Option[T]) Option[T] {
	if p == nil || !p.Executor.IsSet() {
		return None[T]()
	}
	return get(p.Executor.Value())
}

func retryField[T any](p *RunPatch, get func(RetryPatch) Option[T]) Option[T] {
	if p == nil || !p.Retry.IsSet() {
		return None[T]()
	}
	return get(p.Retry.Value())
}

func validateResolved(res *Resolved, reg *retry.Registry) error {
	if !res.Executor.Type.Valid() {
		return &ValidationError{
			Field:   "executor.type",
			Value:   string(res.Executor.Type),
			Allowed: ExecutorTypes,
			Message: "unknown executor type",
		}
	}

	if err := validate.Struct(res.RunConfig); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   fieldPath(fe),
				Value:   fe.Value(),
				Message: "failed " + fe.Tag() + " constraint",
			}
		}
		return &ValidationError{Message: "validation failed", Err: err}
	}

	if reg != nil {
		matchers, err := retry.ResolveNames(res.Retry.RetryExceptions, reg)
		if err != nil {
			return &ValidationError{
				Field:   "retry.retry_exceptions",
				Value:   res.Retry.RetryExceptions,
				Message: "unresolvable error kind",
				Err:     err,
			}
		}
		res.Matchers = matchers
	}
	return nil
}

// fieldPath converts a validator namespace like
// "RunConfig.Retry.MaxRetries" into the YAML-ish "retry.max_retries".
func fieldPath(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "RunConfig.Executor.MaxWorkers":
		return "executor.max_workers"
	case "RunConfig.Executor.NumCPUs":
		return "executor.num_cpus"
	case "RunConfig.Retry.MaxRetries":
		return "retry.max_retries"
	case "RunConfig.Retry.RetryDelay":
		return "retry.retry_delay"
	case "RunConfig.Retry.JitterFactor":
		return "retry.jitter_factor"
	}
	return fe.StructNamespace()
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

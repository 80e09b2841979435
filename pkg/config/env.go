package config

import (
	"sort"
	"strconv"
	"strings"
)

// EnvPrefix is the variable prefix all overlay tiers share.
const EnvPrefix = "SLUICE_"

const (
	envProjectMarker  = "PROJECT__"
	envPipelineMarker = "PIPELINE__RUN__"
)

// EnvScope tags an overlay entry with its specificity tier. Pipeline-scoped
// entries outrank project-scoped ones, which outrank the global shim.
type EnvScope string

const (
	ScopeGlobal   EnvScope = "global"
	ScopeProject  EnvScope = "project"
	ScopePipeline EnvScope = "pipeline"
)

// EnvEntry is one parsed overlay variable: a field path, the coerced value,
// and the scope it was found at. Entries are ephemeral; the overlay is
// recomputed from the environment on every load and never persisted.
type EnvEntry struct {
	Scope EnvScope
	Path  string
	Value any
}

// Overlay is the environment parsed into per-scope run patches.
type Overlay struct {
	Global   RunPatch
	Project  RunPatch
	Pipeline RunPatch

	// Entries preserves the raw parse for diagnostics, ordered by path.
	Entries []EnvEntry
}

// ParseEnviron builds an Overlay from environ, a list of "KEY=VALUE" pairs
// as returned by os.Environ. Variables outside the prefix, and prefixed
// variables whose path does not name a RunConfig field, are ignored.
//
// Values are coerced with the same JSON-first rule as interpolation:
// "5" becomes the integer 5, "[\"a\"]" a list, anything unparsable stays a
// string.
func ParseEnviron(environ []string) Overlay {
	var ov Overlay
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, raw := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		rest := key[len(EnvPrefix):]

		scope := ScopeGlobal
		switch {
		case strings.HasPrefix(rest, envPipelineMarker):
			scope = ScopePipeline
			rest = rest[len(envPipelineMarker):]
		case strings.HasPrefix(rest, envProjectMarker):
			scope = ScopeProject
			rest = rest[len(envProjectMarker):]
		}
		if rest == "" {
			continue
		}

		path := strings.ToLower(strings.ReplaceAll(rest, "__", "."))
		value := coerceEnvValue(raw)

		var patch *RunPatch
		switch scope {
		case ScopePipeline:
			patch = &ov.Pipeline
		case ScopeProject:
			patch = &ov.Project
		default:
			patch = &ov.Global
		}
		if applyEnvField(patch, path, value) {
			ov.Entries = append(ov.Entries, EnvEntry{Scope: scope, Path: path, Value: value})
		}
	}
	sort.Slice(ov.Entries, func(i, j int) bool {
		if ov.Entries[i].Path != ov.Entries[j].Path {
			return ov.Entries[i].Path < ov.Entries[j].Path
		}
		return ov.Entries[i].Scope < ov.Entries[j].Scope
	})
	return ov
}

// coerceEnvValue applies the JSON-first/string-fallback rule to a raw
// environment value.
func coerceEnvValue(raw string) any {
	if v, ok := coerceJSON(raw); ok {
		return v
	}
	return raw
}

// applyEnvField assigns a coerced value into the patch field named by the
// dotted path. Unknown paths report false and are skipped; type mismatches
// fall back to sensible conversions where they exist and are otherwise
// dropped rather than failing the whole load.
func applyEnvField(p *RunPatch, path string, value any) bool {
	switch path {
	case "executor.type":
		if s, ok := asString(value); ok {
			ex := p.Executor.Value()
			ex.Type = Some(ExecutorType(s))
			p.Executor = Some(ex)
			return true
		}
	case "executor.max_workers":
		if n, ok := asInt(value); ok {
			ex := p.Executor.Value()
			ex.MaxWorkers = Some(n)
			p.Executor = Some(ex)
			return true
		}
	case "executor.num_cpus":
		if n, ok := asInt(value); ok {
			ex := p.Executor.Value()
			ex.NumCPUs = Some(n)
			p.Executor = Some(ex)
			return true
		}
	case "retry.max_retries":
		if n, ok := asInt(value); ok {
			rt := p.Retry.Value()
			rt.MaxRetries = Some(n)
			p.Retry = Some(rt)
			return true
		}
	case "retry.retry_delay":
		if f, ok := asFloat(value); ok {
			rt := p.Retry.Value()
			rt.RetryDelay = Some(f)
			p.Retry = Some(rt)
			return true
		}
	case "retry.jitter_factor":
		rt := p.Retry.Value()
		if value == nil {
			rt.JitterFactor = Some[*float64](nil)
			p.Retry = Some(rt)
			return true
		}
		if f, ok := asFloat(value); ok {
			rt.JitterFactor = Some(&f)
			p.Retry = Some(rt)
			return true
		}
	case "retry.retry_exceptions":
		if names, ok := asStringSlice(value); ok {
			rt := p.Retry.Value()
			rt.RetryExceptions = Some(names)
			p.Retry = Some(rt)
			return true
		}
	case "final_vars":
		if vars, ok := asStringSlice(value); ok {
			p.FinalVars = Some(vars)
			return true
		}
	case "params":
		if m, ok := value.(map[string]any); ok {
			p.Params = Some(m)
			return true
		}
	case "log_level":
		if s, ok := asString(value); ok {
			p.LogLevel = Some(s)
			return true
		}
	}
	return false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		// A bare comma-separated list is accepted for convenience.
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

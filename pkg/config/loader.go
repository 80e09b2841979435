package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// legacyRetryFields are the deprecated flat keys accepted at the run level
// for migration. They are never written back.
var legacyRetryFields = []string{"max_retries", "retry_delay", "jitter_factor", "retry_exceptions"}

// fileDoc is the on-disk shape: a single top-level "run" object.
type fileDoc struct {
	Run runDoc `yaml:"run"`
}

// runDoc is the run object as read from disk: the regular patch fields plus
// the deprecated flat retry keys.
type runDoc struct {
	RunPatch `yaml:",inline"`

	LegacyMaxRetries      Option[int]      `yaml:"max_retries"`
	LegacyRetryDelay      Option[float64]  `yaml:"retry_delay"`
	LegacyJitterFactor    Option[*float64] `yaml:"jitter_factor"`
	LegacyRetryExceptions Option[[]string] `yaml:"retry_exceptions"`
}

func (d *runDoc) hasLegacy() bool {
	return d.LegacyMaxRetries.IsSet() || d.LegacyRetryDelay.IsSet() ||
		d.LegacyJitterFactor.IsSet() || d.LegacyRetryExceptions.IsSet()
}

// ParseDocument interpolates and decodes a raw YAML config document into a
// presence-tracked patch, applying the legacy retry-field migration. The
// lookup defaults to os.LookupEnv.
func ParseDocument(data []byte, lookup LookupFunc) (*RunPatch, []MigrationWarning, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, &ValidationError{Message: "malformed YAML", Err: err}
	}
	if err := Interpolate(&root, lookup); err != nil {
		return nil, nil, err
	}

	var doc fileDoc
	if root.Kind != 0 {
		if err := root.Decode(&doc); err != nil {
			return nil, nil, &ValidationError{Message: "malformed run configuration", Err: err}
		}
	}

	patch, warnings := migrateLegacy(&doc.Run)
	return patch, warnings, nil
}

// migrateLegacy folds deprecated flat retry keys into the nested retry
// block. It is pure: warnings are returned, not logged, so the caller
// decides how to surface them. When both forms are present the nested block
// wins and the flat keys are reported as ignored.
func migrateLegacy(doc *runDoc) (*RunPatch, []MigrationWarning) {
	patch := doc.RunPatch
	if !doc.hasLegacy() {
		return &patch, nil
	}

	var present []string
	if doc.LegacyMaxRetries.IsSet() {
		present = append(present, "max_retries")
	}
	if doc.LegacyRetryDelay.IsSet() {
		present = append(present, "retry_delay")
	}
	if doc.LegacyJitterFactor.IsSet() {
		present = append(present, "jitter_factor")
	}
	if doc.LegacyRetryExceptions.IsSet() {
		present = append(present, "retry_exceptions")
	}

	if patch.Retry.IsSet() {
		return &patch, []MigrationWarning{{
			Fields:  present,
			Message: "deprecated flat retry fields ignored because a nested retry block is present",
		}}
	}

	patch.Retry = Some(RetryPatch{
		MaxRetries:      doc.LegacyMaxRetries,
		RetryDelay:      doc.LegacyRetryDelay,
		JitterFactor:    doc.LegacyJitterFactor,
		RetryExceptions: doc.LegacyRetryExceptions,
	})
	return &patch, []MigrationWarning{{
		Fields:  present,
		Message: "deprecated flat retry fields migrated to the nested retry block; re-save the file to persist the new form",
	}}
}

// Load reads and parses the YAML config at path. The file handle is scoped
// to this call and released on every exit path, including interpolation
// failure.
func Load(path string, lookup LookupFunc) (*RunPatch, []MigrationWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseDocument(data, lookup)
}

// Save writes cfg to path in the normalized on-disk form: a single "run"
// object with the nested retry block and never the deprecated flat keys.
// Saving a config that was loaded from legacy flat fields therefore
// migrates the file in place.
func Save(path string, cfg RunConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config %s: %w", path, err)
	}

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(saveDoc{Run: cfg}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding config %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing config %s: %w", path, err)
	}
	return f.Close()
}

type saveDoc struct {
	Run RunConfig `yaml:"run"`
}

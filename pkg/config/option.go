package config

import "gopkg.in/yaml.v3"

// Option wraps a field value with a presence flag, distinguishing "not
// supplied" from "explicitly set" (including explicitly set to null). Merge
// logic must consult the flag, never compare the value against a default: a
// value equal to the default is still an explicit override.
type Option[T any] struct {
	value T
	set   bool
}

// Some returns an Option holding v, marked present.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, set: true}
}

// None returns an absent Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSet reports whether the field was explicitly supplied.
func (o Option[T]) IsSet() bool {
	return o.set
}

// Value returns the wrapped value; the zero value when absent.
func (o Option[T]) Value() T {
	return o.value
}

// Get returns the wrapped value together with the presence flag.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.set
}

// Or returns the wrapped value when present, fallback otherwise.
func (o Option[T]) Or(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

// UnmarshalYAML marks the option present whenever its key appears in the
// document. An explicit null yields the zero value of T, still present.
func (o *Option[T]) UnmarshalYAML(node *yaml.Node) error {
	o.set = true
	if node.Tag == "!!null" {
		var zero T
		o.value = zero
		return nil
	}
	return node.Decode(&o.value)
}

// MarshalYAML emits the wrapped value. Pair with omitempty so absent options
// disappear from the document (IsZero below).
func (o Option[T]) MarshalYAML() (any, error) {
	return o.value, nil
}

// IsZero reports absence, letting yaml omitempty skip unset options.
func (o Option[T]) IsZero() bool {
	return !o.set
}

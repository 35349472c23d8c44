package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound is returned when a configuration file is missing.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML is returned when a configuration file fails to parse.
	ErrInvalidYAML = errors.New("invalid YAML")
)

// LoadError wraps a failure to load one configuration file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a LoadError for the given file.
func NewLoadError(file string, err error) error {
	return &LoadError{File: file, Err: err}
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration field %q: %s", e.Field, e.Message)
}

// Package faults holds the error kinds shared by the report, normalize, setfile and
// pipeline packages.
package faults

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is matched by every EmptyResultError through errors.Is.
var ErrEmptyResult = errors.New("empty result")

// FormatError reports a structural element that was expected but absent,
// such as a missing worksheet, a missing table or a missing template file.
type FormatError struct {
	Source  string // file or stream name
	Element string // what was looked for
	Err     error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("format error in %s: %s", e.Source, e.Element)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// CoercionError describes a numeric value that could not be parsed.
// It is never returned up the stack; the normalizer keeps it next to the
// defaulted value so callers can tell a measured zero from a fallback zero.
type CoercionError struct {
	Column string
	Raw    string
	Err    error
}

func (e *CoercionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("column %q: cannot coerce %q", e.Column, e.Raw)
	}
	return fmt.Sprintf("column %q: cannot coerce %q: %v", e.Column, e.Raw, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }

// IOError wraps a file system failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Stages reported by EmptyResultError.
const (
	StageInput  = "input"
	StageFilter = "filter"
)

// EmptyResultError ends a run early without being a failure: the input was
// well formed but there was nothing to do.
type EmptyResultError struct {
	Stage  string
	Source string
}

func (e *EmptyResultError) Error() string {
	switch e.Stage {
	case StageInput:
		return fmt.Sprintf("no records found in %s", e.Source)
	case StageFilter:
		return fmt.Sprintf("no records from %s passed filtering", e.Source)
	}
	return fmt.Sprintf("empty result at stage %s (%s)", e.Stage, e.Source)
}

func (e *EmptyResultError) Is(target error) bool { return target == ErrEmptyResult }

// WrapIO returns nil for a nil err, otherwise an *IOError.
func WrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

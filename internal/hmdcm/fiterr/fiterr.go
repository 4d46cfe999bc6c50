// Package fiterr holds the error taxonomy shared by the HM-DCM engine.
//
// Configuration problems are reported before any computation starts. Numerical
// degeneracy aborts a fit. Running out of iterations is not an error at all; it is
// reported on the fit result.
package fiterr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid input, options or hyperparameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrNumericalDegeneracy marks a zero or non-finite normalising sum.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Kind != "" {
		return string(e.Kind) + " error"
	}
	return "fit error"
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrConfiguration && e.Kind == KindConfiguration
}

// Config builds a configuration error for op.
func Config(op string, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Pass names the recursion direction that hit a degenerate normaliser.
type Pass string

const (
	PassForward  Pass = "forward"
	PassBackward Pass = "backward"
	PassSmooth   Pass = "smooth"
)

type DegeneracyError struct {
	Respondent int
	Occasion   int
	Pass       Pass
	Sum        float64
}

func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("%s pass: normalising sum %v for respondent %d at occasion %d",
		e.Pass, e.Sum, e.Respondent, e.Occasion)
}

func (e *DegeneracyError) Unwrap() error { return ErrNumericalDegeneracy }

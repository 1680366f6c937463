package pricing

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("pricing: product not found")
	ErrInvalidQuantity = errors.New("pricing: quantity must be greater than zero")
	ErrUnknownCustomer = errors.New("pricing: unknown customer")
	ErrLookupFailure   = errors.New("pricing: lookup failed")
	ErrMalformedRule   = errors.New("pricing: malformed rule")
	ErrMalformedTier   = errors.New("pricing: malformed volume tier")
	ErrUnknownAction   = errors.New("pricing: unknown action type")
	ErrRuleNotFound    = errors.New("pricing: rule not found")
	ErrBookNotFound    = errors.New("pricing: price book not found")
	ErrBookInUse       = errors.New("pricing: price book still has rules")
	ErrInvalidCommand  = errors.New("pricing: invalid command")
)

// LookupError reports a failed collaborator call. It matches both its cause
// and ErrLookupFailure under errors.Is.
type LookupError struct {
	Source string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("pricing: %s lookup: %v", e.Source, e.Err)
}

func (e *LookupError) Unwrap() []error {
	return []error{ErrLookupFailure, e.Err}
}

func lookupFailed(source string, err error) error {
	if err == nil {
		return nil
	}
	var le *LookupError
	if errors.As(err, &le) {
		return err
	}
	return &LookupError{Source: source, Err: err}
}

// MalformedError describes a record skipped during matching.
type MalformedError struct {
	Kind   error
	ID     int64
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v #%d: %s", e.Kind, e.ID, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return e.Kind
}

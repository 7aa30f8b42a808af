// ABOUTME: Typed error taxonomy for conversation operations
// ABOUTME: Every failure carries a machine-readable Kind and a message safe to show callers

package conversation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind classifies an operation failure.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindInvalidInput Kind = "invalid_input"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, never shown to callers
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal for errors that did not
// come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func errNotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func errInvalidState(msg string) error {
	return &Error{Kind: KindInvalidState, Message: msg}
}

func errInvalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func errForbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func errConflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func errInternal(err error) error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// validationError turns validator output into an invalid_input Error naming
// the first offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errInvalidInput(err.Error())
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return errInvalidInput(field + " is required")
	case "oneof":
		return errInvalidInput(fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	case "nefield":
		return errInvalidInput(field + " must differ from the other party")
	default:
		return errInvalidInput(fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

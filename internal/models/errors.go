package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportFailure marks an outbound send that did not reach the transport.
	ErrTransportFailure = errors.New("transport failure")
	// ErrGeneratorFailure marks a failed or empty text generation call.
	ErrGeneratorFailure = errors.New("generator failure")
	// ErrUnknownToken is returned when a choice token cannot be decoded.
	ErrUnknownToken = errors.New("unknown choice token")
)

// ValidationError reports bad user input. Message is safe to show to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// UserMessage returns the text sent back to the user.
func (e *ValidationError) UserMessage() string {
	return e.Message
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports that a goal or session required by an operation is missing.
type NotFoundError struct {
	Resource string
	Key      string
	Guidance string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// UserMessage returns guidance pointing the user at the setup command.
func (e *NotFoundError) UserMessage() string {
	if e.Guidance != "" {
		return e.Guidance
	}
	return e.Error()
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, key, guidance string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key, Guidance: guidance}
}

// UserFacing is implemented by errors whose message can be shown in chat.
type UserFacing interface {
	UserMessage() string
}

// UserMessage extracts a user-facing message from err, if it carries one.
func UserMessage(err error) (string, bool) {
	var uf UserFacing
	if errors.As(err, &uf) {
		return uf.UserMessage(), true
	}
	return "", false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// SPDX-License-Identifier: Apache-2.0

package action

import (
	"errors"
	"fmt"
)

var ErrDuplicateAction = errors.New("action already registered")

// BadRequestError reports invalid or missing step input.
type BadRequestError struct {
	Field   string
	Message string
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return "bad request: " + e.Message
	}
	return fmt.Sprintf("bad request: %s: %s", e.Field, e.Message)
}

func BadRequest(field, format string, args ...any) *BadRequestError {
	return &BadRequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type UnknownActionError struct {
	ActionID string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.ActionID)
}

// ConfigurationError means the process lacks a setting the action needs.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Setting)
}

// IsPermanent reports whether retrying the step cannot change the outcome.
func IsPermanent(err error) bool {
	var bad *BadRequestError
	var unknown *UnknownActionError
	var cfg *ConfigurationError
	return errors.As(err, &bad) || errors.As(err, &unknown) || errors.As(err, &cfg)
}

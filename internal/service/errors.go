package service

import (
	"fmt"
)

// NotFoundError reports a missing subscriber, code or other resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func subscriberNotFound(id int64) *NotFoundError {
	return subscriberNotFound(id)
}

// ConflictError reports a request that clashes with stored state, such as
// a verification code that was already consumed.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "conflicts with stored state"
	}
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, reason)
}

// ValidationError is returned when input fails validation. The stored
// value is left untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// AuthorizationError is returned when the actor may not act on a subscriber.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "not authorized"
	}
	return e.Message
}

package models

import "fmt"

// TransportError wraps any failed remote call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a reference to an id absent from local state.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError is raised before a remote call when input is unusable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GateError is returned when a webhook URL change is attempted without an
// active premium subscription.
type GateError struct {
	AgentID string
}

func (e *GateError) Error() string {
	if e.AgentID == "" {
		return "webhook URL requires an active core or yearly subscription"
	}
	return fmt.Sprintf("webhook URL for agent %s requires an active core or yearly subscription", e.AgentID)
}

//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/event"
)

// Error types carried by error events.
const (
	ErrorTypeModelError      = "model_error"
	ErrorTypeToolError       = "tool_error"
	ErrorTypeCallbackError   = "callback_error"
	ErrorTypeValidationError = "validation_error"
	// ErrorTypeFlowError covers failures that belong to no collaborator,
	// such as a transfer to an unknown agent.
	ErrorTypeFlowError = "flow_error"
)

// ErrorTypeAgentContextCancelledError is the error type for context cancelled error.
const ErrorTypeAgentContextCancelledError = "agent_context_cancelled_error"

// Error is a typed failure of an invocation. Component names the part
// that failed, e.g. a model name, "tool:<name>" or "callback".
type Error struct {
	Component string
	Type      string
	Err       error
}

// NewError creates a typed error.
func NewError(component, errType string, err error) *Error {
	return &Error{Component: component, Type: errType, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Component, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// ErrorType returns the type of err if it is an *Error, otherwise
// ErrorTypeFlowError.
func ErrorType(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeFlowError
}

// NewErrorEvent builds the error event of inv for err.
func NewErrorEvent(inv *Invocation, err error) *event.Event {
	return event.NewErrorEvent(inv.InvocationID, inv.AgentName, ErrorType(err), err.Error(),
		event.WithBranch(inv.Branch))
}

// CheckContextCancelled returns the context error once ctx is done.
func CheckContextCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// EventError returns the error carried by an error event, or nil.
func EventError(evt *event.Event) error {
	if !evt.IsError() {
		return nil
	}
	return fmt.Errorf("%s: %s", evt.Error.Type, evt.Error.Message)
}

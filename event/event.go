//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the event system for agent communication.
//
// An Event is an immutable record of one state transition within an
// invocation. Events are append-only: once emitted they are never mutated,
// consumers that need to change one work on a Clone.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Event represents an event in conversation between agents and users.
type Event struct {
	// Response is the base struct for all LLM response functionality.
	*model.Response

	// InvocationID is the invocation ID of the event.
	InvocationID string `json:"invocationId"`

	// Author is the author of the event.
	Author string `json:"author"`

	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`

	// Branch is the branch identifier for hierarchical event filtering.
	// Parallel branches append ".<agent>" to their parent's branch.
	Branch string `json:"branch,omitempty"`

	// Actions carries the side effects of the event.
	Actions Actions `json:"actions"`

	// LimitReached is set when a bounded loop stopped at its limit.
	LimitReached *Limit `json:"limitReached,omitempty"`

	// RequiresCompletion asks the consumer to acknowledge CompletionID once
	// the event has been persisted.
	RequiresCompletion bool `json:"requiresCompletion,omitempty"`

	// CompletionID identifies the acknowledgement.
	CompletionID string `json:"completionId,omitempty"`

	// Metadata annotates the event for consumers, e.g. the graph node and
	// step that produced it. It never reaches session state.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Limit describes which bound was hit.
type Limit struct {
	// Kind is one of the LimitKind constants.
	Kind string `json:"kind"`
	// Max is the configured bound.
	Max int `json:"max"`
}

// Limit kinds.
const (
	LimitKindToolRounds     = "tool_rounds"
	LimitKindLoopIterations = "loop_iterations"
	LimitKindRecursion      = "recursion"
)

// New creates a new Event with generated ID and timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates a new error Event with the specified error details.
func NewErrorEvent(invocationID, author, errorType, errorMessage string, opts ...Option) *Event {
	e := New(invocationID, author, opts...)
	e.Response = &model.Response{
		Object:    model.ObjectTypeError,
		Done:      true,
		Timestamp: e.Timestamp,
		Error: &model.ResponseError{
			Type:    errorType,
			Message: errorMessage,
		},
	}
	return e
}

// NewResponseEvent creates a new Event from a model Response.
func NewResponseEvent(invocationID, author string, response *model.Response, opts ...Option) *Event {
	e := New(invocationID, author, opts...)
	e.Response = response
	return e
}

// NewLimitEvent creates the completion event of a bounded loop that
// stopped at its limit. It is not an error.
func NewLimitEvent(invocationID, author, kind string, max int, opts ...Option) *Event {
	e := New(invocationID, author, opts...)
	e.Response = &model.Response{
		Object:    model.ObjectTypeLimitReached,
		Done:      true,
		Timestamp: e.Timestamp,
	}
	e.LimitReached = &Limit{Kind: kind, Max: max}
	return e
}

// IsError reports whether the event carries an error.
func (e *Event) IsError() bool {
	return e != nil && e.Response != nil && e.Response.Error != nil
}

// IsFinalResponse reports whether the event is a final answer of an agent:
// not partial and neither requesting nor answering tool calls.
func (e *Event) IsFinalResponse() bool {
	if e == nil {
		return false
	}
	if e.Actions.SkipSummarization {
		return true
	}
	if e.Response == nil {
		return true
	}
	if e.IsPartial {
		return false
	}
	return !e.IsToolCallResponse() && !e.IsToolResultResponse()
}

// HasStateDelta reports whether the event carries a non-empty state delta.
func (e *Event) HasStateDelta() bool {
	return e != nil && len(e.Actions.StateDelta) > 0
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	clone.Actions = e.Actions.Clone()
	if e.LimitReached != nil {
		l := *e.LimitReached
		clone.LimitReached = &l
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// EmitEvent sends evt on ch unless ctx is done first.
// A nil event is ignored.
func EmitEvent(ctx context.Context, ch chan<- *Event, evt *Event) error {
	if evt == nil || ch == nil {
		return nil
	}
	select {
	case ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

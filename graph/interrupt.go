//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
	"time"
)

// Interrupt kinds.
const (
	// InterruptBefore pauses before a node declared with WithInterruptBefore.
	InterruptBefore = "before"
	// InterruptAfter pauses after a node declared with WithInterruptAfter.
	InterruptAfter = "after"
	// InterruptNode is raised by a node returning an InterruptError.
	InterruptNode = "node"
)

// Interrupt describes why a run paused.
type Interrupt struct {
	Kind   string `json:"kind"`
	NodeID string `json:"node_id"`
	// Value is the value a node passed to NewInterruptError.
	Value any `json:"value,omitempty"`
}

// InterruptError represents an interrupt in graph execution that can be resumed.
type InterruptError struct {
	// Value is the value that was passed to NewInterruptError.
	Value any
	// NodeID is the ID of the node where the interrupt occurred.
	NodeID string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (g *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", g.NodeID, g.Step, g.Value)
}

// NewInterruptError creates a new InterruptError with the given value.
// A node returns it to pause the run; its writes for the step are dropped
// and it runs again on resume.
func NewInterruptError(value any) *InterruptError {
	return &InterruptError{
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// IsInterruptError checks if an error is a InterruptError.
func IsInterruptError(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// GetInterruptError extracts InterruptError from an error.
func GetInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// ResumeValue returns the value passed with WithResumeMap for key, or else
// the value passed with WithResume. It is only set in the first step after
// a resume.
func ResumeValue(state State, key string) (any, bool) {
	if m, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	v, ok := state[ResumeChannel]
	return v, ok
}

// Await returns the resume value for key, or an InterruptError carrying
// prompt when there is none. Nodes use it to ask a human for input:
//
//	answer, err := graph.Await(state, "approve", "ship it?")
//	if err != nil {
//		return nil, err
//	}
func Await(state State, key string, prompt any) (any, error) {
	if v, ok := ResumeValue(state, key); ok {
		return v, nil
	}
	return nil, NewInterruptError(prompt)
}

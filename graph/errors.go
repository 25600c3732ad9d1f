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
)

// Errors.
var (
	// ErrInvalidGraph is returned by Compile for a malformed graph.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrCheckpointNotFound is returned when a requested checkpoint does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCheckpointExists is returned when a checkpoint ID is saved twice.
	ErrCheckpointExists = errors.New("checkpoint already exists")
	// ErrNoCheckpointSaver is returned by operations that need a saver.
	ErrNoCheckpointSaver = errors.New("no checkpoint saver configured")
)

// ExecutionError reports the node and super-step at which a run failed.
type ExecutionError struct {
	Node string
	Step int
	Err  error
}

// Error implements error.
func (e *ExecutionError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("graph failed at step %d: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("graph node %s failed at step %d: %v", e.Node, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error { return e.Err }

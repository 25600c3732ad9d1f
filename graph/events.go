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
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// AuthorGraphExecutor authors graph events when the invocation has no
// agent name.
const AuthorGraphExecutor = "graph-executor"

// Event object types for graph-related events. State updates use
// model.ObjectTypeStateUpdate.
const (
	// ObjectTypeGraphExecution marks the final event of a run.
	ObjectTypeGraphExecution = "graph.execution"
	// ObjectTypeGraphNodeStart marks a node about to run.
	ObjectTypeGraphNodeStart = "graph.node.start"
	// ObjectTypeGraphNodeComplete marks a node whose writes were merged.
	ObjectTypeGraphNodeComplete = "graph.node.complete"
	// ObjectTypeGraphCheckpoint announces a saved checkpoint.
	ObjectTypeGraphCheckpoint = "graph.checkpoint"
	// ObjectTypeGraphInterrupt announces a paused run.
	ObjectTypeGraphInterrupt = "graph.interrupt"
)

// Metadata keys set on graph events.
const (
	MetadataKeyNode         = "graph.node"
	MetadataKeyStep         = "graph.step"
	MetadataKeyCheckpointID = "graph.checkpoint_id"
	MetadataKeyDuration     = "graph.duration"
	MetadataKeyResult       = "graph.result"
	MetadataKeyInterrupt    = "graph.interrupt"
)

// NewGraphEvent creates an event of the given object type.
func NewGraphEvent(invocationID, author, objectType string, opts ...event.Option) *event.Event {
	opts = append([]event.Option{event.WithObject(objectType)}, opts...)
	return event.New(invocationID, author, opts...)
}

func newNodeStartEvent(invocationID, author, branch, nodeID string, step int) *event.Event {
	return NewGraphEvent(invocationID, author, ObjectTypeGraphNodeStart,
		event.WithBranch(branch),
		event.WithMetadata(MetadataKeyNode, nodeID),
		event.WithMetadata(MetadataKeyStep, step),
	)
}

func newNodeCompleteEvent(invocationID, author, branch, nodeID string, step int, d time.Duration) *event.Event {
	return NewGraphEvent(invocationID, author, ObjectTypeGraphNodeComplete,
		event.WithBranch(branch),
		event.WithMetadata(MetadataKeyNode, nodeID),
		event.WithMetadata(MetadataKeyStep, step),
		event.WithMetadata(MetadataKeyDuration, d),
	)
}

func newStateUpdateEvent(invocationID, author, branch string, step int, delta map[string]any) *event.Event {
	return NewGraphEvent(invocationID, author, model.ObjectTypeStateUpdate,
		event.WithBranch(branch),
		event.WithStateDelta(delta),
		event.WithMetadata(MetadataKeyStep, step),
	)
}

func newCheckpointEvent(invocationID, author, branch string, cp *Checkpoint) *event.Event {
	return NewGraphEvent(invocationID, author, ObjectTypeGraphCheckpoint,
		event.WithBranch(branch),
		event.WithMetadata(MetadataKeyStep, cp.Step),
		event.WithMetadata(MetadataKeyCheckpointID, cp.ID),
	)
}

func newInterruptEvent(invocationID, author, branch string, in *Interrupt, cp *Checkpoint) *event.Event {
	return NewGraphEvent(invocationID, author, ObjectTypeGraphInterrupt,
		event.WithBranch(branch),
		event.WithMetadata(MetadataKeyNode, in.NodeID),
		event.WithMetadata(MetadataKeyStep, cp.Step),
		event.WithMetadata(MetadataKeyCheckpointID, cp.ID),
		event.WithMetadata(MetadataKeyInterrupt, in),
	)
}

// newCompletionEvent builds the final event of a run. text, when set,
// becomes the assistant message of the event.
func newCompletionEvent(invocationID, author, branch string, res *Result, text string) *event.Event {
	evt := NewGraphEvent(invocationID, author, ObjectTypeGraphExecution,
		event.WithBranch(branch),
		event.WithMetadata(MetadataKeyResult, res),
		event.WithMetadata(MetadataKeyStep, res.Step),
	)
	evt.Done = true
	if text != "" {
		evt.Choices = []model.Choice{{Index: 0, Message: model.NewAssistantMessage(text)}}
	}
	if res.Status == StatusFailed && res.Err != nil {
		evt.Error = &model.ResponseError{Type: agent.ErrorType(res.Err), Message: res.Err.Error()}
	}
	return evt
}

// NodeIDOf returns the node an event belongs to.
func NodeIDOf(evt *event.Event) (string, bool) {
	id, ok := evt.Metadata[MetadataKeyNode].(string)
	return id, ok
}

// StepOf returns the super-step an event belongs to.
func StepOf(evt *event.Event) (int, bool) {
	step, ok := evt.Metadata[MetadataKeyStep].(int)
	return step, ok
}

// CheckpointIDOf returns the checkpoint announced by an event.
func CheckpointIDOf(evt *event.Event) (string, bool) {
	id, ok := evt.Metadata[MetadataKeyCheckpointID].(string)
	return id, ok
}

// ResultOf returns the run result carried by the completion event.
func ResultOf(evt *event.Event) (*Result, bool) {
	res, ok := evt.Metadata[MetadataKeyResult].(*Result)
	return res, ok
}

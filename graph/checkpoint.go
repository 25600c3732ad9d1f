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
	"context"
	"time"

	"github.com/google/uuid"
)

// Checkpoint sources.
const (
	// CheckpointSourceInput is the checkpoint written before the first step.
	CheckpointSourceInput = "input"
	// CheckpointSourceLoop is written after every completed step.
	CheckpointSourceLoop = "loop"
	// CheckpointSourceInterrupt is written when a run pauses.
	CheckpointSourceInterrupt = "interrupt"
	// CheckpointSourceUpdate is written by Executor.UpdateState.
	CheckpointSourceUpdate = "update"
)

// LatestStep asks CheckpointSaver.Load for the newest checkpoint.
const LatestStep = -1

// Checkpoint is an immutable snapshot of a run between two super-steps.
type Checkpoint struct {
	ID       string `json:"id"`
	GraphID  string `json:"graph_id"`
	ParentID string `json:"parent_id,omitempty"`
	// Step is the number of super-steps completed when it was taken.
	Step int `json:"step"`
	// Values holds every channel except the internal ones.
	Values map[string]any `json:"channel_values"`
	// NextNodes is the pending set of the next step. Empty means the run
	// completed.
	NextNodes []string  `json:"next_nodes,omitempty"`
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"source"`
	// InterruptKind is set on interrupt checkpoints.
	InterruptKind string `json:"interrupt_kind,omitempty"`
	// InterruptNode is the node that caused the interrupt.
	InterruptNode string `json:"interrupt_node,omitempty"`
	// InterruptValue is the value of a dynamic interrupt.
	InterruptValue any `json:"interrupt_value,omitempty"`
}

// NewCheckpoint creates a checkpoint with a fresh ID. values are copied.
func NewCheckpoint(graphID, parentID string, step int, values map[string]any, next []string, source string) *Checkpoint {
	return &Checkpoint{
		ID:        uuid.New().String(),
		GraphID:   graphID,
		ParentID:  parentID,
		Step:      step,
		Values:    checkpointValues(values),
		NextNodes: append([]string(nil), next...),
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Values = deepCopyState(c.Values)
	cp.NextNodes = append([]string(nil), c.NextNodes...)
	cp.InterruptValue = deepCopyAny(c.InterruptValue)
	return &cp
}

// Completed reports whether the run had nothing left to do.
func (c *Checkpoint) Completed() bool {
	return len(c.NextNodes) == 0
}

// checkpointValues copies values without the internal channels.
func checkpointValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if isInternalStateKey(k) {
			continue
		}
		out[k] = deepCopyAny(v)
	}
	return out
}

// CheckpointSaver persists checkpoints. Checkpoints are write-once and
// loads return copies.
type CheckpointSaver interface {
	// Save stores cp. Saving an existing ID returns ErrCheckpointExists.
	Save(ctx context.Context, cp *Checkpoint) error
	// Load returns the newest checkpoint of graphID taken at step, or the
	// newest overall for LatestStep. It returns nil, nil when none exists.
	Load(ctx context.Context, graphID string, step int) (*Checkpoint, error)
	// LoadByID returns the checkpoint with the given ID, or nil, nil.
	LoadByID(ctx context.Context, id string) (*Checkpoint, error)
	// List returns the checkpoints of graphID, oldest first.
	List(ctx context.Context, graphID string) ([]*Checkpoint, error)
	// Delete removes every checkpoint of graphID.
	Delete(ctx context.Context, graphID string) error
	// Close releases the saver.
	Close() error
}

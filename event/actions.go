//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"time"
)

// Actions are the side effects attached to an event.
type Actions struct {
	// StateDelta maps state keys to their new values.
	StateDelta map[string]any `json:"stateDelta,omitempty"`
	// ArtifactDelta maps artifact names to their new versions.
	ArtifactDelta map[string]int `json:"artifactDelta,omitempty"`
	// TransferToAgent reroutes the current user turn to the named agent.
	TransferToAgent string `json:"transferToAgent,omitempty"`
	// Escalate stops the current agent and hands control to its parent.
	Escalate bool `json:"escalate,omitempty"`
	// SkipSummarization ends the tool loop without asking the model to
	// summarize the tool result.
	SkipSummarization bool `json:"skipSummarization,omitempty"`
	// ToolConfirmation asks a human to approve a tool call.
	ToolConfirmation *ToolConfirmation `json:"toolConfirmation,omitempty"`
	// Compaction marks the event as the summary of a compacted window.
	Compaction *Compaction `json:"compaction,omitempty"`
}

// ToolConfirmation is a pending approval request for a tool call.
type ToolConfirmation struct {
	ToolName  string `json:"toolName"`
	CallID    string `json:"callId"`
	Hint      string `json:"hint,omitempty"`
	Arguments []byte `json:"arguments,omitempty"`
}

// Compaction describes the window of events replaced by a summary.
type Compaction struct {
	// StartTimestamp is the timestamp of the oldest compacted event.
	StartTimestamp time.Time `json:"startTimestamp"`
	// EndTimestamp is the timestamp of the newest compacted event.
	EndTimestamp time.Time `json:"endTimestamp"`
	// CompactedContent is the summary text.
	CompactedContent string `json:"compactedContent"`
	// EventIDs lists the compacted events. When empty the timestamp range
	// decides coverage.
	EventIDs []string `json:"eventIds,omitempty"`
}

// IsEmpty reports whether the actions carry no side effect.
func (a Actions) IsEmpty() bool {
	return len(a.StateDelta) == 0 &&
		len(a.ArtifactDelta) == 0 &&
		a.TransferToAgent == "" &&
		!a.Escalate &&
		!a.SkipSummarization &&
		a.ToolConfirmation == nil &&
		a.Compaction == nil
}

// Clone returns a deep copy of the actions. State values are copied one
// level deep.
func (a Actions) Clone() Actions {
	clone := a
	if a.StateDelta != nil {
		clone.StateDelta = make(map[string]any, len(a.StateDelta))
		for k, v := range a.StateDelta {
			clone.StateDelta[k] = v
		}
	}
	if a.ArtifactDelta != nil {
		clone.ArtifactDelta = make(map[string]int, len(a.ArtifactDelta))
		for k, v := range a.ArtifactDelta {
			clone.ArtifactDelta[k] = v
		}
	}
	if a.ToolConfirmation != nil {
		tc := *a.ToolConfirmation
		tc.Arguments = append([]byte(nil), a.ToolConfirmation.Arguments...)
		clone.ToolConfirmation = &tc
	}
	if a.Compaction != nil {
		c := *a.Compaction
		c.EventIDs = append([]string(nil), a.Compaction.EventIDs...)
		clone.Compaction = &c
	}
	return clone
}

// Merge folds other into a and returns the result. Later writes win for
// state and artifact keys and for the transfer target; flags are OR-ed.
func (a Actions) Merge(other Actions) Actions {
	out := a.Clone()
	for k, v := range other.StateDelta {
		if out.StateDelta == nil {
			out.StateDelta = make(map[string]any)
		}
		out.StateDelta[k] = v
	}
	for k, v := range other.ArtifactDelta {
		if out.ArtifactDelta == nil {
			out.ArtifactDelta = make(map[string]int)
		}
		out.ArtifactDelta[k] = v
	}
	if other.TransferToAgent != "" {
		out.TransferToAgent = other.TransferToAgent
	}
	out.Escalate = out.Escalate || other.Escalate
	out.SkipSummarization = out.SkipSummarization || other.SkipSummarization
	if out.ToolConfirmation == nil && other.ToolConfirmation != nil {
		tc := *other.ToolConfirmation
		out.ToolConfirmation = &tc
	}
	if other.Compaction != nil {
		c := *other.Compaction
		out.Compaction = &c
	}
	return out
}

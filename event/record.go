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
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Record kinds.
const (
	KindMessage          = "message"
	KindToolCall         = "tool_call"
	KindToolResult       = "tool_result"
	KindError            = "error"
	KindState            = "state"
	KindCompaction       = "compaction"
	KindTransfer         = "transfer"
	KindEscalation       = "escalation"
	KindToolConfirmation = "tool_confirmation"
	KindLimitReached     = "limit_reached"
)

// Record is the self-describing wire form of an Event. A remote consumer
// can rebuild session state by applying StateDelta of every record in order.
type Record struct {
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	InvocationID string          `json:"invocation_id"`
	Author       string          `json:"author"`
	Branch       string          `json:"branch,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	StateDelta   map[string]any  `json:"state_delta,omitempty"`
	Actions      *Actions        `json:"actions,omitempty"`
	LimitReached *Limit          `json:"limit_reached,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// KindOf classifies an event for its wire record.
func KindOf(e *Event) string {
	switch {
	case e.IsError():
		return KindError
	case e.LimitReached != nil:
		return KindLimitReached
	case e.Actions.Compaction != nil:
		return KindCompaction
	case e.Actions.ToolConfirmation != nil:
		return KindToolConfirmation
	case e.Actions.TransferToAgent != "":
		return KindTransfer
	case e.Actions.Escalate:
		return KindEscalation
	case e.Response != nil && e.IsToolCallResponse():
		return KindToolCall
	case e.Response != nil && e.IsToolResultResponse():
		return KindToolResult
	case e.HasStateDelta() && (e.Response == nil || len(e.Choices) == 0):
		return KindState
	default:
		return KindMessage
	}
}

// ToRecord converts an event into its wire record.
func ToRecord(e *Event) (*Record, error) {
	if e == nil {
		return nil, fmt.Errorf("event: nil event")
	}
	r := &Record{
		Kind:         KindOf(e),
		ID:           e.ID,
		InvocationID: e.InvocationID,
		Author:       e.Author,
		Branch:       e.Branch,
		Timestamp:    e.Timestamp,
		StateDelta:   e.Actions.StateDelta,
		LimitReached: e.LimitReached,
		Metadata:     e.Metadata,
	}
	if e.Response != nil {
		payload, err := json.Marshal(e.Response)
		if err != nil {
			return nil, fmt.Errorf("event %s: marshal payload: %w", e.ID, err)
		}
		r.Payload = payload
	}
	rest := e.Actions.Clone()
	rest.StateDelta = nil
	if !rest.IsEmpty() {
		r.Actions = &rest
	}
	return r, nil
}

// FromRecord rebuilds an event from its wire record.
func FromRecord(r *Record) (*Event, error) {
	if r == nil {
		return nil, fmt.Errorf("event: nil record")
	}
	e := &Event{
		ID:           r.ID,
		InvocationID: r.InvocationID,
		Author:       r.Author,
		Branch:       r.Branch,
		Timestamp:    r.Timestamp,
		LimitReached: r.LimitReached,
		Metadata:     r.Metadata,
	}
	if len(r.Payload) > 0 {
		var rsp model.Response
		if err := json.Unmarshal(r.Payload, &rsp); err != nil {
			return nil, fmt.Errorf("record %s: unmarshal payload: %w", r.ID, err)
		}
		e.Response = &rsp
	}
	if r.Actions != nil {
		e.Actions = r.Actions.Clone()
	}
	if len(r.StateDelta) > 0 {
		e.Actions.StateDelta = make(map[string]any, len(r.StateDelta))
		for k, v := range r.StateDelta {
			e.Actions.StateDelta[k] = v
		}
	}
	return e, nil
}

// Marshal encodes an event as a JSON wire record.
func Marshal(e *Event) ([]byte, error) {
	r, err := ToRecord(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Unmarshal decodes a JSON wire record into an event.
func Unmarshal(data []byte) (*Event, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("event: unmarshal record: %w", err)
	}
	return FromRecord(&r)
}

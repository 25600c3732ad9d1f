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
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithBranch sets the branch for the event.
func WithBranch(branch string) Option {
	return func(e *Event) {
		e.Branch = branch
	}
}

// WithResponse sets the response for the event.
func WithResponse(response *model.Response) Option {
	return func(e *Event) {
		e.Response = response
	}
}

// WithObject sets the object type of the event response.
func WithObject(o string) Option {
	return func(e *Event) {
		if e.Response == nil {
			e.Response = &model.Response{}
		}
		e.Object = o
	}
}

// WithStateDelta sets the state delta for the event.
func WithStateDelta(stateDelta map[string]any) Option {
	return func(e *Event) {
		e.Actions.StateDelta = stateDelta
	}
}

// WithActions replaces the actions of the event.
func WithActions(actions Actions) Option {
	return func(e *Event) {
		e.Actions = actions
	}
}

// WithEscalate marks the event as an escalation.
func WithEscalate() Option {
	return func(e *Event) {
		e.Actions.Escalate = true
	}
}

// WithTransfer marks the event as a transfer to the named agent.
func WithTransfer(agentName string) Option {
	return func(e *Event) {
		e.Actions.TransferToAgent = agentName
	}
}

// WithSkipSummarization sets the skip summarization flag for the event.
func WithSkipSummarization() Option {
	return func(e *Event) {
		e.Actions.SkipSummarization = true
	}
}

// WithMetadata sets a metadata entry.
func WithMetadata(key string, value any) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

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
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

// CallbackContext gives callbacks and tools read access to the session of
// the current invocation.
type CallbackContext struct {
	context.Context
	Invocation *Invocation
}

// NewCallbackContext creates a CallbackContext from a standard context.
// Returns an error if no invocation is found in the context.
func NewCallbackContext(ctx context.Context) (*CallbackContext, error) {
	invocation, ok := InvocationFromContext(ctx)
	if !ok || invocation == nil {
		return nil, errors.New("invocation not found in context")
	}
	return &CallbackContext{Context: ctx, Invocation: invocation}, nil
}

// State returns a snapshot of the session state with the run's runtime
// state on top.
func (cc *CallbackContext) State() session.StateMap {
	var state session.StateMap
	if cc.Invocation.Session != nil {
		state = cc.Invocation.Session.GetState()
	}
	return session.ApplyDelta(state, cc.Invocation.RunOptions.RuntimeState)
}

// ToolContext is the context of one tool call. Tools record side effects in
// Actions; the flow merges them into the tool response event.
type ToolContext struct {
	*CallbackContext
	ToolName string
	CallID   string

	mu      sync.Mutex
	actions event.Actions
}

type toolContextKey struct{}

// NewToolContext creates the context of one tool call.
func NewToolContext(ctx context.Context, inv *Invocation, toolName, callID string) (context.Context, *ToolContext) {
	ctx = NewInvocationContext(ctx, inv)
	tc := &ToolContext{
		CallbackContext: &CallbackContext{Context: ctx, Invocation: inv},
		ToolName:        toolName,
		CallID:          callID,
	}
	return context.WithValue(ctx, toolContextKey{}, tc), tc
}

// ToolContextFromContext returns the tool context of the current call.
func ToolContextFromContext(ctx context.Context) (*ToolContext, bool) {
	tc, ok := ctx.Value(toolContextKey{}).(*ToolContext)
	return tc, ok
}

// SetState records a state write.
func (tc *ToolContext) SetState(key string, value any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.actions.StateDelta == nil {
		tc.actions.StateDelta = make(map[string]any)
	}
	tc.actions.StateDelta[key] = value
}

// Escalate asks the enclosing workflow to stop.
func (tc *ToolContext) Escalate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.actions.Escalate = true
}

// TransferTo hands the current user turn to the named agent.
func (tc *ToolContext) TransferTo(agentName string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.actions.TransferToAgent = agentName
}

// SkipSummarization ends the tool loop after this round.
func (tc *ToolContext) SkipSummarization() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.actions.SkipSummarization = true
}

// Actions returns a copy of the recorded actions.
func (tc *ToolContext) Actions() event.Actions {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.actions.Clone()
}

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

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// InvocationContext carries the invocation information.
type InvocationContext struct {
	context.Context
}

type invocationKey struct{}

// NewInvocationContext creates a new InvocationContext.
func NewInvocationContext(ctx context.Context, invocation *Invocation) *InvocationContext {
	return &InvocationContext{
		Context: context.WithValue(ctx, invocationKey{}, invocation),
	}
}

// InvocationFromContext returns the invocation from the context.
func InvocationFromContext(ctx context.Context) (*Invocation, bool) {
	invocation, ok := ctx.Value(invocationKey{}).(*Invocation)
	return invocation, ok
}

// EmitEvent sends evt on ch. When the runner asked for completion notices
// and evt changes state or was marked RequiresCompletion by its producer,
// EmitEvent blocks until the runner has persisted it, so that whatever runs
// next observes it.
func EmitEvent(ctx context.Context, inv *Invocation, ch chan<- *event.Event, evt *event.Event) error {
	if evt == nil {
		return nil
	}
	var wait <-chan struct{}
	partial := evt.Response != nil && evt.IsPartial
	if inv != nil && (evt.HasStateDelta() || evt.RequiresCompletion) && !partial {
		if evt.CompletionID == "" {
			evt.CompletionID = evt.ID
		}
		wait = inv.AddNoticeChannel(evt.CompletionID)
		evt.RequiresCompletion = wait != nil
	} else if partial {
		evt.RequiresCompletion = false
	}
	if err := event.EmitEvent(ctx, ch, evt); err != nil {
		return err
	}
	if wait == nil {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		log.Debugf("invocation %s: context done while waiting for event %s", inv.InvocationID, evt.ID)
		return ctx.Err()
	}
}

// RunBeforeAgent runs the plugin hooks of inv and then own. It returns the
// event to emit when the agent must not run: a short-circuit response or a
// callback error. A nil event means the agent runs. A callback error also
// ends the invocation.
func RunBeforeAgent(ctx context.Context, inv *Invocation, own *Callbacks) *event.Event {
	cbs := ChainAgentCallbacks(inv.Hooks.Agent, own)
	rsp, err := cbs.RunBeforeAgent(ctx, inv)
	if err != nil {
		inv.EndInvocation()
		return NewErrorEvent(inv, NewError("callback", ErrorTypeCallbackError, err))
	}
	if rsp != nil {
		return event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp, event.WithBranch(inv.Branch))
	}
	return nil
}

// RunAfterAgent runs the plugin hooks of inv and then own after the agent
// finished. It returns a replacement response event, a callback error
// event, or nil.
func RunAfterAgent(ctx context.Context, inv *Invocation, own *Callbacks, runErr error) *event.Event {
	cbs := ChainAgentCallbacks(inv.Hooks.Agent, own)
	rsp, err := cbs.RunAfterAgent(ctx, inv, runErr)
	if err != nil {
		inv.EndInvocation()
		return NewErrorEvent(inv, NewError("callback", ErrorTypeCallbackError, err))
	}
	if rsp != nil {
		return event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp, event.WithBranch(inv.Branch))
	}
	return nil
}

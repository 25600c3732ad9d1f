//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmflow

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// resolveTransferTarget looks the target up among the sub-agents of the
// current agent first and then in the whole tree.
func resolveTransferTarget(inv *agent.Invocation, name string) agent.Agent {
	if inv.Agent != nil {
		if target := inv.Agent.FindSubAgent(name); target != nil {
			return target
		}
	}
	return agent.FindAgent(inv.RootAgent, name)
}

// transfer hands the current user message to the named agent and forwards
// its events.
func (f *Flow) transfer(ctx context.Context, inv *agent.Invocation, name string, out chan<- *event.Event) {
	target := resolveTransferTarget(inv, name)
	if target == nil {
		err := agent.NewError("flow", agent.ErrorTypeFlowError, fmt.Errorf("transfer target %q not found", name))
		_ = agent.EmitEvent(ctx, inv, out, agent.NewErrorEvent(inv, err))
		return
	}
	log.Debugf("Agent %s transfers invocation %s to %s", inv.AgentName, inv.InvocationID, name)
	targetInv := inv.Clone(
		agent.WithInvocationAgent(target),
		agent.WithInvocationTransferInfo(&agent.TransferInfo{
			TargetAgentName: name,
			Message:         inv.Message.Content,
		}),
	)
	ch, err := target.Run(ctx, targetInv)
	if err != nil {
		_ = agent.EmitEvent(ctx, inv, out, agent.NewErrorEvent(inv,
			agent.NewError(name, agent.ErrorTypeFlowError, err)))
		return
	}
	for evt := range ch {
		if err := event.EmitEvent(ctx, out, evt); err != nil {
			// Drain so the target can finish.
			for range ch {
			}
			return
		}
	}
}

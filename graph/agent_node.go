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
	"errors"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

type nodeRunKey struct{}

// nodeRun buffers the events of one node execution. The executor forwards
// them in pending order once the step is complete.
type nodeRun struct {
	nodeID string
	step   int
	inv    *agent.Invocation
	author string
	branch string

	mu     sync.Mutex
	events []*event.Event
}

func (n *nodeRun) add(evt *event.Event) {
	if evt.Metadata == nil {
		evt.Metadata = make(map[string]any, 2)
	}
	if _, ok := evt.Metadata[MetadataKeyNode]; !ok {
		evt.Metadata[MetadataKeyNode] = n.nodeID
		evt.Metadata[MetadataKeyStep] = n.step
	}
	n.mu.Lock()
	n.events = append(n.events, evt)
	n.mu.Unlock()
}

func (n *nodeRun) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

func (n *nodeRun) drain() []*event.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.events
	n.events = nil
	return out
}

// EmitNodeEvent queues evt for the graph node running in ctx. It is sent
// after the node's step completes, in node order. Events of a step that
// fails or interrupts are dropped. It reports false outside a graph node.
func EmitNodeEvent(ctx context.Context, evt *event.Event) bool {
	n, ok := ctx.Value(nodeRunKey{}).(*nodeRun)
	if !ok || evt == nil {
		return ok
	}
	n.add(evt)
	return true
}

// NewNodeEvent creates an event authored like the other events of the run
// for the node running in ctx.
func NewNodeEvent(ctx context.Context, opts ...event.Option) (*event.Event, error) {
	n, ok := ctx.Value(nodeRunKey{}).(*nodeRun)
	if !ok {
		return nil, errors.New("graph: not inside a node")
	}
	opts = append([]event.Option{event.WithBranch(n.branch)}, opts...)
	return event.New(n.inv.InvocationID, n.author, opts...), nil
}

// agentNodeFunc runs a on a copy of the graph's invocation.
//
// The agent receives the user_input channel as its message, or the last
// user message of the messages channel, or the invocation's message.
// Non-partial state deltas of its events become writes; its final answer
// is written to last_response and appended to messages. Completion
// notices are disabled because the graph merges writes itself.
func agentNodeFunc(a agent.Agent) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		n, ok := ctx.Value(nodeRunKey{}).(*nodeRun)
		if !ok {
			return nil, errors.New("graph: agent node outside an executor")
		}
		inv := n.inv.WithoutCompletionNotices().Clone(
			agent.WithInvocationAgent(a),
			agent.WithInvocationMessage(agentNodeMessage(state, n.inv)),
		)
		ch, err := a.Run(agent.NewInvocationContext(ctx, inv), inv)
		if err != nil {
			return nil, fmt.Errorf("run agent %s: %w", a.Info().Name, err)
		}
		update := State{}
		var final string
		var runErr error
		for evt := range ch {
			n.add(evt)
			if evt.IsError() {
				if runErr == nil {
					runErr = agent.NewError(a.Info().Name, evt.Error.Type, errors.New(evt.Error.Message))
				}
				continue
			}
			if evt.Response != nil && evt.IsPartial {
				continue
			}
			for k, v := range evt.Actions.StateDelta {
				update[k] = v
			}
			if evt.Response != nil && evt.IsFinalResponse() && len(evt.Choices) > 0 {
				if msg := evt.Choices[0].Message; msg.Role == model.RoleAssistant && msg.Content != "" {
					final = msg.Content
				}
			}
		}
		if runErr != nil {
			return nil, runErr
		}
		if final != "" {
			update[StateKeyLastResponse] = final
			update[StateKeyMessages] = []model.Message{model.NewAssistantMessage(final)}
		}
		return update, nil
	}
}

func agentNodeMessage(state State, inv *agent.Invocation) model.Message {
	if input, ok := state[StateKeyUserInput].(string); ok && input != "" {
		return model.NewUserMessage(input)
	}
	if msgs, ok := state[StateKeyMessages].([]model.Message); ok {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == model.RoleUser {
				return msgs[i]
			}
		}
	}
	return inv.Message
}

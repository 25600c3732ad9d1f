//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package cycleagent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
	"trpc.group/trpc-go/trpc-agent-flow/tool/exitloop"
)

// countingAgent emits one event per run and escalates on run escalateOn.
type countingAgent struct {
	name       string
	runs       int32
	escalateOn int32
	failOn     int32
}

func (c *countingAgent) Info() agent.Info                { return agent.Info{Name: c.name} }
func (c *countingAgent) SubAgents() []agent.Agent        { return nil }
func (c *countingAgent) FindSubAgent(string) agent.Agent { return nil }
func (c *countingAgent) Tools() []tool.Tool              { return nil }

func (c *countingAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	n := atomic.AddInt32(&c.runs, 1)
	ch := make(chan *event.Event, 2)
	go func() {
		defer close(ch)
		if n == c.failOn {
			_ = event.EmitEvent(ctx, ch, event.NewErrorEvent(inv.InvocationID, inv.AgentName,
				agent.ErrorTypeToolError, "tool broke"))
			return
		}
		evt := event.NewResponseEvent(inv.InvocationID, inv.AgentName, model.NewTextResponse(c.name))
		evt.Actions.Escalate = n == c.escalateOn
		_ = event.EmitEvent(ctx, ch, evt)
	}()
	return ch, nil
}

func run(t *testing.T, a agent.Agent, inv *agent.Invocation) []*event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := a.Run(ctx, inv)
	require.NoError(t, err)
	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestCycleAgent_LimitAfterExactlyN(t *testing.T) {
	worker := &countingAgent{name: "worker"}
	loop := New("loop", WithSubAgents([]agent.Agent{worker}), WithMaxIterations(3))

	events := run(t, loop, agent.NewInvocation())
	require.Len(t, events, 4)
	assert.Equal(t, int32(3), atomic.LoadInt32(&worker.runs))

	last := events[3]
	require.NotNil(t, last.LimitReached)
	assert.Equal(t, event.LimitKindLoopIterations, last.LimitReached.Kind)
	assert.Equal(t, 3, last.LimitReached.Max)
	assert.Equal(t, "loop", last.Author)
	assert.False(t, last.IsError())
}

func TestCycleAgent_EscalationStopsAfterSubAgent(t *testing.T) {
	first := &countingAgent{name: "first", escalateOn: 2}
	second := &countingAgent{name: "second"}
	loop := New("loop", WithSubAgents([]agent.Agent{first, second}), WithMaxIterations(10))

	events := run(t, loop, agent.NewInvocation())
	// first, second, first(escalate)
	require.Len(t, events, 3)
	assert.True(t, events[2].Actions.Escalate)
	assert.Nil(t, events[2].LimitReached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&first.runs))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second.runs))
}

func TestCycleAgent_ErrorStops(t *testing.T) {
	worker := &countingAgent{name: "worker", failOn: 2}
	loop := New("loop", WithSubAgents([]agent.Agent{worker}), WithMaxIterations(5))
	events := run(t, loop, agent.NewInvocation())
	require.Len(t, events, 2)
	assert.True(t, events[1].IsError())
	assert.Equal(t, int32(2), atomic.LoadInt32(&worker.runs))
}

func TestCycleAgent_CustomEscalation(t *testing.T) {
	worker := &countingAgent{name: "worker"}
	var seen int32
	loop := New("loop", WithSubAgents([]agent.Agent{worker}), WithMaxIterations(10),
		WithEscalationFunc(func(*event.Event) bool {
			return atomic.AddInt32(&seen, 1) == 4
		}))
	events := run(t, loop, agent.NewInvocation())
	assert.Len(t, events, 4)
	assert.Equal(t, int32(4), atomic.LoadInt32(&worker.runs))
}

func TestCycleAgent_DefaultMaxIterations(t *testing.T) {
	loop := New("loop", WithMaxIterations(0))
	assert.Equal(t, DefaultMaxIterations, loop.maxIterations)
	assert.Contains(t, loop.Info().Description, "1000")
}

func TestCycleAgent_EndedInvocation(t *testing.T) {
	worker := &countingAgent{name: "worker"}
	loop := New("loop", WithSubAgents([]agent.Agent{worker}), WithMaxIterations(3))
	inv := agent.NewInvocation()
	inv.EndInvocation()
	assert.Empty(t, run(t, loop, inv))
	assert.Equal(t, int32(0), atomic.LoadInt32(&worker.runs))
}

func TestCycleAgent_Callbacks(t *testing.T) {
	var after int32
	cbs := agent.NewCallbacks().RegisterAfterAgent(
		func(context.Context, *agent.Invocation, error) (*model.Response, error) {
			atomic.AddInt32(&after, 1)
			return nil, nil
		}).RegisterBeforeAgent(func(_ context.Context, inv *agent.Invocation) (*model.Response, error) {
		if inv.Message.Content == "skip" {
			return model.NewTextResponse("skipped"), nil
		}
		return nil, nil
	})
	worker := &countingAgent{name: "worker", escalateOn: 1}
	loop := New("loop", WithSubAgents([]agent.Agent{worker}), WithAgentCallbacks(cbs))

	events := run(t, loop, agent.NewInvocation(agent.WithInvocationMessage(model.NewUserMessage("skip"))))
	require.Len(t, events, 1)
	assert.Equal(t, "skipped", events[0].Text())
	assert.Equal(t, int32(0), atomic.LoadInt32(&after))

	run(t, loop, agent.NewInvocation(agent.WithInvocationMessage(model.NewUserMessage("go"))))
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

// exitModel asks for exit_loop on its n-th call and answers otherwise.
type exitModel struct {
	calls  int32
	exitOn int32
}

func (m *exitModel) Info() model.Info { return model.Info{Name: "exit-model"} }

func (m *exitModel) GenerateContent(context.Context, *model.Request) (<-chan *model.Response, error) {
	n := atomic.AddInt32(&m.calls, 1)
	ch := make(chan *model.Response, 1)
	rsp := model.NewTextResponse("refining")
	if n == m.exitOn {
		rsp.Choices[0].Message.Content = ""
		rsp.Choices[0].Message.ToolCalls = []model.ToolCall{{
			Type:     "function",
			ID:       "exit-1",
			Function: model.FunctionDefinitionParam{Name: exitloop.ToolName, Arguments: []byte(`{}`)},
		}}
	}
	ch <- rsp
	close(ch)
	return ch, nil
}

func TestCycleAgent_ExitLoopTool(t *testing.T) {
	m := &exitModel{exitOn: 3}
	refiner := llmagent.New("refiner", llmagent.WithModel(m),
		llmagent.WithTools([]tool.Tool{exitloop.New()}))
	reviewer := &countingAgent{name: "reviewer"}
	loop := New("loop", WithSubAgents([]agent.Agent{refiner, reviewer}), WithMaxIterations(10))

	events := run(t, loop, agent.NewInvocation(agent.WithInvocationMessage(model.NewUserMessage("improve"))))
	assert.Equal(t, int32(3), atomic.LoadInt32(&m.calls))
	// The reviewer is skipped in the iteration that escalated.
	assert.Equal(t, int32(2), atomic.LoadInt32(&reviewer.runs))
	for _, e := range events {
		assert.Nil(t, e.LimitReached)
	}
	assert.True(t, events[len(events)-1].Actions.Escalate)
}

func TestCycleAgent_SubAgentRunError(t *testing.T) {
	loop := New("loop", WithSubAgents([]agent.Agent{failingStart{}}), WithMaxIterations(3))
	events := run(t, loop, agent.NewInvocation())
	require.Len(t, events, 1)
	assert.Equal(t, agent.ErrorTypeFlowError, events[0].Error.Type)
}

type failingStart struct{}

func (failingStart) Info() agent.Info                { return agent.Info{Name: "broken"} }
func (failingStart) SubAgents() []agent.Agent        { return nil }
func (failingStart) FindSubAgent(string) agent.Agent { return nil }
func (failingStart) Tools() []tool.Tool              { return nil }
func (failingStart) Run(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, errors.New("no start")
}

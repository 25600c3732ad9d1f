//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

func set(key string, value any) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		return graph.State{key: value}, nil
	}
}

func appendItem(item string) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		return graph.State{"items": []any{item}}, nil
	}
}

func itemsSchema() *graph.StateSchema {
	return graph.MessagesStateSchema().
		AddField("items", graph.StateField{Reducer: graph.AppendReducer}).
		AddField("n", graph.StateField{Reducer: graph.SumReducer})
}

// pipeline is start -> a -> b -> c -> end, each appending its name.
func pipeline(t *testing.T, configure func(sg *graph.StateGraph)) *graph.Graph {
	t.Helper()
	sg := graph.NewStateGraph(itemsSchema()).
		AddNode("a", appendItem("a")).
		AddNode("b", appendItem("b")).
		AddNode("c", appendItem("c")).
		AddEdge(graph.Start, "a").
		AddEdge("a", "b").
		AddEdge("b", "c").
		SetFinishPoint("c")
	if configure != nil {
		configure(sg)
	}
	g, err := sg.Compile()
	require.NoError(t, err)
	return g
}

func newExecutor(t *testing.T, g *graph.Graph, opts ...graph.ExecutorOption) *graph.Executor {
	t.Helper()
	e, err := graph.NewExecutor(g, opts...)
	require.NoError(t, err)
	return e
}

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("graph did not finish")
			return nil
		}
	}
}

// collectCommitted drains ch like a runner does, acknowledging every event
// that waits for its commit.
func collectCommitted(t *testing.T, inv *agent.Invocation, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			if evt.RequiresCompletion {
				inv.NotifyCompletion(evt.CompletionID)
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("graph did not finish")
			return nil
		}
	}
}

func TestStateUpdatesWaitForCommit(t *testing.T) {
	g := graph.NewStateGraph(graph.NewStateSchema()).
		AddNode("first", set("x", 1)).
		AddNode("second", set("y", 2)).
		SetEntryPoint("first").
		AddEdge("first", "second").
		MustCompile()
	inv := agent.NewInvocation()
	inv.EnableCompletionNotices()

	ch, err := newExecutor(t, g).Execute(context.Background(), nil, inv)
	require.NoError(t, err)

	var updates int
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case evt, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if !evt.HasStateDelta() {
				continue
			}
			updates++
			require.True(t, evt.RequiresCompletion)
			// Nothing follows until the update is committed.
			select {
			case next, ok := <-ch:
				t.Fatalf("event %v (open=%v) before commit", next, ok)
			case <-time.After(20 * time.Millisecond):
			}
			inv.NotifyCompletion(evt.CompletionID)
		case <-timeout:
			t.Fatal("graph did not finish")
		}
	}
	assert.Equal(t, 2, updates)
}

func TestInvokeLinearGraph(t *testing.T) {
	g, err := graph.NewStateGraph(graph.NewStateSchema()).
		AddNode("first", set("x", 1)).
		AddNode("second", func(ctx context.Context, state graph.State) (any, error) {
			return graph.State{"y": state["x"].(int) + 1}, nil
		}).
		SetEntryPoint("first").
		AddEdge("first", "second").
		SetFinishPoint("second").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), graph.State{"input": "go"})
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Step)
	assert.Equal(t, graph.State{"input": "go", "x": 1, "y": 2}, res.State)
	assert.NotEmpty(t, res.GraphID)
	assert.Empty(t, res.CheckpointID)
}

func TestParallelWritesMergeInPendingOrder(t *testing.T) {
	slow := func(item string, d time.Duration) graph.NodeFunc {
		return func(ctx context.Context, state graph.State) (any, error) {
			time.Sleep(d)
			return graph.State{"items": []any{item}, "n": 1}, nil
		}
	}
	g, err := graph.NewStateGraph(itemsSchema()).
		AddNode("fan", appendItem("fan")).
		AddNode("left", slow("left", 20*time.Millisecond)).
		AddNode("right", slow("right", 0)).
		AddNode("join", appendItem("join")).
		SetEntryPoint("fan").
		AddEdge("fan", "left").
		AddEdge("fan", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		SetFinishPoint("join").
		Compile()
	require.NoError(t, err)
	e := newExecutor(t, g)

	for i := 0; i < 5; i++ {
		res, err := e.Invoke(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []any{"fan", "left", "right", "join"}, res.State["items"])
		assert.EqualValues(t, 2, res.State["n"])
		// join is scheduled once even though two edges lead to it.
		assert.Equal(t, 3, res.Step)
	}
}

func TestNodesSeeSnapshots(t *testing.T) {
	g, err := graph.NewStateGraph(itemsSchema()).
		AddNode("seed", appendItem("seed")).
		AddNode("mutator", func(ctx context.Context, state graph.State) (any, error) {
			state["items"].([]any)[0] = "mutated"
			return nil, nil
		}).
		AddNode("reader", func(ctx context.Context, state graph.State) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return graph.State{"seen": state["items"].([]any)[0]}, nil
		}).
		SetEntryPoint("seed").
		AddEdge("seed", "mutator").
		AddEdge("seed", "reader").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "seed", res.State["seen"])
	assert.Equal(t, []any{"seed"}, res.State["items"])
}

func TestRecursionLimitStopsRun(t *testing.T) {
	var runs atomic.Int32
	g, err := graph.NewStateGraph(itemsSchema()).
		AddNode("inc", func(ctx context.Context, state graph.State) (any, error) {
			runs.Add(1)
			return graph.State{"n": 1}, nil
		}).
		SetEntryPoint("inc").
		AddConditionalEdges("inc", func(context.Context, graph.State) (string, error) { return "inc", nil }, nil).
		Compile(graph.WithRecursionLimit(5))
	require.NoError(t, err)

	ch, err := newExecutor(t, g).Execute(context.Background(), nil, agent.NewInvocation())
	require.NoError(t, err)
	events := collect(t, ch)
	last := events[len(events)-1]
	res, ok := graph.ResultOf(last)
	require.True(t, ok)

	assert.Equal(t, graph.StatusLimitReached, res.Status)
	assert.Equal(t, 5, res.Step)
	assert.EqualValues(t, 5, runs.Load())
	assert.EqualValues(t, 5, res.State["n"])
	require.NotNil(t, last.LimitReached)
	assert.Equal(t, event.LimitKindRecursion, last.LimitReached.Kind)
	assert.Equal(t, 5, last.LimitReached.Max)
	assert.False(t, last.IsError())
}

func TestConditionalRoutingWithPathMap(t *testing.T) {
	route := func(ctx context.Context, state graph.State) (string, error) {
		if state["n"].(int64) >= 3 {
			return "done", nil
		}
		return "again", nil
	}
	g, err := graph.NewStateGraph(itemsSchema()).
		AddNode("count", set("n", 1)).
		AddNode("finish", appendItem("finish")).
		SetEntryPoint("count").
		AddConditionalEdges("count", route, map[string]string{"again": "count", "done": "finish"}).
		SetFinishPoint("finish").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), graph.State{"n": int64(0)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.State["n"])
	assert.Equal(t, []any{"finish"}, res.State["items"])
	assert.Equal(t, 4, res.Step)
}

func TestUnknownConditionResultFails(t *testing.T) {
	g, err := graph.NewStateGraph(nil).
		AddNode("a", set("x", 1)).
		SetEntryPoint("a").
		AddConditionalEdges("a", func(context.Context, graph.State) (string, error) { return "nowhere", nil },
			map[string]string{"somewhere": graph.End}).
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, res.Status)
	var execErr *graph.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "a", execErr.Node)
}

func TestCommandGoTo(t *testing.T) {
	g, err := graph.NewStateGraph(itemsSchema()).
		AddNode("router", func(ctx context.Context, state graph.State) (any, error) {
			return &graph.Command{Update: graph.State{"items": []any{"router"}}, GoTo: "special"}, nil
		}, graph.WithDestinations("special")).
		AddNode("normal", appendItem("normal")).
		AddNode("special", appendItem("special")).
		SetEntryPoint("router").
		AddEdge("router", "normal").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"router", "special"}, res.State["items"])
}

func TestNodeErrorFailsRun(t *testing.T) {
	boom := errors.New("boom")
	var errs []string
	callbacks := graph.NewNodeCallbacks().RegisterOnNodeError(
		func(ctx context.Context, cc *graph.NodeCallbackContext, state graph.State, err error) {
			errs = append(errs, cc.NodeID)
		})
	g, err := graph.NewStateGraph(nil).
		AddNode("ok", set("x", 1)).
		AddNode("bad", func(context.Context, graph.State) (any, error) { return nil, boom }).
		SetEntryPoint("ok").
		AddEdge("ok", "bad").
		Compile(graph.WithNodeCallbacks(callbacks))
	require.NoError(t, err)

	ch, err := newExecutor(t, g).Execute(context.Background(), nil, agent.NewInvocation())
	require.NoError(t, err)
	events := collect(t, ch)
	last := events[len(events)-1]
	res, ok := graph.ResultOf(last)
	require.True(t, ok)

	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	var execErr *graph.ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.Equal(t, "bad", execErr.Node)
	assert.Equal(t, 1, execErr.Step)
	assert.Equal(t, 1, res.State["x"])
	assert.Equal(t, []string{"bad"}, errs)
	require.True(t, last.IsError())
	assert.Equal(t, agent.ErrorTypeFlowError, last.Error.Type)
}

func TestNodePanicFailsRun(t *testing.T) {
	g, err := graph.NewStateGraph(nil).
		AddNode("panics", func(context.Context, graph.State) (any, error) { panic("oops") }).
		SetEntryPoint("panics").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.Contains(t, err.Error(), "oops")
}

func TestUnsupportedResultFails(t *testing.T) {
	g, err := graph.NewStateGraph(nil).
		AddNode("odd", func(context.Context, graph.State) (any, error) { return 42, nil }).
		SetEntryPoint("odd").
		Compile()
	require.NoError(t, err)

	_, err = newExecutor(t, g).Invoke(context.Background(), nil)
	assert.ErrorContains(t, err, "unsupported node result type int")
}

func TestRetryPolicy(t *testing.T) {
	flaky := errors.New("flaky")
	var attempts atomic.Int32
	g, err := graph.NewStateGraph(nil).
		AddNode("flaky", func(ctx context.Context, state graph.State) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, flaky
			}
			return graph.State{"ok": true}, nil
		}, graph.WithRetryPolicy(graph.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			RetryOn:         []graph.RetryCondition{graph.RetryOnErrors(flaky)},
		})).
		SetEntryPoint("flaky").
		Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.State["ok"])
	assert.EqualValues(t, 3, attempts.Load())
}

func TestBeforeNodeCallbackShortCircuits(t *testing.T) {
	var ran atomic.Bool
	callbacks := graph.NewNodeCallbacks().
		RegisterBeforeNode(func(ctx context.Context, cc *graph.NodeCallbackContext, state graph.State) (any, error) {
			if cc.NodeID == "skipped" {
				return graph.State{"from": "callback"}, nil
			}
			return nil, nil
		}).
		RegisterAfterNode(func(ctx context.Context, cc *graph.NodeCallbackContext, state graph.State, result any, nodeErr error) (any, error) {
			update := result.(graph.State)
			update["after"] = cc.Step
			return update, nil
		})
	g, err := graph.NewStateGraph(nil).
		AddNode("skipped", func(context.Context, graph.State) (any, error) {
			ran.Store(true)
			return graph.State{"from": "node"}, nil
		}).
		SetEntryPoint("skipped").
		Compile(graph.WithNodeCallbacks(callbacks))
	require.NoError(t, err)

	res, err := newExecutor(t, g).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ran.Load())
	assert.Equal(t, "callback", res.State["from"])
	assert.Equal(t, 0, res.State["after"])
}

func TestEventSequence(t *testing.T) {
	g, err := graph.NewStateGraph(nil).
		AddNode("only", func(ctx context.Context, state graph.State) (any, error) {
			evt, err := graph.NewNodeEvent(ctx, event.WithObject("custom"))
			if err != nil {
				return nil, err
			}
			graph.EmitNodeEvent(ctx, evt)
			return graph.State{"ok": true, "bad/key": 1, "__private": 2}, nil
		}).
		SetEntryPoint("only").
		Compile()
	require.NoError(t, err)
	e := newExecutor(t, g, graph.WithCheckpointSaver(inmemory.NewSaver()))
	inv := agent.NewInvocation(agent.WithInvocationID("inv-1"))

	ch, err := e.Execute(context.Background(), nil, inv, graph.WithGraphID("thread"))
	require.NoError(t, err)
	events := collect(t, ch)

	var objects []string
	for _, evt := range events {
		objects = append(objects, evt.Object)
		assert.Equal(t, "inv-1", evt.InvocationID)
		assert.Equal(t, graph.AuthorGraphExecutor, evt.Author)
	}
	assert.Equal(t, []string{
		graph.ObjectTypeGraphCheckpoint,
		graph.ObjectTypeGraphNodeStart,
		"custom",
		graph.ObjectTypeGraphNodeComplete,
		model.ObjectTypeStateUpdate,
		graph.ObjectTypeGraphCheckpoint,
		graph.ObjectTypeGraphExecution,
	}, objects)

	node, ok := graph.NodeIDOf(events[2])
	require.True(t, ok)
	assert.Equal(t, "only", node)
	step, ok := graph.StepOf(events[4])
	require.True(t, ok)
	assert.Equal(t, 1, step)
	assert.Equal(t, map[string]any{"ok": true}, events[4].Actions.StateDelta)

	res, ok := graph.ResultOf(events[6])
	require.True(t, ok)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	id, ok := graph.CheckpointIDOf(events[5])
	require.True(t, ok)
	assert.Equal(t, id, res.CheckpointID)
	assert.Equal(t, "thread", res.GraphID)
}

func TestExecuteRequiresInvocation(t *testing.T) {
	g := graph.NewStateGraph(nil).AddNode("a", set("x", 1)).SetEntryPoint("a").MustCompile()
	_, err := newExecutor(t, g).Execute(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestEndedInvocationCancelsRun(t *testing.T) {
	var second atomic.Bool
	g, err := graph.NewStateGraph(nil).
		AddNode("stopper", func(ctx context.Context, state graph.State) (any, error) {
			inv, ok := agent.InvocationFromContext(ctx)
			if !ok {
				return nil, errors.New("no invocation")
			}
			inv.EndInvocation()
			return graph.State{"x": 1}, nil
		}).
		AddNode("after", func(context.Context, graph.State) (any, error) {
			second.Store(true)
			return nil, nil
		}).
		SetEntryPoint("stopper").
		AddEdge("stopper", "after").
		Compile()
	require.NoError(t, err)

	ch, err := newExecutor(t, g).Execute(context.Background(), nil, agent.NewInvocation())
	require.NoError(t, err)
	events := collect(t, ch)
	res, ok := graph.ResultOf(events[len(events)-1])
	require.True(t, ok)
	assert.Equal(t, graph.StatusCancelled, res.Status)
	assert.False(t, second.Load())
}

// answerAgent replies with a fixed text and writes one state key.
type answerAgent struct {
	name string

	mu       sync.Mutex
	messages []model.Message
}

func (a *answerAgent) Info() agent.Info                { return agent.Info{Name: a.name} }
func (a *answerAgent) Tools() []tool.Tool              { return nil }
func (a *answerAgent) SubAgents() []agent.Agent        { return nil }
func (a *answerAgent) FindSubAgent(string) agent.Agent { return nil }

func (a *answerAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	a.mu.Lock()
	a.messages = append(a.messages, inv.Message)
	a.mu.Unlock()
	ch := make(chan *event.Event, 2)
	go func() {
		defer close(ch)
		partial := event.NewResponseEvent(inv.InvocationID, a.name, &model.Response{IsPartial: true})
		final := event.NewResponseEvent(inv.InvocationID, a.name,
			model.NewTextResponse("answer to "+inv.Message.Content),
			event.WithStateDelta(map[string]any{a.name + "_done": true}))
		_ = agent.EmitEvent(ctx, inv, ch, partial)
		_ = agent.EmitEvent(ctx, inv, ch, final)
	}()
	return ch, nil
}

func TestAgentNode(t *testing.T) {
	ag := &answerAgent{name: "expert"}
	g, err := graph.NewStateGraph(graph.MessagesStateSchema()).
		AddAgentNode("ask", ag).
		SetEntryPoint("ask").
		Compile()
	require.NoError(t, err)
	inv := agent.NewInvocation(agent.WithInvocationAgent(ag))
	inv.EnableCompletionNotices()

	ch, err := newExecutor(t, g).Execute(context.Background(),
		graph.State{graph.StateKeyUserInput: "why"}, inv)
	require.NoError(t, err)
	events := collectCommitted(t, inv, ch)

	require.Len(t, ag.messages, 1)
	assert.Equal(t, model.NewUserMessage("why"), ag.messages[0])

	last := events[len(events)-1]
	res, ok := graph.ResultOf(last)
	require.True(t, ok)
	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, "answer to why", res.State[graph.StateKeyLastResponse])
	assert.Equal(t, true, res.State["expert_done"])
	assert.Equal(t, []model.Message{model.NewAssistantMessage("answer to why")}, res.State[graph.StateKeyMessages])
	// The agent already delivered the answer.
	assert.Empty(t, last.Choices)

	var agentEvents int
	for _, evt := range events {
		if evt.Author == "expert" && evt.Object == model.ObjectTypeChatCompletion {
			agentEvents++
			// Buffered inside the node, committed when the step is flushed.
			assert.True(t, evt.RequiresCompletion)
			node, _ := graph.NodeIDOf(evt)
			assert.Equal(t, "ask", node)
		}
	}
	assert.Equal(t, 1, agentEvents)
}

func TestCompletionCarriesLastResponse(t *testing.T) {
	g := graph.NewStateGraph(graph.MessagesStateSchema()).
		AddNode("write", set(graph.StateKeyLastResponse, "done")).
		SetEntryPoint("write").
		MustCompile()
	ch, err := newExecutor(t, g).Execute(context.Background(), nil, agent.NewInvocation())
	require.NoError(t, err)
	events := collect(t, ch)
	last := events[len(events)-1]
	require.Len(t, last.Choices, 1)
	assert.Equal(t, "done", last.Choices[0].Message.Content)
	assert.True(t, last.IsFinalResponse())
}

func TestNegativeConcurrencyRejected(t *testing.T) {
	g := graph.NewStateGraph(nil).AddNode("a", set("x", 1)).SetEntryPoint("a").MustCompile()
	_, err := graph.NewExecutor(g, graph.WithMaxConcurrency(-1))
	assert.Error(t, err)
	_, err = graph.NewExecutor(nil)
	assert.ErrorIs(t, err, graph.ErrInvalidGraph)
}

func TestMaxConcurrencyBoundsNodes(t *testing.T) {
	var running, peak atomic.Int32
	work := func(ctx context.Context, state graph.State) (any, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}
	sg := graph.NewStateGraph(nil)
	for _, id := range []string{"w1", "w2", "w3", "w4"} {
		sg.AddNode(id, work).SetEntryPoint(id)
	}
	g, err := sg.Compile()
	require.NoError(t, err)

	_, err = newExecutor(t, g, graph.WithMaxConcurrency(2)).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

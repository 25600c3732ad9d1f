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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

func routeOf(t *testing.T, cond ConditionalFunc, state State) string {
	t.Helper()
	target, err := cond(context.Background(), state)
	require.NoError(t, err)
	return target
}

func TestRouteByField(t *testing.T) {
	cond := RouteByField("next")
	assert.Equal(t, "agent_a", routeOf(t, cond, State{"next": "agent_a"}))
	assert.Equal(t, "agent_b", routeOf(t, cond, State{"next": "agent_b"}))
	assert.Equal(t, End, routeOf(t, cond, State{}))
	assert.Equal(t, End, routeOf(t, cond, State{"next": 3}))
}

func TestRouteByBool(t *testing.T) {
	cond := RouteByBool("again", "process", End)
	assert.Equal(t, "process", routeOf(t, cond, State{"again": true}))
	assert.Equal(t, End, routeOf(t, cond, State{"again": false}))
	assert.Equal(t, End, routeOf(t, cond, State{"again": "true"}))
	assert.Equal(t, End, routeOf(t, cond, nil))
}

func TestRouteOnToolCalls(t *testing.T) {
	cond := RouteOnToolCalls(StateKeyMessages, "tools", End)
	withCalls := model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1"}}}

	assert.Equal(t, "tools", routeOf(t, cond, State{StateKeyMessages: []model.Message{
		model.NewUserMessage("q"), withCalls,
	}}))
	assert.Equal(t, End, routeOf(t, cond, State{StateKeyMessages: []model.Message{
		withCalls, model.NewAssistantMessage("done"),
	}}))
	assert.Equal(t, "tools", routeOf(t, cond, State{StateKeyMessages: []any{withCalls}}))
	assert.Equal(t, End, routeOf(t, cond, State{StateKeyMessages: []model.Message{}}))
	assert.Equal(t, End, routeOf(t, cond, State{}))
}

func TestRouteByMaxIterations(t *testing.T) {
	cond := RouteByMaxIterations("n", 3, "loop", "done")
	assert.Equal(t, "loop", routeOf(t, cond, State{}))
	assert.Equal(t, "loop", routeOf(t, cond, State{"n": 2}))
	assert.Equal(t, "done", routeOf(t, cond, State{"n": int64(3)}))
	// Counters restored from JSON are float64.
	assert.Equal(t, "done", routeOf(t, cond, State{"n": float64(4)}))
}

func TestRouteOnError(t *testing.T) {
	cond := RouteOnError("error", "handler", "ok")
	assert.Equal(t, "ok", routeOf(t, cond, State{}))
	assert.Equal(t, "ok", routeOf(t, cond, State{"error": ""}))
	assert.Equal(t, "handler", routeOf(t, cond, State{"error": "boom"}))
	assert.Equal(t, "handler", routeOf(t, cond, State{"error": errors.New("boom")}))
}

func TestRouteByMaxIterationsDrivesLoop(t *testing.T) {
	schema := NewStateSchema().AddField("n", StateField{Reducer: SumReducer})
	g := NewStateGraph(schema).
		AddNode("work", func(context.Context, State) (any, error) { return State{"n": 1}, nil }).
		AddNode("finish", noop).
		SetEntryPoint("work").
		AddConditionalEdges("work", RouteByMaxIterations("n", 3, "again", "stop"),
			map[string]string{"again": "work", "stop": "finish"}).
		SetFinishPoint("finish").
		MustCompile()
	e, err := NewExecutor(g)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(3), res.State["n"])
}

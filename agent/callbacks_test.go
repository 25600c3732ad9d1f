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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
)

func TestCallbacks_BeforeAgent_NoCallbacks(t *testing.T) {
	callbacks := NewCallbacks()
	resp, err := callbacks.RunBeforeAgent(context.Background(), NewInvocation())
	require.NoError(t, err)
	require.Nil(t, resp)

	var nilCallbacks *Callbacks
	resp, err = nilCallbacks.RunBeforeAgent(context.Background(), NewInvocation())
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestCallbacks_BeforeAgent_ShortCircuitSkipsLater(t *testing.T) {
	var calls []string
	custom := &model.Response{ID: "custom"}
	callbacks := NewCallbacks().
		RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
			calls = append(calls, "first")
			return nil, nil
		}).
		RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
			calls = append(calls, "second")
			return custom, nil
		}).
		RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
			calls = append(calls, "third")
			return nil, nil
		})

	resp, err := callbacks.RunBeforeAgent(context.Background(), NewInvocation())
	require.NoError(t, err)
	assert.Equal(t, custom, resp)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestCallbacks_BeforeAgent_Error(t *testing.T) {
	callbacks := NewCallbacks().RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
		return nil, context.DeadlineExceeded
	})
	resp, err := callbacks.RunBeforeAgent(context.Background(), NewInvocation())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, resp)
}

func TestCallbacks_AfterAgentSeesRunError(t *testing.T) {
	runErr := errors.New("agent failed")
	var seen error
	callbacks := NewCallbacks().RegisterAfterAgent(func(ctx context.Context, inv *Invocation, err error) (*model.Response, error) {
		seen = err
		return model.NewTextResponse("replaced"), nil
	})
	resp, err := callbacks.RunAfterAgent(context.Background(), NewInvocation(), runErr)
	require.NoError(t, err)
	assert.Equal(t, runErr, seen)
	assert.Equal(t, "replaced", resp.Text())
}

func TestRunBeforeAgent_PluginHooksRunFirst(t *testing.T) {
	var order []string
	pluginHooks := NewCallbacks().RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
		order = append(order, "plugin")
		return nil, nil
	})
	own := NewCallbacks().RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
		order = append(order, "own")
		return model.NewTextResponse("cached"), nil
	})
	inv := NewInvocation(WithInvocationHooks(Hooks{Agent: pluginHooks}))
	inv.AgentName = "a"

	evt := RunBeforeAgent(context.Background(), inv, own)
	require.NotNil(t, evt)
	assert.Equal(t, "cached", evt.Text())
	assert.Equal(t, "a", evt.Author)
	assert.Equal(t, []string{"plugin", "own"}, order)
}

func TestRunBeforeAgent_ErrorBecomesCallbackError(t *testing.T) {
	own := NewCallbacks().RegisterBeforeAgent(func(ctx context.Context, inv *Invocation) (*model.Response, error) {
		return nil, errors.New("denied")
	})
	evt := RunBeforeAgent(context.Background(), NewInvocation(), own)
	require.NotNil(t, evt)
	require.True(t, evt.IsError())
	assert.Equal(t, ErrorTypeCallbackError, evt.Error.Type)

	assert.Nil(t, RunBeforeAgent(context.Background(), NewInvocation(), nil))
	assert.Nil(t, RunAfterAgent(context.Background(), NewInvocation(), nil, nil))
}

func TestChainCallbacks(t *testing.T) {
	a := model.NewCallbacks().RegisterBeforeModel(func(ctx context.Context, req *model.Request) (*model.Response, error) {
		req.Messages = append(req.Messages, model.NewUserMessage("a"))
		return nil, nil
	})
	b := model.NewCallbacks().RegisterBeforeModel(func(ctx context.Context, req *model.Request) (*model.Response, error) {
		req.Messages = append(req.Messages, model.NewUserMessage("b"))
		return nil, nil
	})
	chained := ChainModelCallbacks(a, b)
	req := &model.Request{}
	_, err := chained.RunBeforeModel(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "a", req.Messages[0].Content)
	assert.Equal(t, "b", req.Messages[1].Content)
	assert.Len(t, a.BeforeModel, 1, "inputs are not modified")

	assert.Equal(t, a, ChainModelCallbacks(a, nil))
	assert.Equal(t, b, ChainModelCallbacks(nil, b))

	tc := tool.NewCallbacks()
	assert.Equal(t, tc, ChainToolCallbacks(nil, tc))
	merged := ChainToolCallbacks(tc.RegisterOnToolError(nil), tool.NewCallbacks().RegisterOnToolError(nil))
	assert.Len(t, merged.OnToolError, 2)
}

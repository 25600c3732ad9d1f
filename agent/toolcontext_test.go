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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/session"
)

func TestToolContext_RecordsActions(t *testing.T) {
	sess := &session.Session{ID: "s", State: session.StateMap{"x": 1}}
	inv := NewInvocation(WithInvocationSession(sess),
		WithInvocationRunOptions(RunOptions{RuntimeState: map[string]any{"room": "r1"}}))

	ctx, tc := NewToolContext(context.Background(), inv, "calc", "call-1")
	got, ok := ToolContextFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, tc, got)

	gotInv, ok := InvocationFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, inv, gotInv)

	assert.Equal(t, session.StateMap{"x": 1, "room": "r1"}, tc.State())

	tc.SetState("y", 2)
	tc.Escalate()
	tc.TransferTo("other")
	tc.SkipSummarization()
	actions := tc.Actions()
	assert.Equal(t, map[string]any{"y": 2}, actions.StateDelta)
	assert.True(t, actions.Escalate)
	assert.True(t, actions.SkipSummarization)
	assert.Equal(t, "other", actions.TransferToAgent)

	actions.StateDelta["z"] = 3
	assert.NotContains(t, tc.Actions().StateDelta, "z")
}

func TestNewCallbackContext(t *testing.T) {
	_, err := NewCallbackContext(context.Background())
	assert.Error(t, err)

	inv := NewInvocation()
	cc, err := NewCallbackContext(NewInvocationContext(context.Background(), inv))
	require.NoError(t, err)
	assert.Same(t, inv, cc.Invocation)
	assert.Empty(t, cc.State())
}

//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbacks_BeforeModelShortCircuit(t *testing.T) {
	callbacks := NewCallbacks()
	var calls []int
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		calls = append(calls, 1)
		return nil, nil
	})
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		calls = append(calls, 2)
		return &Response{ID: "custom-response"}, nil
	})
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		calls = append(calls, 3)
		return &Response{ID: "never"}, nil
	})

	rsp, err := callbacks.RunBeforeModel(context.Background(), &Request{})
	require.NoError(t, err)
	require.NotNil(t, rsp)
	require.Equal(t, "custom-response", rsp.ID)
	require.Equal(t, []int{1, 2}, calls)
}

func TestCallbacks_BeforeModelModifiesRequest(t *testing.T) {
	callbacks := NewCallbacks()
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		req.Messages = append(req.Messages, NewSystemMessage("be brief"))
		return nil, nil
	})
	req := &Request{Messages: []Message{NewUserMessage("hello")}}
	rsp, err := callbacks.RunBeforeModel(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, rsp)
	require.Len(t, req.Messages, 2)
	require.Equal(t, RoleSystem, req.Messages[1].Role)
}

func TestCallbacks_BeforeModelError(t *testing.T) {
	callbacks := NewCallbacks()
	secondCalled := false
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("boom")
	})
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *Request) (*Response, error) {
		secondCalled = true
		return nil, nil
	})
	_, err := callbacks.RunBeforeModel(context.Background(), &Request{})
	require.EqualError(t, err, "boom")
	require.False(t, secondCalled)
}

func TestCallbacks_AfterModelReplace(t *testing.T) {
	callbacks := NewCallbacks()
	callbacks.RegisterAfterModel(func(ctx context.Context, rsp *Response, modelErr error) (*Response, error) {
		return nil, nil
	})
	callbacks.RegisterAfterModel(func(ctx context.Context, rsp *Response, modelErr error) (*Response, error) {
		return NewTextResponse("replaced"), nil
	})
	rsp, err := callbacks.RunAfterModel(context.Background(), NewTextResponse("original"), nil)
	require.NoError(t, err)
	require.Equal(t, "replaced", rsp.Text())
}

func TestCallbacks_OnModelErrorFallback(t *testing.T) {
	callbacks := NewCallbacks()
	modelErr := errors.New("rate limited")
	callbacks.RegisterOnModelError(func(ctx context.Context, req *Request, err error) (*Response, error) {
		require.ErrorIs(t, err, modelErr)
		return NewTextResponse("fallback"), nil
	})
	rsp, err := callbacks.RunOnModelError(context.Background(), &Request{}, modelErr)
	require.NoError(t, err)
	require.Equal(t, "fallback", rsp.Text())
}

func TestCallbacks_Nil(t *testing.T) {
	var callbacks *Callbacks
	rsp, err := callbacks.RunBeforeModel(context.Background(), &Request{})
	require.NoError(t, err)
	require.Nil(t, rsp)
	rsp, err = callbacks.RunOnModelError(context.Background(), &Request{}, errors.New("x"))
	require.NoError(t, err)
	require.Nil(t, rsp)
}

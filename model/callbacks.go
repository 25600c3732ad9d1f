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
)

// BeforeModelCallback is called before the model is invoked.
// The callback may edit req in place to continue with a modified request.
// Returning a non-nil response skips the model call and every later
// before-model callback.
type BeforeModelCallback func(ctx context.Context, req *Request) (*Response, error)

// AfterModelCallback is called after the model is invoked.
// Returning a non-nil response replaces the original one.
type AfterModelCallback func(ctx context.Context, rsp *Response, modelErr error) (*Response, error)

// OnModelErrorCallback is called when the model call fails.
// Returning a non-nil response recovers with that response as a fallback.
type OnModelErrorCallback func(ctx context.Context, req *Request, modelErr error) (*Response, error)

// Callbacks holds the ordered model hooks.
type Callbacks struct {
	// BeforeModel is a list of callbacks that are called before the model is invoked.
	BeforeModel []BeforeModelCallback
	// AfterModel is a list of callbacks that are called after the model is invoked.
	AfterModel []AfterModelCallback
	// OnModelError is a list of callbacks that are called when the model fails.
	OnModelError []OnModelErrorCallback
}

// NewCallbacks creates a new Callbacks instance.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeModel registers a before model callback.
func (c *Callbacks) RegisterBeforeModel(cb BeforeModelCallback) *Callbacks {
	c.BeforeModel = append(c.BeforeModel, cb)
	return c
}

// RegisterAfterModel registers an after model callback.
func (c *Callbacks) RegisterAfterModel(cb AfterModelCallback) *Callbacks {
	c.AfterModel = append(c.AfterModel, cb)
	return c
}

// RegisterOnModelError registers a model error callback.
func (c *Callbacks) RegisterOnModelError(cb OnModelErrorCallback) *Callbacks {
	c.OnModelError = append(c.OnModelError, cb)
	return c
}

// RunBeforeModel runs the before model callbacks in registration order and
// stops at the first one that returns a response or an error.
func (c *Callbacks) RunBeforeModel(ctx context.Context, req *Request) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeModel {
		customResponse, err := cb(ctx, req)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}

// RunAfterModel runs the after model callbacks in registration order and
// stops at the first one that returns a response or an error.
func (c *Callbacks) RunAfterModel(ctx context.Context, rsp *Response, modelErr error) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterModel {
		customResponse, err := cb(ctx, rsp, modelErr)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}

// RunOnModelError runs the model error callbacks until one supplies a
// fallback response.
func (c *Callbacks) RunOnModelError(ctx context.Context, req *Request, modelErr error) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.OnModelError {
		fallback, err := cb(ctx, req, modelErr)
		if err != nil {
			return nil, err
		}
		if fallback != nil {
			return fallback, nil
		}
	}
	return nil, nil
}

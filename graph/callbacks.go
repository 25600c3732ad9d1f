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
	"time"
)

// NodeCallbackContext provides context information for node callbacks.
type NodeCallbackContext struct {
	// NodeID is the ID of the node being executed.
	NodeID string
	// NodeName is the name of the node being executed.
	NodeName string
	// Step is the super-step the node runs in.
	Step int
	// StartTime is when the node execution started.
	StartTime time.Time
	// InvocationID identifies the run.
	InvocationID string
	// GraphID is the checkpoint thread of the run.
	GraphID string
}

// BeforeNodeCallback is called before a node is executed.
// A non-nil result is used as the node result and the node is skipped.
// An error fails the node.
type BeforeNodeCallback func(ctx context.Context, cc *NodeCallbackContext, state State) (any, error)

// AfterNodeCallback is called after a node is executed, also when it failed.
// A non-nil result replaces the node result. An error fails the node.
type AfterNodeCallback func(ctx context.Context, cc *NodeCallbackContext, state State, result any, nodeErr error) (any, error)

// OnNodeErrorCallback observes node failures. Interrupts are not failures.
type OnNodeErrorCallback func(ctx context.Context, cc *NodeCallbackContext, state State, err error)

// NodeCallbacks holds callbacks for node operations.
type NodeCallbacks struct {
	BeforeNode  []BeforeNodeCallback
	AfterNode   []AfterNodeCallback
	OnNodeError []OnNodeErrorCallback
}

// NewNodeCallbacks creates a new NodeCallbacks instance.
func NewNodeCallbacks() *NodeCallbacks {
	return &NodeCallbacks{}
}

// RegisterBeforeNode registers a before node callback.
func (c *NodeCallbacks) RegisterBeforeNode(cb BeforeNodeCallback) *NodeCallbacks {
	c.BeforeNode = append(c.BeforeNode, cb)
	return c
}

// RegisterAfterNode registers an after node callback.
func (c *NodeCallbacks) RegisterAfterNode(cb AfterNodeCallback) *NodeCallbacks {
	c.AfterNode = append(c.AfterNode, cb)
	return c
}

// RegisterOnNodeError registers an on node error callback.
func (c *NodeCallbacks) RegisterOnNodeError(cb OnNodeErrorCallback) *NodeCallbacks {
	c.OnNodeError = append(c.OnNodeError, cb)
	return c
}

// RunBeforeNode runs the before callbacks in order and stops at the first
// one that returns a result or an error.
func (c *NodeCallbacks) RunBeforeNode(ctx context.Context, cc *NodeCallbackContext, state State) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeNode {
		result, err := cb(ctx, cc, state)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// RunAfterNode runs the after callbacks in order. Each sees the result of
// the previous one.
func (c *NodeCallbacks) RunAfterNode(
	ctx context.Context,
	cc *NodeCallbackContext,
	state State,
	result any,
	nodeErr error,
) (any, error) {
	if c == nil {
		return result, nil
	}
	current := result
	for _, cb := range c.AfterNode {
		custom, err := cb(ctx, cc, state, current, nodeErr)
		if err != nil {
			return nil, err
		}
		if custom != nil {
			current = custom
		}
	}
	return current, nil
}

// RunOnNodeError runs the error callbacks in order.
func (c *NodeCallbacks) RunOnNodeError(ctx context.Context, cc *NodeCallbackContext, state State, err error) {
	if c == nil {
		return
	}
	for _, cb := range c.OnNodeError {
		cb(ctx, cc, state, err)
	}
}

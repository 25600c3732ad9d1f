//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a state graph engine: nodes read a shared state,
// write partial updates merged through per-channel reducers, and run in
// super-steps with checkpoints after every step.
package graph

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
)

// Special node identifiers.
const (
	// Start is the virtual node the entry edges leave from.
	Start = "__start__"
	// End is the virtual node that terminates a path.
	End = "__end__"
)

// DefaultRecursionLimit bounds the number of super-steps of one run.
const DefaultRecursionLimit = 50

// NodeFunc is a function that can be executed by a node.
//
// The result is one of nil, State, map[string]any, *Command or Command.
// The state passed in is a snapshot owned by the node.
type NodeFunc func(ctx context.Context, state State) (any, error)

// ConditionalFunc picks the next node after the node it is attached to.
// The returned value is looked up in the path map, or used as a node ID
// when the edge has no path map.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Command combines a state update with explicit routing. A non-empty GoTo
// replaces the outgoing edges of the node for this step.
type Command struct {
	Update State
	GoTo   string
}

// Node represents a node in the graph.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc

	agent        agent.Agent
	destinations []string
	retry        *RetryPolicy
}

// Agent returns the agent run by an agent node, or nil.
func (n *Node) Agent() agent.Agent { return n.agent }

type conditionalEdge struct {
	from      string
	condition ConditionalFunc
	pathMap   map[string]string
}

// Graph is a compiled, immutable graph.
type Graph struct {
	schema          *StateSchema
	nodes           map[string]*Node
	order           []string
	edges           map[string][]string
	conditional     map[string]*conditionalEdge
	entries         []string
	interruptBefore map[string]bool
	interruptAfter  map[string]bool
	recursionLimit  int
	callbacks       *NodeCallbacks
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *StateSchema { return g.schema }

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// Nodes returns the node IDs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// EntryPoints returns the nodes that run first.
func (g *Graph) EntryPoints() []string {
	return append([]string(nil), g.entries...)
}

// RecursionLimit returns the maximum number of super-steps.
func (g *Graph) RecursionLimit() int { return g.recursionLimit }

// validate checks the structure of g. All problems are reported together.
func (g *Graph) validate() error {
	var errs []error
	if len(g.entries) == 0 {
		errs = append(errs, errors.New("no entry point"))
	}
	if g.recursionLimit <= 0 {
		errs = append(errs, fmt.Errorf("recursion limit must be positive, got %d", g.recursionLimit))
	}
	target := func(from, to string) {
		if to == End {
			return
		}
		if _, ok := g.nodes[to]; !ok {
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown target", from, to))
		}
	}
	for _, id := range g.entries {
		target(Start, id)
	}
	for _, from := range g.order {
		for _, to := range g.edges[from] {
			target(from, to)
		}
		if ce := g.conditional[from]; ce != nil {
			for _, to := range ce.pathMap {
				target(from, to)
			}
		}
		for _, to := range g.nodes[from].destinations {
			target(from, to)
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
	}
	for from := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %s", from))
		}
	}
	for id := range g.interruptBefore {
		if _, ok := g.nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("interrupt before unknown node %s", id))
		}
	}
	for id := range g.interruptAfter {
		if _, ok := g.nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("interrupt after unknown node %s", id))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if unreachable := g.unreachable(); len(unreachable) > 0 {
		return fmt.Errorf("unreachable nodes: %v", unreachable)
	}
	return nil
}

// unreachable returns the nodes no path from the entry points reaches.
// A conditional edge without a path map may go anywhere.
func (g *Graph) unreachable() []string {
	index := make(map[string]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}
	adj := make([][]int, len(g.order))
	for i, from := range g.order {
		add := func(to string) {
			if j, ok := index[to]; ok {
				adj[i] = append(adj[i], j)
			}
		}
		for _, to := range g.edges[from] {
			add(to)
		}
		for _, to := range g.nodes[from].destinations {
			add(to)
		}
		if ce := g.conditional[from]; ce != nil {
			if ce.pathMap == nil {
				for j := range g.order {
					adj[i] = append(adj[i], j)
				}
			}
			for _, to := range ce.pathMap {
				add(to)
			}
		}
	}
	seen := make([]bool, len(g.order))
	queue := make([]int, 0, len(g.order))
	for _, id := range g.entries {
		if i, ok := index[id]; ok && !seen[i] {
			seen[i] = true
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, j := range adj[i] {
			if !seen[j] {
				seen[j] = true
				queue = append(queue, j)
			}
		}
	}
	var out []string
	for i, ok := range seen {
		if !ok {
			out = append(out, g.order[i])
		}
	}
	return out
}

// nextNodes resolves the successors of a node given its result and the
// merged state. Command.GoTo takes precedence over the static edges.
func (g *Graph) nextNodes(ctx context.Context, id string, result any, state State) ([]string, error) {
	if cmd := asCommand(result); cmd != nil && cmd.GoTo != "" {
		if cmd.GoTo != End && g.nodes[cmd.GoTo] == nil {
			return nil, fmt.Errorf("command from %s: unknown node %s", id, cmd.GoTo)
		}
		return []string{cmd.GoTo}, nil
	}
	next := append([]string(nil), g.edges[id]...)
	if ce := g.conditional[id]; ce != nil {
		choice, err := ce.condition(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("condition of %s: %w", id, err)
		}
		to := choice
		if ce.pathMap != nil {
			mapped, ok := ce.pathMap[choice]
			if !ok {
				return nil, fmt.Errorf("condition of %s: no path for %q", id, choice)
			}
			to = mapped
		}
		if to != End && g.nodes[to] == nil {
			return nil, fmt.Errorf("condition of %s: unknown node %s", id, to)
		}
		next = append(next, to)
	}
	return next, nil
}

func asCommand(result any) *Command {
	switch v := result.(type) {
	case *Command:
		return v
	case Command:
		return &v
	}
	return nil
}

// updateOf extracts the state writes from a node result.
func updateOf(result any) (State, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case State:
		return v, nil
	case map[string]any:
		return State(v), nil
	case *Command:
		if v == nil {
			return nil, nil
		}
		return v.Update, nil
	case Command:
		return v.Update, nil
	}
	return nil, fmt.Errorf("unsupported node result type %T", result)
}

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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
)

// StateGraph provides a fluent interface for building graphs.
//
// Example usage:
//
//	schema := NewStateSchema().AddField("counter", StateField{Reducer: SumReducer})
//	g, err := NewStateGraph(schema).
//	  AddNode("increment", incrementFunc).
//	  SetEntryPoint("increment").
//	  SetFinishPoint("increment").
//	  Compile()
//
// Builder mistakes are recorded and reported by Compile.
type StateGraph struct {
	schema          *StateSchema
	nodes           map[string]*Node
	order           []string
	edges           map[string][]string
	conditional     map[string]*conditionalEdge
	entries         []string
	interruptBefore []string
	interruptAfter  []string
	errs            []error
}

// NewStateGraph creates a new graph builder with the given state schema.
// A nil schema means every channel is overwritten.
func NewStateGraph(schema *StateSchema) *StateGraph {
	return &StateGraph{
		schema:      schema,
		nodes:       make(map[string]*Node),
		edges:       make(map[string][]string),
		conditional: make(map[string]*conditionalEdge),
	}
}

// Option is a function that configures a Node.
type Option func(*Node)

// WithName sets the name of the node.
func WithName(name string) Option {
	return func(node *Node) {
		node.Name = name
	}
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) {
		node.Description = description
	}
}

// WithDestinations declares the nodes a node may route to with
// Command.GoTo, so that they count as reachable.
func WithDestinations(targets ...string) Option {
	return func(node *Node) {
		node.destinations = append(node.destinations, targets...)
	}
}

// WithRetryPolicy retries the node on errors matched by the policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(node *Node) {
		node.retry = &policy
	}
}

// AddNode adds a node with the given ID and function.
// The name and description of the node can be set with the options.
func (sg *StateGraph) AddNode(id string, function NodeFunc, opts ...Option) *StateGraph {
	if function == nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %s: nil function", id))
		return sg
	}
	node := &Node{
		ID:       id,
		Name:     id,
		Function: function,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.addNode(node)
	return sg
}

// AddAgentNode adds a node that runs a on the graph's invocation. See
// agentNodeFunc for how the agent's output maps onto state.
func (sg *StateGraph) AddAgentNode(id string, a agent.Agent, opts ...Option) *StateGraph {
	if a == nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %s: nil agent", id))
		return sg
	}
	node := &Node{
		ID:          id,
		Name:        a.Info().Name,
		Description: a.Info().Description,
		Function:    agentNodeFunc(a),
		agent:       a,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.addNode(node)
	return sg
}

func (sg *StateGraph) addNode(node *Node) {
	switch {
	case node.ID == "":
		sg.errs = append(sg.errs, errors.New("node with empty ID"))
	case node.ID == Start || node.ID == End:
		sg.errs = append(sg.errs, fmt.Errorf("node ID %s is reserved", node.ID))
	case sg.nodes[node.ID] != nil:
		sg.errs = append(sg.errs, fmt.Errorf("duplicate node %s", node.ID))
	default:
		sg.nodes[node.ID] = node
		sg.order = append(sg.order, node.ID)
	}
}

// AddEdge adds a normal edge between two nodes. An edge from Start marks
// an entry point.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if from == Start {
		return sg.SetEntryPoint(to)
	}
	if from == End {
		sg.errs = append(sg.errs, fmt.Errorf("edge from %s", End))
		return sg
	}
	sg.edges[from] = append(sg.edges[from], to)
	return sg
}

// AddConditionalEdges adds conditional routing from a node. With a nil
// pathMap the condition returns node IDs directly.
func (sg *StateGraph) AddConditionalEdges(
	from string,
	condition ConditionalFunc,
	pathMap map[string]string,
) *StateGraph {
	if condition == nil {
		sg.errs = append(sg.errs, fmt.Errorf("conditional edge from %s: nil condition", from))
		return sg
	}
	if sg.conditional[from] != nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %s already has conditional edges", from))
		return sg
	}
	var pm map[string]string
	if pathMap != nil {
		pm = make(map[string]string, len(pathMap))
		for k, v := range pathMap {
			pm[k] = v
		}
	}
	sg.conditional[from] = &conditionalEdge{from: from, condition: condition, pathMap: pm}
	return sg
}

// SetEntryPoint adds a node that runs in the first step. Several entry
// points run in parallel.
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	for _, id := range sg.entries {
		if id == nodeID {
			return sg
		}
	}
	sg.entries = append(sg.entries, nodeID)
	return sg
}

// SetFinishPoint adds an edge from nodeID to End.
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	return sg.AddEdge(nodeID, End)
}

// WithInterruptBefore pauses the run before any of nodes executes.
func (sg *StateGraph) WithInterruptBefore(nodes ...string) *StateGraph {
	sg.interruptBefore = append(sg.interruptBefore, nodes...)
	return sg
}

// WithInterruptAfter pauses the run after the step in which any of nodes
// executed.
func (sg *StateGraph) WithInterruptAfter(nodes ...string) *StateGraph {
	sg.interruptAfter = append(sg.interruptAfter, nodes...)
	return sg
}

// CompileOption configures Compile.
type CompileOption func(*Graph)

// WithRecursionLimit bounds the number of super-steps of a run.
func WithRecursionLimit(n int) CompileOption {
	return func(g *Graph) {
		g.recursionLimit = n
	}
}

// WithNodeCallbacks installs callbacks run around every node.
func WithNodeCallbacks(callbacks *NodeCallbacks) CompileOption {
	return func(g *Graph) {
		g.callbacks = callbacks
	}
}

// Compile validates the builder and returns an immutable graph. Errors
// wrap ErrInvalidGraph.
func (sg *StateGraph) Compile(opts ...CompileOption) (*Graph, error) {
	g := &Graph{
		schema:          sg.schema.clone(),
		nodes:           make(map[string]*Node, len(sg.nodes)),
		order:           append([]string(nil), sg.order...),
		edges:           make(map[string][]string, len(sg.edges)),
		conditional:     make(map[string]*conditionalEdge, len(sg.conditional)),
		entries:         append([]string(nil), sg.entries...),
		interruptBefore: make(map[string]bool, len(sg.interruptBefore)),
		interruptAfter:  make(map[string]bool, len(sg.interruptAfter)),
		recursionLimit:  DefaultRecursionLimit,
	}
	for id, n := range sg.nodes {
		cp := *n
		cp.destinations = append([]string(nil), n.destinations...)
		g.nodes[id] = &cp
	}
	for from, tos := range sg.edges {
		g.edges[from] = append([]string(nil), tos...)
	}
	for from, ce := range sg.conditional {
		g.conditional[from] = ce
	}
	for _, id := range sg.interruptBefore {
		g.interruptBefore[id] = true
	}
	for _, id := range sg.interruptAfter {
		g.interruptAfter[id] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	errs := append([]error(nil), sg.errs...)
	if err := g.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}
	return g, nil
}

// MustCompile is like Compile but panics on error.
func (sg *StateGraph) MustCompile(opts ...CompileOption) *Graph {
	g, err := sg.Compile(opts...)
	if err != nil {
		panic(err)
	}
	return g
}

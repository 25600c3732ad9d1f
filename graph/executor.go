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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-flow/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/session"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-flow/telemetry/trace"
)

const defaultChannelBufferSize = 256

// Status is the outcome of a run.
type Status string

// Run outcomes.
const (
	StatusCompleted    Status = "completed"
	StatusLimitReached Status = "limit_reached"
	StatusInterrupted  Status = "interrupted"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Result describes how a run ended.
type Result struct {
	Status Status `json:"status"`
	// State is the final state without internal channels.
	State State `json:"state,omitempty"`
	// Step is the number of completed super-steps.
	Step    int    `json:"step"`
	GraphID string `json:"graph_id"`
	// CheckpointID is the last checkpoint saved, empty without a saver.
	CheckpointID string     `json:"checkpoint_id,omitempty"`
	Interrupt    *Interrupt `json:"interrupt,omitempty"`
	// Err is an *ExecutionError when Status is StatusFailed.
	Err error `json:"-"`
}

// Executor executes a compiled graph.
type Executor struct {
	graph             *Graph
	channelBufferSize int
	maxConcurrency    int
	saver             CheckpointSaver
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// ChannelBufferSize is the buffer size of the event channel.
	ChannelBufferSize int
	// MaxConcurrency bounds the nodes running at once. Zero means all
	// pending nodes run at once.
	MaxConcurrency int
	// CheckpointSaver persists checkpoints. Without one runs cannot resume.
	CheckpointSaver CheckpointSaver
}

// WithChannelBufferSize sets the buffer size for event channels.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.ChannelBufferSize = size
	}
}

// WithMaxConcurrency bounds the nodes running at once.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MaxConcurrency = n
	}
}

// WithCheckpointSaver sets the checkpoint saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.CheckpointSaver = saver
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}
	options := ExecutorOptions{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&options)
	}
	if options.ChannelBufferSize <= 0 {
		options.ChannelBufferSize = defaultChannelBufferSize
	}
	if options.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must not be negative, got %d", options.MaxConcurrency)
	}
	return &Executor{
		graph:             graph,
		channelBufferSize: options.ChannelBufferSize,
		maxConcurrency:    options.MaxConcurrency,
		saver:             options.CheckpointSaver,
	}, nil
}

// Graph returns the graph run by the executor.
func (e *Executor) Graph() *Graph { return e.graph }

// CheckpointSaver returns the configured saver, or nil.
func (e *Executor) CheckpointSaver() CheckpointSaver { return e.saver }

// ExecuteOption configures one run.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	graphID      string
	checkpointID string
	resume       any
	hasResume    bool
	resumeMap    map[string]any
}

// WithGraphID names the checkpoint thread of the run. With a saver, a run
// continues from the newest checkpoint of the thread unless it completed.
func WithGraphID(id string) ExecuteOption {
	return func(o *executeOptions) {
		o.graphID = id
	}
}

// WithCheckpointID starts the run from a specific checkpoint.
func WithCheckpointID(id string) ExecuteOption {
	return func(o *executeOptions) {
		o.checkpointID = id
	}
}

// WithResume passes a value to the node that interrupted, see Await.
func WithResume(value any) ExecuteOption {
	return func(o *executeOptions) {
		o.resume = value
		o.hasResume = true
	}
}

// WithResumeMap passes values keyed by the Await key.
func WithResumeMap(values map[string]any) ExecuteOption {
	return func(o *executeOptions) {
		o.resumeMap = values
	}
}

// Execute runs the graph on inv and streams its events. The last event
// carries the Result, see ResultOf. Errors returned directly concern the
// setup, such as an unknown checkpoint.
func (e *Executor) Execute(
	ctx context.Context,
	input State,
	inv *agent.Invocation,
	opts ...ExecuteOption,
) (<-chan *event.Event, error) {
	if inv == nil {
		return nil, errors.New("graph: nil invocation")
	}
	var o executeOptions
	for _, opt := range opts {
		opt(&o)
	}
	r, err := e.prepare(ctx, input, inv, &o)
	if err != nil {
		return nil, err
	}
	out := make(chan *event.Event, e.channelBufferSize)
	r.out = out
	go func() {
		defer close(out)
		res := r.loop(ctx)
		if res.Status == StatusCancelled && ctx.Err() != nil {
			return
		}
		text := ""
		if last, _ := res.State[StateKeyLastResponse].(string); last != r.lastAgentText {
			text = last
		}
		evt := newCompletionEvent(r.invocationID, r.author, r.branch, res, text)
		if res.Status == StatusLimitReached {
			evt.LimitReached = &event.Limit{Kind: event.LimitKindRecursion, Max: e.graph.recursionLimit}
		}
		if err := event.EmitEvent(ctx, out, evt); err != nil {
			log.Debugf("graph %s: completion event dropped: %v", r.graphID, err)
		}
	}()
	return out, nil
}

// Invoke runs the graph to the end without an invocation and returns the
// result. A failed run also returns the *ExecutionError.
func (e *Executor) Invoke(ctx context.Context, input State, opts ...ExecuteOption) (*Result, error) {
	inv := agent.NewInvocation()
	ch, err := e.Execute(ctx, input, inv, opts...)
	if err != nil {
		return nil, err
	}
	var res *Result
	for evt := range ch {
		if r, ok := ResultOf(evt); ok {
			res = r
		}
	}
	if res == nil {
		return nil, ctx.Err()
	}
	if res.Status == StatusFailed {
		return res, res.Err
	}
	return res, nil
}

// UpdateState writes update into the newest checkpoint of graphID through
// the reducers and saves the result as a new checkpoint. The pending nodes
// and the interrupt are kept, so that the next run resumes with the edit.
func (e *Executor) UpdateState(ctx context.Context, graphID string, update State) (*Checkpoint, error) {
	if e.saver == nil {
		return nil, ErrNoCheckpointSaver
	}
	latest, err := e.saver.Load(ctx, graphID, LatestStep)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: graph %s", ErrCheckpointNotFound, graphID)
	}
	state, err := e.restoreState(latest)
	if err != nil {
		return nil, err
	}
	e.graph.schema.applyInPlace(state, update)
	cp := NewCheckpoint(graphID, latest.ID, latest.Step, state, latest.NextNodes, CheckpointSourceUpdate)
	cp.InterruptKind = latest.InterruptKind
	cp.InterruptNode = latest.InterruptNode
	cp.InterruptValue = latest.InterruptValue
	if err := e.saver.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	log.Debugf("graph %s: state updated at step %d, checkpoint %s", graphID, cp.Step, cp.ID)
	return cp, nil
}

func (e *Executor) restoreState(cp *Checkpoint) (State, error) {
	state := e.graph.schema.Defaults()
	values, err := e.graph.schema.restore(cp.Values)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		state[k] = v
	}
	return state, nil
}

// prepare resolves where the run starts.
func (e *Executor) prepare(ctx context.Context, input State, inv *agent.Invocation, o *executeOptions) (*run, error) {
	r := &run{
		exec:         e,
		inv:          inv,
		invocationID: inv.InvocationID,
		author:       inv.AgentName,
		branch:       inv.Branch,
		graphID:      o.graphID,
	}
	if r.author == "" {
		r.author = AuthorGraphExecutor
	}
	if o.hasResume || len(o.resumeMap) > 0 {
		r.resume = State{}
		if o.hasResume {
			r.resume[ResumeChannel] = o.resume
		}
		if len(o.resumeMap) > 0 {
			r.resume[StateKeyResumeMap] = o.resumeMap
		}
	}

	var cp *Checkpoint
	switch {
	case o.checkpointID != "" && e.saver == nil:
		return nil, ErrNoCheckpointSaver
	case o.checkpointID != "":
		loaded, err := e.saver.LoadByID(ctx, o.checkpointID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if loaded == nil {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, o.checkpointID)
		}
		if r.graphID != "" && loaded.GraphID != r.graphID {
			return nil, fmt.Errorf("%w: %s in graph %s", ErrCheckpointNotFound, o.checkpointID, r.graphID)
		}
		r.graphID = loaded.GraphID
		cp = loaded
	case r.graphID != "" && e.saver != nil:
		loaded, err := e.saver.Load(ctx, r.graphID, LatestStep)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		cp = loaded
	}
	if r.graphID == "" {
		r.graphID = uuid.New().String()
	}

	r.state = e.graph.schema.Defaults()
	if cp == nil {
		e.graph.schema.applyInPlace(r.state, input)
		r.pending = e.graph.EntryPoints()
		r.fresh = true
		return r, nil
	}
	restored, err := e.restoreState(cp)
	if err != nil {
		return nil, err
	}
	r.state = restored
	e.graph.schema.applyInPlace(r.state, input)
	r.parentID = cp.ID
	r.lastCheckpointID = cp.ID
	if cp.Completed() && cp.InterruptKind == "" {
		// The thread finished; start over on top of its state.
		r.pending = e.graph.EntryPoints()
		r.fresh = true
		log.Debugf("graph %s: checkpoint %s completed, starting a new run", r.graphID, cp.ID)
		return r, nil
	}
	r.step = cp.Step
	r.pending = append([]string(nil), cp.NextNodes...)
	r.closeThread = cp.Completed()
	r.skipBefore = cp.InterruptKind == InterruptBefore || cp.InterruptKind == InterruptNode
	log.Debugf("graph %s: resuming from checkpoint %s at step %d, next %v", r.graphID, cp.ID, cp.Step, cp.NextNodes)
	return r, nil
}

// run is the state of one execution.
type run struct {
	exec         *Executor
	inv          *agent.Invocation
	invocationID string
	author       string
	branch       string
	graphID      string
	out          chan<- *event.Event

	state            State
	pending          []string
	step             int
	fresh            bool
	skipBefore       bool
	closeThread      bool
	resume           State
	parentID         string
	lastCheckpointID string
	lastAgentText    string
}

type nodeOutcome struct {
	result    any
	update    State
	err       error
	interrupt *InterruptError
	events    []*event.Event
	duration  time.Duration
}

func (r *run) result(status Status) *Result {
	return &Result{
		Status:       status,
		State:        checkpointValues(r.state),
		Step:         r.step,
		GraphID:      r.graphID,
		CheckpointID: r.lastCheckpointID,
	}
}

func (r *run) fail(node string, err error) *Result {
	res := r.result(StatusFailed)
	res.Err = &ExecutionError{Node: node, Step: r.step, Err: err}
	log.Warnf("graph %s: %v", r.graphID, res.Err)
	return res
}

// emit sends evt and, when it carries state, waits until the consumer has
// committed it, so agents running after the graph read its writes.
func (r *run) emit(ctx context.Context, evt *event.Event) error {
	return agent.EmitEvent(ctx, r.inv, r.out, evt)
}

// loop runs super-steps until nothing is pending, a bound is hit, the run
// pauses or fails.
func (r *run) loop(ctx context.Context) *Result {
	g := r.exec.graph
	poolSize := r.exec.maxConcurrency
	if poolSize == 0 || poolSize > len(g.order) {
		poolSize = len(g.order)
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return r.fail("", fmt.Errorf("create node pool: %w", err))
	}
	defer pool.Release()

	if r.fresh {
		cp := NewCheckpoint(r.graphID, r.parentID, 0, r.state, r.pending, CheckpointSourceInput)
		if err := r.save(ctx, cp); err != nil {
			return r.fail("", err)
		}
	}
	for {
		if len(r.pending) == 0 {
			if r.closeThread {
				// Mark the thread of a finished interrupt as completed.
				cp := NewCheckpoint(r.graphID, r.parentID, r.step, r.state, nil, CheckpointSourceLoop)
				if err := r.save(ctx, cp); err != nil {
					return r.fail("", err)
				}
			}
			log.Debugf("graph %s: completed after %d steps", r.graphID, r.step)
			return r.result(StatusCompleted)
		}
		if ctx.Err() != nil || r.inv.Ended() {
			return r.result(StatusCancelled)
		}
		if r.step >= g.recursionLimit {
			log.Warnf("graph %s: recursion limit %d reached, pending %v", r.graphID, g.recursionLimit, r.pending)
			metric.RecordLimitReached(ctx, event.LimitKindRecursion)
			return r.result(StatusLimitReached)
		}
		if !r.skipBefore {
			if id := firstIn(r.pending, g.interruptBefore); id != "" {
				return r.pause(ctx, &Interrupt{Kind: InterruptBefore, NodeID: id}, r.pending)
			}
		}
		r.skipBefore = false
		if res := r.superStep(ctx, pool); res != nil {
			return res
		}
	}
}

// superStep runs the pending set once. It returns a non-nil result when
// the run stops in this step.
func (r *run) superStep(ctx context.Context, pool *ants.Pool) *Result {
	g := r.exec.graph
	started := time.Now()
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameGraphStep)
	defer span.End()
	itelemetry.TraceGraphStep(span, r.step, r.pending)

	for _, id := range r.pending {
		if err := r.emit(ctx, newNodeStartEvent(r.invocationID, r.author, r.branch, id, r.step)); err != nil {
			return r.result(StatusCancelled)
		}
	}

	outcomes := make([]nodeOutcome, len(r.pending))
	var wg sync.WaitGroup
	for i, id := range r.pending {
		snapshot := r.snapshot()
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					outcomes[i] = nodeOutcome{err: fmt.Errorf("node %s panicked: %v", id, p)}
				}
			}()
			outcomes[i] = r.runNode(ctx, g.nodes[id], snapshot)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = nodeOutcome{err: fmt.Errorf("submit node %s: %w", id, err)}
		}
	}
	wg.Wait()
	r.resume = nil

	if ctx.Err() != nil || r.inv.Ended() {
		return r.result(StatusCancelled)
	}
	for i, id := range r.pending {
		if ie := outcomes[i].interrupt; ie != nil {
			// Writes and events of the step are dropped; the whole step
			// runs again on resume.
			return r.pause(ctx, &Interrupt{Kind: InterruptNode, NodeID: id, Value: ie.Value}, r.pending)
		}
	}
	for i, id := range r.pending {
		if err := outcomes[i].err; err != nil {
			return r.fail(id, err)
		}
	}

	for i, id := range r.pending {
		for _, evt := range outcomes[i].events {
			if evt.Response != nil && !evt.IsPartial && evt.IsFinalResponse() && len(evt.Choices) > 0 {
				r.lastAgentText = evt.Choices[0].Message.Content
			}
			if err := r.emit(ctx, evt); err != nil {
				return r.result(StatusCancelled)
			}
		}
		evt := newNodeCompleteEvent(r.invocationID, r.author, r.branch, id, r.step, outcomes[i].duration)
		if err := r.emit(ctx, evt); err != nil {
			return r.result(StatusCancelled)
		}
	}

	var touched []string
	seen := make(map[string]bool)
	for i := range r.pending {
		g.schema.applyInPlace(r.state, outcomes[i].update)
		for k := range outcomes[i].update {
			if !seen[k] {
				seen[k] = true
				touched = append(touched, k)
			}
		}
	}

	var next []string
	for i, id := range r.pending {
		ns, err := g.nextNodes(ctx, id, outcomes[i].result, r.state)
		if err != nil {
			return r.fail(id, err)
		}
		next = append(next, ns...)
	}
	next = dedupe(next)
	executed := r.pending
	r.step++
	span.SetAttributes(attribute.StringSlice(itelemetry.KeyGraphNodes, next))

	if delta := r.delta(touched); len(delta) > 0 {
		if err := r.emit(ctx, newStateUpdateEvent(r.invocationID, r.author, r.branch, r.step, delta)); err != nil {
			return r.result(StatusCancelled)
		}
	}
	metric.RecordGraphStep(ctx, r.author, time.Since(started))

	if id := firstIn(executed, g.interruptAfter); id != "" {
		return r.pause(ctx, &Interrupt{Kind: InterruptAfter, NodeID: id}, next)
	}
	cp := NewCheckpoint(r.graphID, r.parentID, r.step, r.state, next, CheckpointSourceLoop)
	if err := r.save(ctx, cp); err != nil {
		return r.fail("", err)
	}
	r.pending = next
	return nil
}

// pause saves an interrupt checkpoint with next pending and stops the run.
func (r *run) pause(ctx context.Context, in *Interrupt, next []string) *Result {
	cp := NewCheckpoint(r.graphID, r.parentID, r.step, r.state, next, CheckpointSourceInterrupt)
	cp.InterruptKind = in.Kind
	cp.InterruptNode = in.NodeID
	cp.InterruptValue = in.Value
	if err := r.save(ctx, cp); err != nil {
		return r.fail(in.NodeID, err)
	}
	r.pending = next
	log.Debugf("graph %s: interrupted %s %s at step %d", r.graphID, in.Kind, in.NodeID, r.step)
	res := r.result(StatusInterrupted)
	res.Interrupt = in
	if err := r.emit(ctx, newInterruptEvent(r.invocationID, r.author, r.branch, in, cp)); err != nil {
		return r.result(StatusCancelled)
	}
	return res
}

// save persists cp when a saver is configured and announces it.
func (r *run) save(ctx context.Context, cp *Checkpoint) error {
	saver := r.exec.saver
	if saver == nil {
		return nil
	}
	if err := saver.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	r.parentID = cp.ID
	r.lastCheckpointID = cp.ID
	return r.emit(ctx, newCheckpointEvent(r.invocationID, r.author, r.branch, cp))
}

// snapshot returns a copy of the state a node may mutate freely. Resume
// values are only visible in the first step after a resume.
func (r *run) snapshot() State {
	snap := make(State, len(r.state)+len(r.resume))
	for k, v := range r.state {
		if isInternalStateKey(k) {
			snap[k] = v
			continue
		}
		snap[k] = deepCopyAny(v)
	}
	for k, v := range r.resume {
		snap[k] = v
	}
	return snap
}

// delta returns the merged values of touched keys that session state can
// hold.
func (r *run) delta(touched []string) map[string]any {
	delta := make(map[string]any, len(touched))
	for _, k := range touched {
		if isInternalStateKey(k) {
			continue
		}
		if err := session.ValidateStateKey(k); err != nil {
			log.Warnf("graph %s: channel %s not mirrored to session state: %v", r.graphID, k, err)
			continue
		}
		delta[k] = deepCopyAny(r.state[k])
	}
	return delta
}

func (r *run) runNode(ctx context.Context, node *Node, snapshot State) nodeOutcome {
	g := r.exec.graph
	started := time.Now()
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewGraphNodeSpanName(node.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyGraphNode, node.ID),
		attribute.Int(itelemetry.KeyGraphStep, r.step),
	)

	nr := &nodeRun{nodeID: node.ID, step: r.step, inv: r.inv, author: r.author, branch: r.branch}
	ctx = context.WithValue(ctx, nodeRunKey{}, nr)
	ctx = agent.NewInvocationContext(ctx, r.inv)
	cc := &NodeCallbackContext{
		NodeID:       node.ID,
		NodeName:     node.Name,
		Step:         r.step,
		StartTime:    started,
		InvocationID: r.invocationID,
		GraphID:      r.graphID,
	}

	result, err := g.callbacks.RunBeforeNode(ctx, cc, snapshot)
	if err == nil && result == nil {
		result, err = runWithRetry(ctx, node.ID, node.retry, func() (any, error) {
			nr.reset()
			return node.Function(ctx, snapshot)
		})
	}
	if ie, ok := GetInterruptError(err); ok {
		ie.NodeID = node.ID
		ie.Step = r.step
		return nodeOutcome{interrupt: ie, duration: time.Since(started)}
	}
	if err != nil {
		g.callbacks.RunOnNodeError(ctx, cc, snapshot, err)
	}
	after, aerr := g.callbacks.RunAfterNode(ctx, cc, snapshot, result, err)
	switch {
	case aerr != nil:
		err = aerr
	case err == nil:
		result = after
	}
	out := nodeOutcome{result: result, err: err, events: nr.drain(), duration: time.Since(started)}
	if err == nil {
		out.update, out.err = updateOf(result)
	}
	return out
}

func firstIn(ids []string, set map[string]bool) string {
	for _, id := range ids {
		if set[id] {
			return id
		}
	}
	return ""
}

// dedupe keeps the first occurrence of every ID and drops End.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == End || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

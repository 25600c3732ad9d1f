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
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

// TransferInfo contains information about a pending agent transfer.
type TransferInfo struct {
	// TargetAgentName is the name of the agent to transfer control to.
	TargetAgentName string
	// Message is the message to send to the target agent.
	Message string
}

// Invocation represents the context for a flow execution.
//
// An invocation is copied with Clone for every sub-agent and branch. The
// copies share the end signal and the completion notices, so ending any of
// them ends all of them.
type Invocation struct {
	// Agent is the agent that is being invoked.
	Agent Agent
	// AgentName is the name of the agent that is being invoked.
	AgentName string
	// InvocationID is the ID of the invocation.
	InvocationID string
	// Branch is the branch identifier for hierarchical event filtering.
	Branch string
	// Session is the session that is being used for the invocation.
	Session *session.Session
	// Model is the model that is being used for the invocation.
	Model model.Model
	// Message is the message that is being sent to the agent.
	Message model.Message
	// RunOptions is the options for the Run method.
	RunOptions RunOptions
	// TransferInfo contains information about a pending agent transfer.
	TransferInfo *TransferInfo
	// RootAgent is the root of the agent tree, used to resolve transfers.
	RootAgent Agent
	// Hooks are the plugin hooks of the runner. They run before the
	// agent's own callbacks.
	Hooks Hooks

	end     *endSignal
	notices *noticeBoard
}

type endSignal struct {
	once sync.Once
	ch   chan struct{}
}

type noticeBoard struct {
	mu       sync.Mutex
	enabled  bool
	channels map[string]chan struct{}
}

// NewInvocation creates an invocation with a fresh ID and end signal.
func NewInvocation(opts ...InvocationOptions) *Invocation {
	inv := &Invocation{InvocationID: uuid.New().String()}
	inv.ensureShared()
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// ensureShared lazily creates the shared parts of invocations built as
// struct literals.
func (inv *Invocation) ensureShared() {
	if inv.end == nil {
		inv.end = &endSignal{ch: make(chan struct{})}
	}
	if inv.notices == nil {
		inv.notices = &noticeBoard{channels: make(map[string]chan struct{})}
	}
}

// Clone returns a copy of the invocation with opts applied. The copy
// shares the end signal and completion notices with inv.
func (inv *Invocation) Clone(opts ...InvocationOptions) *Invocation {
	inv.ensureShared()
	clone := *inv
	clone.TransferInfo = nil
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// CreateBranchInvocation creates the invocation of one parallel branch.
// The branch name is appended to the parent's branch.
func (inv *Invocation) CreateBranchInvocation(branchAgent Agent) *Invocation {
	name := branchAgent.Info().Name
	branch := name
	if inv.Branch != "" {
		branch = inv.Branch + BranchDelimiter + name
	} else if inv.AgentName != "" {
		branch = inv.AgentName + BranchDelimiter + name
	}
	return inv.Clone(WithInvocationAgent(branchAgent), WithInvocationBranch(branch))
}

// BranchDelimiter separates the segments of a branch.
const BranchDelimiter = "."

// EndInvocation ends the invocation and every clone of it. It is safe to
// call more than once.
func (inv *Invocation) EndInvocation() {
	inv.ensureShared()
	inv.end.once.Do(func() { close(inv.end.ch) })
}

// Ended reports whether EndInvocation has been called.
func (inv *Invocation) Ended() bool {
	select {
	case <-inv.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the invocation ends.
func (inv *Invocation) Done() <-chan struct{} {
	inv.ensureShared()
	return inv.end.ch
}

// EnableCompletionNotices makes emitters of state-changing events wait for
// NotifyCompletion before they continue. Runners that persist events call
// it before running the agent.
func (inv *Invocation) EnableCompletionNotices() {
	inv.ensureShared()
	inv.notices.mu.Lock()
	inv.notices.enabled = true
	inv.notices.mu.Unlock()
}

// WithoutCompletionNotices returns a clone of inv whose emitters never
// wait. The clone still shares the end signal. Used where events are
// buffered before they reach the runner.
func (inv *Invocation) WithoutCompletionNotices() *Invocation {
	clone := inv.Clone()
	clone.notices = &noticeBoard{channels: make(map[string]chan struct{})}
	return clone
}

// AddNoticeChannel registers a completion notice for key and returns the
// channel closed by NotifyCompletion. It returns nil when notices are
// disabled.
func (inv *Invocation) AddNoticeChannel(key string) <-chan struct{} {
	inv.ensureShared()
	b := inv.notices
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return nil
	}
	ch, ok := b.channels[key]
	if !ok {
		ch = make(chan struct{})
		b.channels[key] = ch
	}
	return ch
}

// NotifyCompletion releases the emitter waiting on key. Unknown keys are
// ignored.
func (inv *Invocation) NotifyCompletion(key string) {
	inv.ensureShared()
	b := inv.notices
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[key]; ok {
		close(ch)
		delete(b.channels, key)
	}
}

// ConfirmationDecision is a human decision on a tool call that needs
// confirmation.
type ConfirmationDecision string

// Confirmation decisions.
const (
	ConfirmationApprove ConfirmationDecision = "approve"
	ConfirmationDeny    ConfirmationDecision = "deny"
)

// RunOption is a function that configures a RunOptions.
type RunOption func(*RunOptions)

// RunOptions is the options for the Run method.
type RunOptions struct {
	// RuntimeState is merged into the session state seen by this run
	// without being persisted.
	RuntimeState map[string]any
	// ToolConfirmations holds decisions keyed by tool call ID or tool name.
	ToolConfirmations map[string]ConfirmationDecision
}

// WithRuntimeState sets the runtime state for the RunOptions.
func WithRuntimeState(state map[string]any) RunOption {
	return func(opts *RunOptions) {
		opts.RuntimeState = state
	}
}

// WithToolConfirmation records a decision for a tool call ID or tool name.
func WithToolConfirmation(key string, decision ConfirmationDecision) RunOption {
	return func(opts *RunOptions) {
		if opts.ToolConfirmations == nil {
			opts.ToolConfirmations = make(map[string]ConfirmationDecision)
		}
		opts.ToolConfirmations[key] = decision
	}
}

// ConfirmationFor looks up the decision for a tool call, by call ID first
// and then by tool name.
func (o RunOptions) ConfirmationFor(callID, toolName string) (ConfirmationDecision, bool) {
	if d, ok := o.ToolConfirmations[callID]; ok && callID != "" {
		return d, true
	}
	d, ok := o.ToolConfirmations[toolName]
	return d, ok
}

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
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

// InvocationOptions is the options for the Invocation.
type InvocationOptions func(*Invocation)

// WithInvocationID set invocation id for the Invocation.
func WithInvocationID(id string) InvocationOptions {
	return func(inv *Invocation) {
		inv.InvocationID = id
	}
}

// WithInvocationAgent set agent for the Invocation.
func WithInvocationAgent(agent Agent) InvocationOptions {
	return func(inv *Invocation) {
		inv.Agent = agent
		inv.AgentName = agent.Info().Name
	}
}

// WithInvocationBranch set branch for the Invocation.
func WithInvocationBranch(branch string) InvocationOptions {
	return func(inv *Invocation) {
		inv.Branch = branch
	}
}

// WithInvocationSession set session for the Invocation.
func WithInvocationSession(session *session.Session) InvocationOptions {
	return func(inv *Invocation) {
		inv.Session = session
	}
}

// WithInvocationModel set model for the Invocation.
func WithInvocationModel(model model.Model) InvocationOptions {
	return func(inv *Invocation) {
		inv.Model = model
	}
}

// WithInvocationMessage set message for the Invocation.
func WithInvocationMessage(message model.Message) InvocationOptions {
	return func(inv *Invocation) {
		inv.Message = message
	}
}

// WithInvocationRunOptions set runOptions for the Invocation.
func WithInvocationRunOptions(runOptions RunOptions) InvocationOptions {
	return func(inv *Invocation) {
		inv.RunOptions = runOptions
	}
}

// WithInvocationTransferInfo set transferInfo for the Invocation.
func WithInvocationTransferInfo(transferInfo *TransferInfo) InvocationOptions {
	return func(inv *Invocation) {
		inv.TransferInfo = transferInfo
	}
}

// WithInvocationRootAgent set the root of the agent tree.
func WithInvocationRootAgent(root Agent) InvocationOptions {
	return func(inv *Invocation) {
		inv.RootAgent = root
	}
}

// WithInvocationHooks set plugin hooks for the Invocation.
func WithInvocationHooks(hooks Hooks) InvocationOptions {
	return func(inv *Invocation) {
		inv.Hooks = hooks
	}
}

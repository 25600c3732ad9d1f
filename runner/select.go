//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/session"
	"trpc.group/trpc-go/trpc-agent-flow/tool/transfer"
)

const authorSystem = "system"

// findAgentToRun picks the agent that continues the conversation in sess.
// The newest transfer target or the newest non-user author wins when it can
// be resumed directly; otherwise the root runs.
func findAgentToRun(root agent.Agent, sess *session.Session) agent.Agent {
	if sess == nil {
		return root
	}
	events := sess.GetEvents()
	for i := len(events) - 1; i >= 0; i-- {
		evt := &events[i]
		if target := evt.Actions.TransferToAgent; target != "" {
			if found := resumable(root, target); found != nil {
				return found
			}
		}
		if evt.Author == authorUser || evt.Author == authorSystem || evt.Author == "" {
			continue
		}
		if found := resumable(root, evt.Author); found != nil {
			return found
		}
	}
	return root
}

// resumable returns the agent named name when every agent above it in the
// tree is able to transfer, so that skipping them loses no control flow.
// Workflow agents such as chains, loops and graphs keep control of their
// children.
func resumable(root agent.Agent, name string) agent.Agent {
	path := pathTo(root, name)
	if len(path) == 0 {
		return nil
	}
	for _, ancestor := range path[:len(path)-1] {
		if !canTransfer(ancestor) {
			return nil
		}
	}
	return path[len(path)-1]
}

// pathTo returns the agents from root down to the agent named name.
func pathTo(root agent.Agent, name string) []agent.Agent {
	if root == nil {
		return nil
	}
	if root.Info().Name == name {
		return []agent.Agent{root}
	}
	for _, sub := range root.SubAgents() {
		if rest := pathTo(sub, name); rest != nil {
			return append([]agent.Agent{root}, rest...)
		}
	}
	return nil
}

func canTransfer(a agent.Agent) bool {
	for _, t := range a.Tools() {
		if decl := t.Declaration(); decl != nil && decl.Name == transfer.TransferToolName {
			return true
		}
	}
	return false
}

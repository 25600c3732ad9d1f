//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/model"
)

// IdentityRequestProcessor tells the model who it is.
type IdentityRequestProcessor struct {
	AgentName   string
	Description string
}

// NewIdentityRequestProcessor creates a new identity request processor.
func NewIdentityRequestProcessor(agentName, description string) *IdentityRequestProcessor {
	return &IdentityRequestProcessor{AgentName: agentName, Description: description}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *IdentityRequestProcessor) ProcessRequest(_ context.Context, _ *agent.Invocation, req *model.Request) {
	if req == nil {
		return
	}
	var identity string
	switch {
	case p.AgentName != "" && p.Description != "":
		identity = "You are " + p.AgentName + ". " + p.Description
	case p.AgentName != "":
		identity = "You are " + p.AgentName + "."
	default:
		identity = p.Description
	}
	if identity == "" {
		return
	}
	prependSystem(req, identity)
}

// prependSystem puts content at the front of the system message, creating
// it when missing. Content already present is not repeated.
func prependSystem(req *model.Request, content string) {
	for i := range req.Messages {
		if req.Messages[i].Role != model.RoleSystem {
			continue
		}
		if strings.Contains(req.Messages[i].Content, content) {
			return
		}
		req.Messages[i].Content = content + "\n\n" + req.Messages[i].Content
		return
	}
	req.Messages = append([]model.Message{model.NewSystemMessage(content)}, req.Messages...)
}

// appendSystem adds content at the end of the system message, creating it
// when missing.
func appendSystem(req *model.Request, content string) {
	for i := range req.Messages {
		if req.Messages[i].Role != model.RoleSystem {
			continue
		}
		if strings.Contains(req.Messages[i].Content, content) {
			return
		}
		req.Messages[i].Content += "\n\n" + content
		return
	}
	req.Messages = append([]model.Message{model.NewSystemMessage(content)}, req.Messages...)
}

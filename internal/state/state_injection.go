//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package state provides state injection functionality.
package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

// mustachePlaceholderRE matches Mustache-style placeholders like {{key}},
// optionally allowing namespaces (user:, app:, temp:) and the optional
// suffix '?'.
var mustachePlaceholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*:(?:[A-Za-z_][A-Za-z0-9_]*)|[A-Za-z_][A-Za-z0-9_]*)(\?)?\s*\}\}`)

var stateVarPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// normalizePlaceholders converts {{key}} placeholders to {key}.
func normalizePlaceholders(s string) string {
	if s == "" {
		return s
	}
	return mustachePlaceholderRE.ReplaceAllString(s, `{$1$2}`)
}

// InjectSessionState replaces {key} placeholders in template with values
// from the invocation's state. {key?} is optional and becomes empty when
// missing; a missing required key is left as is so the model sees it.
//
// Example:
//
//	template: "Tell me about the city stored in {capital_city}."
//	state: {"capital_city": "Paris"}
//	result: "Tell me about the city stored in Paris."
func InjectSessionState(template string, invocation *agent.Invocation) (string, error) {
	if template == "" {
		return template, nil
	}
	return Render(template, stateOf(invocation)), nil
}

// Render replaces the placeholders of template from state.
func Render(template string, state session.StateMap) string {
	template = normalizePlaceholders(template)
	return stateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.Trim(match, "{}")
		optional := false
		if strings.HasSuffix(varName, "?") {
			optional = true
			varName = strings.TrimSuffix(varName, "?")
		}
		if !isValidStateName(varName) {
			return match
		}
		if v, ok := state[varName]; ok {
			return format(v)
		}
		if optional {
			return ""
		}
		return match
	})
}

func stateOf(inv *agent.Invocation) session.StateMap {
	if inv == nil {
		return nil
	}
	var state session.StateMap
	if inv.Session != nil {
		state = inv.Session.GetState()
	}
	return session.ApplyDelta(state, inv.RunOptions.RuntimeState)
}

func format(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	case nil:
		return ""
	}
	if bts, err := json.Marshal(v); err == nil {
		return string(bts)
	}
	return fmt.Sprintf("%v", v)
}

// isValidStateName accepts identifiers, optionally behind one of the
// app:, user: or temp: prefixes.
func isValidStateName(varName string) bool {
	if isIdentifier(varName) {
		return true
	}
	for _, prefix := range []string{session.StateAppPrefix, session.StateUserPrefix, session.StateTempPrefix} {
		if strings.HasPrefix(varName, prefix) {
			return isIdentifier(strings.TrimPrefix(varName, prefix))
		}
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if i == 0 && !letter {
			return false
		}
		if !letter && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

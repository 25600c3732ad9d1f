//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// State key prefixes select the scope a key lives in. Keys without a prefix
// belong to the session.
const (
	// StateAppPrefix is shared by every session of the app.
	StateAppPrefix = "app:"
	// StateUserPrefix is shared by every session of the user.
	StateUserPrefix = "user:"
	// StateTempPrefix is never persisted beyond the current invocation.
	StateTempPrefix = "temp:"
)

// MaxStateKeyLength is the maximum length of a state key in bytes.
const MaxStateKeyLength = 256

// ErrInvalidStateKey is returned for state keys that fail validation.
var ErrInvalidStateKey = errors.New("invalid state key")

// StateMap is a map of state key-value pairs.
type StateMap map[string]any

// ValidateStateKey checks a single state key.
func ValidateStateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidStateKey)
	case len(key) > MaxStateKeyLength:
		return fmt.Errorf("%w: key longer than %d bytes", ErrInvalidStateKey, MaxStateKeyLength)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: %q is not valid utf-8", ErrInvalidStateKey, key)
	case strings.ContainsAny(key, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidStateKey, key)
	case strings.Contains(key, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidStateKey, key)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidStateKey, key)
		}
	}
	return nil
}

// ValidateDelta validates every key of delta. Nothing is applied when it
// returns an error.
func ValidateDelta(delta map[string]any) error {
	for k := range delta {
		if err := ValidateStateKey(k); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDelta returns a new state with delta applied on top of state.
// The input maps are never modified.
func ApplyDelta(state StateMap, delta map[string]any) StateMap {
	out := make(StateMap, len(state)+len(delta))
	for k, v := range state {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// SplitByScope partitions state by key prefix. The prefixes are kept on
// the returned keys.
func SplitByScope(state StateMap) (app, user, sess, temp StateMap) {
	app, user, sess, temp = StateMap{}, StateMap{}, StateMap{}, StateMap{}
	for k, v := range state {
		switch {
		case strings.HasPrefix(k, StateAppPrefix):
			app[k] = v
		case strings.HasPrefix(k, StateUserPrefix):
			user[k] = v
		case strings.HasPrefix(k, StateTempPrefix):
			temp[k] = v
		default:
			sess[k] = v
		}
	}
	return app, user, sess, temp
}

// Clone returns a shallow copy of the state.
func (s StateMap) Clone() StateMap {
	if s == nil {
		return nil
	}
	out := make(StateMap, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

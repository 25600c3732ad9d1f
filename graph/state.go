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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-flow/model"
)

const (
	// StateKeyUserInput is the key of the user input.
	// Typically it remains constant across the graph.
	StateKeyUserInput = "user_input"
	// StateKeyLastResponse is the key of the last response.
	StateKeyLastResponse = "last_response"
	// StateKeyMessages is the key of the messages.
	// Typically it is used and updated by agent nodes.
	StateKeyMessages = "messages"
	// StateKeySession is the key of the session. It is never checkpointed.
	StateKeySession = "session"
)

// Internal channels. Keys with the "__" prefix are never checkpointed nor
// mirrored into session state.
const (
	internalKeyPrefix = "__"
	// ResumeChannel carries the value passed with WithResume.
	ResumeChannel = "__resume__"
	// StateKeyResumeMap carries the values passed with WithResumeMap.
	StateKeyResumeMap = "__resume_map__"
)

func isInternalStateKey(key string) bool {
	return strings.HasPrefix(key, internalKeyPrefix) || key == StateKeySession
}

// State represents the state that flows through the graph.
// This is the shared data structure that flows between nodes.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// StateReducer is a function that determines how state updates are merged.
// It takes existing and new values and returns the merged result. Reducers
// must not modify existing.
type StateReducer func(existing, update any) any

// StateField defines a field in the state schema with its type and reducer.
type StateField struct {
	// Type is the Go type of the value. Values restored from a checkpoint
	// are converted back to it.
	Type    reflect.Type
	Reducer StateReducer
	Default func() any
}

// StateSchema defines the channels of graph state and how writes to them
// are merged.
type StateSchema struct {
	Fields map[string]StateField
}

// NewStateSchema creates a new state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{
		Fields: make(map[string]StateField),
	}
}

// MessagesStateSchema returns a schema with the channels agent nodes use:
// appended messages, the user input and the last response.
func MessagesStateSchema() *StateSchema {
	return NewStateSchema().
		AddField(StateKeyMessages, StateField{
			Type:    reflect.TypeOf([]model.Message{}),
			Reducer: MessageReducer,
			Default: func() any { return []model.Message{} },
		}).
		AddField(StateKeyUserInput, StateField{Type: reflect.TypeOf("")}).
		AddField(StateKeyLastResponse, StateField{Type: reflect.TypeOf("")})
}

// AddField adds a field to the state schema.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}
	s.Fields[name] = field
	return s
}

// clone copies the schema so that later AddField calls on the original do
// not affect a compiled graph.
func (s *StateSchema) clone() *StateSchema {
	out := NewStateSchema()
	if s == nil {
		return out
	}
	for k, f := range s.Fields {
		out.Fields[k] = f
	}
	return out
}

// Defaults returns the default value of every field that has one.
func (s *StateSchema) Defaults() State {
	state := make(State)
	for name, field := range s.Fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// ApplyUpdate applies a state update using the defined reducers.
func (s *StateSchema) ApplyUpdate(currentState State, update State) State {
	result := currentState.Clone()
	s.applyInPlace(result, update)
	return result
}

func (s *StateSchema) applyInPlace(state State, update State) {
	for key, updateValue := range update {
		field, exists := s.Fields[key]
		if !exists {
			// If no field definition, use default behavior (override).
			state[key] = updateValue
			continue
		}
		currentValue, hasCurrentValue := state[key]
		if !hasCurrentValue && field.Default != nil {
			currentValue = field.Default()
		}
		state[key] = field.Reducer(currentValue, updateValue)
	}
}

// restore converts checkpointed values back to the declared field types.
// Stores that serialize values, such as sqlite, return JSON shapes.
func (s *StateSchema) restore(values map[string]any) (State, error) {
	state := make(State, len(values))
	for key, value := range values {
		field, ok := s.Fields[key]
		if !ok || field.Type == nil || value == nil || reflect.TypeOf(value).AssignableTo(field.Type) {
			state[key] = value
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("restore field %s: %w", key, err)
		}
		ptr := reflect.New(field.Type)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("restore field %s as %v: %w", key, field.Type, err)
		}
		state[key] = ptr.Elem().Interface()
	}
	return state, nil
}

// Common reducer functions.

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// AppendReducer appends update to the existing []any. Non-slice values on
// either side are treated as one element.
func AppendReducer(existing, update any) any {
	var out []any
	switch v := existing.(type) {
	case nil:
	case []any:
		out = make([]any, 0, len(v)+1)
		out = append(out, v...)
	default:
		out = []any{v}
	}
	switch v := update.(type) {
	case []any:
		return append(out, v...)
	default:
		return append(out, v)
	}
}

// SumReducer adds numeric values. A nil existing value counts as zero.
// Integer sums are int64 from the first write on, and any float operand
// makes the result a float64.
func SumReducer(existing, update any) any {
	if existing == nil {
		existing = int64(0)
	}
	ei, eInt := asInt(existing)
	ui, uInt := asInt(update)
	if eInt && uInt {
		return ei + ui
	}
	ef, eOK := asFloat(existing)
	uf, uOK := asFloat(update)
	if !eOK || !uOK {
		return update
	}
	return ef + uf
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// StringSliceReducer appends string slices specifically.
func StringSliceReducer(existing, update any) any {
	existingSlice, _ := existing.([]string)
	if existing != nil && existingSlice == nil {
		return update
	}
	updateSlice, ok := update.([]string)
	if !ok {
		return update
	}
	out := make([]string, 0, len(existingSlice)+len(updateSlice))
	out = append(out, existingSlice...)
	return append(out, updateSlice...)
}

// MergeReducer merges update map into existing map.
func MergeReducer(existing, update any) any {
	updateMap, ok := update.(map[string]any)
	if !ok {
		return update
	}
	existingMap, _ := existing.(map[string]any)
	result := make(map[string]any, len(existingMap)+len(updateMap))
	for k, v := range existingMap {
		result[k] = v
	}
	for k, v := range updateMap {
		result[k] = v
	}
	return result
}

// MessageReducer appends messages. A single model.Message is accepted as
// an update.
func MessageReducer(existing, update any) any {
	existingMsgs, _ := existing.([]model.Message)
	var updateMsgs []model.Message
	switch v := update.(type) {
	case []model.Message:
		updateMsgs = v
	case model.Message:
		updateMsgs = []model.Message{v}
	default:
		return update
	}
	out := make([]model.Message, 0, len(existingMsgs)+len(updateMsgs))
	out = append(out, existingMsgs...)
	return append(out, updateMsgs...)
}

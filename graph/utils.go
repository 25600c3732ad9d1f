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
	"reflect"
	"time"
)

// deepCopyState copies every value of s so that node snapshots and
// checkpoints never share maps or slices with the live state.
func deepCopyState(s map[string]any) State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopyAny(v)
	}
	return out
}

// deepCopyAny copies value. Funcs and channels are shared, unexported
// struct fields are copied shallowly.
func deepCopyAny(value any) any {
	switch v := value.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopyAny(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyAny(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	}
	c := copier{seen: make(map[uintptr]reflect.Value)}
	return c.copy(reflect.ValueOf(value)).Interface()
}

var timeType = reflect.TypeOf(time.Time{})

// copier copies reflect values and keeps pointer, map and slice sharing
// intact, so cyclic values terminate.
type copier struct {
	seen map[uintptr]reflect.Value
}

func (c *copier) copy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.copy(v.Elem()))
		return out
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		if done, ok := c.seen[v.Pointer()]; ok {
			return done
		}
		out := reflect.New(v.Type().Elem())
		c.seen[v.Pointer()] = out
		out.Elem().Set(c.copy(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		if done, ok := c.seen[v.Pointer()]; ok {
			return done
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[v.Pointer()] = out
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.copy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		if done, ok := c.seen[v.Pointer()]; ok && v.Len() > 0 {
			return done
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if v.Len() > 0 {
			c.seen[v.Pointer()] = out
		}
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		if v.Type() == timeType {
			return out
		}
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(c.copy(v.Field(i)))
		}
		return out
	default:
		return v
	}
}

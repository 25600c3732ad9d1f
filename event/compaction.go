//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import "sort"

// ApplyCompactions returns the effective history of events: every event
// covered by a compaction summary is dropped and the summary takes the place
// of the oldest event it covers. Summaries covered by a later summary are
// dropped as well. The input is not modified.
func ApplyCompactions(events []Event) []Event {
	hidden := make(map[int]bool)
	anchor := make(map[int]int)
	for ci := range events {
		comp := events[ci].Actions.Compaction
		if comp == nil {
			continue
		}
		first := -1
		for i := range events {
			if i == ci || !covers(comp, &events[i]) {
				continue
			}
			hidden[i] = true
			if first < 0 {
				first = i
			}
		}
		if first >= 0 {
			anchor[ci] = first
		}
	}
	if len(anchor) == 0 {
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}

	placed := make(map[int][]int)
	for ci, first := range anchor {
		if !hidden[ci] {
			placed[first] = append(placed[first], ci)
		}
	}
	out := make([]Event, 0, len(events))
	for i := range events {
		if cs, ok := placed[i]; ok {
			sort.Ints(cs)
			for _, ci := range cs {
				out = append(out, events[ci])
			}
		}
		if hidden[i] {
			continue
		}
		if _, ok := anchor[i]; ok {
			continue
		}
		out = append(out, events[i])
	}
	return out
}

func covers(c *Compaction, e *Event) bool {
	if len(c.EventIDs) > 0 {
		for _, id := range c.EventIDs {
			if id == e.ID {
				return true
			}
		}
		return false
	}
	return !e.Timestamp.Before(c.StartTimestamp) && !e.Timestamp.After(c.EndTimestamp)
}

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
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/log"
)

// RetryCondition determines whether an error is retryable.
type RetryCondition interface {
	Match(err error) bool
}

// RetryConditionFunc is an adapter to allow the use of
// ordinary functions as RetryCondition.
type RetryConditionFunc func(error) bool

// Match calls f(err).
func (f RetryConditionFunc) Match(err error) bool { return f(err) }

// RetryPolicy configures node retries.
// MaxAttempts counts the first try, so 3 means up to 2 retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	RetryOn         []RetryCondition
}

// NextDelay returns the backoff delay after the given attempt, counted
// from 1.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	delay := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))
	maxInt := p.MaxInterval
	if maxInt <= 0 {
		maxInt = p.InitialInterval
	}
	if maxInt > 0 {
		delay = math.Min(delay, float64(maxInt))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// Additive jitter in [0, d).
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry reports whether the given error matches any of the policy's
// conditions. Interrupts are never retried.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil || IsInterruptError(err) {
		return false
	}
	for _, cond := range p.RetryOn {
		if cond != nil && cond.Match(err) {
			return true
		}
	}
	return false
}

// RetryOnErrors creates a condition that matches when errors.Is(err, any target).
func RetryOnErrors(targets ...error) RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t != nil && errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// DefaultTransientCondition matches deadline errors and network timeouts.
func DefaultTransientCondition() RetryCondition {
	return RetryConditionFunc(func(err error) bool {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	})
}

// WithSimpleRetry returns a policy of the given attempts with exponential
// backoff from 500ms up to 8s, retrying transient errors.
func WithSimpleRetry(attempts int) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     8 * time.Second,
		Jitter:          true,
		RetryOn:         []RetryCondition{DefaultTransientCondition()},
	}
}

// runWithRetry calls fn until it succeeds, the policy gives up or ctx is
// done. A nil policy means a single attempt.
func runWithRetry(ctx context.Context, nodeID string, p *RetryPolicy, fn func() (any, error)) (any, error) {
	result, err := fn()
	if p == nil {
		return result, err
	}
	for attempt := 1; err != nil && attempt < p.MaxAttempts && p.ShouldRetry(err); attempt++ {
		delay := p.NextDelay(attempt)
		log.Debugf("graph node %s: attempt %d failed, retrying in %v: %v", nodeID, attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		result, err = fn()
	}
	return result, err
}

//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package session provides the core session functionality.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-agent-flow/event"
)

var (
	// ErrAppNameRequired is the error for app name required.
	ErrAppNameRequired = errors.New("appName is required")
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
	// ErrSessionNotFound is returned when appending to an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is a conversation between a user and an agent tree.
type Session struct {
	ID      string       `json:"id"`      // ID is the session id.
	AppName string       `json:"appName"` // AppName is the app name.
	UserID  string       `json:"userID"`  // UserID is the user id.
	State   StateMap     `json:"state"`   // State is the merged app, user and session state.
	StateMu sync.RWMutex `json:"-"`

	Events  []event.Event `json:"events"` // Events is the append-only session log.
	EventMu sync.RWMutex  `json:"-"`

	UpdatedAt time.Time `json:"updatedAt"` // UpdatedAt is the last update time.
	CreatedAt time.Time `json:"createdAt"` // CreatedAt is the creation time.
}

// GetEvents returns a copy of the session events.
func (sess *Session) GetEvents() []event.Event {
	sess.EventMu.RLock()
	defer sess.EventMu.RUnlock()

	eventsCopy := make([]event.Event, len(sess.Events))
	copy(eventsCopy, sess.Events)
	return eventsCopy
}

// GetEventCount returns the session event count.
func (sess *Session) GetEventCount() int {
	sess.EventMu.RLock()
	defer sess.EventMu.RUnlock()

	return len(sess.Events)
}

// GetState returns a copy of the session state.
func (sess *Session) GetState() StateMap {
	sess.StateMu.RLock()
	defer sess.StateMu.RUnlock()
	return sess.State.Clone()
}

// GetValue returns a single state value.
func (sess *Session) GetValue(key string) (any, bool) {
	sess.StateMu.RLock()
	defer sess.StateMu.RUnlock()
	v, ok := sess.State[key]
	return v, ok
}

// ApplyEvent appends evt to the in-process copy of the session and applies
// its state delta. Session services call it once the event is stored.
func (sess *Session) ApplyEvent(evt *event.Event) {
	if evt == nil {
		return
	}
	sess.EventMu.Lock()
	sess.Events = append(sess.Events, *evt)
	sess.EventMu.Unlock()

	if evt.HasStateDelta() {
		sess.StateMu.Lock()
		sess.State = ApplyDelta(sess.State, evt.Actions.StateDelta)
		sess.StateMu.Unlock()
	}
	sess.UpdatedAt = time.Now()
}

// ClearTempState drops every temp: key from the in-process state.
func (sess *Session) ClearTempState() {
	sess.StateMu.Lock()
	defer sess.StateMu.Unlock()
	for k := range sess.State {
		if strings.HasPrefix(k, StateTempPrefix) {
			delete(sess.State, k)
		}
	}
}

// Key returns the lookup key of the session.
func (sess *Session) Key() Key {
	return Key{AppName: sess.AppName, UserID: sess.UserID, SessionID: sess.ID}
}

// Options is the options for getting a session.
type Options struct {
	EventNum  int       // EventNum is the number of recent events.
	EventTime time.Time // EventTime is the after time.
}

// Option is the option for a session.
type Option func(*Options)

// WithEventNum is the option for the number of recent events.
func WithEventNum(num int) Option {
	return func(o *Options) {
		o.EventNum = num
	}
}

// WithEventTime is the option for the time of the recent events.
func WithEventTime(time time.Time) Option {
	return func(o *Options) {
		o.EventTime = time
	}
}

// Service is the interface that all session services must implement.
//
// AppendEvent is the only write path for events and state. Implementations
// validate the event's state delta before storing anything, and serialize
// writers of the same session.
type Service interface {
	// CreateSession creates a new session.
	CreateSession(ctx context.Context, key Key, state StateMap, options ...Option) (*Session, error)

	// GetSession gets a session. It returns nil without error when the
	// session does not exist.
	GetSession(ctx context.Context, key Key, options ...Option) (*Session, error)

	// ListSessions lists all sessions by user scope of session key.
	ListSessions(ctx context.Context, userKey UserKey, options ...Option) ([]*Session, error)

	// DeleteSession deletes a session.
	DeleteSession(ctx context.Context, key Key, options ...Option) error

	// AppendEvent persists an event and applies its state delta.
	AppendEvent(ctx context.Context, session *Session, event *event.Event, options ...Option) error

	// Close closes the service.
	Close() error
}

// Key is the key for a session.
type Key struct {
	AppName   string // app name
	UserID    string // user id
	SessionID string // session id
}

// CheckSessionKey checks if a session key is valid.
func (s *Key) CheckSessionKey() error {
	return checkSessionKey(s.AppName, s.UserID, s.SessionID)
}

// CheckUserKey checks if a user key is valid.
func (s *Key) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

// UserKey is the key for a user.
type UserKey struct {
	AppName string // app name
	UserID  string // user id
}

// CheckUserKey checks if a user key is valid.
func (s *UserKey) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

func checkSessionKey(appName, userID, sessionID string) error {
	if err := checkUserKey(appName, userID); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	return nil
}

func checkUserKey(appName, userID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	return nil
}

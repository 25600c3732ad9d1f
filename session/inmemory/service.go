//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory session service implementation.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/log"
	"trpc.group/trpc-go/trpc-agent-flow/session"
)

var _ session.Service = (*SessionService)(nil)

// storedSession is the authoritative copy of a session. mu serializes its
// writers; readers get copies.
type storedSession struct {
	mu     sync.Mutex
	id     string
	state  session.StateMap // session scope only
	events []event.Event

	createdAt time.Time
	updatedAt time.Time
}

// appSessions stores the sessions and shared state of one app.
type appSessions struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*storedSession
	userState map[string]session.StateMap
	appState  session.StateMap
}

func newAppSessions() *appSessions {
	return &appSessions{
		sessions:  make(map[string]map[string]*storedSession),
		userState: make(map[string]session.StateMap),
		appState:  make(session.StateMap),
	}
}

// serviceOpts is the options for session service.
type serviceOpts struct {
	// sessionEventLimit keeps only the newest events. Zero keeps all.
	sessionEventLimit int
}

// SessionService provides an in-memory implementation of session.Service.
type SessionService struct {
	mu   sync.RWMutex
	apps map[string]*appSessions
	opts serviceOpts
}

// ServiceOpt is the option for the in-memory session service.
type ServiceOpt func(*serviceOpts)

// WithSessionEventLimit sets the limit of events in a session.
func WithSessionEventLimit(limit int) ServiceOpt {
	return func(opts *serviceOpts) {
		opts.sessionEventLimit = limit
	}
}

// NewSessionService creates a new in-memory session service.
func NewSessionService(options ...ServiceOpt) *SessionService {
	opts := serviceOpts{}
	for _, option := range options {
		option(&opts)
	}
	return &SessionService{
		apps: make(map[string]*appSessions),
		opts: opts,
	}
}

func (s *SessionService) getAppSessions(appName string) (*appSessions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appName]
	return app, ok
}

func (s *SessionService) getOrCreateAppSessions(appName string) *appSessions {
	if app, ok := s.getAppSessions(appName); ok {
		return app
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appName]
	if !ok {
		app = newAppSessions()
		s.apps[appName] = app
	}
	return app
}

// CreateSession creates a new session. Initial state is validated and
// split into its scopes; temp: keys are dropped.
func (s *SessionService) CreateSession(
	ctx context.Context,
	key session.Key,
	state session.StateMap,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckUserKey(); err != nil {
		return nil, err
	}
	if err := session.ValidateDelta(state); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if key.SessionID == "" {
		key.SessionID = uuid.New().String()
	}

	app := s.getOrCreateAppSessions(key.AppName)
	appDelta, userDelta, sessDelta, _ := session.SplitByScope(state)

	now := time.Now()
	stored := &storedSession{
		id:        key.SessionID,
		state:     sessDelta,
		events:    []event.Event{},
		createdAt: now,
		updatedAt: now,
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if app.sessions[key.UserID] == nil {
		app.sessions[key.UserID] = make(map[string]*storedSession)
	}
	if _, exists := app.sessions[key.UserID][key.SessionID]; exists {
		return nil, fmt.Errorf("session already exists: %s", key.SessionID)
	}
	app.appState = session.ApplyDelta(app.appState, appDelta)
	app.userState[key.UserID] = session.ApplyDelta(app.userState[key.UserID], userDelta)
	app.sessions[key.UserID][key.SessionID] = stored

	return snapshot(key, app, stored, &session.Options{}), nil
}

// GetSession retrieves a session by app name, user ID, and session ID.
func (s *SessionService) GetSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil, nil
	}
	app.mu.RLock()
	stored, ok := app.sessions[key.UserID][key.SessionID]
	app.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	stored.mu.Lock()
	defer stored.mu.Unlock()
	app.mu.RLock()
	defer app.mu.RUnlock()
	return snapshot(key, app, stored, applyOptions(opts...)), nil
}

// ListSessions returns all sessions for a given app and user.
func (s *SessionService) ListSessions(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.Option,
) ([]*session.Session, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return []*session.Session{}, nil
	}
	opt := applyOptions(opts...)

	app.mu.RLock()
	stored := make([]*storedSession, 0, len(app.sessions[userKey.UserID]))
	for _, ss := range app.sessions[userKey.UserID] {
		stored = append(stored, ss)
	}
	app.mu.RUnlock()

	sessList := make([]*session.Session, 0, len(stored))
	for _, ss := range stored {
		key := session.Key{AppName: userKey.AppName, UserID: userKey.UserID, SessionID: ss.id}
		ss.mu.Lock()
		app.mu.RLock()
		sessList = append(sessList, snapshot(key, app, ss, opt))
		app.mu.RUnlock()
		ss.mu.Unlock()
	}
	return sessList, nil
}

// DeleteSession removes a session from storage.
func (s *SessionService) DeleteSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	delete(app.sessions[key.UserID], key.SessionID)
	if len(app.sessions[key.UserID]) == 0 {
		delete(app.sessions, key.UserID)
	}
	return nil
}

// AppendEvent validates the event's state delta, stores the event and
// routes every key to its scope. temp: keys reach only the caller's copy of
// the session. On a validation error nothing is stored.
func (s *SessionService) AppendEvent(
	ctx context.Context,
	sess *session.Session,
	evt *event.Event,
	opts ...session.Option,
) error {
	if evt == nil {
		return nil
	}
	key := sess.Key()
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	if err := session.ValidateDelta(evt.Actions.StateDelta); err != nil {
		return fmt.Errorf("append event %s: %w", evt.ID, err)
	}

	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return fmt.Errorf("%w: app %s", session.ErrSessionNotFound, key.AppName)
	}
	app.mu.RLock()
	stored, ok := app.sessions[key.UserID][key.SessionID]
	app.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, key.SessionID)
	}

	stored.mu.Lock()
	defer stored.mu.Unlock()

	appDelta, userDelta, sessDelta, temp := session.SplitByScope(evt.Actions.StateDelta)
	if len(appDelta) > 0 || len(userDelta) > 0 {
		app.mu.Lock()
		app.appState = session.ApplyDelta(app.appState, appDelta)
		app.userState[key.UserID] = session.ApplyDelta(app.userState[key.UserID], userDelta)
		app.mu.Unlock()
	}
	stored.state = session.ApplyDelta(stored.state, sessDelta)

	persisted := *evt
	if len(temp) > 0 {
		persisted.Actions = evt.Actions.Clone()
		for k := range temp {
			delete(persisted.Actions.StateDelta, k)
		}
	}
	stored.events = append(stored.events, persisted)
	if s.opts.sessionEventLimit > 0 && len(stored.events) > s.opts.sessionEventLimit {
		stored.events = stored.events[len(stored.events)-s.opts.sessionEventLimit:]
	}
	stored.updatedAt = time.Now()

	sess.ApplyEvent(evt)
	log.Debugf("session %s: appended event %s (author=%s, keys=%d)",
		key.SessionID, evt.ID, evt.Author, len(evt.Actions.StateDelta))
	return nil
}

// UpdateAppState writes app-scoped state. Keys may omit the app: prefix.
func (s *SessionService) UpdateAppState(ctx context.Context, appName string, state session.StateMap) error {
	if appName == "" {
		return session.ErrAppNameRequired
	}
	delta := make(session.StateMap, len(state))
	for k, v := range state {
		if !strings.HasPrefix(k, session.StateAppPrefix) {
			k = session.StateAppPrefix + k
		}
		delta[k] = v
	}
	if err := session.ValidateDelta(delta); err != nil {
		return err
	}
	app := s.getOrCreateAppSessions(appName)
	app.mu.Lock()
	defer app.mu.Unlock()
	app.appState = session.ApplyDelta(app.appState, delta)
	return nil
}

// ListAppStates returns a copy of the app-scoped state.
func (s *SessionService) ListAppStates(ctx context.Context, appName string) (session.StateMap, error) {
	if appName == "" {
		return nil, session.ErrAppNameRequired
	}
	app, ok := s.getAppSessions(appName)
	if !ok {
		return session.StateMap{}, nil
	}
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.appState.Clone(), nil
}

// UpdateUserState writes user-scoped state. app: and temp: keys are
// rejected; keys may omit the user: prefix.
func (s *SessionService) UpdateUserState(ctx context.Context, userKey session.UserKey, state session.StateMap) error {
	if err := userKey.CheckUserKey(); err != nil {
		return err
	}
	delta := make(session.StateMap, len(state))
	for k, v := range state {
		if strings.HasPrefix(k, session.StateAppPrefix) || strings.HasPrefix(k, session.StateTempPrefix) {
			return fmt.Errorf("memory session service update user state failed: %s is not allowed", k)
		}
		if !strings.HasPrefix(k, session.StateUserPrefix) {
			k = session.StateUserPrefix + k
		}
		delta[k] = v
	}
	if err := session.ValidateDelta(delta); err != nil {
		return err
	}
	app := s.getOrCreateAppSessions(userKey.AppName)
	app.mu.Lock()
	defer app.mu.Unlock()
	app.userState[userKey.UserID] = session.ApplyDelta(app.userState[userKey.UserID], delta)
	return nil
}

// ListUserStates returns a copy of the user-scoped state.
func (s *SessionService) ListUserStates(ctx context.Context, userKey session.UserKey) (session.StateMap, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return session.StateMap{}, nil
	}
	app.mu.RLock()
	defer app.mu.RUnlock()
	if st, ok := app.userState[userKey.UserID]; ok {
		return st.Clone(), nil
	}
	return session.StateMap{}, nil
}

// Close closes the service.
func (s *SessionService) Close() error {
	return nil
}

// snapshot builds a detached copy of stored with app and user state merged
// in. Callers hold stored.mu and app.mu.
func snapshot(key session.Key, app *appSessions, stored *storedSession, opts *session.Options) *session.Session {
	state := make(session.StateMap, len(stored.state)+len(app.appState))
	for k, v := range app.appState {
		state[k] = v
	}
	for k, v := range app.userState[key.UserID] {
		state[k] = v
	}
	for k, v := range stored.state {
		state[k] = v
	}
	events := make([]event.Event, len(stored.events))
	copy(events, stored.events)

	sess := &session.Session{
		ID:        stored.id,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     state,
		Events:    filterEvents(events, opts),
		CreatedAt: stored.createdAt,
		UpdatedAt: stored.updatedAt,
	}
	return sess
}

func filterEvents(events []event.Event, opts *session.Options) []event.Event {
	if opts.EventNum > 0 && len(events) > opts.EventNum {
		events = events[len(events)-opts.EventNum:]
	}
	if !opts.EventTime.IsZero() {
		filtered := make([]event.Event, 0, len(events))
		for _, e := range events {
			if !e.Timestamp.Before(opts.EventTime) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	return events
}

func applyOptions(opts ...session.Option) *session.Options {
	opt := &session.Options{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

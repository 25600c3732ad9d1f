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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-flow/agent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/chainagent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/graphagent"
	"trpc.group/trpc-go/trpc-agent-flow/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-flow/compaction"
	"trpc.group/trpc-go/trpc-agent-flow/event"
	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/model"
	"trpc.group/trpc-go/trpc-agent-flow/plugin"
	"trpc.group/trpc-go/trpc-agent-flow/session"
	"trpc.group/trpc-go/trpc-agent-flow/session/inmemory"
	"trpc.group/trpc-go/trpc-agent-flow/tool"
	"trpc.group/trpc-go/trpc-agent-flow/tool/function"
	"trpc.group/trpc-go/trpc-agent-flow/tool/transfer"
)

// stepAgent emits one event per run, built by fn from the state it sees.
type stepAgent struct {
	name  string
	tools []tool.Tool
	subs  []agent.Agent
	fn    func(inv *agent.Invocation) *event.Event

	mu   sync.Mutex
	runs int
	seen []*session.Session
}

func (a *stepAgent) Info() agent.Info         { return agent.Info{Name: a.name} }
func (a *stepAgent) SubAgents() []agent.Agent { return a.subs }
func (a *stepAgent) Tools() []tool.Tool       { return a.tools }
func (a *stepAgent) FindSubAgent(name string) agent.Agent {
	for _, s := range a.subs {
		if s.Info().Name == name {
			return s
		}
	}
	return nil
}

func (a *stepAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	a.mu.Lock()
	a.runs++
	a.seen = append(a.seen, inv.Session)
	a.mu.Unlock()
	ch := make(chan *event.Event, 1)
	go func() {
		defer close(ch)
		var evt *event.Event
		if a.fn != nil {
			evt = a.fn(inv)
		} else {
			evt = event.NewResponseEvent(inv.InvocationID, a.name, model.NewTextResponse("hi from "+a.name))
		}
		_ = agent.EmitEvent(ctx, inv, ch, evt)
	}()
	return ch, nil
}

func (a *stepAgent) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

func stateEvent(inv *agent.Invocation, author string, delta map[string]any) *event.Event {
	return event.NewResponseEvent(inv.InvocationID, author, model.NewTextResponse(author),
		event.WithStateDelta(delta), event.WithBranch(inv.Branch))
}

func drain(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("runner did not finish")
			return nil
		}
	}
}

func storedSession(t *testing.T, svc session.Service) *session.Session {
	t.Helper()
	sess, err := svc.GetSession(context.Background(), session.Key{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

func TestRunner_SequentialStepsSeeCommittedState(t *testing.T) {
	var sawX any
	step1 := &stepAgent{name: "step1", fn: func(inv *agent.Invocation) *event.Event {
		return stateEvent(inv, "step1", map[string]any{"x": 1})
	}}
	step2 := &stepAgent{name: "step2", fn: func(inv *agent.Invocation) *event.Event {
		sawX, _ = inv.Session.GetValue("x")
		x, _ := sawX.(int)
		return stateEvent(inv, "step2", map[string]any{"y": x + 1})
	}}
	seq := chainagent.New("seq", chainagent.WithSubAgents([]agent.Agent{step1, step2}))
	svc := inmemory.NewSessionService()
	r := NewRunner("app", seq, WithSessionService(svc))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, "step1", events[0].Author)
	assert.Equal(t, "step2", events[1].Author)
	assert.Equal(t, 1, sawX)

	sess := storedSession(t, svc)
	state := sess.GetState()
	assert.Equal(t, 1, state["x"])
	assert.Equal(t, 2, state["y"])
	stored := sess.GetEvents()
	require.Len(t, stored, 3)
	assert.Equal(t, authorUser, stored[0].Author)
	assert.Equal(t, "go", stored[0].Choices[0].Message.Content)
}

// slowSessionService delays every write, so a step that does not wait for
// the commit of the previous one reads stale state.
type slowSessionService struct {
	session.Service
	delay time.Duration
}

func (s *slowSessionService) AppendEvent(
	ctx context.Context, sess *session.Session, evt *event.Event, opts ...session.Option,
) error {
	time.Sleep(s.delay)
	return s.Service.AppendEvent(ctx, sess, evt, opts...)
}

func TestRunner_SequentialStepSeesGraphWrites(t *testing.T) {
	g := graph.NewStateGraph(nil).
		AddNode("write", func(ctx context.Context, state graph.State) (any, error) {
			return graph.State{"x": 1}, nil
		}).
		SetEntryPoint("write").
		MustCompile()
	writer, err := graphagent.New("writer", g)
	require.NoError(t, err)

	var sawX any
	reader := &stepAgent{name: "reader", fn: func(inv *agent.Invocation) *event.Event {
		sawX, _ = inv.Session.GetValue("x")
		x, _ := sawX.(int)
		return stateEvent(inv, "reader", map[string]any{"y": x + 1})
	}}
	seq := chainagent.New("seq", chainagent.WithSubAgents([]agent.Agent{writer, reader}))
	svc := &slowSessionService{Service: inmemory.NewSessionService(), delay: 20 * time.Millisecond}
	r := NewRunner("app", seq, WithSessionService(svc))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	drain(t, ch)

	assert.Equal(t, 1, sawX)
	state := storedSession(t, svc).GetState()
	assert.Equal(t, 1, state["x"])
	assert.Equal(t, 2, state["y"])
}

// toolCallModel asks for one tool call and then answers with text.
type toolCallModel struct {
	mu    sync.Mutex
	calls int
}

func (m *toolCallModel) GenerateContent(context.Context, *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	rsp := model.NewTextResponse("done")
	if n == 1 {
		rsp = &model.Response{
			Object: model.ObjectTypeChatCompletion,
			Done:   true,
			Choices: []model.Choice{{Message: model.Message{
				Role: model.RoleAssistant,
				ToolCalls: []model.ToolCall{{
					Type:     "function",
					ID:       "c1",
					Function: model.FunctionDefinitionParam{Name: "stop", Arguments: []byte(`{}`)},
				}},
			}}},
		}
	}
	ch := make(chan *model.Response, 1)
	ch <- rsp
	close(ch)
	return ch, nil
}

func (m *toolCallModel) Info() model.Info { return model.Info{Name: "scripted"} }

func TestRunner_ToolResultAfterEndIsNotPersisted(t *testing.T) {
	stop := function.NewFunctionTool(func(ctx context.Context, _ struct{}) (string, error) {
		tc, _ := agent.ToolContextFromContext(ctx)
		tc.SetState("stopped", true)
		inv, _ := agent.InvocationFromContext(ctx)
		inv.EndInvocation()
		return "ok", nil
	}, function.WithName("stop"))
	m := &toolCallModel{}
	a := llmagent.New("bot", llmagent.WithModel(m), llmagent.WithTools([]tool.Tool{stop}))
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	for _, evt := range drain(t, ch) {
		assert.NotEqual(t, model.ObjectTypeToolResponse, evt.Object)
	}

	sess := storedSession(t, svc)
	_, ok := sess.GetValue("stopped")
	assert.False(t, ok)
	for _, evt := range sess.GetEvents() {
		assert.NotEqual(t, model.ObjectTypeToolResponse, evt.Object)
	}
	assert.Equal(t, 1, m.calls)
}

func TestRunner_PartialEventsAreNotPersisted(t *testing.T) {
	a := &stepAgent{name: "bot", fn: func(inv *agent.Invocation) *event.Event {
		rsp := model.NewTextResponse("par")
		rsp.IsPartial = true
		return event.NewResponseEvent(inv.InvocationID, "bot", rsp)
	}}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc))
	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsPartial)
	assert.Len(t, storedSession(t, svc).GetEvents(), 1)
}

func TestRunner_ReusesSession(t *testing.T) {
	a := &stepAgent{name: "bot", fn: func(inv *agent.Invocation) *event.Event {
		n, _ := inv.Session.GetValue("count")
		c, _ := n.(int)
		return stateEvent(inv, "bot", map[string]any{"count": c + 1})
	}}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc))
	for i := 0; i < 2; i++ {
		ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("again"))
		require.NoError(t, err)
		drain(t, ch)
	}
	sess := storedSession(t, svc)
	assert.Equal(t, 2, sess.GetState()["count"])
	assert.Len(t, sess.GetEvents(), 4)
}

func TestRunner_EmptyMessageIsNotAppended(t *testing.T) {
	svc := inmemory.NewSessionService()
	r := NewRunner("app", &stepAgent{name: "bot"}, WithSessionService(svc))
	ch, err := r.Run(context.Background(), "u", "s", model.Message{Role: model.RoleUser})
	require.NoError(t, err)
	drain(t, ch)
	events := storedSession(t, svc).GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "bot", events[0].Author)
}

func TestRunner_InvalidStateKey(t *testing.T) {
	var after bool
	a := &stepAgent{name: "bot", fn: func(inv *agent.Invocation) *event.Event {
		return stateEvent(inv, "bot", map[string]any{"bad/key": 1})
	}}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc), WithPlugins(plugin.New("p",
		plugin.WithAfterRun(func(context.Context, *agent.Invocation) { after = true }))))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 1)
	require.True(t, events[0].IsError())
	assert.Equal(t, agent.ErrorTypeValidationError, events[0].Error.Type)
	assert.True(t, after)

	sess := storedSession(t, svc)
	_, ok := sess.GetState()["bad/key"]
	assert.False(t, ok)
	stored := sess.GetEvents()
	require.Len(t, stored, 2)
	assert.True(t, stored[1].IsError())
}

func TestRunner_TempStateCleared(t *testing.T) {
	var sawTemp any
	step1 := &stepAgent{name: "step1", fn: func(inv *agent.Invocation) *event.Event {
		return stateEvent(inv, "step1", map[string]any{session.StateTempPrefix + "scratch": "wip", "kept": true})
	}}
	step2 := &stepAgent{name: "step2", fn: func(inv *agent.Invocation) *event.Event {
		sawTemp, _ = inv.Session.GetValue(session.StateTempPrefix + "scratch")
		return event.NewResponseEvent(inv.InvocationID, "step2", model.NewTextResponse("done"))
	}}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", chainagent.New("seq", chainagent.WithSubAgents([]agent.Agent{step1, step2})),
		WithSessionService(svc))
	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("go"))
	require.NoError(t, err)
	drain(t, ch)

	assert.Equal(t, "wip", sawTemp)
	live := step2.seen[0]
	_, ok := live.GetValue(session.StateTempPrefix + "scratch")
	assert.False(t, ok)
	kept, _ := live.GetValue("kept")
	assert.Equal(t, true, kept)

	_, ok = storedSession(t, svc).GetState()[session.StateTempPrefix+"scratch"]
	assert.False(t, ok)
}

func TestRunner_PluginHooks(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	p := plugin.New("audit",
		plugin.WithOnUserMessage(func(_ context.Context, _ *agent.Invocation, msg model.Message) (*model.Message, error) {
			record("user")
			msg.Content = "[audited] " + msg.Content
			return &msg, nil
		}),
		plugin.WithBeforeRun(func(context.Context, *agent.Invocation) (*model.Response, error) {
			record("before")
			return nil, nil
		}),
		plugin.WithOnEvent(func(_ context.Context, _ *agent.Invocation, evt *event.Event) (*event.Event, error) {
			record("event")
			out := evt.Clone()
			out.Choices[0].Message.Content = "redacted"
			return out, nil
		}),
		plugin.WithAfterRun(func(context.Context, *agent.Invocation) { record("after") }),
	)
	var got string
	a := &stepAgent{name: "bot", fn: func(inv *agent.Invocation) *event.Event {
		got = inv.Message.Content
		return event.NewResponseEvent(inv.InvocationID, "bot", model.NewTextResponse("secret"))
	}}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc), WithPlugins(p))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, "redacted", events[0].Text())
	assert.Equal(t, "[audited] hello", got)
	assert.Equal(t, []string{"user", "before", "event", "after"}, order)

	stored := storedSession(t, svc).GetEvents()
	assert.Equal(t, "[audited] hello", stored[0].Choices[0].Message.Content)
	assert.Equal(t, "secret", stored[1].Text(), "the session keeps the original event")
}

func TestRunner_BeforeRunShortCircuit(t *testing.T) {
	a := &stepAgent{name: "bot"}
	p := plugin.New("cache", plugin.WithBeforeRun(func(context.Context, *agent.Invocation) (*model.Response, error) {
		return model.NewTextResponse("cached"), nil
	}))
	svc := inmemory.NewSessionService()
	r := NewRunner("app", a, WithSessionService(svc), WithPlugins(p))
	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, "cached", events[0].Text())
	assert.Equal(t, "bot", events[0].Author)
	assert.Equal(t, 0, a.runCount())
	assert.Len(t, storedSession(t, svc).GetEvents(), 2)
}

func TestRunner_HookErrors(t *testing.T) {
	t.Run("on user message", func(t *testing.T) {
		p := plugin.New("guard", plugin.WithOnUserMessage(
			func(context.Context, *agent.Invocation, model.Message) (*model.Message, error) {
				return nil, errors.New("blocked")
			}))
		a := &stepAgent{name: "bot"}
		r := NewRunner("app", a, WithPlugins(p))
		_, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
		assert.Equal(t, 0, a.runCount())
	})

	t.Run("before run", func(t *testing.T) {
		p := plugin.New("guard", plugin.WithBeforeRun(func(context.Context, *agent.Invocation) (*model.Response, error) {
			return nil, errors.New("closed")
		}))
		a := &stepAgent{name: "bot"}
		r := NewRunner("app", a, WithPlugins(p))
		ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
		require.NoError(t, err)
		events := drain(t, ch)
		require.Len(t, events, 1)
		assert.Equal(t, agent.ErrorTypeCallbackError, events[0].Error.Type)
		assert.Equal(t, 0, a.runCount())
	})

	t.Run("on event", func(t *testing.T) {
		p := plugin.New("guard", plugin.WithOnEvent(
			func(_ context.Context, _ *agent.Invocation, evt *event.Event) (*event.Event, error) {
				if evt.IsError() {
					return evt, nil
				}
				return nil, errors.New("filter down")
			}))
		r := NewRunner("app", &stepAgent{name: "bot"}, WithPlugins(p))
		ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
		require.NoError(t, err)
		events := drain(t, ch)
		require.Len(t, events, 2)
		assert.Equal(t, "hi from bot", events[0].Text())
		assert.Equal(t, agent.ErrorTypeCallbackError, events[1].Error.Type)
	})
}

func TestRunner_AgentRunError(t *testing.T) {
	r := NewRunner("app", failingAgent{})
	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("hello"))
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, agent.ErrorTypeFlowError, events[0].Error.Type)
}

type failingAgent struct{}

func (failingAgent) Info() agent.Info                { return agent.Info{Name: "broken"} }
func (failingAgent) SubAgents() []agent.Agent        { return nil }
func (failingAgent) FindSubAgent(string) agent.Agent { return nil }
func (failingAgent) Tools() []tool.Tool              { return nil }
func (failingAgent) Run(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, errors.New("cannot start")
}

func TestRunner_Compaction(t *testing.T) {
	var windows [][]event.Event
	summarizer := compaction.SummarizerFunc(func(_ context.Context, events []event.Event) (*event.Event, error) {
		windows = append(windows, events)
		return compaction.NewSummaryEvent(events, "summary"), nil
	})
	c, err := compaction.New(compaction.Config{Interval: 2, OverlapSize: 1, Summarizer: summarizer})
	require.NoError(t, err)
	svc := inmemory.NewSessionService()
	r := NewRunner("app", &stepAgent{name: "bot"}, WithSessionService(svc), WithCompactor(c))

	for _, q := range []string{"one", "two"} {
		ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage(q))
		require.NoError(t, err)
		drain(t, ch)
		if q == "one" {
			assert.Empty(t, windows)
		}
	}
	require.Len(t, windows, 1)
	assert.Len(t, windows[0], 3)

	events := storedSession(t, svc).GetEvents()
	require.Len(t, events, 5)
	assert.Equal(t, compaction.AuthorSystem, events[4].Author)
	effective := event.ApplyCompactions(events)
	require.Len(t, effective, 2)
	assert.Equal(t, "summary", effective[0].Actions.Compaction.CompactedContent)
	assert.Equal(t, "bot", effective[1].Author)
}

func TestRunner_Close(t *testing.T) {
	var closed bool
	p := plugin.New("p", plugin.WithClose(func(context.Context) error {
		closed = true
		return nil
	}))
	r := NewRunner("app", &stepAgent{name: "bot"}, WithPlugins(p))
	require.NoError(t, r.Close(context.Background()))
	assert.True(t, closed)
}

func TestRunner_NoAgent(t *testing.T) {
	_, err := NewRunner("app", nil).Run(context.Background(), "u", "s", model.NewUserMessage("x"))
	assert.Error(t, err)
}

func transferTool(names ...string) []tool.Tool {
	infos := make([]agent.Info, len(names))
	for i, n := range names {
		infos[i] = agent.Info{Name: n}
	}
	return []tool.Tool{transfer.New(infos)}
}

func TestRunner_ResumesTransferredAgent(t *testing.T) {
	billing := &stepAgent{name: "billing"}
	root := &stepAgent{name: "root", tools: transferTool("billing"), subs: []agent.Agent{billing}}
	root.fn = func(inv *agent.Invocation) *event.Event {
		evt := event.NewResponseEvent(inv.InvocationID, "root", model.NewTextResponse("handing off"))
		evt.Actions.TransferToAgent = "billing"
		return evt
	}
	svc := inmemory.NewSessionService()
	r := NewRunner("app", root, WithSessionService(svc))

	ch, err := r.Run(context.Background(), "u", "s", model.NewUserMessage("refund"))
	require.NoError(t, err)
	drain(t, ch)
	assert.Equal(t, 1, root.runCount())

	ch, err = r.Run(context.Background(), "u", "s", model.NewUserMessage("still there?"))
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "billing", events[0].Author)
	assert.Equal(t, 1, root.runCount())
	assert.Equal(t, 1, billing.runCount())
}

func TestFindAgentToRun(t *testing.T) {
	leaf := &stepAgent{name: "leaf"}
	helper := &stepAgent{name: "helper", tools: transferTool("leaf"), subs: []agent.Agent{leaf}}
	root := &stepAgent{name: "root", tools: transferTool("helper"), subs: []agent.Agent{helper}}
	chainChild := &stepAgent{name: "writer"}
	chain := chainagent.New("pipeline", chainagent.WithSubAgents([]agent.Agent{chainChild}))

	mk := func(events ...*event.Event) *session.Session {
		sess := &session.Session{ID: "s", AppName: "app", UserID: "u", State: session.StateMap{}}
		for _, e := range events {
			sess.ApplyEvent(e)
		}
		return sess
	}
	user := event.New("i", authorUser)
	from := func(author string) *event.Event { return event.New("i", author) }
	transferTo := func(target string) *event.Event {
		e := event.New("i", "root")
		e.Actions.TransferToAgent = target
		return e
	}

	assert.Same(t, root, findAgentToRun(root, nil))
	assert.Same(t, root, findAgentToRun(root, mk()))
	assert.Same(t, root, findAgentToRun(root, mk(user)))
	assert.Same(t, leaf, findAgentToRun(root, mk(from("leaf"), user)))
	assert.Same(t, helper, findAgentToRun(root, mk(from("leaf"), transferTo("helper"), user)))
	assert.Same(t, root, findAgentToRun(root, mk(from("stranger"), user)))
	assert.Same(t, root, findAgentToRun(root, mk(from(compaction.AuthorSystem))))

	// Chains keep control of their children.
	assert.Same(t, chain, findAgentToRun(chain, mk(from("writer"), user)))
}

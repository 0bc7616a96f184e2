package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/internal/testutil"
	"github.com/hupe1980/storymesh/memory"
	"github.com/hupe1980/storymesh/persona"
	"github.com/hupe1980/storymesh/schedule"
	"github.com/hupe1980/storymesh/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	engine    *Engine
	clock     *schedule.ManualClock
	presenter *testutil.RecordingPresenter
	agents    *memory.InMemoryAgentStore
}

func newHarness(t *testing.T, gen core.Generator, optFns ...func(o *Options)) *harness {
	t.Helper()

	clock := schedule.NewManualClock(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	pres := &testutil.RecordingPresenter{}
	agents := memory.NewInMemoryAgentStore(
		testutil.NewAgentBuilder("A").Build(),
		testutil.NewAgentBuilder("B").Build(),
	)
	personas, err := persona.NewGenerator(persona.DefaultTraits(), func(o *persona.Options) {
		o.Rand = rand.New(rand.NewSource(1))
	})
	require.NoError(t, err)

	var ids atomic.Int64
	e, err := New(gen, append([]func(o *Options){func(o *Options) {
		o.Clock = clock
		o.Presenter = pres
		o.Agents = agents
		o.Personas = personas
		o.WorldClock = core.WorldClockFunc(func() core.WorldTime {
			return core.WorldTime{Hour: 9, Minute: 5, Season: "spring", Date: "2024-04-01"}
		})
		o.NewID = func() string { return fmt.Sprintf("s%d", ids.Add(1)) }
		o.Coin = func() bool { return true }
	}}, optFns...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Close(ctx))
	})
	return &harness{engine: e, clock: clock, presenter: pres, agents: agents}
}

// waitPending blocks until the clock has n pending timers, which happens once
// asynchronous speaker selection scheduled the generation.
func (h *harness) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.Pending() == n }, time.Second, time.Millisecond)
}

func history(t *testing.T, e *Engine, id string) []core.Message {
	t.Helper()
	_, msgs, err := e.Session(id)
	require.NoError(t, err)
	return msgs
}

func TestNew_RequiresGenerator(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestEngine_HumanMessageEndToEnd(t *testing.T) {
	gen := testutil.NewScriptedCompleter().
		On("Available characters: A, B", "A").
		On("This is YOUR turn to speak", "A: Welcome, traveller!")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))

	h.clock.Advance(2 * time.Second)
	h.waitPending(t, 1)
	h.clock.Advance(3 * time.Second)

	msgs := history(t, h.engine, info.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, core.User("Steve: hello"), msgs[0])
	assert.Equal(t, core.Assistant("A: Welcome, traveller!"), msgs[1])
	assert.Equal(t, core.User(AwaitingReply), msgs[2])

	selection := gen.PromptsContaining("Available characters: A, B")
	require.Len(t, selection, 1)
	assert.Equal(t, core.User("Steve: hello"), selection[0][len(selection[0])-1])

	turns := gen.PromptsContaining("This is YOUR turn to speak")
	require.Len(t, turns, 1)
	p := turns[0]
	assert.Equal(t, core.User("Steve: hello"), p[len(p)-2])
	assert.True(t, strings.HasPrefix(p[len(p)-1].Text(), "You are A. You are currently in a conversation with: B, Steve."))

	utterances := h.presenter.Utterances()
	require.Len(t, utterances, 1)
	assert.Equal(t, "A", utterances[0].Speaker)
	assert.Equal(t, "Welcome, traveller!", utterances[0].Text)
	assert.Equal(t, persona.Color("A"), utterances[0].Color)
	assert.Equal(t, info.ID, utterances[0].SessionID)

	st, ok := h.presenter.LastStatus("A")
	require.True(t, ok)
	assert.Equal(t, core.StatusIdle, st)
}

func TestEngine_MessagesDuringDelayCollapseIntoOneTurn(t *testing.T) {
	gen := testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Yes?")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)

	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "one"))
	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "two"))
	h.clock.Advance(5 * time.Second)

	msgs := history(t, h.engine, info.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, core.Assistant("A: Yes?"), msgs[2])
	assert.Len(t, gen.PromptsContaining("This is YOUR turn to speak"), 1)
}

// gatedGenerator blocks the first prompt containing gate until released.
type gatedGenerator struct {
	*testutil.ScriptedCompleter
	gate    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedGenerator(gate string, inner *testutil.ScriptedCompleter) *gatedGenerator {
	return &gatedGenerator{
		ScriptedCompleter: inner,
		gate:              gate,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (g *gatedGenerator) Submit(ctx context.Context, prompt []core.Message) (string, error) {
	if strings.Contains(core.Transcript(prompt), g.gate) {
		blocked := false
		g.once.Do(func() { blocked = true })
		if blocked {
			close(g.entered)
			<-g.release
		}
	}
	return g.ScriptedCompleter.Submit(ctx, prompt)
}

func TestEngine_StaleCompletionIsDiscarded(t *testing.T) {
	gen := newGatedGenerator("This is YOUR turn to speak",
		testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Late reply"))
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))
	h.clock.Advance(2 * time.Second)

	done := make(chan struct{})
	go func() {
		h.clock.Advance(3 * time.Second)
		close(done)
	}()
	<-gen.entered
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "wait"))
	close(gen.release)
	<-done

	msgs := history(t, h.engine, info.ID)
	assert.Equal(t, []core.Message{core.User("Steve: hello"), core.User("Steve: wait")}, msgs)
	assert.Empty(t, h.presenter.Utterances())

	h.clock.Advance(2 * time.Second)
	h.clock.Advance(3 * time.Second)

	msgs = history(t, h.engine, info.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, core.Assistant("A: Late reply"), msgs[2])
}

func TestEngine_ContinuationWaitsForTurnInFlight(t *testing.T) {
	gen := newGatedGenerator("This is YOUR turn to speak",
		testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Hm."))
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))
	h.clock.Advance(2 * time.Second)

	done := make(chan struct{})
	go func() {
		h.clock.Advance(3 * time.Second)
		close(done)
	}()
	<-gen.entered
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "are you there?"))
	// The new continuation fires while the first turn is still generating.
	h.clock.Advance(2 * time.Second)
	close(gen.release)
	<-done

	h.clock.Advance(10 * time.Second)

	msgs := history(t, h.engine, info.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, core.Assistant("A: Hm."), msgs[2])
	assert.Len(t, gen.PromptsContaining("This is YOUR turn to speak"), 2)
}

func TestEngine_ChatDisabledOnlyAppends(t *testing.T) {
	gen := testutil.NewScriptedCompleter().Otherwise("unused")
	h := newHarness(t, gen)
	ctx := context.Background()
	h.engine.SetChatEnabled(false)

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))
	h.clock.Advance(time.Minute)

	assert.Equal(t, []core.Message{core.User("Steve: hello")}, history(t, h.engine, info.ID))
	assert.Empty(t, gen.Prompts())
	assert.False(t, h.engine.Settings().ChatEnabled)
}

func TestEngine_HandleMessageWithoutSession(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	err := h.engine.HandleMessage(context.Background(), "Nobody", "hi")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_EndMarkerEndsHumanSession(t *testing.T) {
	gen := testutil.NewScriptedCompleter().
		On("This is YOUR turn to speak", "Farewell, friend. [End]").
		Otherwise("Nothing significant")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "bye"))
	h.clock.Advance(5 * time.Second)

	_, _, err = h.engine.Session(info.ID)
	require.ErrorIs(t, err, core.ErrNotFound)

	utterances := h.presenter.Utterances()
	require.Len(t, utterances, 1)
	assert.Equal(t, "Farewell, friend.", utterances[0].Text)
}

func TestEngine_MutedAgentIsNotSelected(t *testing.T) {
	gen := testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Here.")
	h := newHarness(t, gen)
	ctx := context.Background()
	h.engine.SetMuted("A", true)
	assert.True(t, h.engine.Muted("A"))

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "anyone?"))
	h.clock.Advance(5 * time.Second)

	msgs := history(t, h.engine, info.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, core.Assistant("B: Here."), msgs[1])
	assert.Empty(t, gen.PromptsContaining("Available characters"))

	h.engine.SetMuted("A", false)
	assert.False(t, h.engine.Muted("A"))
}

func TestEngine_GenerationFailureSkipsTurn(t *testing.T) {
	gen := testutil.NewScriptedCompleter().Fail("This is YOUR turn to speak", core.ErrBusy)
	var failures atomic.Int32
	h := newHarness(t, gen)
	h.engine.callbacks.RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		if errors.Is(cc.Err, core.ErrBusy) {
			failures.Add(1)
		}
		return nil
	}))
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))
	h.clock.Advance(5 * time.Second)

	assert.Len(t, history(t, h.engine, info.ID), 1)
	assert.Equal(t, int32(1), failures.Load())
	assert.Empty(t, h.presenter.Utterances())
}

func TestEngine_BeforeTurnCallbackVetoes(t *testing.T) {
	gen := testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Hello.")
	h := newHarness(t, gen)
	h.engine.callbacks.RegisterCallback(NewFunctionCallback(CallbackBeforeTurn, func(context.Context, *CallbackContext) error {
		return errors.New("quiet hours")
	}))
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "hello"))
	h.clock.Advance(5 * time.Second)

	assert.Len(t, history(t, h.engine, info.ID), 1)
	assert.Empty(t, gen.Prompts())
}

func TestEngine_StartGroupConflict(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	ctx := context.Background()

	_, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)

	_, err = h.engine.StartGroup(ctx, []string{"A", "B"})
	require.ErrorIs(t, err, core.ErrStateConflict)

	info, err := h.engine.StartGroup(ctx, []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, session.KindGroup.String(), info.Kind)
	assert.Empty(t, info.Participants)
}

func TestEngine_RequestTurnInGroup(t *testing.T) {
	gen := testutil.NewScriptedCompleter().On("This is YOUR turn to speak", "Quiet day.")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartGroup(ctx, []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.RequestTurn(info.ID))
	h.clock.Advance(3 * time.Second)

	msgs := history(t, h.engine, info.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.Assistant("A: Quiet day."), msgs[0])

	require.ErrorIs(t, h.engine.RequestTurn("missing"), core.ErrNotFound)
}

func TestEngine_StartConversationCreatesMissingAgents(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	ctx := context.Background()

	_, err := h.engine.StartConversation(ctx, "Steve", []string{"Zed"})
	require.NoError(t, err)

	zed, err := h.agents.Get(ctx, "Zed")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultAgentRole, zed.Role)
	assert.Equal(t, core.DefaultLocation, zed.Location)
	require.NotEmpty(t, zed.Memory)
	assert.Equal(t, core.RoleSystem, zed.Memory[0].Role())
	assert.Contains(t, zed.Memory[0].Text(), "The time is 9:05 in the spring.")
	assert.Equal(t, zed.Context, zed.Memory[0].Text())
}

func TestEngine_EnsureAgentRefreshesWorldTime(t *testing.T) {
	var mu sync.Mutex
	now := core.WorldTime{Hour: 9, Minute: 5, Season: "spring", Date: "2024-04-01"}
	h := newHarness(t, testutil.NewScriptedCompleter(), func(o *Options) {
		o.WorldClock = core.WorldClockFunc(func() core.WorldTime {
			mu.Lock()
			defer mu.Unlock()
			return now
		})
	})
	ctx := context.Background()

	_, err := h.engine.EnsureAgent(ctx, "Zed")
	require.NoError(t, err)

	mu.Lock()
	now = core.WorldTime{Hour: 21, Minute: 30, Season: "summer", Date: "2024-07-02"}
	mu.Unlock()

	zed, err := h.engine.EnsureAgent(ctx, "Zed")
	require.NoError(t, err)
	assert.Contains(t, zed.Memory[0].Text(), "The time is 21:30 in the summer.")
	assert.Contains(t, zed.Memory[0].Text(), "The date is 2024-07-02.")
	assert.NotContains(t, zed.Context, "9:05")
}

func TestEngine_AddAgentGreets(t *testing.T) {
	gen := testutil.NewScriptedCompleter().On("joining this conversation", "B: Evening, all.")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.AddAgent(ctx, info.ID, "B"))

	require.Eventually(t, func() bool {
		_, msgs, err := h.engine.Session(info.ID)
		return err == nil && len(msgs) == 3
	}, time.Second, time.Millisecond)
	msgs := history(t, h.engine, info.ID)
	assert.Equal(t, core.System("B has joined the conversation."), msgs[0])
	assert.Equal(t, core.Assistant("B: Evening, all."), msgs[1])
	assert.Equal(t, core.User(RestListening), msgs[2])

	join := gen.PromptsContaining("joining this conversation")
	require.Len(t, join, 1)
	assert.Contains(t, core.Transcript(join[0]), "You are joining an ongoing conversation with: A, Steve")

	require.ErrorIs(t, h.engine.AddAgent(ctx, info.ID, "A"), core.ErrStateConflict)
}

func TestEngine_RemoveAgentStoresLeaveSummary(t *testing.T) {
	gen := testutil.NewScriptedCompleter().
		On("Summarize this conversation between Steve and NPCs A, B.", "B chatted with Steve.")
	h := newHarness(t, gen)
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, h.engine.RemoveAgent(ctx, info.ID, "B"))

	msgs := history(t, h.engine, info.ID)
	assert.Equal(t, core.System("B has left the conversation."), msgs[len(msgs)-1])

	require.Eventually(t, func() bool {
		b, err := h.agents.Get(ctx, "B")
		if err != nil || len(b.Memory) == 0 {
			return false
		}
		return b.Memory[len(b.Memory)-1] == core.System("B chatted with Steve.")
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, h.engine.RemoveAgent(ctx, info.ID, "B"), core.ErrNotFound)

	// Removing the last agent ends the session.
	require.NoError(t, h.engine.RemoveAgent(ctx, info.ID, "A"))
	_, _, err = h.engine.Session(info.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_ConcurrentRemoveAgentEndsSession(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	ctx := context.Background()

	info, err := h.engine.StartGroup(ctx, []string{"A", "B"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"A", "B"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.engine.RemoveAgent(ctx, info.ID, name)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	_, _, err = h.engine.Session(info.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_AddAgentMessage(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.AddAgentMessage(ctx, "A", "The bridge is out."))

	assert.Equal(t, []core.Message{
		core.Assistant("A: The bridge is out."),
		core.User(RestListening),
	}, history(t, h.engine, info.ID))
	require.Len(t, h.presenter.Utterances(), 1)

	require.ErrorIs(t, h.engine.AddAgentMessage(ctx, "B", "hi"), core.ErrNotFound)
}

func TestEngine_EndSessionRunsPipeline(t *testing.T) {
	gen := testutil.NewScriptedCompleter().
		On("Summarize this conversation concisely", "[SUMMARY]Steve asked about the mill.[SIGNIFICANCE: 6]").
		On("Apply effects", "Character: A\nEffect: relation\nTarget: Steve\nValue: 3").
		On("Nothing significant", "Nothing significant")

	var reports []string
	var mu sync.Mutex
	h := newHarness(t, gen)
	h.engine.callbacks.RegisterCallback(NewFunctionCallback(CallbackAfterPipeline, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, cc.Report.Summary.Text)
		return nil
	}))
	ctx := context.Background()

	info, err := h.engine.StartConversation(ctx, "Steve", []string{"A"})
	require.NoError(t, err)
	require.NoError(t, h.engine.AddAgentMessage(ctx, "A", "Welcome."))
	h.engine.SetChatEnabled(false)
	require.NoError(t, h.engine.HandleMessage(ctx, "Steve", "Tell me about the mill."))

	require.NoError(t, h.engine.EndSession(info.ID))
	require.ErrorIs(t, h.engine.EndSession(info.ID), core.ErrNotFound)

	require.NoError(t, h.engine.Close(context.Background()))

	mu.Lock()
	assert.Equal(t, []string{"Steve asked about the mill."}, reports)
	mu.Unlock()

	a, err := h.agents.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Relations["Steve"])
	assert.Equal(t, core.System("Steve asked about the mill."), a.Memory[len(a.Memory)-1])
}

func TestEngine_ClosedRejectsWork(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedCompleter())
	require.NoError(t, h.engine.Close(context.Background()))

	_, err := h.engine.StartConversation(context.Background(), "Steve", []string{"A"})
	require.ErrorIs(t, err, core.ErrStateConflict)
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", "  Hello there.  ", "Hello there."},
		{"own label", "A: Hello there.", "Hello there."},
		{"doubled label", "A: A: Hello there.", "Hello there."},
		{"label without space", "A:Hello", "Hello"},
		{"case insensitive", "a: Hi", "Hi"},
		{"other speaker kept", "B: Hi", "B: Hi"},
		{"own then other", "A: Note: the mill is closed.", "Note: the mill is closed."},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanReply("A", tt.reply))
		})
	}
}

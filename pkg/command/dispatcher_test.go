package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civagent/internal/mocks"
	"civagent/pkg/agent/llm"
	"civagent/pkg/agent/llmerrors"
	"civagent/pkg/agent/middleware/resilience/retry"
	"civagent/pkg/config"
	"civagent/pkg/contextmgr"
	"civagent/pkg/templates"
)

// fixedRand always returns the same draw.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type fixture struct {
	session   *contextmgr.Session
	fragments *templates.Renderer
	retriever *mocks.MockRetriever
	dispatch  *Dispatcher
}

func newFixture(t *testing.T, role string, draw float64) *fixture {
	t.Helper()
	fragments, err := templates.NewRenderer(role)
	require.NoError(t, err)

	f := &fixture{
		session: contextmgr.NewSession(2,
			llm.NewUserMessage("instruction"),
			llm.NewUserMessage("task"),
		),
		fragments: fragments,
		retriever: mocks.NewMockRetriever("Settlers found cities"),
	}
	f.dispatch, err = NewDispatcher(role, Deps{
		Session:   f.session,
		Fragments: fragments,
		Retriever: f.retriever,
		Retrieval: retry.NewPolicy(config.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}, nil),
		Rand:      fixedRand(draw),
		Dialogue:  config.DefaultConfig().Dialogue,
	})
	require.NoError(t, err)
	return f
}

func reply(name, input string) string {
	return fmt.Sprintf(`{"thoughts": {"thought": "..."}, "command": {"name": %q, "input": %s}}`, name, input)
}

func decide(action string) string {
	return reply("finalDecision", fmt.Sprintf(`{"action": %q}`, action))
}

func TestRoleRegistries(t *testing.T) {
	controller := newFixture(t, config.RoleController, 0)
	assert.Equal(t, []string{"finalDecision", "manualAndHistorySearch", "askCurrentGameInformation"}, controller.dispatch.Registry().Names())

	advisor := newFixture(t, config.RoleAdvisor, 0)
	assert.Equal(t, []string{"manualAndHistorySearch", "suggestion"}, advisor.dispatch.Registry().Names())

	_, err := RoleRegistry("spectator", Deps{})
	assert.Error(t, err)
}

func TestRegistryWithoutRetriever(t *testing.T) {
	reg, err := RoleRegistry(config.RoleController, Deps{Session: contextmgr.NewSession(2)})
	require.NoError(t, err)
	assert.Equal(t, "finalDecision, askCurrentGameInformation", reg.NamesList())
}

func TestUnknownCommandListsRegisteredNames(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)

	res := f.dispatch.Dispatch(context.Background(), reply("doStuff", `{}`), "prompt", []string{"fortify"})
	assert.False(t, res.HasAction)
	assert.Equal(t, f.fragments.InsistAvailableCommands("finalDecision, manualAndHistorySearch, askCurrentGameInformation"), res.Fragment)
}

func TestMalformedReplyInsistsOnJSON(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	for _, r := range []string{"I choose to fortify.", `{"command": "finalDecision"}`, `{"command": {"name": "finalDecision"}}`} {
		res := f.dispatch.Dispatch(context.Background(), r, "prompt", []string{"fortify"})
		assert.False(t, res.HasAction)
		assert.Equal(t, f.fragments.InsistJSON(), res.Fragment)
	}
	assert.Equal(t, 2, f.session.Len())
}

func TestFinalDecision(t *testing.T) {
	actions := []string{"Fortify", "goto 12,3", "build city"}

	tests := []struct {
		name       string
		action     string
		wantAction bool
		wantLedger []string
	}{
		{"exact", "build city", true, []string{"build city"}},
		{"case insensitive", "fortify", true, []string{"fortify"}},
		{"unavailable", "disband", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.RoleController, 0)
			res := f.dispatch.Dispatch(context.Background(), decide(tt.action), "prompt", actions)
			assert.Equal(t, tt.wantAction, res.HasAction)
			if tt.wantAction {
				assert.Equal(t, tt.action, res.Action)
				assert.Empty(t, res.Fragment)
			} else {
				assert.Equal(t, f.fragments.InsistAvailAction(), res.Fragment)
			}
			assert.Equal(t, tt.wantLedger, nilIfEmpty(f.session.Ledger()))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestFifteenthGotoTriggersVariety(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	ctx := context.Background()

	for i := 0; i < 14; i++ {
		action := fmt.Sprintf("goto %d,%d", i, i)
		res := f.dispatch.Dispatch(ctx, decide(action), "prompt", []string{action, "fortify"})
		require.True(t, res.HasAction, "decision %d", i+1)
	}

	res := f.dispatch.Dispatch(ctx, decide("goto 99,99"), "prompt", []string{"goto 99,99"})
	assert.False(t, res.HasAction)
	assert.Equal(t, f.fragments.InsistVariousActions("goto"), res.Fragment)
	assert.Empty(t, f.session.Ledger())

	// The counter starts over after the reset.
	res = f.dispatch.Dispatch(ctx, decide("goto 99,99"), "prompt", []string{"goto 99,99"})
	assert.True(t, res.HasAction)
}

func TestCapitalizedGotosTriggerVariety(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	ctx := context.Background()

	for i := 0; i < 14; i++ {
		action := fmt.Sprintf("Goto %d,%d", i, i)
		res := f.dispatch.Dispatch(ctx, decide(action), "prompt", []string{action})
		require.True(t, res.HasAction, "decision %d", i+1)
	}

	res := f.dispatch.Dispatch(ctx, decide("GOTO 14,14"), "prompt", []string{"goto 14,14"})
	assert.False(t, res.HasAction)
	assert.Equal(t, f.fragments.InsistVariousActions("goto"), res.Fragment)
}

func TestMixedMovesDoNotTrigger(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	ctx := context.Background()

	for i := 0; i < 14; i++ {
		f.dispatch.Dispatch(ctx, decide("goto north"), "prompt", []string{"goto north"})
	}
	res := f.dispatch.Dispatch(ctx, decide("move south"), "prompt", []string{"move south"})
	assert.True(t, res.HasAction)
	assert.Equal(t, "move south", res.Action)
}

func TestKeepActivityRepetition(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	ctx := context.Background()
	actions := []string{"keep_activity"}

	for i := 0; i < 14; i++ {
		require.True(t, f.dispatch.Dispatch(ctx, decide("keep_activity"), "prompt", actions).HasAction)
	}
	res := f.dispatch.Dispatch(ctx, decide("keep_activity"), "prompt", actions)
	assert.False(t, res.HasAction)
	assert.Equal(t, f.fragments.InsistVariousActions("keep_activity"), res.Fragment)
}

func TestManualSearchAppendsAnswer(t *testing.T) {
	tests := []struct {
		name  string
		draw  float64
		nudge bool
	}{
		{"no nudge", 0.9, false},
		{"nudge", 0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.RoleController, tt.draw)
			res := f.dispatch.Dispatch(context.Background(), reply("manualAndHistorySearch", `{"look_up": "how to found a city"}`), "prompt", nil)
			assert.False(t, res.HasAction)
			assert.Empty(t, res.Fragment)

			last, ok := f.session.Last()
			require.True(t, ok)
			assert.Equal(t, llm.RoleUser, last.Role)
			want := "Settlers found cities.\n"
			if tt.nudge {
				want += f.fragments.FinishLookFor()
			}
			assert.Equal(t, want, last.Content)
			assert.Equal(t, []string{"look_up"}, f.session.Ledger())
			assert.Equal(t, []string{"how to found a city"}, f.retriever.Questions())
		})
	}
}

func TestManualSearchForcesDecisionAfterThreeLookups(t *testing.T) {
	f := newFixture(t, config.RoleController, 0.9)
	ctx := context.Background()
	lookup := reply("manualAndHistorySearch", `{"look_up": "what next"}`)

	for i := 0; i < 3; i++ {
		f.dispatch.Dispatch(ctx, lookup, "prompt", nil)
	}
	res := f.dispatch.Dispatch(ctx, lookup, "prompt", nil)
	assert.False(t, res.HasAction)

	last, _ := f.session.Last()
	assert.Equal(t, f.fragments.FinishLookFor(), last.Content)
	assert.Empty(t, f.session.Ledger())
	assert.Len(t, f.retriever.Questions(), 3)
}

func TestManualSearchFailureInsistsOnJSON(t *testing.T) {
	f := newFixture(t, config.RoleController, 0.9)
	f.retriever.FailWith(llmerrors.NewError(llmerrors.ErrorTypeTransient, "index unavailable"))

	res := f.dispatch.Dispatch(context.Background(), reply("manualAndHistorySearch", `{"look_up": "x"}`), "prompt", nil)
	assert.False(t, res.HasAction)
	assert.Equal(t, f.fragments.InsistJSON(), res.Fragment)
	assert.Len(t, f.retriever.Questions(), 3)
	assert.Empty(t, f.session.Ledger())
	assert.Equal(t, 2, f.session.Len())
}

func TestMissingInputNoiseFallback(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		f := newFixture(t, config.RoleController, 0.5)
		f.session.AddAssistantMessage(`{"command": {"name": "finalDecision", "input": {}}}`)

		res := f.dispatch.Dispatch(context.Background(), reply("finalDecision", `{}`), "prompt", []string{"fortify"})
		assert.Equal(t, Result{}, res)
		assert.Equal(t, 2, f.session.Len())
	})
	t.Run("remind", func(t *testing.T) {
		f := newFixture(t, config.RoleController, 0.9)
		f.session.AddAssistantMessage(`{"command": {"name": "finalDecision", "input": {}}}`)

		res := f.dispatch.Dispatch(context.Background(), reply("finalDecision", `{}`), "prompt", []string{"fortify"})
		assert.Equal(t, Result{}, res)
		last, _ := f.session.Last()
		assert.Equal(t, NoiseReminder, last.Content)
		assert.Equal(t, 4, f.session.Len())
	})
}

func TestSuggestionIsAdvisorOnly(t *testing.T) {
	advisor := newFixture(t, config.RoleAdvisor, 0)
	res := advisor.dispatch.Dispatch(context.Background(), reply("suggestion", `{"suggestion": "Build a granary first."}`), "prompt", nil)
	assert.True(t, res.HasAction)
	assert.Equal(t, "Build a granary first.", res.Action)

	controller := newFixture(t, config.RoleController, 0)
	res = controller.dispatch.Dispatch(context.Background(), reply("suggestion", `{"suggestion": "x"}`), "prompt", nil)
	assert.False(t, res.HasAction)
	assert.Contains(t, res.Fragment, "finalDecision")
}

func TestAskCurrentGameInformation(t *testing.T) {
	f := newFixture(t, config.RoleController, 0)
	res := f.dispatch.Dispatch(context.Background(), reply("askCurrentGameInformation", `{"query": "gold"}`), "prompt", nil)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, []string{"askCurrentGameInformation"}, f.session.Ledger())
}

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civagent/internal/mocks"
	"civagent/pkg/agent/llm"
	"civagent/pkg/config"
	"civagent/pkg/game"
	"civagent/pkg/persistence"
)

// mockFactory hands out one mock client per CreateClient call.
type mockFactory struct {
	mu      sync.Mutex
	reply   string
	clients []*mocks.MockLLMClient
}

func (f *mockFactory) CreateClient(mc config.ModelClientConfig, _ config.RetryConfig) (llm.LLMClient, error) {
	m := mocks.NewMockLLMClient()
	m.SetModelName(mc.Model)
	m.RespondWith(f.reply)
	f.mu.Lock()
	f.clients = append(f.clients, m)
	f.mu.Unlock()
	return m, nil
}

type noteRecorder struct {
	mu    sync.Mutex
	notes []string
}

func (n *noteRecorder) Remember(_ context.Context, actor, note string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, actor+": "+note)
	return nil
}

func decision(action string) string {
	return fmt.Sprintf(`{"thoughts": {"thought": "expand"}, "command": {"name": "finalDecision", "input": {"action": %q}}}`, action)
}

func testOptions(t *testing.T, reply string) (Options, *mockFactory) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Model.Model = "gpt-4"
	cfg.Dialogue.DecisionTimeout = 5 * time.Second
	factory := &mockFactory{reply: reply}
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	return Options{
		Config:  cfg,
		Clients: factory,
		Now:     func() time.Time { return at },
	}, factory
}

func settlersObservation() game.Observation {
	key := game.ActorKey{Class: game.ClassUnit, ID: 104}
	return game.Observation{
		Turn:     3,
		Entities: map[string][]int{game.ClassUnit: {104}},
		Actors: map[game.ActorKey]game.ActorView{
			key: {
				Key:         key,
				Name:        "Settlers 104",
				Observation: "grassland",
				Actions:     []string{"keep activity", "fortify", "build city", "cancel order"},
			},
		},
	}
}

func TestWorkerDecide(t *testing.T) {
	opts, factory := testOptions(t, decision("build city"))
	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	history := &noteRecorder{}
	opts.Store = store
	opts.History = history

	w, err := New(game.ActorKey{Class: game.ClassUnit, ID: 104}, opts)
	require.NoError(t, err)
	require.Len(t, factory.clients, 2, "model and summarizer clients")

	action, err := w.Decide(context.Background(), settlersObservation())
	require.NoError(t, err)
	assert.Equal(t, "build city", action)

	model := factory.clients[0]
	require.Len(t, model.CompleteCalls, 1)
	sent := model.CompleteCalls[0].Messages
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2].Content, "The unit is Settlers 104, observation is grassland. Your available action list is ['fortify', 'build city'].")
	assert.NotContains(t, sent[2].Content, "keep activity")

	name := persistence.DialogueName(3, "unit-104", opts.Now())
	_, err = os.Stat(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	saved, err := store.LoadTranscript(name)
	require.NoError(t, err)
	assert.Len(t, saved, 4)
	assert.Equal(t, llm.RoleAssistant, saved[3].Role)

	require.Len(t, history.notes, 1)
	assert.Contains(t, history.notes[0], `chose "build city"`)
}

func TestWorkerNothingToDecide(t *testing.T) {
	opts, factory := testOptions(t, decision("fortify"))
	w, err := New(game.ActorKey{Class: game.ClassUnit, ID: 104}, opts)
	require.NoError(t, err)

	obs := settlersObservation()
	view := obs.Actors[w.Key()]
	view.Actions = []string{"keep activity"}
	obs.Actors[w.Key()] = view

	action, err := w.Decide(context.Background(), obs)
	require.NoError(t, err)
	assert.Empty(t, action)
	assert.Empty(t, factory.clients[0].CompleteCalls)
}

func TestWorkerUnknownActor(t *testing.T) {
	opts, _ := testOptions(t, decision("fortify"))
	w, err := New(game.ActorKey{Class: game.ClassCity, ID: 1}, opts)
	require.NoError(t, err)

	_, err = w.Decide(context.Background(), settlersObservation())
	assert.Error(t, err)
}

func TestWorkerRejectsUnknownRole(t *testing.T) {
	opts, _ := testOptions(t, decision("fortify"))
	opts.Config.Prompts.Role = "spectator"
	_, err := New(game.ActorKey{Class: game.ClassUnit, ID: 1}, opts)
	assert.Error(t, err)
}

func TestPoolLifecycle(t *testing.T) {
	opts, _ := testOptions(t, decision("fortify"))
	pool, err := NewPool(opts)
	require.NoError(t, err)

	key := game.ActorKey{Class: game.ClassUnit, ID: 104}
	_, err = pool.Decide(context.Background(), key, settlersObservation())
	assert.Error(t, err)

	require.NoError(t, pool.AddEntity(key))
	first, ok := pool.Get(key)
	require.True(t, ok)
	require.NoError(t, pool.AddEntity(key))
	again, _ := pool.Get(key)
	assert.Same(t, first, again)
	assert.Equal(t, 1, pool.Len())

	action, err := pool.Decide(context.Background(), key, settlersObservation())
	require.NoError(t, err)
	assert.Equal(t, "fortify", action)

	pool.RemoveEntity(key)
	assert.Equal(t, 0, pool.Len())
}

func TestNewPoolRequiresConfig(t *testing.T) {
	_, err := NewPool(Options{})
	assert.Error(t, err)
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay/pkg/events"
	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence/file"
	"github.com/relaycrm/relay/pkg/protocol"
	"github.com/relaycrm/relay/pkg/registry"
)

// recorderFactory registers a test action that records every rendered config
// it executes with, optionally failing.
type recorderFactory struct {
	id  string
	err error

	mu    sync.Mutex
	calls []map[string]any
}

func (f *recorderFactory) ID() string { return f.id }

func (f *recorderFactory) Schema() map[string]any { return nil }

func (f *recorderFactory) Create(config map[string]any) (protocol.Action, error) {
	return &recorderAction{factory: f, config: config}, nil
}

func (f *recorderFactory) recorded() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]map[string]any(nil), f.calls...)
}

type recorderAction struct {
	factory *recorderFactory
	config  map[string]any
}

func (a *recorderAction) Execute(_ context.Context, _ map[string]any, _ *slog.Logger) (any, error) {
	a.factory.mu.Lock()
	a.factory.calls = append(a.factory.calls, a.config)
	a.factory.mu.Unlock()

	if a.factory.err != nil {
		return nil, a.factory.err
	}

	return map[string]any{"ok": true}, nil
}

type engineFixture struct {
	store    *file.Persistence
	registry *registry.Registry
	recorder *recorderFactory
	engine   *Engine
	now      time.Time
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	recorder := &recorderFactory{id: "record"}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(recorder)

	fixture := &engineFixture{
		store:    store,
		registry: reg,
		recorder: recorder,
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	matcher := NewTriggerMatcher(store, logger)
	opts = append([]Option{WithClock(func() time.Time { return fixture.now })}, opts...)
	fixture.engine = NewEngine(store, reg, matcher, logger, opts...)

	return fixture
}

func (f *engineFixture) saveDefinition(t *testing.T, definition *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, f.store.SaveDefinition(context.Background(), definition))
}

func eventDefinition(id string, graph models.Graph) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     id,
		OrgID:  "org-1",
		Name:   "Automation under test",
		Status: models.DefinitionStatusActive,
		Trigger: models.Trigger{
			Kind:      models.TriggerKindEvent,
			EventType: "deal.stage_changed",
		},
		Graph: graph,
	}
}

func stageChangedEvent(stage string) events.DomainEvent {
	return events.DomainEvent{
		EventType:   "deal.stage_changed",
		SubjectID:   "deal-42",
		SubjectType: "deal",
		Old:         map[string]any{"stage": "negotiation"},
		New:         map[string]any{"stage": stage},
	}
}

func TestEngine_Notify_RunsActionChain(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{
				"step": "first", "deal": "{{context.subject_id}}",
			}},
			{ID: "n2", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{
				"step": "second", "stage": "{{context.new.stage}}",
			}},
		},
		Edges: []models.Edge{{From: "n1", To: "n2"}},
	}))

	started, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	calls := f.recorder.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0]["step"])
	assert.Equal(t, "deal-42", calls[0]["deal"])
	assert.Equal(t, "second", calls[1]["step"])
	assert.Equal(t, "won", calls[1]["stage"])

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
	assert.Empty(t, runs[0].CurrentNodeID)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestEngine_Notify_NoMatchStartsNothing(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	definition := eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeAction, Name: "record"}},
	})
	definition.Trigger.EventType = "contact.created"
	f.saveDefinition(t, definition)

	started, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)
	assert.Zero(t, started)
	assert.Empty(t, f.recorder.recorded())
}

func TestEngine_ConditionRoutesTrueBranch(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	graph := models.Graph{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `{{context.new.stage}} == "won"`,
			}},
			{ID: "won", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"branch": "won"}},
			{ID: "lost", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"branch": "lost"}},
		},
		Edges: []models.Edge{
			{From: "check", To: "won", Condition: models.BranchTrue},
			{From: "check", To: "lost", Condition: models.BranchFalse},
		},
	}
	f.saveDefinition(t, eventDefinition("wf-1", graph))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	calls := f.recorder.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "won", calls[0]["branch"])
}

func TestEngine_ConditionWithoutMatchingEdgeCompletes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	graph := models.Graph{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `{{context.new.stage}} == "won"`,
			}},
			{ID: "won", Type: models.NodeTypeAction, Name: "record"},
		},
		Edges: []models.Edge{
			{From: "check", To: "won", Condition: models.BranchTrue},
		},
	}
	f.saveDefinition(t, eventDefinition("wf-1", graph))

	_, err := f.engine.Notify(ctx, stageChangedEvent("lost"))
	require.NoError(t, err)

	assert.Empty(t, f.recorder.recorded())

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
	assert.Empty(t, runs[0].LastError)
}

func TestEngine_MalformedConditionFailsRun(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	graph := models.Graph{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `stage equals won`,
			}},
			{ID: "won", Type: models.NodeTypeAction, Name: "record"},
		},
		Edges: []models.Edge{
			{From: "check", To: "won", Condition: models.BranchTrue},
		},
	}
	f.saveDefinition(t, eventDefinition("wf-1", graph))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "check", runs[0].CurrentNodeID)
	assert.Contains(t, runs[0].LastError, "invalid condition expression")
}

func TestEngine_ActionFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.recorder.err = errors.New("smtp unreachable")

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeAction, Name: "record"},
			{ID: "n2", Type: models.NodeTypeAction, Name: "record"},
		},
		Edges: []models.Edge{{From: "n1", To: "n2"}},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	// Only the failing node executed.
	assert.Len(t, f.recorder.recorded(), 1)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "n1", runs[0].CurrentNodeID)
	assert.Contains(t, runs[0].LastError, "smtp unreachable")
}

func TestEngine_UnregisteredActionFailsRun(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeAction, Name: "teleport"}},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].LastError, "not registered")
}

func TestEngine_DelaySuspendsAndTickResumes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"step": "before"}},
			{ID: "d1", Type: models.NodeTypeDelay, Config: map[string]any{"duration": "1h"}},
			{ID: "n2", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"step": "after"}},
		},
		Edges: []models.Edge{
			{From: "n1", To: "d1"},
			{From: "d1", To: "n2"},
		},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusWaiting, runs[0].Status)
	assert.Equal(t, "d1", runs[0].CurrentNodeID)
	assert.Len(t, f.recorder.recorded(), 1)

	// A tick before the wake time resumes nothing.
	result, err := f.engine.Tick(ctx, f.now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, result.Resumed)

	// After the wake time the run continues at the delay's successor.
	f.now = f.now.Add(61 * time.Minute)

	result, err = f.engine.Tick(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resumed)

	calls := f.recorder.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "after", calls[1]["step"])

	runs, err = f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)

	// The claim is consumed: a further tick resumes nothing.
	result, err = f.engine.Tick(ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, result.Resumed)
}

func TestEngine_CancelWaitingRunDiscardsDelay(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{
			{ID: "d1", Type: models.NodeTypeDelay, Config: map[string]any{"duration": "1h"}},
			{ID: "n1", Type: models.NodeTypeAction, Name: "record"},
		},
		Edges: []models.Edge{{From: "d1", To: "n1"}},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	cancelled, err := f.engine.CancelRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)

	// The pending delay was discarded with the run.
	f.now = f.now.Add(2 * time.Hour)

	result, err := f.engine.Tick(ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, result.Resumed)
	assert.Empty(t, f.recorder.recorded())
}

func TestEngine_CancelFinishedRunRejected(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeAction, Name: "record"}},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = f.engine.CancelRun(ctx, runs[0].ID)
	require.ErrorIs(t, err, ErrRunFinished)
}

func TestEngine_FanOutSpawnsSiblingRuns(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	graph := models.Graph{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `{{context.new.stage}} == "won"`,
			}},
			{ID: "a", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"branch": "a"}},
			{ID: "b", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"branch": "b"}},
		},
		Edges: []models.Edge{
			{From: "check", To: "a", Condition: models.BranchTrue},
			{From: "check", To: "b", Condition: models.BranchTrue},
		},
	}
	f.saveDefinition(t, eventDefinition("wf-1", graph))

	started, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	branches := map[string]bool{}
	for _, call := range f.recorder.recorded() {
		branch, _ := call["branch"].(string)
		branches[branch] = true
	}

	assert.True(t, branches["a"])
	assert.True(t, branches["b"])

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	for _, run := range runs {
		assert.Equal(t, models.RunStatusSuccess, run.Status)
	}
}

func TestEngine_StepBoundAbortsCycle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, WithMaxSteps(10))

	graph := models.Graph{
		Nodes: []models.Node{
			{ID: "a", Type: models.NodeTypeAction, Name: "record"},
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `{{context.new.stage}} == "won"`,
			}},
			{ID: "b", Type: models.NodeTypeAction, Name: "record"},
		},
		Edges: []models.Edge{
			{From: "a", To: "check"},
			{From: "check", To: "b", Condition: models.BranchTrue},
			{From: "b", To: "check"},
		},
	}
	f.saveDefinition(t, eventDefinition("wf-1", graph))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].LastError, "exceeded 10 steps")
}

func TestEngine_ScheduleTickStartsRunOncePerWindow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	definition := eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{
			"step": "daily",
		}}},
	})
	definition.Trigger = models.Trigger{Kind: models.TriggerKindSchedule, Cron: "0 9 * * *"}
	f.saveDefinition(t, definition)

	// First tick registers the schedule; its first due time is the next 09:00.
	result, err := f.engine.Tick(ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, result.Started)

	due := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	f.now = due

	result, err = f.engine.Tick(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Started)
	assert.Len(t, f.recorder.recorded(), 1)

	// The same instant does not fire twice.
	result, err = f.engine.Tick(ctx, due)
	require.NoError(t, err)
	assert.Zero(t, result.Started)

	runs, err := f.store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "schedule.tick", runs[0].Context["event_type"])
}

func TestEngine_StepResultsVisibleToLaterNodes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	f.saveDefinition(t, eventDefinition("wf-1", models.Graph{
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeAction, Name: "record"},
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"expression": `{{context.steps.n1.ok}} == true`,
			}},
			{ID: "n2", Type: models.NodeTypeAction, Name: "record", Config: map[string]any{"step": "confirmed"}},
		},
		Edges: []models.Edge{
			{From: "n1", To: "check"},
			{From: "check", To: "n2", Condition: models.BranchTrue},
		},
	}))

	_, err := f.engine.Notify(ctx, stageChangedEvent("won"))
	require.NoError(t, err)

	calls := f.recorder.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "confirmed", calls[1]["step"])
}

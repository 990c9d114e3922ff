package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func testDefinition(id string) *models.WorkflowDefinition {
	now := time.Now().UTC()

	return &models.WorkflowDefinition{
		ID:     id,
		OrgID:  "org-1",
		Name:   "Deal won follow-up",
		Status: models.DefinitionStatusActive,
		Trigger: models.Trigger{
			Kind:      models.TriggerKindEvent,
			EventType: "deal.stage_changed",
		},
		Graph: models.Graph{
			Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeAction, Name: "log"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPersistence_DefinitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	definition := testDefinition("wf-1")
	require.NoError(t, store.SaveDefinition(ctx, definition))

	loaded, err := store.DefinitionByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, definition.Name, loaded.Name)
	assert.Equal(t, definition.Trigger, loaded.Trigger)
	assert.Len(t, loaded.Graph.Nodes, 1)

	all, err := store.Definitions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPersistence_DefinitionByID_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	_, err := store.DefinitionByID(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestPersistence_SoftDeletedDefinitionHidden(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	definition := testDefinition("wf-1")
	deleted := time.Now().UTC()
	definition.DeletedAt = &deleted
	require.NoError(t, store.SaveDefinition(ctx, definition))

	_, err := store.DefinitionByID(ctx, "wf-1")
	assert.True(t, persistence.IsDefinitionNotFound(err))

	all, err := store.Definitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPersistence_RunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	run := &models.Run{
		ID:            "run-1",
		DefinitionID:  "wf-1",
		Status:        models.RunStatusRunning,
		CurrentNodeID: "n1",
		Context:       map[string]any{"subject_id": "deal-42"},
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.Equal(t, "n1", loaded.CurrentNodeID)
	assert.Equal(t, "deal-42", loaded.Context["subject_id"])
}

func TestPersistence_Runs_FilterByDefinition(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	for _, run := range []*models.Run{
		{ID: "run-1", DefinitionID: "wf-1", Status: models.RunStatusSuccess, StartedAt: time.Now().UTC()},
		{ID: "run-2", DefinitionID: "wf-2", Status: models.RunStatusRunning, StartedAt: time.Now().UTC()},
		{ID: "run-3", DefinitionID: "wf-1", Status: models.RunStatusFailed, StartedAt: time.Now().UTC()},
	} {
		require.NoError(t, store.SaveRun(ctx, run))
	}

	runs, err := store.Runs(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	all, err := store.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPersistence_SuspendAndClaim(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)
	now := time.Now().UTC()

	run := &models.Run{
		ID:            "run-1",
		DefinitionID:  "wf-1",
		Status:        models.RunStatusWaiting,
		CurrentNodeID: "d1",
		StartedAt:     now,
	}
	delay := &models.PendingDelay{
		ID:        "delay-1",
		RunID:     "run-1",
		NodeID:    "d1",
		WakeAt:    now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, store.SuspendRun(ctx, run, delay))

	// Not due yet.
	due, err := store.ClaimDueDelays(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	// Due after the wake time.
	due, err = store.ClaimDueDelays(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "run-1", due[0].Run.ID)
	assert.Equal(t, "d1", due[0].NodeID)

	// Claimed entries are gone.
	due, err = store.ClaimDueDelays(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPersistence_ClaimDueDelays_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)
	now := time.Now().UTC()

	const delays = 20

	for i := range delays {
		runID := "run-" + string(rune('a'+i))
		run := &models.Run{ID: runID, DefinitionID: "wf-1", Status: models.RunStatusWaiting, StartedAt: now}
		delay := &models.PendingDelay{
			ID:     "delay-" + string(rune('a'+i)),
			RunID:  runID,
			NodeID: "d1",
			WakeAt: now.Add(-time.Minute),
		}
		require.NoError(t, store.SuspendRun(ctx, run, delay))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			due, err := store.ClaimDueDelays(ctx, now)
			assert.NoError(t, err)

			mu.Lock()
			total += len(due)
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, delays, total)
}

func TestPersistence_ClearPendingDelay(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)
	now := time.Now().UTC()

	run := &models.Run{ID: "run-1", DefinitionID: "wf-1", Status: models.RunStatusWaiting, StartedAt: now}
	delay := &models.PendingDelay{ID: "delay-1", RunID: "run-1", NodeID: "d1", WakeAt: now.Add(-time.Minute)}
	require.NoError(t, store.SuspendRun(ctx, run, delay))

	require.NoError(t, store.ClearPendingDelay(ctx, "run-1"))

	due, err := store.ClaimDueDelays(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPersistence_ScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	schedule, err := models.NewSchedule("sched-1", "wf-1", "0 9 * * *", now)
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	loaded, err := store.ScheduleByDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, schedule.NextDueAt, loaded.NextDueAt)

	due, err := store.DueSchedules(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	due, err = store.DueSchedules(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, store.DeleteScheduleByDefinition(ctx, "wf-1"))

	_, err = store.ScheduleByDefinition(ctx, "wf-1")
	assert.True(t, persistence.IsScheduleNotFound(err))
}

func TestPersistence_ApprovalEntriesAppendOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)
	now := time.Now().UTC()

	for i, action := range []models.ApprovalAction{
		models.ApprovalActionRequested,
		models.ApprovalActionRejected,
		models.ApprovalActionRequested,
		models.ApprovalActionApproved,
	} {
		entry := &models.ApprovalEntry{
			ID:           "appr-" + string(rune('a'+i)),
			DefinitionID: "wf-1",
			Action:       action,
			Actor:        "ops@example.com",
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendApprovalEntry(ctx, entry))
	}

	entries, err := store.ApprovalEntries(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, models.ApprovalActionRequested, entries[0].Action)
	assert.Equal(t, models.ApprovalActionApproved, entries[3].Action)

	// Unknown definitions have an empty, non-nil log.
	empty, err := store.ApprovalEntries(ctx, "wf-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPersistence_RejectsPathTraversalIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	_, err := store.DefinitionByID(ctx, "../escape")
	require.Error(t, err)

	err = store.SaveRun(ctx, &models.Run{ID: "a/b"})
	require.Error(t, err)
}

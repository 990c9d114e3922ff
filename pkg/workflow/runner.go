// Package workflow implements the execution core: trigger matching, the
// node-by-node runner with durable delay suspension, and the approval gate.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaycrm/relay/pkg/eventbus"
	"github.com/relaycrm/relay/pkg/events"
	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/otelhelper"
	"github.com/relaycrm/relay/pkg/persistence"
	"github.com/relaycrm/relay/pkg/registry"
	"github.com/relaycrm/relay/pkg/template"
)

// DefaultMaxSteps bounds how many nodes a single run pass may process before
// the run is failed. Graphs with cycles are legal; this is the safety net.
const DefaultMaxSteps = 1000

// ErrRunFinished indicates an operation targeted a run already in a terminal
// state.
var ErrRunFinished = errors.New("run already finished")

// Engine drives runs through their definition graphs. A run advances node by
// node within a single goroutine; concurrency exists only across runs, so no
// two nodes of the same run ever execute at the same time.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	matcher     *TriggerMatcher
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
	maxSteps    int
	now         func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventBus wires run lifecycle event publishing.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) { e.eventBus = bus }
}

// WithTracer enables per-run tracing spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMaxSteps overrides the per-pass step bound.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithClock overrides the time source. Used by tests to make delay windows
// and schedule firing deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the execution engine.
func NewEngine(
	store persistence.Persistence,
	reg *registry.Registry,
	matcher *TriggerMatcher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		persistence: store,
		registry:    reg,
		matcher:     matcher,
		logger:      logger.With("module", "engine"),
		maxSteps:    DefaultMaxSteps,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Notify ingests a domain event: every matching definition spawns its own run,
// and each run executes to completion or suspension before Notify returns.
// A failing run never prevents the remaining matches from starting; the count
// of started runs is returned.
func (e *Engine) Notify(ctx context.Context, event events.DomainEvent) (int, error) {
	matches, err := e.matcher.MatchEvent(ctx, event.EventType)
	if err != nil {
		return 0, err
	}

	started := 0

	for _, definition := range matches {
		run, err := e.StartRun(ctx, definition, event.RunContext())
		if err != nil {
			e.logger.Error("Failed to start run",
				"definition_id", definition.ID,
				"event_type", event.EventType,
				"error", err)

			continue
		}

		started++

		e.logger.InfoContext(ctx, "Run spawned by event",
			"run_id", run.ID,
			"definition_id", definition.ID,
			"event_type", event.EventType)
	}

	return started, nil
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Started int // runs spawned by due cron schedules
	Resumed int // suspended runs woken by due delays
}

// Tick performs one scheduler pass at the given instant: fire due cron
// schedules and resume runs whose delay has elapsed. Ticks are idempotent
// with respect to time; calling Tick twice with the same now fires nothing
// extra because due entries are advanced or claimed on first use.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult

	if err := e.matcher.SyncSchedules(ctx, now); err != nil {
		return result, fmt.Errorf("failed to sync schedules: %w", err)
	}

	matches, err := e.matcher.MatchSchedule(ctx, now)
	if err != nil {
		return result, err
	}

	for _, definition := range matches {
		runContext := map[string]any{
			"event_type":   "schedule.tick",
			"subject_id":   definition.ID,
			"subject_type": "workflow_definition",
			"scheduled_at": now.UTC().Format(time.RFC3339),
		}

		if _, err := e.StartRun(ctx, definition, runContext); err != nil {
			e.logger.Error("Failed to start scheduled run",
				"definition_id", definition.ID,
				"error", err)

			continue
		}

		result.Started++
	}

	due, err := e.persistence.ClaimDueDelays(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to claim due delays: %w", err)
	}

	for _, resume := range due {
		if err := e.resume(ctx, resume); err != nil {
			e.logger.Error("Failed to resume run",
				"run_id", resume.Run.ID,
				"node_id", resume.NodeID,
				"error", err)

			continue
		}

		result.Resumed++
	}

	return result, nil
}

// StartRun creates a run at the definition's entry node and executes it until
// it suspends or reaches a terminal state.
func (e *Engine) StartRun(ctx context.Context, definition *models.WorkflowDefinition, runContext map[string]any) (*models.Run, error) {
	entry, err := definition.Graph.EntryNode()
	if err != nil {
		return nil, fmt.Errorf("definition %s has no runnable graph: %w", definition.ID, err)
	}

	run := &models.Run{
		ID:            "run-" + uuid.New().String()[:8],
		DefinitionID:  definition.ID,
		Status:        models.RunStatusRunning,
		CurrentNodeID: entry.ID,
		Context:       runContext,
		StartedAt:     e.now().UTC(),
	}

	if err := e.persistence.SaveRun(ctx, run); err != nil {
		return nil, persistence.NewStoreError("SaveRun", run.ID, err)
	}

	triggerEventType, _ := runContext["event_type"].(string)
	e.publish(ctx, events.RunStarted{
		BaseEvent:        events.NewBaseEvent(events.RunStartedEvent, definition.ID, run.ID),
		TriggerEventType: triggerEventType,
	})

	if err := e.advance(ctx, run, definition); err != nil {
		return run, err
	}

	return run, nil
}

// CancelRun forces a run into the cancelled state from any non-terminal state
// and discards its pending delay, if any.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := e.persistence.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}

	if run.Status == models.RunStatusWaiting {
		if err := e.persistence.ClearPendingDelay(ctx, runID); err != nil {
			return nil, persistence.NewStoreError("ClearPendingDelay", runID, err)
		}
	}

	now := e.now().UTC()
	run.Status = models.RunStatusCancelled
	run.FinishedAt = &now

	if err := e.persistence.SaveRun(ctx, run); err != nil {
		return nil, persistence.NewStoreError("SaveRun", runID, err)
	}

	e.publish(ctx, events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, run.DefinitionID, run.ID),
	})

	e.logger.InfoContext(ctx, "Run cancelled", "run_id", runID)

	return run, nil
}

// resume wakes a suspended run at the successor of the delay node it was
// parked on. The pending delay was already claimed, so a resume that finds
// the run cancelled simply drops the claim.
func (e *Engine) resume(ctx context.Context, due models.DueResume) error {
	run := due.Run

	if run.Status != models.RunStatusWaiting {
		// Cancelled or force-finished while suspended.
		return nil
	}

	definition, err := e.persistence.DefinitionByID(ctx, run.DefinitionID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return e.finish(ctx, run, models.RunStatusFailed, "definition deleted while run was suspended")
		}

		return err
	}

	run.Status = models.RunStatusRunning

	out := definition.Graph.OutgoingEdges(due.NodeID)
	if len(out) == 0 {
		return e.finish(ctx, run, models.RunStatusSuccess, "")
	}

	run.CurrentNodeID = out[0].To

	if err := e.persistence.SaveRun(ctx, run); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	e.publish(ctx, events.RunResumed{
		BaseEvent: events.NewBaseEvent(events.RunResumedEvent, run.DefinitionID, run.ID),
		NodeID:    due.NodeID,
	})

	e.logger.InfoContext(ctx, "Run resumed",
		"run_id", run.ID,
		"node_id", due.NodeID)

	return e.advance(ctx, run, definition)
}

// advance processes nodes from the run cursor until the run suspends, reaches
// a terminal state or exhausts the step bound. Exactly one node is in flight
// at any moment; the cursor is persisted only after the node's effect took
// place, so a storage failure aborts the pass without re-running the node.
func (e *Engine) advance(ctx context.Context, run *models.Run, definition *models.WorkflowDefinition) error {
	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
			attribute.String(otelhelper.DefinitionIDKey, definition.ID),
			attribute.String(otelhelper.RunIDKey, run.ID),
		)
		defer span.End()
	}

	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			return e.finish(ctx, run, models.RunStatusFailed,
				fmt.Sprintf("run exceeded %d steps, aborting probable cycle", e.maxSteps))
		}

		if cancelled, err := e.externallyCancelled(ctx, run); err != nil {
			return err
		} else if cancelled {
			return nil
		}

		if run.CurrentNodeID == "" {
			return e.finish(ctx, run, models.RunStatusSuccess, "")
		}

		node, ok := definition.Graph.NodeByID(run.CurrentNodeID)
		if !ok {
			return e.finish(ctx, run, models.RunStatusFailed,
				fmt.Sprintf("node %s not present in definition graph", run.CurrentNodeID))
		}

		stepCtx := ctx

		var span trace.Span

		if e.tracer != nil {
			attrs := []attribute.KeyValue{
				attribute.String(otelhelper.NodeIDKey, node.ID),
				attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
			}
			if node.Type == models.NodeTypeAction {
				attrs = append(attrs, attribute.String(otelhelper.ActionNameKey, node.Name))
			}

			stepCtx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.node", attrs...)
		}

		var err error

		switch node.Type {
		case models.NodeTypeAction:
			err = e.stepAction(stepCtx, run, definition, node)
		case models.NodeTypeCondition:
			err = e.stepCondition(stepCtx, run, definition, node)
		case models.NodeTypeDelay:
			err = e.stepDelay(stepCtx, run, node)
		default:
			err = e.finish(stepCtx, run, models.RunStatusFailed,
				fmt.Sprintf("node %s has unknown type %q", node.ID, node.Type))
		}

		if span != nil {
			if err != nil {
				otelhelper.SetError(span, err)
			}

			span.End()
		}

		if err != nil {
			return err
		}

		if run.Status.Terminal() || run.Status == models.RunStatusWaiting {
			return nil
		}
	}
}

// stepAction renders the node config against the run context, dispatches the
// named action and advances the cursor to the single successor.
func (e *Engine) stepAction(ctx context.Context, run *models.Run, definition *models.WorkflowDefinition, node *models.Node) error {
	rendered := template.RenderConfig(node.Config, run.Context)

	action, err := e.registry.CreateAction(node.Name, rendered)
	if err != nil {
		return e.fail(ctx, run, node.ID, fmt.Errorf("failed to create action %q: %w", node.Name, err))
	}

	logger := e.logger.With("run_id", run.ID, "node_id", node.ID, "action", node.Name)

	result, err := action.Execute(ctx, run.Context, logger)
	if err != nil {
		return e.fail(ctx, run, node.ID, fmt.Errorf("action %q failed: %w", node.Name, err))
	}

	if result != nil {
		recordStepResult(run, node.ID, result)
	}

	// Terminal action nodes leave the cursor empty; advance then finishes
	// the run on its next pass.
	run.CurrentNodeID = ""
	if out := definition.Graph.OutgoingEdges(node.ID); len(out) > 0 {
		run.CurrentNodeID = out[0].To
	}

	return e.saveCursor(ctx, run)
}

// stepCondition evaluates the node expression and follows the matching branch.
// No matching edge is a graceful no-op: the run finishes successfully. When
// several edges carry the matched label, the run continues along the first
// and a sibling run is spawned for each additional edge.
func (e *Engine) stepCondition(ctx context.Context, run *models.Run, definition *models.WorkflowDefinition, node *models.Node) error {
	verdict, err := template.EvalCondition(node.Expression(), run.Context)
	if err != nil {
		return e.fail(ctx, run, node.ID, fmt.Errorf("failed to evaluate condition: %w", err))
	}

	branch := models.BranchFalse
	if verdict {
		branch = models.BranchTrue
	}

	edges := definition.Graph.BranchEdges(node.ID, branch)
	if len(edges) == 0 {
		e.logger.DebugContext(ctx, "Condition branch has no edge, run completes",
			"run_id", run.ID,
			"node_id", node.ID,
			"branch", branch)

		return e.finish(ctx, run, models.RunStatusSuccess, "")
	}

	run.CurrentNodeID = edges[0].To

	if err := e.saveCursor(ctx, run); err != nil {
		return err
	}

	for _, extra := range edges[1:] {
		e.spawnSibling(ctx, run, definition, extra.To)
	}

	return nil
}

// stepDelay computes the wake time and suspends the run. The status flip and
// the pending delay are persisted atomically so a crash between them cannot
// strand the run.
func (e *Engine) stepDelay(ctx context.Context, run *models.Run, node *models.Node) error {
	duration, err := node.DelayDuration()
	if err != nil {
		return e.fail(ctx, run, node.ID, err)
	}

	now := e.now().UTC()
	wakeAt := now.Add(duration)

	run.Status = models.RunStatusWaiting
	run.CurrentNodeID = node.ID

	delay := &models.PendingDelay{
		ID:        "delay-" + uuid.New().String()[:8],
		RunID:     run.ID,
		NodeID:    node.ID,
		WakeAt:    wakeAt,
		CreatedAt: now,
	}

	if err := e.persistence.SuspendRun(ctx, run, delay); err != nil {
		return persistence.NewStoreError("SuspendRun", run.ID, err)
	}

	e.publish(ctx, events.RunSuspended{
		BaseEvent: events.NewBaseEvent(events.RunSuspendedEvent, run.DefinitionID, run.ID),
		NodeID:    node.ID,
		WakeAt:    wakeAt,
	})

	e.logger.InfoContext(ctx, "Run suspended",
		"run_id", run.ID,
		"node_id", node.ID,
		"wake_at", wakeAt)

	return nil
}

// spawnSibling starts an independent run continuing from a fan-out target.
// The sibling copies the parent context; a sibling failure never touches the
// parent run.
func (e *Engine) spawnSibling(ctx context.Context, parent *models.Run, definition *models.WorkflowDefinition, nodeID string) {
	sibling := &models.Run{
		ID:            "run-" + uuid.New().String()[:8],
		DefinitionID:  definition.ID,
		Status:        models.RunStatusRunning,
		CurrentNodeID: nodeID,
		Context:       copyContext(parent.Context),
		StartedAt:     e.now().UTC(),
	}

	if err := e.persistence.SaveRun(ctx, sibling); err != nil {
		e.logger.Error("Failed to save fan-out run",
			"parent_run_id", parent.ID,
			"node_id", nodeID,
			"error", err)

		return
	}

	e.publish(ctx, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, definition.ID, sibling.ID),
	})

	e.logger.InfoContext(ctx, "Fan-out run spawned",
		"parent_run_id", parent.ID,
		"run_id", sibling.ID,
		"node_id", nodeID)

	if err := e.advance(ctx, sibling, definition); err != nil {
		e.logger.Error("Fan-out run aborted",
			"run_id", sibling.ID,
			"error", err)
	}
}

// fail records a node-level failure and finishes the run as failed. The
// failing node stays on the cursor so operators can see where it stopped.
func (e *Engine) fail(ctx context.Context, run *models.Run, nodeID string, cause error) error {
	run.CurrentNodeID = nodeID

	e.publish(ctx, events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, run.DefinitionID, run.ID),
		NodeID:    nodeID,
		Error:     cause.Error(),
	})

	return e.finish(ctx, run, models.RunStatusFailed, cause.Error())
}

func (e *Engine) finish(ctx context.Context, run *models.Run, status models.RunStatus, lastError string) error {
	now := e.now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.LastError = lastError

	if status == models.RunStatusSuccess {
		run.CurrentNodeID = ""
	}

	if err := e.persistence.SaveRun(ctx, run); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	if status == models.RunStatusSuccess {
		e.publish(ctx, events.RunFinished{
			BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.DefinitionID, run.ID),
			Duration:  now.Sub(run.StartedAt),
		})
	}

	e.logger.InfoContext(ctx, "Run finished",
		"run_id", run.ID,
		"status", status,
		"error", lastError)

	return nil
}

// externallyCancelled re-reads the run before each node so a cancellation
// issued from the API takes effect at the next node boundary.
func (e *Engine) externallyCancelled(ctx context.Context, run *models.Run) (bool, error) {
	stored, err := e.persistence.RunByID(ctx, run.ID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return false, nil
		}

		return false, persistence.NewStoreError("RunByID", run.ID, err)
	}

	if stored.Status == models.RunStatusCancelled {
		run.Status = models.RunStatusCancelled
		run.FinishedAt = stored.FinishedAt

		return true, nil
	}

	return false, nil
}

func (e *Engine) saveCursor(ctx context.Context, run *models.Run) error {
	if err := e.persistence.SaveRun(ctx, run); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"error", err)
	}
}

func recordStepResult(run *models.Run, nodeID string, result any) {
	if run.Context == nil {
		run.Context = map[string]any{}
	}

	steps, ok := run.Context["steps"].(map[string]any)
	if !ok {
		steps = map[string]any{}
		run.Context["steps"] = steps
	}

	steps[nodeID] = result
}

func copyContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// countingStep completes after a fixed number of polls.
type countingStep struct {
	name  string
	polls int
	calls int
}

func (s *countingStep) Name() string           { return s.name }
func (s *countingStep) Kind() string           { return "counting" }
func (s *countingStep) Timeout() time.Duration { return time.Minute }

func (s *countingStep) Execute(context.Context) engine.Result {
	s.calls++
	if s.calls <= s.polls {
		return engine.Poll()
	}
	return engine.Done()
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests that migrations can run more than once
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestVariables(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	deployment := engine.DeploymentScope("d1")
	step := engine.StepScope("d1", "bind-service[web/db]")
	changed := engine.Var[bool]("services-changed.web")

	got, err := engine.GetVariable(ctx, store, deployment, changed)
	if err != nil {
		t.Fatalf("failed to get missing variable: %v", err)
	}
	if got {
		t.Error("expected default value for missing variable")
	}

	if err := engine.SetVariable(ctx, store, deployment, changed, true); err != nil {
		t.Fatalf("failed to set variable: %v", err)
	}
	if err := engine.SetVariable(ctx, store, step, changed, false); err != nil {
		t.Fatalf("failed to set step variable: %v", err)
	}

	got, err = engine.GetVariable(ctx, store, deployment, changed)
	if err != nil {
		t.Fatalf("failed to get variable: %v", err)
	}
	if !got {
		t.Error("expected deployment variable to be true")
	}

	got, err = engine.GetVariable(ctx, store, step, changed)
	if err != nil {
		t.Fatalf("failed to get step variable: %v", err)
	}
	if got {
		t.Error("step scope must not see the deployment variable")
	}

	// Overwrite
	if err := engine.SetVariable(ctx, store, deployment, changed, false); err != nil {
		t.Fatalf("failed to overwrite variable: %v", err)
	}
	got, _ = engine.GetVariable(ctx, store, deployment, changed)
	if got {
		t.Error("expected overwritten value")
	}
}

func TestDeleteVariables(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2"} {
		if err := store.SetVariable(ctx, engine.DeploymentScope(id), "archive-id", []byte(`"a1"`)); err != nil {
			t.Fatalf("failed to set variable: %v", err)
		}
	}

	if err := store.DeleteVariables(ctx, "d1"); err != nil {
		t.Fatalf("failed to delete variables: %v", err)
	}

	if _, ok, _ := store.GetVariable(ctx, engine.DeploymentScope("d1"), "archive-id"); ok {
		t.Error("expected d1 variables to be deleted")
	}
	if _, ok, _ := store.GetVariable(ctx, engine.DeploymentScope("d2"), "archive-id"); !ok {
		t.Error("expected d2 variables to be kept")
	}
}

// TestRunnerPersistence drives steps through the engine runner with the
// store as both variable store and event sink.
func TestRunnerPersistence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	runner := engine.NewRunner(store, store)

	start := &countingStep{name: "start-app[web]", polls: 1}
	stop := &countingStep{name: "stop-app[web]"}

	for _, step := range []*countingStep{stop, start, start} {
		runner.RunStep(ctx, "d1", step)
	}

	records, err := store.ListStepRecords(ctx, "d1")
	if err != nil {
		t.Fatalf("failed to list step records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 step records, got %d", len(records))
	}
	if records[0].StepName != "stop-app[web]" || records[1].StepName != "start-app[web]" {
		t.Errorf("unexpected record order: %s, %s", records[0].StepName, records[1].StepName)
	}
	for _, rec := range records {
		if rec.Phase != engine.PhaseDone {
			t.Errorf("step %s: expected phase %s, got %s", rec.StepName, engine.PhaseDone, rec.Phase)
		}
		if rec.StartTimestamp.IsZero() {
			t.Errorf("step %s: expected start timestamp", rec.StepName)
		}
	}

	events, err := store.ListEvents(ctx, "d1", 100, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	// stop: started, completed; start: started, polling, completed
	want := []engine.EventType{
		engine.EventStepStarted, engine.EventStepCompleted,
		engine.EventStepStarted, engine.EventStepPolling, engine.EventStepCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, event := range events {
		if event.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], event.Type)
		}
		if event.DeploymentID != "d1" {
			t.Errorf("event %d: unexpected deployment %s", i, event.DeploymentID)
		}
	}

	page, err := store.ListEvents(ctx, "d1", 2, 3)
	if err != nil {
		t.Fatalf("failed to page events: %v", err)
	}
	if len(page) != 2 || page[0].ID != events[3].ID {
		t.Error("unexpected event page")
	}
}

func TestAppendEvent_Data(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	event := &engine.Event{
		ID:           "e1",
		DeploymentID: "d1",
		StepName:     "bind-service[web/db]",
		Type:         engine.EventStepFailed,
		Phase:        engine.PhaseFailed,
		Message:      "Step failed",
		Data:         []byte(`{"error":"service not found"}`),
		Timestamp:    time.Now(),
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.ListEvents(ctx, "d1", 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"error":"service not found"}` {
		t.Errorf("unexpected data: %s", events[0].Data)
	}
	if events[0].Phase != engine.PhaseFailed {
		t.Errorf("unexpected phase: %s", events[0].Phase)
	}

	// IDs are unique
	if err := store.AppendEvent(ctx, event); err == nil {
		t.Error("expected duplicate event ID to fail")
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.StartDeployment(ctx, "d1", "deploy.yaml"); err != nil {
		t.Fatalf("failed to start deployment: %v", err)
	}

	d, err := store.GetDeployment(ctx, "d1")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if d.Status != DeploymentStatusRunning || d.CompletedAt != nil {
		t.Errorf("expected running deployment, got %s", d.Status)
	}

	err = store.CompleteDeployment(ctx, "d1", Completion{
		Status:       DeploymentStatusFailed,
		FailedStep:   "bind-service[web/db]",
		Error:        "service not found",
		PlatformTime: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to complete deployment: %v", err)
	}

	d, err = store.GetDeployment(ctx, "d1")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if d.Status != DeploymentStatusFailed {
		t.Errorf("expected failed, got %s", d.Status)
	}
	if d.CompletedAt == nil {
		t.Error("expected completion time")
	}
	if d.FailedStep == nil || *d.FailedStep != "bind-service[web/db]" {
		t.Error("expected failed step")
	}
	if d.PlatformTimeMS != 1500 {
		t.Errorf("expected 1500 ms platform time, got %d", d.PlatformTimeMS)
	}

	// Resuming resets the outcome
	if err := store.StartDeployment(ctx, "d1", "deploy.yaml"); err != nil {
		t.Fatalf("failed to restart deployment: %v", err)
	}
	d, _ = store.GetDeployment(ctx, "d1")
	if d.Status != DeploymentStatusRunning || d.FailedStep != nil || d.Error != nil {
		t.Error("expected restarted deployment to be running without outcome")
	}

	if err := store.CompleteDeployment(ctx, "d1", Completion{Status: DeploymentStatusRunning}); err == nil {
		t.Error("expected non-terminal completion to fail")
	}
	if err := store.CompleteDeployment(ctx, "missing", Completion{Status: DeploymentStatusSucceeded}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDeployments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		at := base.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return at }
		if err := store.StartDeployment(ctx, id, ""); err != nil {
			t.Fatalf("failed to start deployment %s: %v", id, err)
		}
	}

	deployments, err := store.ListDeployments(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(deployments) != 2 {
		t.Fatalf("expected 2 deployments, got %d", len(deployments))
	}
	if deployments[0].ID != "d3" || deployments[1].ID != "d2" {
		t.Errorf("expected most recent first, got %s, %s", deployments[0].ID, deployments[1].ID)
	}
}

func TestDeleteDeployment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.StartDeployment(ctx, "d1", ""); err != nil {
		t.Fatalf("failed to start deployment: %v", err)
	}
	engine.NewRunner(store, store).RunStep(ctx, "d1", &countingStep{name: "delete-app[old]"})

	if err := store.DeleteDeployment(ctx, "d1"); err != nil {
		t.Fatalf("failed to delete deployment: %v", err)
	}

	if _, err := store.GetDeployment(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	records, _ := store.ListStepRecords(ctx, "d1")
	if len(records) != 0 {
		t.Error("expected step records to be deleted")
	}
	events, _ := store.ListEvents(ctx, "d1", 10, 0)
	if len(events) != 0 {
		t.Error("expected events to be deleted")
	}

	if err := store.DeleteDeployment(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfdeploy.db")
	ctx := context.Background()

	open := func() *SQLiteStore {
		store, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		return store
	}

	store := open()
	if err := engine.SetVariable(ctx, store, engine.DeploymentScope("d1"), engine.Var[string]("archive-id"), "a1"); err != nil {
		t.Fatalf("failed to set variable: %v", err)
	}
	_ = store.Close()

	store = open()
	defer store.Close()
	got, err := engine.GetVariable(ctx, store, engine.DeploymentScope("d1"), engine.Var[string]("archive-id"))
	if err != nil {
		t.Fatalf("failed to get variable: %v", err)
	}
	if got != "a1" {
		t.Errorf("expected a1, got %q", got)
	}
}

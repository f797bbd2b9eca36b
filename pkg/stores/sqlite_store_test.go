package stores

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/orgsync/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
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

func createTestRun(t *testing.T, store *SQLiteStore, id string, startedAt time.Time) *Run {
	t.Helper()

	run := &Run{
		ID:            id,
		Phase:         engine.PhaseSync,
		Status:        engine.RunStatusRunning,
		ResourceTypes: []string{"monitors", "roles"},
		StartedAt:     startedAt,
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewSQLiteStore_MemorySingleConnection(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath, MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("expected a single connection for :memory:, got %d", store.cfg.MaxOpenConns)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
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

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "operations"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// a second migration is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	createTestRun(t, store, "run-file", time.Now().UTC())
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-file"); err != nil {
		t.Fatalf("run did not survive reopen: %v", err)
	}
}

// TestRunLifecycle tests creating, finishing and fetching a run
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	createTestRun(t, store, "run-001", started)

	run, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Phase != engine.PhaseSync {
		t.Errorf("expected phase sync, got %s", run.Phase)
	}
	if run.Status != engine.RunStatusRunning {
		t.Errorf("expected status running, got %s", run.Status)
	}
	if strings.Join(run.ResourceTypes, ",") != "monitors,roles" {
		t.Errorf("unexpected resource types %v", run.ResourceTypes)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, run.StartedAt)
	}
	if run.CompletedAt != nil {
		t.Errorf("expected no completed_at, got %v", run.CompletedAt)
	}
	if run.Summary != "[]" {
		t.Errorf("expected empty summary, got %s", run.Summary)
	}

	if err := store.FinishRun(ctx, "run-001", engine.RunStatusPartial, 2, `[{"type":"monitors"}]`); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	run, err = store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.RunStatusPartial {
		t.Errorf("expected status partial, got %s", run.Status)
	}
	if run.ErrorCount != 2 {
		t.Errorf("expected 2 errors, got %d", run.ErrorCount)
	}
	if run.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if run.Summary != `[{"type":"monitors"}]` {
		t.Errorf("unexpected summary %s", run.Summary)
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); err == nil {
		t.Error("expected error for missing run")
	}
	if err := store.FinishRun(ctx, "missing", engine.RunStatusSucceeded, 0, ""); err == nil {
		t.Error("expected error finishing missing run")
	}
	if err := store.DeleteRun(ctx, "missing"); err == nil {
		t.Error("expected error deleting missing run")
	}
}

func TestCreateRun_DuplicateID(t *testing.T) {
	store := setupTestStore(t)

	createTestRun(t, store, "run-dup", time.Now().UTC())
	err := store.CreateRun(context.Background(), &Run{
		ID:        "run-dup",
		Phase:     engine.PhaseImport,
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected error for duplicate run id")
	}
}

// TestListRuns tests ordering and pagination
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	createTestRun(t, store, "run-a", base)
	createTestRun(t, store, "run-b", base.Add(time.Minute))
	createTestRun(t, store, "run-c", base.Add(2*time.Minute))

	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("expected most recent first, got %s..%s", runs[0].ID, runs[2].ID)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 1 || page[0].ID != "run-b" {
		t.Errorf("expected page [run-b], got %+v", page)
	}
}

// TestOperations tests appending and filtering operations
func TestOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "run-ops", time.Now().UTC())

	failure := "status 500"
	ops := []*Operation{
		{RunID: "run-ops", ResourceType: "roles", ResourceKey: "r1", Action: engine.ActionCreate, Outcome: engine.OutcomeSucceeded, DurationMs: 12},
		{RunID: "run-ops", ResourceType: "monitors", ResourceKey: "1", Action: engine.ActionUpdate, Outcome: engine.OutcomeSucceeded, Changes: 3},
		{RunID: "run-ops", ResourceType: "monitors", ResourceKey: "2", Action: engine.ActionCreate, Outcome: engine.OutcomeFailed, Error: &failure},
	}
	for _, op := range ops {
		if err := store.AppendOperation(ctx, op); err != nil {
			t.Fatalf("failed to append operation: %v", err)
		}
		if op.ID == 0 {
			t.Error("expected operation ID to be assigned")
		}
	}

	all, err := store.ListOperations(ctx, "run-ops", OperationFilter{})
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(all))
	}
	if all[0].ResourceKey != "r1" || all[1].Changes != 3 {
		t.Errorf("operations out of order: %+v", all)
	}
	if all[0].Error != nil {
		t.Errorf("expected nil error, got %v", *all[0].Error)
	}
	if all[2].Error == nil || *all[2].Error != failure {
		t.Errorf("expected error %q, got %v", failure, all[2].Error)
	}

	monitors, err := store.ListOperations(ctx, "run-ops", OperationFilter{ResourceType: "monitors"})
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(monitors) != 2 {
		t.Errorf("expected 2 monitor operations, got %d", len(monitors))
	}

	failed, err := store.ListOperations(ctx, "run-ops", OperationFilter{Outcome: engine.OutcomeFailed})
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(failed) != 1 || failed[0].ResourceKey != "2" {
		t.Errorf("expected the failed monitor, got %+v", failed)
	}

	paged, err := store.ListOperations(ctx, "run-ops", OperationFilter{Limit: 1, Offset: 2})
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(paged) != 1 || paged[0].ResourceKey != "2" {
		t.Errorf("expected third operation, got %+v", paged)
	}
}

func TestAppendOperation_UnknownRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendOperation(context.Background(), &Operation{
		RunID:        "nope",
		ResourceType: "monitors",
		ResourceKey:  "1",
		Action:       engine.ActionCreate,
		Outcome:      engine.OutcomeSucceeded,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestDeleteRun_CascadesOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "run-del", time.Now().UTC())
	err := store.AppendOperation(ctx, &Operation{
		RunID:        "run-del",
		ResourceType: "monitors",
		ResourceKey:  "1",
		Action:       engine.ActionDelete,
		Outcome:      engine.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatalf("failed to append operation: %v", err)
	}

	if err := store.DeleteRun(ctx, "run-del"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&count); err != nil {
		t.Fatalf("failed to count operations: %v", err)
	}
	if count != 0 {
		t.Errorf("expected operations to be deleted, %d remain", count)
	}
}

func TestRecorder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := NewRecorder(store)

	types := []engine.ResourceType{"roles", "users"}
	if err := rec.RunStarted(ctx, "run-rec", engine.PhaseMigrate, types); err != nil {
		t.Fatalf("RunStarted failed: %v", err)
	}

	err := rec.OperationCompleted(ctx, engine.OperationRecord{
		RunID:     "run-rec",
		Type:      "users",
		Key:       "u1",
		Action:    engine.ActionCreate,
		Outcome:   engine.OutcomeFailed,
		Error:     "conflict",
		Duration:  1500 * time.Millisecond,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("OperationCompleted failed: %v", err)
	}

	result := &engine.RunResult{
		RunID:      "run-rec",
		Phase:      engine.PhaseMigrate,
		Status:     engine.RunStatusPartial,
		ErrorCount: 1,
		Types:      []engine.TypeSummary{{Type: "users", Created: 0, Failed: 1}},
	}
	if err := rec.RunFinished(ctx, result); err != nil {
		t.Fatalf("RunFinished failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-rec")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Phase != engine.PhaseMigrate || run.Status != engine.RunStatusPartial {
		t.Errorf("unexpected run %+v", run)
	}
	if strings.Join(run.ResourceTypes, ",") != "roles,users" {
		t.Errorf("unexpected resource types %v", run.ResourceTypes)
	}

	var summaries []engine.TypeSummary
	if err := json.Unmarshal([]byte(run.Summary), &summaries); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Failed != 1 {
		t.Errorf("unexpected summary %+v", summaries)
	}

	ops, err := store.ListOperations(ctx, "run-rec", OperationFilter{})
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	if ops[0].DurationMs != 1500 {
		t.Errorf("expected 1500ms, got %d", ops[0].DurationMs)
	}
	if ops[0].Error == nil || *ops[0].Error != "conflict" {
		t.Errorf("expected error conflict, got %v", ops[0].Error)
	}
}

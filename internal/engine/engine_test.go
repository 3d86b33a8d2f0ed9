package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/cpm"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "2026-03-01T00:00:00Z", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) seedSkill(t *testing.T, id string) {
	t.Helper()
	if _, err := env.Engine.CreateSkill(env.Ctx, domain.Skill{ID: id, Name: id}, "tester"); err != nil {
		t.Fatalf("create skill %s: %v", id, err)
	}
}

func (env testEnv) seedPerson(t *testing.T, id string, capacity int) {
	t.Helper()
	if _, err := env.Engine.CreatePerson(env.Ctx, domain.Person{ID: id, Name: id, MaxConcurrentTasks: capacity}, "tester"); err != nil {
		t.Fatalf("create person %s: %v", id, err)
	}
}

func (env testEnv) seedHistory(t *testing.T, personID, skillID string, hours float64, completedAt string) {
	t.Helper()
	rec := domain.WorkRecord{PersonID: personID, SkillID: skillID, Hours: hours, Weight: 1, CompletedAt: completedAt}
	if _, err := env.Engine.AddWorkRecord(env.Ctx, rec, "tester"); err != nil {
		t.Fatalf("add history %s/%s: %v", personID, skillID, err)
	}
}

// busyElsewhere gives the person one in-progress task in a separate project.
// With one of three capacity slots taken, availability drops to 0.8 and a
// zero-experience candidate scores below the 0.3 confidence floor.
func (env testEnv) busyElsewhere(t *testing.T, personID, taskID string) {
	t.Helper()
	projID := "busy-proj-" + taskID
	if _, err := env.Engine.InitProject(env.Ctx, projID, projID, "2026-03-01T00:00:00Z", "tester"); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: taskID, ProjectID: projID, Name: taskID, EstimatedHours: 8, AssigneeID: personID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:      "proj-1",
		Name:           "Do work",
		EstimatedHours: 4,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress", ActorID: "tester"})
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "review", ActorID: "tester"})
	if err != nil || task.Status != "review" {
		t.Fatalf("to review: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester"})
	if err != nil || task.Status != "done" {
		t.Fatalf("to done: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completed_at on done")
	}
	// done cannot reopen without force
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "todo", ActorID: "tester"}); err == nil {
		t.Fatalf("expected transition error")
	}
}

func TestCompletionFeedsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedPerson(t, "ana", 3)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:      "proj-1",
		Name:           "Build service",
		EstimatedHours: 6,
		SkillIDs:       []string{"go"},
		AssigneeID:     "ana",
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "done", ActorID: "tester", Force: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	recs, err := env.Engine.Repo.ListWorkRecords(env.Ctx, repo.WorkRecordFilters{PersonID: "ana"})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].SkillID != "go" || recs[0].Hours != 6 {
		t.Fatalf("unexpected record %+v", recs[0])
	}
}

func TestCreateRunAssignsAndSchedules(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedPerson(t, "p1", 3)
	env.seedPerson(t, "p2", 1)
	env.seedHistory(t, "p1", "go", 120, "2026-01-15T00:00:00Z")
	env.seedHistory(t, "p2", "go", 200, "2026-02-01T00:00:00Z")

	// p2 is busy on another project, zero slots left
	env.busyElsewhere(t, "p2", "busy-1")

	t1, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", ProjectID: "proj-1", Name: "first", EstimatedHours: 2, SkillIDs: []string{"go"}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t2", ProjectID: "proj-1", Name: "second", EstimatedHours: 3, SkillIDs: []string{"go"}, DependsOn: []string{t1.ID}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t3", ProjectID: "proj-1", Name: "third", EstimatedHours: 1, SkillIDs: []string{"go"}, DependsOn: []string{t1.ID}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if res.Run.Status != "draft" || res.Run.IsActive {
		t.Fatalf("expected inactive draft, got %s active=%v", res.Run.Status, res.Run.IsActive)
	}
	if res.Run.AssignmentCount != 3 || res.Run.UnassignedCount != 0 {
		t.Fatalf("expected 3 assignments, got %d assigned %d unassigned", res.Run.AssignmentCount, res.Run.UnassignedCount)
	}
	if res.Run.MakespanHours != 5 {
		t.Fatalf("makespan = %v, want 5", res.Run.MakespanHours)
	}
	if len(res.Run.CriticalPath) != 2 || res.Run.CriticalPath[0] != "t1" || res.Run.CriticalPath[1] != "t2" {
		t.Fatalf("critical path = %v, want [t1 t2]", res.Run.CriticalPath)
	}
	byTask := map[string]domain.ScheduleDetail{}
	for _, d := range res.Details {
		byTask[d.TaskID] = d
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		d, ok := byTask[id]
		if !ok || d.PersonID == nil {
			t.Fatalf("task %s missing assignment", id)
		}
		// p2 has zero free slots so everything lands on p1
		if *d.PersonID != "p1" {
			t.Fatalf("task %s assigned to %s, want p1", id, *d.PersonID)
		}
	}
	if got := byTask["t3"].SlackHours; got != 2 {
		t.Fatalf("t3 slack = %v, want 2", got)
	}
	if !byTask["t1"].IsCritical || !byTask["t2"].IsCritical || byTask["t3"].IsCritical {
		t.Fatalf("critical flags wrong: %+v", byTask)
	}
	if byTask["t1"].StartTS != "2026-03-01T00:00:00Z" {
		t.Fatalf("t1 start = %s", byTask["t1"].StartTS)
	}
	// 2 working hours at 8h/day is 6 calendar hours
	if byTask["t1"].FinishTS != "2026-03-01T06:00:00Z" {
		t.Fatalf("t1 finish = %s", byTask["t1"].FinishTS)
	}
}

func TestCreateRunUnassignedReasons(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedSkill(t, "ml")
	env.seedPerson(t, "p1", 3)
	env.seedHistory(t, "p1", "go", 100, "2026-02-01T00:00:00Z")
	env.busyElsewhere(t, "p1", "busy-1")

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t-ml", ProjectID: "proj-1", Name: "train model", EstimatedHours: 8, SkillIDs: []string{"ml"}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if len(res.Unassigned) != 1 {
		t.Fatalf("expected 1 unassigned, got %+v", res.Unassigned)
	}
	// p1 has go history, so the matrix has signal; the ml task just has no
	// candidate clearing the confidence floor
	if res.Unassigned[0].Reason != domain.ReasonBelowThreshold {
		t.Fatalf("reason = %s, want %s", res.Unassigned[0].Reason, domain.ReasonBelowThreshold)
	}
}

func TestCreateRunNoSkillsData(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedPerson(t, "p1", 3)
	env.busyElsewhere(t, "p1", "busy-1")
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", ProjectID: "proj-1", Name: "task", EstimatedHours: 4, SkillIDs: []string{"go"}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if len(res.Unassigned) != 1 || res.Unassigned[0].Reason != domain.ReasonNoSkillsData {
		t.Fatalf("expected %s, got %+v", domain.ReasonNoSkillsData, res.Unassigned)
	}
}

func TestCycleAbortsRun(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "a", ProjectID: "proj-1", Name: "a", EstimatedHours: 1, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "b", ProjectID: "proj-1", Name: "b", EstimatedHours: 1, DependsOn: []string{a.ID}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// engine refuses the closing edge and rolls it back
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: a.ID, AddDeps: []string{b.ID}, ActorID: "tester"})
	var cycleErr *cpm.CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	if len(cycleErr.Cycle) == 0 {
		t.Fatalf("cycle error carries no task sequence")
	}
	// the edge was rolled back so a run still succeeds
	if _, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"}); err != nil {
		t.Fatalf("run after rollback: %v", err)
	}

	// a cycle written behind the engine's back aborts the run with no rows
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.AddDependencies(env.Ctx, tx, a.ID, []string{b.ID}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	before, _ := env.Engine.Repo.ListRuns(env.Ctx, "proj-1")
	_, err = env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	after, _ := env.Engine.Repo.ListRuns(env.Ctx, "proj-1")
	if len(after) != len(before) {
		t.Fatalf("cycle wrote a run: %d -> %d", len(before), len(after))
	}
}

func TestAcceptRunLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedPerson(t, "p1", 3)
	env.seedHistory(t, "p1", "go", 100, "2026-02-01T00:00:00Z")
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", ProjectID: "proj-1", Name: "t1", EstimatedHours: 2, SkillIDs: []string{"go"}, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	first, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	// someone else cannot accept without force
	if _, err := env.Engine.AcceptRun(env.Ctx, first.Run.ID, "intruder", false); err == nil {
		t.Fatalf("expected authorization error")
	} else {
		var authErr engine.AuthorizationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthorizationError, got %v", err)
		}
	}

	accepted, err := env.Engine.AcceptRun(env.Ctx, first.Run.ID, "tester", false)
	if err != nil {
		t.Fatalf("accept first: %v", err)
	}
	if accepted.Status != "approved" || !accepted.IsActive {
		t.Fatalf("first run not active: %+v", accepted)
	}

	// accepting the second archives the first, exactly one stays active
	if _, err := env.Engine.AcceptRun(env.Ctx, second.Run.ID, "tester", false); err != nil {
		t.Fatalf("accept second: %v", err)
	}
	runs, err := env.Engine.Repo.ListRuns(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, r := range runs {
		if r.IsActive {
			active++
			if r.ID != second.Run.ID {
				t.Fatalf("wrong active run %s", r.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active runs = %d, want 1", active)
	}
	firstNow, err := env.Engine.Repo.GetRun(env.Ctx, first.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if firstNow.Status != "archived" || firstNow.IsActive {
		t.Fatalf("first run not archived: %+v", firstNow)
	}

	// archived runs cannot come back
	_, err = env.Engine.AcceptRun(env.Ctx, first.Run.ID, "tester", true)
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestDiscardRun(t *testing.T) {
	env := newTestEnv(t)
	env.seedPerson(t, "p1", 3)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "t1", ProjectID: "proj-1", Name: "t1", EstimatedHours: 2, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DiscardRun(env.Ctx, res.Run.ID, "tester", false); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := env.Engine.Repo.GetRun(env.Ctx, res.Run.ID); err == nil {
		t.Fatalf("run still present after discard")
	}

	// accepted runs are not discardable
	res2, err := env.Engine.CreateRun(env.Ctx, engine.RunCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptRun(env.Ctx, res2.Run.ID, "tester", false); err != nil {
		t.Fatal(err)
	}
	err = env.Engine.DiscardRun(env.Ctx, res2.Run.ID, "tester", false)
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestRecommend(t *testing.T) {
	env := newTestEnv(t)
	env.seedSkill(t, "go")
	env.seedPerson(t, "strong", 3)
	env.seedPerson(t, "weak", 3)
	env.seedHistory(t, "strong", "go", 200, "2026-02-15T00:00:00Z")
	env.seedHistory(t, "weak", "go", 5, "2024-01-01T00:00:00Z")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Name: "build", EstimatedHours: 4, SkillIDs: []string{"go"}, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.Recommend(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(rec.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(rec.Candidates))
	}
	if rec.Candidates[0].PersonID != "strong" {
		t.Fatalf("top candidate = %s, want strong", rec.Candidates[0].PersonID)
	}
	if rec.Candidates[0].Fit <= rec.Candidates[1].Fit {
		t.Fatalf("ranking not descending: %+v", rec.Candidates)
	}
}

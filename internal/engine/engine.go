package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planline/internal/assign"
	"planline/internal/config"
	"planline/internal/cpm"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/experience"
	"planline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AuthorizationError means the actor may not act on the run.
type AuthorizationError struct {
	ActorID string
	RunID   string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not allowed to act on run %s", e.ActorID, e.RunID)
}

// ConflictError wraps a lost transactional race or an invalid lifecycle
// transition; callers may retry.
type ConflictError struct {
	Op  string
	Err error
}

func (e ConflictError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e ConflictError) Unwrap() error { return e.Err }

// InitProject creates a project plus its default optimization prefs.
func (e Engine) InitProject(ctx context.Context, projectID, name, startDate, actorID string) (domain.Project, error) {
	now := e.now().UTC()
	if startDate == "" {
		startDate = now.Format(time.RFC3339)
	}
	if _, err := time.Parse(time.RFC3339, startDate); err != nil {
		return domain.Project{}, fmt.Errorf("start_date: %w", err)
	}
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        projectID,
		Name:      name,
		Status:    "active",
		StartDate: startDate,
		CreatedAt: now.Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,start_date,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, p.StartDate, p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectPrefsTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project prefs: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Event{Type: "project.init", ProjectID: p.ID, Entity: "project", EntityID: p.ID, Actor: actorID, Payload: map[string]any{"status": p.Status}}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateSkill registers reference data; upsert by id.
func (e Engine) CreateSkill(ctx context.Context, s domain.Skill, actorID string) (domain.Skill, error) {
	if s.ID == "" || s.Name == "" {
		return s, errors.New("id and name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO skills(id,name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, s.ID, s.Name); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{Type: "skill.upserted", Entity: "skill", EntityID: s.ID, Actor: actorID, Payload: map[string]any{"name": s.Name}}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// CreatePerson registers a person with a concurrency capacity. Zero capacity
// falls back to the configured default.
func (e Engine) CreatePerson(ctx context.Context, p domain.Person, actorID string) (domain.Person, error) {
	if p.ID == "" {
		return p, errors.New("id required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.MaxConcurrentTasks <= 0 {
		p.MaxConcurrentTasks = e.defaultCapacity()
	}
	p.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO people(id,name,max_concurrent_tasks,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, p.MaxConcurrentTasks, p.CreatedAt); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{Type: "person.created", Entity: "person", EntityID: p.ID, Actor: actorID, Payload: map[string]any{"capacity": p.MaxConcurrentTasks}}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (e Engine) defaultCapacity() int {
	if e.Config != nil && e.Config.Assignment.DefaultMaxConcurrentTasks > 0 {
		return e.Config.Assignment.DefaultMaxConcurrentTasks
	}
	return 3
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	ProjectID      string
	Name           string
	Description    string
	EstimatedHours float64
	SkillIDs       []string
	DependsOn      []string
	AssigneeID     string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.EstimatedHours < 0 {
		return domain.Task{}, errors.New("estimated_hours must be >= 0")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	for _, s := range opts.SkillIDs {
		if _, err := e.Repo.GetSkill(ctx, s); err != nil {
			return domain.Task{}, fmt.Errorf("skill %s: %w", s, err)
		}
	}
	for _, d := range opts.DependsOn {
		dep, err := e.Repo.GetTask(ctx, d)
		if err != nil {
			return domain.Task{}, fmt.Errorf("dependency %s: %w", d, err)
		}
		if dep.ProjectID != opts.ProjectID {
			return domain.Task{}, fmt.Errorf("dependency %s not in project %s", d, opts.ProjectID)
		}
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Name+"|"+now)).String()
	}
	t := domain.Task{
		ID:             id,
		ProjectID:      opts.ProjectID,
		Name:           opts.Name,
		Description:    opts.Description,
		Status:         "todo",
		AssigneeID:     optionalString(opts.AssigneeID),
		EstimatedHours: opts.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if len(opts.SkillIDs) > 0 {
		if err := e.Repo.SetTaskSkills(ctx, tx, t.ID, opts.SkillIDs); err != nil {
			return domain.Task{}, err
		}
	}
	if len(opts.DependsOn) > 0 {
		if err := e.Repo.AddDependencies(ctx, tx, t.ID, opts.DependsOn); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Event{Type: "task.created", ProjectID: t.ProjectID, Entity: "task", EntityID: t.ID, Actor: opts.ActorID, Payload: map[string]any{"name": t.Name, "status": t.Status}}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if err := e.ensureAcyclic(ctx, t.ProjectID); err != nil {
		// roll the edges back rather than leave an unschedulable project
		if len(opts.DependsOn) > 0 {
			if tx2, err2 := e.DB.BeginTx(ctx, nil); err2 == nil {
				if e.Repo.RemoveDependencies(ctx, tx2, t.ID, opts.DependsOn) == nil {
					_ = tx2.Commit()
				} else {
					_ = tx2.Rollback()
				}
			}
		}
		return domain.Task{}, err
	}
	t.SkillIDs = opts.SkillIDs
	t.DependsOn = opts.DependsOn
	return t, nil
}

// ensureAcyclic validates the project's dependency graph; a cycle surfaces
// as a *cpm.CircularDependencyError.
func (e Engine) ensureAcyclic(ctx context.Context, projectID string) error {
	tasks, err := e.Repo.SchedulableTasks(ctx, projectID)
	if err != nil {
		return err
	}
	_, err = cpm.Solve(cpmTasks(tasks))
	return err
}

func cpmTasks(tasks []domain.Task) []cpm.Task {
	out := make([]cpm.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, cpm.Task{ID: t.ID, DurationHours: t.EstimatedHours, DependsOn: t.DependsOn})
	}
	return out
}

// TaskUpdateOptions encapsulates allowed updates.
type TaskUpdateOptions struct {
	ID             string
	Status         string
	Assign         *string
	EstimatedHours *float64
	SetSkills      *[]string
	AddDeps        []string
	RemoveDeps     []string
	ActorID        string
	Force          bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if opts.Assign != nil {
		if *opts.Assign == "" {
			t.AssigneeID = nil
		} else {
			if _, err := e.Repo.GetPerson(ctx, *opts.Assign); err != nil {
				return t, fmt.Errorf("assignee %s: %w", *opts.Assign, err)
			}
			t.AssigneeID = opts.Assign
		}
	}
	if opts.EstimatedHours != nil {
		if *opts.EstimatedHours < 0 {
			return t, errors.New("estimated_hours must be >= 0")
		}
		t.EstimatedHours = *opts.EstimatedHours
	}
	if opts.Status != "" && opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, opts.Status, opts.Force); err != nil {
			return t, err
		}
		t.Status = opts.Status
		if opts.Status == "done" {
			now := e.now().UTC().Format(time.RFC3339)
			t.CompletedAt = &now
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if opts.SetSkills != nil {
		for _, s := range *opts.SetSkills {
			if _, err := e.Repo.GetSkill(ctx, s); err != nil {
				return t, fmt.Errorf("skill %s: %w", s, err)
			}
		}
		if err := e.Repo.SetTaskSkills(ctx, tx, t.ID, *opts.SetSkills); err != nil {
			return t, err
		}
		t.SkillIDs = *opts.SetSkills
	}
	if len(opts.AddDeps) > 0 {
		for _, d := range opts.AddDeps {
			dep, err := e.Repo.GetTask(ctx, d)
			if err != nil {
				return t, fmt.Errorf("dependency %s: %w", d, err)
			}
			if dep.ProjectID != t.ProjectID {
				return t, fmt.Errorf("dependency %s not in project", d)
			}
		}
		if err := e.Repo.AddDependencies(ctx, tx, t.ID, opts.AddDeps); err != nil {
			return t, err
		}
	}
	if len(opts.RemoveDeps) > 0 {
		if err := e.Repo.RemoveDependencies(ctx, tx, t.ID, opts.RemoveDeps); err != nil {
			return t, err
		}
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	// completing a task feeds the experience history, one record per skill
	if t.Status == "done" && original.Status != "done" {
		for _, skill := range skillsAfterUpdate(original, opts) {
			rec := domain.WorkRecord{
				PersonID:    derefOr(t.AssigneeID, opts.ActorID),
				SkillID:     skill,
				ProjectID:   t.ProjectID,
				TaskID:      t.ID,
				Hours:       t.EstimatedHours,
				Weight:      1,
				CompletedAt: *t.CompletedAt,
			}
			if rec.Hours <= 0 {
				continue
			}
			if err := e.Repo.InsertWorkRecord(ctx, tx, rec); err != nil {
				return t, err
			}
		}
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "task.updated", ProjectID: t.ProjectID, Entity: "task", EntityID: t.ID, Actor: opts.ActorID,
		Payload: map[string]any{
			"from_status": original.Status,
			"to_status":   t.Status,
		},
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	if len(opts.AddDeps) > 0 {
		if err := e.ensureAcyclic(ctx, t.ProjectID); err != nil {
			if tx2, err2 := e.DB.BeginTx(ctx, nil); err2 == nil {
				if e.Repo.RemoveDependencies(ctx, tx2, t.ID, opts.AddDeps) == nil {
					_ = tx2.Commit()
				} else {
					_ = tx2.Rollback()
				}
			}
			return t, err
		}
	}
	t.DependsOn, _ = e.Repo.ListTaskDependencies(ctx, t.ID)
	t.SkillIDs, _ = e.Repo.ListTaskSkills(ctx, t.ID)
	return t, nil
}

func skillsAfterUpdate(original domain.Task, opts TaskUpdateOptions) []string {
	if opts.SetSkills != nil {
		return *opts.SetSkills
	}
	return original.SkillIDs
}

func ensureTaskTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "todo":
		if newStatus == "in_progress" || newStatus == "blocked" || newStatus == "archived" {
			return nil
		}
	case "in_progress":
		if newStatus == "todo" || newStatus == "blocked" || newStatus == "review" {
			return nil
		}
	case "blocked":
		if newStatus == "todo" || newStatus == "in_progress" {
			return nil
		}
	case "review":
		if newStatus == "in_progress" || newStatus == "done" {
			return nil
		}
	case "done":
		if newStatus == "archived" {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// AddWorkRecord imports one historical completion signal.
func (e Engine) AddWorkRecord(ctx context.Context, rec domain.WorkRecord, actorID string) (domain.WorkRecord, error) {
	if rec.PersonID == "" || rec.SkillID == "" {
		return rec, errors.New("person_id and skill_id required")
	}
	if rec.Hours <= 0 {
		return rec, errors.New("hours must be > 0")
	}
	if rec.Weight <= 0 {
		rec.Weight = 1
	}
	if rec.CompletedAt == "" {
		rec.CompletedAt = e.now().UTC().Format(time.RFC3339)
	}
	if _, err := time.Parse(time.RFC3339, rec.CompletedAt); err != nil {
		return rec, fmt.Errorf("completed_at: %w", err)
	}
	if _, err := e.Repo.GetPerson(ctx, rec.PersonID); err != nil {
		return rec, fmt.Errorf("person %s: %w", rec.PersonID, err)
	}
	if _, err := e.Repo.GetSkill(ctx, rec.SkillID); err != nil {
		return rec, fmt.Errorf("skill %s: %w", rec.SkillID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkRecord(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "history.added", ProjectID: rec.ProjectID, Entity: "work_record", EntityID: rec.SkillID, Actor: actorID,
		Payload: map[string]any{
			"person_id": rec.PersonID,
			"hours":     rec.Hours,
		},
	}); err != nil {
		return rec, err
	}
	return rec, tx.Commit()
}

// Snapshot is the frozen optimization input for one project.
type Snapshot struct {
	Project domain.Project
	Prefs   *config.Config
	Tasks   []domain.Task
	People  []domain.Person
	Skills  []domain.Skill
	Records []domain.WorkRecord
}

// LoadSnapshot reads everything a solve needs in one place. People with no
// explicit capacity get the configured default. The solver never touches the
// store afterwards.
func (e Engine) LoadSnapshot(ctx context.Context, projectID string) (Snapshot, error) {
	var snap Snapshot
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return snap, err
	}
	snap.Project = p
	prefs, err := e.Repo.GetProjectPrefs(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		prefs = config.Default(projectID)
	} else if err != nil {
		return snap, err
	}
	snap.Prefs = prefs
	if snap.Tasks, err = e.Repo.SchedulableTasks(ctx, projectID); err != nil {
		return snap, err
	}
	if snap.People, err = e.Repo.ListPeople(ctx); err != nil {
		return snap, err
	}
	for i := range snap.People {
		if snap.People[i].MaxConcurrentTasks <= 0 {
			snap.People[i].MaxConcurrentTasks = prefs.Assignment.DefaultMaxConcurrentTasks
		}
	}
	if snap.Skills, err = e.Repo.ListSkills(ctx); err != nil {
		return snap, err
	}
	if snap.Records, err = e.Repo.ListWorkRecords(ctx, repo.WorkRecordFilters{}); err != nil {
		return snap, err
	}
	return snap, nil
}

func solverOptions(prefs *config.Config) assign.Options {
	opts := assign.DefaultOptions()
	if prefs == nil {
		return opts
	}
	opts.Weights = prefs.Assignment.Weights
	opts.MinConfidence = prefs.Assignment.MinConfidence
	opts.SpecializationThreshold = prefs.Assignment.SpecializationThreshold
	opts.PriorityMode = prefs.Assignment.PriorityMode
	return opts
}

func experienceOptions(prefs *config.Config, contextProjectID string, now time.Time) experience.Options {
	opts := experience.Options{Now: now, ContextProjectID: contextProjectID}
	if prefs != nil {
		opts.HalfLifeDays = prefs.Experience.HalfLifeDays
		opts.SaturationHours = prefs.Experience.SaturationHours
		opts.ContextProjectBoost = prefs.Experience.ContextProjectBoost
	}
	return opts
}

// snapshotIDs lists every person and every known skill. Scoring all skills,
// not just the ones current tasks reference, keeps the degraded-mode check
// honest: an empty matrix means the workspace truly has no history.
func snapshotIDs(snap Snapshot) (personIDs, skillIDs []string) {
	for _, p := range snap.People {
		personIDs = append(personIDs, p.ID)
	}
	for _, s := range snap.Skills {
		skillIDs = append(skillIDs, s.ID)
	}
	return personIDs, skillIDs
}

// RunCreateOptions parameterize one optimization pass.
type RunCreateOptions struct {
	ProjectID string
	Objective string
	ActorID   string
}

// RunResult is a created run plus its detail rows and unassigned reasons.
type RunResult struct {
	Run        domain.ScheduleRun
	Details    []domain.ScheduleDetail
	Unassigned []domain.UnassignedTask
}

// CreateRun executes the full optimization pass over a snapshot and persists
// the outcome as a draft ScheduleRun in a single transaction. Structural
// failures (dependency cycles) abort with nothing written.
func (e Engine) CreateRun(ctx context.Context, opts RunCreateOptions) (RunResult, error) {
	var out RunResult
	snap, err := e.LoadSnapshot(ctx, opts.ProjectID)
	if err != nil {
		return out, err
	}
	now := e.now().UTC()

	graph, err := cpm.Solve(cpmTasks(snap.Tasks))
	if err != nil {
		return out, err
	}

	personIDs, skillIDs := snapshotIDs(snap)
	matrix := experience.Compute(snap.Records, personIDs, skillIDs, experienceOptions(snap.Prefs, opts.ProjectID, now))
	solved := assign.Solve(snap.Tasks, snap.People, matrix, solverOptions(snap.Prefs))

	projectStart, err := time.Parse(time.RFC3339, snap.Project.StartDate)
	if err != nil {
		projectStart = now
	}
	hoursPerDay := snap.Prefs.CPM.HoursPerDay
	if hoursPerDay <= 0 {
		hoursPerDay = 8
	}

	assignedBy := map[string]domain.Assignment{}
	for _, a := range solved.Assignments {
		assignedBy[a.TaskID] = a
	}
	causeBy := map[string]string{}
	for _, u := range solved.Unassigned {
		causeBy[u.TaskID] = u.Reason
	}

	objective := opts.Objective
	if objective == "" {
		objective = "minimize_makespan"
	}
	constraints, err := json.Marshal(map[string]any{
		"min_confidence":           snap.Prefs.Assignment.MinConfidence,
		"priority_mode":            snap.Prefs.Assignment.PriorityMode,
		"weights":                  snap.Prefs.Assignment.Weights,
		"specialization_threshold": snap.Prefs.Assignment.SpecializationThreshold,
		"hours_per_day":            hoursPerDay,
		"people":                   len(snap.People),
		"tasks":                    len(snap.Tasks),
	})
	if err != nil {
		return out, err
	}
	constraintsJSON := string(constraints)

	run := domain.ScheduleRun{
		ID:                 uuid.New().String(),
		ProjectID:          opts.ProjectID,
		Status:             "draft",
		Algorithm:          "experience-hungarian-cpm",
		Objective:          objective,
		ConstraintsJSON:    &constraintsJSON,
		AssignmentCount:    len(solved.Assignments),
		UnassignedCount:    len(solved.Unassigned),
		MakespanHours:      graph.MakespanHours,
		CriticalPathLength: len(graph.CriticalPath),
		CriticalPath:       graph.CriticalPath,
		CreatedBy:          opts.ActorID,
		CreatedAt:          now.Format(time.RFC3339),
	}

	var details []domain.ScheduleDetail
	for _, node := range graph.Nodes {
		d := domain.ScheduleDetail{
			RunID:      run.ID,
			TaskID:     node.TaskID,
			StartTS:    offsetToTS(projectStart, node.EarliestStart, hoursPerDay),
			FinishTS:   offsetToTS(projectStart, node.EarliestFinish, hoursPerDay),
			SlackHours: node.Slack,
			IsCritical: node.IsCritical,
		}
		if a, ok := assignedBy[node.TaskID]; ok {
			personID := a.PersonID
			d.PersonID = &personID
			d.Confidence = a.ConfidenceScore
			d.ExperienceScore = a.ExperienceScore
		} else if cause, ok := causeBy[node.TaskID]; ok {
			c := cause
			d.UnassignedCause = &c
		}
		details = append(details, d)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run, details); err != nil {
		return out, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "run.created", ProjectID: run.ProjectID, Entity: "schedule_run", EntityID: run.ID, Actor: opts.ActorID,
		Payload: map[string]any{
			"assignments": run.AssignmentCount,
			"unassigned":  run.UnassignedCount,
			"makespan":    run.MakespanHours,
		},
	}); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	out.Run = run
	out.Details = details
	out.Unassigned = solved.Unassigned
	return out, nil
}

// offsetToTS converts CPM working-hour offsets to calendar timestamps,
// stretching each hours_per_day block over a full day.
func offsetToTS(start time.Time, hours, hoursPerDay float64) string {
	calendarHours := hours / hoursPerDay * 24
	return start.Add(time.Duration(calendarHours * float64(time.Hour))).UTC().Format(time.RFC3339)
}

// AcceptRun promotes a run to the single active schedule of its project,
// archiving the previously active run in the same transaction. Only the
// run's creator may accept it unless force is set.
func (e Engine) AcceptRun(ctx context.Context, runID, actorID string, force bool) (domain.ScheduleRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	defer tx.Rollback()

	run, err := e.Repo.GetRunTx(ctx, tx, runID)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	if run.Status == "archived" {
		return domain.ScheduleRun{}, ConflictError{Op: fmt.Sprintf("run %s already archived", runID)}
	}
	if run.IsActive {
		// idempotent accept
		return run, tx.Commit()
	}
	if !force && run.CreatedBy != actorID {
		return domain.ScheduleRun{}, AuthorizationError{ActorID: actorID, RunID: runID}
	}
	if err := e.Repo.ArchiveActiveRun(ctx, tx, run.ProjectID); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("archive active run: %w", err)
	}
	if err := e.Repo.ActivateRun(ctx, tx, runID); err != nil {
		return domain.ScheduleRun{}, wrapActivate(err)
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "run.accepted", ProjectID: run.ProjectID, Entity: "schedule_run", EntityID: runID, Actor: actorID,
		Payload: map[string]any{
			"previous_status": run.Status,
		},
	}); err != nil {
		return domain.ScheduleRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleRun{}, wrapActivate(err)
	}
	run.Status = "approved"
	run.IsActive = true
	return run, nil
}

// wrapActivate maps the unique-active-index violation onto ConflictError so
// callers can retry a lost accept race.
func wrapActivate(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
		return ConflictError{Op: "activate run", Err: err}
	}
	return err
}

// DiscardRun deletes a draft run and its details.
func (e Engine) DiscardRun(ctx context.Context, runID, actorID string, force bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run, err := e.Repo.GetRunTx(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Status != "draft" {
		return ConflictError{Op: fmt.Sprintf("run %s is %s, only drafts can be discarded", runID, run.Status)}
	}
	if !force && run.CreatedBy != actorID {
		return AuthorizationError{ActorID: actorID, RunID: runID}
	}
	if err := e.Repo.DeleteRun(ctx, tx, runID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{Type: "run.discarded", ProjectID: run.ProjectID, Entity: "schedule_run", EntityID: runID, Actor: actorID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Recommendation is a single-task candidate ranking for interactive use.
type Recommendation struct {
	TaskID        string
	MinConfidence float64
	Candidates    []assign.Candidate
}

// Recommend scores every person for one task without touching any run
// state, using the same scoring path as a full solve.
func (e Engine) Recommend(ctx context.Context, taskID string) (Recommendation, error) {
	var rec Recommendation
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return rec, err
	}
	snap, err := e.LoadSnapshot(ctx, t.ProjectID)
	if err != nil {
		return rec, err
	}
	personIDs, skillIDs := snapshotIDs(snap)
	matrix := experience.Compute(snap.Records, personIDs, skillIDs, experienceOptions(snap.Prefs, t.ProjectID, e.now().UTC()))
	rec.TaskID = taskID
	rec.MinConfidence = snap.Prefs.Assignment.MinConfidence
	rec.Candidates = assign.Rank(t, snap.People, matrix, solverOptions(snap.Prefs))
	return rec, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// schedulableStatuses is the SQL set of statuses that count as active work,
// both for solver input and for workload counting.
const schedulableStatuses = `('todo','in_progress','blocked','review')`

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,status,start_date,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, p.StartDate, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,start_date,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.StartDate, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,start_date,created_at FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.StartDate, &p.CreatedAt); err != nil {
			return domain.Project{}, err
		}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,start_date,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.StartDate, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, id string, name, status *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project prefs ---

func (r Repo) UpsertProjectPrefs(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectPrefs(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectPrefsTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectPrefs(ctx, nil, tx, projectID, cfg)
}

func upsertProjectPrefs(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("prefs nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_prefs(project_id,prefs_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET prefs_json=excluded.prefs_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectPrefs(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT prefs_json FROM project_prefs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// --- skills ---

func (r Repo) UpsertSkill(ctx context.Context, s domain.Skill) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO skills(id,name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, s.ID, s.Name)
	return err
}

func (r Repo) GetSkill(ctx context.Context, id string) (domain.Skill, error) {
	var s domain.Skill
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM skills WHERE id=?`, id).Scan(&s.ID, &s.Name)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM skills ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Skill
	for rows.Next() {
		var s domain.Skill
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// --- people ---

const personColumns = `p.id, p.name, p.max_concurrent_tasks, p.created_at,
(SELECT COUNT(*) FROM tasks t WHERE t.assignee_id = p.id AND t.status IN ` + schedulableStatuses + `) AS current_workload`

func (r Repo) InsertPerson(ctx context.Context, p domain.Person) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO people(id,name,max_concurrent_tasks,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, p.MaxConcurrentTasks, p.CreatedAt)
	return err
}

func (r Repo) UpdatePerson(ctx context.Context, id string, name *string, capacity *int) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if capacity != nil {
		fields = append(fields, "max_concurrent_tasks=?")
		args = append(args, *capacity)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE people SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	var p domain.Person
	err := r.DB.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people p WHERE p.id=?`, id).
		Scan(&p.ID, &p.Name, &p.MaxConcurrentTasks, &p.CreatedAt, &p.CurrentWorkload)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// ListPeople returns everyone with a derived current workload: the count of
// their assigned, still-active tasks.
func (r Repo) ListPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+personColumns+` FROM people p ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.MaxConcurrentTasks, &p.CreatedAt, &p.CurrentWorkload); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,name,description,status,assignee_id,estimated_hours,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID),
		t.EstimatedHours, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET name=?, description=?, status=?, assignee_id=?, estimated_hours=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Name, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID), t.EstimatedHours,
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var description, assigneeID, completedAt sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Name, &description, &t.Status, &assigneeID, &t.EstimatedHours, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

const taskColumns = `id,project_id,name,description,status,assignee_id,estimated_hours,created_at,updated_at,completed_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		return t, err
	}
	if t.DependsOn, err = r.ListTaskDependencies(ctx, t.ID); err != nil {
		return t, err
	}
	if t.SkillIDs, err = r.ListTaskSkills(ctx, t.ID); err != nil {
		return t, err
	}
	return t, nil
}

type TaskFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SchedulableTasks returns the project's active tasks with skills and
// dependencies attached, id-ordered, as solver input.
func (r Repo) SchedulableTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? AND status IN `+schedulableStatuses+` ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].DependsOn, err = r.ListTaskDependencies(ctx, res[i].ID); err != nil {
			return nil, err
		}
		if res[i].SkillIDs, err = r.ListTaskSkills(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on_task_id) VALUES (?,?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RemoveDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=? AND depends_on_task_id=?`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListTaskSkills(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT skill_id FROM task_skills WHERE task_id=? ORDER BY skill_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var skills []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

func (r Repo) SetTaskSkills(ctx context.Context, tx *sql.Tx, taskID string, skillIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_skills WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, s := range skillIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_skills(task_id, skill_id) VALUES (?,?)`, taskID, s); err != nil {
			return err
		}
	}
	return nil
}

// --- work history ---

func (r Repo) InsertWorkRecord(ctx context.Context, tx *sql.Tx, rec domain.WorkRecord) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO work_history(person_id,skill_id,project_id,task_id,hours,weight,completed_at) VALUES (?,?,?,?,?,?,?)`,
		rec.PersonID, rec.SkillID, nullable(rec.ProjectID), nullable(rec.TaskID), rec.Hours, rec.Weight, rec.CompletedAt)
	return err
}

type WorkRecordFilters struct {
	PersonID  string
	SkillID   string
	ProjectID string
	Limit     int
}

func (r Repo) ListWorkRecords(ctx context.Context, f WorkRecordFilters) ([]domain.WorkRecord, error) {
	var clauses []string
	var args []any
	if f.PersonID != "" {
		clauses = append(clauses, "person_id=?")
		args = append(args, f.PersonID)
	}
	if f.SkillID != "" {
		clauses = append(clauses, "skill_id=?")
		args = append(args, f.SkillID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,person_id,skill_id,COALESCE(project_id,''),COALESCE(task_id,''),hours,weight,completed_at FROM work_history ` + where + ` ORDER BY completed_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkRecord
	for rows.Next() {
		var rec domain.WorkRecord
		if err := rows.Scan(&rec.ID, &rec.PersonID, &rec.SkillID, &rec.ProjectID, &rec.TaskID, &rec.Hours, &rec.Weight, &rec.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"planline/internal/domain"
)

const runColumns = `id,project_id,status,is_active,algorithm,objective,constraints_json,assignment_count,unassigned_count,makespan_hours,critical_path_length,critical_path_json,created_by,created_at`

func scanRun(scan func(...any) error) (domain.ScheduleRun, error) {
	var run domain.ScheduleRun
	var objective, constraints, criticalPath sql.NullString
	var active int
	err := scan(&run.ID, &run.ProjectID, &run.Status, &active, &run.Algorithm, &objective, &constraints,
		&run.AssignmentCount, &run.UnassignedCount, &run.MakespanHours, &run.CriticalPathLength, &criticalPath,
		&run.CreatedBy, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.IsActive = active == 1
	if objective.Valid {
		run.Objective = objective.String
	}
	if constraints.Valid {
		run.ConstraintsJSON = &constraints.String
	}
	if criticalPath.Valid && criticalPath.String != "" {
		_ = json.Unmarshal([]byte(criticalPath.String), &run.CriticalPath)
	}
	return run, nil
}

// InsertRun writes a run and all of its detail rows in the caller's
// transaction, so a run is never visible half-written.
func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun, details []domain.ScheduleDetail) error {
	pathJSON, err := json.Marshal(run.CriticalPath)
	if err != nil {
		return err
	}
	active := 0
	if run.IsActive {
		active = 1
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schedule_runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, run.Status, active, run.Algorithm, nullable(run.Objective), nullableStringPtr(run.ConstraintsJSON),
		run.AssignmentCount, run.UnassignedCount, run.MakespanHours, run.CriticalPathLength, string(pathJSON),
		run.CreatedBy, run.CreatedAt); err != nil {
		return err
	}
	for _, d := range details {
		critical := 0
		if d.IsCritical {
			critical = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schedule_details(run_id,task_id,person_id,start_ts,finish_ts,slack_hours,is_critical,confidence,experience_score,unassigned_cause)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			run.ID, d.TaskID, nullableStringPtr(d.PersonID), d.StartTS, d.FinishTS, d.SlackHours, critical,
			d.Confidence, d.ExperienceScore, nullableStringPtr(d.UnassignedCause)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.ScheduleRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) GetRunTx(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleRun, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) ListRuns(ctx context.Context, projectID string) ([]domain.ScheduleRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// ActiveRun returns the approved active run for a project, or ErrNotFound.
func (r Repo) ActiveRun(ctx context.Context, projectID string) (domain.ScheduleRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE project_id=? AND is_active=1`, projectID)
	return scanRun(row.Scan)
}

func (r Repo) GetRunDetails(ctx context.Context, runID string) ([]domain.ScheduleDetail, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,task_id,person_id,start_ts,finish_ts,slack_hours,is_critical,confidence,experience_score,unassigned_cause
FROM schedule_details WHERE run_id=? ORDER BY start_ts, task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleDetail
	for rows.Next() {
		var d domain.ScheduleDetail
		var personID, cause sql.NullString
		var critical int
		if err := rows.Scan(&d.RunID, &d.TaskID, &personID, &d.StartTS, &d.FinishTS, &d.SlackHours, &critical, &d.Confidence, &d.ExperienceScore, &cause); err != nil {
			return nil, err
		}
		d.IsCritical = critical == 1
		if personID.Valid {
			d.PersonID = &personID.String
		}
		if cause.Valid {
			d.UnassignedCause = &cause.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ArchiveActiveRun clears the active flag on whichever run currently holds
// it for the project. Zero rows affected is fine: first accept ever.
func (r Repo) ArchiveActiveRun(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE schedule_runs SET is_active=0, status='archived' WHERE project_id=? AND is_active=1`, projectID)
	return err
}

// ActivateRun promotes a run. Must execute in the same transaction as
// ArchiveActiveRun; the partial unique index on (project_id) WHERE
// is_active=1 turns a lost race into a constraint error.
func (r Repo) ActivateRun(ctx context.Context, tx *sql.Tx, runID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedule_runs SET is_active=1, status='approved' WHERE id=?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRun removes a run and its details (cascade).
func (r Repo) DeleteRun(ctx context.Context, tx *sql.Tx, runID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM schedule_runs WHERE id=?`, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

package server

import (
	"planline/internal/assign"
	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID        string  `json:"id"`
	Name      *string `json:"name,omitempty"`
	StartDate *string `json:"start_date,omitempty" format:"date-time"`
}

type CreateSkillRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreatePersonRequest struct {
	ID                 string  `json:"id"`
	Name               *string `json:"name,omitempty"`
	MaxConcurrentTasks *int    `json:"max_concurrent_tasks,omitempty"`
}

type CreateTaskRequest struct {
	ID             *string  `json:"id,omitempty"`
	Name           string   `json:"name"`
	Description    *string  `json:"description,omitempty"`
	EstimatedHours float64  `json:"estimated_hours"`
	SkillIDs       []string `json:"skill_ids,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
}

type UpdateTaskRequest struct {
	Status          *string   `json:"status,omitempty" enum:"todo,in_progress,blocked,review,done,archived"`
	AssigneeID      *string   `json:"assignee_id,omitempty"`
	EstimatedHours  *float64  `json:"estimated_hours,omitempty"`
	SkillIDs        *[]string `json:"skill_ids,omitempty"`
	AddDependsOn    []string  `json:"add_depends_on,omitempty"`
	RemoveDependsOn []string  `json:"remove_depends_on,omitempty"`
	Force           bool      `json:"force,omitempty"`
}

type AddWorkRecordRequest struct {
	PersonID    string   `json:"person_id"`
	SkillID     string   `json:"skill_id"`
	ProjectID   *string  `json:"project_id,omitempty"`
	TaskID      *string  `json:"task_id,omitempty"`
	Hours       float64  `json:"hours"`
	Weight      *float64 `json:"weight,omitempty"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

type CreateRunRequest struct {
	Objective *string `json:"objective,omitempty" enum:"minimize_makespan,balance_load"`
}

type AcceptRunRequest struct {
	Force bool `json:"force,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	StartDate string `json:"start_date" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SkillResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PersonResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	CurrentWorkload    int    `json:"current_workload"`
	CreatedAt          string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"todo,in_progress,blocked,review,done,archived"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	EstimatedHours float64  `json:"estimated_hours"`
	SkillIDs       []string `json:"skill_ids"`
	DependsOn      []string `json:"depends_on"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
}

type WorkRecordResponse struct {
	ID          int64   `json:"id"`
	PersonID    string  `json:"person_id"`
	SkillID     string  `json:"skill_id"`
	ProjectID   string  `json:"project_id,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	Hours       float64 `json:"hours"`
	Weight      float64 `json:"weight"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
}

type RunResponse struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	Status             string   `json:"status" enum:"draft,approved,archived"`
	IsActive           bool     `json:"is_active"`
	Algorithm          string   `json:"algorithm"`
	Objective          string   `json:"objective,omitempty"`
	AssignmentCount    int      `json:"assignment_count"`
	UnassignedCount    int      `json:"unassigned_count"`
	MakespanHours      float64  `json:"makespan_hours"`
	CriticalPathLength int      `json:"critical_path_length"`
	CriticalPath       []string `json:"critical_path,omitempty"`
	CreatedBy          string   `json:"created_by"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
}

type RunDetailResponse struct {
	TaskID          string  `json:"task_id"`
	PersonID        *string `json:"person_id,omitempty"`
	StartTS         string  `json:"start_ts" format:"date-time"`
	FinishTS        string  `json:"finish_ts" format:"date-time"`
	SlackHours      float64 `json:"slack_hours"`
	IsCritical      bool    `json:"is_critical"`
	Confidence      float64 `json:"confidence"`
	ExperienceScore float64 `json:"experience_score"`
	UnassignedCause *string `json:"unassigned_cause,omitempty"`
}

type RunWithScheduleResponse struct {
	Run        RunResponse           `json:"run"`
	Schedule   []RunDetailResponse   `json:"schedule"`
	Unassigned []UnassignedResponse  `json:"unassigned,omitempty"`
	Prefs      *ProjectPrefsResponse `json:"prefs,omitempty"`
}

type UnassignedResponse struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason" enum:"no_candidate_above_threshold,no_skills_data,all_candidates_at_capacity"`
}

type CandidateResponse struct {
	PersonID        string  `json:"person_id"`
	Fit             float64 `json:"fit"`
	ExperienceScore float64 `json:"experience_score"`
	Availability    float64 `json:"availability"`
	Coverage        float64 `json:"coverage"`
	Specialized     bool    `json:"specialized"`
	AtCapacity      bool    `json:"at_capacity"`
}

type RecommendationResponse struct {
	TaskID        string              `json:"task_id"`
	MinConfidence float64             `json:"min_confidence"`
	Candidates    []CandidateResponse `json:"candidates"`
}

type ProjectPrefsResponse struct {
	MinConfidence             float64        `json:"min_confidence"`
	DefaultMaxConcurrentTasks int            `json:"default_max_concurrent_tasks"`
	PriorityMode              string         `json:"priority_mode" enum:"weighted,lexicographic"`
	Weights                   config.Weights `json:"weights"`
	SpecializationThreshold   float64        `json:"specialization_threshold"`
	HalfLifeDays              float64        `json:"half_life_days"`
	SaturationHours           float64        `json:"saturation_hours"`
	ContextProjectBoost       float64        `json:"context_project_boost"`
	HoursPerDay               float64        `json:"hours_per_day"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Mapping helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, Status: p.Status, StartDate: p.StartDate, CreatedAt: p.CreatedAt}
}

func mapProjects(in []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		out = append(out, projectResponse(p))
	}
	return out
}

func personResponse(p domain.Person) PersonResponse {
	return PersonResponse{
		ID:                 p.ID,
		Name:               p.Name,
		MaxConcurrentTasks: p.MaxConcurrentTasks,
		CurrentWorkload:    p.CurrentWorkload,
		CreatedAt:          p.CreatedAt,
	}
}

func mapPeople(in []domain.Person) []PersonResponse {
	out := make([]PersonResponse, 0, len(in))
	for _, p := range in {
		out = append(out, personResponse(p))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	skills := t.SkillIDs
	if skills == nil {
		skills = []string{}
	}
	deps := t.DependsOn
	if deps == nil {
		deps = []string{}
	}
	return TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		Name:           t.Name,
		Description:    t.Description,
		Status:         t.Status,
		AssigneeID:     t.AssigneeID,
		EstimatedHours: t.EstimatedHours,
		SkillIDs:       skills,
		DependsOn:      deps,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

func recordResponse(r domain.WorkRecord) WorkRecordResponse {
	return WorkRecordResponse{
		ID:          r.ID,
		PersonID:    r.PersonID,
		SkillID:     r.SkillID,
		ProjectID:   r.ProjectID,
		TaskID:      r.TaskID,
		Hours:       r.Hours,
		Weight:      r.Weight,
		CompletedAt: r.CompletedAt,
	}
}

func runResponse(r domain.ScheduleRun) RunResponse {
	return RunResponse{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		Status:             r.Status,
		IsActive:           r.IsActive,
		Algorithm:          r.Algorithm,
		Objective:          r.Objective,
		AssignmentCount:    r.AssignmentCount,
		UnassignedCount:    r.UnassignedCount,
		MakespanHours:      r.MakespanHours,
		CriticalPathLength: r.CriticalPathLength,
		CriticalPath:       r.CriticalPath,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt,
	}
}

func mapRuns(in []domain.ScheduleRun) []RunResponse {
	out := make([]RunResponse, 0, len(in))
	for _, r := range in {
		out = append(out, runResponse(r))
	}
	return out
}

func detailResponse(d domain.ScheduleDetail) RunDetailResponse {
	return RunDetailResponse{
		TaskID:          d.TaskID,
		PersonID:        d.PersonID,
		StartTS:         d.StartTS,
		FinishTS:        d.FinishTS,
		SlackHours:      d.SlackHours,
		IsCritical:      d.IsCritical,
		Confidence:      d.Confidence,
		ExperienceScore: d.ExperienceScore,
		UnassignedCause: d.UnassignedCause,
	}
}

func mapDetails(in []domain.ScheduleDetail) []RunDetailResponse {
	out := make([]RunDetailResponse, 0, len(in))
	for _, d := range in {
		out = append(out, detailResponse(d))
	}
	return out
}

func mapUnassigned(in []domain.UnassignedTask) []UnassignedResponse {
	out := make([]UnassignedResponse, 0, len(in))
	for _, u := range in {
		out = append(out, UnassignedResponse{TaskID: u.TaskID, Reason: u.Reason})
	}
	return out
}

func candidateResponse(c assign.Candidate) CandidateResponse {
	return CandidateResponse{
		PersonID:        c.PersonID,
		Fit:             c.Fit,
		ExperienceScore: c.ExperienceScore,
		Availability:    c.Availability,
		Coverage:        c.Coverage,
		Specialized:     c.Specialized,
		AtCapacity:      c.AtCapacity,
	}
}

func recommendationResponse(rec engine.Recommendation) RecommendationResponse {
	out := RecommendationResponse{TaskID: rec.TaskID, MinConfidence: rec.MinConfidence, Candidates: []CandidateResponse{}}
	for _, c := range rec.Candidates {
		out.Candidates = append(out.Candidates, candidateResponse(c))
	}
	return out
}

func prefsResponse(cfg *config.Config) *ProjectPrefsResponse {
	if cfg == nil {
		return nil
	}
	return &ProjectPrefsResponse{
		MinConfidence:             cfg.Assignment.MinConfidence,
		DefaultMaxConcurrentTasks: cfg.Assignment.DefaultMaxConcurrentTasks,
		PriorityMode:              cfg.Assignment.PriorityMode,
		Weights:                   cfg.Assignment.Weights,
		SpecializationThreshold:   cfg.Assignment.SpecializationThreshold,
		HalfLifeDays:              cfg.Experience.HalfLifeDays,
		SaturationHours:           cfg.Experience.SaturationHours,
		ContextProjectBoost:       cfg.Experience.ContextProjectBoost,
		HoursPerDay:               cfg.CPM.HoursPerDay,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

package domain

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,archived"`
	StartDate string `json:"start_date" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Person struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	// CurrentWorkload is derived from active responsible assignments and is
	// only populated on snapshot reads, never written back.
	CurrentWorkload int    `json:"current_workload"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status" enum:"todo,in_progress,blocked,review,done,archived"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	EstimatedHours float64  `json:"estimated_hours"`
	SkillIDs       []string `json:"skill_ids,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Schedulable reports whether a task participates in optimization. Done and
// archived tasks stay in the store as history inputs only.
func (t Task) Schedulable() bool {
	switch t.Status {
	case "todo", "in_progress", "blocked", "review":
		return true
	}
	return false
}

// WorkRecord is one historical completed-work signal used by the experience
// model: person PersonID spent Hours on skill SkillID, finishing at CompletedAt.
type WorkRecord struct {
	ID          int64   `json:"id"`
	PersonID    string  `json:"person_id"`
	SkillID     string  `json:"skill_id"`
	ProjectID   string  `json:"project_id,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	Hours       float64 `json:"hours"`
	Weight      float64 `json:"weight"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
}

// Assignment is one solver pairing. It exists only inside a run; persistence
// happens through ScheduleDetail rows.
type Assignment struct {
	TaskID          string  `json:"task_id"`
	PersonID        string  `json:"person_id"`
	ConfidenceScore float64 `json:"confidence_score"`
	ExperienceScore float64 `json:"experience_score"`
}

// UnassignedTask explains why the solver left a task without an assignee.
type UnassignedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason" enum:"no_candidate_above_threshold,no_skills_data,all_candidates_at_capacity"`
}

const (
	ReasonBelowThreshold = "no_candidate_above_threshold"
	ReasonNoSkillsData   = "no_skills_data"
	ReasonAtCapacity     = "all_candidates_at_capacity"
)

type ScheduleRun struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	Status             string   `json:"status" enum:"draft,approved,archived"`
	IsActive           bool     `json:"is_active"`
	Algorithm          string   `json:"algorithm"`
	Objective          string   `json:"objective,omitempty"`
	ConstraintsJSON    *string  `json:"constraints_json,omitempty"`
	AssignmentCount    int      `json:"assignment_count"`
	UnassignedCount    int      `json:"unassigned_count"`
	MakespanHours      float64  `json:"makespan_hours"`
	CriticalPathLength int      `json:"critical_path_length"`
	CriticalPath       []string `json:"critical_path,omitempty"`
	CreatedBy          string   `json:"created_by"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
}

type ScheduleDetail struct {
	RunID           string  `json:"run_id"`
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	EstimatedHours float64  `json:"estimated_hours"`
	SkillIDs       []string `json:"skill_ids"`
	DependsOn      []string `json:"depends_on"`
	CompletedAt    *string  `json:"completed_at,omitempty"`
}

// Person represents a team member with capacity.
type Person struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	CurrentWorkload    int    `json:"current_workload"`
}

// Skill represents a named skill.
type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkRecord represents a history entry.
type WorkRecord struct {
	ID          int64   `json:"id"`
	PersonID    string  `json:"person_id"`
	SkillID     string  `json:"skill_id"`
	ProjectID   string  `json:"project_id,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	Hours       float64 `json:"hours"`
	Weight      float64 `json:"weight"`
	CompletedAt string  `json:"completed_at"`
}

// Run represents a schedule run summary.
type Run struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	Status             string   `json:"status"`
	IsActive           bool     `json:"is_active"`
	Algorithm          string   `json:"algorithm"`
	Objective          string   `json:"objective,omitempty"`
	AssignmentCount    int      `json:"assignment_count"`
	UnassignedCount    int      `json:"unassigned_count"`
	MakespanHours      float64  `json:"makespan_hours"`
	CriticalPathLength int      `json:"critical_path_length"`
	CriticalPath       []string `json:"critical_path,omitempty"`
	CreatedBy          string   `json:"created_by"`
	CreatedAt          string   `json:"created_at"`
}

// ScheduleEntry represents one scheduled task within a run.
type ScheduleEntry struct {
	TaskID          string  `json:"task_id"`
	PersonID        *string `json:"person_id,omitempty"`
	StartTS         string  `json:"start_ts"`
	FinishTS        string  `json:"finish_ts"`
	SlackHours      float64 `json:"slack_hours"`
	IsCritical      bool    `json:"is_critical"`
	Confidence      float64 `json:"confidence"`
	ExperienceScore float64 `json:"experience_score"`
	UnassignedCause *string `json:"unassigned_cause,omitempty"`
}

// UnassignedTask names a task the optimizer could not place.
type UnassignedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// RunSchedule bundles a run with its schedule rows.
type RunSchedule struct {
	Run        Run              `json:"run"`
	Schedule   []ScheduleEntry  `json:"schedule"`
	Unassigned []UnassignedTask `json:"unassigned,omitempty"`
}

// Candidate ranks a person for a task.
type Candidate struct {
	PersonID        string  `json:"person_id"`
	Fit             float64 `json:"fit"`
	ExperienceScore float64 `json:"experience_score"`
	Availability    float64 `json:"availability"`
	Coverage        float64 `json:"coverage"`
	Specialized     bool    `json:"specialized"`
	AtCapacity      bool    `json:"at_capacity"`
}

// Recommendation lists ranked candidates for a task.
type Recommendation struct {
	TaskID        string      `json:"task_id"`
	MinConfidence float64     `json:"min_confidence"`
	Candidates    []Candidate `json:"candidates"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TaskCreate holds the fields for CreateTask.
type TaskCreate struct {
	ID             string
	Name           string
	Description    string
	EstimatedHours float64
	SkillIDs       []string
	DependsOn      []string
	AssigneeID     string
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, in TaskCreate) (Task, error) {
	body := map[string]any{
		"name":            in.Name,
		"estimated_hours": in.EstimatedHours,
		"skill_ids":       in.SkillIDs,
		"depends_on":      in.DependsOn,
	}
	if in.ID != "" {
		body["id"] = in.ID
	}
	if in.Description != "" {
		body["description"] = in.Description
	}
	if in.AssigneeID != "" {
		body["assignee_id"] = in.AssigneeID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.path("tasks/%s", taskID), nil, &resp)
	return resp, err
}

// ListTasks returns the project's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks"), nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task through its lifecycle.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.path("tasks/%s", taskID), body, &resp)
	return resp, err
}

// AssignTask sets a task's assignee.
func (c *Client) AssignTask(ctx context.Context, taskID, personID string) (Task, error) {
	body := map[string]any{"assignee_id": personID}
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.path("tasks/%s", taskID), body, &resp)
	return resp, err
}

// CreateSkill registers a skill.
func (c *Client) CreateSkill(ctx context.Context, id, name string) (Skill, error) {
	body := map[string]any{"id": id, "name": name}
	var resp Skill
	err := c.do(ctx, http.MethodPost, c.path("skills"), body, &resp)
	return resp, err
}

// CreatePerson registers a team member.
func (c *Client) CreatePerson(ctx context.Context, id, name string, maxConcurrentTasks int) (Person, error) {
	body := map[string]any{"id": id}
	if name != "" {
		body["name"] = name
	}
	if maxConcurrentTasks > 0 {
		body["max_concurrent_tasks"] = maxConcurrentTasks
	}
	var resp Person
	err := c.do(ctx, http.MethodPost, c.path("people"), body, &resp)
	return resp, err
}

// ListPeople returns all registered people.
func (c *Client) ListPeople(ctx context.Context) ([]Person, error) {
	var resp []Person
	err := c.do(ctx, http.MethodGet, c.path("people"), nil, &resp)
	return resp, err
}

// AddWorkRecord appends a history entry for a person and skill.
func (c *Client) AddWorkRecord(ctx context.Context, personID, skillID string, hours float64, completedAt string) (WorkRecord, error) {
	body := map[string]any{
		"person_id": personID,
		"skill_id":  skillID,
		"hours":     hours,
	}
	if completedAt != "" {
		body["completed_at"] = completedAt
	}
	var resp WorkRecord
	err := c.do(ctx, http.MethodPost, c.path("history"), body, &resp)
	return resp, err
}

// Optimize computes a new draft schedule run for the project.
func (c *Client) Optimize(ctx context.Context, objective string) (RunSchedule, error) {
	body := map[string]any{}
	if objective != "" {
		body["objective"] = objective
	}
	var resp RunSchedule
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), body, &resp)
	return resp, err
}

// ListRuns returns the project's runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var resp []Run
	err := c.do(ctx, http.MethodGet, c.projectPath("runs"), nil, &resp)
	return resp, err
}

// GetRun fetches a run with its schedule.
func (c *Client) GetRun(ctx context.Context, runID string) (RunSchedule, error) {
	var resp RunSchedule
	err := c.do(ctx, http.MethodGet, c.path("runs/%s", runID), nil, &resp)
	return resp, err
}

// AcceptRun promotes a draft run to the active schedule.
func (c *Client) AcceptRun(ctx context.Context, runID string, force bool) (Run, error) {
	body := map[string]any{"force": force}
	var resp Run
	err := c.do(ctx, http.MethodPost, c.path("runs/%s/accept", runID), body, &resp)
	return resp, err
}

// DiscardRun deletes a draft run.
func (c *Client) DiscardRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, c.path("runs/%s", runID), nil, nil)
}

// Schedule returns the project's active schedule.
func (c *Client) Schedule(ctx context.Context) (RunSchedule, error) {
	var resp RunSchedule
	err := c.do(ctx, http.MethodGet, c.projectPath("schedule"), nil, &resp)
	return resp, err
}

// Recommend ranks candidates for a task.
func (c *Client) Recommend(ctx context.Context, taskID string) (Recommendation, error) {
	var resp Recommendation
	err := c.do(ctx, http.MethodGet, c.path("tasks/%s/recommendations", taskID), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.path("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) path(format string, args ...string) string {
	escaped := make([]any, 0, len(args))
	for _, a := range args {
		escaped = append(escaped, url.PathEscape(a))
	}
	return "v0/" + fmt.Sprintf(format, escaped...)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

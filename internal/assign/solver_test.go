package assign

import (
	"testing"
	"time"

	"planline/internal/domain"
	"planline/internal/experience"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// matrixFor builds an experience matrix from person -> skill -> score using
// fresh records, so 0.5 means 20 weighted hours against the 40h saturation.
func matrixFor(scores map[string]map[string]float64) experience.Matrix {
	var records []domain.WorkRecord
	people := map[string]bool{}
	skills := map[string]bool{}
	for person, bySkill := range scores {
		people[person] = true
		for skill, score := range bySkill {
			skills[skill] = true
			records = append(records, domain.WorkRecord{
				PersonID:    person,
				SkillID:     skill,
				Hours:       score * 40,
				Weight:      1,
				CompletedAt: testNow.Format(time.RFC3339),
			})
		}
	}
	personIDs := make([]string, 0, len(people))
	for id := range people {
		personIDs = append(personIDs, id)
	}
	skillIDs := make([]string, 0, len(skills))
	for id := range skills {
		skillIDs = append(skillIDs, id)
	}
	return experience.Compute(records, personIDs, skillIDs, experience.Options{
		SaturationHours: 40,
		Now:             testNow,
	})
}

func task(id string, skills ...string) domain.Task {
	return domain.Task{ID: id, SkillIDs: skills, EstimatedHours: 4}
}

func person(id string, capacity, workload int) domain.Person {
	return domain.Person{ID: id, MaxConcurrentTasks: capacity, CurrentWorkload: workload}
}

func TestHungarianBeatsGreedy(t *testing.T) {
	// Greedy row-by-row picks (0,0) then forces (1,1) for total 11; the
	// optimal matching is (0,1)+(1,0) for total 3.
	cost := [][]float64{
		{1, 2},
		{1, 10},
	}
	match := hungarian(cost)
	if match[0] != 1 || match[1] != 0 {
		t.Fatalf("match = %v, want [1 0]", match)
	}
}

func TestHungarianRectangular(t *testing.T) {
	cost := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
	}
	match := hungarian(cost)
	if match[0] == match[1] {
		t.Fatalf("rows matched to the same column: %v", match)
	}
	total := cost[0][match[0]] + cost[1][match[1]]
	if total != 3 { // (0,2)+(1,1) or equivalent optimum
		t.Fatalf("total cost = %v, want 3", total)
	}
}

func TestAvailabilityStep(t *testing.T) {
	cases := []struct {
		workload, capacity int
		want               float64
	}{
		{0, 3, 1.0},
		{1, 3, 0.8},
		{2, 3, 0.5},
		{3, 3, 0.2},
		{4, 3, 0.2},
		{0, 0, 0.2},
	}
	for _, tc := range cases {
		if got := availabilityStep(tc.workload, tc.capacity); got != tc.want {
			t.Errorf("availabilityStep(%d, %d) = %v, want %v", tc.workload, tc.capacity, got, tc.want)
		}
	}
}

func TestSolveRespectsCapacity(t *testing.T) {
	m := matrixFor(map[string]map[string]float64{
		"ana": {"go": 1.0},
	})
	tasks := []domain.Task{task("t1", "go"), task("t2", "go"), task("t3", "go")}
	people := []domain.Person{person("ana", 2, 0)}

	res := Solve(tasks, people, m, DefaultOptions())
	if len(res.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2 (capacity limit)", len(res.Assignments))
	}
	for _, a := range res.Assignments {
		if a.PersonID != "ana" {
			t.Fatalf("unexpected assignee %s", a.PersonID)
		}
	}
	if len(res.Unassigned) != 1 || res.Unassigned[0].Reason != domain.ReasonAtCapacity {
		t.Fatalf("unassigned = %+v, want one all_candidates_at_capacity", res.Unassigned)
	}
}

func TestSolveTieBreaksOnWorkloadThenID(t *testing.T) {
	m := matrixFor(map[string]map[string]float64{
		"ana": {"go": 0.5},
		"bob": {"go": 0.5},
	})
	res := Solve(
		[]domain.Task{task("t1", "go")},
		[]domain.Person{person("bob", 3, 0), person("ana", 3, 0)},
		m, DefaultOptions(),
	)
	if len(res.Assignments) != 1 || res.Assignments[0].PersonID != "ana" {
		t.Fatalf("equal-fit tie should go to lowest id, got %+v", res.Assignments)
	}

	// A less loaded person wins over a lower id at equal fit components
	// because availability enters the score first.
	res = Solve(
		[]domain.Task{task("t1", "go")},
		[]domain.Person{person("ana", 3, 1), person("bob", 3, 0)},
		m, DefaultOptions(),
	)
	if len(res.Assignments) != 1 || res.Assignments[0].PersonID != "bob" {
		t.Fatalf("free person should win over busy one, got %+v", res.Assignments)
	}
}

func TestSolveBelowThreshold(t *testing.T) {
	// ana has sql history, so the matrix carries signal, but her go fit is
	// 0.35*0.8 = 0.28 while partly loaded, below the 0.3 floor.
	m := matrixFor(map[string]map[string]float64{
		"ana": {"sql": 0.9},
	})
	res := Solve(
		[]domain.Task{task("t1", "go")},
		[]domain.Person{person("ana", 3, 1)},
		m, DefaultOptions(),
	)
	if len(res.Assignments) != 0 {
		t.Fatalf("expected no assignments, got %+v", res.Assignments)
	}
	if len(res.Unassigned) != 1 || res.Unassigned[0].Reason != domain.ReasonBelowThreshold {
		t.Fatalf("unassigned = %+v, want no_candidate_above_threshold", res.Unassigned)
	}
}

func TestSolveNoSkillsData(t *testing.T) {
	m := matrixFor(nil)
	res := Solve(
		[]domain.Task{task("t1", "go")},
		[]domain.Person{person("ana", 3, 1)},
		m, DefaultOptions(),
	)
	if len(res.Unassigned) != 1 || res.Unassigned[0].Reason != domain.ReasonNoSkillsData {
		t.Fatalf("unassigned = %+v, want no_skills_data", res.Unassigned)
	}
}

func TestSolveDegradedModeBalancesWorkload(t *testing.T) {
	// With no history at all a fully free person still clears the floor on
	// availability alone, so scheduling degrades to workload balancing.
	m := matrixFor(nil)
	res := Solve(
		[]domain.Task{task("t1", "go"), task("t2", "go")},
		[]domain.Person{person("ana", 3, 0), person("bob", 3, 0)},
		m, DefaultOptions(),
	)
	if len(res.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(res.Assignments))
	}
}

func TestSolveAllAtCapacity(t *testing.T) {
	m := matrixFor(map[string]map[string]float64{"ana": {"go": 1.0}})
	res := Solve(
		[]domain.Task{task("t1", "go")},
		[]domain.Person{person("ana", 2, 2)},
		m, DefaultOptions(),
	)
	if len(res.Unassigned) != 1 || res.Unassigned[0].Reason != domain.ReasonAtCapacity {
		t.Fatalf("unassigned = %+v, want all_candidates_at_capacity", res.Unassigned)
	}
}

func TestSolveOptimalOverGreedy(t *testing.T) {
	// Greedy gives t1 (first by id) to ana, leaving bob's weak fit for t2.
	// The optimal matching swaps them: ana covers sql, bob covers go.
	m := matrixFor(map[string]map[string]float64{
		"ana": {"go": 0.8, "sql": 0.9},
		"bob": {"go": 0.7, "sql": 0.1},
	})
	res := Solve(
		[]domain.Task{task("t1", "go"), task("t2", "sql")},
		[]domain.Person{person("ana", 1, 0), person("bob", 1, 0)},
		m, DefaultOptions(),
	)
	got := map[string]string{}
	for _, a := range res.Assignments {
		got[a.TaskID] = a.PersonID
	}
	if got["t1"] != "bob" || got["t2"] != "ana" {
		t.Fatalf("assignments = %v, want t1->bob t2->ana", got)
	}
}

func TestRankOrdering(t *testing.T) {
	m := matrixFor(map[string]map[string]float64{
		"ana": {"go": 0.9},
		"bob": {"go": 0.2},
	})
	ranked := Rank(task("t1", "go"), []domain.Person{
		person("bob", 3, 0),
		person("ana", 3, 0),
		person("cap", 2, 2),
	}, m, DefaultOptions())

	if len(ranked) != 3 {
		t.Fatalf("candidates = %d, want 3", len(ranked))
	}
	if ranked[0].PersonID != "ana" {
		t.Fatalf("best candidate = %s, want ana", ranked[0].PersonID)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Fit > ranked[i-1].Fit {
			t.Fatalf("candidates not ordered by fit: %+v", ranked)
		}
	}
	for _, c := range ranked {
		if c.PersonID == "cap" && !c.AtCapacity {
			t.Fatal("person without spare capacity should be flagged")
		}
		if c.Fit < 0 || c.Fit > 1 {
			t.Fatalf("fit out of range: %+v", c)
		}
	}
	if !ranked[0].Specialized {
		t.Fatal("score 0.9 crosses the 0.8 specialization threshold")
	}
}

func TestLexicographicModePrefersExperience(t *testing.T) {
	// Weighted mode lets availability outvote a modest experience edge; the
	// lexicographic mode keeps experience in charge.
	m := matrixFor(map[string]map[string]float64{
		"expert": {"go": 0.5},
		"novice": {"go": 0.4},
	})
	people := []domain.Person{person("expert", 3, 2), person("novice", 3, 0)}

	weighted := Rank(task("t1", "go"), people, m, DefaultOptions())
	if weighted[0].PersonID != "novice" {
		t.Fatalf("weighted mode top candidate = %s, want novice", weighted[0].PersonID)
	}

	opts := DefaultOptions()
	opts.PriorityMode = "lexicographic"
	lex := Rank(task("t1", "go"), people, m, opts)
	if lex[0].PersonID != "expert" {
		t.Fatalf("lexicographic mode top candidate = %s, want expert", lex[0].PersonID)
	}
}

// Package assign matches schedulable tasks to people under per-person
// capacity limits. Each person contributes capacity minus current workload
// slots; the solver runs an optimal min-cost matching over tasks x slots on
// cost 1 - fit, then drops pairings below the confidence floor instead of
// forcing poor matches.
package assign

import (
	"sort"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/experience"
)

type Options struct {
	Weights                 config.Weights
	MinConfidence           float64
	SpecializationThreshold float64
	// PriorityMode is weighted (blend all components) or lexicographic
	// (experience dominates, other components only break ties).
	PriorityMode string
}

// DefaultOptions mirror the config defaults.
func DefaultOptions() Options {
	return Options{
		Weights: config.Weights{
			Experience:     0.5,
			Availability:   0.35,
			Coverage:       0.10,
			Specialization: 0.05,
		},
		MinConfidence:           0.3,
		SpecializationThreshold: 0.8,
		PriorityMode:            "weighted",
	}
}

type Result struct {
	Assignments []domain.Assignment
	Unassigned  []domain.UnassignedTask
}

// Candidate is one scored person for a single task, used for interactive
// recommendations.
type Candidate struct {
	PersonID        string  `json:"person_id"`
	Fit             float64 `json:"fit"`
	ExperienceScore float64 `json:"experience_score"`
	Availability    float64 `json:"availability"`
	Coverage        float64 `json:"coverage"`
	Specialized     bool    `json:"specialized"`
	AtCapacity      bool    `json:"at_capacity"`
}

// fitParts are the per-pair score components before weighting.
type fitParts struct {
	avgExp       float64
	availability float64
	coverage     float64
	specialized  bool
}

func scoreParts(task domain.Task, person domain.Person, m experience.Matrix, opts Options) fitParts {
	var parts fitParts
	if len(task.SkillIDs) > 0 {
		covered := 0
		sum := 0.0
		for _, skill := range task.SkillIDs {
			s := m.Score(person.ID, skill)
			sum += s
			if s > 0 {
				covered++
			}
			if s >= opts.SpecializationThreshold {
				parts.specialized = true
			}
		}
		parts.avgExp = sum / float64(len(task.SkillIDs))
		parts.coverage = float64(covered) / float64(len(task.SkillIDs))
	}
	parts.availability = availabilityStep(person.CurrentWorkload, person.MaxConcurrentTasks)
	return parts
}

// availabilityStep maps workload pressure onto the fixed availability tiers.
func availabilityStep(workload, capacity int) float64 {
	if capacity <= 0 {
		return 0.2
	}
	ratio := float64(workload) / float64(capacity)
	switch {
	case ratio <= 0:
		return 1.0
	case ratio <= 1.0/3.0:
		return 0.8
	case ratio <= 2.0/3.0:
		return 0.5
	default:
		return 0.2
	}
}

func (p fitParts) fit(opts Options) float64 {
	spec := 0.0
	if p.specialized {
		spec = 1
	}
	if opts.PriorityMode == "lexicographic" {
		// Experience owns the ordering; the remaining components are scaled
		// down so they can only separate equal-experience candidates.
		f := p.avgExp + p.availability*1e-3 + p.coverage*1e-6 + spec*1e-9
		if f > 1 {
			f = 1
		}
		return f
	}
	return opts.Weights.Experience*p.avgExp +
		opts.Weights.Availability*p.availability +
		opts.Weights.Coverage*p.coverage +
		opts.Weights.Specialization*spec
}

// slot is one unit of spare capacity for a person.
type slot struct {
	person domain.Person
}

// expandSlots orders people by current workload then id, then emits
// capacity minus workload slots each, so equal-cost matches resolve to the
// least-loaded, lowest-id person.
func expandSlots(people []domain.Person) []slot {
	sorted := make([]domain.Person, len(people))
	copy(sorted, people)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CurrentWorkload != sorted[j].CurrentWorkload {
			return sorted[i].CurrentWorkload < sorted[j].CurrentWorkload
		}
		return sorted[i].ID < sorted[j].ID
	})
	var slots []slot
	for _, p := range sorted {
		free := p.MaxConcurrentTasks - p.CurrentWorkload
		for k := 0; k < free; k++ {
			slots = append(slots, slot{person: p})
		}
	}
	return slots
}

// dummyCost exceeds any real pairing cost so padded columns absorb only the
// tasks that cannot be matched.
const dummyCost = 10.0

// Solve assigns at most one person per task, never exceeding anyone's spare
// capacity, maximizing total fit. Output is deterministic for identical
// inputs: tasks are processed in id order and ties in fit resolve to the
// lowest-workload, lowest-id person.
func Solve(tasks []domain.Task, people []domain.Person, m experience.Matrix, opts Options) Result {
	ordered := make([]domain.Task, len(tasks))
	copy(ordered, tasks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	slots := expandSlots(people)
	var res Result
	if len(ordered) == 0 {
		return res
	}
	if len(slots) == 0 {
		for _, t := range ordered {
			res.Unassigned = append(res.Unassigned, domain.UnassignedTask{TaskID: t.ID, Reason: domain.ReasonAtCapacity})
		}
		return res
	}

	cols := len(slots)
	if len(ordered) > cols {
		cols = len(ordered) // pad with dummy slots
	}
	cost := make([][]float64, len(ordered))
	fits := make([][]float64, len(ordered))
	for i, t := range ordered {
		cost[i] = make([]float64, cols)
		fits[i] = make([]float64, len(slots))
		for j := range cost[i] {
			if j >= len(slots) {
				cost[i][j] = dummyCost
				continue
			}
			f := scoreParts(t, slots[j].person, m, opts).fit(opts)
			fits[i][j] = f
			// the slot-index epsilon keeps equal-fit ties on the earlier
			// (less loaded, lower id) slot
			cost[i][j] = (1 - f) + float64(j)*1e-9
		}
	}

	match := hungarian(cost)
	emptyMatrix := m.Empty()
	for i, t := range ordered {
		j := match[i]
		if j >= len(slots) {
			res.Unassigned = append(res.Unassigned, domain.UnassignedTask{TaskID: t.ID, Reason: domain.ReasonAtCapacity})
			continue
		}
		f := fits[i][j]
		if f < opts.MinConfidence {
			reason := domain.ReasonBelowThreshold
			if len(t.SkillIDs) > 0 && emptyMatrix {
				reason = domain.ReasonNoSkillsData
			}
			res.Unassigned = append(res.Unassigned, domain.UnassignedTask{TaskID: t.ID, Reason: reason})
			continue
		}
		parts := scoreParts(t, slots[j].person, m, opts)
		res.Assignments = append(res.Assignments, domain.Assignment{
			TaskID:          t.ID,
			PersonID:        slots[j].person.ID,
			ConfidenceScore: clamp01(f),
			ExperienceScore: parts.avgExp,
		})
	}
	return res
}

// Rank scores every person for a single task and returns candidates ordered
// by fit, best first. People without spare capacity are included but flagged,
// so a human can see why the solver would skip them.
func Rank(task domain.Task, people []domain.Person, m experience.Matrix, opts Options) []Candidate {
	out := make([]Candidate, 0, len(people))
	for _, p := range people {
		parts := scoreParts(task, p, m, opts)
		out = append(out, Candidate{
			PersonID:        p.ID,
			Fit:             clamp01(parts.fit(opts)),
			ExperienceScore: parts.avgExp,
			Availability:    parts.availability,
			Coverage:        parts.coverage,
			Specialized:     parts.specialized,
			AtCapacity:      p.MaxConcurrentTasks-p.CurrentWorkload <= 0,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fit != out[j].Fit {
			return out[i].Fit > out[j].Fit
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package experience

import (
	"log"
	"math"
	"time"

	"planline/internal/domain"
)

// Options tune how historical work converts into competence scores. Zero
// values fall back to the package defaults so callers can pass a partial set.
type Options struct {
	// HalfLifeDays controls exponential recency decay: a record this many
	// days old counts half as much as one finished today.
	HalfLifeDays float64
	// SaturationHours is the accumulated weighted-hours mark at which a
	// (person, skill) score reaches 1.0.
	SaturationHours float64
	// ContextProjectBoost multiplies records from ContextProjectID, so recent
	// work inside the project being scheduled counts extra.
	ContextProjectBoost float64
	ContextProjectID    string
	// Now anchors recency decay; zero means time.Now.
	Now time.Time
}

const (
	defaultHalfLifeDays    = 180
	defaultSaturationHours = 40
)

// Matrix is the computed person x skill competence lookup. Missing
// combinations score zero.
type Matrix struct {
	scores map[string]map[string]float64
	// Skipped counts malformed history records that were dropped.
	Skipped int
}

// Score returns the competence score for a person and skill in [0,1].
func (m Matrix) Score(personID, skillID string) float64 {
	if bySkill, ok := m.scores[personID]; ok {
		return bySkill[skillID]
	}
	return 0
}

// Empty reports whether no (person, skill) pair carries any signal.
func (m Matrix) Empty() bool {
	for _, bySkill := range m.scores {
		for _, s := range bySkill {
			if s > 0 {
				return false
			}
		}
	}
	return true
}

// HasSignal reports whether any of the given skills carries nonzero score
// for any of the given people.
func (m Matrix) HasSignal(personIDs, skillIDs []string) bool {
	for _, p := range personIDs {
		for _, s := range skillIDs {
			if m.Score(p, s) > 0 {
				return true
			}
		}
	}
	return false
}

// Compute builds the competence matrix for the requested people and skills
// from historical work records. Records outside the requested sets are
// ignored; malformed records are skipped and logged, never fatal. The result
// is deterministic for identical inputs.
func Compute(records []domain.WorkRecord, personIDs, skillIDs []string, opts Options) Matrix {
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = defaultHalfLifeDays
	}
	if opts.SaturationHours <= 0 {
		opts.SaturationHours = defaultSaturationHours
	}
	if opts.ContextProjectBoost < 1 {
		opts.ContextProjectBoost = 1
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	wantPerson := make(map[string]bool, len(personIDs))
	for _, id := range personIDs {
		wantPerson[id] = true
	}
	wantSkill := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		wantSkill[id] = true
	}

	acc := map[string]map[string]float64{}
	skipped := 0
	for _, rec := range records {
		if !wantPerson[rec.PersonID] || !wantSkill[rec.SkillID] {
			continue
		}
		w, ok := recordWeight(rec, now, opts)
		if !ok {
			skipped++
			log.Printf("experience: skipping malformed work record id=%d person=%s skill=%s", rec.ID, rec.PersonID, rec.SkillID)
			continue
		}
		bySkill := acc[rec.PersonID]
		if bySkill == nil {
			bySkill = map[string]float64{}
			acc[rec.PersonID] = bySkill
		}
		bySkill[rec.SkillID] += w
	}

	scores := make(map[string]map[string]float64, len(acc))
	for person, bySkill := range acc {
		out := make(map[string]float64, len(bySkill))
		for skill, total := range bySkill {
			s := total / opts.SaturationHours
			if s > 1 {
				s = 1
			}
			out[skill] = s
		}
		scores[person] = out
	}
	return Matrix{scores: scores, Skipped: skipped}
}

// recordWeight converts one record into weighted hours, applying recency
// decay and the optional context-project boost.
func recordWeight(rec domain.WorkRecord, now time.Time, opts Options) (float64, bool) {
	if rec.PersonID == "" || rec.SkillID == "" {
		return 0, false
	}
	if rec.Hours <= 0 || rec.Weight <= 0 {
		return 0, false
	}
	completed, err := time.Parse(time.RFC3339, rec.CompletedAt)
	if err != nil {
		return 0, false
	}
	ageDays := now.Sub(completed).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Exp2(-ageDays / opts.HalfLifeDays)
	w := rec.Hours * rec.Weight * decay
	if opts.ContextProjectID != "" && rec.ProjectID == opts.ContextProjectID {
		w *= opts.ContextProjectBoost
	}
	return w, true
}

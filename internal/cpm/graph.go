// Package cpm computes Critical Path Method schedules over a task dependency
// DAG. Times are hour offsets from the schedule start; the caller converts
// them to calendar timestamps.
package cpm

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Task is the minimal scheduling view of a task.
type Task struct {
	ID            string
	DurationHours float64
	DependsOn     []string
}

// Node carries the CPM timings for one task.
type Node struct {
	TaskID         string  `json:"task_id"`
	EarliestStart  float64 `json:"earliest_start"`
	EarliestFinish float64 `json:"earliest_finish"`
	LatestStart    float64 `json:"latest_start"`
	LatestFinish   float64 `json:"latest_finish"`
	Slack          float64 `json:"slack"`
	IsCritical     bool    `json:"is_critical"`
}

// Result is the full schedule for one solve.
type Result struct {
	// Nodes in topological order.
	Nodes []Node
	// CriticalPath is the ordered zero-slack chain realizing the makespan.
	CriticalPath  []string
	MakespanHours float64
}

// Node lookup by task id; nil if absent.
func (r *Result) Node(taskID string) *Node {
	for i := range r.Nodes {
		if r.Nodes[i].TaskID == taskID {
			return &r.Nodes[i]
		}
	}
	return nil
}

// CircularDependencyError reports a dependency cycle. Cycle holds the task
// ids along the cycle, first repeated last.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

const eps = 1e-9

// Solve validates the dependency graph, then runs the forward and backward
// CPM passes. Dependencies pointing outside the given task set are ignored;
// disconnected tasks simply start at hour zero. A cycle is fatal.
func Solve(tasks []Task) (*Result, error) {
	ids := make([]string, 0, len(tasks))
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	preds := make(map[string][]string, len(tasks))
	succs := make(map[string][]string, len(tasks))
	for _, id := range ids {
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // dependency outside the processed set
			}
			preds[id] = append(preds[id], dep)
			succs[dep] = append(succs[dep], id)
		}
	}
	for id := range preds {
		sort.Strings(preds[id])
	}
	for id := range succs {
		sort.Strings(succs[id])
	}

	order, err := topoOrder(ids, preds, succs)
	if err != nil {
		return nil, err
	}

	es := make(map[string]float64, len(order))
	ef := make(map[string]float64, len(order))
	makespan := 0.0
	for _, id := range order {
		start := 0.0
		for _, dep := range preds[id] {
			if ef[dep] > start {
				start = ef[dep]
			}
		}
		es[id] = start
		ef[id] = start + byID[id].DurationHours
		if ef[id] > makespan {
			makespan = ef[id]
		}
	}

	lf := make(map[string]float64, len(order))
	ls := make(map[string]float64, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		finish := makespan
		for _, s := range succs[id] {
			if ls[s] < finish {
				finish = ls[s]
			}
		}
		lf[id] = finish
		ls[id] = finish - byID[id].DurationHours
	}

	res := &Result{MakespanHours: makespan}
	for _, id := range order {
		slack := ls[id] - es[id]
		if slack < eps {
			slack = 0
		}
		res.Nodes = append(res.Nodes, Node{
			TaskID:         id,
			EarliestStart:  es[id],
			EarliestFinish: ef[id],
			LatestStart:    ls[id],
			LatestFinish:   lf[id],
			Slack:          slack,
			IsCritical:     slack == 0,
		})
	}
	res.CriticalPath = criticalChain(order, succs, es, ef, ls, makespan)
	return res, nil
}

// topoOrder runs a DFS with an explicit recursion stack over the dependency
// edges. A back-edge produces a CircularDependencyError carrying the cycle.
func topoOrder(ids []string, preds, succs map[string][]string) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[string]int, len(ids))
	var order []string
	var stack []string

	var visit func(id string) *CircularDependencyError
	visit = func(id string) *CircularDependencyError {
		state[id] = gray
		stack = append(stack, id)
		for _, dep := range preds[id] {
			switch state[dep] {
			case gray:
				// back-edge: slice the recursion stack into the cycle
				cycle := []string{dep}
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == dep {
						break
					}
				}
				// reverse into dependency order
				for l, r := 0, len(cycle)-1; l < r; l, r = l+1, r-1 {
					cycle[l], cycle[r] = cycle[r], cycle[l]
				}
				return &CircularDependencyError{Cycle: cycle}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if state[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// criticalChain reconstructs the maximal zero-slack chain from a source to a
// sink that realizes the makespan, preferring lexicographically smallest ids
// on ties so output is reproducible.
func criticalChain(order []string, succs map[string][]string, es, ef map[string]float64, ls map[string]float64, makespan float64) []string {
	critical := func(id string) bool { return ls[id]-es[id] < eps }

	// next[id] = the chosen critical successor continuing the chain;
	// reach[id] = farthest EF reachable from id along critical edges
	reach := make(map[string]float64, len(order))
	next := make(map[string]string, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if !critical(id) {
			continue
		}
		reach[id] = ef[id]
		for _, s := range succs[id] { // ascending ids: ties keep the smallest
			if !critical(s) || math.Abs(ef[id]-es[s]) > eps {
				continue
			}
			if reach[s] > reach[id]+eps {
				reach[id] = reach[s]
				next[id] = s
			}
		}
	}

	start := ""
	for _, id := range order {
		if !critical(id) || es[id] > eps {
			continue
		}
		if reach[id] > makespan-eps {
			if start == "" || id < start {
				start = id
			}
		}
	}
	if start == "" {
		return nil
	}
	var chain []string
	for id := start; ; {
		chain = append(chain, id)
		n, ok := next[id]
		if !ok || n == "" {
			break
		}
		id = n
	}
	return chain
}

package cpm

import (
	"errors"
	"testing"
)

func solve(t *testing.T, tasks []Task) *Result {
	t.Helper()
	res, err := Solve(tasks)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return res
}

func TestChain(t *testing.T) {
	res := solve(t, []Task{
		{ID: "a", DurationHours: 2},
		{ID: "b", DurationHours: 3, DependsOn: []string{"a"}},
		{ID: "c", DurationHours: 4, DependsOn: []string{"b"}},
	})

	if res.MakespanHours != 9 {
		t.Fatalf("makespan = %v, want 9", res.MakespanHours)
	}
	c := res.Node("c")
	if c == nil || c.EarliestStart != 5 || c.EarliestFinish != 9 {
		t.Fatalf("node c = %+v, want ES 5 EF 9", c)
	}
	for _, n := range res.Nodes {
		if n.Slack != 0 || !n.IsCritical {
			t.Fatalf("chain node %s should have zero slack, got %+v", n.TaskID, n)
		}
	}
	want := []string{"a", "b", "c"}
	if len(res.CriticalPath) != len(want) {
		t.Fatalf("critical path = %v, want %v", res.CriticalPath, want)
	}
	for i, id := range want {
		if res.CriticalPath[i] != id {
			t.Fatalf("critical path = %v, want %v", res.CriticalPath, want)
		}
	}
}

func TestDiamondSlack(t *testing.T) {
	// a fans out to a long branch (b) and a short one (c); d joins them.
	res := solve(t, []Task{
		{ID: "a", DurationHours: 2},
		{ID: "b", DurationHours: 5, DependsOn: []string{"a"}},
		{ID: "c", DurationHours: 1, DependsOn: []string{"a"}},
		{ID: "d", DurationHours: 2, DependsOn: []string{"b", "c"}},
	})

	if res.MakespanHours != 9 {
		t.Fatalf("makespan = %v, want 9", res.MakespanHours)
	}
	c := res.Node("c")
	if c.Slack != 4 || c.IsCritical {
		t.Fatalf("short branch slack = %v, want 4 and not critical", c.Slack)
	}
	for _, id := range []string{"a", "b", "d"} {
		if n := res.Node(id); !n.IsCritical {
			t.Fatalf("%s should be on the critical path", id)
		}
	}
	want := []string{"a", "b", "d"}
	for i, id := range want {
		if i >= len(res.CriticalPath) || res.CriticalPath[i] != id {
			t.Fatalf("critical path = %v, want %v", res.CriticalPath, want)
		}
	}
}

func TestDisconnectedTasksStartAtZero(t *testing.T) {
	res := solve(t, []Task{
		{ID: "a", DurationHours: 3},
		{ID: "b", DurationHours: 7},
	})
	for _, n := range res.Nodes {
		if n.EarliestStart != 0 {
			t.Fatalf("disconnected task %s ES = %v, want 0", n.TaskID, n.EarliestStart)
		}
	}
	if res.MakespanHours != 7 {
		t.Fatalf("makespan = %v, want 7", res.MakespanHours)
	}
	a := res.Node("a")
	if a.Slack != 4 || a.IsCritical {
		t.Fatalf("shorter parallel task slack = %v, want 4", a.Slack)
	}
}

func TestDependencyOutsideSetIgnored(t *testing.T) {
	res := solve(t, []Task{
		{ID: "a", DurationHours: 2, DependsOn: []string{"done-long-ago"}},
	})
	if n := res.Node("a"); n.EarliestStart != 0 {
		t.Fatalf("ES = %v, want 0 when the dependency is outside the set", n.EarliestStart)
	}
}

func TestCycleDetected(t *testing.T) {
	_, err := Solve([]Task{
		{ID: "a", DurationHours: 1, DependsOn: []string{"c"}},
		{ID: "b", DurationHours: 1, DependsOn: []string{"a"}},
		{ID: "c", DurationHours: 1, DependsOn: []string{"b"}},
	})
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CircularDependencyError", err)
	}
	if len(cerr.Cycle) != 4 {
		t.Fatalf("cycle = %v, want 3 tasks with the first repeated", cerr.Cycle)
	}
	if cerr.Cycle[0] != cerr.Cycle[len(cerr.Cycle)-1] {
		t.Fatalf("cycle should close on itself: %v", cerr.Cycle)
	}
	seen := map[string]bool{}
	for _, id := range cerr.Cycle[:len(cerr.Cycle)-1] {
		seen[id] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("cycle %v misses %s", cerr.Cycle, id)
		}
	}
}

func TestSelfLoop(t *testing.T) {
	_, err := Solve([]Task{{ID: "a", DurationHours: 1, DependsOn: []string{"a"}}})
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want CircularDependencyError", err)
	}
}

func TestZeroDuration(t *testing.T) {
	res := solve(t, []Task{
		{ID: "a", DurationHours: 0},
		{ID: "b", DurationHours: 4, DependsOn: []string{"a"}},
	})
	if res.MakespanHours != 4 {
		t.Fatalf("makespan = %v, want 4", res.MakespanHours)
	}
	if n := res.Node("b"); n.EarliestStart != 0 {
		t.Fatalf("b ES = %v, want 0 after a zero-duration dependency", n.EarliestStart)
	}
}

func TestDeterministicOrder(t *testing.T) {
	tasks := []Task{
		{ID: "z", DurationHours: 1},
		{ID: "a", DurationHours: 1},
		{ID: "m", DurationHours: 1, DependsOn: []string{"a", "z"}},
	}
	first := solve(t, tasks)
	second := solve(t, tasks)
	if len(first.Nodes) != len(second.Nodes) {
		t.Fatal("node counts differ between identical solves")
	}
	for i := range first.Nodes {
		if first.Nodes[i] != second.Nodes[i] {
			t.Fatalf("node %d differs: %+v vs %+v", i, first.Nodes[i], second.Nodes[i])
		}
	}
}

package taskgraph

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/GoCodeAlone/deepagent/task"
)

func tk(id string, status task.Status, blockedBy ...string) *task.Task {
	return &task.Task{ID: id, Title: id, Status: status, BlockedBy: blockedBy}
}

func levelIDs(levels [][]*task.Task) [][]string {
	out := make([][]string, len(levels))
	for i, level := range levels {
		for _, t := range level {
			out[i] = append(out[i], t.ID)
		}
	}
	return out
}

func TestLevels(t *testing.T) {
	cases := []struct {
		name  string
		tasks []*task.Task
		want  [][]string
	}{
		{
			name: "diamond",
			tasks: []*task.Task{
				tk("A", task.StatusPending),
				tk("B", task.StatusBlocked, "A"),
				tk("C", task.StatusBlocked, "A"),
				tk("D", task.StatusBlocked, "B", "C"),
			},
			want: [][]string{{"A"}, {"B", "C"}, {"D"}},
		},
		{
			name: "completed and failed are skipped",
			tasks: []*task.Task{
				tk("A", task.StatusCompleted),
				tk("B", task.StatusPending, "A"),
				tk("F", task.StatusFailed),
				tk("C", task.StatusInProgress),
			},
			want: [][]string{{"B", "C"}},
		},
		{
			name: "cycle lands in trailing level",
			tasks: []*task.Task{
				tk("A", task.StatusPending),
				tk("X", task.StatusBlocked, "Y"),
				tk("Y", task.StatusBlocked, "X"),
				tk("B", task.StatusBlocked, "A"),
			},
			want: [][]string{{"A"}, {"B"}, {"X", "Y"}},
		},
		{
			name: "blocked without unmet dependencies is excluded from levels",
			tasks: []*task.Task{
				tk("A", task.StatusPending),
				tk("S", task.StatusBlocked),
			},
			want: [][]string{{"A"}, {"S"}},
		},
		{
			name: "dependents of failed or missing tasks",
			tasks: []*task.Task{
				tk("F", task.StatusFailed),
				tk("A", task.StatusBlocked, "F"),
				tk("B", task.StatusBlocked, "ghost"),
			},
			want: [][]string{{"A", "B"}},
		},
		{
			name:  "empty",
			tasks: nil,
			want:  [][]string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := levelIDs(Levels(tc.tasks))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLevels_DependenciesPrecedeDependents(t *testing.T) {
	// A chain with fan-out and fan-in; every task must sit strictly after
	// each of its unfinished dependencies.
	tasks := []*task.Task{
		tk("root", task.StatusPending),
		tk("l1a", task.StatusBlocked, "root"),
		tk("l1b", task.StatusBlocked, "root"),
		tk("l2", task.StatusBlocked, "l1a"),
		tk("join", task.StatusBlocked, "l2", "l1b"),
		tk("tail", task.StatusBlocked, "join", "root"),
	}
	levels := Levels(tasks)
	index := map[string]int{}
	for i, level := range levels {
		for _, t := range level {
			index[t.ID] = i
		}
	}
	for _, tsk := range tasks {
		for _, dep := range tsk.BlockedBy {
			if index[tsk.ID] <= index[dep] {
				t.Errorf("%s at level %d, dependency %s at level %d", tsk.ID, index[tsk.ID], dep, index[dep])
			}
		}
	}
	if len(levels) != 5 {
		t.Errorf("got %d levels, want 5", len(levels))
	}
}

func TestExecutionOrder_FromStore(t *testing.T) {
	g, _ := newTestGraph(t)
	created := mustCreate(t, g,
		task.Def{Title: "A"},
		task.Def{Title: "B", BlockedBy: []string{"0"}},
		task.Def{Title: "C", BlockedBy: []string{"0"}},
		task.Def{Title: "D", BlockedBy: []string{"1", "2"}},
	)
	levels, err := g.ExecutionOrder(context.Background())
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}
	var titles [][]string
	for _, level := range levels {
		var row []string
		for _, t := range level {
			row = append(row, t.Title)
		}
		titles = append(titles, row)
	}
	want := [][]string{{"A"}, {"B", "C"}, {"D"}}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("ExecutionOrder mismatch (-want +got):\n%s", diff)
	}

	complete(t, g, created[0].ID)
	levels, _ = g.ExecutionOrder(context.Background())
	if len(levels) != 2 || len(levels[0]) != 2 {
		t.Errorf("after completing A: %v", levelIDs(levels))
	}
}

package taskgraph

import (
	"context"

	"github.com/GoCodeAlone/deepagent/task"
)

// ExecutionOrder groups the session's unfinished tasks into execution levels.
func (g *Graph) ExecutionOrder(ctx context.Context) ([][]*task.Task, error) {
	list, err := g.store.ListTasks(ctx, g.sessionID)
	if err != nil {
		return nil, err
	}
	return Levels(list), nil
}

// Levels computes execution levels with Kahn's algorithm over every task
// that is neither completed nor failed. A task's in-degree counts the
// BlockedBy entries that are not completed. The first level holds tasks
// with in-degree zero whose status is not blocked; each further level holds
// the tasks released by the previous one. Tasks never released (cycles,
// dependents of failed or missing tasks, blocked tasks without unmet
// dependencies) form one trailing level. Order within a level follows the
// input order.
func Levels(tasks []*task.Task) [][]*task.Task {
	completed := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == task.StatusCompleted {
			completed[t.ID] = true
		}
	}

	var active []*task.Task
	indeg := make(map[string]int)
	dependents := make(map[string][]string)
	for _, t := range tasks {
		if t.Status == task.StatusCompleted || t.Status == task.StatusFailed {
			continue
		}
		active = append(active, t)
		indeg[t.ID] = 0
		for _, dep := range t.BlockedBy {
			if completed[dep] {
				continue
			}
			indeg[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	assigned := make(map[string]bool, len(active))
	ready := make(map[string]bool)
	for _, t := range active {
		if indeg[t.ID] == 0 && t.Status != task.StatusBlocked {
			ready[t.ID] = true
		}
	}

	var levels [][]*task.Task
	for len(ready) > 0 {
		var level []*task.Task
		for _, t := range active {
			if ready[t.ID] {
				level = append(level, t)
				assigned[t.ID] = true
			}
		}
		levels = append(levels, level)

		next := make(map[string]bool)
		for _, t := range level {
			for _, d := range dependents[t.ID] {
				indeg[d]--
				if indeg[d] == 0 && !assigned[d] {
					next[d] = true
				}
			}
		}
		ready = next
	}

	var rest []*task.Task
	for _, t := range active {
		if !assigned[t.ID] {
			rest = append(rest, t)
		}
	}
	if len(rest) > 0 {
		levels = append(levels, rest)
	}
	return levels
}

package graph

import "sort"

// Levelise assigns every task its stratum by iterative fixed-point
// relaxation: a task joins the current level once all of its parents hold a
// level strictly below it. A full pass that assigns nothing while unlevelled
// tasks remain means a cycle survived construction, which Build should have
// caught; it is reported as a CycleError all the same.
//
// After levelisation the ordered task list is available via Ordered.
func (g *Graph) Levelise() error {
	tasks := g.Registry.Tasks()
	for _, t := range tasks {
		t.Level = 0
	}

	remaining := len(tasks)
	for currentLevel := 1; remaining > 0; currentLevel++ {
		assigned := 0
		for _, t := range tasks {
			if t.Level != 0 {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				parent := g.Registry.Get(dep.Parent)
				if parent.Level == 0 || parent.Level >= currentLevel {
					ready = false
					break
				}
			}
			if ready {
				t.Level = currentLevel
				assigned++
			}
		}
		if assigned == 0 {
			return g.unlevelledCycle()
		}
		remaining -= assigned
	}

	g.sortTaskList()
	return nil
}

// unlevelledCycle packages the still-unlevelled tasks as a cycle witness.
func (g *Graph) unlevelledCycle() error {
	var stuck []TaskID
	for _, t := range g.Registry.Tasks() {
		if t.Level == 0 {
			stuck = append(stuck, t.ID)
		}
	}
	return &CycleError{Cycle: stuck}
}

// sortTaskList orders tasks by (level ASC, priority DESC, id ASC). Ids are
// unique so the order is fully deterministic.
func (g *Graph) sortTaskList() {
	ordered := make([]TaskID, 0, g.Registry.Len())
	for _, t := range g.Registry.Tasks() {
		ordered = append(ordered, t.ID)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := g.Registry.Get(ordered[i]), g.Registry.Get(ordered[j])
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	g.ordered = ordered
}

// Ordered returns the level-sorted task list. Empty before Levelise.
func (g *Graph) Ordered() []TaskID {
	return g.ordered
}

// Levels partitions the ordered task list by level, in ascending level order.
func (g *Graph) Levels() [][]TaskID {
	var levels [][]TaskID
	for _, id := range g.ordered {
		level := g.Registry.Get(id).Level
		for len(levels) < level {
			levels = append(levels, nil)
		}
		levels[level-1] = append(levels[level-1], id)
	}
	return levels
}

package graph

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/stratasim/stratasim/internal/model"
)

// CycleError reports a dependency cycle. Cycle holds the participating task
// ids in walk order.
type CycleError struct {
	Cycle []TaskID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Graph is the dependency DAG built from a validated model, plus lookup maps
// used by the execution layer and the tests.
type Graph struct {
	Registry *Registry

	funcTasks  map[string]TaskID // agent/function -> task
	syncStart  map[string]TaskID // message name -> sync_start task
	syncFinish map[string]TaskID // message name -> sync_finish task
	dataTasks  map[string]TaskID // agent/variable -> io_pop_write task

	ordered []TaskID // populated by Levelise
}

// FunctionTask returns the agent-function task for agent/function.
func (g *Graph) FunctionTask(agent, function string) (TaskID, bool) {
	id, ok := g.funcTasks[agent+"/"+function]
	return id, ok
}

// SyncStartTask returns the sync_start task for a message name.
func (g *Graph) SyncStartTask(message string) (TaskID, bool) {
	id, ok := g.syncStart[message]
	return id, ok
}

// SyncFinishTask returns the sync_finish task for a message name.
func (g *Graph) SyncFinishTask(message string) (TaskID, bool) {
	id, ok := g.syncFinish[message]
	return id, ok
}

// DataTask returns the io_pop_write task for agent/variable.
func (g *Graph) DataTask(agent, variable string) (TaskID, bool) {
	id, ok := g.dataTasks[agent+"/"+variable]
	return id, ok
}

// Build constructs the task DAG from a validated model in four phases:
// agent-function tasks, state edges, communication edges, data edges. The
// returned graph has passed the cycle check but is not yet levelised.
func Build(m *model.Model) (*Graph, error) {
	if !m.IsValidated() {
		return nil, fmt.Errorf("graph: model %q has not been validated", m.Name)
	}

	g := &Graph{
		Registry:   NewRegistry(),
		funcTasks:  make(map[string]TaskID),
		syncStart:  make(map[string]TaskID),
		syncFinish: make(map[string]TaskID),
		dataTasks:  make(map[string]TaskID),
	}

	g.catalogFunctionTasks(m)
	g.catalogStateEdges(m)
	g.catalogCommunicationEdges(m)
	g.catalogDataEdges(m)

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// catalogFunctionTasks creates one AgentFunction task per declared function,
// carrying the function's variable and message access sets.
func (g *Graph) catalogFunctionTasks(m *model.Model) {
	for _, agent := range m.Agents() {
		for _, fn := range agent.Functions {
			t := NewTask(KindAgentFunction, agent.Name, fn.Name)
			for _, v := range fn.ReadOnly {
				t.ReadOnlyVars[v] = true
				t.ReadVars[v] = true
			}
			for _, v := range fn.ReadWrite {
				t.ReadVars[v] = true
				t.WriteVars[v] = true
			}
			for _, msg := range fn.Inputs {
				t.ReadsMsgs[msg] = true
			}
			for _, msg := range fn.Outputs {
				t.PostsMsgs[msg] = true
			}
			g.Registry.Register(t)
			g.funcTasks[agent.Name+"/"+fn.Name] = t.ID
		}
	}
}

// catalogStateEdges links each function to every function of the same agent
// that transitions into its current state.
func (g *Graph) catalogStateEdges(m *model.Model) {
	for _, agent := range m.Agents() {
		for _, fn := range agent.Functions {
			child := g.Registry.Get(g.funcTasks[agent.Name+"/"+fn.Name])
			for _, other := range agent.Functions {
				if other.NextState == fn.CurrentState {
					parent := g.funcTasks[agent.Name+"/"+other.Name]
					child.AddDependency(DepState, fn.CurrentState, parent)
				}
			}
		}
	}
}

// catalogCommunicationEdges creates the sync task pair per message and the
// poster/reader edges around it: every poster completes before sync_start,
// every reader waits for sync_finish.
func (g *Graph) catalogCommunicationEdges(m *model.Model) {
	for _, msg := range m.Messages() {
		start := NewTask(KindSyncStart, msg.Name, "sync_start")
		g.Registry.Register(start)
		g.syncStart[msg.Name] = start.ID

		finish := NewTask(KindSyncFinish, msg.Name, "sync_finish")
		g.Registry.Register(finish)
		g.syncFinish[msg.Name] = finish.ID

		finish.AddDependency(DepCommunication, msg.Name, start.ID)
	}

	for _, agent := range m.Agents() {
		for _, fn := range agent.Functions {
			fnID := g.funcTasks[agent.Name+"/"+fn.Name]
			for _, out := range fn.Outputs {
				start := g.Registry.Get(g.syncStart[out])
				start.AddDependency(DepCommunication, out, fnID)
			}
			for _, in := range fn.Inputs {
				child := g.Registry.Get(fnID)
				child.AddDependency(DepCommunication, in, g.syncFinish[in])
			}
		}
	}
}

// catalogDataEdges creates one IoPopWrite task per agent variable, depending
// on the last function (declaration order) that writes the variable, or the
// last declared function when none writes it. Agents that declare no
// functions get no data tasks.
func (g *Graph) catalogDataEdges(m *model.Model) {
	for _, agent := range m.Agents() {
		for _, v := range agent.Variables {
			if len(agent.Functions) == 0 {
				continue
			}
			t := NewTask(KindIoPopWrite, agent.Name, v.Name)
			t.WriteVars[v.Name] = true
			g.Registry.Register(t)
			g.dataTasks[agent.Name+"/"+v.Name] = t.ID

			var lastWriter *model.Function
			for _, fn := range agent.Functions {
				if writesVariable(fn, v.Name) {
					lastWriter = fn
				}
			}
			last := lastWriter
			if last == nil {
				last = agent.Functions[len(agent.Functions)-1]
			}
			parent := g.funcTasks[agent.Name+"/"+last.Name]
			t.AddDependency(DepData, v.Name, parent)
			t.Level = g.Registry.Get(parent).Level + 1
		}
	}
}

func writesVariable(fn *model.Function, name string) bool {
	for _, v := range fn.ReadWrite {
		if v == name {
			return true
		}
	}
	return false
}

// checkCycles runs a topological sort over the edge set and, on failure,
// walks the graph depth-first to extract a cycle witness.
func (g *Graph) checkCycles() error {
	var edges []toposort.Edge
	for _, t := range g.Registry.Tasks() {
		if len(t.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			// Edge (parent, child): parent must come before child.
			edges = append(edges, toposort.Edge{dep.Parent, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err == nil {
		return nil
	}
	return g.findCycle()
}

// findCycle extracts a cycle witness with a coloured depth-first search.
// Called only after toposort reported a cycle, so it always finds one.
func (g *Graph) findCycle() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[TaskID]int, g.Registry.Len())
	var stack []TaskID

	var visit func(id TaskID) *CycleError
	visit = func(id TaskID) *CycleError {
		colour[id] = grey
		stack = append(stack, id)
		for _, dep := range g.Registry.Get(id).Dependencies {
			switch colour[dep.Parent] {
			case grey:
				// Back edge: slice the stack from the first occurrence.
				for i, sid := range stack {
					if sid == dep.Parent {
						cycle := append([]TaskID{}, stack[i:]...)
						return &CycleError{Cycle: append(cycle, dep.Parent)}
					}
				}
			case white:
				if err := visit(dep.Parent); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return nil
	}

	for _, t := range g.Registry.Tasks() {
		if colour[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("graph: cycle reported by toposort but no witness found")
}

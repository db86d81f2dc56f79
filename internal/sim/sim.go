// Package sim ties the runtime together: it validates a model, builds and
// levelises its task graph, owns agent memory and message boards, and runs
// iterations on the splitting queue's worker pool.
package sim

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/stratasim/stratasim/internal/board"
	"github.com/stratasim/stratasim/internal/config"
	"github.com/stratasim/stratasim/internal/events"
	"github.com/stratasim/stratasim/internal/exe"
	"github.com/stratasim/stratasim/internal/graph"
	"github.com/stratasim/stratasim/internal/mem"
	"github.com/stratasim/stratasim/internal/model"
	"github.com/stratasim/stratasim/internal/popio"
)

// Verdict is what an agent function reports for the row it just processed.
type Verdict int

const (
	VerdictAlive Verdict = iota
	VerdictDead          // row is removed at the end of the iteration
)

// Context is the per-row execution context handed to an agent function: a
// memory view restricted to the function's declared variables and board
// access restricted to its declared message reads and posts.
type Context struct {
	Mem    *mem.View
	Boards *BoardAccess
}

// AgentFunc is a user-supplied agent function, called once per live row.
type AgentFunc func(c *Context) (Verdict, error)

// BoardAccess restricts board use to a task's declared message sets.
type BoardAccess struct {
	mgr   *board.Manager
	reads map[string]bool
	posts map[string]bool
}

// Post appends a message to a declared output board.
func (b *BoardAccess) Post(name string, msg board.Message) error {
	if !b.posts[name] {
		return fmt.Errorf("%w: message %q is not a declared output", board.ErrPhase, name)
	}
	brd, err := b.mgr.Get(name)
	if err != nil {
		return err
	}
	return brd.Post(msg)
}

// Read returns an iterator over a declared input board.
func (b *BoardAccess) Read(name string) (*board.Iterator, error) {
	if !b.reads[name] {
		return nil, fmt.Errorf("%w: message %q is not a declared input", board.ErrPhase, name)
	}
	brd, err := b.mgr.Get(name)
	if err != nil {
		return nil, err
	}
	return brd.Iterator()
}

// Simulation is one loaded model plus the runtime state needed to iterate it.
type Simulation struct {
	model  *model.Model
	cfg    *config.Config
	g      *graph.Graph
	memory *mem.Manager
	boards *board.Manager
	funcs  map[string]AgentFunc
	sink   popio.Sink
	bus    *events.EventBus

	// Current iteration number, written before each iteration is scheduled
	// and read by task bodies evaluating time conditions.
	iteration int
}

// New validates the model, builds and levelises the dependency graph, and
// registers agent memory and message boards. Construction errors (validation
// failures, dependency cycles) surface here, before any worker starts.
func New(m *model.Model, cfg *config.Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !m.IsValidated() {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	g, err := graph.Build(m)
	if err != nil {
		return nil, err
	}
	if err := g.Levelise(); err != nil {
		return nil, err
	}

	memory := mem.NewManager()
	for _, a := range m.Agents() {
		memory.RegisterAgent(a.Name)
		for _, v := range a.Variables {
			if err := memory.RegisterVariable(a.Name, v.Name, v.Type); err != nil {
				return nil, err
			}
		}
	}

	boards := board.NewManager()
	for _, msg := range m.Messages() {
		boards.Register(msg.Name)
	}

	s := &Simulation{
		model:  m,
		cfg:    cfg,
		g:      g,
		memory: memory,
		boards: boards,
		funcs:  make(map[string]AgentFunc),
		bus:    events.NewEventBus(),
	}
	s.sink = popio.NewXMLSink(m, memory, cfg.OutputPrefix)
	return s, nil
}

// RegisterAgentFunction binds a user function to the function name used in
// the model.
func (s *Simulation) RegisterAgentFunction(name string, fn AgentFunc) {
	s.funcs[name] = fn
}

// SetSink replaces the population sink; used to wire the resilient decorator
// or a test double.
func (s *Simulation) SetSink(sink popio.Sink) {
	s.sink = sink
}

// Bus returns the simulation's event bus.
func (s *Simulation) Bus() *events.EventBus {
	return s.bus
}

// Graph exposes the built graph for diagnostics.
func (s *Simulation) Graph() *graph.Graph {
	return s.g
}

// Memory exposes the memory manager, mainly for tests and population I/O.
func (s *Simulation) Memory() *mem.Manager {
	return s.memory
}

// LoadPopulation reads a population XML file into agent memory.
func (s *Simulation) LoadPopulation(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", popio.ErrIO, err)
	}
	defer f.Close()
	return popio.ReadPop(f, s.model, s.memory)
}

// DumpGraph writes the dependency graph in Graphviz dot form.
func (s *Simulation) DumpGraph(w io.Writer) error {
	return s.g.WriteDot(w)
}

// DumpTaskList writes the level-sorted task list diagnostic.
func (s *Simulation) DumpTaskList(w io.Writer) error {
	return s.g.WriteTaskList(w)
}

// checkCallbacks verifies every model function has a registered callback.
func (s *Simulation) checkCallbacks() error {
	for _, a := range s.model.Agents() {
		for _, fn := range a.Functions {
			if _, ok := s.funcs[fn.Name]; !ok {
				return fmt.Errorf("%w: agent function has not been registered: %q",
					model.ErrValidation, fn.Name)
			}
		}
	}
	return nil
}

// Run executes the given number of complete iterations on slots workers.
// The first task failure aborts its iteration at the level barrier and is
// returned; completed iterations before it stay persisted.
func (s *Simulation) Run(ctx context.Context, iterations, slots int) error {
	if iterations < 1 {
		return fmt.Errorf("%w: iterations must be > 0", exe.ErrInvalidArgument)
	}
	if slots < 1 {
		return fmt.Errorf("%w: slots must be > 0", exe.ErrInvalidArgument)
	}
	if err := s.checkCallbacks(); err != nil {
		return err
	}

	opts := s.cfg.QueueOptions()
	opts.Slots = slots

	queue, err := exe.NewSplittingQueue(s.g.Registry, s.memory, opts)
	if err != nil {
		return err
	}
	sched := exe.NewScheduler(s.g, queue, s.bus)

	queue.Start(&dispatch{sim: s})
	defer queue.Shutdown()

	for it := 1; it <= iterations; it++ {
		s.iteration = it
		if err := sched.RunIteration(ctx, it); err != nil {
			return err
		}
		s.boards.ResetAll()
		if removed := s.memory.CompactDead(); removed > 0 {
			log.Printf("iteration %d: removed %d dead rows", it, removed)
		}
		if err := s.sink.Finalise(it); err != nil {
			return err
		}
	}
	return nil
}

// dispatch is the per-kind task body table the workers invoke.
type dispatch struct {
	sim *Simulation
}

// Execute runs one task body over a row range. Only agent-function tasks use
// the range; the other kinds act on whole boards or columns.
func (d *dispatch) Execute(t *graph.Task, rows exe.RowRange) error {
	switch t.Kind {
	case graph.KindAgentFunction:
		return d.runAgentFunction(t, rows)
	case graph.KindSyncStart:
		b, err := d.sim.boards.Get(t.ParentName)
		if err != nil {
			return err
		}
		return b.SyncStart()
	case graph.KindSyncFinish:
		b, err := d.sim.boards.Get(t.ParentName)
		if err != nil {
			return err
		}
		return b.SyncFinish()
	case graph.KindIoPopWrite:
		return d.sim.sink.WriteVariable(t.ParentName, t.Name)
	}
	return nil
}

func (d *dispatch) runAgentFunction(t *graph.Task, rows exe.RowRange) error {
	fn := d.sim.funcs[t.Name]
	view, err := d.sim.memory.NewView(t.ParentName, t.ReadVars, t.WriteVars)
	if err != nil {
		return err
	}
	access := &BoardAccess{mgr: d.sim.boards, reads: t.ReadsMsgs, posts: t.PostsMsgs}

	var cond *model.Condition
	if a := d.sim.model.Agent(t.ParentName); a != nil {
		if f := a.Function(t.Name); f != nil {
			cond = f.Condition
		}
	}

	for row := rows.Begin; row < rows.End; row++ {
		if cond != nil {
			ok, err := cond.Eval(d.condReader(t.ParentName, row), d.sim.iteration)
			if err != nil {
				return fmt.Errorf("%s/%s row %d condition: %w", t.ParentName, t.Name, row, err)
			}
			if !ok {
				continue
			}
		}
		view.Seek(row)
		verdict, err := fn(&Context{Mem: view, Boards: access})
		if err != nil {
			return fmt.Errorf("%s/%s row %d: %w", t.ParentName, t.Name, row, err)
		}
		if verdict == VerdictDead {
			if err := d.sim.memory.MarkDead(t.ParentName, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// condReader resolves agent variables to numeric values for condition
// evaluation. It reads columns directly: the condition belongs to the model,
// not the user callback, so the task's declared access sets do not apply.
func (d *dispatch) condReader(agent string, row int) model.VarReader {
	return func(name string) (float64, error) {
		col, err := d.sim.memory.Column(agent, name)
		if err != nil {
			return 0, err
		}
		switch col.Type {
		case model.TypeInt:
			return float64(col.Ints[row]), nil
		case model.TypeDouble:
			return col.Doubles[row], nil
		default:
			return 0, fmt.Errorf("%w: variable %q is not numeric", model.ErrValidation, name)
		}
	}
}

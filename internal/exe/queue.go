// Package exe executes an ordered task list on a pool of worker goroutines.
// A splitting FIFO queue divides data-parallel tasks into sub-tasks whose
// completion is aggregated before the scheduler is notified; the scheduler
// drives one iteration level by level.
package exe

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stratasim/stratasim/internal/graph"
)

// ErrInvalidArgument tags configuration constraint violations.
var ErrInvalidArgument = errors.New("invalid argument")

// TaskIDConflictError reports a duplicate task id in the queue's split map.
// It is an invariant breach and is delivered by panic.
type TaskIDConflictError struct {
	ID graph.TaskID
}

func (e *TaskIDConflictError) Error() string {
	return fmt.Sprintf("task id conflict: %d already in split map", e.ID)
}

// TaskError wraps a failure reported by a task body, carrying the offending
// task id.
type TaskError struct {
	ID  graph.TaskID
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d execution failed: %v", e.ID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Assignment is what GetNext hands a worker: a task id plus the row window it
// is to cover. For split tasks the window is one sub-task's chunk; for whole
// agent-function tasks it spans the full population; other kinds get an empty
// window.
type Assignment struct {
	ID      graph.TaskID
	Rows    RowRange
	SubTask bool
}

// Runner executes one task body over a row range. Implemented by the
// simulation facade's per-kind dispatch table.
type Runner interface {
	Execute(task *graph.Task, rows RowRange) error
}

// PopSizer reports the current population size of an agent; the queue uses
// it to size splits. Implemented by mem.Manager.
type PopSizer interface {
	PopulationSize(agent string) int
}

// Options configures the queue and its worker pool.
type Options struct {
	Slots         int
	MaxSplits     int
	MinVectorSize int
	Splittable    map[graph.Kind]bool
}

// DefaultMinVectorSize is the minimum rows per sub-task unless configured.
const DefaultMinVectorSize = 50

// SplittingQueue is a FIFO of task ids with a side map from split task ids to
// their splitters. A single mutex guards the FIFO, the split map, and every
// splitter counter; Enqueue, GetNext, and TaskDone are linearisable under it.
type SplittingQueue struct {
	mu    sync.Mutex
	ready *sync.Cond

	fifo     []graph.TaskID
	splitMap map[graph.TaskID]*Splitter

	reg   *graph.Registry
	sizer PopSizer
	opts  Options

	onDone func(graph.TaskID)
	onFail func(graph.TaskID, error)

	aborted bool
	pool    *errgroup.Group
	started bool
}

// NewSplittingQueue validates the options and creates a queue. Workers are
// not started until Start.
func NewSplittingQueue(reg *graph.Registry, sizer PopSizer, opts Options) (*SplittingQueue, error) {
	if opts.Slots < 1 {
		return nil, fmt.Errorf("%w: slots must be > 0", ErrInvalidArgument)
	}
	if opts.MaxSplits < 1 {
		return nil, fmt.Errorf("%w: max_splits must be > 0", ErrInvalidArgument)
	}
	if opts.MinVectorSize < 1 {
		return nil, fmt.Errorf("%w: min_vector_size must be > 0", ErrInvalidArgument)
	}
	q := &SplittingQueue{
		splitMap: make(map[graph.TaskID]*Splitter),
		reg:      reg,
		sizer:    sizer,
		opts:     opts,
	}
	q.ready = sync.NewCond(&q.mu)
	return q, nil
}

// SetCompletionCallback installs the upstream completion callback. It is
// invoked with the original task id once per task, sub-tasks aggregated,
// while the queue mutex is held.
func (q *SplittingQueue) SetCompletionCallback(fn func(graph.TaskID)) {
	q.onDone = fn
}

// SetFailureCallback installs the failure sink invoked from worker context
// when a task body reports an error.
func (q *SplittingQueue) SetFailureCallback(fn func(graph.TaskID, error)) {
	q.onFail = fn
}

// Start launches the worker pool. Each worker pulls assignments until it
// receives the TERM sentinel.
func (q *SplittingQueue) Start(runner Runner) {
	if q.started {
		return
	}
	q.started = true
	q.pool = new(errgroup.Group)
	for i := 0; i < q.opts.Slots; i++ {
		q.pool.Go(func() error {
			q.workerLoop(runner)
			return nil
		})
	}
}

// workerLoop is one worker: pull, execute, report, until TERM.
func (q *SplittingQueue) workerLoop(runner Runner) {
	for {
		a := q.GetNext()
		if a.ID == graph.TermTaskID {
			return
		}
		if !q.isAborted() {
			if err := q.runOne(runner, a); err != nil {
				if q.onFail != nil {
					q.onFail(a.ID, err)
				}
			}
		}
		q.TaskDone(a.ID)
	}
}

// runOne executes a task body, converting panics from user callbacks into
// task errors so a misbehaving callback cannot take down a worker.
func (q *SplittingQueue) runOne(runner Runner, a Assignment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{ID: a.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if execErr := runner.Execute(q.reg.Get(a.ID), a.Rows); execErr != nil {
		return &TaskError{ID: a.ID, Err: execErr}
	}
	return nil
}

// Enqueue pushes a task id onto the FIFO tail. Splittable tasks that yield
// more than one chunk register their splitter and wake every worker; other
// tasks wake one. Registering a duplicate id in the split map is an
// invariant breach and panics with a TaskIDConflictError.
func (q *SplittingQueue) Enqueue(id graph.TaskID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.fifo = append(q.fifo, id)

	if id != graph.TermTaskID {
		t := q.reg.Get(id)
		if q.opts.Splittable[t.Kind] {
			n := q.sizer.PopulationSize(t.ParentName)
			if sp := NewSplitter(id, n, q.opts.MaxSplits, q.opts.MinVectorSize); sp != nil {
				if _, dup := q.splitMap[id]; dup {
					panic(&TaskIDConflictError{ID: id})
				}
				q.splitMap[id] = sp
				q.ready.Broadcast()
				return
			}
		}
	}

	q.ready.Signal()
}

// GetNext blocks until the FIFO is non-empty and returns the next
// assignment. A split task stays at the head until its last sub-task is
// handed out; sub-tasks are assigned in order.
func (q *SplittingQueue) GetNext() Assignment {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.fifo) == 0 {
		q.ready.Wait()
	}

	id := q.fifo[0]
	if sp, ok := q.splitMap[id]; ok {
		rows, nonePending := sp.NextSubtask()
		if nonePending {
			q.fifo = q.fifo[1:]
		}
		return Assignment{ID: id, Rows: rows, SubTask: true}
	}

	q.fifo = q.fifo[1:]
	rows := RowRange{}
	if id != graph.TermTaskID {
		t := q.reg.Get(id)
		if t.Kind == graph.KindAgentFunction {
			rows = RowRange{Begin: 0, End: q.sizer.PopulationSize(t.ParentName)}
		}
	}
	return Assignment{ID: id, Rows: rows}
}

// TaskDone records one completed assignment. For split tasks the completion
// callback fires only when the last sub-task finishes; the id passed upstream
// is always the original task id.
func (q *SplittingQueue) TaskDone(id graph.TaskID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if sp, ok := q.splitMap[id]; ok {
		if !sp.OneDone() {
			return
		}
		delete(q.splitMap, id)
	}
	if q.onDone != nil {
		q.onDone(id)
	}
}

// Empty reports whether no work is queued or being split.
func (q *SplittingQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo) == 0 && len(q.splitMap) == 0
}

// Abort flags the queue so workers skip execution of subsequently assigned
// tasks. TaskDone bookkeeping still runs, keeping shutdown clean.
func (q *SplittingQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = true
}

// ResetAbort clears the abort flag between iterations.
func (q *SplittingQueue) ResetAbort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = false
}

func (q *SplittingQueue) isAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Shutdown enqueues one TERM per worker and joins the pool.
func (q *SplittingQueue) Shutdown() {
	if !q.started {
		return
	}
	for i := 0; i < q.opts.Slots; i++ {
		q.Enqueue(graph.TermTaskID)
	}
	_ = q.pool.Wait()
	q.started = false
}

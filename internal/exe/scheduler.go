package exe

import (
	"context"
	"sync"
	"time"

	"github.com/stratasim/stratasim/internal/events"
	"github.com/stratasim/stratasim/internal/graph"
)

// Scheduler drives one iteration over a levelised graph: it submits every
// task of a level to the queue, waits until the queue has signalled as many
// completions, then advances. A task failure surfaces at the level barrier;
// remaining levels of that iteration are skipped.
type Scheduler struct {
	g   *graph.Graph
	q   *SplittingQueue
	bus *events.EventBus // optional

	mu        sync.Mutex
	cond      *sync.Cond
	completed int
	iteration int
	failures  []*TaskError
}

// NewScheduler wires a scheduler to its queue. The queue's completion and
// failure callbacks are claimed by the scheduler; bus may be nil.
func NewScheduler(g *graph.Graph, q *SplittingQueue, bus *events.EventBus) *Scheduler {
	s := &Scheduler{g: g, q: q, bus: bus}
	s.cond = sync.NewCond(&s.mu)
	q.SetCompletionCallback(s.taskDone)
	q.SetFailureCallback(s.taskFailed)
	return s
}

// taskDone is the queue's completion callback; called with the queue mutex
// held, once per original task id.
func (s *Scheduler) taskDone(id graph.TaskID) {
	s.mu.Lock()
	s.completed++
	iteration := s.iteration
	s.mu.Unlock()
	s.cond.Signal()

	if s.bus != nil {
		t := s.g.Registry.Get(id)
		s.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			ID:         id,
			Kind:       t.Kind,
			ParentName: t.ParentName,
			Name:       t.Name,
			Level:      t.Level,
			Iteration:  iteration,
			Timestamp:  time.Now(),
		})
	}
}

// taskFailed is the queue's failure sink; called from worker context.
func (s *Scheduler) taskFailed(id graph.TaskID, err error) {
	te, ok := err.(*TaskError)
	if !ok {
		te = &TaskError{ID: id, Err: err}
	}
	s.mu.Lock()
	s.failures = append(s.failures, te)
	iteration := s.iteration
	s.mu.Unlock()

	if s.bus != nil {
		t := s.g.Registry.Get(id)
		s.bus.Publish(events.TopicTask, events.TaskFailedEvent{
			ID:         id,
			Kind:       t.Kind,
			ParentName: t.ParentName,
			Name:       t.Name,
			Level:      t.Level,
			Iteration:  iteration,
			Err:        te.Err,
			Timestamp:  time.Now(),
		})
	}
}

// RunIteration executes one complete iteration. It returns the first task
// failure, or the context error if cancellation was observed between levels.
func (s *Scheduler) RunIteration(ctx context.Context, iteration int) error {
	s.mu.Lock()
	s.failures = nil
	s.iteration = iteration
	s.mu.Unlock()
	s.q.ResetAbort()

	started := time.Now()
	for levelIdx, level := range s.g.Levels() {
		if err := ctx.Err(); err != nil {
			s.q.Abort()
			return err
		}

		s.mu.Lock()
		s.completed = 0
		s.mu.Unlock()

		// Within a level the ordered list already ranks by priority then id.
		for _, id := range level {
			s.q.Enqueue(id)
		}

		s.mu.Lock()
		for s.completed < len(level) {
			s.cond.Wait()
		}
		var first *TaskError
		if len(s.failures) > 0 {
			first = s.failures[0]
		}
		s.mu.Unlock()

		if s.bus != nil {
			s.bus.Publish(events.TopicLevel, events.LevelCompletedEvent{
				Iteration: iteration,
				Level:     levelIdx + 1,
				Tasks:     len(level),
				Timestamp: time.Now(),
			})
		}

		if first != nil {
			s.q.Abort()
			if s.bus != nil {
				s.bus.Publish(events.TopicIteration, events.IterationAbortedEvent{
					Iteration: iteration,
					Err:       first,
					Timestamp: time.Now(),
				})
			}
			return first
		}
	}

	if s.bus != nil {
		s.bus.Publish(events.TopicIteration, events.IterationCompletedEvent{
			Iteration: iteration,
			Duration:  time.Since(started),
			Timestamp: time.Now(),
		})
	}
	return nil
}

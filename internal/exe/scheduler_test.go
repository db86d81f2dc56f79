package exe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stratasim/stratasim/internal/graph"
)

// chainGraph hand-builds a three-level graph:
// level 1: t0, t1 (independent), level 2: t2 (deps t0, t1), level 3: t3 (dep t2).
func chainGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := &graph.Graph{Registry: graph.NewRegistry()}
	t0 := graph.NewTask(graph.KindAgentFunction, "A", "F0")
	t1 := graph.NewTask(graph.KindAgentFunction, "B", "F1")
	t2 := graph.NewTask(graph.KindAgentFunction, "A", "F2")
	t3 := graph.NewTask(graph.KindIoPopWrite, "A", "x")
	for _, task := range []*graph.Task{t0, t1, t2, t3} {
		g.Registry.Register(task)
	}
	t2.AddDependency(graph.DepState, "s", t0.ID)
	t2.AddDependency(graph.DepState, "s", t1.ID)
	t3.AddDependency(graph.DepData, "x", t2.ID)
	if err := g.Levelise(); err != nil {
		t.Fatalf("levelise: %v", err)
	}
	return g
}

// levelRecorder records the level of every executed task, in execution order.
type levelRecorder struct {
	mu     sync.Mutex
	levels []int
	fail   map[graph.TaskID]error
}

func (r *levelRecorder) Execute(task *graph.Task, rows RowRange) error {
	r.mu.Lock()
	r.levels = append(r.levels, task.Level)
	r.mu.Unlock()
	if r.fail != nil {
		if err, ok := r.fail[task.ID]; ok {
			return err
		}
	}
	return nil
}

func newTestScheduler(t *testing.T, g *graph.Graph, slots int, runner Runner) (*Scheduler, *SplittingQueue) {
	t.Helper()
	q, err := NewSplittingQueue(g.Registry, fixedSizer{"A": 4, "B": 4}, noSplitOptions(slots))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	s := NewScheduler(g, q, nil)
	q.Start(runner)
	return s, q
}

// TestSchedulerLevelBarriers checks that every task of level k executes
// before any task of level k+1.
func TestSchedulerLevelBarriers(t *testing.T) {
	for _, slots := range []int{1, 4} {
		g := chainGraph(t)
		runner := &levelRecorder{}
		s, q := newTestScheduler(t, g, slots, runner)

		if err := s.RunIteration(context.Background(), 1); err != nil {
			t.Fatalf("slots=%d: run iteration: %v", slots, err)
		}
		q.Shutdown()

		if len(runner.levels) != 4 {
			t.Fatalf("slots=%d: executed %d tasks, want 4", slots, len(runner.levels))
		}
		for i := 1; i < len(runner.levels); i++ {
			if runner.levels[i] < runner.levels[i-1] {
				t.Errorf("slots=%d: level %d executed after level %d",
					slots, runner.levels[i], runner.levels[i-1])
			}
		}
	}
}

// TestSchedulerFailureAbortsIteration checks that a level-1 failure surfaces
// as a TaskError and level 3 never runs.
func TestSchedulerFailureAbortsIteration(t *testing.T) {
	g := chainGraph(t)
	boom := errors.New("boom")
	runner := &levelRecorder{fail: map[graph.TaskID]error{0: boom}}
	s, q := newTestScheduler(t, g, 2, runner)
	defer q.Shutdown()

	err := s.RunIteration(context.Background(), 1)
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TaskError", err)
	}
	if te.ID != 0 || !errors.Is(te, boom) {
		t.Errorf("task error = %v, want task 0 wrapping boom", te)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, level := range runner.levels {
		if level > 1 {
			t.Errorf("level %d task executed after level-1 failure", level)
		}
	}
}

// TestSchedulerRecoversAcrossIterations checks that an aborted iteration does
// not poison the next one.
func TestSchedulerRecoversAcrossIterations(t *testing.T) {
	g := chainGraph(t)
	boom := errors.New("boom")
	runner := &levelRecorder{fail: map[graph.TaskID]error{0: boom}}
	s, q := newTestScheduler(t, g, 2, runner)
	defer q.Shutdown()

	if err := s.RunIteration(context.Background(), 1); err == nil {
		t.Fatal("expected first iteration to fail")
	}

	runner.mu.Lock()
	runner.fail = nil
	runner.levels = nil
	runner.mu.Unlock()

	if err := s.RunIteration(context.Background(), 2); err != nil {
		t.Fatalf("second iteration: %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.levels) != 4 {
		t.Errorf("second iteration executed %d tasks, want 4", len(runner.levels))
	}
}

// TestSchedulerContextCancelled checks that cancellation between levels
// aborts the iteration with the context error.
func TestSchedulerContextCancelled(t *testing.T) {
	g := chainGraph(t)
	runner := &levelRecorder{}
	s, q := newTestScheduler(t, g, 1, runner)
	defer q.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.RunIteration(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

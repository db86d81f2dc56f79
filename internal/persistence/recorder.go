package persistence

import (
	"context"
	"log"

	"github.com/stratasim/stratasim/internal/events"
)

// Recorder consumes simulation events and writes them to the store. It runs
// on its own goroutine, draining a bus subscription until the channel closes.
// Store errors are logged, not propagated: history recording must never take
// a running simulation down.
type Recorder struct {
	store Store
	runID string
}

// NewRecorder creates a recorder for one run.
func NewRecorder(store Store, runID string) *Recorder {
	return &Recorder{store: store, runID: runID}
}

// Drain consumes events until ch closes or ctx is cancelled.
func (r *Recorder) Drain(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.TaskCompletedEvent:
		err := r.store.SaveTaskRun(ctx, TaskRun{
			RunID:      r.runID,
			Iteration:  e.Iteration,
			TaskID:     int(e.ID),
			Kind:       e.Kind.String(),
			ParentName: e.ParentName,
			Name:       e.Name,
			Level:      e.Level,
		})
		if err != nil {
			log.Printf("WARNING: failed to record task %d: %v", e.ID, err)
		}
	case events.TaskFailedEvent:
		err := r.store.SaveTaskRun(ctx, TaskRun{
			RunID:      r.runID,
			Iteration:  e.Iteration,
			TaskID:     int(e.ID),
			Kind:       e.Kind.String(),
			ParentName: e.ParentName,
			Name:       e.Name,
			Level:      e.Level,
			Error:      e.Err.Error(),
		})
		if err != nil {
			log.Printf("WARNING: failed to record task failure %d: %v", e.ID, err)
		}
	case events.IterationCompletedEvent:
		err := r.store.SaveIteration(ctx, IterationRun{
			RunID:      r.runID,
			Iteration:  e.Iteration,
			DurationMS: e.Duration.Milliseconds(),
			Status:     "completed",
		})
		if err != nil {
			log.Printf("WARNING: failed to record iteration %d: %v", e.Iteration, err)
		}
	case events.IterationAbortedEvent:
		err := r.store.SaveIteration(ctx, IterationRun{
			RunID:     r.runID,
			Iteration: e.Iteration,
			Status:    "aborted",
		})
		if err != nil {
			log.Printf("WARNING: failed to record aborted iteration %d: %v", e.Iteration, err)
		}
	}
}

package events

import (
	"time"

	"github.com/stratasim/stratasim/internal/graph"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicLevel     = "level"
	TopicIteration = "iteration"
)

// Event type constants
const (
	EventTypeTaskCompleted      = "task.completed"
	EventTypeTaskFailed         = "task.failed"
	EventTypeLevelCompleted     = "level.completed"
	EventTypeIterationCompleted = "iteration.completed"
	EventTypeIterationAborted   = "iteration.aborted"
)

// TaskCompletedEvent is published when a task (all sub-tasks aggregated)
// completes.
type TaskCompletedEvent struct {
	ID         graph.TaskID
	Kind       graph.Kind
	ParentName string
	Name       string
	Level      int
	Iteration  int
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }

// TaskFailedEvent is published when a task body reports failure.
type TaskFailedEvent struct {
	ID         graph.TaskID
	Kind       graph.Kind
	ParentName string
	Name       string
	Level      int
	Iteration  int
	Err        error
	Timestamp  time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }

// LevelCompletedEvent is published when every task of a level has completed.
type LevelCompletedEvent struct {
	Iteration int
	Level     int
	Tasks     int
	Timestamp time.Time
}

func (e LevelCompletedEvent) EventType() string { return EventTypeLevelCompleted }

// IterationCompletedEvent is published when an iteration ran to the end.
type IterationCompletedEvent struct {
	Iteration int
	Duration  time.Duration
	Timestamp time.Time
}

func (e IterationCompletedEvent) EventType() string { return EventTypeIterationCompleted }

// IterationAbortedEvent is published when an iteration is cut short by a
// task failure; remaining levels were skipped.
type IterationAbortedEvent struct {
	Iteration int
	Err       error
	Timestamp time.Time
}

func (e IterationAbortedEvent) EventType() string { return EventTypeIterationAborted }

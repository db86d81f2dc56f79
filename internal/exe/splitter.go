package exe

import "github.com/stratasim/stratasim/internal/graph"

// RowRange is a half-open window [Begin, End) over an agent's rows.
type RowRange struct {
	Begin int
	End   int
}

// Len returns the number of rows covered.
func (r RowRange) Len() int {
	return r.End - r.Begin
}

// Splitter partitions one splittable task's row range into sub-tasks and
// aggregates their completion. It is not safe for concurrent use on its own;
// the queue invokes it while holding the queue mutex.
type Splitter struct {
	id       graph.TaskID
	pending  int
	running  int
	next     int
	subtasks []RowRange
}

// NewSplitter partitions [0, n) into up to maxSplits contiguous chunks of at
// least minVectorSize rows each, sizes differing by at most one. Returns nil
// when the range is too small to yield more than one chunk.
func NewSplitter(id graph.TaskID, n, maxSplits, minVectorSize int) *Splitter {
	if n < minVectorSize {
		return nil
	}
	k := n / minVectorSize
	if k > maxSplits {
		k = maxSplits
	}
	if k <= 1 {
		return nil
	}

	subtasks := make([]RowRange, 0, k)
	base := n / k
	extra := n % k
	begin := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		subtasks = append(subtasks, RowRange{Begin: begin, End: begin + size})
		begin += size
	}

	return &Splitter{id: id, pending: k, subtasks: subtasks}
}

// Count returns the number of sub-tasks.
func (s *Splitter) Count() int {
	return len(s.subtasks)
}

// Subtasks returns the partition. The slice is shared; callers must not
// mutate it.
func (s *Splitter) Subtasks() []RowRange {
	return s.subtasks
}

// NonePending reports whether every sub-task has been handed to a worker.
func (s *Splitter) NonePending() bool {
	return s.pending == 0
}

// IsComplete reports whether every sub-task has been assigned and completed.
func (s *Splitter) IsComplete() bool {
	return s.pending == 0 && s.running == 0
}

// NextSubtask hands out the next sub-task. The flag reports whether this was
// the last pending one, telling the queue to pop the parent id.
func (s *Splitter) NextSubtask() (RowRange, bool) {
	r := s.subtasks[s.next]
	s.next++
	s.pending--
	s.running++
	return r, s.pending == 0
}

// OneDone records one completed sub-task and reports whether the whole task
// is now complete.
func (s *Splitter) OneDone() bool {
	s.running--
	return s.IsComplete()
}

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stratasim/stratasim/internal/config"
	"github.com/stratasim/stratasim/internal/exe"
	"github.com/stratasim/stratasim/internal/model"
)

// collectSink is a Sink double that records calls instead of writing files.
type collectSink struct {
	mu        sync.Mutex
	variables []string
	finals    []int
}

func (s *collectSink) WriteVariable(agent, variable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables = append(s.variables, agent+"/"+variable)
	return nil
}

func (s *collectSink) Finalise(iteration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, iteration)
	return nil
}

// pulseModel: every cell posts its value, then gathers the sum of all pulses.
func pulseModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New("pulse")
	m.AddAgent("cell")
	m.AddAgentVariable("cell", model.TypeInt, "v")
	m.AddAgentVariable("cell", model.TypeInt, "sum")
	m.AddMessage("pulse")
	m.AddMessageVariable("pulse", model.TypeInt, "v")

	m.AddAgentFunction("cell", "post_pulse", "start", "posted")
	m.AddFunctionReadOnlyVariable("cell", "post_pulse", "v")
	m.AddFunctionOutput("cell", "post_pulse", "pulse")

	m.AddAgentFunction("cell", "gather", "posted", "end")
	m.AddFunctionInput("cell", "gather", "pulse")
	m.AddFunctionReadWriteVariable("cell", "gather", "sum")
	return m
}

func newPulseSim(t *testing.T, cfg *config.Config, rows int) (*Simulation, *collectSink) {
	t.Helper()
	s, err := New(pulseModel(t), cfg)
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	sink := &collectSink{}
	s.SetSink(sink)

	s.RegisterAgentFunction("post_pulse", func(c *Context) (Verdict, error) {
		v, err := c.Mem.Int("v")
		if err != nil {
			return VerdictAlive, err
		}
		if err := c.Boards.Post("pulse", map[string]any{"v": v}); err != nil {
			return VerdictAlive, err
		}
		return VerdictAlive, nil
	})
	s.RegisterAgentFunction("gather", func(c *Context) (Verdict, error) {
		it, err := c.Boards.Read("pulse")
		if err != nil {
			return VerdictAlive, err
		}
		total := 0
		for msg := it.Next(); msg != nil; msg = it.Next() {
			total += msg["v"].(int)
		}
		if err := c.Mem.SetInt("sum", total); err != nil {
			return VerdictAlive, err
		}
		return VerdictAlive, nil
	})

	for i := 0; i < rows; i++ {
		if err := s.Memory().PushRow("cell", map[string]any{"v": i + 1}); err != nil {
			t.Fatalf("push row: %v", err)
		}
	}
	return s, sink
}

func sums(t *testing.T, s *Simulation) []int {
	t.Helper()
	col, err := s.Memory().Column("cell", "sum")
	if err != nil {
		t.Fatalf("sum column: %v", err)
	}
	out := make([]int, len(col.Ints))
	copy(out, col.Ints)
	return out
}

// TestRunEndToEnd runs one iteration and checks the message round trip plus
// the sink protocol: every variable written, then one finalise.
func TestRunEndToEnd(t *testing.T) {
	s, sink := newPulseSim(t, config.Default(), 10)

	if err := s.Run(context.Background(), 1, 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Every cell saw every pulse: sum = 1+2+...+10.
	want := 55
	for i, got := range sums(t, s) {
		if got != want {
			t.Errorf("cell %d: sum = %d, want %d", i, got, want)
		}
	}

	if len(sink.finals) != 1 || sink.finals[0] != 1 {
		t.Errorf("finalise calls = %v, want [1]", sink.finals)
	}
	if len(sink.variables) != 2 {
		t.Errorf("variable writes = %v, want one per agent variable", sink.variables)
	}
}

// TestRunMultipleIterations checks that boards reset between iterations and
// the sink sees every iteration.
func TestRunMultipleIterations(t *testing.T) {
	s, sink := newPulseSim(t, config.Default(), 4)

	if err := s.Run(context.Background(), 3, 2); err != nil {
		t.Fatalf("run: %v", err)
	}

	// v never changes, so sums stay stable across iterations; a board that
	// failed to reset would double the totals.
	want := 10
	for i, got := range sums(t, s) {
		if got != want {
			t.Errorf("cell %d: sum = %d, want %d", i, got, want)
		}
	}
	if len(sink.finals) != 3 {
		t.Errorf("finalise calls = %v, want 3 iterations", sink.finals)
	}
}

// TestSlotsIndependence checks that worker count does not change the result.
func TestSlotsIndependence(t *testing.T) {
	s1, _ := newPulseSim(t, config.Default(), 50)
	if err := s1.Run(context.Background(), 1, 1); err != nil {
		t.Fatalf("run slots=1: %v", err)
	}

	s4, _ := newPulseSim(t, config.Default(), 50)
	if err := s4.Run(context.Background(), 1, 4); err != nil {
		t.Fatalf("run slots=4: %v", err)
	}

	a, b := sums(t, s1), sums(t, s4)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("cell %d: slots=1 sum %d != slots=4 sum %d", i, a[i], b[i])
		}
	}
}

// TestSplitEquivalence checks that splitting a task does not change row
// results or verdicts.
func TestSplitEquivalence(t *testing.T) {
	run := func(maxSplits int) *Simulation {
		cfg := config.Default()
		cfg.Slots = 4
		cfg.MaxSplits = maxSplits
		cfg.MinVectorSize = 1
		s, _ := newPulseSim(t, cfg, 40)
		if err := s.Run(context.Background(), 1, 4); err != nil {
			t.Fatalf("run max_splits=%d: %v", maxSplits, err)
		}
		return s
	}

	split, whole := run(4), run(1)
	a, b := sums(t, split), sums(t, whole)
	if len(a) != len(b) {
		t.Fatalf("population sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("cell %d: split sum %d != whole sum %d", i, a[i], b[i])
		}
	}
}

// TestDeadVerdictRemovesRows checks per-row death at iteration end.
func TestDeadVerdictRemovesRows(t *testing.T) {
	// gather reads v here, so the model declares it read-only for gather.
	m := pulseModel(t)
	m.AddFunctionReadOnlyVariable("cell", "gather", "v")
	s, err := New(m, config.Default())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	s.SetSink(&collectSink{})
	s.RegisterAgentFunction("post_pulse", func(c *Context) (Verdict, error) {
		return VerdictAlive, nil
	})
	// Kill every cell with an odd value.
	s.RegisterAgentFunction("gather", func(c *Context) (Verdict, error) {
		v, err := c.Mem.Int("v")
		if err != nil {
			return VerdictAlive, err
		}
		if v%2 == 1 {
			return VerdictDead, nil
		}
		return VerdictAlive, nil
	})
	for i := 0; i < 10; i++ {
		if err := s.Memory().PushRow("cell", map[string]any{"v": i + 1}); err != nil {
			t.Fatalf("push row: %v", err)
		}
	}

	if err := s.Run(context.Background(), 1, 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := s.Memory().PopulationSize("cell"); got != 5 {
		t.Errorf("population after death pass = %d, want 5", got)
	}
	col, _ := s.Memory().Column("cell", "v")
	for _, v := range col.Ints {
		if v%2 == 1 {
			t.Errorf("odd cell %d survived", v)
		}
	}
}

// TestConditionFiltersRows checks that a function condition skips rows where
// it evaluates false: only cells with v > 5 gather a sum.
func TestConditionFiltersRows(t *testing.T) {
	m := pulseModel(t)
	if err := m.SetFunctionCondition("cell", "gather", &model.Condition{
		LHS: "a.v", Op: "GT", RHS: "5",
	}); err != nil {
		t.Fatalf("set condition: %v", err)
	}

	s, err := New(m, config.Default())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	sink := &collectSink{}
	s.SetSink(sink)
	s.RegisterAgentFunction("post_pulse", func(c *Context) (Verdict, error) {
		v, err := c.Mem.Int("v")
		if err != nil {
			return VerdictAlive, err
		}
		if err := c.Boards.Post("pulse", map[string]any{"v": v}); err != nil {
			return VerdictAlive, err
		}
		return VerdictAlive, nil
	})
	s.RegisterAgentFunction("gather", func(c *Context) (Verdict, error) {
		it, err := c.Boards.Read("pulse")
		if err != nil {
			return VerdictAlive, err
		}
		total := 0
		for msg := it.Next(); msg != nil; msg = it.Next() {
			total += msg["v"].(int)
		}
		if err := c.Mem.SetInt("sum", total); err != nil {
			return VerdictAlive, err
		}
		return VerdictAlive, nil
	})
	for i := 0; i < 10; i++ {
		if err := s.Memory().PushRow("cell", map[string]any{"v": i + 1}); err != nil {
			t.Fatalf("push row: %v", err)
		}
	}

	if err := s.Run(context.Background(), 1, 2); err != nil {
		t.Fatalf("run: %v", err)
	}

	// post_pulse is unconditional, so every cell posted: total is 55. Only
	// cells 6..10 passed the gather filter; the rest keep sum's zero value.
	vCol, _ := s.Memory().Column("cell", "v")
	for i, got := range sums(t, s) {
		want := 0
		if vCol.Ints[i] > 5 {
			want = 55
		}
		if got != want {
			t.Errorf("cell v=%d: sum = %d, want %d", vCol.Ints[i], got, want)
		}
	}
}

// TestTimeConditionGatesIterations checks that a time condition runs its
// function only on matching iterations.
func TestTimeConditionGatesIterations(t *testing.T) {
	m := pulseModel(t)
	// Fire gather only on even iterations (period 2, phase 0).
	if err := m.SetFunctionCondition("cell", "gather", &model.Condition{
		IsTime: true, TimePeriod: "2", TimePhase: "0",
	}); err != nil {
		t.Fatalf("set condition: %v", err)
	}

	s, err := New(m, config.Default())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	s.SetSink(&collectSink{})
	s.RegisterAgentFunction("post_pulse", func(c *Context) (Verdict, error) {
		return VerdictAlive, nil
	})
	runs := 0
	s.RegisterAgentFunction("gather", func(c *Context) (Verdict, error) {
		runs++
		return VerdictAlive, nil
	})
	if err := s.Memory().PushRow("cell", map[string]any{"v": 1}); err != nil {
		t.Fatalf("push row: %v", err)
	}

	// Iterations 1..4 on one worker: gather fires on 2 and 4 only.
	if err := s.Run(context.Background(), 4, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs != 2 {
		t.Errorf("gather ran %d times, want 2", runs)
	}
}

// TestUnregisteredFunctionFailsEarly checks the callback registration guard.
func TestUnregisteredFunctionFailsEarly(t *testing.T) {
	s, err := New(pulseModel(t), config.Default())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	s.SetSink(&collectSink{})
	// Only one of the two functions registered.
	s.RegisterAgentFunction("post_pulse", func(c *Context) (Verdict, error) {
		return VerdictAlive, nil
	})
	if err := s.Run(context.Background(), 1, 1); !errors.Is(err, model.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

// TestCallbackErrorSurfacesAsTaskError checks the failure path end to end.
func TestCallbackErrorSurfacesAsTaskError(t *testing.T) {
	s, _ := newPulseSim(t, config.Default(), 10)
	boom := fmt.Errorf("bad row")
	s.RegisterAgentFunction("gather", func(c *Context) (Verdict, error) {
		return VerdictAlive, boom
	})

	err := s.Run(context.Background(), 1, 2)
	var te *exe.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *exe.TaskError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("task error does not wrap the callback error: %v", err)
	}
}

// TestRunArgumentGuards checks the run-time InvalidArgument cases.
func TestRunArgumentGuards(t *testing.T) {
	s, _ := newPulseSim(t, config.Default(), 1)
	if err := s.Run(context.Background(), 0, 1); !errors.Is(err, exe.ErrInvalidArgument) {
		t.Errorf("iterations=0: error = %v, want ErrInvalidArgument", err)
	}
	if err := s.Run(context.Background(), 1, 0); !errors.Is(err, exe.ErrInvalidArgument) {
		t.Errorf("slots=0: error = %v, want ErrInvalidArgument", err)
	}
}

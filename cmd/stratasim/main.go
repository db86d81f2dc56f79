// Command stratasim runs the reference walker model on the simulation
// runtime: agents post their location to a message board each iteration and
// drift toward the population centroid. It exercises the full pipeline --
// graph construction, levelised scheduling, task splitting, population XML
// output, and run-history recording.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/stratasim/stratasim/internal/config"
	"github.com/stratasim/stratasim/internal/model"
	"github.com/stratasim/stratasim/internal/persistence"
	"github.com/stratasim/stratasim/internal/popio"
	"github.com/stratasim/stratasim/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	popPath := flag.String("pop", "", "population XML file to load")
	iterations := flag.Int("iterations", 0, "iterations to run (overrides config)")
	slots := flag.Int("slots", 0, "worker count (overrides config)")
	agents := flag.Int("agents", 100, "synthesized population size when no -pop is given")
	schemaPath := flag.String("schema", "", "write the population XSD to this path and continue")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *popPath, *schemaPath, *iterations, *slots, *agents); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, popPath, schemaPath string, iterations, slots, agents int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if iterations > 0 {
		cfg.Iterations = iterations
	}
	if slots > 0 {
		cfg.Slots = slots
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m := walkerModel()
	s, err := sim.New(m, cfg)
	if err != nil {
		return err
	}
	registerWalkerFunctions(s)

	if schemaPath != "" {
		f, err := os.Create(schemaPath)
		if err != nil {
			return err
		}
		if err := popio.WriteSchema(f, m); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote population schema to %s", schemaPath)
	}

	if popPath != "" {
		itno, err := s.LoadPopulation(popPath)
		if err != nil {
			return err
		}
		log.Printf("loaded population from %s (iteration %d)", popPath, itno)
	} else {
		seedWalkers(s, agents)
		log.Printf("synthesized %d walkers", agents)
	}

	if cfg.GraphDump != "" {
		f, err := os.Create(cfg.GraphDump)
		if err != nil {
			return err
		}
		if err := s.DumpGraph(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote dependency graph to %s", cfg.GraphDump)
	}

	// Population output goes through the resilient sink.
	s.SetSink(popio.NewResilientSink(ctx,
		popio.NewXMLSink(m, s.Memory(), cfg.OutputPrefix),
		popio.DefaultRetryConfig()))

	// Optional run-history recording.
	var store persistence.Store
	runID := uuid.NewString()
	if cfg.DBPath != "" {
		store, err = persistence.NewSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.BeginRun(ctx, persistence.Run{
			ID:        runID,
			ModelName: m.Name,
			Slots:     cfg.Slots,
			StartedAt: time.Now(),
		}); err != nil {
			return err
		}

		recorder := persistence.NewRecorder(store, runID)
		ch := s.Bus().SubscribeAll(1024)
		go recorder.Drain(ctx, ch)
	}

	log.Printf("run %s: %d iterations on %d slots", runID, cfg.Iterations, cfg.Slots)
	runErr := s.Run(ctx, cfg.Iterations, cfg.Slots)
	s.Bus().Close()

	if store != nil {
		status := "completed"
		if runErr != nil {
			status = "failed"
		}
		if err := store.FinishRun(context.Background(), runID, status); err != nil {
			log.Printf("WARNING: failed to finish run record: %v", err)
		}
	}
	return runErr
}

// walkerModel describes the reference model: walkers broadcast their
// location, then move toward the centroid of everything they heard.
func walkerModel() *model.Model {
	m := model.New("walker")

	m.AddAgent("walker")
	m.AddAgentVariable("walker", model.TypeInt, "id")
	m.AddAgentVariable("walker", model.TypeDouble, "x")
	m.AddAgentVariable("walker", model.TypeDouble, "y")

	m.AddMessage("location")
	m.AddMessageVariable("location", model.TypeInt, "id")
	m.AddMessageVariable("location", model.TypeDouble, "x")
	m.AddMessageVariable("location", model.TypeDouble, "y")

	m.AddAgentFunction("walker", "output_location", "start", "posted")
	m.AddFunctionOutput("walker", "output_location", "location")
	m.AddFunctionReadOnlyVariable("walker", "output_location", "id")
	m.AddFunctionReadOnlyVariable("walker", "output_location", "x")
	m.AddFunctionReadOnlyVariable("walker", "output_location", "y")

	m.AddAgentFunction("walker", "move", "posted", "end")
	m.AddFunctionInput("walker", "move", "location")
	m.AddFunctionReadOnlyVariable("walker", "move", "id")
	m.AddFunctionReadWriteVariable("walker", "move", "x")
	m.AddFunctionReadWriteVariable("walker", "move", "y")

	return m
}

func registerWalkerFunctions(s *sim.Simulation) {
	s.RegisterAgentFunction("output_location", func(c *sim.Context) (sim.Verdict, error) {
		id, err := c.Mem.Int("id")
		if err != nil {
			return sim.VerdictAlive, err
		}
		x, err := c.Mem.Double("x")
		if err != nil {
			return sim.VerdictAlive, err
		}
		y, err := c.Mem.Double("y")
		if err != nil {
			return sim.VerdictAlive, err
		}
		if err := c.Boards.Post("location", map[string]any{"id": id, "x": x, "y": y}); err != nil {
			return sim.VerdictAlive, err
		}
		return sim.VerdictAlive, nil
	})

	s.RegisterAgentFunction("move", func(c *sim.Context) (sim.Verdict, error) {
		self, err := c.Mem.Int("id")
		if err != nil {
			return sim.VerdictAlive, err
		}
		it, err := c.Boards.Read("location")
		if err != nil {
			return sim.VerdictAlive, err
		}
		var cx, cy float64
		n := 0
		for msg := it.Next(); msg != nil; msg = it.Next() {
			if msg["id"].(int) == self {
				continue
			}
			cx += msg["x"].(float64)
			cy += msg["y"].(float64)
			n++
		}
		if n == 0 {
			return sim.VerdictAlive, nil
		}
		cx /= float64(n)
		cy /= float64(n)

		x, _ := c.Mem.Double("x")
		y, _ := c.Mem.Double("y")
		if err := c.Mem.SetDouble("x", x+0.05*(cx-x)); err != nil {
			return sim.VerdictAlive, err
		}
		if err := c.Mem.SetDouble("y", y+0.05*(cy-y)); err != nil {
			return sim.VerdictAlive, err
		}
		return sim.VerdictAlive, nil
	})
}

// seedWalkers lays the initial population out on a deterministic grid.
func seedWalkers(s *sim.Simulation, n int) {
	side := 1
	for side*side < n {
		side++
	}
	for i := 0; i < n; i++ {
		_ = s.Memory().PushRow("walker", map[string]any{
			"id": i,
			"x":  float64(i % side),
			"y":  float64(i / side),
		})
	}
}

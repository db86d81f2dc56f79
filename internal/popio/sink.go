package popio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/stratasim/stratasim/internal/mem"
	"github.com/stratasim/stratasim/internal/model"
)

// Sink receives population output. WriteVariable is the body of an
// io_pop_write task; Finalise runs once per iteration after every column has
// been written.
type Sink interface {
	WriteVariable(agent, variable string) error
	Finalise(iteration int) error
}

// XMLSink writes one population XML document per iteration, named
// <prefix><iteration>.xml. XML cannot be written column-wise, so
// WriteVariable only validates the reference; Finalise serialises the whole
// population in one pass.
type XMLSink struct {
	mu     sync.Mutex
	m      *model.Model
	mm     *mem.Manager
	prefix string
}

// NewXMLSink creates a sink writing files under the given path prefix.
func NewXMLSink(m *model.Model, mm *mem.Manager, prefix string) *XMLSink {
	return &XMLSink{m: m, mm: mm, prefix: prefix}
}

// WriteVariable checks that the named column exists. The data itself is
// flushed by Finalise.
func (s *XMLSink) WriteVariable(agent, variable string) error {
	_, err := s.mm.Column(agent, variable)
	return err
}

// Finalise writes the iteration's population document.
func (s *XMLSink) Finalise(iteration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.prefix + strconv.Itoa(iteration) + ".xml"
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	if err := WritePop(f, s.m, s.mm, iteration); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// RetryConfig configures the resilient sink's exponential backoff.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// ResilientSink decorates a Sink with exponential backoff retries and a
// circuit breaker, so a flapping filesystem or database does not take an
// iteration down on the first hiccup. Exhausted retries and an open circuit
// surface as ErrIO.
type ResilientSink struct {
	inner    Sink
	breaker  *gobreaker.CircuitBreaker
	retryCfg RetryConfig
	ctx      context.Context
}

// NewResilientSink wraps a sink. ctx bounds every retry loop.
func NewResilientSink(ctx context.Context, inner Sink, retryCfg RetryConfig) *ResilientSink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pop-sink",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Sink circuit breaker %q: %s -> %s", name, from, to)
		},
	})
	return &ResilientSink{inner: inner, breaker: cb, retryCfg: retryCfg, ctx: ctx}
}

// WriteVariable retries the inner sink's WriteVariable.
func (s *ResilientSink) WriteVariable(agent, variable string) error {
	return s.execute(func() error { return s.inner.WriteVariable(agent, variable) })
}

// Finalise retries the inner sink's Finalise.
func (s *ResilientSink) Finalise(iteration int) error {
	return s.execute(func() error { return s.inner.Finalise(iteration) })
}

func (s *ResilientSink) execute(op func() error) error {
	attempt := func() error {
		if err := s.ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			// Invalid references never heal; retrying them is noise.
			if errors.Is(err, ErrInvalidPopulation) || errors.Is(err, mem.ErrAccess) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryCfg.InitialInterval
	policy.MaxInterval = s.retryCfg.MaxInterval
	policy.MaxElapsedTime = s.retryCfg.MaxElapsedTime

	if err := backoff.Retry(attempt, backoff.WithContext(policy, s.ctx)); err != nil {
		if errors.Is(err, ErrIO) || errors.Is(err, ErrInvalidPopulation) || errors.Is(err, mem.ErrAccess) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Package pipeline runs the scan and forward workers side by side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

const defaultReadyTimeout = 5 * time.Second

// ErrNotReady is returned when a unit does not signal readiness in time.
var ErrNotReady = errors.New("worker did not become ready")

// countCores reports logical CPUs; swapped in tests.
var countCores = cpu.CountsWithContext

// Unit is one long-running worker. Run must call ready once it is able
// to serve the units started after it.
type Unit struct {
	Name string
	Core int
	Run  func(ctx context.Context, ready func()) error
}

// WorkerError names the unit whose termination ended the run.
type WorkerError struct {
	Unit string
	Err  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s worker: %v", e.Unit, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Scheduler starts units in order and supervises them until the first exits.
type Scheduler struct {
	logger       *slog.Logger
	readyTimeout time.Duration
}

// NewScheduler constructs a scheduler. readyTimeout <= 0 uses the default.
func NewScheduler(logger *slog.Logger, readyTimeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	return &Scheduler{logger: logger, readyTimeout: readyTimeout}
}

type unitResult struct {
	index int
	unit  string
	err   error
}

// Run starts every unit and blocks until one terminates or ctx ends.
// The remaining units are then cancelled and awaited. Of several failures
// the one from the earliest-started unit is reported. A stop caused by ctx
// cancellation returns nil.
func (s *Scheduler) Run(ctx context.Context, units ...Unit) error {
	if len(units) == 0 {
		return errors.New("no units to run")
	}

	cores := s.availableCores(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan unitResult, len(units))
	running := 0

	stop := func(first unitResult) error {
		cancel()
		collected := []unitResult{first}
		for ; running > 1; running-- {
			collected = append(collected, <-results)
		}
		return s.outcome(ctx, collected)
	}

	for i, unit := range units {
		readyCh := make(chan struct{})
		var once sync.Once
		ready := func() { once.Do(func() { close(readyCh) }) }

		running++
		go s.runUnit(runCtx, i, unit, cores, ready, results)

		if i == len(units)-1 {
			break
		}

		timer := time.NewTimer(s.readyTimeout)
		select {
		case <-readyCh:
			timer.Stop()
			s.logger.Debug("worker ready", "unit", unit.Name)
		case res := <-results:
			timer.Stop()
			if res.err == nil && ctx.Err() == nil {
				res.err = ErrNotReady
			}
			return stop(res)
		case <-timer.C:
			s.logger.Error("worker not ready", "unit", unit.Name, "timeout", s.readyTimeout.String())
			cancel()
			for ; running > 0; running-- {
				<-results
			}
			return &WorkerError{Unit: unit.Name, Err: ErrNotReady}
		case <-ctx.Done():
			timer.Stop()
			cancel()
			for ; running > 0; running-- {
				<-results
			}
			return nil
		}
	}

	return stop(<-results)
}

func (s *Scheduler) outcome(ctx context.Context, results []unitResult) error {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	for _, res := range results {
		if res.err == nil {
			continue
		}
		if ctx.Err() != nil && (errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)) {
			continue
		}
		s.logger.Error("worker failed", "unit", res.unit, "error", res.err.Error())
		return &WorkerError{Unit: res.unit, Err: res.err}
	}
	s.logger.Info("workers stopped", "units", len(results))
	return nil
}

func (s *Scheduler) runUnit(ctx context.Context, index int, unit Unit, cores int, ready func(), results chan<- unitResult) {
	// The thread is never unlocked: a pinned thread exits with its goroutine
	// instead of returning to the scheduler pool.
	runtime.LockOSThread()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		s.place(unit, cores)
		return unit.Run(ctx, ready)
	}()
	results <- unitResult{index: index, unit: unit.Name, err: err}
}

// place pins the calling thread to unit.Core when that core exists.
func (s *Scheduler) place(unit Unit, cores int) {
	if unit.Core < 0 {
		return
	}
	if cores > 0 && unit.Core >= cores {
		s.logger.Warn("core unavailable, running unpinned", "unit", unit.Name, "core", unit.Core, "cores", cores)
		return
	}
	if err := pinToCore(unit.Core); err != nil {
		s.logger.Warn("core pinning skipped", "unit", unit.Name, "core", unit.Core, "error", err.Error())
		return
	}
	s.logger.Debug("worker pinned", "unit", unit.Name, "core", unit.Core)
}

func (s *Scheduler) availableCores(ctx context.Context) int {
	n, err := countCores(ctx, true)
	if err != nil || n <= 0 {
		s.logger.Debug("cpu count unavailable, using runtime count", "error", fmt.Sprint(err))
		return runtime.NumCPU()
	}
	return n
}

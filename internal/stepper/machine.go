// Package stepper holds the dual-mode scaffolding shared by the learning
// engines: an explicit Idle|Running(mode) status, a paced and cancellable
// continuous loop, and the bookkeeping that lets a reset discard the last
// in-flight tick of a cancelled run.
//
// A Machine never owns the engine's data. It borrows the engine's lock and
// runs the engine's tick function under it, one tick per pacer interval, so a
// tick is always applied completely or not at all.
package stepper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tiny-ml-lab/stepper")

// TickFunc performs one unit of continuous work and reports whether the run
// has reached its termination condition. It is called with the engine lock held.
type TickFunc func() (finished bool)

// Machine tracks the active mode of one engine instance.
//
// Every method except Done must be called with the engine lock held; the lock
// is the sync.Locker passed to NewMachine.
type Machine struct {
	name   string
	locker sync.Locker
	pacer  *Pacer
	logger *slog.Logger

	mode   Mode
	runID  string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	onEnd  func(Mode)
}

// NewMachine creates an idle machine for the engine called name. A nil
// logger falls back to slog.Default().
func NewMachine(name string, locker sync.Locker, pacer *Pacer, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if pacer == nil {
		pacer = NewPacer(0)
	}
	done := make(chan struct{})
	close(done)
	return &Machine{
		name:   name,
		locker: locker,
		pacer:  pacer,
		logger: logger.With(slog.String("component", name)),
		done:   done,
	}
}

func (m *Machine) Mode() Mode {
	return m.mode
}

func (m *Machine) Status() Status {
	return Status{Mode: m.mode, RunID: m.runID}
}

// Active reports whether any mode is running.
func (m *Machine) Active() bool {
	return m.mode != ModeIdle
}

func (m *Machine) Pacer() *Pacer {
	return m.pacer
}

// Generation changes every time a run starts or stops.
func (m *Machine) Generation() uint64 {
	return m.gen
}

// StartStep enters step mode. It is a no-op returning false if a mode is
// already active.
func (m *Machine) StartStep() bool {
	if m.Active() {
		return false
	}
	m.begin(ModeStep)
	return true
}

// StartContinuous enters continuous mode and launches the paced loop that
// calls tick until it reports completion, ctx ends, or the run is stopped.
// It is a no-op returning false if a mode is already active.
func (m *Machine) StartContinuous(ctx context.Context, tick TickFunc) bool {
	if m.Active() {
		return false
	}
	m.begin(ModeContinuous)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(runCtx, m.gen, m.runID, tick, done)
	return true
}

// Stop leaves mode if it is the active one. Stopping a continuous run cancels
// its loop; any tick already waiting for the lock is discarded.
func (m *Machine) Stop(mode Mode) bool {
	if m.mode == ModeIdle || m.mode != mode {
		return false
	}
	m.end("stopped")
	return true
}

// StopAny leaves whichever mode is active.
func (m *Machine) StopAny() bool {
	if m.mode == ModeIdle {
		return false
	}
	m.end("stopped")
	return true
}

// Finish ends the active run because it reached its termination condition.
func (m *Machine) Finish() {
	if m.mode == ModeIdle {
		return
	}
	m.end("finished")
}

// OnEnd registers fn to run, with the engine lock held, whenever a run ends
// for any reason. It receives the mode that just ended.
func (m *Machine) OnEnd(fn func(Mode)) {
	m.onEnd = fn
}

// Done returns a channel closed once the most recent continuous loop has
// exited. It is safe to call without the engine lock only after the run was
// started.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) begin(mode Mode) {
	m.gen++
	m.mode = mode
	m.runID = uuid.NewString()
	runsTotal.WithLabelValues(m.name, mode.String()).Inc()
	m.logger.Info("run started",
		slog.String("mode", mode.String()),
		slog.String("run_id", m.runID),
		slog.Duration("interval", m.pacer.Interval()),
	)
}

func (m *Machine) end(reason string) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.logger.Info("run ended",
		slog.String("mode", m.mode.String()),
		slog.String("run_id", m.runID),
		slog.String("reason", reason),
	)
	ended := m.mode
	m.gen++
	m.mode = ModeIdle
	if m.onEnd != nil {
		m.onEnd(ended)
	}
}

func (m *Machine) run(ctx context.Context, gen uint64, runID string, tick TickFunc, done chan struct{}) {
	defer close(done)
	for {
		if err := m.pacer.Wait(ctx); err != nil {
			m.abandon(gen)
			return
		}
		if !m.apply(ctx, gen, runID, tick) {
			return
		}
	}
}

// abandon returns the machine to idle when the run's context ended on its own,
// unless the run was already stopped or replaced.
func (m *Machine) abandon(gen uint64) {
	m.locker.Lock()
	defer m.locker.Unlock()
	if m.gen != gen || m.mode != ModeContinuous {
		return
	}
	m.end("cancelled")
}

// apply runs one tick under the engine lock and reports whether the loop
// should keep going.
func (m *Machine) apply(ctx context.Context, gen uint64, runID string, tick TickFunc) bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	if m.gen != gen || m.mode != ModeContinuous {
		staleTicksTotal.WithLabelValues(m.name).Inc()
		return false
	}
	_, span := tracer.Start(ctx, "stepper.tick", trace.WithAttributes(
		attribute.String("engine", m.name),
		attribute.String("run_id", runID),
	))
	start := time.Now()
	finished := tick()
	tickDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	ticksTotal.WithLabelValues(m.name).Inc()
	span.SetAttributes(attribute.Bool("finished", finished))
	span.End()
	if finished {
		m.end("finished")
		return false
	}
	return true
}

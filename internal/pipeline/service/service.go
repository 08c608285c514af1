// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package service implements the lifecycle core shared by every pipeline
// service: a four-state machine (Stopped, Running, Paused, Errored) with
// concurrency-safe start/pause/resume/stop controls, a cooperative
// suspension point, bounded error logging, and a metric surface readable
// without blocking the processing goroutine.
//
// Each service owns exactly one processing goroutine. Control calls may
// arrive from any goroutine at any time; they are serialized internally.
// Cancellation is cooperative: Stop cancels the run context and waits for
// the goroutine to actually exit, so no writers or half-drained batches
// are leaked.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"simflow/internal/pipeline/telemetry"
)

// State is the lifecycle state of a service.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateErrored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrRecord is one entry in a service's bounded error log.
type ErrRecord struct {
	Type string
	Msg  string
	At   time.Time
}

// maxErrLog bounds the error log; the oldest entries are dropped first.
const maxErrLog = 64

// Runner is a service's processing loop. It must call Checkpoint between
// blocking operations and propagate the context error on cancellation.
// Returning nil means the service completed its work and self-stops; any
// other non-cancellation error transitions the service to Errored.
type Runner func(ctx context.Context) error

// Service is the control contract the manager operates against.
type Service interface {
	Name() string
	Start() error
	Stop()
	Pause()
	Resume()
	State() State
	Metrics() map[string]int64
	Errors() []ErrRecord
	Healthy() bool
}

// Base implements Service. Concrete services embed *Base and register
// their processing loop with SetRunner before Start is called.
type Base struct {
	name   string
	runner Runner

	ctl    sync.Mutex // serializes control calls
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	metricsMu sync.RWMutex
	metrics   map[string]int64

	errMu sync.Mutex
	errs  []ErrRecord
}

// NewBase creates a stopped service core.
func NewBase(name string) *Base {
	b := &Base{name: name, metrics: make(map[string]int64)}
	b.state.Store(int32(StateStopped))
	return b
}

func (b *Base) Name() string { return b.name }

// SetRunner registers the processing loop. Must be called before Start.
func (b *Base) SetRunner(r Runner) { b.runner = r }

// Start launches the processing goroutine. Starting a Running or Paused
// service is a no-op, not an error. Starting from Errored is permitted and
// resets only the state; the error log and metrics are retained.
func (b *Base) Start() error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	switch State(b.state.Load()) {
	case StateRunning, StatePaused:
		return nil
	}
	if b.runner == nil {
		return errors.New("service: no runner registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.pauseMu.Lock()
	b.paused = false
	b.resumeCh = nil
	b.pauseMu.Unlock()
	// Running is observable before the loop does any work.
	b.setState(StateRunning)
	go b.supervise(ctx)
	return nil
}

func (b *Base) supervise(ctx context.Context) {
	defer close(b.done)
	err := b.runner(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		b.RecordError("runtime", err.Error())
		b.setState(StateErrored)
		return
	}
	// Clean exit: external stop or the loop's own completion condition.
	b.setState(StateStopped)
}

// Stop cancels the run context, interrupting any blocking resource call or
// paused wait, and blocks until the processing goroutine has exited.
// Stopping a Stopped service is a no-op. A service that ended in Errored
// stays Errored; the state is sticky so operators can see what happened.
func (b *Base) Stop() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	if State(b.state.Load()) == StateStopped {
		return
	}
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

// Pause requests suspension. The service transitions to Paused when its
// loop reaches the next Checkpoint; until then it remains Running.
// Pausing a non-Running service is a no-op.
func (b *Base) Pause() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	if State(b.state.Load()) != StateRunning {
		return
	}
	b.pauseMu.Lock()
	if !b.paused {
		b.paused = true
		b.resumeCh = make(chan struct{})
	}
	b.pauseMu.Unlock()
}

// Resume clears the pause flag and wakes the blocked loop.
func (b *Base) Resume() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.pauseMu.Lock()
	if b.paused {
		b.paused = false
		close(b.resumeCh)
		b.resumeCh = nil
	}
	b.pauseMu.Unlock()
	if State(b.state.Load()) == StatePaused {
		b.setState(StateRunning)
	}
}

// Checkpoint is the cooperative suspension point. Runners call it between
// blocking operations. It returns immediately while the service is not
// pausing; during a pause it blocks the processing goroutine (never the
// controller) until Resume or cancellation.
func (b *Base) Checkpoint(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.pauseMu.Lock()
		if !b.paused {
			b.pauseMu.Unlock()
			return nil
		}
		ch := b.resumeCh
		b.pauseMu.Unlock()
		b.setState(StatePaused)
		select {
		case <-ch:
			b.setState(StateRunning)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// State reads the current lifecycle state without blocking.
func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) setState(s State) {
	b.state.Store(int32(s))
	telemetry.SetState(b.name, int(s))
}

// AddMetric adds delta to a cumulative counter.
func (b *Base) AddMetric(name string, delta int64) {
	b.metricsMu.Lock()
	b.metrics[name] += delta
	b.metricsMu.Unlock()
	telemetry.AddCounter(b.name, name, float64(delta))
}

// SetMetric sets a gauge value.
func (b *Base) SetMetric(name string, v int64) {
	b.metricsMu.Lock()
	b.metrics[name] = v
	b.metricsMu.Unlock()
	telemetry.SetGauge(b.name, name, float64(v))
}

// Metric reads one value; missing metrics read as zero.
func (b *Base) Metric(name string) int64 {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()
	return b.metrics[name]
}

// Metrics returns a snapshot copy of the metric map.
func (b *Base) Metrics() map[string]int64 {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()
	out := make(map[string]int64, len(b.metrics))
	for k, v := range b.metrics {
		out[k] = v
	}
	return out
}

// RecordError appends to the bounded error log.
func (b *Base) RecordError(errType, msg string) {
	b.errMu.Lock()
	if len(b.errs) >= maxErrLog {
		b.errs = b.errs[1:]
	}
	b.errs = append(b.errs, ErrRecord{Type: errType, Msg: msg, At: time.Now()})
	b.errMu.Unlock()
	telemetry.IncError(b.name, errType)
}

// Errors returns a snapshot copy of the error log.
func (b *Base) Errors() []ErrRecord {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	out := make([]ErrRecord, len(b.errs))
	copy(out, b.errs)
	return out
}

// Healthy is false once any error has been recorded or the state is
// Errored.
func (b *Base) Healthy() bool {
	if b.State() == StateErrored {
		return false
	}
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return len(b.errs) == 0
}

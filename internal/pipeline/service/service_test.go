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

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// loopService is a minimal runner that spins through Checkpoint, counting
// iterations, until cancelled.
func loopService(name string) (*Base, *atomic.Int64) {
	b := NewBase(name)
	var iters atomic.Int64
	b.SetRunner(func(ctx context.Context) error {
		for {
			if err := b.Checkpoint(ctx); err != nil {
				return err
			}
			iters.Add(1)
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return b, &iters
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestStartStopTransitions(t *testing.T) {
	b, iters := loopService("svc")
	if b.State() != StateStopped {
		t.Fatalf("initial state = %v", b.State())
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if b.State() != StateRunning {
		t.Fatalf("state after Start = %v", b.State())
	}
	waitFor(t, func() bool { return iters.Load() > 0 }, "loop to make progress")
	b.Stop()
	if b.State() != StateStopped {
		t.Fatalf("state after Stop = %v", b.State())
	}
	if !b.Healthy() {
		t.Fatalf("clean stop should stay healthy")
	}
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	b, _ := loopService("svc")
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()
	for i := 0; i < 3; i++ {
		if err := b.Start(); err != nil {
			t.Fatalf("Start #%d: %v", i+2, err)
		}
	}
	if b.State() != StateRunning {
		t.Fatalf("state = %v", b.State())
	}
}

func TestPauseEntersPausedAtCheckpoint(t *testing.T) {
	b, iters := loopService("svc")
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	b.Pause()
	waitFor(t, func() bool { return b.State() == StatePaused }, "service to pause")

	// While paused the loop makes no progress.
	before := iters.Load()
	time.Sleep(30 * time.Millisecond)
	if after := iters.Load(); after != before {
		t.Fatalf("paused loop advanced from %d to %d", before, after)
	}

	b.Resume()
	waitFor(t, func() bool { return b.State() == StateRunning }, "service to resume")
	waitFor(t, func() bool { return iters.Load() > before }, "loop to advance after resume")
}

func TestPauseOfNonRunningIsNoop(t *testing.T) {
	b, _ := loopService("svc")
	b.Pause()
	if b.State() != StateStopped {
		t.Fatalf("Pause of stopped service changed state to %v", b.State())
	}
	_ = b.Start()
	b.Pause()
	waitFor(t, func() bool { return b.State() == StatePaused }, "pause")
	b.Pause() // pausing a paused service is a no-op
	if b.State() != StatePaused {
		t.Fatalf("state = %v", b.State())
	}
	b.Stop()
}

func TestStopInterruptsPausedWait(t *testing.T) {
	b, _ := loopService("svc")
	_ = b.Start()
	b.Pause()
	waitFor(t, func() bool { return b.State() == StatePaused }, "pause")

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked on a paused service")
	}
	if b.State() != StateStopped {
		t.Fatalf("state after Stop = %v", b.State())
	}
}

func TestSelfTerminationReachesStopped(t *testing.T) {
	b := NewBase("one-shot")
	ran := make(chan struct{})
	b.SetRunner(func(ctx context.Context) error {
		close(ran)
		return nil
	})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ran
	waitFor(t, func() bool { return b.State() == StateStopped }, "self-stop")
	if !b.Healthy() {
		t.Fatalf("self-stop should stay healthy")
	}
}

func TestRunnerErrorTransitionsToErrored(t *testing.T) {
	b := NewBase("svc")
	boom := errors.New("boom")
	b.SetRunner(func(ctx context.Context) error { return boom })
	_ = b.Start()
	waitFor(t, func() bool { return b.State() == StateErrored }, "error state")
	if b.Healthy() {
		t.Fatalf("errored service reports healthy")
	}
	errs := b.Errors()
	if len(errs) != 1 || errs[0].Type != "runtime" || errs[0].Msg != "boom" {
		t.Fatalf("error log = %+v", errs)
	}
	// Errored is sticky across Stop.
	b.Stop()
	if b.State() != StateErrored {
		t.Fatalf("state after Stop = %v, want ERROR", b.State())
	}
}

func TestRestartAfterErrorKeepsLog(t *testing.T) {
	b := NewBase("svc")
	var attempt atomic.Int64
	b.SetRunner(func(ctx context.Context) error {
		if attempt.Add(1) == 1 {
			return errors.New("first run fails")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	_ = b.Start()
	waitFor(t, func() bool { return b.State() == StateErrored }, "first run to fail")

	if err := b.Start(); err != nil {
		t.Fatalf("restart from ERROR: %v", err)
	}
	waitFor(t, func() bool { return b.State() == StateRunning }, "second run")
	if len(b.Errors()) != 1 {
		t.Fatalf("restart cleared the error log")
	}
	b.Stop()
}

func TestMetricsSnapshotIsACopy(t *testing.T) {
	b := NewBase("svc")
	b.AddMetric("ticks_written", 3)
	b.SetMetric("current_batch_size", 7)
	snap := b.Metrics()
	snap["ticks_written"] = 999
	if b.Metric("ticks_written") != 3 {
		t.Fatalf("snapshot mutation leaked into service metrics")
	}
	if b.Metric("current_batch_size") != 7 {
		t.Fatalf("gauge = %d", b.Metric("current_batch_size"))
	}
}

func TestErrorLogIsBounded(t *testing.T) {
	b := NewBase("svc")
	for i := 0; i < maxErrLog+10; i++ {
		b.RecordError("consistency", "mixed run ids")
	}
	if got := len(b.Errors()); got != maxErrLog {
		t.Fatalf("error log length = %d, want %d", got, maxErrLog)
	}
}

func TestConcurrentControlCalls(t *testing.T) {
	b, _ := loopService("svc")
	_ = b.Start()
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				b.Pause()
				b.Resume()
				_ = b.Start()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	b.Stop()
	if st := b.State(); st != StateStopped {
		t.Fatalf("final state = %v", st)
	}
}

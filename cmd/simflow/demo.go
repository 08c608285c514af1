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

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"simflow/internal/pipeline/manager"
	"simflow/internal/pipeline/resource"
	"simflow/pkg/record"
)

const demoTopology = `
resources:
  ticks:
    type: queue.ticks
    options: {capacity: 256}
  meta:
    type: queue.metadata
    options: {capacity: 8}
  failed:
    type: queue.deadletter
    options: {capacity: 32}
  dedup:
    type: tracker.memory
    options: {ttlSeconds: 3600}
  runs:
    type: store.file
    options: {root: %q}
  notes:
    type: topic.memory
    options: {claimTimeoutSeconds: 30}
services:
  tick-writer:
    type: sink.ticks
    options: {maxBatchSize: 25, batchTimeoutSeconds: 1, maxRetries: 2, retryBackoffMs: 50}
    ports: ["input:ticks", "storage:runs", "dedup:dedup", "deadletter:failed", "notify:notes"]
  meta-writer:
    type: sink.metadata
    options: {maxRetries: 2, retryBackoffMs: 50}
    ports: ["input:meta", "storage:runs", "deadletter:failed"]
startupSequence: [tick-writer, meta-writer]
`

func newDemoCommand() *cobra.Command {
	var (
		runs     int
		ticks    int
		rootDir  string
		keepRoot bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a self-contained pipeline with synthetic traffic",
		Long: `demo builds an in-memory topology backed by a temporary directory,
feeds it synthetic tick and metadata records (including duplicate
deliveries to exercise the tracker), waits for the pipeline to drain,
and prints the resulting metrics, dead letters and batch notes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootDir == "" {
				dir, err := os.MkdirTemp("", "simflow-demo-")
				if err != nil {
					return err
				}
				rootDir = dir
				if !keepRoot {
					defer os.RemoveAll(dir)
				}
			}
			return runDemo(cmd, rootDir, runs, ticks)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 3, "number of simulation runs to produce")
	cmd.Flags().IntVar(&ticks, "ticks", 60, "ticks per run")
	cmd.Flags().StringVar(&rootDir, "root", "", "storage root (default: a temporary directory)")
	cmd.Flags().BoolVar(&keepRoot, "keep", false, "keep the storage root after the demo")
	return cmd
}

func runDemo(cmd *cobra.Command, root string, runs, ticksPerRun int) error {
	topo, err := manager.ParseTopology([]byte(fmt.Sprintf(demoTopology, root)))
	if err != nil {
		return err
	}
	m, err := manager.New(topo)
	if err != nil {
		return err
	}
	if err := m.StartAll(); err != nil {
		_ = m.StopAll()
		return err
	}

	ctx := cmd.Context()
	tickQ := mustQueue[record.Tick](m, "ticks")
	metaQ := mustQueue[record.Metadata](m, "meta")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "producing %d runs x %d ticks into %s\n", runs, ticksPerRun, root)
	// The meta-writer is one-shot: it consumes exactly one record, so only
	// the first run's metadata is produced.
	if err := metaQ.Put(ctx, record.Metadata{
		RunID: "sim-000",
		Name:  "demo",
		Attrs: map[string]string{"ticks": fmt.Sprint(ticksPerRun)},
		At:    time.Now(),
	}); err != nil {
		return err
	}
	for r := 0; r < runs; r++ {
		runID := fmt.Sprintf("sim-%03d", r)
		for seq := 0; seq < ticksPerRun; seq++ {
			tick := record.Tick{
				RunID:   runID,
				Seq:     uint64(seq),
				Payload: []byte(fmt.Sprintf("tick-%d", seq)),
				At:      time.Now(),
			}
			if err := tickQ.Put(ctx, tick); err != nil {
				return err
			}
			// Every tenth tick is delivered twice, as a redelivering
			// transport would do.
			if seq%10 == 0 {
				if err := tickQ.Put(ctx, tick); err != nil {
					return err
				}
			}
		}
		// Batches never mix runs, so each run drains fully before the
		// next one starts producing into the shared queue.
		waitForDrain(m, tickQ, 15*time.Second)
	}

	if err := m.StopAll(); err != nil {
		return err
	}

	for _, name := range m.ServiceNames() {
		st, err := m.ServiceStatus(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s  state=%s healthy=%v\n", name, st.State, st.Healthy)
		keys := make([]string, 0, len(st.Metrics))
		for k := range st.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-26s %d\n", k, st.Metrics[k])
		}
		for _, e := range st.Errors {
			fmt.Fprintf(out, "  error [%s] %s\n", e.Type, e.Msg)
		}
	}

	if res, ok := m.Resource("failed"); ok {
		dlq := res.(*resource.DeadLetterQueue)
		if dlq.Len() > 0 {
			fmt.Fprintf(out, "\ndead letters (%d):\n", dlq.Len())
			drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			for {
				dl, err := dlq.Take(drainCtx)
				if err != nil {
					break
				}
				fmt.Fprintf(out, "  %s %s: %s\n", dl.MessageType, dl.Metadata["run_id"], dl.FailureReason)
			}
		}
	}

	if res, ok := m.Resource("notes"); ok {
		topic := res.(resource.Topic[record.BatchNote])
		reader := topic.Reader("demo")
		fmt.Fprintf(out, "\nbatch notes:\n")
		for {
			msg, ok, err := reader.Poll(context.Background(), 100*time.Millisecond)
			if err != nil || !ok {
				break
			}
			fmt.Fprintf(out, "  %s seq %d..%d -> %s\n", msg.Payload.RunID, msg.Payload.StartSeq, msg.Payload.EndSeq, msg.Payload.Path)
			_ = reader.Ack(msg.ID)
		}
	}
	return nil
}

func mustQueue[T any](m *manager.Manager, name string) *resource.Queue[T] {
	res, ok := m.Resource(name)
	if !ok {
		panic("demo topology is missing resource " + name)
	}
	return res.(*resource.Queue[T])
}

// waitForDrain blocks until the tick queue is empty and the writer has
// gone a full batch window without progress, or the timeout passes.
func waitForDrain(m *manager.Manager, ticks *resource.Queue[record.Tick], timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	var last int64 = -1
	for time.Now().Before(deadline) {
		st, err := m.ServiceStatus("tick-writer")
		if err != nil {
			return
		}
		written := st.Metrics["ticks_written"]
		if ticks.Len() == 0 && written == last {
			return
		}
		last = written
		time.Sleep(1200 * time.Millisecond)
	}
}

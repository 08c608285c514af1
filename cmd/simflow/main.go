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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"simflow/internal/pipeline/manager"
)

// rootOptions holds global flags shared by all commands.
type rootOptions struct {
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "simflow",
		Short: "Declarative data-pipeline runtime",
		Long: `simflow wires a YAML topology of queues, trackers, stores and topics
into running sink services and drives their lifecycle as a group.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newDemoCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var (
		topologyPath string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a topology until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := manager.LoadTopology(topologyPath)
			if err != nil {
				return err
			}
			m, err := manager.New(topo)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					slog.Info("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			if err := m.StartAll(); err != nil {
				_ = m.StopAll()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			slog.Info("shutting down")
			return m.StopAll()
		},
	}
	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "if non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	_ = cmd.MarkFlagRequired("topology")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var topologyPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a topology and check its wiring without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := manager.LoadTopology(topologyPath)
			if err != nil {
				return err
			}
			m, err := manager.New(topo)
			if err != nil {
				return err
			}
			// Instances were built only to prove the wiring; release them.
			if err := m.StopAll(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topology ok: %d resources, %d services\n", len(topo.Resources), len(topo.Services))
			return nil
		},
	}
	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (required)")
	_ = cmd.MarkFlagRequired("topology")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

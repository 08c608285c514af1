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

package manager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"simflow/internal/pipeline/backend"
	"simflow/internal/pipeline/resource"
	"simflow/internal/pipeline/service"
	"simflow/internal/pipeline/sink"
	"simflow/pkg/record"
)

// Manager owns the live instances a topology describes and exposes
// aggregate and per-service lifecycle control over them.
type Manager struct {
	log       *slog.Logger
	resources map[string]resource.Resource
	services  map[string]service.Service
	startup   []string

	closeOnce sync.Once
	closeErr  error
}

// ServiceStatus is a point-in-time view of one service.
type ServiceStatus struct {
	Name    string
	State   service.State
	Healthy bool
	Metrics map[string]int64
	Errors  []service.ErrRecord
}

// New instantiates every resource, then every service in startup order,
// resolving port bindings to live instances. Any unknown type tag, bad
// option, or unresolvable binding fails construction; resources built
// before the failure are closed.
func New(topo *Topology) (_ *Manager, err error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		log:       slog.With("component", "manager"),
		resources: make(map[string]resource.Resource, len(topo.Resources)),
		services:  make(map[string]service.Service, len(topo.Services)),
		startup:   append([]string(nil), topo.StartupSequence...),
	}
	defer func() {
		if err != nil {
			m.closeResources()
		}
	}()

	// Deterministic construction order keeps failures reproducible.
	resNames := make([]string, 0, len(topo.Resources))
	for name := range topo.Resources {
		resNames = append(resNames, name)
	}
	sort.Strings(resNames)
	for _, name := range resNames {
		res, err := buildResource(name, topo.Resources[name])
		if err != nil {
			return nil, err
		}
		m.resources[name] = res
	}

	for _, name := range m.startup {
		spec := topo.Services[name]
		ports, err := m.resolvePorts(name, spec)
		if err != nil {
			return nil, err
		}
		svc, err := buildService(name, spec, ports)
		if err != nil {
			return nil, err
		}
		m.services[name] = svc
	}
	return m, nil
}

func (m *Manager) resolvePorts(svcName string, spec ServiceSpec) (service.Ports, error) {
	ports := service.Ports{}
	for _, binding := range spec.Ports {
		port, resName, err := splitBinding(binding)
		if err != nil {
			return nil, fmt.Errorf("manager: service %q: %w", svcName, err)
		}
		res, ok := m.resources[resName]
		if !ok {
			return nil, fmt.Errorf("manager: service %q binds unknown resource %q", svcName, resName)
		}
		ports.Bind(port, res)
	}
	return ports, nil
}

// StartAll starts services in startup order. On the first failure it
// stops the services already started, in reverse, and returns the error.
func (m *Manager) StartAll() error {
	for i, name := range m.startup {
		if err := m.services[name].Start(); err != nil {
			m.log.Error("startup aborted", "service", name, "error", err)
			for j := i - 1; j >= 0; j-- {
				m.services[m.startup[j]].Stop()
			}
			return fmt.Errorf("manager: start %q: %w", name, err)
		}
		m.log.Info("service started", "service", name)
	}
	return nil
}

// StopAll stops services in reverse startup order, then closes every
// resource that holds external handles. Closing happens exactly once no
// matter how often StopAll runs or how far a failed StartAll got.
func (m *Manager) StopAll() error {
	for i := len(m.startup) - 1; i >= 0; i-- {
		name := m.startup[i]
		m.services[name].Stop()
		m.log.Info("service stopped", "service", name, "state", m.services[name].State())
	}
	m.closeResources()
	return m.closeErr
}

func (m *Manager) closeResources() {
	m.closeOnce.Do(func() {
		names := make([]string, 0, len(m.resources))
		for name := range m.resources {
			names = append(names, name)
		}
		sort.Strings(names)
		var errs []error
		for _, name := range names {
			if c, ok := m.resources[name].(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close %q: %w", name, err))
				}
			}
		}
		m.closeErr = errors.Join(errs...)
	})
}

// PauseAll requests a pause from every running service.
func (m *Manager) PauseAll() {
	for _, name := range m.startup {
		m.services[name].Pause()
	}
}

// ResumeAll resumes every paused service.
func (m *Manager) ResumeAll() {
	for _, name := range m.startup {
		m.services[name].Resume()
	}
}

// StartService starts one service by name.
func (m *Manager) StartService(name string) error {
	svc, ok := m.services[name]
	if !ok {
		return fmt.Errorf("manager: unknown service %q", name)
	}
	return svc.Start()
}

// StopService stops one service by name.
func (m *Manager) StopService(name string) error {
	svc, ok := m.services[name]
	if !ok {
		return fmt.Errorf("manager: unknown service %q", name)
	}
	svc.Stop()
	return nil
}

// ServiceStatus reports one service's state, health, metrics and recent
// errors.
func (m *Manager) ServiceStatus(name string) (ServiceStatus, error) {
	svc, ok := m.services[name]
	if !ok {
		return ServiceStatus{}, fmt.Errorf("manager: unknown service %q", name)
	}
	return ServiceStatus{
		Name:    name,
		State:   svc.State(),
		Healthy: svc.Healthy(),
		Metrics: svc.Metrics(),
		Errors:  svc.Errors(),
	}, nil
}

// ServiceNames returns the services in startup order.
func (m *Manager) ServiceNames() []string {
	return append([]string(nil), m.startup...)
}

// AllResourceStatus reports occupancy gauges for every resource that can
// provide them. Resources without stats appear with an empty map.
func (m *Manager) AllResourceStatus() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(m.resources))
	for name, res := range m.resources {
		if s, ok := res.(resource.Stats); ok {
			out[name] = s.Stats()
		} else {
			out[name] = map[string]int64{}
		}
	}
	return out
}

// Resource returns a built resource by name, for callers that feed or
// drain the pipeline directly (the demo, tests).
func (m *Manager) Resource(name string) (resource.Resource, bool) {
	res, ok := m.resources[name]
	return res, ok
}

// Option schemas per resource type tag. Durations are whole seconds, in
// line with the sink configs.

type queueOptions struct {
	Capacity int `yaml:"capacity"`
}

type memoryTrackerOptions struct {
	TTLSeconds           int `yaml:"ttlSeconds"`
	SweepThreshold       int `yaml:"sweepThreshold"`
	SweepIntervalSeconds int `yaml:"sweepIntervalSeconds"`
}

type redisTrackerOptions struct {
	TTLSeconds int    `yaml:"ttlSeconds"`
	Addr       string `yaml:"addr"`
}

type fileStoreOptions struct {
	Root string `yaml:"root"`
}

type memoryTopicOptions struct {
	ClaimTimeoutSeconds int `yaml:"claimTimeoutSeconds"`
}

type sqliteTopicOptions struct {
	ClaimTimeoutSeconds int    `yaml:"claimTimeoutSeconds"`
	Path                string `yaml:"path"`
}

const (
	defaultQueueCapacity = 1024
	defaultTTLSeconds    = 86400
	defaultClaimSeconds  = 30
)

func buildResource(name string, spec ResourceSpec) (resource.Resource, error) {
	switch spec.Type {
	case "queue.ticks":
		var opts queueOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.Capacity == 0 {
			opts.Capacity = defaultQueueCapacity
		}
		return resource.NewQueue[record.Tick](name, opts.Capacity)
	case "queue.metadata":
		var opts queueOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.Capacity == 0 {
			opts.Capacity = defaultQueueCapacity
		}
		return resource.NewQueue[record.Metadata](name, opts.Capacity)
	case "queue.deadletter":
		var opts queueOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.Capacity == 0 {
			opts.Capacity = defaultQueueCapacity
		}
		return resource.NewDeadLetterQueue(name, opts.Capacity)
	case "tracker.memory":
		var opts memoryTrackerOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.TTLSeconds == 0 {
			opts.TTLSeconds = defaultTTLSeconds
		}
		return backend.BuildTracker("memory", name, backend.TrackerOptions{
			TTL:            time.Duration(opts.TTLSeconds) * time.Second,
			SweepThreshold: opts.SweepThreshold,
			SweepInterval:  time.Duration(opts.SweepIntervalSeconds) * time.Second,
		})
	case "tracker.redis":
		var opts redisTrackerOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.TTLSeconds == 0 {
			opts.TTLSeconds = defaultTTLSeconds
		}
		return backend.BuildTracker("redis", name, backend.TrackerOptions{
			TTL:       time.Duration(opts.TTLSeconds) * time.Second,
			RedisAddr: opts.Addr,
		})
	case "store.file":
		var opts fileStoreOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.Root == "" {
			return nil, fmt.Errorf("manager: resource %q: store.file needs a root directory", name)
		}
		return resource.NewFileStore(name, opts.Root)
	case "topic.memory":
		var opts memoryTopicOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.ClaimTimeoutSeconds == 0 {
			opts.ClaimTimeoutSeconds = defaultClaimSeconds
		}
		return backend.BuildTopic("memory", name, backend.TopicOptions{
			ClaimTTL: time.Duration(opts.ClaimTimeoutSeconds) * time.Second,
		})
	case "topic.sqlite":
		var opts sqliteTopicOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, fmt.Errorf("manager: resource %q: %w", name, err)
		}
		if opts.ClaimTimeoutSeconds == 0 {
			opts.ClaimTimeoutSeconds = defaultClaimSeconds
		}
		return backend.BuildTopic("sqlite", name, backend.TopicOptions{
			ClaimTTL: time.Duration(opts.ClaimTimeoutSeconds) * time.Second,
			Path:     opts.Path,
		})
	default:
		return nil, fmt.Errorf("manager: resource %q has unknown type %q", name, spec.Type)
	}
}

func buildService(name string, spec ServiceSpec, ports service.Ports) (service.Service, error) {
	switch spec.Type {
	case "sink.ticks":
		cfg := sink.TickSinkConfig{MaxBatchSize: 100, BatchTimeoutSeconds: 5}
		if err := decodeOptions(spec.Options, &cfg); err != nil {
			return nil, fmt.Errorf("manager: service %q: %w", name, err)
		}
		return sink.NewTickSink(name, cfg, ports)
	case "sink.metadata":
		var cfg sink.MetadataSinkConfig
		if err := decodeOptions(spec.Options, &cfg); err != nil {
			return nil, fmt.Errorf("manager: service %q: %w", name, err)
		}
		return sink.NewMetadataSink(name, cfg, ports)
	default:
		return nil, fmt.Errorf("manager: service %q has unknown type %q", name, spec.Type)
	}
}

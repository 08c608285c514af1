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

// Package manager wires a declarative topology into live resources and
// services and drives their lifecycle as a group.
package manager

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topology is the declarative description of one pipeline: named
// resources, named services with port bindings, and the order services
// start in.
type Topology struct {
	Resources       map[string]ResourceSpec `yaml:"resources"`
	Services        map[string]ServiceSpec  `yaml:"services"`
	StartupSequence []string                `yaml:"startupSequence"`
}

// ResourceSpec declares one resource instance. Options are decoded
// against the schema of the named type when the manager builds it.
type ResourceSpec struct {
	Type    string    `yaml:"type"`
	Options yaml.Node `yaml:"options"`
}

// ServiceSpec declares one service instance. Each ports entry has the
// form "port:resource", binding a service port name to a resource name.
type ServiceSpec struct {
	Type    string    `yaml:"type"`
	Options yaml.Node `yaml:"options"`
	Ports   []string  `yaml:"ports"`
}

// ParseTopology decodes and validates a topology document. Unknown
// top-level fields are rejected so a typo fails loudly instead of being
// silently ignored.
func ParseTopology(data []byte) (*Topology, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var topo Topology
	if err := dec.Decode(&topo); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manager: topology document is empty")
		}
		return nil, fmt.Errorf("manager: parse topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// LoadTopology reads and parses a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manager: read topology: %w", err)
	}
	return ParseTopology(data)
}

// Validate checks the structural rules that do not need live instances:
// the startup sequence covers every service exactly once, port bindings
// are well formed, and every referenced resource is declared.
func (t *Topology) Validate() error {
	if len(t.Services) == 0 {
		return errors.New("manager: topology declares no services")
	}

	seen := make(map[string]bool, len(t.StartupSequence))
	for _, name := range t.StartupSequence {
		if _, ok := t.Services[name]; !ok {
			return fmt.Errorf("manager: startupSequence names unknown service %q", name)
		}
		if seen[name] {
			return fmt.Errorf("manager: startupSequence lists service %q twice", name)
		}
		seen[name] = true
	}
	for name := range t.Services {
		if !seen[name] {
			return fmt.Errorf("manager: service %q missing from startupSequence", name)
		}
	}

	for svcName, spec := range t.Services {
		if spec.Type == "" {
			return fmt.Errorf("manager: service %q has no type", svcName)
		}
		for _, binding := range spec.Ports {
			port, res, err := splitBinding(binding)
			if err != nil {
				return fmt.Errorf("manager: service %q: %w", svcName, err)
			}
			if port == "" || res == "" {
				return fmt.Errorf("manager: service %q: empty side in binding %q", svcName, binding)
			}
			if _, ok := t.Resources[res]; !ok {
				return fmt.Errorf("manager: service %q binds unknown resource %q", svcName, res)
			}
		}
	}
	for resName, spec := range t.Resources {
		if spec.Type == "" {
			return fmt.Errorf("manager: resource %q has no type", resName)
		}
	}
	return nil
}

func splitBinding(s string) (port, res string, err error) {
	port, res, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("binding %q is not of the form port:resource", s)
	}
	return strings.TrimSpace(port), strings.TrimSpace(res), nil
}

// decodeOptions fills out from an options node, leaving out untouched
// when the node is absent.
func decodeOptions(n yaml.Node, out any) error {
	if n.IsZero() {
		return nil
	}
	return n.Decode(out)
}

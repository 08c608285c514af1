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
	"fmt"
	"reflect"

	"simflow/internal/pipeline/resource"
)

// Ports maps a logical port name to the resource instances bound to it by
// the topology. Arity and type are checked at service construction, never
// at first use.
type Ports map[string][]resource.Resource

// Bind appends a resource to a port.
func (p Ports) Bind(port string, r resource.Resource) {
	p[port] = append(p[port], r)
}

// One resolves a port that must have exactly one binding of type T.
// Zero bindings, multiple bindings, or a wrong-typed binding are
// construction errors.
func One[T any](p Ports, port string) (T, error) {
	var zero T
	bound := p[port]
	switch len(bound) {
	case 0:
		return zero, fmt.Errorf("service: port %q has no resource bound", port)
	case 1:
	default:
		return zero, fmt.Errorf("service: port %q has %d resources bound, want exactly 1", port, len(bound))
	}
	r, ok := bound[0].(T)
	if !ok {
		return zero, fmt.Errorf("service: port %q: resource %q has type %T, want %v", port, bound[0].Name(), bound[0], reflect.TypeOf((*T)(nil)).Elem())
	}
	return r, nil
}

// Optional resolves a port that may have zero or one binding of type T.
func Optional[T any](p Ports, port string) (T, bool, error) {
	var zero T
	bound := p[port]
	switch len(bound) {
	case 0:
		return zero, false, nil
	case 1:
	default:
		return zero, false, fmt.Errorf("service: port %q has %d resources bound, want at most 1", port, len(bound))
	}
	r, ok := bound[0].(T)
	if !ok {
		return zero, false, fmt.Errorf("service: port %q: resource %q has type %T, want %v", port, bound[0].Name(), bound[0], reflect.TypeOf((*T)(nil)).Elem())
	}
	return r, true, nil
}

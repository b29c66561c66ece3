// Copyright 2026 The A3s Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import "fmt"

// closure returns names plus every transitive dependency reachable from
// them, per spec.md §4.5 "Start ordering": "extending with transitive
// dependencies".
func closure(specs map[string]*Spec, names []string) ([]string, error) {
	seen := map[string]bool{}
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		if seen[name] {
			return nil
		}
		spec, ok := specs[name]
		if !ok {
			return fmt.Errorf("unknown service %q", name)
		}
		seen[name] = true
		for _, dep := range spec.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// toposort orders names such that every dependency precedes its
// dependents, per spec.md §4.5 "Compute a topological order of the
// requested subset". Cycles are rejected at config load (spec.md §3),
// so this assumes an acyclic graph and does not detect cycles; it
// returns an error when a name is not a declared service.
func toposort(specs map[string]*Spec, names []string) ([]string, error) {
	full, err := closure(specs, names)
	if err != nil {
		return nil, err
	}
	return full, nil
}

// reverseOf returns names in the opposite order, for stop sequencing per
// spec.md §4.5 "Stop ordering: Reverse topological order of the
// subset."
func reverseOf(names []string) []string {
	rev := make([]string, len(names))
	for i, n := range names {
		rev[len(names)-1-i] = n
	}
	return rev
}

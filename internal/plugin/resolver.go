// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// LoadPlan is the result of resolving a set of validated descriptors.
type LoadPlan struct {
	// Order lists plugin names in initialization order.
	Order []string
	// Failures lists plugins excluded from Order, in discovery order.
	Failures []Failure

	descriptors map[string]pluginapi.Descriptor
}

// Descriptor returns the descriptor of a planned plugin.
func (p *LoadPlan) Descriptor(name string) (pluginapi.Descriptor, bool) {
	d, ok := p.descriptors[name]
	return d, ok
}

// Failed returns the exclusion error for name, or nil.
func (p *LoadPlan) Failed(name string) error {
	for _, f := range p.Failures {
		if f.Plugin == name {
			return f.Err
		}
	}
	return nil
}

// UnloadOrder returns the reverse of Order.
func (p *LoadPlan) UnloadOrder() []string {
	out := slices.Clone(p.Order)
	slices.Reverse(out)
	return out
}

// ResolveOption configures Resolve.
type ResolveOption func(*resolver)

// WithLoaded treats the given descriptors as already running: dependencies
// on them are satisfied but they are not part of the resulting order.
func WithLoaded(descs ...pluginapi.Descriptor) ResolveOption {
	return func(r *resolver) {
		for _, d := range descs {
			r.loaded[d.Name] = d
		}
	}
}

type resolver struct {
	descs    []pluginapi.Descriptor
	index    map[string]int
	loaded   map[string]pluginapi.Descriptor
	excluded map[int]error
}

// Resolve computes a load order for descs, which must be validated and
// listed in discovery order.
//
// A plugin whose required dependency is absent, fails its version
// constraint, or is itself excluded is dropped, transitively. Plugins on a
// cycle made only of required edges are dropped together. Optional edges
// are ordering hints: they are honored unless they close a cycle. Among
// plugins whose dependencies are satisfied, lower priority buckets load
// first and discovery order breaks ties.
func Resolve(descs []pluginapi.Descriptor, opts ...ResolveOption) *LoadPlan {
	r := &resolver{
		descs:    descs,
		index:    make(map[string]int, len(descs)),
		loaded:   make(map[string]pluginapi.Descriptor),
		excluded: make(map[int]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i, d := range descs {
		r.index[d.Name] = i
	}

	r.excludeMissing()
	r.excludeRequiredCycles()
	r.excludeMissing()

	plan := &LoadPlan{
		descriptors: make(map[string]pluginapi.Descriptor, len(descs)),
	}
	for i, d := range descs {
		if err, gone := r.excluded[i]; gone {
			plan.Failures = append(plan.Failures, Failure{Plugin: d.Name, Err: err})
			continue
		}
		plan.descriptors[d.Name] = d
	}
	plan.Order = r.order()
	return plan
}

// target returns the candidate index a dependency refers to, or -1 when it
// refers to an already loaded plugin. ok is false when nothing satisfies it.
func (r *resolver) target(dep pluginapi.Dependency) (idx int, reason string, ok bool) {
	version := ""
	idx = -1
	if i, found := r.index[dep.Name]; found {
		idx = i
		version = r.descs[i].Version
	} else if d, found := r.loaded[dep.Name]; found {
		version = d.Version
	} else {
		return -1, "not present", false
	}

	if dep.Constraint != "" {
		if err := checkConstraint(dep.Constraint, version); err != nil {
			return -1, err.Error(), false
		}
	}
	return idx, "", true
}

func checkConstraint(constraint, version string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("version %q is not a semantic version", version)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy %q", version, constraint)
	}
	return nil
}

// excludeMissing drops plugins with unsatisfied required dependencies until
// nothing changes.
func (r *resolver) excludeMissing() {
	for changed := true; changed; {
		changed = false
		for i, d := range r.descs {
			if _, gone := r.excluded[i]; gone {
				continue
			}
			if err := r.missingRequired(d); err != nil {
				r.excluded[i] = err
				changed = true
			}
		}
	}
}

func (r *resolver) missingRequired(d pluginapi.Descriptor) error {
	for _, dep := range d.Dependencies {
		if dep.Kind.IsOptional() {
			continue
		}
		idx, reason, ok := r.target(dep)
		if ok && idx >= 0 {
			if _, gone := r.excluded[idx]; gone {
				ok, reason = false, "excluded"
			}
		}
		if !ok {
			return oops.Code(CodeMissingDependency).
				In("plugin").
				With("plugin", d.Name).
				With("dependency", dep.Name).
				Errorf("plugin %q requires %q: %s", d.Name, dep.Name, reason)
		}
	}
	return nil
}

// excludeRequiredCycles drops every plugin on a cycle of required edges.
func (r *resolver) excludeRequiredCycles() {
	adj := targets(r.edges(false))
	for _, comp := range stronglyConnected(adj) {
		if len(comp) == 1 && !slices.Contains(adj[comp[0]], comp[0]) {
			continue
		}
		slices.Sort(comp)
		names := make([]string, len(comp))
		for k, i := range comp {
			names[k] = r.descs[i].Name
		}
		err := oops.Code(CodeDependencyCycle).
			In("plugin").
			With("cycle", names).
			Errorf("dependency cycle among %s", strings.Join(names, ", "))
		for _, i := range comp {
			r.excluded[i] = err
		}
	}
}

type edge struct {
	to       int
	optional bool
}

func targets(adj [][]edge) [][]int {
	out := make([][]int, len(adj))
	for from, es := range adj {
		for _, e := range es {
			out[from] = append(out[from], e.to)
		}
	}
	return out
}

// edges returns the dependency graph among surviving candidates as
// dependency -> dependents adjacency. Optional edges are included only when
// withOptional is set.
func (r *resolver) edges(withOptional bool) [][]edge {
	adj := make([][]edge, len(r.descs))
	for i, d := range r.descs {
		if _, gone := r.excluded[i]; gone {
			continue
		}
		for _, dep := range d.Dependencies {
			if dep.Kind.IsOptional() && !withOptional {
				continue
			}
			j, _, ok := r.target(dep)
			if !ok || j < 0 {
				continue
			}
			if _, gone := r.excluded[j]; gone {
				continue
			}
			adj[j] = append(adj[j], edge{to: i, optional: dep.Kind.IsOptional()})
		}
	}
	return adj
}

// order runs Kahn's algorithm over the surviving candidates. Optional edges
// inside a strongly connected component close a cycle and are dropped; the
// required edges left there are acyclic once required cycles are excluded.
func (r *resolver) order() []string {
	full := r.edges(true)
	comp := make([]int, len(r.descs))
	for c, members := range stronglyConnected(targets(full)) {
		for _, i := range members {
			comp[i] = c
		}
	}

	adj := make([][]int, len(r.descs))
	indegree := make([]int, len(r.descs))
	for from, es := range full {
		for _, e := range es {
			if e.optional && comp[from] == comp[e.to] {
				continue
			}
			adj[from] = append(adj[from], e.to)
			indegree[e.to]++
		}
	}

	var ready []int
	for i := range r.descs {
		if _, gone := r.excluded[i]; gone {
			continue
		}
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(ready))
	for len(ready) > 0 {
		best := 0
		for k := 1; k < len(ready); k++ {
			if r.before(ready[k], ready[best]) {
				best = k
			}
		}
		next := ready[best]
		ready = slices.Delete(ready, best, best+1)
		order = append(order, r.descs[next].Name)

		for _, to := range adj[next] {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return order
}

func (r *resolver) before(a, b int) bool {
	pa := r.descs[a].Priority.Normalize()
	pb := r.descs[b].Priority.Normalize()
	if pa != pb {
		return pa < pb
	}
	return a < b
}

// stronglyConnected returns the strongly connected components of adj using
// Tarjan's algorithm. Every node appears in exactly one component.
func stronglyConnected(adj [][]int) [][]int {
	n := len(adj)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var (
		stack []int
		comps [][]int
		next  int
		visit func(v int)
	)
	visit = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			switch {
			case index[w] < 0:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		comps = append(comps, comp)
	}

	for v := range n {
		if index[v] < 0 {
			visit(v)
		}
	}
	return comps
}

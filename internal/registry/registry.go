// Package registry resolves the set of probes a worker should run on
// each tick, and the order dependencies force between them. It mirrors
// the load_plugins step of the original daemon's worker: build the
// full set, then topologically sort it once so every tick reuses the
// same order without re-checking for cycles.
package registry

import (
	"fmt"
	"sort"

	"github.com/sitterd/sitterd/internal/probe"
	"github.com/sitterd/sitterd/internal/sitterrors"
)

// Registry holds the probes selected for this daemon instance, already
// validated for duplicate names and ordered so that every probe appears
// after everything it depends on.
type Registry struct {
	probes  map[string]probe.Probe
	ordered []probe.Probe
}

// Load builds a Registry from the given probes. If names is non-empty,
// only probes whose Name() appears in names are included (an unknown
// name is an error); an empty names list includes every probe passed
// in, which is how a daemon runs with its full built-in set.
func Load(all []probe.Probe, names []string) (*Registry, error) {
	byName := make(map[string]probe.Probe, len(all))
	for _, p := range all {
		if _, dup := byName[p.Name()]; dup {
			return nil, &sitterrors.ConfigError{Key: "probes", Message: fmt.Sprintf("duplicate probe name %q", p.Name())}
		}
		byName[p.Name()] = p
	}

	selected := byName
	if len(names) > 0 {
		selected = make(map[string]probe.Probe, len(names))
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				return nil, &sitterrors.ConfigError{Key: "probes", Message: fmt.Sprintf("unknown probe %q", name)}
			}
			selected[name] = p
		}
		// Pull in anything a selected probe depends on, even if the
		// caller didn't name it explicitly, so dependency order is
		// always satisfiable.
		for changed := true; changed; {
			changed = false
			for _, p := range selected {
				for _, dep := range p.Dependencies() {
					if _, ok := selected[dep]; ok {
						continue
					}
					depProbe, ok := byName[dep]
					if !ok {
						return nil, &sitterrors.ConfigError{Key: "probes", Message: fmt.Sprintf("probe %q depends on unknown probe %q", p.Name(), dep)}
					}
					selected[dep] = depProbe
					changed = true
				}
			}
		}
	}

	ordered, err := topoSort(selected)
	if err != nil {
		return nil, err
	}

	return &Registry{probes: selected, ordered: ordered}, nil
}

// Ordered returns the probes in an order that respects every
// Dependencies() edge: a probe never appears before something it
// depends on. The order is stable across calls.
func (r *Registry) Ordered() []probe.Probe {
	return r.ordered
}

// Len returns the number of probes in the registry.
func (r *Registry) Len() int {
	return len(r.probes)
}

// Has reports whether a probe with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.probes[name]
	return ok
}

const (
	stateUnvisited = iota
	stateVisiting
	stateDone
)

// topoSort performs a depth-first topological sort, breaking ties
// between probes with no ordering constraint between them by name so
// that Ordered() is deterministic across runs.
func topoSort(probes map[string]probe.Probe) ([]probe.Probe, error) {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]int, len(probes))
	order := make([]probe.Probe, 0, len(probes))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case stateDone:
			return nil
		case stateVisiting:
			return &sitterrors.CycleError{Path: append(append([]string{}, path...), name)}
		}

		state[name] = stateVisiting
		path = append(path, name)

		p := probes[name]
		deps := append([]string{}, p.Dependencies()...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := probes[dep]; !ok {
				return &sitterrors.ConfigError{Key: "probes", Message: fmt.Sprintf("probe %q depends on unregistered probe %q", name, dep)}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		state[name] = stateDone
		order = append(order, p)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

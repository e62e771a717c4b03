// Package lifecycle holds the status transition tables of every entity kind
// and the pure guard consulted before a status-changing mutation is sent.
package lifecycle

import (
	"fmt"
	"sort"

	"github.com/huykn/entity-sync/types"
)

// InvalidTransitionError reports a status change that is not present in
// the kind's transition table.
type InvalidTransitionError struct {
	Kind types.Kind
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Kind, e.From, e.To)
}

// Machine is the transition table of one entity kind over its status enum S.
type Machine[S ~string] struct {
	kind     types.Kind
	statuses []S
	edges    map[S]map[S]struct{}
}

// NewMachine builds a machine from the full status enum and the edge table.
// Every status must have an entry in edges (terminal statuses map to an
// empty slice) and every edge must point at a known status.
func NewMachine[S ~string](kind types.Kind, statuses []S, edges map[S][]S) (*Machine[S], error) {
	known := make(map[S]struct{}, len(statuses))
	for _, s := range statuses {
		if _, dup := known[s]; dup {
			return nil, fmt.Errorf("%s: duplicate status %q", kind, s)
		}
		known[s] = struct{}{}
	}
	if len(edges) != len(statuses) {
		return nil, fmt.Errorf("%s: edge table has %d statuses, enum has %d", kind, len(edges), len(statuses))
	}

	m := &Machine[S]{
		kind:     kind,
		statuses: append([]S(nil), statuses...),
		edges:    make(map[S]map[S]struct{}, len(edges)),
	}
	for from, targets := range edges {
		if _, ok := known[from]; !ok {
			return nil, fmt.Errorf("%s: edge from unknown status %q", kind, from)
		}
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			if _, ok := known[to]; !ok {
				return nil, fmt.Errorf("%s: edge %s -> unknown status %q", kind, from, to)
			}
			if to == from {
				return nil, fmt.Errorf("%s: self transition on %q", kind, from)
			}
			set[to] = struct{}{}
		}
		m.edges[from] = set
	}
	return m, nil
}

func mustMachine[S ~string](kind types.Kind, statuses []S, edges map[S][]S) *Machine[S] {
	m, err := NewMachine(kind, statuses, edges)
	if err != nil {
		panic(err)
	}
	return m
}

// Kind returns the entity kind this machine governs.
func (m *Machine[S]) Kind() types.Kind { return m.kind }

// Statuses returns the status enum in declaration order.
func (m *Machine[S]) Statuses() []S {
	return append([]S(nil), m.statuses...)
}

// Targets returns the legal next statuses of from, sorted.
func (m *Machine[S]) Targets(from S) []S {
	set := m.edges[from]
	out := make([]S, 0, len(set))
	for to := range set {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether to is a legal next status of from.
func (m *Machine[S]) CanTransition(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Apply returns an *InvalidTransitionError when from -> to is illegal.
// It performs no I/O.
func (m *Machine[S]) Apply(from, to S) error {
	if !m.CanTransition(from, to) {
		return &InvalidTransitionError{Kind: m.kind, From: string(from), To: string(to)}
	}
	return nil
}

// Terminal reports whether s has no outgoing transitions.
func (m *Machine[S]) Terminal(s S) bool {
	targets, ok := m.edges[s]
	return ok && len(targets) == 0
}

// Reachable reports whether any status can transition into to.
func (m *Machine[S]) Reachable(to S) bool {
	for _, targets := range m.edges {
		if _, ok := targets[to]; ok {
			return true
		}
	}
	return false
}

// Known reports whether s belongs to the enum.
func (m *Machine[S]) Known(s S) bool {
	_, ok := m.edges[s]
	return ok
}

// Table returns the transition table keyed by plain strings.
func (m *Machine[S]) Table() map[string][]string {
	out := make(map[string][]string, len(m.edges))
	for _, from := range m.statuses {
		targets := m.Targets(from)
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = string(t)
		}
		out[string(from)] = names
	}
	return out
}

// Guard is the kind-agnostic view of a Machine used by the coordinator.
type Guard interface {
	Kind() types.Kind
	Check(from, to string) error
	Reaches(to string) bool
	StatusNames() []string
	TableNames() map[string][]string
}

type guard[S ~string] struct{ *Machine[S] }

func (g guard[S]) Check(from, to string) error { return g.Apply(S(from), S(to)) }
func (g guard[S]) Reaches(to string) bool      { return g.Reachable(S(to)) }
func (g guard[S]) TableNames() map[string][]string {
	return g.Table()
}

func (g guard[S]) StatusNames() []string {
	out := make([]string, len(g.statuses))
	for i, s := range g.statuses {
		out[i] = string(s)
	}
	return out
}

// AsGuard erases the status type parameter.
func AsGuard[S ~string](m *Machine[S]) Guard { return guard[S]{m} }

package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DAGBuilder builds the dependency graph of the resource types in a run.
// It detects cycles and out-of-run dependencies and computes the execution
// levels used for parallel processing.
type DAGBuilder struct {
	// types is the set of types configured for the run
	types map[ResourceType]bool

	// adjacencyList maps a type to the types depending on it
	adjacencyList map[ResourceType][]ResourceType

	// reverseAdjacencyList maps a type to the types it depends on
	reverseAdjacencyList map[ResourceType][]ResourceType

	// missing maps a type to its dependencies that cannot be honoured
	missing map[ResourceType][]ResourceType

	// cycles records every cycle broken while building
	cycles []string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		types:                make(map[ResourceType]bool),
		adjacencyList:        make(map[ResourceType][]ResourceType),
		reverseAdjacencyList: make(map[ResourceType][]ResourceType),
		missing:              make(map[ResourceType][]ResourceType),
	}
}

// Build constructs a Schedule for types given the declared dependencies of
// each type.
//
// A dependency on a type outside of types flags the dependent as having a
// missing dependency. Cycles are broken the same way: every type on a cycle
// is flagged and the closing edge is dropped, so the schedule always makes
// progress. Self-references are ignored.
func (b *DAGBuilder) Build(types []ResourceType, deps map[ResourceType][]ResourceType) (*Schedule, error) {
	if err := b.initialize(types, deps); err != nil {
		return nil, err
	}

	b.breakCycles()

	sorted := b.sortedTypes()
	depsCopy := make(map[ResourceType][]ResourceType, len(sorted))
	dependents := make(map[ResourceType][]ResourceType, len(sorted))
	for _, t := range sorted {
		depsCopy[t] = append([]ResourceType(nil), b.reverseAdjacencyList[t]...)
		dependents[t] = append([]ResourceType(nil), b.adjacencyList[t]...)
	}

	schedule, err := newSchedule(sorted, depsCopy, dependents, b.missing, false)
	if err != nil {
		return nil, err
	}
	schedule.cycles = b.cycles
	return schedule, nil
}

// initialize sets up the internal data structures.
func (b *DAGBuilder) initialize(types []ResourceType, deps map[ResourceType][]ResourceType) error {
	for _, t := range types {
		if t == "" {
			return NewPermanentError("resource type has empty name", nil).
				WithCode(ErrCodeValidation)
		}
		if b.types[t] {
			return NewPermanentError(fmt.Sprintf("duplicate resource type: %s", t), nil).
				WithCode(ErrCodeValidation)
		}
		b.types[t] = true
		b.adjacencyList[t] = make([]ResourceType, 0)
		b.reverseAdjacencyList[t] = make([]ResourceType, 0)
	}

	for _, t := range b.sortedTypes() {
		seen := make(map[ResourceType]bool)
		for _, dep := range deps[t] {
			if dep == t || seen[dep] {
				continue
			}
			seen[dep] = true

			if !b.types[dep] {
				b.missing[t] = append(b.missing[t], dep)
				continue
			}

			// dependency must complete before t can start
			b.adjacencyList[dep] = append(b.adjacencyList[dep], t)
			b.reverseAdjacencyList[t] = append(b.reverseAdjacencyList[t], dep)
		}
	}

	return nil
}

// breakCycles removes one edge per detected cycle until the graph is acyclic,
// flagging every type on each cycle.
func (b *DAGBuilder) breakCycles() {
	for {
		cycle := b.detectCycle()
		if cycle == nil {
			return
		}
		b.cycles = append(b.cycles, formatCycle(cycle))

		for i := 0; i < len(cycle)-1; i++ {
			dependent := cycle[i+1]
			b.addMissing(dependent, cycle[i])
		}

		from, to := cycle[len(cycle)-2], cycle[len(cycle)-1]
		b.adjacencyList[from] = removeType(b.adjacencyList[from], to)
		b.reverseAdjacencyList[to] = removeType(b.reverseAdjacencyList[to], from)
	}
}

func (b *DAGBuilder) addMissing(t, dep ResourceType) {
	for _, m := range b.missing[t] {
		if m == dep {
			return
		}
	}
	b.missing[t] = append(b.missing[t], dep)
}

// detectCycle uses depth-first search to find one circular dependency. The
// returned path starts and ends with the same type.
func (b *DAGBuilder) detectCycle() []ResourceType {
	visited := make(map[ResourceType]bool)
	recStack := make(map[ResourceType]bool)

	for _, t := range b.sortedTypes() {
		if !visited[t] {
			if cycle := b.detectCyclesUtil(t, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// detectCyclesUtil performs DFS to detect cycles in the dependency graph.
func (b *DAGBuilder) detectCyclesUtil(
	node ResourceType,
	visited map[ResourceType]bool,
	recStack map[ResourceType]bool,
	path []ResourceType,
) []ResourceType {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	// Visit all dependents (types that depend on this node)
	for _, dependent := range b.adjacencyList[node] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, t := range path {
				if t == dependent {
					cycle := append([]ResourceType(nil), path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[node] = false
	return nil
}

func (b *DAGBuilder) sortedTypes() []ResourceType {
	out := make([]ResourceType, 0, len(b.types))
	for t := range b.types {
		out = append(out, t)
	}
	sortTypes(out)
	return out
}

// Schedule tracks the per-type state of one walk over the dependency graph.
// A type becomes READY once every type it waits on is DONE. It is safe for
// concurrent use.
type Schedule struct {
	mu sync.Mutex

	types []ResourceType

	// waitsOn maps a type to the types that must be done first
	waitsOn map[ResourceType][]ResourceType

	// unblocks maps a type to the types waiting on it
	unblocks map[ResourceType][]ResourceType

	// deps and dependents keep the forward graph for Reverse
	deps       map[ResourceType][]ResourceType
	dependents map[ResourceType][]ResourceType

	missing   map[ResourceType][]ResourceType
	remaining map[ResourceType]int
	state     map[ResourceType]TypeState
	levels    [][]ResourceType
	level     map[ResourceType]int
	reverse   bool
	cycles    []string
}

func newSchedule(
	types []ResourceType,
	deps, dependents, missing map[ResourceType][]ResourceType,
	reverse bool,
) (*Schedule, error) {
	s := &Schedule{
		types:      types,
		deps:       deps,
		dependents: dependents,
		missing:    make(map[ResourceType][]ResourceType, len(missing)),
		remaining:  make(map[ResourceType]int, len(types)),
		state:      make(map[ResourceType]TypeState, len(types)),
		level:      make(map[ResourceType]int, len(types)),
		reverse:    reverse,
	}
	for t, m := range missing {
		s.missing[t] = append([]ResourceType(nil), m...)
		sortTypes(s.missing[t])
	}

	s.waitsOn, s.unblocks = deps, dependents
	if reverse {
		s.waitsOn, s.unblocks = dependents, deps
	}

	for _, t := range types {
		s.remaining[t] = len(s.waitsOn[t])
		if s.remaining[t] == 0 {
			s.state[t] = TypeStateReady
		} else {
			s.state[t] = TypeStatePending
		}
	}

	if err := s.computeLevels(); err != nil {
		return nil, err
	}
	return s, nil
}

// computeLevels assigns execution levels to each type using Kahn's algorithm.
// Types at the same level can be processed in parallel.
func (s *Schedule) computeLevels() error {
	inDegree := make(map[ResourceType]int, len(s.types))
	currentLevel := make([]ResourceType, 0)
	for _, t := range s.types {
		inDegree[t] = len(s.waitsOn[t])
		if inDegree[t] == 0 {
			currentLevel = append(currentLevel, t)
		}
	}

	processed := 0
	for len(currentLevel) > 0 {
		sortTypes(currentLevel)
		for _, t := range currentLevel {
			s.level[t] = len(s.levels)
		}
		s.levels = append(s.levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]ResourceType, 0)
		for _, t := range currentLevel {
			for _, next := range s.unblocks[t] {
				inDegree[next]--
				if inDegree[next] == 0 {
					nextLevel = append(nextLevel, next)
				}
			}
		}
		currentLevel = nextLevel
	}

	if processed != len(s.types) {
		return NewPermanentError("failed to order all resource types - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

// NextReady returns the current frontier: every type that is READY and has
// not been handed out yet. Returned types move to IN_FLIGHT.
func (s *Schedule) NextReady() []ResourceType {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]ResourceType, 0)
	for _, t := range s.types {
		if s.state[t] == TypeStateReady {
			s.state[t] = TypeStateInFlight
			ready = append(ready, t)
		}
	}
	return ready
}

// MarkDone moves t to DONE and unblocks the types waiting on it.
func (s *Schedule) MarkDone(t ResourceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[t]
	if !ok {
		return NewPermanentError(fmt.Sprintf("unknown resource type: %s", t), nil).
			WithCode(ErrCodeValidation)
	}
	if st != TypeStateInFlight && st != TypeStateReady {
		return NewPermanentError(fmt.Sprintf("resource type %s cannot be marked done from state %s", t, st), nil).
			WithCode(ErrCodeInternal)
	}

	s.state[t] = TypeStateDone
	for _, next := range s.unblocks[t] {
		s.remaining[next]--
		if s.remaining[next] == 0 && s.state[next] == TypeStatePending {
			s.state[next] = TypeStateReady
		}
	}
	return nil
}

// Active reports whether any type is not DONE yet.
func (s *Schedule) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.types {
		if s.state[t] != TypeStateDone {
			return true
		}
	}
	return false
}

// InFlight returns the number of types handed out and not yet done.
func (s *Schedule) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.types {
		if s.state[t] == TypeStateInFlight {
			n++
		}
	}
	return n
}

// State returns the scheduling state of t.
func (s *Schedule) State(t ResourceType) TypeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[t]
}

// Types returns the scheduled types in name order.
func (s *Schedule) Types() []ResourceType {
	return append([]ResourceType(nil), s.types...)
}

// MissingDependency reports whether t is flagged as having a missing
// dependency. Flagged types may be read and diffed but never written.
func (s *Schedule) MissingDependency(t ResourceType) bool {
	return len(s.missing[t]) > 0
}

// MissingDependencies returns the dependencies of t that are absent from the
// run or sit on a cycle with it.
func (s *Schedule) MissingDependencies(t ResourceType) []ResourceType {
	return append([]ResourceType(nil), s.missing[t]...)
}

// Dependencies returns the dependencies of t that are part of the schedule.
func (s *Schedule) Dependencies(t ResourceType) []ResourceType {
	out := append([]ResourceType(nil), s.deps[t]...)
	sortTypes(out)
	return out
}

// Missing returns every flagged type with its missing dependencies.
func (s *Schedule) Missing() map[ResourceType][]ResourceType {
	out := make(map[ResourceType][]ResourceType, len(s.missing))
	for t, m := range s.missing {
		out[t] = append([]ResourceType(nil), m...)
	}
	return out
}

// Cycles returns the dependency cycles that were broken, formatted as
// "a -> b -> a".
func (s *Schedule) Cycles() []string {
	return append([]string(nil), s.cycles...)
}

// Levels returns the execution levels. Types within a level are independent.
func (s *Schedule) Levels() [][]ResourceType {
	out := make([][]ResourceType, len(s.levels))
	for i, l := range s.levels {
		out[i] = append([]ResourceType(nil), l...)
	}
	return out
}

// Level returns the execution level of t.
func (s *Schedule) Level(t ResourceType) int {
	return s.level[t]
}

// Order returns the types flattened level by level.
func (s *Schedule) Order() []ResourceType {
	out := make([]ResourceType, 0, len(s.types))
	for _, l := range s.levels {
		out = append(out, l...)
	}
	return out
}

// Reverse returns a fresh schedule over the same graph in which a type is
// ready only after every type depending on it is done. It is used for
// deletion passes.
func (s *Schedule) Reverse() *Schedule {
	r, err := newSchedule(s.types, s.deps, s.dependents, s.missing, !s.reverse)
	if err != nil {
		// the graph was already verified acyclic
		panic(err)
	}
	r.cycles = s.cycles
	return r
}

// Reset returns a fresh schedule over the same graph and direction.
func (s *Schedule) Reset() *Schedule {
	r, err := newSchedule(s.types, s.deps, s.dependents, s.missing, s.reverse)
	if err != nil {
		panic(err)
	}
	r.cycles = s.cycles
	return r
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (s *Schedule) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ResourceTypes {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	// Group nodes by level for better visualization
	for level, types := range s.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, t := range types {
			color := "lightgreen"
			if s.MissingDependency(t) {
				color = "lightcoral"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [fillcolor=\"%s\", style=\"filled,rounded\"];\n", t, color))
		}

		sb.WriteString("  }\n\n")
	}

	for _, t := range s.types {
		for _, dep := range s.deps[t] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=solid, color=black];\n", dep, t))
		}
	}
	for _, t := range s.types {
		for _, dep := range s.missing[t] {
			if containsType(s.deps[t], dep) {
				continue
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=dashed, color=red];\n", dep, t))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func containsType(types []ResourceType, t ResourceType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// formatCycle formats a cycle path for log messages.
func formatCycle(cycle []ResourceType) string {
	parts := make([]string, len(cycle))
	for i, t := range cycle {
		parts[i] = string(t)
	}
	return strings.Join(parts, " -> ")
}

func sortTypes(types []ResourceType) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}

func removeType(types []ResourceType, t ResourceType) []ResourceType {
	out := types[:0]
	for _, x := range types {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}

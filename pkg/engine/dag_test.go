package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

func TestDAGBuilder_Build_Empty(t *testing.T) {
	schedule, err := NewDAGBuilder().Build(nil, nil)
	if err != nil {
		t.Fatalf("Expected no error for empty types, got: %v", err)
	}

	if schedule.Active() {
		t.Errorf("Expected empty schedule to be inactive")
	}

	if ready := schedule.NextReady(); len(ready) != 0 {
		t.Errorf("Expected no ready types, got %v", ready)
	}

	if len(schedule.Levels()) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(schedule.Levels()))
	}
}

func TestDAGBuilder_Build_LinearDependencies(t *testing.T) {
	types := []ResourceType{"roles", "users", "monitors"}
	deps := map[ResourceType][]ResourceType{
		"users":    {"roles"},
		"monitors": {"users"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := schedule.Levels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(levels))
	}

	// Verify levels
	if schedule.Level("roles") != 0 {
		t.Errorf("roles should be at level 0, got %d", schedule.Level("roles"))
	}
	if schedule.Level("users") != 1 {
		t.Errorf("users should be at level 1, got %d", schedule.Level("users"))
	}
	if schedule.Level("monitors") != 2 {
		t.Errorf("monitors should be at level 2, got %d", schedule.Level("monitors"))
	}
}

func TestDAGBuilder_Build_ParallelFrontier(t *testing.T) {
	types := []ResourceType{"roles", "synthetics_private_locations", "users", "synthetics_tests"}
	deps := map[ResourceType][]ResourceType{
		"users":            {"roles"},
		"synthetics_tests": {"synthetics_private_locations", "roles"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	first := schedule.NextReady()
	if got := typeNames(first); got != "roles,synthetics_private_locations" {
		t.Fatalf("Expected first frontier roles,synthetics_private_locations, got %s", got)
	}

	if again := schedule.NextReady(); len(again) != 0 {
		t.Errorf("Expected frontier to be handed out once, got %v", again)
	}

	if err := schedule.MarkDone("roles"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	if got := typeNames(schedule.NextReady()); got != "users" {
		t.Errorf("Expected users after roles, got %s", got)
	}

	if schedule.State("synthetics_tests") != TypeStatePending {
		t.Errorf("synthetics_tests should still be pending, got %s", schedule.State("synthetics_tests"))
	}

	if err := schedule.MarkDone("synthetics_private_locations"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if got := typeNames(schedule.NextReady()); got != "synthetics_tests" {
		t.Errorf("Expected synthetics_tests, got %s", got)
	}
}

func TestDAGBuilder_Build_DuplicateType(t *testing.T) {
	_, err := NewDAGBuilder().Build([]ResourceType{"roles", "roles"}, nil)
	if err == nil {
		t.Fatal("Expected error for duplicate type")
	}

	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
}

func TestDAGBuilder_Build_EmptyTypeName(t *testing.T) {
	if _, err := NewDAGBuilder().Build([]ResourceType{""}, nil); err == nil {
		t.Fatal("Expected error for empty type name")
	}
}

func TestDAGBuilder_Build_SelfReferenceIgnored(t *testing.T) {
	schedule, err := NewDAGBuilder().Build(
		[]ResourceType{"monitors"},
		map[ResourceType][]ResourceType{"monitors": {"monitors"}},
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if schedule.MissingDependency("monitors") {
		t.Errorf("Self reference must not flag a missing dependency")
	}
	if got := typeNames(schedule.NextReady()); got != "monitors" {
		t.Errorf("Expected monitors to be ready, got %s", got)
	}
}

func TestDAGBuilder_Build_MissingDependency(t *testing.T) {
	types := []ResourceType{"users", "monitors"}
	deps := map[ResourceType][]ResourceType{
		"users": {"roles"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !schedule.MissingDependency("users") {
		t.Errorf("users should be flagged with a missing dependency")
	}
	if got := schedule.MissingDependencies("users"); len(got) != 1 || got[0] != "roles" {
		t.Errorf("Expected missing [roles], got %v", got)
	}
	if schedule.MissingDependency("monitors") {
		t.Errorf("monitors declares no dependency and must not be flagged")
	}

	// flagged types stay schedulable
	if got := typeNames(schedule.NextReady()); got != "monitors,users" {
		t.Errorf("Expected both types ready, got %s", got)
	}
}

func TestDAGBuilder_Build_CycleFlagsMembers(t *testing.T) {
	types := []ResourceType{"a", "b", "c", "d"}
	deps := map[ResourceType][]ResourceType{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
		"d": {"a"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Expected cycles to be broken, got: %v", err)
	}

	for _, m := range []ResourceType{"a", "b", "c"} {
		if !schedule.MissingDependency(m) {
			t.Errorf("%s is on the cycle and should be flagged", m)
		}
	}
	if schedule.MissingDependency("d") {
		t.Errorf("d only depends on the cycle and should not be flagged")
	}

	if len(schedule.Cycles()) != 1 {
		t.Fatalf("Expected 1 broken cycle, got %v", schedule.Cycles())
	}
	if !strings.Contains(schedule.Cycles()[0], "->") {
		t.Errorf("Expected formatted cycle, got %q", schedule.Cycles()[0])
	}

	order := drain(t, schedule)
	if len(order) != len(types) {
		t.Fatalf("Expected every type to be processed, got %v", order)
	}
}

func TestSchedule_MarkDone_Errors(t *testing.T) {
	schedule, err := NewDAGBuilder().Build(
		[]ResourceType{"roles", "users"},
		map[ResourceType][]ResourceType{"users": {"roles"}},
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := schedule.MarkDone("unknown"); err == nil {
		t.Errorf("Expected error for unknown type")
	}
	if err := schedule.MarkDone("users"); err == nil {
		t.Errorf("Expected error marking a pending type done")
	}

	schedule.NextReady()
	if err := schedule.MarkDone("roles"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := schedule.MarkDone("roles"); err == nil {
		t.Errorf("Expected error marking a type done twice")
	}
}

func TestSchedule_Reverse(t *testing.T) {
	types := []ResourceType{"roles", "users", "monitors", "downtimes"}
	deps := map[ResourceType][]ResourceType{
		"users":     {"roles"},
		"downtimes": {"monitors"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	order := drain(t, schedule.Reverse())
	index := indexOf(order)

	if index["users"] > index["roles"] {
		t.Errorf("users must be deleted before roles: %v", order)
	}
	if index["downtimes"] > index["monitors"] {
		t.Errorf("downtimes must be deleted before monitors: %v", order)
	}

	// the forward schedule is unaffected
	if schedule.State("roles") != TypeStateReady {
		t.Errorf("Expected forward schedule untouched, got %s", schedule.State("roles"))
	}
}

func TestSchedule_ToDOT(t *testing.T) {
	schedule, err := NewDAGBuilder().Build(
		[]ResourceType{"roles", "users", "slo_corrections"},
		map[ResourceType][]ResourceType{
			"users":           {"roles"},
			"slo_corrections": {"service_level_objectives"},
		},
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	dot := schedule.ToDOT()
	for _, want := range []string{
		"digraph ResourceTypes",
		"cluster_level_0",
		`"roles" -> "users"`,
		`"service_level_objectives" -> "slo_corrections" [style=dashed, color=red]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestSchedule_ToDOT_CycleEdgesDrawnOnce(t *testing.T) {
	schedule, err := NewDAGBuilder().Build(
		[]ResourceType{"a", "b"},
		map[ResourceType][]ResourceType{
			"a": {"b"},
			"b": {"a"},
		},
	)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	dot := schedule.ToDOT()
	for _, edge := range []string{`"a" -> "b"`, `"b" -> "a"`} {
		if n := strings.Count(dot, edge); n != 1 {
			t.Errorf("Expected %s drawn once, got %d:\n%s", edge, n, dot)
		}
	}
	if !strings.Contains(dot, "[style=dashed, color=red]") {
		t.Errorf("Expected the broken cycle edge dashed:\n%s", dot)
	}
}

// Every edge of a random DAG must be respected by the processing order.
func TestSchedule_RandomDAGOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(25)
		types := make([]ResourceType, n)
		for i := range types {
			types[i] = ResourceType(fmt.Sprintf("t%02d", i))
		}

		// edges only go from lower to higher index, so the graph is acyclic
		deps := make(map[ResourceType][]ResourceType)
		for i := 1; i < n; i++ {
			for j := 0; j < i; j++ {
				if rng.Float64() < 0.2 {
					deps[types[i]] = append(deps[types[i]], types[j])
				}
			}
		}

		// shuffle the input order
		shuffled := append([]ResourceType(nil), types...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		schedule, err := NewDAGBuilder().Build(shuffled, deps)
		if err != nil {
			t.Fatalf("iteration %d: Build failed: %v", iter, err)
		}

		for _, typ := range types {
			if schedule.MissingDependency(typ) {
				t.Fatalf("iteration %d: %s flagged in an acyclic closed graph", iter, typ)
			}
		}

		order := drain(t, schedule)
		if len(order) != n {
			t.Fatalf("iteration %d: expected %d types, got %d", iter, n, len(order))
		}
		index := indexOf(order)
		for dependent, ds := range deps {
			for _, dep := range ds {
				if index[dep] >= index[dependent] {
					t.Fatalf("iteration %d: %s processed before its dependency %s", iter, dependent, dep)
				}
			}
		}

		levelIndex := make(map[ResourceType]int)
		for i, level := range schedule.Levels() {
			for _, typ := range level {
				levelIndex[typ] = i
			}
		}
		for dependent, ds := range deps {
			for _, dep := range ds {
				if levelIndex[dep] >= levelIndex[dependent] {
					t.Fatalf("iteration %d: level of %s not after %s", iter, dependent, dep)
				}
			}
		}
	}
}

// drain processes a schedule frontier by frontier in random completion order
// and returns the order in which types were marked done.
func drain(t *testing.T, schedule *Schedule) []ResourceType {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	var order []ResourceType
	var inFlight []ResourceType
	for {
		inFlight = append(inFlight, schedule.NextReady()...)
		if len(inFlight) == 0 {
			break
		}
		i := rng.Intn(len(inFlight))
		done := inFlight[i]
		inFlight = append(inFlight[:i], inFlight[i+1:]...)

		if err := schedule.MarkDone(done); err != nil {
			t.Fatalf("MarkDone(%s) failed: %v", done, err)
		}
		order = append(order, done)
	}

	if schedule.Active() {
		t.Fatalf("schedule stalled after %v", order)
	}
	return order
}

func indexOf(order []ResourceType) map[ResourceType]int {
	index := make(map[ResourceType]int, len(order))
	for i, typ := range order {
		index[typ] = i
	}
	return index
}

func typeNames(types []ResourceType) string {
	names := make([]string, len(types))
	for i, typ := range types {
		names[i] = string(typ)
	}
	return strings.Join(names, ",")
}

func TestSchedule_Dependencies(t *testing.T) {
	types := []ResourceType{"roles", "synthetics_private_locations", "synthetics_tests"}
	deps := map[ResourceType][]ResourceType{
		"synthetics_tests": {"synthetics_private_locations", "roles", "synthetics_global_variables"},
	}

	schedule, err := NewDAGBuilder().Build(types, deps)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := schedule.Dependencies("synthetics_tests")
	if len(got) != 2 || got[0] != "roles" || got[1] != "synthetics_private_locations" {
		t.Errorf("Expected [roles synthetics_private_locations], got %v", got)
	}
	if len(schedule.Dependencies("roles")) != 0 {
		t.Errorf("roles should have no dependencies")
	}
}

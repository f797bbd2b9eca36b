// Package engine provides the core types and the orchestrator of orgsync.
//
// # Overview
//
// orgsync copies configuration resources (dashboards, monitors, roles, users,
// synthetic tests, ...) from a source account to a destination account. The
// engine works through four phases:
//
//  1. Import - Fetch every resource of the source account and persist it as
//     the source state (Orchestrator.Import)
//  2. Sync - Resolve cross-resource references, diff each record against the
//     destination state and create or update what drifted (Orchestrator.Sync)
//  3. Diffs - Report the drift a sync would apply without writing
//     (Orchestrator.Diffs)
//  4. Reset - Delete every destination resource in reverse dependency order
//     (Orchestrator.Reset)
//
// Migrate runs Import and Sync back to back as a single run. Cleanup deletes
// destination records whose source record disappeared and runs at the end of
// Sync when enabled.
//
// # Resource Types
//
// Each resource type is served by an Adapter which owns a ResourceConfig: its
// API base path, the attributes excluded from diffs and the references
// (connections) it holds to other types. Connections define the dependency
// graph. The DAGBuilder turns it into a Schedule which hands out frontiers of
// types whose dependencies are done:
//
//	schedule, err := engine.NewDAGBuilder().Build(types, deps)
//	for {
//	    ready := schedule.NextReady()
//	    if len(ready) == 0 {
//	        break
//	    }
//	    for _, t := range ready {
//	        process(t)
//	        schedule.MarkDone(t)
//	    }
//	}
//
// A type depending on a type outside the run, or sitting on a dependency
// cycle, is flagged with a missing dependency. It is still imported and its
// records are still resolved, but writes against the destination are skipped.
//
// # State
//
// Source and destination records are held in RecordMaps keyed by the source
// identifier of each record. A StateStore loads and persists them per type
// and origin; the engine never writes the source map during Sync.
//
// # Concurrency
//
// Independent types run concurrently. Record operations of every running type
// share one WorkerPool bounded by Options.MaxWorkers. All RecordMap methods
// are safe for concurrent use.
//
// # Error Handling
//
// Record level failures are classified into EngineErrors (transient,
// throttled, conflict, permanent) and reported once through an ErrorLog; they
// never abort the run. Failures to read or persist state are fatal. A run with
// any reported error or a cancellation exits non-zero:
//
//	res, err := orchestrator.Sync(ctx)
//	if err != nil {
//	    // fatal: state could not be loaded or persisted
//	}
//	os.Exit(res.ExitCode())
package engine

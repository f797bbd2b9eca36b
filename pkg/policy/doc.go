// Package policy provides Open Policy Agent (OPA) write guards for orgsync.
//
// Every create, update and delete the orchestrator is about to send to the
// destination account is evaluated against a set of Rego policies. A policy
// reports violations through a "deny" set rule; a violation of severity
// error or critical blocks the write, lower severities are logged.
//
// # Usage
//
//	guard, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := guard.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    log.Fatal(err)
//	}
//	orch, err := engine.NewOrchestrator(adapters, store, logger, opts,
//	    engine.WithWriteGuard(guard))
//
// # Input
//
// Policies see the planned write as input:
//
//	{
//	  "run_id":  "…",
//	  "phase":   "sync",
//	  "type":    "monitors",
//	  "key":     "12345",
//	  "action":  "update",
//	  "cleanup": "false",
//	  "record":  { … }
//	}
//
// For deletes, record is the destination record being deleted.
//
// # Built-in Policies
//
//  1. guarded-deletes - deletes require a reset or cleanup
//  2. protected-records - records tagged orgsync:protected are never deleted
//  3. managed-users - warns when a write disables a user
//
// # Custom Policies
//
// Custom policies are .rego files, or .json files holding a Policy, loaded
// from files or directories. Plain string deny entries of a .rego file block
// the write:
//
//	package custom.monitors
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.type == "monitors"
//	    input.action == "create"
//	    not input.record.tags
//	    msg := "monitors must be tagged"
//	}
//
// Objects may carry their own severity:
//
//	deny contains {"message": "review this", "severity": "warning"} if { … }
package policy

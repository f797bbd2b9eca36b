// Package stores persists the run history of orgsync.
//
// Every phase run is recorded as a row in the runs table together with the
// per-record operations it performed. The ledger lives in a SQLite database
// opened in WAL mode and is migrated on open. Recorder adapts a Store to the
// engine.RunRecorder hooks so the orchestrator can write to it directly.
package stores

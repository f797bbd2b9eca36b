package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/orgsync/pkg/diff"
	"github.com/openfroyo/orgsync/pkg/resolve"
)

// Import fetches every configured type from the source account, replaces the
// source maps and persists them.
func (o *Orchestrator) Import(ctx context.Context) (*RunResult, error) {
	return o.execute(ctx, PhaseImport, o.importPhase)
}

// Sync applies the persisted source state to the destination account, then
// runs cleanup when enabled.
func (o *Orchestrator) Sync(ctx context.Context) (*RunResult, error) {
	return o.execute(ctx, PhaseSync, o.syncPhase)
}

// Migrate runs Import followed by Sync as a single run.
func (o *Orchestrator) Migrate(ctx context.Context) (*RunResult, error) {
	return o.execute(ctx, PhaseMigrate, func(ctx context.Context, r *run) error {
		if err := o.importPhase(ctx, r); err != nil {
			return err
		}
		if r.cancelled {
			return nil
		}
		return o.syncPhase(ctx, r)
	})
}

// Diffs reports drift between the persisted source and destination state
// without writing. Types with missing dependencies are skipped.
func (o *Orchestrator) Diffs(ctx context.Context) (*RunResult, error) {
	return o.execute(ctx, PhaseDiffs, o.diffsPhase)
}

// Reset deletes every destination record in reverse dependency order.
func (o *Orchestrator) Reset(ctx context.Context) (*RunResult, error) {
	return o.execute(ctx, PhaseReset, o.resetPhase)
}

func (o *Orchestrator) execute(ctx context.Context, phase Phase, fn func(context.Context, *run) error) (*RunResult, error) {
	ctx, r, span, err := o.begin(ctx, phase)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, r, span, fn(ctx, r))
}

func (o *Orchestrator) importPhase(ctx context.Context, r *run) error {
	if err := o.requireClient(o.source, OriginSource); err != nil {
		return err
	}
	return o.walk(ctx, r, r.schedule.Reset(), "import", func(ctx context.Context, t ResourceType) error {
		return o.importType(ctx, r, t)
	})
}

func (o *Orchestrator) importType(ctx context.Context, r *run, t ResourceType) error {
	a := o.adapters[t]
	cfg := a.Config()

	items, err := a.Fetch(ctx, o.source)
	if err != nil {
		op := o.fail(r, t, "", ActionImport, ClassifyError("failed to fetch resources", err).
			WithResource(string(t)).
			WithOperation("fetch"))
		o.complete(ctx, r, op)
		// keep the previous source file rather than overwrite it with nothing
		return nil
	}
	r.count(t, func(s *TypeSummary) { s.Fetched = len(items) })

	imported := NewRecordMap(nil)
	dispatch(ctx, o.pool, items, func(ctx context.Context, raw Record) {
		start := time.Now()
		key, rec, err := a.Import(ctx, o.source, raw)
		if err != nil {
			op := o.fail(r, t, key, ActionImport, ClassifyError("failed to import resource", err).
				WithResource(fmt.Sprintf("%s/%s", t, key)).
				WithOperation(string(ActionImport)))
			op.Duration = time.Since(start)
			o.complete(ctx, r, op)
			return
		}
		if key == "" || rec == nil {
			return
		}

		if o.filter != nil {
			keep, err := o.filter.Keep(t, rec)
			if err != nil {
				o.complete(ctx, r, o.fail(r, t, key, ActionImport, NewPermanentError("filter evaluation failed", err).
					WithCode(ErrCodeValidation).
					WithResource(fmt.Sprintf("%s/%s", t, key))))
				return
			}
			if !keep {
				r.count(t, func(s *TypeSummary) { s.Filtered++ })
				return
			}
		}

		imported.Set(key, rec)
		r.count(t, func(s *TypeSummary) { s.Imported++ })
		o.complete(ctx, r, OperationRecord{
			Type: t, Key: key, Action: ActionImport, Outcome: OutcomeSucceeded, Duration: time.Since(start),
		})
	})

	cfg.Source.Replace(imported.Snapshot())
	return o.persist(t, OriginSource, cfg.Source)
}

func (o *Orchestrator) syncPhase(ctx context.Context, r *run) error {
	if err := o.requireClient(o.destination, OriginDestination); err != nil {
		return err
	}
	if err := o.load(); err != nil {
		return err
	}

	err := o.walk(ctx, r, r.schedule.Reset(), "sync", func(ctx context.Context, t ResourceType) error {
		return o.syncType(ctx, r, t)
	})
	if err != nil || r.cancelled {
		return err
	}

	if o.opts.Cleanup.Enabled() {
		return o.cleanupPhase(ctx, r)
	}
	return nil
}

func (o *Orchestrator) syncType(ctx context.Context, r *run, t ResourceType) error {
	a := o.adapters[t]
	cfg := a.Config()
	missing := r.schedule.MissingDependency(t)

	if !missing {
		if err := a.PreApply(ctx, o.destination); err != nil {
			o.complete(ctx, r, o.fail(r, t, "", ActionUpdate, ClassifyError("pre-apply hook failed", err).
				WithResource(string(t)).
				WithOperation("pre_apply")))
		}
	}

	lookups := o.lookups(t)

	var mu sync.Mutex
	var deferred []string
	o.pool.Run(ctx, cfg.Source.Keys(), func(ctx context.Context, key string) {
		if o.syncRecord(ctx, r, a, key, lookups, missing, true) {
			mu.Lock()
			deferred = append(deferred, key)
			mu.Unlock()
		}
	})

	// records referencing siblings of their own type are retried once every
	// sibling had its first chance to be created
	if len(deferred) > 0 {
		sort.Strings(deferred)
		lookups[t] = cfg.Lookup()
		o.pool.Run(ctx, deferred, func(ctx context.Context, key string) {
			o.syncRecord(ctx, r, a, key, lookups, missing, false)
		})
	}

	if missing {
		return nil
	}
	return o.persist(t, OriginDestination, cfg.Destination)
}

// lookups builds the resolvers for every type referenced by t. Types outside
// the run resolve nothing.
func (o *Orchestrator) lookups(t ResourceType) map[ResourceType]resolve.Lookup {
	cfg := o.adapters[t].Config()
	lookups := make(map[ResourceType]resolve.Lookup, len(cfg.Connections))
	for target := range cfg.Connections {
		if ta, ok := o.adapters[target]; ok {
			lookups[target] = ta.Config().Lookup()
		} else {
			lookups[target] = resolve.MapLookup{}
		}
	}
	return lookups
}

// connect resolves every declared reference of rec in place and returns the
// unresolved keys per referenced type.
func connect(a Adapter, rec Record, lookups map[ResourceType]resolve.Lookup) map[ResourceType][]string {
	cfg := a.Config()
	var failed map[ResourceType][]string
	for target, paths := range cfg.Connections {
		for _, path := range paths {
			f := a.Connect(path, rec, target, lookups[target])
			if len(f) == 0 {
				continue
			}
			if failed == nil {
				failed = make(map[ResourceType][]string)
			}
			failed[target] = append(failed[target], f...)
		}
	}
	return failed
}

// syncRecord converges one destination record to its source. It returns true
// when the record must be retried after its siblings because its only
// unresolved references point at its own type.
func (o *Orchestrator) syncRecord(
	ctx context.Context,
	r *run,
	a Adapter,
	key string,
	lookups map[ResourceType]resolve.Lookup,
	missing bool,
	firstWave bool,
) bool {
	t := a.Type()
	cfg := a.Config()
	start := time.Now()

	src, ok := cfg.Source.Get(key)
	if !ok {
		return false
	}
	rec := src.Clone()

	if !missing {
		if err := a.PreAction(ctx, o.destination, key, rec); err != nil {
			op := o.fail(r, t, key, ActionUpdate, ClassifyError("pre-action hook failed", err).
				WithResource(fmt.Sprintf("%s/%s", t, key)).
				WithOperation("pre_action"))
			op.Duration = time.Since(start)
			o.complete(ctx, r, op)
			return false
		}
	}

	if failed := connect(a, rec, lookups); len(failed) > 0 {
		if _, self := failed[t]; firstWave && self && len(failed) == 1 && !missing {
			return true
		}

		ce := &ConnectionError{Type: t, Key: key, Failed: failed}
		r.addFailedConnections(ce)
		if missing {
			// unresolved references are expected when a dependency is absent
			o.logger.Debug().Err(ce).Str("resource_type", string(t)).Str("key", key).Msg("unresolved references")
		} else {
			err := r.errs.Report(NewConnectionFailure(ce), map[string]any{
				"run_id":        r.id,
				"resource_type": string(t),
				"key":           key,
			})
			if o.opts.SkipFailedConnections {
				r.count(t, func(s *TypeSummary) { s.Skipped++ })
				o.complete(ctx, r, OperationRecord{
					Type: t, Key: key, Action: ActionUpdate, Outcome: OutcomeSkipped,
					Error: err.Error(), Duration: time.Since(start),
				})
				return false
			}
		}
	}

	cfg.Prepare(rec)

	action := ActionCreate
	var changes []diff.Change
	if dest, exists := cfg.Destination.Get(key); exists {
		prepared := dest.Clone()
		cfg.Prepare(prepared)
		res := diff.Diff(map[string]any(prepared), map[string]any(rec), cfg.DiffOptions())
		if res.Empty() {
			r.count(t, func(s *TypeSummary) { s.Unchanged++ })
			return false
		}
		action = ActionUpdate
		changes = res.Changes
	}

	if missing {
		r.count(t, func(s *TypeSummary) { s.Skipped++ })
		o.complete(ctx, r, OperationRecord{
			Type: t, Key: key, Action: action, Outcome: OutcomeSkipped,
			Changes: len(changes), Error: "missing dependency", Duration: time.Since(start),
		})
		return false
	}

	if err := o.checkWrite(ctx, r, t, key, action, rec); err != nil {
		op := o.fail(r, t, key, action, err)
		op.Duration = time.Since(start)
		o.complete(ctx, r, op)
		return false
	}

	var out Record
	var err error
	if action == ActionCreate {
		out, err = a.Create(ctx, o.destination, key, rec)
	} else {
		out, err = a.Update(ctx, o.destination, key, rec)
	}
	if err != nil {
		op := o.fail(r, t, key, action, ClassifyError(fmt.Sprintf("failed to %s resource", action), err).
			WithResource(fmt.Sprintf("%s/%s", t, key)).
			WithOperation(string(action)))
		op.Changes = len(changes)
		op.Duration = time.Since(start)
		o.complete(ctx, r, op)
		return false
	}
	if out == nil {
		out = rec
	}
	cfg.Destination.Set(key, out)

	r.count(t, func(s *TypeSummary) {
		if action == ActionCreate {
			s.Created++
		} else {
			s.Updated++
		}
	})
	o.logger.Debug().
		Str("resource_type", string(t)).
		Str("key", key).
		Str("action", string(action)).
		Int("changes", len(changes)).
		Msg("resource synced")
	o.complete(ctx, r, OperationRecord{
		Type: t, Key: key, Action: action, Outcome: OutcomeSucceeded,
		Changes: len(changes), Duration: time.Since(start),
	})
	return false
}

func (o *Orchestrator) checkWrite(ctx context.Context, r *run, t ResourceType, key string, action Action, rec Record) error {
	if o.guard == nil {
		return nil
	}
	return o.guard.CheckWrite(ctx, WriteRequest{
		RunID:   r.id,
		Phase:   r.phase,
		Type:    t,
		Key:     key,
		Action:  action,
		Record:  rec,
		Cleanup: o.opts.Cleanup,
	})
}

func (o *Orchestrator) diffsPhase(ctx context.Context, r *run) error {
	if err := o.load(); err != nil {
		return err
	}
	return o.walk(ctx, r, r.schedule.Reset(), "diffs", func(ctx context.Context, t ResourceType) error {
		if r.schedule.MissingDependency(t) {
			o.logger.Info().Str("resource_type", string(t)).Msg("skipping diffs: missing dependencies")
			return nil
		}
		o.diffType(ctx, r, t)
		return nil
	})
}

func (o *Orchestrator) diffType(ctx context.Context, r *run, t ResourceType) {
	a := o.adapters[t]
	cfg := a.Config()
	lookups := o.lookups(t)

	o.pool.Run(ctx, cfg.Source.Keys(), func(ctx context.Context, key string) {
		src, ok := cfg.Source.Get(key)
		if !ok {
			return
		}
		rec := src.Clone()
		if failed := connect(a, rec, lookups); len(failed) > 0 {
			ce := &ConnectionError{Type: t, Key: key, Failed: failed}
			r.addFailedConnections(ce)
			o.logger.Warn().Err(ce).Str("resource_type", string(t)).Str("key", key).Msg("unresolved references")
		}
		cfg.Prepare(rec)

		dest, exists := cfg.Destination.Get(key)
		if !exists {
			o.recordDrift(r, t, RecordDiff{Type: t, Key: key, Action: ActionCreate})
			return
		}
		prepared := dest.Clone()
		cfg.Prepare(prepared)
		res := diff.Diff(map[string]any(prepared), map[string]any(rec), cfg.DiffOptions())
		if res.Empty() {
			r.count(t, func(s *TypeSummary) { s.Unchanged++ })
			return
		}
		o.recordDrift(r, t, RecordDiff{Type: t, Key: key, Action: ActionUpdate, Changes: res.Changes})
	})

	if o.opts.Cleanup.Enabled() {
		for _, key := range o.orphans(t) {
			o.recordDrift(r, t, RecordDiff{Type: t, Key: key, Action: ActionDelete})
		}
	}

	r.mu.Lock()
	drifted := r.summaries[t].Drifted
	r.mu.Unlock()
	if o.metrics != nil {
		o.metrics.RecordDrift(string(t), drifted)
	}
}

func (o *Orchestrator) recordDrift(r *run, t ResourceType, d RecordDiff) {
	r.addDiff(d)
	r.count(t, func(s *TypeSummary) { s.Drifted++ })

	event := o.logger.Info().
		Str("resource_type", string(t)).
		Str("key", d.Key).
		Str("action", string(d.Action))
	if len(d.Changes) > 0 {
		event = event.Strs("changes", changeLines(d.Changes))
	}
	event.Msg("drift detected")
}

func changeLines(changes []diff.Change) []string {
	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = c.String()
	}
	return lines
}

// orphans returns the destination keys of t with no source counterpart.
func (o *Orchestrator) orphans(t ResourceType) []string {
	cfg := o.adapters[t].Config()
	var keys []string
	for _, key := range cfg.Destination.Keys() {
		if _, ok := cfg.Source.Get(key); !ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// cleanupPhase deletes orphaned destination records in reverse dependency
// order.
func (o *Orchestrator) cleanupPhase(ctx context.Context, r *run) error {
	orphans := make(map[ResourceType][]string)
	total := 0
	for _, t := range o.types {
		if r.schedule.MissingDependency(t) {
			continue
		}
		if keys := o.orphans(t); len(keys) > 0 {
			orphans[t] = keys
			total += len(keys)
		}
	}
	if total == 0 {
		return nil
	}

	if o.opts.Cleanup == CleanupConfirm {
		if o.confirmer == nil {
			o.logger.Warn().Int("resources", total).Msg("cleanup requires confirmation but no confirmer is configured; skipping")
			return nil
		}
		ok, err := o.confirmer.Confirm(fmt.Sprintf("Delete %d destination resources missing from the source?", total))
		if err != nil {
			return NewPermanentError("cleanup confirmation failed", err).WithCode(ErrCodeValidation)
		}
		if !ok {
			o.logger.Info().Int("resources", total).Msg("cleanup declined")
			return nil
		}
	}

	return o.walk(ctx, r, r.schedule.Reverse(), "cleanup", func(ctx context.Context, t ResourceType) error {
		keys := orphans[t]
		if len(keys) == 0 {
			return nil
		}
		return o.deleteRecords(ctx, r, t, keys)
	})
}

func (o *Orchestrator) resetPhase(ctx context.Context, r *run) error {
	if err := o.requireClient(o.destination, OriginDestination); err != nil {
		return err
	}
	if err := o.load(); err != nil {
		return err
	}
	return o.walk(ctx, r, r.schedule.Reverse(), "reset", func(ctx context.Context, t ResourceType) error {
		if r.schedule.MissingDependency(t) {
			keys := o.adapters[t].Config().Destination.Keys()
			r.count(t, func(s *TypeSummary) { s.Skipped += len(keys) })
			return nil
		}
		return o.deleteRecords(ctx, r, t, o.adapters[t].Config().Destination.Keys())
	})
}

// deleteRecords deletes keys of t from the destination and persists the
// destination map.
func (o *Orchestrator) deleteRecords(ctx context.Context, r *run, t ResourceType, keys []string) error {
	a := o.adapters[t]
	cfg := a.Config()

	o.pool.Run(ctx, keys, func(ctx context.Context, key string) {
		start := time.Now()
		rec, _ := cfg.Destination.Get(key)

		if err := o.checkWrite(ctx, r, t, key, ActionDelete, rec); err != nil {
			op := o.fail(r, t, key, ActionDelete, err)
			op.Duration = time.Since(start)
			o.complete(ctx, r, op)
			return
		}

		if err := a.Delete(ctx, o.destination, key); err != nil {
			op := o.fail(r, t, key, ActionDelete, ClassifyError("failed to delete resource", err).
				WithResource(fmt.Sprintf("%s/%s", t, key)).
				WithOperation(string(ActionDelete)))
			op.Duration = time.Since(start)
			o.complete(ctx, r, op)
			return
		}

		cfg.Destination.Delete(key)
		r.count(t, func(s *TypeSummary) { s.Deleted++ })
		o.complete(ctx, r, OperationRecord{
			Type: t, Key: key, Action: ActionDelete, Outcome: OutcomeSucceeded, Duration: time.Since(start),
		})
	})

	return o.persist(t, OriginDestination, cfg.Destination)
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures an Orchestrator.
type Options struct {
	// MaxWorkers bounds the number of concurrent record operations.
	MaxWorkers int

	// Cleanup controls deletion of destination records absent from the source.
	Cleanup CleanupMode

	// SkipFailedConnections skips writing records with unresolved references.
	SkipFailedConnections bool
}

// Option configures optional collaborators of an Orchestrator.
type Option func(*Orchestrator)

// WithSourceClient sets the client of the source account.
func WithSourceClient(c APIClient) Option {
	return func(o *Orchestrator) { o.source = c }
}

// WithDestinationClient sets the client of the destination account.
func WithDestinationClient(c APIClient) Option {
	return func(o *Orchestrator) { o.destination = c }
}

// WithWriteGuard vets every planned write.
func WithWriteGuard(g WriteGuard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithFilter filters imported source records.
func WithFilter(f RecordFilter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithRecorder records the run lifecycle.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics records orchestrator measurements.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer traces runs and resource types.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithConfirmer asks before cleanup deletes in CleanupConfirm mode.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// Orchestrator drives the import, sync, diff and reset phases over the
// configured resource types in dependency order.
type Orchestrator struct {
	adapters map[ResourceType]Adapter
	types    []ResourceType
	store    StateStore
	logger   zerolog.Logger
	opts     Options
	pool     *WorkerPool

	source      APIClient
	destination APIClient
	guard       WriteGuard
	filter      RecordFilter
	recorder    RunRecorder
	metrics     Metrics
	tracer      trace.Tracer
	confirmer   Confirmer
}

// NewOrchestrator creates an orchestrator over adapters.
func NewOrchestrator(
	adapters []Adapter,
	store StateStore,
	logger zerolog.Logger,
	opts Options,
	options ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, NewPermanentError("state store is required", nil).WithCode(ErrCodeValidation)
	}

	o := &Orchestrator{
		adapters: make(map[ResourceType]Adapter, len(adapters)),
		store:    store,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		opts:     opts,
		pool:     NewWorkerPool(opts.MaxWorkers),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}

	for _, a := range adapters {
		t := a.Type()
		if _, exists := o.adapters[t]; exists {
			return nil, NewPermanentError(fmt.Sprintf("duplicate adapter for resource type %s", t), nil).
				WithCode(ErrCodeValidation)
		}
		a.Config().Init()
		o.adapters[t] = a
		o.types = append(o.types, t)
	}
	sortTypes(o.types)

	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Types returns the configured resource types in name order.
func (o *Orchestrator) Types() []ResourceType {
	return append([]ResourceType(nil), o.types...)
}

// Adapter returns the adapter of t.
func (o *Orchestrator) Adapter(t ResourceType) (Adapter, bool) {
	a, ok := o.adapters[t]
	return a, ok
}

// Schedule builds the dependency schedule of the configured types.
func (o *Orchestrator) Schedule() (*Schedule, error) {
	deps := make(map[ResourceType][]ResourceType, len(o.types))
	for _, t := range o.types {
		deps[t] = o.adapters[t].Config().Dependencies()
	}
	schedule, err := NewDAGBuilder().Build(o.types, deps)
	if err != nil {
		return nil, err
	}
	for _, c := range schedule.Cycles() {
		o.logger.Warn().Str("cycle", c).Msg("dependency cycle broken; affected types are write-skipped")
	}
	return schedule, nil
}

// run is the bookkeeping of one orchestrator invocation.
type run struct {
	id        string
	phase     Phase
	startedAt time.Time
	errs      *ErrorLog
	schedule  *Schedule

	mu                sync.Mutex
	summaries         map[ResourceType]*TypeSummary
	diffs             []RecordDiff
	failedConnections map[string]map[ResourceType][]string
	cancelled         bool
}

func (o *Orchestrator) newRun(phase Phase, schedule *Schedule) *run {
	r := &run{
		id:                uuid.New().String(),
		phase:             phase,
		startedAt:         time.Now(),
		errs:              NewErrorLog(o.logger, o.metrics),
		schedule:          schedule,
		summaries:         make(map[ResourceType]*TypeSummary, len(o.types)),
		failedConnections: make(map[string]map[ResourceType][]string),
	}
	for _, t := range o.types {
		r.summaries[t] = &TypeSummary{
			Type:                t,
			Level:               schedule.Level(t),
			MissingDependencies: schedule.MissingDependencies(t),
		}
	}
	return r
}

// count applies fn to the summary of t under the run lock.
func (r *run) count(t ResourceType, fn func(s *TypeSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.summaries[t])
}

func (r *run) addDiff(d RecordDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, d)
}

func (r *run) addFailedConnections(ce *ConnectionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedConnections[fmt.Sprintf("%s/%s", ce.Type, ce.Key)] = ce.Failed
}

func (r *run) result(status RunStatus) *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &RunResult{
		RunID:       r.id,
		Phase:       r.phase,
		Status:      status,
		StartedAt:   r.startedAt,
		CompletedAt: time.Now(),
		ErrorCount:  r.errs.Count(),
		Cancelled:   r.cancelled,
	}
	for _, s := range r.summaries {
		res.Types = append(res.Types, *s)
	}
	sort.Slice(res.Types, func(i, j int) bool {
		if res.Types[i].Level != res.Types[j].Level {
			return res.Types[i].Level < res.Types[j].Level
		}
		return res.Types[i].Type < res.Types[j].Type
	})

	res.Diffs = append(res.Diffs, r.diffs...)
	sort.Slice(res.Diffs, func(i, j int) bool {
		if res.Diffs[i].Type != res.Diffs[j].Type {
			return res.Diffs[i].Type < res.Diffs[j].Type
		}
		return res.Diffs[i].Key < res.Diffs[j].Key
	})

	if len(r.failedConnections) > 0 {
		res.FailedConnections = r.failedConnections
	}
	return res
}

// begin starts a run of phase.
func (o *Orchestrator) begin(ctx context.Context, phase Phase) (context.Context, *run, trace.Span, error) {
	schedule, err := o.Schedule()
	if err != nil {
		return ctx, nil, nil, err
	}

	r := o.newRun(phase, schedule)
	ctx, span := o.tracer.Start(ctx, "orgsync.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("run.phase", string(phase)),
		attribute.Int("run.types", len(o.types)),
	))

	for t, missing := range schedule.Missing() {
		o.logger.Warn().
			Str("resource_type", string(t)).
			Interface("missing", missing).
			Msg("missing dependencies; writes for this type are skipped")
		if o.metrics != nil {
			o.metrics.RecordMissingDependency(string(t))
		}
	}

	if o.recorder != nil {
		if err := o.recorder.RunStarted(ctx, r.id, phase, o.types); err != nil {
			o.logger.Warn().Err(err).Str("run_id", r.id).Msg("failed to record run start")
		}
	}

	o.logger.Info().
		Str("run_id", r.id).
		Str("phase", string(phase)).
		Int("types", len(o.types)).
		Int("levels", len(schedule.Levels())).
		Msg("run started")

	return ctx, r, span, nil
}

// finish completes the run and builds its result. A fatal error is logged
// here and returned marked as reported.
func (o *Orchestrator) finish(ctx context.Context, r *run, span trace.Span, fatal error) (*RunResult, error) {
	status := RunStatusSucceeded
	switch {
	case fatal != nil:
		fatal = r.errs.Report(fatal, map[string]any{"run_id": r.id})
		status = RunStatusFailed
	case r.cancelled:
		status = RunStatusCancelled
	case r.errs.HasErrors():
		status = RunStatusPartial
	}

	res := r.result(status)

	span.SetAttributes(
		attribute.String("run.status", string(status)),
		attribute.Int("run.errors", res.ErrorCount),
	)
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
	}
	span.End()

	if o.metrics != nil {
		o.metrics.RecordRun(string(r.phase), string(status), res.Duration())
	}
	if o.recorder != nil {
		if err := o.recorder.RunFinished(context.WithoutCancel(ctx), res); err != nil {
			o.logger.Warn().Err(err).Str("run_id", r.id).Msg("failed to record run result")
		}
	}

	o.logger.Info().
		Str("run_id", r.id).
		Str("phase", string(r.phase)).
		Str("status", string(status)).
		Int("errors", res.ErrorCount).
		Dur("duration", res.Duration()).
		Msg("run finished")

	return res, fatal
}

// typeDone is the completion notice of one resource type.
type typeDone struct {
	t   ResourceType
	err error
}

// walk processes every type of schedule, dispatching each frontier
// concurrently. A type is marked done once fn returns, whatever its record
// failures. An error returned by fn is fatal: no new types are dispatched and
// walk returns it after in-flight types finish. Cancelling ctx also stops
// dispatching.
func (o *Orchestrator) walk(
	ctx context.Context,
	r *run,
	schedule *Schedule,
	name string,
	fn func(ctx context.Context, t ResourceType) error,
) error {
	done := make(chan typeDone)
	inFlight := 0
	var fatal error

	for {
		if fatal == nil && ctx.Err() == nil {
			for _, t := range schedule.NextReady() {
				inFlight++
				go func(t ResourceType) {
					done <- typeDone{t: t, err: o.processType(ctx, r, name, t, fn)}
				}(t)
			}
		}

		if inFlight == 0 {
			break
		}

		d := <-done
		inFlight--
		if d.err != nil && fatal == nil {
			fatal = d.err
		}
		if err := schedule.MarkDone(d.t); err != nil && fatal == nil {
			fatal = err
		}
	}

	if fatal != nil {
		return fatal
	}
	if ctx.Err() != nil {
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		o.logger.Warn().Str("run_id", r.id).Msg("run cancelled; remaining resource types were not processed")
		return nil
	}
	if schedule.Active() {
		return NewPermanentError("schedule cannot make progress", nil).WithCode(ErrCodeInternal)
	}
	return nil
}

// processType wraps fn with a span and timing for one type.
func (o *Orchestrator) processType(
	ctx context.Context,
	r *run,
	name string,
	t ResourceType,
	fn func(ctx context.Context, t ResourceType) error,
) error {
	ctx, span := o.tracer.Start(ctx, "orgsync."+name, trace.WithAttributes(
		attribute.String("resource.type", string(t)),
		attribute.Bool("resource.missing_dependency", r.schedule.MissingDependency(t)),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx, t)
	elapsed := time.Since(start)
	r.count(t, func(s *TypeSummary) { s.Duration += elapsed })

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	r.mu.Lock()
	s := *r.summaries[t]
	r.mu.Unlock()

	o.logger.Info().
		Str("resource_type", string(t)).
		Str("step", name).
		Int("imported", s.Imported).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("deleted", s.Deleted).
		Int("unchanged", s.Unchanged).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Dur("duration", elapsed).
		Msg("resource type done")

	return err
}

// complete records one record operation in metrics and the run ledger.
func (o *Orchestrator) complete(ctx context.Context, r *run, op OperationRecord) {
	op.RunID = r.id
	op.Timestamp = time.Now()
	if o.metrics != nil {
		o.metrics.RecordOperation(string(op.Type), string(op.Action), string(op.Outcome), op.Duration)
	}
	if o.recorder != nil {
		if err := o.recorder.OperationCompleted(ctx, op); err != nil {
			o.logger.Warn().Err(err).
				Str("resource_type", string(op.Type)).
				Str("key", op.Key).
				Msg("failed to record operation")
		}
	}
}

// fail reports a record failure and returns it as an operation record.
func (o *Orchestrator) fail(r *run, t ResourceType, key string, action Action, err error) OperationRecord {
	err = r.errs.Report(err, map[string]any{
		"run_id":        r.id,
		"resource_type": string(t),
		"key":           key,
		"action":        string(action),
	})
	r.count(t, func(s *TypeSummary) { s.Failed++ })
	return OperationRecord{Type: t, Key: key, Action: action, Outcome: OutcomeFailed, Error: err.Error()}
}

// persist writes the map of t for origin. Failures are fatal to the run.
func (o *Orchestrator) persist(t ResourceType, origin Origin, records *RecordMap) error {
	if err := o.store.Persist(t, origin, records.Snapshot()); err != nil {
		return NewPermanentError("failed to persist state", err).
			WithCode(ErrCodeStateIO).
			WithResource(string(t)).
			WithDetail("origin", string(origin))
	}
	return nil
}

// load replaces the in-memory maps of every configured type with the
// persisted state.
func (o *Orchestrator) load() error {
	for _, t := range o.types {
		src, dst, err := o.store.Load(t)
		if err != nil {
			return NewPermanentError("failed to load state", err).
				WithCode(ErrCodeStateIO).
				WithResource(string(t))
		}
		cfg := o.adapters[t].Config()
		cfg.Source.Replace(src)
		cfg.Destination.Replace(dst)
	}
	return nil
}

func (o *Orchestrator) requireClient(c APIClient, origin Origin) error {
	if c == nil {
		return NewPermanentError(fmt.Sprintf("%s client is not configured", origin), nil).
			WithCode(ErrCodeValidation)
	}
	return nil
}

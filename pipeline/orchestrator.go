// Package pipeline drives one ETL pass: parallel source extraction,
// per-record normalization, cross-source merging by parcel identity, and
// fan-out loading, with watermarks, metrics, alerts, and lifecycle control.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opengovsl/landetl/alert"
	"github.com/opengovsl/landetl/breaker"
	"github.com/opengovsl/landetl/load"
	"github.com/opengovsl/landetl/log"
	"github.com/opengovsl/landetl/merge"
	"github.com/opengovsl/landetl/metrics"
	"github.com/opengovsl/landetl/normalize"
	"github.com/opengovsl/landetl/retry"
	"github.com/opengovsl/landetl/source"
	"github.com/opengovsl/landetl/types"
	"github.com/opengovsl/landetl/watermark"
)

// DefaultQualityThreshold is the batch quality score below which a warning
// alert is emitted.
const DefaultQualityThreshold = 0.7

// Config tunes one orchestrator.
type Config struct {
	// Pipeline keys the watermark row (default "land-records").
	Pipeline string
	// BatchSize sizes normalize and load batches (default 100).
	BatchSize int
	// Window bounds in-flight parcels in the merge stage (default 10x
	// BatchSize).
	Window int
	// ChannelBuffer sizes the inter-stage channels (default 2x BatchSize).
	ChannelBuffer int
	// QualityThreshold triggers a warning alert when a batch scores below
	// it (default 0.7).
	QualityThreshold float64
	// Extract tunes every extractor (politeness delay, retry, page size).
	Extract source.Config
	// LoadRetry wraps each destination batch (defaults per
	// retry.DefaultOptions).
	LoadRetry retry.Options
}

func (c Config) normalize() Config {
	if c.Pipeline == "" {
		c.Pipeline = "land-records"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Window <= 0 {
		c.Window = 10 * c.BatchSize
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 2 * c.BatchSize
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	return c
}

// RunSaver persists terminal pipeline runs. Optional.
type RunSaver interface {
	Save(ctx context.Context, run *types.PipelineRun) error
}

// Deps are the orchestrator's collaborators. Sources and Destinations are
// required; the rest default to no-op implementations.
type Deps struct {
	Sources      []source.SourceAdapter
	Destinations []load.Destination
	Watermarks   watermark.Store
	Alerts       alert.Sink
	Metrics      *metrics.Registry
	Breakers     *breaker.Factory
	Runs         RunSaver
	// Logger overrides the default per-run logger. Mainly for tests.
	Logger *log.Logger
}

// Orchestrator executes pipeline runs one at a time.
type Orchestrator struct {
	config  Config
	deps    Deps
	state   *runState
	emitter *Emitter
	now     func() time.Time

	mu      sync.Mutex
	current *types.PipelineRun
}

// New creates an orchestrator. Missing optional deps are defaulted.
func New(config Config, deps Deps) *Orchestrator {
	if deps.Watermarks == nil {
		deps.Watermarks = watermark.NewMemoryStore()
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewRecorder()
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewFactory(breaker.DefaultConfig())
	}
	return &Orchestrator{
		config:  config.normalize(),
		deps:    deps,
		state:   newRunState(),
		emitter: NewEmitter(),
		now:     time.Now,
	}
}

// Events returns a subscription to the orchestrator's progress events.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Subscribe()
}

// Pause suspends record hand-offs at the next channel boundary. In-flight
// loader transactions run to completion.
func (o *Orchestrator) Pause() error { return o.state.pause() }

// Resume releases a paused run.
func (o *Orchestrator) Resume() error { return o.state.unpause() }

// Status returns the lifecycle state and a snapshot of the run in
// progress, if any.
func (o *Orchestrator) Status() (types.RunStatus, *types.PipelineRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Status(), o.current
}

// Run executes one complete ETL pass and returns its terminal record. Only
// one run may be in flight; concurrent calls fail with ErrAlreadyRunning.
// The run continues as long as at least one source and one destination
// remain healthy.
func (o *Orchestrator) Run(ctx context.Context, mode types.RunMode) (*types.PipelineRun, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if len(o.deps.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrFatal)
	}
	if len(o.deps.Destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations configured", ErrFatal)
	}
	if err := o.state.begin(); err != nil {
		return nil, err
	}
	defer o.state.finish()

	r := newRunner(o, mode)
	o.mu.Lock()
	o.current = &types.PipelineRun{RunID: r.runID, Mode: mode, Status: types.StatusRunning, StartTime: r.start}
	o.mu.Unlock()

	run := r.run(ctx)

	o.mu.Lock()
	o.current = run
	o.mu.Unlock()
	return run, nil
}

// runner holds the per-run state so Orchestrator itself stays reusable.
type runner struct {
	o         *Orchestrator
	mode      types.RunMode
	runID     string
	start     time.Time
	logger    *log.Logger
	collector *metrics.Collector

	errsMu sync.Mutex
	errs   []types.RecordError

	fatalMu sync.Mutex
	fatal   error

	sourceOK map[string]bool
	destOK   map[string]*destState
}

type destState struct {
	failed bool
	mu     sync.Mutex
}

func newRunner(o *Orchestrator, mode types.RunMode) *runner {
	runID := uuid.NewString()
	logger := o.deps.Logger
	if logger == nil {
		logger = log.NewLogger(runID, mode)
	}
	r := &runner{
		o:         o,
		mode:      mode,
		runID:     runID,
		start:     o.now().UTC(),
		logger:    logger,
		collector: metrics.NewCollector(o.deps.Metrics),
		sourceOK:  make(map[string]bool, len(o.deps.Sources)),
		destOK:    make(map[string]*destState, len(o.deps.Destinations)),
	}
	for _, d := range o.deps.Destinations {
		r.destOK[d.Name()] = &destState{}
	}
	return r
}

func (r *runner) run(ctx context.Context) *types.PipelineRun {
	o := r.o
	r.emit(EventRunStart, map[string]any{"mode": string(r.mode)})
	r.logger.Info("run started", map[string]any{"sources": len(o.deps.Sources), "destinations": len(o.deps.Destinations)})
	r.collector.SetActiveJobs("pipeline", 1)
	defer r.collector.SetActiveJobs("pipeline", 0)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wm, err := r.loadWatermark(runCtx)
	if err != nil {
		r.setFatal(cancel, fmt.Errorf("%w: read watermark: %v", ErrFatal, err))
	}

	rawCh := make(chan *types.RawRecord, o.config.ChannelBuffer)
	normCh := make(chan *types.LandRecord, o.config.ChannelBuffer)
	batchCh := make(chan []*types.LandRecord, 4)

	var stages sync.WaitGroup

	stages.Add(1)
	go func() {
		defer stages.Done()
		defer close(rawCh)
		r.extract(runCtx, cancel, wm, rawCh)
	}()

	stages.Add(1)
	go func() {
		defer stages.Done()
		defer close(normCh)
		r.transform(runCtx, rawCh, normCh)
	}()

	stages.Add(1)
	go func() {
		defer stages.Done()
		defer close(batchCh)
		r.mergeStage(runCtx, cancel, normCh, batchCh)
	}()

	stages.Add(1)
	go func() {
		defer stages.Done()
		r.loadStage(runCtx, cancel, batchCh)
	}()

	stages.Wait()

	return r.finish(ctx)
}

// loadWatermark resolves the incremental boundary. FULL runs start from
// the beginning of time.
func (r *runner) loadWatermark(ctx context.Context) (*watermark.Watermark, error) {
	if r.mode == types.ModeFull {
		return nil, nil
	}
	return r.o.deps.Watermarks.Load(ctx, r.o.config.Pipeline)
}

// extract fans out one extraction stream per source. A failed source is
// recorded and skipped; the run aborts only when every source fails.
func (r *runner) extract(ctx context.Context, cancel context.CancelFunc, wm *watermark.Watermark, rawCh chan<- *types.RawRecord) {
	o := r.o
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, adapter := range o.deps.Sources {
		wg.Add(1)
		go func(adapter source.SourceAdapter) {
			defer wg.Done()
			name := adapter.Name()
			r.emit(EventExtractStart, map[string]any{"source": name})

			cfg := o.config.Extract
			cfg.OnProgress = func(p source.Progress) {
				r.emit(EventExtractProgress, map[string]any{
					"source":     p.Source,
					"extracted":  p.Extracted,
					"total":      p.Total,
					"percentage": p.Percentage,
				})
			}
			cb := o.deps.Breakers.Get("extractor-" + name)
			ex := source.NewExtractor(adapter, cb, cfg, r.logger)

			emit := func(ctx context.Context, rec *types.RawRecord) error {
				if err := r.o.state.gate(ctx); err != nil {
					return err
				}
				select {
				case rawCh <- rec:
					r.collector.IncExtracted(name, 1)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			var res *source.Result
			var err error
			if since, ok := sinceFor(wm, adapter.System()); ok {
				res, err = ex.ExtractIncremental(ctx, since, emit)
			} else {
				res, err = ex.ExtractAll(ctx, emit)
			}
			if res != nil {
				for _, re := range res.Errors {
					r.recordError(*re)
					r.collector.IncFailed(types.StageExtract, "validation", 1)
				}
			}

			if err != nil && ctx.Err() == nil {
				mu.Lock()
				failed++
				allFailed := failed == len(o.deps.Sources)
				mu.Unlock()

				r.recordError(types.RecordError{
					Stage:   types.StageExtract,
					Source:  name,
					Message: fmt.Errorf("%w: %v", ErrSourceUnavailable, err).Error(),
				})
				r.sendAlert(ctx, types.AlertError, types.SeverityHigh, "source extraction failed",
					fmt.Sprintf("source %s: %v", name, err), map[string]any{"source": name})
				r.logger.Error("source failed", map[string]any{"source": name, "error": err.Error()})

				if allFailed {
					r.setFatal(cancel, ErrAllSourcesFailed)
				}
				return
			}

			mu.Lock()
			r.sourceOK[name] = true
			mu.Unlock()
			r.emit(EventExtractComplete, map[string]any{"source": name})
		}(adapter)
	}
	wg.Wait()
}

// sinceFor picks the per-source incremental boundary from the watermark.
// A source with no mark of its own extracts from the beginning: the
// run-level timestamp advances even when this source failed, so using it
// as a fallback would permanently skip the records a never-completed
// source has not yet delivered.
func sinceFor(wm *watermark.Watermark, system types.SourceSystem) (time.Time, bool) {
	if wm == nil {
		return time.Time{}, false
	}
	if ts, ok := wm.LastExtractedAt[system]; ok && !ts.IsZero() {
		return ts, true
	}
	return time.Time{}, false
}

// transform batches raw records through the normalizer, scoring quality
// per batch.
func (r *runner) transform(ctx context.Context, rawCh <-chan *types.RawRecord, normCh chan<- *types.LandRecord) {
	o := r.o
	r.emit(EventTransformStart, nil)
	normalizer := normalize.New()

	batch := make([]*types.RawRecord, 0, o.config.BatchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		records, report, errs := normalizer.NormalizeBatch(batch)
		batch = batch[:0]

		for _, re := range errs {
			r.recordError(*re)
			r.collector.IncFailed(types.StageTransform, "normalization", 1)
		}
		for dim, score := range report.Dimensions {
			r.collector.SetQuality(dim, score)
		}
		r.collector.SetQuality("overall", report.Score)
		if report.Score < o.config.QualityThreshold {
			r.sendAlert(ctx, types.AlertWarning, types.SeverityMedium, "batch quality below threshold",
				fmt.Sprintf("batch quality %.2f below %.2f", report.Score, o.config.QualityThreshold),
				map[string]any{"report": report})
		}
		r.emit(EventTransformProgress, map[string]any{"records": len(records), "quality": report.Score})

		for _, rec := range records {
			if err := r.o.state.gate(ctx); err != nil {
				return false
			}
			select {
			case normCh <- rec:
				r.collector.IncTransformed("normalizer", 1)
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for raw := range rawCh {
		batch = append(batch, raw)
		if len(batch) >= o.config.BatchSize {
			if !flush() {
				return
			}
		}
	}
	flush()
	r.emit(EventTransformComplete, nil)
}

// mergeStage folds normalized records into UNIFIED records and batches
// them for loading.
func (r *runner) mergeStage(ctx context.Context, cancel context.CancelFunc, normCh <-chan *types.LandRecord, batchCh chan<- []*types.LandRecord) {
	o := r.o

	expected := make([]types.SourceSystem, 0, len(o.deps.Sources))
	for _, s := range o.deps.Sources {
		expected = append(expected, s.System())
	}

	batch := make([]*types.LandRecord, 0, o.config.BatchSize)
	send := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		out := make([]*types.LandRecord, len(batch))
		copy(out, batch)
		batch = batch[:0]
		if err := r.o.state.gate(ctx); err != nil {
			return err
		}
		select {
		case batchCh <- out:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	grouper := merge.NewGrouper(merge.Config{
		Window:          o.config.Window,
		ExpectedSources: expected,
	}, func(ctx context.Context, rec *types.LandRecord, issues []normalize.Issue) error {
		r.collector.IncMerged(1)
		for _, issue := range issues {
			r.logger.Debug("consistency finding", map[string]any{
				"parcel":   rec.ParcelNumber,
				"field":    issue.Field,
				"issue":    issue.Issue,
				"severity": string(issue.Severity),
			})
		}
		batch = append(batch, rec)
		if len(batch) >= o.config.BatchSize {
			return send(ctx)
		}
		return nil
	}, r.logger)

	for rec := range normCh {
		if err := grouper.Add(ctx, rec); err != nil {
			if ctx.Err() == nil {
				r.setFatal(cancel, fmt.Errorf("merge stage: %w", err))
			}
			return
		}
	}
	if err := grouper.Close(ctx); err != nil {
		if ctx.Err() == nil {
			r.setFatal(cancel, fmt.Errorf("merge stage: %w", err))
		}
		return
	}
	_ = send(ctx)
}

// loadStage fans merged batches out to every healthy destination, each
// guarded by a named breaker and batch-level retry.
func (r *runner) loadStage(ctx context.Context, cancel context.CancelFunc, batchCh <-chan []*types.LandRecord) {
	o := r.o
	r.emit(EventLoadStart, nil)

	chans := make(map[string]chan []*types.LandRecord, len(o.deps.Destinations))
	var wg sync.WaitGroup
	for _, dest := range o.deps.Destinations {
		ch := make(chan []*types.LandRecord, 2)
		chans[dest.Name()] = ch
		wg.Add(1)
		go func(dest load.Destination, ch <-chan []*types.LandRecord) {
			defer wg.Done()
			r.loadWorker(ctx, cancel, dest, ch)
		}(dest, ch)
	}

	for batch := range batchCh {
		for name, ch := range chans {
			if r.destFailed(name) {
				continue
			}
			select {
			case ch <- batch:
			case <-ctx.Done():
			}
		}
	}
	for _, ch := range chans {
		close(ch)
	}
	wg.Wait()
	r.emit(EventLoadComplete, nil)
}

func (r *runner) loadWorker(ctx context.Context, cancel context.CancelFunc, dest load.Destination, ch <-chan []*types.LandRecord) {
	o := r.o
	name := dest.Name()
	cb := o.deps.Breakers.Get("loader-" + name)

	for batch := range ch {
		if r.destFailed(name) {
			continue
		}

		res, err := retry.Do(ctx, o.config.LoadRetry, func(ctx context.Context) (*load.Result, error) {
			return breaker.Do(ctx, cb, func(ctx context.Context) (*load.Result, error) {
				return dest.LoadBatch(ctx, r.runID, batch)
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.markDestFailed(ctx, cancel, name, err)
			continue
		}

		r.collector.IncLoaded(name, int64(res.Loaded))
		r.collector.IncUpdated(name, int64(res.Updated))
		if res.Skipped > 0 {
			r.collector.IncFailed(types.StageLoad, "validation", int64(res.Skipped))
		}
		for _, re := range res.Errors {
			r.recordError(*re)
			r.collector.IncFailed(types.StageLoad, "record", 1)
		}
		r.emit(EventLoadProgress, map[string]any{
			"destination": name,
			"loaded":      res.Loaded,
			"updated":     res.Updated,
			"skipped":     res.Skipped,
		})
	}
}

func (r *runner) destFailed(name string) bool {
	ds := r.destOK[name]
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.failed
}

func (r *runner) markDestFailed(ctx context.Context, cancel context.CancelFunc, name string, err error) {
	ds := r.destOK[name]
	ds.mu.Lock()
	ds.failed = true
	ds.mu.Unlock()

	r.recordError(types.RecordError{
		Stage:   types.StageLoad,
		Source:  name,
		Message: fmt.Errorf("%w: %v", ErrDestinationUnavailable, err).Error(),
	})
	r.sendAlert(ctx, types.AlertError, types.SeverityHigh, "destination failed",
		fmt.Sprintf("destination %s: %v", name, err), map[string]any{"destination": name})
	r.logger.Error("destination failed", map[string]any{"destination": name, "error": err.Error()})

	for _, ds := range r.destOK {
		ds.mu.Lock()
		failed := ds.failed
		ds.mu.Unlock()
		if !failed {
			return
		}
	}
	r.setFatal(cancel, ErrAllDestinationsFailed)
}

// finish assembles the terminal run record, advances the watermark on
// success, and publishes the outcome.
func (r *runner) finish(ctx context.Context) *types.PipelineRun {
	o := r.o
	end := o.now().UTC()
	duration := end.Sub(r.start)

	status := types.StatusCompleted
	if err := r.fatalErr(); err != nil {
		status = types.StatusFailed
	} else if ctx.Err() != nil {
		status = types.StatusFailed
		r.setFatal(func() {}, ctx.Err())
	}

	run := &types.PipelineRun{
		RunID:     r.runID,
		Mode:      r.mode,
		Status:    status,
		StartTime: r.start,
		EndTime:   &end,
		Metrics:   r.collector.Snapshot(duration),
		Errors:    r.errors(),
	}
	r.collector.FinishRun(status, r.mode, duration)

	if status == types.StatusCompleted {
		if err := r.advanceWatermark(ctx); err != nil {
			r.logger.Error("watermark save failed", map[string]any{"error": err.Error()})
		}
		r.emit(EventRunComplete, map[string]any{"metrics": run.Metrics})
		r.logger.Info("run completed", map[string]any{
			"loaded":   run.Metrics.RecordsLoaded,
			"updated":  run.Metrics.RecordsUpdated,
			"failed":   run.Metrics.RecordsFailed,
			"duration": duration.String(),
		})
	} else {
		r.emit(EventRunError, map[string]any{"error": r.fatalErr().Error()})
		r.sendAlert(ctx, types.AlertError, types.SeverityCritical, "pipeline run failed",
			r.fatalErr().Error(), map[string]any{"run_id": r.runID})
		r.logger.Error("run failed", map[string]any{"error": r.fatalErr().Error()})
	}

	if o.deps.Runs != nil {
		if err := o.deps.Runs.Save(ctx, run); err != nil {
			r.logger.Error("run persistence failed", map[string]any{"error": err.Error()})
		}
	}
	return run
}

// advanceWatermark moves the boundary forward for every source that
// completed its stream. Failed sources keep their old mark so the next
// incremental run re-covers the gap.
func (r *runner) advanceWatermark(ctx context.Context) error {
	o := r.o
	wm, err := o.deps.Watermarks.Load(ctx, o.config.Pipeline)
	if err != nil {
		return err
	}
	if wm == nil {
		wm = &watermark.Watermark{}
	}
	if wm.LastExtractedAt == nil {
		wm.LastExtractedAt = make(map[types.SourceSystem]time.Time)
	}
	wm.LastSuccessfulRunAt = r.start
	for _, s := range o.deps.Sources {
		if r.sourceOK[s.Name()] {
			wm.LastExtractedAt[s.System()] = r.start
		}
	}
	return o.deps.Watermarks.Save(ctx, o.config.Pipeline, wm)
}

func (r *runner) emit(typ EventType, payload map[string]any) {
	r.o.emitter.Emit(Event{Type: typ, RunID: r.runID, Timestamp: r.o.now().UTC(), Payload: payload})
}

func (r *runner) sendAlert(ctx context.Context, typ types.AlertType, sev types.Severity, title, message string, md map[string]any) {
	a := types.NewAlert(typ, sev, title, message, "pipeline")
	if md == nil {
		md = map[string]any{}
	}
	md["run_id"] = r.runID
	a.WithMetadata(md)
	if err := r.o.deps.Alerts.Send(ctx, a); err != nil {
		r.logger.Warn("alert delivery failed", map[string]any{"error": err.Error()})
	}
}

func (r *runner) recordError(re types.RecordError) {
	r.errsMu.Lock()
	defer r.errsMu.Unlock()
	r.errs = append(r.errs, re)
}

func (r *runner) errors() []types.RecordError {
	r.errsMu.Lock()
	defer r.errsMu.Unlock()
	out := make([]types.RecordError, len(r.errs))
	copy(out, r.errs)
	return out
}

func (r *runner) setFatal(cancel context.CancelFunc, err error) {
	r.fatalMu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.fatalMu.Unlock()
	cancel()
}

func (r *runner) fatalErr() error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatal
}

package merge

import (
	"context"
	"time"

	"github.com/opengovsl/landetl/log"
	"github.com/opengovsl/landetl/normalize"
	"github.com/opengovsl/landetl/types"
)

// DefaultWindow bounds the number of parcels buffered at once.
const DefaultWindow = 1000

// EmitFunc receives each merged record with its consistency issues. A
// non-nil error aborts the grouper.
type EmitFunc func(ctx context.Context, rec *types.LandRecord, issues []normalize.Issue) error

// Config tunes a Grouper.
type Config struct {
	// Window is the maximum number of in-flight parcels (default 1000).
	// When full, the oldest group is flushed even if sources are missing;
	// its stragglers are picked up by a later incremental run.
	Window int

	// ExpectedSources lists the sources whose arrival completes a group
	// and triggers an immediate emit. Empty means groups only flush on
	// overflow or Close.
	ExpectedSources []types.SourceSystem

	// Now overrides the clock; tests pin it.
	Now func() time.Time
}

// Stats summarizes a grouper's lifetime.
type Stats struct {
	// Merged counts emitted parcels.
	Merged int
	// Dropped counts records that arrived after their parcel was already
	// emitted. Each parcel is emitted at most once per run.
	Dropped int
}

// Grouper is the streaming merge stage: it buffers records by canonical
// parcel number inside a bounded window and emits one UNIFIED record per
// parcel. Not safe for concurrent use; it runs as a single pipeline stage.
type Grouper struct {
	config  Config
	emit    EmitFunc
	logger  *log.Logger
	groups  map[string][]*types.LandRecord
	order   []string
	emitted map[string]bool
	stats   Stats
}

// NewGrouper creates a streaming grouper delivering merged records to emit.
func NewGrouper(config Config, emit EmitFunc, logger *log.Logger) *Grouper {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Grouper{
		config:  config,
		emit:    emit,
		logger:  logger.WithStage(types.StageMerge, "grouper"),
		groups:  make(map[string][]*types.LandRecord),
		emitted: make(map[string]bool),
	}
}

// Add folds one normalized record into its parcel group. The group emits as
// soon as every expected source has arrived; a full window flushes the
// oldest group first.
func (g *Grouper) Add(ctx context.Context, rec *types.LandRecord) error {
	parcel := rec.ParcelNumber
	if g.emitted[parcel] {
		g.stats.Dropped++
		g.logger.Debug("late record for emitted parcel", map[string]any{
			"parcel": parcel,
			"source": string(rec.SourceSystem),
		})
		return nil
	}

	if _, ok := g.groups[parcel]; !ok {
		if len(g.groups) >= g.config.Window {
			if err := g.flushOldest(ctx); err != nil {
				return err
			}
		}
		g.order = append(g.order, parcel)
	}
	g.groups[parcel] = append(g.groups[parcel], rec)

	if g.complete(g.groups[parcel]) {
		return g.flush(ctx, parcel)
	}
	return nil
}

// Close flushes every remaining group. The grouper must not be reused.
func (g *Grouper) Close(ctx context.Context) error {
	for len(g.order) > 0 {
		if err := g.flushOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports lifetime counters.
func (g *Grouper) Stats() Stats { return g.stats }

// complete reports whether every expected source has contributed.
func (g *Grouper) complete(group []*types.LandRecord) bool {
	if len(g.config.ExpectedSources) == 0 {
		return false
	}
	present := make(map[types.SourceSystem]bool, len(group))
	for _, r := range group {
		present[r.SourceSystem] = true
	}
	for _, s := range g.config.ExpectedSources {
		if !present[s] {
			return false
		}
	}
	return true
}

func (g *Grouper) flushOldest(ctx context.Context) error {
	// Skip parcels already emitted by the completion path.
	for len(g.order) > 0 {
		parcel := g.order[0]
		if _, ok := g.groups[parcel]; ok {
			return g.flush(ctx, parcel)
		}
		g.order = g.order[1:]
	}
	return nil
}

func (g *Grouper) flush(ctx context.Context, parcel string) error {
	group := g.groups[parcel]
	delete(g.groups, parcel)
	g.emitted[parcel] = true
	for i, p := range g.order {
		if p == parcel {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	merged, issues := Merge(group, g.config.Now())
	if err := g.emit(ctx, merged, issues); err != nil {
		return err
	}
	g.stats.Merged++
	return nil
}

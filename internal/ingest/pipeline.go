package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mehulvb/rera-finder/internal/models"
)

// ProjectStore is the slice of the repository the pipeline needs: atomic
// batch upsert keyed by registration id.
type ProjectStore interface {
	UpsertBatch(ctx context.Context, records []models.ProjectRecord) (inserted, updated int, err error)
}

// RunRecorder persists ingestion-run bookkeeping for the status endpoint.
type RunRecorder interface {
	CreateRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
}

// RunRecord mirrors one row of the ingest_runs table.
type RunRecord struct {
	ID           uuid.UUID      `json:"run_id"`
	Scope        string         `json:"scope"`
	State        string         `json:"state"`
	StrategyUsed string         `json:"strategy_used"`
	RecordCount  int            `json:"record_count"`
	Inserted     int            `json:"inserted"`
	Updated      int            `json:"updated"`
	Dropped      int            `json:"dropped"`
	Provenance   map[string]int `json:"provenance_breakdown"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// RunResult summarizes one orchestrator run.
type RunResult struct {
	RunID               uuid.UUID
	State               string
	StrategyUsed        string
	RecordCount         int
	Inserted            int
	Updated             int
	Dropped             int
	ProvenanceBreakdown map[string]int
}

// Pipeline orchestrates one ingestion run: strategies in priority order,
// first viable result wins, one whole-list retry after a cooldown, then
// the synthetic fallback. Accepted records flow dedupe -> normalize ->
// UpsertBatch. Re-running against an unchanged source is idempotent
// because persistence is upsert-by-registration-id.
type Pipeline struct {
	Store   ProjectStore
	Runs    RunRecorder // optional
	Fetcher Fetcher
	Config  *SourceConfig
	Factory *StrategyFactory
	// Seed drives the synthetic fallback; injected so tests reproduce.
	Seed int64
}

// NewPipeline wires a pipeline with production defaults.
func NewPipeline(store ProjectStore, runs RunRecorder, config *SourceConfig) *Pipeline {
	config.applyDefaults()
	return &Pipeline{
		Store:   store,
		Runs:    runs,
		Fetcher: NewPortalFetcher(config.Fetch),
		Config:  config,
		Factory: GlobalStrategyFactory,
		Seed:    time.Now().UnixNano(),
	}
}

// Run executes one ingestion run for the given scope.
func (p *Pipeline) Run(ctx context.Context, target Target) (RunResult, error) {
	return p.RunWithID(ctx, target, uuid.New())
}

// RunWithID lets callers pre-assign the run id, so an async trigger can
// hand it back before the run finishes.
func (p *Pipeline) RunWithID(ctx context.Context, target Target, runID uuid.UUID) (RunResult, error) {
	p.Config.applyDefaults()

	result := RunResult{
		RunID:               runID,
		State:               RunStateRunning,
		ProvenanceBreakdown: map[string]int{},
	}

	run := RunRecord{
		ID:        result.RunID,
		Scope:     scopeLabel(target),
		State:     RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	if p.Runs != nil {
		if err := p.Runs.CreateRun(ctx, run); err != nil {
			log.Printf("[pipeline] failed to create run record: %v", err)
		}
	}

	var runErr error
	defer func() {
		now := time.Now().UTC()
		run.State = result.State
		run.StrategyUsed = result.StrategyUsed
		run.RecordCount = result.RecordCount
		run.Inserted = result.Inserted
		run.Updated = result.Updated
		run.Dropped = result.Dropped
		run.Provenance = result.ProvenanceBreakdown
		run.CompletedAt = &now
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if p.Runs != nil {
			if err := p.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
				log.Printf("[pipeline] failed to finish run record: %v", err)
			}
		}
	}()

	raw, strategyUsed := p.acquire(ctx, target)
	provenance := models.ProvenanceLive

	if strategyUsed == "" {
		if ctx.Err() != nil {
			// Cancellation is not exhaustion: fabricating synthetic data
			// for a run the caller already gave up on would misreport
			// the source.
			result.State = RunStateFailed
			runErr = fmt.Errorf("run cancelled before any strategy succeeded: %w", ctx.Err())
			return result, runErr
		}
		// ExhaustionFailure: every strategy failed or came back below the
		// viability threshold. Fall back to synthetic data so the
		// dashboards keep working, and say so via provenance.
		log.Printf("[pipeline] all strategies exhausted for %s, generating synthetic fallback", scopeLabel(target))
		raw = NewGenerator(p.Seed).Generate(p.scopedCityWeights(target))
		strategyUsed = "synthetic"
		provenance = models.ProvenanceSynthetic
	}

	result.StrategyUsed = strategyUsed

	deduped := Dedupe(raw)
	records := make([]models.ProjectRecord, 0, len(deduped))
	for _, r := range deduped {
		rec, err := Normalize(r)
		if err != nil {
			result.Dropped++
			continue
		}
		rec.Provenance = provenance
		records = append(records, rec)
	}

	// Pages extracted before a mid-walk cancellation are still worth
	// keeping, so the batch write outlives the run's context budget.
	inserted, updated, err := p.Store.UpsertBatch(context.WithoutCancel(ctx), records)
	if err != nil {
		// Silently losing extracted data is unacceptable; surface the
		// repository failure as a failed run to be retried wholesale.
		result.State = RunStateFailed
		runErr = fmt.Errorf("repository error: %w", err)
		return result, runErr
	}

	result.RecordCount = len(records)
	result.Inserted = inserted
	result.Updated = updated
	result.ProvenanceBreakdown[provenance] = len(records)
	switch {
	case provenance == models.ProvenanceSynthetic:
		result.State = RunStatePartial
	case ctx.Err() != nil:
		// The walk stopped on cancellation: what was extracted is
		// persisted, but the listing was not exhausted.
		result.State = RunStatePartial
	default:
		result.State = RunStateCompleted
	}

	log.Printf("[pipeline] run %s: %s via %s, %d records (%d inserted, %d updated, %d dropped)",
		result.RunID, result.State, strategyUsed, result.RecordCount, inserted, updated, result.Dropped)
	return result, nil
}

// acquire walks the strategy order, retrying the whole list once after a
// cooldown. Returns the accepted raw records and the winning strategy
// name, or "" when everything is exhausted.
func (p *Pipeline) acquire(ctx context.Context, target Target) ([]RawRecord, string) {
	for pass := 0; pass < 2; pass++ {
		if pass > 0 {
			cooldown := time.Duration(p.Config.RetryCooldownMS) * time.Millisecond
			log.Printf("[pipeline] all strategies below threshold, retrying after %s", cooldown)
			select {
			case <-ctx.Done():
				return nil, ""
			case <-time.After(cooldown):
			}
		}

		for attempt, name := range p.Config.StrategyOrder {
			if ctx.Err() != nil {
				return nil, ""
			}
			strategy, err := p.Factory.Get(name)
			if err != nil {
				log.Printf("[pipeline] %v", err)
				continue
			}

			records, err := strategy.Extract(ctx, *p.Config, target, p.Fetcher)
			if err != nil {
				log.Printf("[pipeline] target=%q strategy=%s attempt=%d: %v", scopeLabel(target), name, attempt+1, err)
				continue
			}
			if len(records) >= p.Config.MinViable {
				return records, name
			}
			log.Printf("[pipeline] strategy %s yielded %d records, below threshold %d", name, len(records), p.Config.MinViable)
		}
	}
	return nil, ""
}

func (p *Pipeline) scopedCityWeights(target Target) map[string]int {
	weights := p.Config.CityWeights
	if len(weights) == 0 {
		weights = map[string]int{"Ahmedabad": 40, "Surat": 25, "Vadodara": 15, "Rajkot": 12, "Gandhinagar": 8}
	}
	if target.City == "" || target.AllDistricts {
		return weights
	}
	for city, count := range weights {
		if strings.EqualFold(city, target.City) {
			return map[string]int{city: count}
		}
	}
	return map[string]int{titleCase(target.City): 10}
}

func scopeLabel(target Target) string {
	if target.City != "" {
		return target.City
	}
	return "all-districts"
}

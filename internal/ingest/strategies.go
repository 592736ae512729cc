package ingest

import (
	"context"
	"fmt"
)

// ExtractionStrategy is one self-contained technique for obtaining raw
// records from the portal. Strategies are independently retryable and
// time-bounded; "no data found" is an empty success result, never an
// error. Unrecoverable conditions come back as *StrategyFailure.
type ExtractionStrategy interface {
	Name() string
	Extract(ctx context.Context, config SourceConfig, target Target, fetcher Fetcher) ([]RawRecord, error)
}

// StrategyFactory maps strategy ids (from sources.yaml strategy_order) to
// implementations.
type StrategyFactory struct {
	strategies map[string]ExtractionStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]ExtractionStrategy),
	}
}

func (f *StrategyFactory) Register(strategy ExtractionStrategy) {
	f.strategies[strategy.Name()] = strategy
}

func (f *StrategyFactory) Get(id string) (ExtractionStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

// Global factory instance
var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register(&APIProbeStrategy{})
	GlobalStrategyFactory.Register(&PaginatedTableStrategy{})
	GlobalStrategyFactory.Register(&DistrictStrategy{})
	GlobalStrategyFactory.Register(&InteractiveStrategy{})
}

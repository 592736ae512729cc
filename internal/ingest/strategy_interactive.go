package ingest

import (
	"context"
	"fmt"
)

// InteractiveStrategy is the paginated table walk paced like a person:
// requests go through the Colly session with randomized inter-action
// delays and a browser fingerprint. Extraction logic is identical to
// PaginatedTableStrategy; only pacing and the request fingerprint differ.
// It sits last in the strategy order as the slowest, politest option.
type InteractiveStrategy struct {
	// NewSession builds the paced fetcher; defaults to NewHumanPacedFetcher.
	NewSession func(FetchConfig) Fetcher
}

func (s *InteractiveStrategy) Name() string { return "interactive" }

func (s *InteractiveStrategy) Extract(ctx context.Context, config SourceConfig, target Target, _ Fetcher) ([]RawRecord, error) {
	newSession := s.NewSession
	if newSession == nil {
		newSession = func(cfg FetchConfig) Fetcher { return NewHumanPacedFetcher(cfg) }
	}
	session := newSession(config.Fetch)

	buildURL := func(page int) string {
		return config.BaseURL + fmt.Sprintf(config.ListPath, page)
	}
	records, err := walkListing(ctx, s.Name(), config, session, buildURL)
	if err != nil {
		return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: err}
	}
	return records, nil
}

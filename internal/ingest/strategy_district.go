package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
)

// DistrictStrategy iterates the fixed district list, constructing
// per-district listing URLs and extracting them the same way the paginated
// table strategy does. Used when global pagination is unavailable.
//
// Districts run on a small worker pool; each worker holds its own fetcher
// session (sessions are never shared across workers) and accumulates
// locally, with results merged after join. One district failing never
// aborts the run.
type DistrictStrategy struct {
	// NewSession builds a per-worker fetcher; defaults to NewPortalFetcher.
	NewSession func(FetchConfig) Fetcher
}

func (s *DistrictStrategy) Name() string { return "district_partitioned" }

func (s *DistrictStrategy) Extract(ctx context.Context, config SourceConfig, target Target, fetcher Fetcher) ([]RawRecord, error) {
	districts := config.Districts
	if target.City != "" && !target.AllDistricts {
		districts = []string{target.City}
	}
	if len(districts) == 0 {
		return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: fmt.Errorf("no districts configured")}
	}

	newSession := s.NewSession
	if newSession == nil {
		newSession = func(cfg FetchConfig) Fetcher { return NewPortalFetcher(cfg) }
	}

	workers := config.DistrictWorkers
	if workers <= 0 {
		// An unset pool size must never mean zero workers: the feeder
		// below would block forever on an unconsumed jobs channel.
		workers = 3
	}
	if workers > len(districts) {
		workers = len(districts)
	}

	jobs := make(chan string)
	results := make(chan []RawRecord, len(districts))
	var failures sync.Map
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := newSession(config.Fetch)
			for district := range jobs {
				records, err := s.extractDistrict(ctx, config, district, session)
				if err != nil {
					log.Printf("[district_partitioned] %s failed: %v", district, err)
					failures.Store(district, err)
					continue
				}
				results <- records
			}
		}()
	}

	for _, district := range districts {
		select {
		case <-ctx.Done():
			// Let in-flight workers finish their current district.
		case jobs <- district:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()
	close(results)

	var all []RawRecord
	succeeded := 0
	for batch := range results {
		all = append(all, batch...)
		succeeded++
	}

	if succeeded == 0 {
		var firstErr error
		failures.Range(func(_, v any) bool {
			firstErr = v.(error)
			return false
		})
		return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: fmt.Errorf("every district failed: %w", firstErr)}
	}

	return all, nil
}

func (s *DistrictStrategy) extractDistrict(ctx context.Context, config SourceConfig, district string, session Fetcher) ([]RawRecord, error) {
	buildURL := func(page int) string {
		return config.BaseURL + fmt.Sprintf(config.DistrictPath, url.QueryEscape(district), page)
	}
	records, err := walkListing(ctx, s.Name(), config, session, buildURL)
	if err != nil {
		return nil, err
	}
	// Rows scoped to one district often omit the district column; backfill
	// so normalization does not have to reject them.
	for i := range records {
		if records[i].Field(fieldDistrict) == "" {
			records[i].Fields[fieldDistrict] = district
		}
	}
	return records, nil
}

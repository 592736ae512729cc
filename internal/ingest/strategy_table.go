package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/PuerkitoBio/goquery"
)

// PaginatedTableStrategy walks sequential listing pages, extracting rows
// from HTML tables whose header row carries project/RERA/promoter
// keywords. Pagination stops at the first page yielding zero new rows,
// when the next control cannot be located, or at the page cap.
type PaginatedTableStrategy struct{}

func (s *PaginatedTableStrategy) Name() string { return "paginated_table" }

func (s *PaginatedTableStrategy) Extract(ctx context.Context, config SourceConfig, target Target, fetcher Fetcher) ([]RawRecord, error) {
	buildURL := func(page int) string {
		return config.BaseURL + fmt.Sprintf(config.ListPath, page)
	}
	records, err := walkListing(ctx, s.Name(), config, fetcher, buildURL)
	if err != nil {
		return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: err}
	}
	return records, nil
}

// walkListing is the shared page loop for the table-based strategies. It
// honours cancellation between page fetches, never mid-fetch, and treats a
// mid-walk fetch error as the end of the walk rather than a failure —
// partial results are still worth persisting.
func walkListing(ctx context.Context, strategyName string, config SourceConfig, fetcher Fetcher, buildURL func(page int) string) ([]RawRecord, error) {
	var all []RawRecord
	seen := make(map[string]bool)
	visited := make(map[string]bool)

	currentURL := buildURL(1)
	for page := 1; page <= config.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, nil
		}
		if visited[currentURL] {
			log.Printf("[%s] pagination cycle detected at %s, stopping", strategyName, currentURL)
			break
		}
		visited[currentURL] = true

		doc, err := fetchDocument(ctx, fetcher, currentURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			log.Printf("[%s] fetch error on page %d: %v", strategyName, page, err)
			break
		}

		pageRecords := ExtractTableRecords(doc, config.Table, currentURL)
		if page == 1 && pageRecords == nil && doc.Find(config.Table.Selector).Length() == 0 {
			return nil, fmt.Errorf("%w: no listing tables at %s", ErrStructuralMismatch, currentURL)
		}

		newRows := 0
		for _, rec := range pageRecords {
			id := rec.Field(fieldRegistrationID)
			if id != "" && seen[id] {
				continue
			}
			if id != "" {
				seen[id] = true
			}
			enrichFromCertificate(ctx, fetcher, &rec)
			all = append(all, rec)
			newRows++
		}
		log.Printf("[%s] page %d: %d rows, %d new", strategyName, page, len(pageRecords), newRows)

		if newRows == 0 {
			break
		}

		if next := FindNextPageURL(doc, config.Table, currentURL); next != "" {
			currentURL = next
		} else if config.Table.NextSelector != "" {
			// A configured next control that is absent means the last page.
			break
		} else {
			currentURL = buildURL(page + 1)
		}
	}

	return all, nil
}

func fetchDocument(ctx context.Context, fetcher Fetcher, url string) (*goquery.Document, error) {
	fetched, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable HTML at %s: %v", ErrStructuralMismatch, url, err)
	}
	return doc, nil
}

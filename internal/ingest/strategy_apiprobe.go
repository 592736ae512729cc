package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"strings"
)

const maxProbeBodyBytes = 10 * 1024 * 1024

// APIProbeStrategy tries a list of well-known REST-like endpoint patterns
// against the portal host. Any JSON-parseable body counts as a successful
// probe; record extraction from it is best-effort.
type APIProbeStrategy struct{}

func (s *APIProbeStrategy) Name() string { return "api_probe" }

func (s *APIProbeStrategy) Extract(ctx context.Context, config SourceConfig, target Target, fetcher Fetcher) ([]RawRecord, error) {
	if len(config.APIEndpoints) == 0 {
		return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: fmt.Errorf("no api endpoints configured")}
	}

	var lastErr error
	for i, pattern := range config.APIEndpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		endpoint, ok := buildProbeURL(config.BaseURL, pattern, target)
		if !ok {
			continue
		}

		log.Printf("[api_probe] attempt %d/%d: %s", i+1, len(config.APIEndpoints), endpoint)
		doc, err := fetcher.Fetch(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(io.LimitReader(doc.Body, maxProbeBodyBytes))
		doc.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			// HTML error pages and login redirects land here.
			lastErr = fmt.Errorf("%w: non-JSON body from %s", ErrStructuralMismatch, endpoint)
			continue
		}

		objects := findRecordObjects(payload)
		records := make([]RawRecord, 0, len(objects))
		for _, obj := range objects {
			records = append(records, RawRecord{Fields: stringifyFields(obj), SourceURL: endpoint})
		}
		log.Printf("[api_probe] %s yielded %d candidate records", endpoint, len(records))
		return records, nil
	}

	return nil, &StrategyFailure{Strategy: s.Name(), Target: target.City, Err: fmt.Errorf("all endpoint probes failed: %w", lastErr)}
}

// buildProbeURL substitutes the scoped district into %s patterns. Patterns
// requiring a district are skipped for unscoped runs.
func buildProbeURL(baseURL, pattern string, target Target) (string, bool) {
	if strings.Contains(pattern, "%s") {
		if target.City == "" {
			return "", false
		}
		pattern = fmt.Sprintf(pattern, url.QueryEscape(target.City))
	}
	return strings.TrimRight(baseURL, "/") + pattern, true
}

// findRecordObjects walks arbitrary decoded JSON for the first array of
// objects, checking the conventional wrapper keys before a general scan.
func findRecordObjects(v any) []map[string]any {
	switch typed := v.(type) {
	case []any:
		return objectSlice(typed)
	case map[string]any:
		for _, key := range []string{"projects", "data", "list", "rows", "result", "items"} {
			if inner, ok := typed[key]; ok {
				if objs := findRecordObjects(inner); len(objs) > 0 {
					return objs
				}
			}
		}
		for _, inner := range typed {
			if objs := findRecordObjects(inner); len(objs) > 0 {
				return objs
			}
		}
	}
	return nil
}

func objectSlice(items []any) []map[string]any {
	var objs []map[string]any
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			objs = append(objs, obj)
		}
	}
	return objs
}

// stringifyFields flattens a JSON object into the raw string fields the
// normalizer expects; keys are kept as the source spelled them.
func stringifyFields(obj map[string]any) map[string]string {
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch typed := v.(type) {
		case string:
			fields[k] = strings.TrimSpace(typed)
		case float64:
			if typed == float64(int64(typed)) {
				fields[k] = strconv.FormatInt(int64(typed), 10)
			} else {
				fields[k] = strconv.FormatFloat(typed, 'f', -1, 64)
			}
		case bool:
			fields[k] = strconv.FormatBool(typed)
		case nil:
			// skip
		}
	}
	return fields
}

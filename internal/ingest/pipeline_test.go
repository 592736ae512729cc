package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/mehulvb/rera-finder/internal/models"
)

type MockFetcher struct {
	Data map[string][]byte
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	content, ok := m.Data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(content)),
		Headers:    make(map[string][]string),
		FetchedAt:  time.Now(),
	}, nil
}

type fakeStore struct {
	records map[string]models.ProjectRecord
	fail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]models.ProjectRecord)}
}

func (f *fakeStore) UpsertBatch(_ context.Context, records []models.ProjectRecord) (int, int, error) {
	if f.fail {
		return 0, 0, fmt.Errorf("connection refused")
	}
	inserted, updated := 0, 0
	for _, rec := range records {
		if _, ok := f.records[rec.RegistrationID]; ok {
			updated++
		} else {
			inserted++
		}
		f.records[rec.RegistrationID] = rec
	}
	return inserted, updated, nil
}

// ctxStore rejects writes once the context is done, like the real
// pgx-backed store would.
type ctxStore struct{ *fakeStore }

func (s *ctxStore) UpsertBatch(ctx context.Context, records []models.ProjectRecord) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return s.fakeStore.UpsertBatch(ctx, records)
}

// cancellingFetcher cancels the run context after serving its first page,
// simulating a wall-clock budget expiring mid-walk.
type cancellingFetcher struct {
	inner  *MockFetcher
	cancel context.CancelFunc
	served bool
}

func (f *cancellingFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	doc, err := f.inner.Fetch(ctx, url)
	if !f.served {
		f.served = true
		f.cancel()
	}
	return doc, err
}

func testConfig() SourceConfig {
	return SourceConfig{
		ID:              "test_portal",
		BaseURL:         "https://portal.test",
		StrategyOrder:   []string{"api_probe", "paginated_table"},
		APIEndpoints:    []string{"/api/projects"},
		ListPath:        "/approved-projects?page=%d",
		MaxPages:        10,
		MinViable:       1,
		RetryCooldownMS: 1,
		CityWeights:     map[string]int{"Ahmedabad": 5, "Surat": 3},
		Table:           TableConfig{Selector: "table", HeaderKeywords: []string{"project"}},
	}
}

func listingPage(rows string) []byte {
	return []byte(`<html><body><table>
	<tr><th>Project Name</th><th>Registration No</th><th>District</th><th>Total Units</th><th>Available</th></tr>
	` + rows + `</table></body></html>`)
}

func listingRow(name, regID, district string, total, available int) string {
	return fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td></tr>",
		name, regID, district, total, available)
}

func TestPipeline_FallsBackThroughStrategies(t *testing.T) {
	// api_probe gets an HTML error page (non-JSON); paginated_table works.
	page1 := listingPage(
		listingRow("Godrej Garden City", "PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023", "Ahmedabad", 2400, 600) +
			listingRow("Rajhans Synfonia", "PR/GJ/SURAT/SURATCITY/SUDA/RAA00123/010121", "Surat", 800, 40))
	page2 := listingPage(
		listingRow("Alembic Urban Forest", "PR/GJ/VADODARA/VADODARACITY/VUDA/RAA00456/150322", "Vadodara", 480, 120))

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/api/projects":             []byte("<html>login required</html>"),
		"https://portal.test/approved-projects?page=1": page1,
		"https://portal.test/approved-projects?page=2": page2,
		"https://portal.test/approved-projects?page=3": []byte("<html><body>no more results</body></html>"),
	}}

	config := testConfig()
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   store,
		Fetcher: mock,
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    42,
	}

	result, err := pipeline.Run(context.Background(), Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.StrategyUsed != "paginated_table" {
		t.Errorf("strategy = %q, want paginated_table", result.StrategyUsed)
	}
	if result.State != RunStateCompleted {
		t.Errorf("state = %q, want %q", result.State, RunStateCompleted)
	}
	if result.RecordCount != 3 {
		t.Errorf("record count = %d, want 3", result.RecordCount)
	}
	if result.Inserted != 3 || result.Updated != 0 {
		t.Errorf("inserted/updated = %d/%d, want 3/0", result.Inserted, result.Updated)
	}

	saved, ok := store.records["PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023"]
	if !ok {
		t.Fatal("expected Godrej Garden City to be persisted")
	}
	if saved.Provenance != models.ProvenanceLive {
		t.Errorf("provenance = %q, want %q", saved.Provenance, models.ProvenanceLive)
	}
	if saved.BookingPercentage != 75 {
		t.Errorf("booking percentage = %d, want 75", saved.BookingPercentage)
	}
}

func TestPipeline_SyntheticFallbackWhenExhausted(t *testing.T) {
	// Every fetch fails: all strategies exhaust both passes.
	mock := &MockFetcher{Data: map[string][]byte{}}

	config := testConfig()
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   store,
		Fetcher: mock,
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    7,
	}

	result, err := pipeline.Run(context.Background(), Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.StrategyUsed != "synthetic" {
		t.Errorf("strategy = %q, want synthetic", result.StrategyUsed)
	}
	if result.State != RunStatePartial {
		t.Errorf("state = %q, want %q", result.State, RunStatePartial)
	}
	if result.RecordCount != 8 {
		t.Errorf("record count = %d, want 8 (sum of city weights)", result.RecordCount)
	}
	if result.ProvenanceBreakdown[models.ProvenanceSynthetic] != result.RecordCount {
		t.Errorf("provenance breakdown = %v", result.ProvenanceBreakdown)
	}
	for id, rec := range store.records {
		if rec.Provenance != models.ProvenanceSynthetic {
			t.Errorf("record %s has provenance %q, want %q", id, rec.Provenance, models.ProvenanceSynthetic)
		}
	}
}

func TestPipeline_SyntheticScopedToCity(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{}}

	config := testConfig()
	config.StrategyOrder = []string{"paginated_table"}
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   store,
		Fetcher: mock,
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    11,
	}

	result, err := pipeline.Run(context.Background(), Target{City: "Surat"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RecordCount != 3 {
		t.Errorf("record count = %d, want 3 (Surat weight)", result.RecordCount)
	}
	for id, rec := range store.records {
		if rec.District != "Surat" {
			t.Errorf("record %s scoped to %q, want Surat", id, rec.District)
		}
	}
}

func TestPipeline_Idempotence(t *testing.T) {
	page1 := listingPage(
		listingRow("Godrej Garden City", "PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023", "Ahmedabad", 2400, 600))

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/approved-projects?page=1": page1,
		"https://portal.test/approved-projects?page=2": []byte("<html><body></body></html>"),
	}}

	config := testConfig()
	config.StrategyOrder = []string{"paginated_table"}
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   store,
		Fetcher: mock,
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    1,
	}

	first, err := pipeline.Run(context.Background(), Target{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := pipeline.Run(context.Background(), Target{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.Inserted != 1 {
		t.Errorf("first run inserted = %d, want 1", first.Inserted)
	}
	if second.Inserted != 0 || second.Updated != 1 {
		t.Errorf("second run inserted/updated = %d/%d, want 0/1", second.Inserted, second.Updated)
	}
	if len(store.records) != 1 {
		t.Errorf("store grew on re-ingest: %d records", len(store.records))
	}
}

func TestPipeline_RepositoryFailureFailsRun(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{}}

	config := testConfig()
	config.StrategyOrder = []string{"paginated_table"}
	store := newFakeStore()
	store.fail = true
	pipeline := &Pipeline{
		Store:   store,
		Fetcher: mock,
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    1,
	}

	result, err := pipeline.Run(context.Background(), Target{})
	if err == nil {
		t.Fatal("expected repository error to surface")
	}
	if result.State != RunStateFailed {
		t.Errorf("state = %q, want %q", result.State, RunStateFailed)
	}
}

func TestPipeline_CancellationPersistsPartialResults(t *testing.T) {
	// The budget expires after page 1; the rows already extracted must
	// still land in the store and the run must end Partial, not Failed.
	page1 := listingPage(
		listingRow("Godrej Garden City", "PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023", "Ahmedabad", 2400, 600))
	page2 := listingPage(
		listingRow("Rajhans Synfonia", "PR/GJ/SURAT/SURATCITY/SUDA/RAA00123/010121", "Surat", 800, 40))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/approved-projects?page=1": page1,
		"https://portal.test/approved-projects?page=2": page2,
	}}

	config := testConfig()
	config.StrategyOrder = []string{"paginated_table"}
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   &ctxStore{store},
		Fetcher: &cancellingFetcher{inner: mock, cancel: cancel},
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    1,
	}

	result, err := pipeline.Run(ctx, Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.StrategyUsed != "paginated_table" {
		t.Errorf("strategy = %q, want paginated_table", result.StrategyUsed)
	}
	if result.State != RunStatePartial {
		t.Errorf("state = %q, want %q", result.State, RunStatePartial)
	}
	if result.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", result.Inserted)
	}
	if _, ok := store.records["PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023"]; !ok {
		t.Error("page extracted before cancellation was not persisted")
	}
}

func TestPipeline_CancelledRunSkipsSyntheticFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := testConfig()
	store := newFakeStore()
	pipeline := &Pipeline{
		Store:   &ctxStore{store},
		Fetcher: &MockFetcher{Data: map[string][]byte{}},
		Config:  &config,
		Factory: GlobalStrategyFactory,
		Seed:    1,
	}

	result, err := pipeline.Run(ctx, Target{})
	if err == nil {
		t.Fatal("expected cancelled run to surface an error")
	}
	if result.StrategyUsed == "synthetic" {
		t.Error("cancelled run must not fabricate synthetic records")
	}
	if result.State != RunStateFailed {
		t.Errorf("state = %q, want %q", result.State, RunStateFailed)
	}
	if len(store.records) != 0 {
		t.Errorf("cancelled run persisted %d records", len(store.records))
	}
}

func TestAPIProbe_ExtractsWrappedJSON(t *testing.T) {
	body := []byte(`{"status":"ok","data":{"projects":[
		{"registrationNo":"PR/GJ/SURAT/SURATCITY/SUDA/RAA00123/010121","projectName":"Rajhans Synfonia","distName":"Surat","totalUnits":800,"availableUnits":40},
		{"registrationNo":"PR/GJ/SURAT/SURATCITY/SUDA/RAA00124/020121","projectName":"Sangini Terraza","distName":"Surat","totalUnits":350,"availableUnits":90}
	]}}`)

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/api/projects": body,
	}}

	config := testConfig()
	strategy := &APIProbeStrategy{}
	records, err := strategy.Extract(context.Background(), config, Target{}, mock)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Field("registrationNo") == "" && records[1].Field("registrationNo") == "" {
		t.Error("source-spelled keys should be preserved for the normalizer")
	}

	rec, err := Normalize(records[0])
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.TotalUnits != 800 {
		t.Errorf("numeric JSON field lost: total units = %d", rec.TotalUnits)
	}
}

func TestWalkListing_StopsOnRepeatedRows(t *testing.T) {
	// Page 2 repeats page 1 exactly: the walk must stop without error.
	page := listingPage(
		listingRow("Shivalik Heights", "PR/GJ/RAJKOT/RAJKOTCITY/RUDA/MAA01234/050222", "Rajkot", 120, 30))

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/approved-projects?page=1": page,
		"https://portal.test/approved-projects?page=2": page,
		"https://portal.test/approved-projects?page=3": page,
	}}

	config := testConfig()
	buildURL := func(p int) string {
		return config.BaseURL + fmt.Sprintf(config.ListPath, p)
	}
	records, err := walkListing(context.Background(), "paginated_table", config, mock, buildURL)
	if err != nil {
		t.Fatalf("walkListing failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestWalkListing_StructuralMismatchOnFirstPage(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/approved-projects?page=1": []byte("<html><body><p>maintenance</p></body></html>"),
	}}

	config := testConfig()
	buildURL := func(p int) string {
		return config.BaseURL + fmt.Sprintf(config.ListPath, p)
	}
	_, err := walkListing(context.Background(), "paginated_table", config, mock, buildURL)
	if err == nil {
		t.Fatal("expected structural mismatch error")
	}
}

func TestDistrictStrategy_PartialFailureStillYields(t *testing.T) {
	page := listingPage(
		listingRow("Happy Excellencia", "PR/GJ/SURAT/SURATCITY/SUDA/RAA00888/010121", "Surat", 200, 20))

	mock := &MockFetcher{Data: map[string][]byte{
		// Only Surat responds; Rajkot 404s on page 1.
		"https://portal.test/approved-projects?district=Surat&page=1": page,
		"https://portal.test/approved-projects?district=Surat&page=2": []byte("<html><body></body></html>"),
	}}

	config := testConfig()
	config.DistrictPath = "/approved-projects?district=%s&page=%d"
	config.Districts = []string{"Surat", "Rajkot"}
	config.DistrictWorkers = 2

	strategy := &DistrictStrategy{NewSession: func(FetchConfig) Fetcher { return mock }}
	records, err := strategy.Extract(context.Background(), config, Target{AllDistricts: true}, mock)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record from the surviving district, got %d", len(records))
	}
}

func TestDistrictStrategy_UnsetWorkerCount(t *testing.T) {
	// A config that skipped applyDefaults leaves DistrictWorkers at zero;
	// Extract must still run the pool instead of parking the feeder.
	page := listingPage(
		listingRow("Happy Excellencia", "PR/GJ/SURAT/SURATCITY/SUDA/RAA00888/010121", "Surat", 200, 20))

	mock := &MockFetcher{Data: map[string][]byte{
		"https://portal.test/approved-projects?district=Surat&page=1": page,
		"https://portal.test/approved-projects?district=Surat&page=2": []byte("<html><body></body></html>"),
	}}

	config := testConfig()
	config.DistrictPath = "/approved-projects?district=%s&page=%d"
	config.Districts = []string{"Surat"}

	strategy := &DistrictStrategy{NewSession: func(FetchConfig) Fetcher { return mock }}

	type outcome struct {
		records []RawRecord
		err     error
	}
	got := make(chan outcome, 1)
	go func() {
		records, err := strategy.Extract(context.Background(), config, Target{AllDistricts: true}, mock)
		got <- outcome{records, err}
	}()

	select {
	case o := <-got:
		if o.err != nil {
			t.Fatalf("Extract failed: %v", o.err)
		}
		if len(o.records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(o.records))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Extract did not return with an unset worker count")
	}
}

func TestDistrictStrategy_AllDistrictsFailing(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{}}

	config := testConfig()
	config.DistrictPath = "/approved-projects?district=%s&page=%d"
	config.Districts = []string{"Surat", "Rajkot"}

	strategy := &DistrictStrategy{NewSession: func(FetchConfig) Fetcher { return mock }}
	_, err := strategy.Extract(context.Background(), config, Target{AllDistricts: true}, mock)
	if err == nil {
		t.Fatal("expected failure when every district fails")
	}
	if _, ok := err.(*StrategyFailure); !ok {
		t.Errorf("expected *StrategyFailure, got %T", err)
	}
}

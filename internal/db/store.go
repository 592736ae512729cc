package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mehulvb/rera-finder/internal/ingest"
	"github.com/mehulvb/rera-finder/internal/models"
)

// ErrDuplicateRegistration is returned by InsertProject when the
// registration id already exists. Batch ingestion never sees it because
// UpsertBatch resolves conflicts by updating.
var ErrDuplicateRegistration = errors.New("registration id already exists")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	City       string
	Status     string
	Type       string
	Query      string
	MinArea    float64
	MaxArea    float64
	Provenance string
	Limit      int
	Offset     int
}

type ListResult struct {
	Projects []models.ProjectRecord `json:"projects"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

const selectCols = `id, registration_id, project_name, promoter_name, project_type, project_status,
	district, locality, pincode, address, approved_on, completion_date,
	total_units, available_units, booking_percentage, project_area, total_buildings,
	provenance, low_confidence, source_url, created_at, updated_at`

func scanProject(scan func(dest ...interface{}) error) (models.ProjectRecord, error) {
	var p models.ProjectRecord
	var promoter, locality, pincode, address, approvedOn, completionDate, sourceURL *string

	err := scan(
		&p.ID, &p.RegistrationID, &p.Name, &promoter, &p.ProjectType, &p.Status,
		&p.District, &locality, &pincode, &address, &approvedOn, &completionDate,
		&p.TotalUnits, &p.AvailableUnits, &p.BookingPercentage, &p.ProjectArea, &p.TotalBuildings,
		&p.Provenance, &p.LowConfidence, &sourceURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}

	if promoter != nil {
		p.PromoterName = *promoter
	}
	if locality != nil {
		p.Locality = *locality
	}
	if pincode != nil {
		p.Pincode = *pincode
	}
	if address != nil {
		p.Address = *address
	}
	if approvedOn != nil {
		p.ApprovedOn = *approvedOn
	}
	if completionDate != nil {
		p.CompletionDate = *completionDate
	}
	if sourceURL != nil {
		p.SourceURL = *sourceURL
	}

	return p, nil
}

// buildListWhere assembles the WHERE clause for ListProjects. Split out so
// the clause logic is testable without a database.
func buildListWhere(params ListParams) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.City != "" {
		where += fmt.Sprintf(" AND LOWER(district) = LOWER($%d)", argIdx)
		args = append(args, params.City)
		argIdx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(" AND project_status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Type != "" {
		where += fmt.Sprintf(" AND project_type = $%d", argIdx)
		args = append(args, params.Type)
		argIdx++
	}
	if params.Query != "" {
		where += fmt.Sprintf(" AND (project_name ILIKE '%%' || $%d || '%%' OR promoter_name ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}
	if params.MinArea > 0 {
		where += fmt.Sprintf(" AND project_area >= $%d", argIdx)
		args = append(args, params.MinArea)
		argIdx++
	}
	if params.MaxArea > 0 {
		where += fmt.Sprintf(" AND project_area <= $%d", argIdx)
		args = append(args, params.MaxArea)
		argIdx++
	}
	if params.Provenance != "" {
		where += fmt.Sprintf(" AND provenance = $%d", argIdx)
		args = append(args, params.Provenance)
		argIdx++
	}

	return where, args
}

func (s *Store) ListProjects(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	where, args := buildListWhere(params)

	var total int
	countSQL := "SELECT COUNT(*) FROM projects " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	argIdx := len(args) + 1
	selectSQL := fmt.Sprintf("SELECT %s FROM projects %s ORDER BY updated_at DESC, registration_id ASC LIMIT $%d OFFSET $%d",
		selectCols, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var projects []models.ProjectRecord
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	if projects == nil {
		projects = []models.ProjectRecord{}
	}

	return &ListResult{
		Projects: projects,
		Total:    total,
		Limit:    params.Limit,
		Offset:   params.Offset,
	}, nil
}

// QueryByCity is the primary read path: all projects for a district,
// case-insensitive, newest first.
func (s *Store) QueryByCity(ctx context.Context, city string, limit, offset int) (*ListResult, error) {
	return s.ListProjects(ctx, ListParams{City: city, Limit: limit, Offset: offset})
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.ProjectRecord, error) {
	sql := fmt.Sprintf("SELECT %s FROM projects WHERE id = $1", selectCols)
	row := s.pool.QueryRow(ctx, sql, id)

	p, err := scanProject(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	return &p, nil
}

func (s *Store) FindByRegistrationID(ctx context.Context, registrationID string) (*models.ProjectRecord, error) {
	sql := fmt.Sprintf("SELECT %s FROM projects WHERE registration_id = $1", selectCols)
	row := s.pool.QueryRow(ctx, sql, registrationID)

	p, err := scanProject(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	return &p, nil
}

const upsertSQL = `
	INSERT INTO projects (
		registration_id, project_name, promoter_name, project_type, project_status,
		district, locality, pincode, address, approved_on, completion_date,
		total_units, available_units, booking_percentage, project_area, total_buildings,
		provenance, low_confidence, source_url
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT (registration_id) DO UPDATE SET
		project_name = EXCLUDED.project_name,
		promoter_name = EXCLUDED.promoter_name,
		project_type = EXCLUDED.project_type,
		project_status = EXCLUDED.project_status,
		district = EXCLUDED.district,
		locality = EXCLUDED.locality,
		pincode = EXCLUDED.pincode,
		address = EXCLUDED.address,
		approved_on = EXCLUDED.approved_on,
		completion_date = EXCLUDED.completion_date,
		total_units = EXCLUDED.total_units,
		available_units = EXCLUDED.available_units,
		booking_percentage = EXCLUDED.booking_percentage,
		project_area = EXCLUDED.project_area,
		total_buildings = EXCLUDED.total_buildings,
		provenance = EXCLUDED.provenance,
		low_confidence = EXCLUDED.low_confidence,
		source_url = EXCLUDED.source_url,
		updated_at = NOW()
	RETURNING (xmax = 0)`

// UpsertBatch writes records keyed by registration id inside one
// transaction. Existing rows are updated in place, so re-ingesting an
// unchanged source does not grow the table. Returns how many rows were
// freshly inserted vs updated.
func (s *Store) UpsertBatch(ctx context.Context, records []models.ProjectRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, updated := 0, 0
	for _, rec := range records {
		var freshInsert bool
		err := tx.QueryRow(ctx, upsertSQL,
			rec.RegistrationID, rec.Name, rec.PromoterName, rec.ProjectType, rec.Status,
			rec.District, rec.Locality, rec.Pincode, rec.Address, rec.ApprovedOn, rec.CompletionDate,
			rec.TotalUnits, rec.AvailableUnits, rec.BookingPercentage, rec.ProjectArea, rec.TotalBuildings,
			rec.Provenance, rec.LowConfidence, rec.SourceURL,
		).Scan(&freshInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert %s: %w", rec.RegistrationID, err)
		}
		if freshInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, updated, nil
}

// InsertProject adds a single manually-entered record. Unlike the batch
// path, a registration id collision is an error for the caller to report.
func (s *Store) InsertProject(ctx context.Context, rec models.ProjectRecord) (*models.ProjectRecord, error) {
	sql := fmt.Sprintf(`
		INSERT INTO projects (
			registration_id, project_name, promoter_name, project_type, project_status,
			district, locality, pincode, address, approved_on, completion_date,
			total_units, available_units, booking_percentage, project_area, total_buildings,
			provenance, low_confidence, source_url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING %s`, selectCols)

	row := s.pool.QueryRow(ctx, sql,
		rec.RegistrationID, rec.Name, rec.PromoterName, rec.ProjectType, rec.Status,
		rec.District, rec.Locality, rec.Pincode, rec.Address, rec.ApprovedOn, rec.CompletionDate,
		rec.TotalUnits, rec.AvailableUnits, rec.BookingPercentage, rec.ProjectArea, rec.TotalBuildings,
		rec.Provenance, rec.LowConfidence, rec.SourceURL,
	)

	p, err := scanProject(row.Scan)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateRegistration
		}
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return &p, nil
}

func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM projects")
	if err != nil {
		return 0, fmt.Errorf("clear projects: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CityStat is one row of the per-district breakdown.
type CityStat struct {
	District string `json:"district"`
	Count    int    `json:"count"`
}

func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM projects").Scan(&total); err != nil {
		return nil, fmt.Errorf("stats total: %w", err)
	}
	stats["total"] = total

	statusCounts := map[string]int{}
	rows, err := s.pool.Query(ctx, "SELECT project_status, COUNT(*) FROM projects GROUP BY project_status")
	if err == nil {
		for rows.Next() {
			var status string
			var count int
			if scanErr := rows.Scan(&status, &count); scanErr == nil {
				statusCounts[status] = count
			}
		}
		rows.Close()
	}
	stats["status_counts"] = statusCounts

	typeCounts := map[string]int{}
	rows, err = s.pool.Query(ctx, "SELECT project_type, COUNT(*) FROM projects GROUP BY project_type")
	if err == nil {
		for rows.Next() {
			var projectType string
			var count int
			if scanErr := rows.Scan(&projectType, &count); scanErr == nil {
				typeCounts[projectType] = count
			}
		}
		rows.Close()
	}
	stats["type_counts"] = typeCounts

	provenanceCounts := map[string]int{}
	rows, err = s.pool.Query(ctx, "SELECT provenance, COUNT(*) FROM projects GROUP BY provenance")
	if err == nil {
		for rows.Next() {
			var provenance string
			var count int
			if scanErr := rows.Scan(&provenance, &count); scanErr == nil {
				provenanceCounts[provenance] = count
			}
		}
		rows.Close()
	}
	stats["provenance_counts"] = provenanceCounts

	cities, err := s.CityStats(ctx)
	if err == nil {
		stats["districts"] = cities
	}

	return stats, nil
}

func (s *Store) CityStats(ctx context.Context) ([]CityStat, error) {
	rows, err := s.pool.Query(ctx, "SELECT district, COUNT(*) FROM projects GROUP BY district ORDER BY COUNT(*) DESC, district ASC")
	if err != nil {
		return nil, fmt.Errorf("city stats: %w", err)
	}
	defer rows.Close()

	var out []CityStat
	for rows.Next() {
		var cs CityStat
		if err := rows.Scan(&cs.District, &cs.Count); err != nil {
			return nil, fmt.Errorf("city stats scan: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run ingest.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_runs (id, scope, state, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.Scope, run.State, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run ingest.RunRecord) error {
	breakdown, err := json.Marshal(run.Provenance)
	if err != nil {
		breakdown = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE ingest_runs SET
			state = $2, strategy_used = $3, record_count = $4,
			inserted = $5, updated = $6, dropped = $7,
			provenance_breakdown = $8, error = NULLIF($9, ''), completed_at = $10
		WHERE id = $1`,
		run.ID, run.State, run.StrategyUsed, run.RecordCount,
		run.Inserted, run.Updated, run.Dropped,
		breakdown, run.Error, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*ingest.RunRecord, error) {
	var run ingest.RunRecord
	var strategy, errMsg *string
	var breakdown []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, scope, state, strategy_used, record_count, inserted, updated, dropped,
		       provenance_breakdown, error, started_at, completed_at
		FROM ingest_runs WHERE id = $1`, id).Scan(
		&run.ID, &run.Scope, &run.State, &strategy, &run.RecordCount,
		&run.Inserted, &run.Updated, &run.Dropped,
		&breakdown, &errMsg, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}

	if strategy != nil {
		run.StrategyUsed = *strategy
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	if len(breakdown) > 0 {
		_ = json.Unmarshal(breakdown, &run.Provenance)
	}

	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]ingest.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, scope, state, strategy_used, record_count, inserted, updated, dropped,
		       provenance_breakdown, error, started_at, completed_at
		FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []ingest.RunRecord
	for rows.Next() {
		var run ingest.RunRecord
		var strategy, errMsg *string
		var breakdown []byte
		if err := rows.Scan(
			&run.ID, &run.Scope, &run.State, &strategy, &run.RecordCount,
			&run.Inserted, &run.Updated, &run.Dropped,
			&breakdown, &errMsg, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("list runs scan: %w", err)
		}
		if strategy != nil {
			run.StrategyUsed = *strategy
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		if len(breakdown) > 0 {
			_ = json.Unmarshal(breakdown, &run.Provenance)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/jszwec/csvutil"
	"github.com/mehulvb/rera-finder/internal/db"
	"github.com/mehulvb/rera-finder/internal/ingest"
	"github.com/mehulvb/rera-finder/internal/models"
)

type csvRow struct {
	RegistrationID string `csv:"registration_id"`
	ProjectName    string `csv:"project_name"`
	PromoterName   string `csv:"promoter_name"`
	ProjectType    string `csv:"project_type"`
	ProjectStatus  string `csv:"project_status"`
	District       string `csv:"district"`
	Locality       string `csv:"locality"`
	Pincode        string `csv:"pincode"`
	Address        string `csv:"address"`
	ApprovedOn     string `csv:"approved_on"`
	CompletionDate string `csv:"completion_date"`
	TotalUnits     string `csv:"total_units"`
	AvailableUnits string `csv:"available_units"`
	ProjectArea    string `csv:"project_area"`
	TotalBuildings string `csv:"total_buildings"`
}

func main() {
	_ = godotenv.Load()

	path := flag.String("file", "", "CSV file of manually collected project rows")
	flag.Parse()

	if *path == "" {
		log.Fatal("Please provide a CSV file using -file flag")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *path, err)
	}

	var rows []csvRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		log.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) == 0 {
		log.Fatal("No rows in CSV")
	}

	raw := make([]ingest.RawRecord, 0, len(rows))
	for _, row := range rows {
		raw = append(raw, ingest.RawRecord{Fields: map[string]string{
			"registration_id": row.RegistrationID,
			"project_name":    row.ProjectName,
			"promoter_name":   row.PromoterName,
			"project_type":    row.ProjectType,
			"project_status":  row.ProjectStatus,
			"district":        row.District,
			"locality":        row.Locality,
			"pincode":         row.Pincode,
			"address":         row.Address,
			"approved_on":     row.ApprovedOn,
			"completion_date": row.CompletionDate,
			"total_units":     row.TotalUnits,
			"available_units": row.AvailableUnits,
			"project_area":    row.ProjectArea,
			"total_buildings": row.TotalBuildings,
		}})
	}

	dropped := 0
	records := make([]models.ProjectRecord, 0, len(raw))
	for _, r := range ingest.Dedupe(raw) {
		rec, err := ingest.Normalize(r)
		if err != nil {
			log.Printf("Skipping row: %v", err)
			dropped++
			continue
		}
		rec.Provenance = models.ProvenanceManual
		records = append(records, rec)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	inserted, updated, err := store.UpsertBatch(ctx, records)
	if err != nil {
		log.Fatalf("Upsert failed: %v", err)
	}

	log.Printf("Manual ingest finished. Rows: %d, Inserted: %d, Updated: %d, Dropped: %d",
		len(rows), inserted, updated, dropped)
}

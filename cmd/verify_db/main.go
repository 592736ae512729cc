package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/mehulvb/rera-finder/internal/db"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	stats, err := store.GetStats(ctx)
	if err != nil {
		log.Fatalf("Stats query failed: %v", err)
	}
	fmt.Printf("Total projects: %v\n", stats["total"])
	fmt.Printf("By provenance: %v\n", stats["provenance_counts"])
	fmt.Printf("By status: %v\n", stats["status_counts"])

	cities, err := store.CityStats(ctx)
	if err != nil {
		log.Fatalf("District breakdown failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"District", "Projects"})
	for _, cs := range cities {
		t.AppendRow(table.Row{cs.District, cs.Count})
	}
	t.Render()
}

package db

import (
	"strings"
	"testing"
)

func TestBuildListWhere_CityIsCaseInsensitive(t *testing.T) {
	where, args := buildListWhere(ListParams{City: "ahmedabad"})

	if !strings.Contains(where, "LOWER(district) = LOWER($1)") {
		t.Fatalf("city clause must compare lowered district: %s", where)
	}
	if len(args) != 1 || args[0] != "ahmedabad" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildListWhere_ArgumentOrdinalsStayAligned(t *testing.T) {
	where, args := buildListWhere(ListParams{
		City:    "Surat",
		Status:  "Ongoing",
		Type:    "Residential",
		Query:   "heights",
		MinArea: 1000,
		MaxArea: 50000,
	})

	mustContain := []string{
		"LOWER(district) = LOWER($1)",
		"project_status = $2",
		"project_type = $3",
		"$4",
		"project_area >= $5",
		"project_area <= $6",
	}
	for _, token := range mustContain {
		if !strings.Contains(where, token) {
			t.Fatalf("where clause missing token %q: %s", token, where)
		}
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d: %v", len(args), args)
	}
}

func TestBuildListWhere_QuerySearchesNameAndPromoter(t *testing.T) {
	where, _ := buildListWhere(ListParams{Query: "shivalik"})

	if !strings.Contains(where, "project_name ILIKE") || !strings.Contains(where, "promoter_name ILIKE") {
		t.Fatalf("free-text clause must cover name and promoter: %s", where)
	}
}

func TestBuildListWhere_EmptyParamsFilterNothing(t *testing.T) {
	where, args := buildListWhere(ListParams{})

	if where != "WHERE 1=1" {
		t.Fatalf("empty params should produce no filters: %s", where)
	}
	if len(args) != 0 {
		t.Fatalf("empty params should bind no args: %v", args)
	}
}

func TestUpsertSQL_ConflictsOnRegistrationID(t *testing.T) {
	if !strings.Contains(upsertSQL, "ON CONFLICT (registration_id) DO UPDATE") {
		t.Fatalf("upsert must resolve conflicts by registration id:\n%s", upsertSQL)
	}
	if !strings.Contains(upsertSQL, "RETURNING (xmax = 0)") {
		t.Fatalf("upsert must report insert-vs-update:\n%s", upsertSQL)
	}
	if !strings.Contains(upsertSQL, "updated_at = NOW()") {
		t.Fatalf("updates must touch updated_at:\n%s", upsertSQL)
	}
}

package ingest

import (
	"strings"
	"testing"
)

const dedupeRegID = "PR/GJ/VADODARA/VADODARACITY/VUDA/RAA00456/150322"

func TestDedupe_KeepsMostCompleteRecord(t *testing.T) {
	sparse := RawRecord{Fields: map[string]string{
		"registration_id": dedupeRegID,
		"project_name":    "Alembic Urban Forest",
	}}
	full := RawRecord{Fields: map[string]string{
		"registration_id": dedupeRegID,
		"project_name":    "Alembic Urban Forest",
		"promoter_name":   "Alembic Real Estate",
		"district":        "Vadodara",
		"total_units":     "480",
	}}

	out := Dedupe([]RawRecord{sparse, full})
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].Field("promoter_name") != "Alembic Real Estate" {
		t.Error("expected the more complete record to survive")
	}
}

func TestDedupe_TiesKeepFirstSeen(t *testing.T) {
	first := RawRecord{Fields: map[string]string{
		"registration_id": dedupeRegID,
		"project_name":    "First Spelling",
	}}
	second := RawRecord{Fields: map[string]string{
		"registration_id": dedupeRegID,
		"project_name":    "Second Spelling",
	}}

	out := Dedupe([]RawRecord{first, second})
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].Field("project_name") != "First Spelling" {
		t.Errorf("tie should keep first seen, got %q", out[0].Field("project_name"))
	}
}

func TestDedupe_SynthesizesKeyForKeylessRecords(t *testing.T) {
	keyless := RawRecord{Fields: map[string]string{
		"project_name": "Shivalik Heights",
		"district":     "Rajkot",
	}}

	out := Dedupe([]RawRecord{keyless})
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	key := out[0].Field("registration_id")
	if !strings.HasPrefix(key, "SYN/") {
		t.Errorf("synthesized key must carry SYN/ prefix: %q", key)
	}
	if !out[0].LowConfidence {
		t.Error("keyless record must be flagged low-confidence")
	}

	// Same name and district must synthesize the same key across runs.
	again := Dedupe([]RawRecord{{Fields: map[string]string{
		"project_name": "shivalik heights",
		"district":     "RAJKOT",
	}}})
	if again[0].Field("registration_id") != key {
		t.Errorf("synthesized key not stable: %q vs %q", again[0].Field("registration_id"), key)
	}
}

func TestDedupe_DiscardsKeylessNamelessRecords(t *testing.T) {
	out := Dedupe([]RawRecord{
		{Fields: map[string]string{"district": "Surat", "total_units": "200"}},
	})
	if len(out) != 0 {
		t.Fatalf("expected nameless keyless record to be discarded, got %d", len(out))
	}
}

func TestDedupe_PreservesFirstSeenOrder(t *testing.T) {
	records := []RawRecord{
		{Fields: map[string]string{"registration_id": "PR/GJ/SURAT/SURATCITY/SUDA/AAA00001/010121", "project_name": "A"}},
		{Fields: map[string]string{"registration_id": "PR/GJ/SURAT/SURATCITY/SUDA/BBB00002/010121", "project_name": "B"}},
		{Fields: map[string]string{"registration_id": "PR/GJ/SURAT/SURATCITY/SUDA/AAA00001/010121", "project_name": "A again"}},
		{Fields: map[string]string{"registration_id": "PR/GJ/SURAT/SURATCITY/SUDA/CCC00003/010121", "project_name": "C"}},
	}

	out := Dedupe(records)
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	wantNames := []string{"A", "B", "C"}
	for i, want := range wantNames {
		if got := out[i].Field("project_name"); got != want {
			t.Errorf("position %d: got %q, want %q", i, got, want)
		}
	}
}

package ingest

import (
	"testing"

	"github.com/mehulvb/rera-finder/internal/models"
)

func TestClassifyProjectType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Residential/Group Housing", models.TypeResidential},
		{"Group Housing", models.TypeResidential},
		{"COMMERCIAL", models.TypeCommercial},
		{"Office Spaces", models.TypeCommercial},
		{"Mixed Development (Residential + Retail)", models.TypeMixed},
		{"Plotted Development", models.TypePlotted},
		{"Integrated Township", models.TypeTownship},
		{"Residential Township", models.TypeTownship},
		{"", models.TypeResidential},
		{"Warehouse", models.TypeOther},
	}

	for _, tc := range cases {
		if got := ClassifyProjectType(tc.in); got != tc.want {
			t.Errorf("ClassifyProjectType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Under Construction", models.StatusOngoing},
		{"Registered", models.StatusOngoing},
		{"Work in Progress", models.StatusOngoing},
		{"Completed", models.StatusCompleted},
		{"COMPLETED", models.StatusCompleted},
		{"Newly Launched", models.StatusNew},
		{"Delayed beyond schedule", models.StatusDelayed},
		{"Stalled", models.StatusStalled},
		{"", models.StatusOngoing},
		{"Litigation", models.StatusOther},
	}

	for _, tc := range cases {
		if got := ClassifyStatus(tc.in); got != tc.want {
			t.Errorf("ClassifyStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBookingPercentage(t *testing.T) {
	cases := []struct {
		total, available, want int
	}{
		{100, 25, 75},
		{100, 0, 100},
		{100, 100, 0},
		{0, 0, 0},
		{-5, 0, 0},
		{100, -1, 0},
		{3, 1, 67}, // rounds, not truncates
	}

	for _, tc := range cases {
		if got := BookingPercentage(tc.total, tc.available); got != tc.want {
			t.Errorf("BookingPercentage(%d, %d) = %d, want %d", tc.total, tc.available, got, tc.want)
		}
	}
}

func TestNormalize_AliasResolution(t *testing.T) {
	raw := RawRecord{Fields: map[string]string{
		"regNo":        "PR/GJ/SURAT/SURATCITY/SUDA/RAA00123/010121",
		"projectName":  "Rajhans Synfonia",
		"promoterName": "Rajhans Group",
		"distName":     "surat",
		"totalUnits":   "1,200",
		"unsold_units": "300",
		"totalArea":    "45,000.5",
	}}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if rec.RegistrationID != "PR/GJ/SURAT/SURATCITY/SUDA/RAA00123/010121" {
		t.Errorf("unexpected registration id: %q", rec.RegistrationID)
	}
	if rec.Name != "Rajhans Synfonia" {
		t.Errorf("unexpected name: %q", rec.Name)
	}
	if rec.District != "Surat" {
		t.Errorf("district should be title-cased: %q", rec.District)
	}
	if rec.TotalUnits != 1200 || rec.AvailableUnits != 300 {
		t.Errorf("unit parsing failed: total=%d available=%d", rec.TotalUnits, rec.AvailableUnits)
	}
	if rec.BookingPercentage != 75 {
		t.Errorf("booking percentage = %d, want 75", rec.BookingPercentage)
	}
	if rec.ProjectArea != 45000.5 {
		t.Errorf("project area = %v, want 45000.5", rec.ProjectArea)
	}
}

func TestNormalize_DistrictFromRegistrationID(t *testing.T) {
	raw := RawRecord{Fields: map[string]string{
		"registration_id": "PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023",
		"project_name":    "Godrej Garden City",
	}}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.District != "Ahmedabad" {
		t.Errorf("district = %q, want Ahmedabad", rec.District)
	}
}

func TestNormalize_RejectsUnusableRecords(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
	}{
		{"no name and no id", map[string]string{"district": "Surat", "total_units": "100"}},
		{"no derivable district", map[string]string{"project_name": "Mystery Towers"}},
	}

	for _, tc := range cases {
		_, err := Normalize(RawRecord{Fields: tc.fields})
		if err == nil {
			t.Errorf("%s: expected validation error, got none", tc.name)
			continue
		}
		if _, ok := err.(*ValidationError); !ok {
			t.Errorf("%s: expected *ValidationError, got %T", tc.name, err)
		}
	}
}

func TestNormalize_PlaceholderNameFromRegistrationID(t *testing.T) {
	raw := RawRecord{Fields: map[string]string{
		"registration_id": "PR/GJ/RAJKOT/RAJKOTCITY/RUDA/MAA01234/050222",
	}}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.Name == "" {
		t.Error("expected a placeholder name, got empty")
	}
}

func TestNormalize_ClampsAvailableUnits(t *testing.T) {
	raw := RawRecord{Fields: map[string]string{
		"registration_id": "PR/GJ/SURAT/SURATCITY/SUDA/RAA00999/010121",
		"project_name":    "Overbooked Heights",
		"total_units":     "100",
		"available_units": "250",
	}}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if rec.AvailableUnits != 100 {
		t.Errorf("available units should clamp to total: %d", rec.AvailableUnits)
	}
	if rec.BookingPercentage != 0 {
		t.Errorf("booking percentage = %d, want 0", rec.BookingPercentage)
	}
}

func TestParseRecordDate(t *testing.T) {
	if _, ok := ParseRecordDate("08-10-2023"); !ok {
		t.Error("expected 08-10-2023 to parse")
	}
	if _, ok := ParseRecordDate("approx. mid 2023"); ok {
		t.Error("expected free text to fail parsing")
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Project type classifications. Free text from the portal is mapped onto
// this closed set; anything unrecognized becomes TypeOther.
const (
	TypeResidential = "Residential"
	TypeCommercial  = "Commercial"
	TypeMixed       = "Mixed"
	TypePlotted     = "Plotted"
	TypeTownship    = "Township"
	TypeOther       = "Other"
)

// Project status classifications.
const (
	StatusNew       = "New"
	StatusOngoing   = "Ongoing"
	StatusCompleted = "Completed"
	StatusDelayed   = "Delayed"
	StatusStalled   = "Stalled"
	StatusOther     = "Other"
)

// Provenance of a persisted record. Analytics consumers must be able to tell
// real extractions apart from fallback data.
const (
	ProvenanceLive      = "LiveExtraction"
	ProvenanceManual    = "ManualUpload"
	ProvenanceSynthetic = "Synthetic"
)

// ProjectRecord is the canonical persisted shape for a RERA-registered
// project. JSON field names keep the aliases established by the legacy read
// layer (project_name, booking_percentage, ...) for existing consumers.
type ProjectRecord struct {
	ID             uuid.UUID `json:"id"`
	RegistrationID string    `json:"registration_id"`
	Name           string    `json:"project_name"`
	PromoterName   string    `json:"promoter_name"`
	ProjectType    string    `json:"project_type"`
	Status         string    `json:"project_status"`
	District       string    `json:"district"`
	Locality       string    `json:"locality"`
	Pincode        string    `json:"pincode"`
	Address        string    `json:"address"`
	// Source-local date strings, normalized to DD-MM-YYYY where parseable.
	ApprovedOn     string `json:"approved_on"`
	CompletionDate string `json:"completion_date"`
	TotalUnits     int    `json:"total_units"`
	AvailableUnits int    `json:"available_units"`
	// Derived once in the normalizer from TotalUnits/AvailableUnits.
	BookingPercentage int     `json:"booking_percentage"`
	ProjectArea       float64 `json:"project_area"`
	TotalBuildings    int     `json:"total_buildings"`
	Provenance        string  `json:"provenance"`
	// Set for records whose registration id was synthesized from
	// (name, district) because the source row carried none.
	LowConfidence bool      `json:"low_confidence"`
	SourceURL     string    `json:"source_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mehulvb/rera-finder/internal/models"
)

// fieldAliases maps each canonical field to the ordered list of raw key
// spellings accepted for it; the first alias present in a record wins.
// Sources have used snake_case, camelCase and display headers over time.
var fieldAliases = map[string][]string{
	fieldRegistrationID: {"registration_id", "registrationNo", "registration_no", "regNo", "reg_no", "rera_id", "reraRegnNo", "registration number"},
	fieldProjectName:    {"project_name", "projectName", "name", "projectTitle", "project"},
	fieldPromoterName:   {"promoter_name", "promoterName", "promoter", "developer", "builder_name", "builderName"},
	fieldProjectType:    {"project_type", "projectType", "type", "category"},
	fieldProjectStatus:  {"project_status", "projectStatus", "status", "project_stage"},
	fieldDistrict:       {"district", "distName", "dist_name", "city"},
	fieldLocality:       {"locality", "taluka", "village", "moje", "area_name"},
	fieldPincode:        {"pincode", "pinCode", "pin_code", "pin"},
	fieldAddress:        {"address", "site_address", "projectAddress", "project_address"},
	fieldApprovedOn:     {"approved_on", "approvedOn", "approval_date", "approvalDate", "registration_date", "regDate"},
	fieldCompletionDate: {"completion_date", "completionDate", "end_date", "endDate", "proposed_completion"},
	fieldTotalUnits:     {"total_units", "totalUnits", "no_of_units", "totalUnit", "units"},
	fieldAvailableUnits: {"available_units", "availableUnits", "unsold_units", "balance_units", "availableUnit"},
	fieldProjectArea:    {"project_area", "projectArea", "total_area", "totalArea", "land_area", "area"},
	fieldTotalBuildings: {"total_buildings", "totalBuildings", "no_of_buildings", "towers", "blocks"},
}

// projectTypeKeywords is priority-ordered: earlier entries win when free
// text mentions several. "Residential/Group Housing" must land on
// Residential before "group" could suggest anything else.
var projectTypeKeywords = []struct {
	keyword string
	value   string
}{
	{"township", models.TypeTownship},
	{"plotted", models.TypePlotted},
	{"plot", models.TypePlotted},
	{"mixed", models.TypeMixed},
	{"residential", models.TypeResidential},
	{"group housing", models.TypeResidential},
	{"apartment", models.TypeResidential},
	{"villa", models.TypeResidential},
	{"commercial", models.TypeCommercial},
	{"office", models.TypeCommercial},
	{"retail", models.TypeCommercial},
	{"shop", models.TypeCommercial},
}

var projectStatusKeywords = []struct {
	keyword string
	value   string
}{
	{"delay", models.StatusDelayed},
	{"stall", models.StatusStalled},
	{"complet", models.StatusCompleted},
	{"finish", models.StatusCompleted},
	{"under construction", models.StatusOngoing},
	{"ongoing", models.StatusOngoing},
	{"in progress", models.StatusOngoing},
	{"registered", models.StatusOngoing},
	{"new", models.StatusNew},
	{"launch", models.StatusNew},
}

// lookupAlias resolves a canonical field through its alias list; first
// present wins. Matching is case-insensitive on the key.
func lookupAlias(fields map[string]string, canonical string) string {
	aliases := fieldAliases[canonical]
	for _, alias := range aliases {
		if v, ok := fields[alias]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	// Fall back to a case-insensitive scan for sources that vary casing.
	for _, alias := range aliases {
		for k, v := range fields {
			if strings.EqualFold(k, alias) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ClassifyProjectType maps free text onto the closed project-type set.
func ClassifyProjectType(text string) string {
	t := strings.ToLower(text)
	if strings.TrimSpace(t) == "" {
		return models.TypeResidential
	}
	for _, entry := range projectTypeKeywords {
		if strings.Contains(t, entry.keyword) {
			return entry.value
		}
	}
	return models.TypeOther
}

// ClassifyStatus maps free text onto the closed status set.
func ClassifyStatus(text string) string {
	t := strings.ToLower(text)
	if strings.TrimSpace(t) == "" {
		return models.StatusOngoing
	}
	for _, entry := range projectStatusKeywords {
		if strings.Contains(t, entry.keyword) {
			return entry.value
		}
	}
	return models.StatusOther
}

func hasTypeKeyword(text string) bool {
	return ClassifyProjectType(text) != models.TypeOther && strings.TrimSpace(text) != ""
}

func hasStatusKeyword(text string) bool {
	t := strings.ToLower(text)
	for _, entry := range projectStatusKeywords {
		if strings.Contains(t, entry.keyword) {
			return true
		}
	}
	return false
}

// BookingPercentage is the single source of truth for the derivation:
// round((total-available)/total*100) when both are usable, else 0, always
// clamped to [0,100].
func BookingPercentage(totalUnits, availableUnits int) int {
	if totalUnits <= 0 || availableUnits < 0 {
		return 0
	}
	pct := int(math.Round(float64(totalUnits-availableUnits) / float64(totalUnits) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ParseRecordDate parses a normalized DD-MM-YYYY record date. Callers doing
// date-filtered aggregates must exclude records where ok is false instead
// of failing.
func ParseRecordDate(s string) (time.Time, bool) {
	t, err := time.Parse("02-01-2006", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Normalize converts one raw extraction into the canonical record shape.
// Pure function, no I/O. Returns a ValidationError when the record fails
// minimal shape requirements (no name and no registration id, or no
// derivable district).
func Normalize(raw RawRecord) (models.ProjectRecord, error) {
	regID := lookupAlias(raw.Fields, fieldRegistrationID)
	name := lookupAlias(raw.Fields, fieldProjectName)

	if regID == "" && name == "" {
		return models.ProjectRecord{}, &ValidationError{Reason: "no project name and no registration id"}
	}
	if name == "" {
		name = placeholderName(regID)
	}

	district := titleCase(lookupAlias(raw.Fields, fieldDistrict))
	if district == "" && regID != "" {
		district = DistrictFromRegistrationID(regID)
	}
	if district == "" {
		return models.ProjectRecord{}, &ValidationError{Reason: fmt.Sprintf("no derivable district for %q", regID)}
	}

	totalUnits := coerceInt(lookupAlias(raw.Fields, fieldTotalUnits))
	availableUnits := coerceInt(lookupAlias(raw.Fields, fieldAvailableUnits))
	if availableUnits > totalUnits {
		availableUnits = totalUnits
	}

	rec := models.ProjectRecord{
		RegistrationID:    regID,
		Name:              name,
		PromoterName:      lookupAlias(raw.Fields, fieldPromoterName),
		ProjectType:       ClassifyProjectType(lookupAlias(raw.Fields, fieldProjectType)),
		Status:            ClassifyStatus(lookupAlias(raw.Fields, fieldProjectStatus)),
		District:          district,
		Locality:          titleCase(lookupAlias(raw.Fields, fieldLocality)),
		Pincode:           lookupAlias(raw.Fields, fieldPincode),
		Address:           lookupAlias(raw.Fields, fieldAddress),
		ApprovedOn:        coerceDate(lookupAlias(raw.Fields, fieldApprovedOn)),
		CompletionDate:    coerceDate(lookupAlias(raw.Fields, fieldCompletionDate)),
		TotalUnits:        totalUnits,
		AvailableUnits:    availableUnits,
		BookingPercentage: BookingPercentage(totalUnits, availableUnits),
		ProjectArea:       coerceFloat(lookupAlias(raw.Fields, fieldProjectArea)),
		TotalBuildings:    coerceInt(lookupAlias(raw.Fields, fieldTotalBuildings)),
		LowConfidence:     raw.LowConfidence,
		SourceURL:         raw.SourceURL,
	}

	return rec, nil
}

// placeholderName derives a display name from the registration id when the
// source row had none.
func placeholderName(regID string) string {
	parts := strings.Split(regID, "/")
	tail := parts[len(parts)-1]
	if len(parts) >= 2 && len(tail) <= 2 {
		tail = parts[len(parts)-2]
	}
	return "Project " + tail
}

// coerceInt defaults to 0 on parse failure, never errors.
func coerceInt(s string) int {
	if s == "" {
		return 0
	}
	if n, ok := ExtractInt(s); ok {
		return n
	}
	return 0
}

func coerceFloat(s string) float64 {
	if s == "" {
		return 0
	}
	if f, ok := ExtractFloat(s); ok {
		return f
	}
	return 0
}

// coerceDate keeps the normalized DD-MM-YYYY form when the value is
// parseable and the raw text otherwise; comparisons downstream tolerate
// unparsable values by exclusion.
func coerceDate(s string) string {
	if s == "" {
		return ""
	}
	if d, ok := ExtractDate(s); ok {
		return d
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

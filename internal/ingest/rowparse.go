package ingest

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Canonical field keys emitted by the row processor. The normalizer accepts
// these plus the source's own spellings through its alias tables.
const (
	fieldRegistrationID = "registration_id"
	fieldProjectName    = "project_name"
	fieldPromoterName   = "promoter_name"
	fieldProjectType    = "project_type"
	fieldProjectStatus  = "project_status"
	fieldDistrict       = "district"
	fieldLocality       = "locality"
	fieldPincode        = "pincode"
	fieldAddress        = "address"
	fieldApprovedOn     = "approved_on"
	fieldCompletionDate = "completion_date"
	fieldTotalUnits     = "total_units"
	fieldAvailableUnits = "available_units"
	fieldProjectArea    = "project_area"
	fieldTotalBuildings = "total_buildings"

	// Internal key carrying a row's certificate PDF link between the row
	// processor and the enrichment step; never persisted.
	fieldCertificateURL = "_certificate_url"
)

// Gujarat RERA registration numbers are slash-delimited segments encoding
// state, district and sequence, e.g. PR/GJ/AHMEDABAD/AHMEDABADCITY/AUDA/MAA06316/081023.
// The id is treated as opaque beyond this structural gate and the optional
// district segment.
var registrationIDPattern = regexp.MustCompile(`(?i)\b(?:PR|AG)/GJ(?:/[A-Z0-9 .\-]{2,30}){2,5}\b`)

var (
	datePattern    = regexp.MustCompile(`\b(\d{1,2})[-/](\d{1,2})[-/](\d{4})\b`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	pincodePattern = regexp.MustCompile(`\b[1-9]\d{5}\b`)
	numberPattern  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

var cellPolicy = bluemonday.StrictPolicy()

// Field extractors. Each is a pure function text -> (value, ok) so the
// heuristics stay independently testable as the portal's markup drifts.

// ExtractRegistrationID pulls the first registration-number-shaped token
// out of free text.
func ExtractRegistrationID(text string) (string, bool) {
	m := registrationIDPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToUpper(collapseWhitespace(m)), true
}

// ExtractDate normalizes the first date token to DD-MM-YYYY.
func ExtractDate(text string) (string, bool) {
	if m := datePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if day >= 1 && day <= 31 && month >= 1 && month <= 12 {
			return padTwo(day) + "-" + padTwo(month) + "-" + m[3], true
		}
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1], true
	}
	return "", false
}

// ExtractInt parses the first integer token, tolerating Indian digit
// grouping (12,34,567).
func ExtractInt(text string) (int, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ExtractFloat parses the first numeric token as a float.
func ExtractFloat(text string) (float64, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// ExtractPincode finds a 6-digit Indian postal code.
func ExtractPincode(text string) (string, bool) {
	m := pincodePattern.FindString(text)
	return m, m != ""
}

// looksMonetary reports whether a cell reads like a rupee amount; monetary
// columns are skipped by the positional heuristics since the canonical
// record carries no price field.
func looksMonetary(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "₹") || strings.Contains(t, "rs.") || strings.Contains(t, "rs ") ||
		strings.Contains(t, "crore") || strings.Contains(t, " cr") || strings.Contains(t, "lakh")
}

// DistrictFromRegistrationID falls back to the district segment of a
// registration number (PR/GJ/<district>/...).
func DistrictFromRegistrationID(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) < 3 {
		return ""
	}
	district := strings.TrimSpace(parts[2])
	if district == "" || district == "GJ" {
		return ""
	}
	return titleCase(district)
}

// headerField maps a listing-table header cell onto a canonical field key,
// or "" when the column is unrecognized.
func headerField(header string) string {
	h := strings.ToLower(collapseWhitespace(header))
	switch {
	case strings.Contains(h, "reg"):
		return fieldRegistrationID
	case strings.Contains(h, "promoter"), strings.Contains(h, "developer"), strings.Contains(h, "builder"):
		return fieldPromoterName
	case strings.Contains(h, "project name"), strings.Contains(h, "name of project"), h == "project":
		return fieldProjectName
	case strings.Contains(h, "type"):
		return fieldProjectType
	case strings.Contains(h, "status"):
		return fieldProjectStatus
	case strings.Contains(h, "district"):
		return fieldDistrict
	case strings.Contains(h, "locality"), strings.Contains(h, "taluka"), strings.Contains(h, "village"):
		return fieldLocality
	case strings.Contains(h, "pincode"), strings.Contains(h, "pin code"):
		return fieldPincode
	case strings.Contains(h, "address"):
		return fieldAddress
	case strings.Contains(h, "approv"):
		return fieldApprovedOn
	case strings.Contains(h, "completion"), strings.Contains(h, "end date"):
		return fieldCompletionDate
	case strings.Contains(h, "total unit"), strings.Contains(h, "no. of unit"), strings.Contains(h, "units"):
		return fieldTotalUnits
	case strings.Contains(h, "available"), strings.Contains(h, "unsold"), strings.Contains(h, "balance"):
		return fieldAvailableUnits
	case strings.Contains(h, "area"):
		return fieldProjectArea
	case strings.Contains(h, "building"), strings.Contains(h, "tower"), strings.Contains(h, "block"):
		return fieldTotalBuildings
	}
	return ""
}

// tableLooksRelevant checks the header row for project/RERA/promoter
// keywords before any rows are trusted.
func tableLooksRelevant(headers []string, keywords []string) bool {
	joined := strings.ToLower(strings.Join(headers, " "))
	for _, kw := range keywords {
		if strings.Contains(joined, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ExtractTableRecords scans a listing document for project tables and turns
// candidate rows into raw records. A row is a candidate only when some cell
// matches the registration-number pattern; remaining cells are assigned by
// header mapping first, then by content-pattern heuristics. This is
// best-effort extraction from semi-structured markup, not authoritative.
func ExtractTableRecords(doc *goquery.Document, cfg TableConfig, pageURL string) []RawRecord {
	var records []RawRecord

	doc.Find(cfg.Selector).Each(func(_ int, tbl *goquery.Selection) {
		var headers []string
		tbl.Find("tr").First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, cellText(cell))
		})
		if !tableLooksRelevant(headers, cfg.HeaderKeywords) {
			return
		}

		columnFields := make(map[int]string, len(headers))
		for i, h := range headers {
			if f := headerField(h); f != "" {
				columnFields[i] = f
			}
		}

		tbl.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
			if rowIdx == 0 {
				return
			}
			var cells []string
			row.Find("td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, cellText(cell))
			})
			if rec, ok := parseRow(cells, columnFields, pageURL); ok {
				if href := row.Find(`a[href$=".pdf"]`).First().AttrOr("href", ""); href != "" {
					rec.Fields[fieldCertificateURL] = resolveURL(pageURL, href)
				}
				records = append(records, rec)
			}
		})
	})

	return records
}

// parseRow turns one table row into a RawRecord. Returns false when no cell
// carries a registration number.
func parseRow(cells []string, columnFields map[int]string, pageURL string) (RawRecord, bool) {
	fields := make(map[string]string)
	regIdx := -1

	for i, cell := range cells {
		if id, ok := ExtractRegistrationID(cell); ok {
			fields[fieldRegistrationID] = id
			regIdx = i
			break
		}
	}
	if regIdx == -1 {
		return RawRecord{}, false
	}

	// Header-mapped columns win.
	for i, cell := range cells {
		if i == regIdx {
			continue
		}
		if f, ok := columnFields[i]; ok && fields[f] == "" {
			fields[f] = cell
		}
	}

	// Content-pattern heuristics for whatever the headers left unassigned.
	for i, cell := range cells {
		if i == regIdx || cell == "" {
			continue
		}
		if _, mapped := columnFields[i]; mapped {
			continue
		}
		classifyCell(cell, fields)
	}

	// First unmapped non-registration cell is usually the project name.
	if fields[fieldProjectName] == "" {
		for i, cell := range cells {
			if i == regIdx || cell == "" || looksMonetary(cell) {
				continue
			}
			if _, isDate := ExtractDate(cell); isDate {
				continue
			}
			if _, isNum := ExtractInt(cell); isNum && len(cell) < 8 {
				continue
			}
			fields[fieldProjectName] = cell
			break
		}
	}

	return RawRecord{Fields: fields, SourceURL: pageURL}, true
}

// classifyCell assigns a cell to the first empty field its content pattern
// suggests.
func classifyCell(cell string, fields map[string]string) {
	if looksMonetary(cell) {
		return
	}
	if d, ok := ExtractDate(cell); ok {
		if fields[fieldApprovedOn] == "" {
			fields[fieldApprovedOn] = d
		} else if fields[fieldCompletionDate] == "" {
			fields[fieldCompletionDate] = d
		}
		return
	}
	if pin, ok := ExtractPincode(cell); ok && fields[fieldPincode] == "" && len(collapseWhitespace(cell)) <= 8 {
		fields[fieldPincode] = pin
		return
	}
	if hasTypeKeyword(cell) && fields[fieldProjectType] == "" {
		fields[fieldProjectType] = cell
		return
	}
	if hasStatusKeyword(cell) && fields[fieldProjectStatus] == "" {
		fields[fieldProjectStatus] = cell
		return
	}
	if n, ok := ExtractInt(cell); ok && collapseWhitespace(cell) == strconv.Itoa(n) {
		if fields[fieldTotalUnits] == "" {
			fields[fieldTotalUnits] = strconv.Itoa(n)
		} else if fields[fieldAvailableUnits] == "" {
			fields[fieldAvailableUnits] = strconv.Itoa(n)
		}
		return
	}
}

// FindNextPageURL resolves the "next" pagination control, "" when absent.
func FindNextPageURL(doc *goquery.Document, cfg TableConfig, currentURL string) string {
	if cfg.NextSelector == "" {
		return ""
	}
	href := doc.Find(cfg.NextSelector).First().AttrOr("href", "")
	if href == "" {
		return ""
	}
	return resolveURL(currentURL, href)
}

// cellText extracts sanitized plain text from a table cell. Cells on the
// portal sometimes embed markup and script fragments; strip them rather
// than trusting them.
func cellText(sel *goquery.Selection) string {
	html, err := sel.Html()
	if err != nil {
		return collapseWhitespace(sel.Text())
	}
	return collapseWhitespace(cellPolicy.Sanitize(html))
}

func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	rel, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(rel).String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func padTwo(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

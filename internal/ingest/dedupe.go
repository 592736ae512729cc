package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Dedupe collapses raw records sharing a registration id, keeping the one
// with the most non-empty fields; ties keep the first seen. Records with no
// registration id get a deterministic synthesized key from (name, district)
// and are flagged low-confidence — they cannot be safely upserted against
// future runs, so downstream consumers see the flag. Keyless records with
// no name are discarded.
//
// Output order is first-seen order of the surviving records, so the same
// input always produces the same output.
func Dedupe(records []RawRecord) []RawRecord {
	type slot struct {
		idx int
		rec RawRecord
	}

	byKey := make(map[string]slot, len(records))
	var order []string

	for _, rec := range records {
		key := lookupAlias(rec.Fields, fieldRegistrationID)
		if key == "" {
			name := lookupAlias(rec.Fields, fieldProjectName)
			if name == "" {
				continue
			}
			key = synthesizeKey(name, lookupAlias(rec.Fields, fieldDistrict))
			if rec.Fields == nil {
				rec.Fields = make(map[string]string, 1)
			}
			rec.Fields[fieldRegistrationID] = key
			rec.LowConfidence = true
		}

		existing, seen := byKey[key]
		if !seen {
			byKey[key] = slot{idx: len(order), rec: rec}
			order = append(order, key)
			continue
		}
		if completeness(rec) > completeness(existing.rec) {
			byKey[key] = slot{idx: existing.idx, rec: rec}
		}
	}

	out := make([]RawRecord, len(order))
	for _, key := range order {
		s := byKey[key]
		out[s.idx] = s.rec
	}
	return out
}

// completeness counts populated fields; used to pick the fuller of two
// extractions of the same project.
func completeness(rec RawRecord) int {
	n := 0
	for _, v := range rec.Fields {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// synthesizeKey builds a stable surrogate registration id. The SYN/ prefix
// keeps it out of the real registration-number space.
func synthesizeKey(name, district string) string {
	h := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(district))))
	return "SYN/" + strings.ToUpper(hex.EncodeToString(h[:6]))
}

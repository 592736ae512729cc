package ingest

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"

	"rsc.io/pdf"
)

const maxCertificateBytes = 5 * 1024 * 1024

// enrichFromCertificate fills a row's approval date from its linked RERA
// certificate PDF when the listing table didn't carry one. Best-effort:
// any failure leaves the record as extracted.
func enrichFromCertificate(ctx context.Context, fetcher Fetcher, rec *RawRecord) {
	certURL := rec.Field(fieldCertificateURL)
	if certURL == "" {
		return
	}
	delete(rec.Fields, fieldCertificateURL)

	if rec.Field(fieldApprovedOn) != "" {
		return
	}

	doc, err := fetcher.Fetch(ctx, certURL)
	if err != nil {
		log.Printf("[certificate] fetch failed for %s: %v", certURL, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(doc.Body, maxCertificateBytes))
	doc.Body.Close()
	if err != nil {
		return
	}

	if date, ok := extractFirstPDFDate(body); ok {
		rec.Fields[fieldApprovedOn] = date
	}
}

// extractFirstPDFDate scans certificate text for the first date token.
// Certificates occasionally have malformed xref tables; recover from the
// parser's panic and report no date.
func extractFirstPDFDate(data []byte) (date string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			date, ok = "", false
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage() && pageNum <= 3; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, text := range page.Content().Text {
			sb.WriteString(text.S)
			sb.WriteString(" ")
		}
	}

	return ExtractDate(sb.String())
}

package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// Header names accepted for each mapping column, in order of preference.
var (
	controlColumns     = []string{"control id", "control_id", "control", "controls", "mapped controls", "annex"}
	titleColumns       = []string{"title", "control title", "control name", "name"}
	keywordColumns     = []string{"keywords", "keyword", "evidence keywords", "evidence"}
	policyTypeColumns  = []string{"policy types", "policy type", "policy_type", "policies", "policy"}
	keywordSeparatorRe = regexp.MustCompile(`[;,\n\r|]+`)
	policySeparatorRe  = regexp.MustCompile(`[;\n\r|]+`)
)

// ReadMappingsCSV reads control mappings from a spreadsheet export. Columns
// are found by header name, exact names first, then partial matches. A
// control cell may hold several ids or a range ("A.6.1 - A.6.4"); each id
// gets its own record. Keywords are separated by commas or semicolons.
// Rows without a control id are skipped.
func ReadMappingsCSV(r io.Reader) ([]rules.MappingRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("mapping sheet is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	controlCol := findColumn(header, controlColumns)
	keywordCol := findColumn(header, keywordColumns)
	if controlCol < 0 {
		return nil, fmt.Errorf("no control column found in %v", header)
	}
	if keywordCol < 0 {
		return nil, fmt.Errorf("no keywords column found in %v", header)
	}
	titleCol := findColumn(header, titleColumns)
	policyCol := findColumn(header, policyTypeColumns)

	var records []rules.MappingRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ids := rules.ParseControlList(cell(row, controlCol))
		if len(ids) == 0 {
			continue
		}

		keywords := splitCell(cell(row, keywordCol), keywordSeparatorRe)
		if len(keywords) == 0 {
			return nil, fmt.Errorf("line %d: control %s has no keywords", line, ids[0])
		}
		policyTypes := splitCell(cell(row, policyCol), policySeparatorRe)

		title := cell(row, titleCol)
		for _, id := range ids {
			rec := rules.MappingRecord{
				ControlID:   id,
				Keywords:    keywords,
				PolicyTypes: policyTypes,
			}
			if len(ids) == 1 {
				rec.Title = title
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

// findColumn returns the index of the first header matching a candidate
// exactly, then the first containing one, or -1.
func findColumn(header, candidates []string) int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, c := range candidates {
		for i, h := range lower {
			if h == c {
				return i
			}
		}
	}
	for _, c := range candidates {
		for i, h := range lower {
			if strings.Contains(h, c) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func splitCell(s string, sep *regexp.Regexp) []string {
	var out []string
	for _, part := range sep.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

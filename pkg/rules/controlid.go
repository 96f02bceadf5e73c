package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	singleControlRe = regexp.MustCompile(`(?i)\bA\.\d+(?:\.\d+)?\b`)
	rangeControlRe  = regexp.MustCompile(`(?i)\b(A\.\d+(?:\.\d+)?)\s*[-–—]\s*(A\.\d+(?:\.\d+)?)\b`)
	listSeparatorRe = regexp.MustCompile(`[;/\n\r]+`)
)

// NormalizeControlID normalizes control identifier formatting: spaces are
// removed and the catalog prefix is upper-cased ("a. 8.24" becomes "A.8.24").
func NormalizeControlID(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if len(s) >= 2 && (s[0] == 'a' || s[0] == 'A') && s[1] == '.' {
		s = "A" + s[1:]
	}
	return s
}

// ExpandControlRange expands an inclusive range such as "A.6.1" to "A.6.4".
// Ranges whose prefixes differ or whose bounds are reversed are returned as
// the two endpoints.
func ExpandControlRange(start, end string) []string {
	s := NormalizeControlID(start)
	e := NormalizeControlID(end)

	sp, okS := controlParts(s)
	ep, okE := controlParts(e)
	if !okS || !okE || len(sp) != len(ep) {
		return []string{s, e}
	}
	for i := 0; i < len(sp)-1; i++ {
		if sp[i] != ep[i] {
			return []string{s, e}
		}
	}

	first, last := sp[len(sp)-1], ep[len(ep)-1]
	if last < first {
		return []string{s, e}
	}

	prefix := "A"
	for _, n := range sp[:len(sp)-1] {
		prefix += "." + strconv.Itoa(n)
	}

	out := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, fmt.Sprintf("%s.%d", prefix, i))
	}
	return out
}

// controlParts returns the numeric parts after the "A." prefix.
func controlParts(id string) ([]int, bool) {
	fields := strings.Split(id, ".")
	if len(fields) < 2 || !strings.EqualFold(fields[0], "A") {
		return nil, false
	}
	nums := make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		nums = append(nums, n)
	}
	return nums, true
}

// ParseControlList extracts normalized control ids from free text such as
// "A.5.1, A.5.2; A.6.1 - A.6.4" or "A.8.24 – Use of cryptography". Ranges are
// expanded and duplicates removed, keeping first-seen order.
func ParseControlList(text string) []string {
	text = listSeparatorRe.ReplaceAllString(text, ",")

	var ids []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := rangeControlRe.FindStringSubmatch(part); m != nil {
			ids = append(ids, ExpandControlRange(m[1], m[2])...)
			continue
		}
		for _, single := range singleControlRe.FindAllString(part, -1) {
			ids = append(ids, NormalizeControlID(single))
		}
	}

	return dedupe(ids)
}

// dedupe removes duplicates, keeping first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package engine

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is a lower-cased word of the document together with its stem.
type token struct {
	text string
	stem string
}

// tokenize splits s into lower-case letter/digit runs. Hyphens and
// apostrophes separate tokens, so "multi-factor" yields "multi" and "factor".
func tokenize(s string) []token {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]token, len(fields))
	for i, f := range fields {
		out[i] = token{text: f, stem: stem(f)}
	}
	return out
}

type suffixRule struct {
	suffix string
	after  string // if set, the rune before the suffix must be one of these
	not    string // if set, the rune before the suffix must not be one of these
}

// suffixRules are tried longest first; the first applicable rule wins.
var suffixRules = []suffixRule{
	{suffix: "izations"}, {suffix: "ization"},
	{suffix: "ations"}, {suffix: "ation"},
	{suffix: "ements"}, {suffix: "ement"},
	{suffix: "ments"}, {suffix: "ment"},
	{suffix: "ities"}, {suffix: "ity"},
	{suffix: "ings"}, {suffix: "ing"},
	{suffix: "ions"}, {suffix: "ion"},
	{suffix: "ness"},
	{suffix: "ies"}, {suffix: "ied"},
	{suffix: "ed"},
	{suffix: "es", after: "sxzh"},
	{suffix: "ic"}, {suffix: "al"}, {suffix: "ly"},
	{suffix: "y"}, {suffix: "e"},
	{suffix: "s", not: "siu"},
}

const minStemLen = 3

// maxStemPasses bounds repeated suffix stripping.
const maxStemPasses = 4

// stem reduces a lower-case word to a crude stem by stripping suffixes until
// none applies, never leaving fewer than three letters.
func stem(word string) string {
	for pass := 0; pass < maxStemPasses; pass++ {
		next, ok := stripSuffix(word)
		if !ok {
			break
		}
		word = next
	}
	return word
}

func stripSuffix(word string) (string, bool) {
	for _, r := range suffixRules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		base := word[:len(word)-len(r.suffix)]
		if utf8.RuneCountInString(base) < minStemLen {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(base)
		if r.after != "" && !strings.ContainsRune(r.after, prev) {
			continue
		}
		if r.not != "" && strings.ContainsRune(r.not, prev) {
			continue
		}
		return base, true
	}
	return word, false
}

// tokenMatches reports whether a document token satisfies a keyword token:
// equal stems, or the document word starts with a keyword stem of at least
// four letters.
func tokenMatches(doc, kw token) bool {
	if doc.stem == kw.stem {
		return true
	}
	return utf8.RuneCountInString(kw.stem) >= 4 && strings.HasPrefix(doc.text, kw.stem)
}

// indexSequence returns the positions in doc where the token sequence kw
// starts.
func indexSequence(doc, kw []token) []int {
	if len(kw) == 0 || len(kw) > len(doc) {
		return nil
	}
	var out []int
outer:
	for i := 0; i+len(kw) <= len(doc); i++ {
		for j := range kw {
			if !tokenMatches(doc[i+j], kw[j]) {
				continue outer
			}
		}
		out = append(out, i)
	}
	return out
}

// containsPhrase reports whether phrase occurs in doc.
func containsPhrase(doc []token, phrase string) bool {
	return len(indexSequence(doc, tokenize(phrase))) > 0
}

// isWordRune reports whether r can be part of a word.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isJoiner reports whether r joins two word parts ("don't", "role-based").
func isJoiner(r rune) bool {
	return r == '\'' || r == '’' || r == '-'
}

// words returns the letter/digit runs of s, keeping inner apostrophes and
// hyphens.
func words(s string) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(runes) {
			if isWordRune(runes[j]) {
				j++
				continue
			}
			if isJoiner(runes[j]) && j+1 < len(runes) && isWordRune(runes[j+1]) {
				j += 2
				continue
			}
			break
		}
		out = append(out, string(runes[i:j]))
		i = j
	}
	return out
}

// isTerminator reports whether r ends a sentence.
func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// isCloser reports whether r may trail a sentence terminator.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '*', '_':
		return true
	}
	return false
}

// countSentences counts the sentences of a paragraph. A sentence ends at a
// run of terminators followed by whitespace or the end of the paragraph; a
// trailing fragment with at least one word is a sentence too.
func countSentences(paragraph string) int {
	runes := []rune(paragraph)
	count := 0
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if len(words(string(runes[start:i]))) > 0 {
			count++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) && len(words(string(runes[start:]))) > 0 {
		count++
	}
	return count
}

// syllables estimates the syllable count of a word: groups of vowels, minus
// a silent final "e", at least one.
func syllables(word string) int {
	w := strings.ToLower(word)
	count := 0
	inVowel := false
	letters := 0
	for _, r := range w {
		if !unicode.IsLetter(r) {
			inVowel = false
			continue
		}
		letters++
		v := strings.ContainsRune("aeiouy", r)
		if v && !inVowel {
			count++
		}
		inVowel = v
	}
	if letters == 0 {
		return 1
	}
	if count > 1 && strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

// letterCount returns the number of letters in word.
func letterCount(word string) int {
	n := 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

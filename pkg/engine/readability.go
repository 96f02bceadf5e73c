package engine

import (
	"fmt"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// Flesch Reading Ease coefficients.
const (
	fleschBase          = 206.835
	fleschSentenceCoeff = 1.015
	fleschSyllableCoeff = 84.6
)

// minAssessableWords is the floor on the word count needed for a score.
const minAssessableWords = 2

// ScoreReadability computes readability scores over the prose of the
// document and compares them with the thresholds.
//
// Reading ease is the Flesch formula
//
//	206.835 - 1.015*(words/sentences) - 84.6*(syllables/words)
//
// Average word length is letters per word. Headings and fenced code are not
// prose. A document with too few words or no sentence gets a single
// blocking finding and zero scores; threshold breaches are warnings.
func ScoreReadability(outline *Outline, t rules.ReadabilityThresholds) ([]Finding, Scores) {
	var wordCount, sentences, syllableCount, letters int
	for _, p := range outline.paragraphs {
		ws := words(p)
		if len(ws) == 0 {
			continue
		}
		wordCount += len(ws)
		sentences += countSentences(p)
		for _, w := range ws {
			syllableCount += syllables(w)
			letters += letterCount(w)
		}
	}

	minWords := t.MinWords
	if minWords < minAssessableWords {
		minWords = minAssessableWords
	}
	if wordCount < minWords || sentences == 0 {
		return []Finding{{
			Pass:     PassReadability,
			Severity: rules.SeverityBlocking,
			Code:     CodeTooShortToAssess,
			Message:  fmt.Sprintf("document too short to assess (%d words, at least %d needed)", wordCount, minWords),
		}}, Scores{}
	}

	w := float64(wordCount)
	s := float64(sentences)
	scores := Scores{
		Words:             wordCount,
		Sentences:         sentences,
		Syllables:         syllableCount,
		AvgSentenceLength: round2(w / s),
		AvgWordLength:     round2(float64(letters) / w),
		ReadingEase:       round2(fleschBase - fleschSentenceCoeff*(w/s) - fleschSyllableCoeff*(float64(syllableCount)/w)),
		Assessed:          true,
	}

	var findings []Finding
	if t.MinReadingEase != nil && scores.ReadingEase < *t.MinReadingEase {
		findings = append(findings, Finding{
			Pass:     PassReadability,
			Severity: rules.SeverityWarning,
			Code:     CodeReadingEaseLow,
			Message:  fmt.Sprintf("reading ease %.2f is below the minimum of %s", scores.ReadingEase, formatNumber(*t.MinReadingEase)),
		})
	}
	if t.MaxAvgSentenceLength != nil && scores.AvgSentenceLength > *t.MaxAvgSentenceLength {
		findings = append(findings, Finding{
			Pass:     PassReadability,
			Severity: rules.SeverityWarning,
			Code:     CodeSentencesTooLong,
			Message:  fmt.Sprintf("average sentence length %.2f words exceeds %s", scores.AvgSentenceLength, formatNumber(*t.MaxAvgSentenceLength)),
		})
	}
	if t.MaxAvgWordLength != nil && scores.AvgWordLength > *t.MaxAvgWordLength {
		findings = append(findings, Finding{
			Pass:     PassReadability,
			Severity: rules.SeverityWarning,
			Code:     CodeWordsTooLong,
			Message:  fmt.Sprintf("average word length %.2f letters exceeds %s", scores.AvgWordLength, formatNumber(*t.MaxAvgWordLength)),
		})
	}
	return findings, scores
}

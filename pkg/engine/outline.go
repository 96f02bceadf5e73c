package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// Heading levels for headings that carry no markdown level.
const (
	levelBold  = 7
	levelLabel = 8
)

// maxPlainHeadingWords bounds numbered and bold headings.
const maxPlainHeadingWords = 8

// maxLabelWords bounds "Title:" headings; longer lines ending in a colon
// introduce the text that follows.
const maxLabelWords = 4

var (
	atxRe      = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)
	setextRe   = regexp.MustCompile(`^ {0,3}(=+|-+)[ \t]*$`)
	boldRe     = regexp.MustCompile(`^\s*(?:\*\*|__)([^*_].*?)(?:\*\*|__)\s*:?\s*$`)
	numberedRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)*)[.)]?\s+(\S.*?)\s*$`)
	labelRe    = regexp.MustCompile(`^\s*(\p{Lu}[^:]*?)\s*:\s*$`)
	fenceRe    = regexp.MustCompile("^\\s*(```|~~~)")
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

// Section is a heading of the document together with its body.
type Section struct {
	// Title is the heading text without markup.
	Title string

	// Key is the normalized title used for matching.
	Key string

	// Level is the heading depth.
	Level int

	// Offset is the character offset of the heading line.
	Offset int

	// Body is the trimmed text between the heading and the next heading of
	// any level.
	Body string

	// tokens and wordCount cover the section with its subsections, which
	// run until the next heading of the same or a lower level. wordCount
	// counts prose only.
	tokens    []token
	wordCount int
}

// WordCount returns the prose words of the section and its subsections,
// headings excluded.
func (s Section) WordCount() int {
	return s.wordCount
}

// Length returns the body length in characters.
func (s Section) Length() int {
	return utf8.RuneCountInString(s.Body)
}

// satisfies reports whether the body meets minLength; zero means non-empty.
func (s Section) satisfies(minLength int) bool {
	n := s.Length()
	if minLength <= 0 {
		return n > 0
	}
	return n >= minLength
}

// Outline is the parsed structure of a document. It is built once per
// validation and shared read-only by every pass.
type Outline struct {
	sections   []Section
	paragraphs []string

	// tokens cover the full text, fenced code included.
	tokens    []token
	wordCount int
}

type rawLine struct {
	text  string
	start int
}

type headingLine struct {
	line  int
	span  int
	title string
	level int

	// markdown is set for "#" and setext headings.
	markdown bool
}

// ParseOutline parses text into sections and prose paragraphs. Headings are
// recognized in these forms: markdown "#" headings, setext underlines,
// whole-line bold text, short numbered lines without terminal punctuation
// ("2.1 Scope") and short "Title:" lines. Once a markdown heading has been
// seen, numbered lines are list items. Fenced code holds no headings.
func ParseOutline(text string) *Outline {
	lines := splitLines(text)
	inFence := make([]bool, len(lines))
	fenced := false
	for i, l := range lines {
		if fenceRe.MatchString(l.text) {
			inFence[i] = true
			fenced = !fenced
			continue
		}
		inFence[i] = fenced
	}

	var headings []headingLine
	isHeading := make([]bool, len(lines))
	markdown := false
	for i := 0; i < len(lines); i++ {
		if inFence[i] {
			continue
		}
		h, ok := detectHeading(lines, inFence, isHeading, i, markdown)
		if !ok {
			continue
		}
		markdown = markdown || h.markdown
		headings = append(headings, h)
		for k := 0; k < h.span; k++ {
			isHeading[i+k] = true
		}
		i += h.span - 1
	}

	o := &Outline{tokens: tokenize(text)}

	for k, h := range headings {
		own := len(lines)
		if k+1 < len(headings) {
			own = headings[k+1].line
		}
		end := len(lines)
		for _, next := range headings[k+1:] {
			if next.level <= h.level {
				end = next.line
				break
			}
		}

		var body, scope []string
		wordCount := 0
		for i := h.line + h.span; i < end; i++ {
			if inFence[i] {
				continue
			}
			scope = append(scope, lines[i].text)
			if i < own {
				body = append(body, lines[i].text)
			}
			if !isHeading[i] {
				wordCount += len(words(listItemRe.ReplaceAllString(lines[i].text, "")))
			}
		}

		o.sections = append(o.sections, Section{
			Title:     h.title,
			Key:       rules.NormalizeName(h.title),
			Level:     h.level,
			Offset:    utf8.RuneCountInString(text[:lines[h.line].start]),
			Body:      strings.TrimSpace(strings.Join(body, "\n")),
			tokens:    tokenize(strings.Join(scope, "\n")),
			wordCount: wordCount,
		})
	}

	var para []string
	flush := func() {
		if len(para) > 0 {
			o.paragraphs = append(o.paragraphs, strings.Join(para, " "))
			para = nil
		}
	}
	for i, l := range lines {
		if inFence[i] || isHeading[i] || strings.TrimSpace(l.text) == "" {
			flush()
			continue
		}
		para = append(para, listItemRe.ReplaceAllString(l.text, ""))
	}
	flush()

	for _, p := range o.paragraphs {
		o.wordCount += len(words(p))
	}

	return o
}

// detectHeading recognizes a heading starting at line i. Numbered headings
// are only recognized while no markdown heading has been seen.
func detectHeading(lines []rawLine, inFence, isHeading []bool, i int, markdown bool) (headingLine, bool) {
	text := lines[i].text
	if strings.TrimSpace(text) == "" {
		return headingLine{}, false
	}

	if m := atxRe.FindStringSubmatch(text); m != nil {
		title := cleanTitle(m[2])
		if title == "" {
			return headingLine{}, false
		}
		return headingLine{line: i, span: 1, title: title, level: len(m[1]), markdown: true}, true
	}

	afterBreak := i == 0 || strings.TrimSpace(lines[i-1].text) == "" || isHeading[i-1]

	if i+1 < len(lines) && !inFence[i+1] && afterBreak && !listItemRe.MatchString(text) {
		if m := setextRe.FindStringSubmatch(lines[i+1].text); m != nil {
			level := 2
			if strings.HasPrefix(strings.TrimSpace(m[1]), "=") {
				level = 1
			}
			if title := cleanTitle(text); title != "" {
				return headingLine{line: i, span: 2, title: title, level: level, markdown: true}, true
			}
		}
	}

	if m := boldRe.FindStringSubmatch(text); m != nil {
		title := cleanTitle(m[1])
		if title != "" && wordsIn(title) <= maxPlainHeadingWords*2 {
			return headingLine{line: i, span: 1, title: title, level: levelBold}, true
		}
	}

	if !afterBreak {
		return headingLine{}, false
	}

	if m := numberedRe.FindStringSubmatch(text); m != nil && !markdown {
		title := cleanTitle(m[2])
		if plainHeading(title) && !inNumberedList(lines, inFence, isHeading, i, m[1]) {
			return headingLine{line: i, span: 1, title: title, level: strings.Count(m[1], ".") + 1}, true
		}
	}

	if m := labelRe.FindStringSubmatch(text); m != nil {
		title := cleanTitle(m[1])
		introducesList := i+1 < len(lines) && !inFence[i+1] && listItemRe.MatchString(lines[i+1].text)
		if title != "" && wordsIn(title) <= maxLabelWords && !introducesList {
			return headingLine{line: i, span: 1, title: title, level: levelLabel}, true
		}
	}

	return headingLine{}, false
}

// inNumberedList reports whether the numbered line i, numbered number, is an
// item of a list: the next line is numbered, the next non-blank line carries
// the following number, or the previous non-blank line is the preceding
// item and was not taken as a heading.
func inNumberedList(lines []rawLine, inFence, isHeading []bool, i int, number string) bool {
	if i+1 < len(lines) && !inFence[i+1] && numberedRe.MatchString(lines[i+1].text) {
		return true
	}

	if next, ok := adjacentText(lines, inFence, i, 1); ok {
		if m := numberedRe.FindStringSubmatch(lines[next].text); m != nil && m[1] == stepNumber(number, 1) {
			return true
		}
	}
	if prev, ok := adjacentText(lines, inFence, i, -1); ok && !isHeading[prev] {
		if m := numberedRe.FindStringSubmatch(lines[prev].text); m != nil && m[1] == stepNumber(number, -1) {
			return true
		}
	}
	return false
}

// adjacentText returns the nearest non-blank line from i in direction dir.
func adjacentText(lines []rawLine, inFence []bool, i, dir int) (int, bool) {
	for k := i + dir; k >= 0 && k < len(lines); k += dir {
		if inFence[k] {
			return 0, false
		}
		if strings.TrimSpace(lines[k].text) != "" {
			return k, true
		}
	}
	return 0, false
}

// stepNumber adds delta to the last component of a number such as "2.1".
// It returns "" when the result would be below 1.
func stepNumber(number string, delta int) string {
	parts := strings.Split(number, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || n+delta < 1 {
		return ""
	}
	parts[len(parts)-1] = strconv.Itoa(n + delta)
	return strings.Join(parts, ".")
}

// plainHeading reports whether a numbered line reads like a heading rather
// than a list item: short, capitalized and without terminal punctuation.
func plainHeading(title string) bool {
	if title == "" || wordsIn(title) > maxPlainHeadingWords {
		return false
	}
	first, _ := utf8.DecodeRuneInString(title)
	if !unicode.IsUpper(first) {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(title)
	return !strings.ContainsRune(".!?;,:", last)
}

func wordsIn(s string) int {
	return len(strings.Fields(s))
}

// cleanTitle strips emphasis markers and a trailing colon from heading text.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_` ")
	s = strings.TrimSuffix(s, ":")
	return strings.TrimSpace(s)
}

func splitLines(text string) []rawLine {
	var out []rawLine
	start := 0
	for start <= len(text) {
		end := strings.IndexByte(text[start:], '\n')
		if end < 0 {
			out = append(out, rawLine{text: strings.TrimSuffix(text[start:], "\r"), start: start})
			break
		}
		out = append(out, rawLine{text: strings.TrimSuffix(text[start:start+end], "\r"), start: start})
		start += end + 1
	}
	return out
}

// Sections returns the sections in document order.
func (o *Outline) Sections() []Section {
	return append([]Section(nil), o.sections...)
}

// WordCount returns the number of prose words, headings excluded.
func (o *Outline) WordCount() int {
	return o.wordCount
}

// Find returns the section for any of names. Among matching headings the
// first whose body meets minLength wins; if none does, the first match is
// returned.
func (o *Outline) Find(names []string, minLength int) (Section, bool) {
	keys := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := rules.NormalizeName(n); k != "" {
			keys[k] = struct{}{}
		}
	}

	var first *Section
	for i := range o.sections {
		sec := &o.sections[i]
		if _, ok := keys[sec.Key]; !ok {
			continue
		}
		if sec.satisfies(minLength) {
			return *sec, true
		}
		if first == nil {
			first = sec
		}
	}
	if first != nil {
		return *first, true
	}
	return Section{}, false
}

// Package segment splits plain résumé text into ordered (heading, content)
// sections using a heading lexicon with a fuzzy fallback for headings that are
// spelled, spaced or pluralised differently.
package segment

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/unicode/norm"
)

const (
	// FuzzyThreshold is the similarity a short line must exceed to be taken as a heading.
	FuzzyThreshold = 80.0
	// MaxHeadingTokens is the longest line, in whitespace separated tokens, the fuzzy test accepts.
	MaxHeadingTokens = 5
)

// Section is one labeled part of a document.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Segment splits text into sections in document order. It never fails: a
// document without any lexicon heading comes back as a single Misc section.
func Segment(text string, lex *Lexicon) []Section {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if strings.TrimSpace(text) == "" {
		return nil
	}

	active := lex.active(normalize(text))
	if len(active) == 0 {
		return []Section{{Heading: Misc, Content: strings.TrimSpace(text)}}
	}

	candidates := make([]string, 0, len(active))
	for heading := range active {
		candidates = append(candidates, heading)
	}
	sort.Strings(candidates)

	var (
		sections []Section
		current  = Misc
		content  []string
	)

	flush := func() {
		if len(content) == 0 {
			return
		}
		sections = append(sections, Section{
			Heading: current,
			Content: strings.TrimSpace(strings.Join(content, "\n")),
		})
		content = nil
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			// blank lines space out a section, they never end one
			content = append(content, line)
			continue
		}

		if isHeading(stripped, active, candidates) {
			flush()
			current = canonical(stripped)
			continue
		}

		content = append(content, line)
	}
	flush()

	out := sections[:0]
	for _, section := range sections {
		if section.Content != "" {
			out = append(out, section)
		}
	}

	return out
}

// Render writes sections back to text, one heading line before each content block.
func Render(sections []Section) string {
	var b strings.Builder
	for i, section := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(section.Heading)
		b.WriteString("\n")
		b.WriteString(section.Content)
	}
	return b.String()
}

func isHeading(line string, active map[string]struct{}, candidates []string) bool {
	if _, ok := active[canonical(line)]; ok {
		return true
	}
	return IsFuzzyHeading(line, candidates)
}

// IsFuzzyHeading reports whether line is short enough and close enough to one
// of the headings. Any heading above the threshold is enough.
func IsFuzzyHeading(line string, headings []string) bool {
	if len(strings.Fields(line)) > MaxHeadingTokens {
		return false
	}

	lower := strings.ToLower(normalize(strings.TrimSpace(line)))
	for _, heading := range headings {
		if Ratio(lower, strings.ToLower(heading)) > FuzzyThreshold {
			return true
		}
	}
	return false
}

// Ratio is the normalised indel similarity of a and b on a 0..100 scale.
func Ratio(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(total)
}

func normalize(s string) string {
	return norm.NFKC.String(s)
}

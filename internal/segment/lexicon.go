package segment

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Misc is the heading given to text that precedes the first recognised heading,
// and to whole documents in which no lexicon entry occurs.
const Misc = "MISC"

// defaultHeadings are the canonical résumé section names. Variants that only
// differ by case or spacing are collapsed by NewLexicon.
var defaultHeadings = []string{
	"EDUCATION",
	"EXPERIENCE",
	"SKILLS",
	"PROJECTS",
	"CERTIFICATIONS",
	"ACHIEVEMENTS",
	"INTERESTS",
	"CONTACT",
	"SUMMARY",
	"HOBBIES",
	"LANGUAGES",
	"REFERENCES",
	"HISTORY",
	"MISC",
	"PROFESSIONAL SUMMARY",
	"PERSONAL STATEMENT",
	"QUALIFICATIONS",
	"INTERESTS AND ACTIVITIES",
	"INTEREST",
	"ACTIVITIES",
	"ADDITIONAL INFORMATION",
	"WORK EXPERIENCE",
	"KEY SKILLS",
	"PERSONAL PROFILE",
	"PROFILE",
	"WORK HISTORY",
	"VOLUNTARY EXPERIENCE",
	"POSITIONS OF RESPONSIBILITY",
	"TECHNICAL SKILLS",
	"EDUCATION AND QUALIFICATIONS",
}

var validHeading = regexp.MustCompile(`^[\p{L}\p{N}&/' -]+$`)

// Lexicon is a validated, deduplicated set of canonical upper-case headings.
type Lexicon struct {
	entries []string
	set     map[string]struct{}
	pattern *regexp.Regexp
}

// NewLexicon normalises and validates the provided headings.
func NewLexicon(entries ...string) (*Lexicon, error) {
	lex := &Lexicon{set: make(map[string]struct{}, len(entries))}

	for _, entry := range entries {
		heading := canonical(entry)
		if heading == "" {
			return nil, fmt.Errorf("empty heading in lexicon")
		}
		if !validHeading.MatchString(heading) {
			return nil, fmt.Errorf("invalid heading %q in lexicon", entry)
		}
		if _, ok := lex.set[heading]; ok {
			continue
		}
		lex.set[heading] = struct{}{}
		lex.entries = append(lex.entries, heading)
	}

	if len(lex.entries) == 0 {
		return nil, fmt.Errorf("lexicon must contain at least one heading")
	}

	// Longest first: the regexp engine picks the leftmost alternative, so
	// "WORK EXPERIENCE" has to be tried before "EXPERIENCE".
	sort.SliceStable(lex.entries, func(i, j int) bool {
		if len(lex.entries[i]) != len(lex.entries[j]) {
			return len(lex.entries[i]) > len(lex.entries[j])
		}
		return lex.entries[i] < lex.entries[j]
	})

	// Inner spaces match horizontal whitespace only, so an entry never spans
	// two lines and swallows a shorter heading standing on its own line.
	quoted := make([]string, 0, len(lex.entries))
	for _, heading := range lex.entries {
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(heading), " ", `[ \t]+`))
	}
	lex.pattern = regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)

	return lex, nil
}

// DefaultLexicon returns the built-in lexicon extended with extra headings.
func DefaultLexicon(extra ...string) (*Lexicon, error) {
	all := make([]string, 0, len(defaultHeadings)+len(extra))
	all = append(all, defaultHeadings...)
	all = append(all, extra...)
	return NewLexicon(all...)
}

// Entries returns the headings, longest first.
func (l *Lexicon) Entries() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Lexicon) Len() int { return len(l.entries) }

func (l *Lexicon) Contains(heading string) bool {
	_, ok := l.set[canonical(heading)]
	return ok
}

// active returns the lexicon entries that occur verbatim (ignoring case)
// somewhere in text.
func (l *Lexicon) active(text string) map[string]struct{} {
	found := make(map[string]struct{})
	for _, match := range l.pattern.FindAllString(text, -1) {
		found[canonical(match)] = struct{}{}
	}
	return found
}

func canonical(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(normalize(s)), " "))
}

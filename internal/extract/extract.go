// Package extract turns listing snapshots into text the classifier can read.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const noise = "script, style, noscript, svg, img, button, iframe, template"

var (
	blankRun   = regexp.MustCompile(`\n{3,}`)
	headingTag = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}
	blockTag   = map[string]bool{
		"p": true, "div": true, "section": true, "article": true, "main": true,
		"aside": true, "header": true, "footer": true, "ul": true, "ol": true,
		"table": true, "tr": true, "dl": true, "dt": true, "dd": true,
		"blockquote": true, "pre": true, "hr": true,
	}
)

// Render concatenates the summary and detail snapshots and renders them as
// markdown-like text. Anchors are replaced by their text. An empty detail
// snapshot yields the summary alone.
func Render(summaryHTML, detailHTML string) string {
	parts := make([]string, 0, 2)
	for _, fragment := range []string{summaryHTML, detailHTML} {
		if text := renderHTML(fragment); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Link returns the first anchor href of the snapshot resolved against base,
// or an empty string when there is none.
func Link(summaryHTML, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(summaryHTML))
	if err != nil {
		return ""
	}

	href, ok := doc.Find("a[href]").First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return ref.String()
	}

	return baseURL.ResolveReference(ref).String()
}

func renderHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	doc.Find(noise).Remove()

	r := &renderer{}
	r.walk(doc.Selection)

	return tidy(r.b.String())
}

type renderer struct {
	b strings.Builder
}

func (r *renderer) walk(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		r.node(s)
	})
}

func (r *renderer) node(s *goquery.Selection) {
	name := goquery.NodeName(s)

	if level, ok := headingTag[name]; ok {
		r.b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		r.inline(s)
		r.b.WriteString("\n\n")
		return
	}

	switch {
	case name == "#text":
		r.b.WriteString(collapse(s.Text()))
	case name == "br":
		r.b.WriteString("\n")
	case name == "li":
		r.b.WriteString("\n- ")
		r.walk(s)
	case name == "strong" || name == "b":
		if text := strings.TrimSpace(collapse(s.Text())); text != "" {
			r.b.WriteString(" **" + text + "** ")
		}
	case name == "em" || name == "i":
		if text := strings.TrimSpace(collapse(s.Text())); text != "" {
			r.b.WriteString(" _" + text + "_ ")
		}
	case blockTag[name]:
		r.b.WriteString("\n\n")
		r.walk(s)
		r.b.WriteString("\n\n")
	default:
		// Anchors, spans and unknown elements keep only their content.
		r.walk(s)
	}
}

func (r *renderer) inline(s *goquery.Selection) {
	r.b.WriteString(strings.TrimSpace(collapse(s.Text())))
}

func collapse(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}

	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "-" {
			continue
		}
		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	out = blankRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Package listing describes the items found on the listing site and how its
// search pages are addressed.
package listing

import (
	"fmt"
	"strings"

	"github.com/spigell/jobscout/internal/ai"
)

const DefaultBaseURL = "https://www.linkedin.com/"

// Candidate is an item as seen on the result page, before classification.
// StableID is set when ID comes from the site and survives a reload.
type Candidate struct {
	ID       string
	StableID bool
	Link     string
	Text     string
}

// PersistentID returns the id to remember across sessions, or an empty
// string when the id is only valid for the current page.
func (c *Candidate) PersistentID() string {
	if !c.StableID {
		return ""
	}
	return c.ID
}

// Item is a classified listing. Only matched items are persisted.
type Item struct {
	Role        string `json:"role"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Matched     bool   `json:"matched"`
}

// NewItem combines a classifier decision with the link taken from the page.
func NewItem(decision *ai.Decision, link string) Item {
	return Item{
		Role:        decision.Role,
		Company:     decision.Company,
		Location:    decision.Location,
		Description: decision.Description,
		Link:        link,
		Matched:     decision.Matched,
	}
}

// LoginURL is the sign-in page of the site.
func LoginURL(base string) string {
	return siteRoot(base) + "login"
}

// SearchURL builds the search page address for the given offset. Only spaces
// are escaped; an offset of zero is expressed by omitting the parameter.
func SearchURL(base, discipline, location string, offset int) string {
	u := fmt.Sprintf("%sjobs/search/?keywords=%s&location=%s", siteRoot(base), escapeSpaces(discipline), escapeSpaces(location))
	if offset > 0 {
		u += fmt.Sprintf("&start=%d", offset)
	}

	return u
}

func siteRoot(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func escapeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}

package listing

import (
	"testing"

	"github.com/spigell/jobscout/internal/ai"
)

func TestSearchURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   string
		offset int
		expect string
	}{
		{
			name:   "first page has no offset",
			base:   "https://www.linkedin.com/",
			offset: 0,
			expect: "https://www.linkedin.com/jobs/search/?keywords=Computer%20Science&location=Surrey,%20England",
		},
		{
			name:   "next page carries start",
			base:   "https://www.linkedin.com/",
			offset: 25,
			expect: "https://www.linkedin.com/jobs/search/?keywords=Computer%20Science&location=Surrey,%20England&start=25",
		},
		{
			name:   "base without trailing slash",
			base:   "http://127.0.0.1:8080",
			offset: 50,
			expect: "http://127.0.0.1:8080/jobs/search/?keywords=Computer%20Science&location=Surrey,%20England&start=50",
		},
		{
			name:   "default base",
			base:   "",
			offset: 0,
			expect: "https://www.linkedin.com/jobs/search/?keywords=Computer%20Science&location=Surrey,%20England",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SearchURL(tt.base, "Computer Science", "Surrey, England", tt.offset); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestLoginURL(t *testing.T) {
	if got := LoginURL(""); got != "https://www.linkedin.com/login" {
		t.Fatalf("unexpected default login url: %q", got)
	}
	if got := LoginURL("http://127.0.0.1:9000"); got != "http://127.0.0.1:9000/login" {
		t.Fatalf("unexpected login url: %q", got)
	}
}

func TestNewItem(t *testing.T) {
	item := NewItem(&ai.Decision{
		Matched:     true,
		Role:        "Software Engineer",
		Company:     "Acme",
		Location:    "London",
		Description: "entry-level Go role",
	}, "https://example.com/jobs/1")

	if !item.Matched || item.Company != "Acme" || item.Link != "https://example.com/jobs/1" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestCandidatePersistentID(t *testing.T) {
	stable := &Candidate{ID: "3141", StableID: true}
	if got := stable.PersistentID(); got != "3141" {
		t.Fatalf("expected site id, got %q", got)
	}

	scoped := &Candidate{ID: "node-42"}
	if got := scoped.PersistentID(); got != "" {
		t.Fatalf("page scoped id must not be persisted, got %q", got)
	}
}

package filtering

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/listing"
)

type excludedCompaniesFilter struct {
	companies []string
	patterns  []*regexp.Regexp
}

// NewExcludedCompanies creates a filter that drops candidates mentioning one
// of the configured companies as a whole word.
func NewExcludedCompanies() Filter {
	return &excludedCompaniesFilter{}
}

func (f *excludedCompaniesFilter) Name() string { return "excluded_companies" }

func (f *excludedCompaniesFilter) Disable(string) {}

func (f *excludedCompaniesFilter) IsEnabled() bool { return true }

func (f *excludedCompaniesFilter) Validate(cfg *Config) error {
	f.companies = nil
	f.patterns = nil
	for _, name := range cfg.ExcludedCompanies {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(name) + `($|\W)`)
		if err != nil {
			return fmt.Errorf("company %q: %w", name, err)
		}
		f.companies = append(f.companies, name)
		f.patterns = append(f.patterns, re)
	}
	return nil
}

func (f *excludedCompaniesFilter) Apply(_ context.Context, deps Deps, c *listing.Candidate) bool {
	for i, re := range f.patterns {
		if re.MatchString(c.Text) {
			deps.Logger.Debug("excluding item by company",
				zap.String("company", f.companies[i]),
				zap.String("item_id", c.ID),
			)
			return false
		}
	}
	return true
}

func (f *excludedCompaniesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

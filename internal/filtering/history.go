package filtering

import (
	"context"
	"strconv"

	"github.com/spigell/jobscout/internal/listing"
)

type persistedHistoryFilter struct {
	ignore bool
	reason string
}

// NewPersistedHistory creates a filter that drops candidates whose link is
// already in the output file.
func NewPersistedHistory() Filter {
	return &persistedHistoryFilter{}
}

func (f *persistedHistoryFilter) Name() string { return "persisted_history" }

func (f *persistedHistoryFilter) Disable(reason string) {
	f.ignore = true
	f.reason = reason
}

func (f *persistedHistoryFilter) IsEnabled() bool { return !f.ignore }

func (f *persistedHistoryFilter) Validate(cfg *Config) error {
	if !cfg.SkipPersisted {
		f.Disable("skip-persisted is off")
	}
	return nil
}

func (f *persistedHistoryFilter) Apply(_ context.Context, deps Deps, c *listing.Candidate) bool {
	if f.ignore || deps.History == nil || c.Link == "" {
		return true
	}
	return !deps.History.HasLink(c.Link)
}

func (f *persistedHistoryFilter) Status() Status {
	details := map[string]string{
		"skip_persisted": strconv.FormatBool(!f.ignore),
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

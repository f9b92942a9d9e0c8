package filtering

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/listing"
)

type excludeFileFilter struct {
	path     string
	disabled bool
	reason   string
}

// NewExcludeFile creates a filter that drops candidates listed in the exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *excludeFileFilter) IsEnabled() bool { return !f.disabled }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = cfg.ExcludeFile
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, c *listing.Candidate) bool {
	if deps.Exclusions == nil {
		return true
	}

	if deps.Exclusions.Contains(c.PersistentID(), c.Link) {
		deps.Logger.Debug("excluding item based on exclude file",
			zap.String("path", f.path),
			zap.String("item_id", c.ID),
		)
		return false
	}
	return true
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	details["disabled"] = strconv.FormatBool(f.disabled)
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

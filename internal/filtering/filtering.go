// Package filtering screens listing candidates before they are sent to the
// classifier and remembers the ones the classifier turned down.
package filtering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/ai"
	"github.com/spigell/jobscout/internal/listing"
)

// Filter represents a single filtering step applied to each candidate.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	// Apply reports whether the candidate should be kept.
	Apply(ctx context.Context, deps Deps, c *listing.Candidate) bool
}

// HistorySource knows which links were already persisted.
type HistorySource interface {
	HasLink(link string) bool
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger     *zap.Logger
	History    HistorySource
	Exclusions *Exclusions
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	ExcludedCompanies []string
	ExcludeFile       string
	SkipPersisted     bool
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Chain runs enabled filters in order and records rejected candidates in the
// exclusions store.
type Chain struct {
	cfg     *Config
	deps    Deps
	steps   []Filter
	dropped map[string]int
}

// NewChain validates every enabled filter.
func NewChain(cfg *Config, deps Deps, steps ...Filter) (*Chain, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			deps.Logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	return &Chain{
		cfg:     cfg,
		deps:    deps,
		steps:   steps,
		dropped: make(map[string]int),
	}, nil
}

// Allow returns false and the name of the first filter that drops c.
func (ch *Chain) Allow(ctx context.Context, c *listing.Candidate) (bool, string) {
	for _, step := range ch.steps {
		if !step.IsEnabled() {
			continue
		}
		if !step.Apply(ctx, ch.deps, c) {
			ch.dropped[step.Name()]++
			return false, step.Name()
		}
	}
	return true, ""
}

// Rejected stores a candidate the classifier turned down so later sessions
// skip it. Without an exclude file it does nothing.
func (ch *Chain) Rejected(_ context.Context, c *listing.Candidate, d *ai.Decision) error {
	if ch.deps.Exclusions == nil || ch.cfg.ExcludeFile == "" {
		return nil
	}

	entry := &Exclusion{
		ID:         c.PersistentID(),
		URL:        c.Link,
		ExcludedAt: time.Now().UTC(),
	}
	if entry.ID == "" && entry.URL == "" {
		return nil
	}
	if d != nil {
		entry.Company = d.Company
		entry.Reason = d.Reason
	}

	if !ch.deps.Exclusions.Add(entry) {
		return nil
	}
	return ch.deps.Exclusions.ToFile(ch.cfg.ExcludeFile)
}

// Dropped returns how many candidates each filter removed.
func (ch *Chain) Dropped() map[string]int {
	out := make(map[string]int, len(ch.dropped))
	for name, n := range ch.dropped {
		out[name] = n
	}
	return out
}

func (ch *Chain) Describe() []Status {
	return Describe(ch.steps)
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// Defaults returns the filters used by the run command, in order.
func Defaults() []Filter {
	return []Filter{
		NewPersistedHistory(),
		NewExcludeFile(),
		NewExcludedCompanies(),
	}
}

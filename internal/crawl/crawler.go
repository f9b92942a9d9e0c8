// Package crawl walks the paginated, infinitely scrolling search results of
// the listing site, classifies every item against the candidate profile and
// persists the matches.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/ai"
	"github.com/spigell/jobscout/internal/browser"
	"github.com/spigell/jobscout/internal/extract"
	"github.com/spigell/jobscout/internal/listing"
	"github.com/spigell/jobscout/internal/logger"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/sink"
	"github.com/spigell/jobscout/internal/utils"
)

// Browser is the remote automation surface the crawler drives.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	SendKeys(ctx context.Context, selector, text string) error
	ClickSelector(ctx context.Context, selector string) error
	Elements(ctx context.Context, selector, idAttr string) ([]browser.Element, error)
	ScrollIntoView(ctx context.Context, el browser.Element) error
	Click(ctx context.Context, el browser.Element) error
	OuterHTML(ctx context.Context, el browser.Element) (string, error)
	WaitOuterHTML(ctx context.Context, selector string, timeout time.Duration) (string, error)
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int, error)
	PageSource(ctx context.Context) (string, error)
	Quit() error
}

type Sink interface {
	Append(item listing.Item) (sink.Record, error)
}

// Gate screens candidates before they reach the classifier and is told about
// the ones the classifier rejected.
type Gate interface {
	Allow(ctx context.Context, c *listing.Candidate) (bool, string)
	Rejected(ctx context.Context, c *listing.Candidate, d *ai.Decision) error
}

// Selectors locate the landmarks of the site.
type Selectors struct {
	Username      string
	Password      string
	Submit        string
	LoginLandmark string
	Results       string
	Item          string
	ItemIDAttr    string
	Detail        string
	NoResults     string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Username:      "#username",
		Password:      "#password",
		Submit:        "button[type='submit']",
		LoginLandmark: ".artdeco-card",
		Results:       "[class*='jobs-search-results-list']",
		Item:          "li[data-occludable-job-id]",
		ItemIDAttr:    "data-occludable-job-id",
		Detail:        ".jobs-description",
		NoResults:     "No matching jobs found.",
	}
}

type Config struct {
	BaseURL   string
	Username  string
	Password  string
	Selectors Selectors

	Step int
	// MaxPages and MaxScrollPasses bound the session; zero means unbounded.
	MaxPages        int
	MaxScrollPasses int

	LoginTimeout  time.Duration
	SearchTimeout time.Duration
	DetailTimeout time.Duration
	// ActionTimeout bounds each browser call that has no timeout of its
	// own. Zero leaves the calls bounded by ctx only.
	ActionTimeout time.Duration

	ScrollSettle time.Duration
	ClickSettle  time.Duration
	PageSettle   time.Duration
}

// DefaultConfig mirrors the pacing the site tolerates.
func DefaultConfig() Config {
	return Config{
		BaseURL:       listing.DefaultBaseURL,
		Selectors:     DefaultSelectors(),
		Step:          DefaultStep,
		LoginTimeout:  10 * time.Second,
		SearchTimeout: 10 * time.Second,
		DetailTimeout: 10 * time.Second,
		ActionTimeout: 10 * time.Second,
		ScrollSettle:  500 * time.Millisecond,
		ClickSettle:   time.Second,
		PageSettle:    2 * time.Second,
	}
}

type Deps struct {
	Browser    Browser
	Classifier ai.Classifier
	Sink       Sink
	Gate       Gate
	Profile    *profile.Profile
	Logger     *zap.Logger
}

// Stats summarises one session.
type Stats struct {
	Pages      int
	Seen       int
	Classified int
	Matched    int
	Filtered   int
	Failed     int
}

// detailPoll is how often the detail pane is re-read while it still shows
// the previous item.
const detailPoll = 250 * time.Millisecond

type Crawler struct {
	cfg    Config
	deps   Deps
	state  *TraversalState
	// lastDetail is the pane HTML of the previously opened item.
	lastDetail string
	stats  Stats
	logger *zap.Logger
}

func New(cfg Config, deps Deps) (*Crawler, error) {
	if deps.Browser == nil {
		return nil, errors.New("browser is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if deps.Profile == nil {
		return nil, errors.New("candidate profile is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}

	return &Crawler{
		cfg:    cfg,
		deps:   deps,
		state:  NewTraversalState(cfg.Step),
		logger: deps.Logger,
	}, nil
}

// Run drives the session until the site runs out of results. The browser is
// released on every return path.
func (c *Crawler) Run(ctx context.Context) (stats *Stats, err error) {
	defer func() {
		if qerr := c.deps.Browser.Quit(); qerr != nil {
			c.logger.Warn("closing browser", zap.Error(qerr))
		}
		stats = &c.stats
	}()

	if err := c.login(ctx); err != nil {
		return nil, err
	}

	for {
		if c.cfg.MaxPages > 0 && c.stats.Pages >= c.cfg.MaxPages {
			c.logger.Info("page limit reached", zap.Int("pages", c.stats.Pages))
			return nil, nil
		}

		if err := c.searchPage(ctx); err != nil {
			return nil, err
		}

		found, err := c.scrollAndExtract(ctx)
		if err != nil {
			return nil, err
		}
		c.stats.Pages++

		if c.lastPage(ctx, found) {
			c.logger.Info("no more results", zap.Int("offset", c.state.Offset()))
			return nil, nil
		}

		c.state.Advance()
	}
}

func (c *Crawler) login(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Username) == "" {
		c.logger.Info("no site username configured, skipping login")
		return nil
	}

	b := c.deps.Browser
	sel := c.cfg.Selectors
	steps := []func() error{
		c.act(ctx, func(ctx context.Context) error { return b.Navigate(ctx, listing.LoginURL(c.cfg.BaseURL)) }),
		func() error { return b.WaitVisible(ctx, sel.Username, c.cfg.LoginTimeout) },
		c.act(ctx, func(ctx context.Context) error { return b.SendKeys(ctx, sel.Username, c.cfg.Username) }),
		c.act(ctx, func(ctx context.Context) error { return b.SendKeys(ctx, sel.Password, c.cfg.Password) }),
		c.act(ctx, func(ctx context.Context) error { return b.ClickSelector(ctx, sel.Submit) }),
		func() error { return b.WaitVisible(ctx, sel.LoginLandmark, c.cfg.LoginTimeout) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("%w: %w", ErrLogin, err)
		}
	}

	c.logger.Info("logged in")
	return nil
}

func (c *Crawler) searchPage(ctx context.Context) error {
	url := listing.SearchURL(c.cfg.BaseURL, c.deps.Profile.Discipline(), c.deps.Profile.Location(), c.state.Offset())

	navigate := c.act(ctx, func(ctx context.Context) error { return c.deps.Browser.Navigate(ctx, url) })
	if err := navigate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSearch, err)
	}
	if err := c.deps.Browser.WaitVisible(ctx, c.cfg.Selectors.Results, c.cfg.SearchTimeout); err != nil {
		return fmt.Errorf("%w: offset %d: %w", ErrSearch, c.state.Offset(), err)
	}

	height, err := c.scrollHeight(ctx)
	if err != nil {
		c.logger.Debug("reading initial scroll height", zap.Error(err))
	}
	c.state.ResetPage(height)
	c.lastDetail = ""

	c.logger.Info("search page opened", zap.Int("offset", c.state.Offset()), zap.String("url", url))
	return nil
}

// scrollAndExtract processes every item rendered on the current page,
// scrolling until the page height stops growing. It reports whether the page
// had any items at all. Only context cancellation is returned as an error.
func (c *Crawler) scrollAndExtract(ctx context.Context) (bool, error) {
	found := false

	for pass := 1; ; pass++ {
		var elements []browser.Element
		err := c.act(ctx, func(ctx context.Context) (err error) {
			elements, err = c.deps.Browser.Elements(ctx, c.cfg.Selectors.Item, c.cfg.Selectors.ItemIDAttr)
			return err
		})()
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			c.logger.Warn("listing items", zap.Int("pass", pass), zap.Error(err))
		}
		if len(elements) > 0 {
			found = true
		}

		for _, el := range elements {
			if !c.state.MarkSeen(el.ID) {
				continue
			}
			c.stats.Seen++

			if err := c.processItem(ctx, el); err != nil {
				if ctx.Err() != nil {
					return found, ctx.Err()
				}
				c.stats.Failed++
				c.logger.Warn("item skipped", append(logger.ItemFields(el.ID, ""), zap.Error(err))...)
			}
		}

		if c.cfg.MaxScrollPasses > 0 && pass >= c.cfg.MaxScrollPasses {
			return found, nil
		}

		if err := c.act(ctx, c.deps.Browser.ScrollToBottom)(); err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			c.logger.Warn("scrolling to bottom", zap.Error(err))
			return found, nil
		}
		if err := utils.WaitFor(ctx, c.cfg.PageSettle); err != nil {
			return found, err
		}

		height, err := c.scrollHeight(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			c.logger.Warn("reading scroll height", zap.Error(err))
			return found, nil
		}
		if !c.state.ObserveHeight(height) {
			c.logger.Debug("scroll height stable", zap.Int("height", height), zap.Int("items", c.state.SeenCount()))
			return found, nil
		}
	}
}

func (c *Crawler) processItem(ctx context.Context, el browser.Element) error {
	b := c.deps.Browser

	if err := c.act(ctx, func(ctx context.Context) error { return b.ScrollIntoView(ctx, el) })(); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	if err := utils.WaitFor(ctx, c.cfg.ScrollSettle); err != nil {
		return err
	}

	var summary string
	err := c.act(ctx, func(ctx context.Context) (err error) {
		summary, err = b.OuterHTML(ctx, el)
		return err
	})()
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}

	candidate := &listing.Candidate{
		ID:       el.ID,
		StableID: el.Stable,
		Link:     extract.Link(summary, c.cfg.BaseURL),
		Text:     extract.Render(summary, ""),
	}
	log := c.logger.With(logger.ItemFields(candidate.ID, candidate.Link)...)

	if c.deps.Gate != nil {
		if ok, by := c.deps.Gate.Allow(ctx, candidate); !ok {
			c.stats.Filtered++
			log.Debug("item filtered", zap.String("filter", by))
			return nil
		}
	}

	if err := c.act(ctx, func(ctx context.Context) error { return b.Click(ctx, el) })(); err != nil {
		return fmt.Errorf("open item: %w", err)
	}
	if err := utils.WaitFor(ctx, c.cfg.ClickSettle); err != nil {
		return err
	}

	detail, err := c.waitDetail(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("detail pane missing, using summary only", zap.Error(err))
		detail = ""
	}
	candidate.Text = extract.Render(summary, detail)

	decision, err := c.deps.Classifier.Classify(ctx, c.deps.Profile, candidate.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.stats.Failed++
		log.Warn("classification failed, treating as no match", zap.Error(err))
		return nil
	}
	c.stats.Classified++

	if !decision.Matched {
		log.Debug("no match", zap.String("reason", decision.Reason))
		if c.deps.Gate != nil {
			if err := c.deps.Gate.Rejected(ctx, candidate, decision); err != nil {
				log.Warn("recording rejected item", zap.Error(err))
			}
		}
		return nil
	}

	record, err := c.deps.Sink.Append(listing.NewItem(decision, candidate.Link))
	if err != nil {
		return fmt.Errorf("persist match: %w", err)
	}
	c.stats.Matched++

	log.Info("match found",
		zap.Int("sequence", record.Sequence),
		zap.String("role", decision.Role),
		zap.String("company", decision.Company),
	)
	return nil
}

// lastPage reports whether the session should stop after the current page.
func (c *Crawler) lastPage(ctx context.Context, found bool) bool {
	if !found {
		return true
	}

	var src string
	err := c.act(ctx, func(ctx context.Context) (err error) {
		src, err = c.deps.Browser.PageSource(ctx)
		return err
	})()
	if err != nil {
		c.logger.Warn("reading page source", zap.Error(err))
		return false
	}

	return c.cfg.Selectors.NoResults != "" && strings.Contains(src, c.cfg.Selectors.NoResults)
}

// waitDetail returns the detail pane once it differs from the pane of the
// previous item. A pane that is still unchanged when DetailTimeout runs out
// is reported as errStaleDetail.
func (c *Crawler) waitDetail(ctx context.Context) (string, error) {
	deadline := time.Now().Add(c.cfg.DetailTimeout)
	for {
		html, err := c.deps.Browser.WaitOuterHTML(ctx, c.cfg.Selectors.Detail, c.cfg.DetailTimeout)
		if err != nil {
			return "", err
		}
		if html != c.lastDetail {
			c.lastDetail = html
			return html, nil
		}
		if !time.Now().Before(deadline) {
			return "", errStaleDetail
		}
		if err := utils.WaitFor(ctx, detailPoll); err != nil {
			return "", err
		}
	}
}

// act binds fn to ctx, limited by the action timeout.
func (c *Crawler) act(ctx context.Context, fn func(context.Context) error) func() error {
	return func() error {
		if c.cfg.ActionTimeout <= 0 {
			return fn(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
		defer cancel()
		return fn(actx)
	}
}

func (c *Crawler) scrollHeight(ctx context.Context) (height int, err error) {
	err = c.act(ctx, func(ctx context.Context) (err error) {
		height, err = c.deps.Browser.ScrollHeight(ctx)
		return err
	})()
	return height, err
}

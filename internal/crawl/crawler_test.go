package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobscout/internal/ai"
	"github.com/spigell/jobscout/internal/browser"
	"github.com/spigell/jobscout/internal/listing"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/sink"
)

// fakePage scripts one search page. passes[i] lists the item ids rendered
// after i scrolls to the bottom; heights[i] is the scroll height after i
// scrolls.
type fakePage struct {
	passes    [][]string
	heights   []int
	noResults bool
}

type fakeBrowser struct {
	pages   map[int]*fakePage
	details map[string]string

	failLogin     bool
	noLoginForm   bool
	failSearch    bool
	brokenItems   map[string]bool
	hangingItems  map[string]bool
	stalePanes    map[string]bool
	onScrollIntoV func(id string)

	current   *fakePage
	scrolls   int
	clicked   string
	navigated []string
	lastPane  string
	quits     int
}

func newFakeBrowser(pages map[int]*fakePage) *fakeBrowser {
	return &fakeBrowser{
		pages:       pages,
		details:     map[string]string{},
		brokenItems:  map[string]bool{},
		hangingItems: map[string]bool{},
		stalePanes:   map[string]bool{},
	}
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	if !strings.Contains(url, "jobs/search") {
		return nil
	}

	offset := 0
	if i := strings.Index(url, "&start="); i != -1 {
		offset, _ = strconv.Atoi(url[i+len("&start="):])
	}
	page, ok := f.pages[offset]
	if !ok {
		page = &fakePage{heights: []int{100}}
	}
	f.current = page
	f.scrolls = 0
	return nil
}

func (f *fakeBrowser) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	sel := DefaultSelectors()
	switch selector {
	case sel.Username:
		if f.noLoginForm {
			return context.DeadlineExceeded
		}
	case sel.LoginLandmark:
		if f.failLogin {
			return context.DeadlineExceeded
		}
	case sel.Results:
		if f.failSearch {
			return context.DeadlineExceeded
		}
	}
	return nil
}

func (f *fakeBrowser) SendKeys(context.Context, string, string) error { return nil }

func (f *fakeBrowser) ClickSelector(context.Context, string) error { return nil }

func (f *fakeBrowser) Elements(_ context.Context, _, _ string) ([]browser.Element, error) {
	if f.current == nil || len(f.current.passes) == 0 {
		return nil, nil
	}
	idx := f.scrolls
	if idx >= len(f.current.passes) {
		idx = len(f.current.passes) - 1
	}

	elements := make([]browser.Element, 0, len(f.current.passes[idx]))
	for _, id := range f.current.passes[idx] {
		elements = append(elements, browser.Element{ID: id, Stable: true})
	}
	return elements, nil
}

func (f *fakeBrowser) ScrollIntoView(ctx context.Context, el browser.Element) error {
	if f.onScrollIntoV != nil {
		f.onScrollIntoV(el.ID)
	}
	if f.hangingItems[el.ID] {
		// the node left the page; the lookup is retried until ctx ends
		<-ctx.Done()
		return ctx.Err()
	}
	if f.brokenItems[el.ID] {
		return errors.New("stale element")
	}
	return nil
}

func (f *fakeBrowser) Click(_ context.Context, el browser.Element) error {
	f.clicked = el.ID
	return nil
}

func (f *fakeBrowser) OuterHTML(_ context.Context, el browser.Element) (string, error) {
	return fmt.Sprintf(`<li data-occludable-job-id=%q><a href="/jobs/view/%s/">Role %s</a><div>Company %s</div></li>`, el.ID, el.ID, el.ID, el.ID), nil
}

func (f *fakeBrowser) WaitOuterHTML(_ context.Context, _ string, _ time.Duration) (string, error) {
	if f.stalePanes[f.clicked] && f.lastPane != "" {
		return f.lastPane, nil
	}
	detail, ok := f.details[f.clicked]
	if !ok {
		return "", context.DeadlineExceeded
	}
	f.lastPane = `<div class="jobs-description">` + detail + `</div>`
	return f.lastPane, nil
}

func (f *fakeBrowser) ScrollToBottom(context.Context) error {
	f.scrolls++
	return nil
}

func (f *fakeBrowser) ScrollHeight(context.Context) (int, error) {
	if f.current == nil || len(f.current.heights) == 0 {
		return 0, nil
	}
	idx := f.scrolls
	if idx >= len(f.current.heights) {
		idx = len(f.current.heights) - 1
	}
	return f.current.heights[idx], nil
}

func (f *fakeBrowser) PageSource(context.Context) (string, error) {
	if f.current != nil && f.current.noResults {
		return "<html><body>No matching jobs found.</body></html>", nil
	}
	return "<html><body>results</body></html>", nil
}

func (f *fakeBrowser) Quit() error {
	f.quits++
	return nil
}

func (f *fakeBrowser) searchOffsets() []int {
	var offsets []int
	for _, u := range f.navigated {
		if !strings.Contains(u, "jobs/search") {
			continue
		}
		offset := 0
		if i := strings.Index(u, "&start="); i != -1 {
			offset, _ = strconv.Atoi(u[i+len("&start="):])
		}
		offsets = append(offsets, offset)
	}
	return offsets
}

type fakeClassifier struct {
	calls  map[string]int
	texts  map[string]string
	decide func(id, text string) (*ai.Decision, error)
}

func newFakeClassifier(decide func(id, text string) (*ai.Decision, error)) *fakeClassifier {
	return &fakeClassifier{calls: map[string]int{}, texts: map[string]string{}, decide: decide}
}

func (f *fakeClassifier) Classify(_ context.Context, _ *profile.Profile, text string) (*ai.Decision, error) {
	id := ""
	if i := strings.Index(text, "Role "); i != -1 {
		id = strings.Fields(text[i+len("Role "):])[0]
	}
	f.calls[id]++
	f.texts[id] = text
	if f.decide == nil {
		return &ai.Decision{Matched: false}, nil
	}
	return f.decide(id, text)
}

func (f *fakeClassifier) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeSink struct {
	items []listing.Item
	err   error
}

func (f *fakeSink) Append(item listing.Item) (sink.Record, error) {
	if f.err != nil {
		return sink.Record{}, f.err
	}
	f.items = append(f.items, item)
	return sink.Record{Sequence: len(f.items), Role: item.Role, Link: item.Link}, nil
}

type fakeGate struct {
	blocked  map[string]bool
	rejected []string
}

func (g *fakeGate) Allow(_ context.Context, c *listing.Candidate) (bool, string) {
	if g.blocked[c.ID] {
		return false, "exclude_file"
	}
	return true, ""
}

func (g *fakeGate) Rejected(_ context.Context, c *listing.Candidate, _ *ai.Decision) error {
	g.rejected = append(g.rejected, c.ID)
	return nil
}

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.New(profile.Fields{Discipline: "Computer Science", Location: "Surrey, England"})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Username = "user@example.com"
	cfg.Password = "secret"
	cfg.LoginTimeout = 0
	cfg.SearchTimeout = 0
	cfg.DetailTimeout = 0
	cfg.ScrollSettle = 0
	cfg.ClickSettle = 0
	cfg.PageSettle = 0
	return cfg
}

func matchIDs(ids ...string) func(string, string) (*ai.Decision, error) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(id, _ string) (*ai.Decision, error) {
		return &ai.Decision{Matched: set[id], Role: "Role " + id, Company: "Company " + id}, nil
	}
}

func newTestCrawler(t *testing.T, cfg Config, b *fakeBrowser, c *fakeClassifier, s *fakeSink, g Gate) *Crawler {
	t.Helper()
	crawler, err := New(cfg, Deps{
		Browser:    b,
		Classifier: c,
		Sink:       s,
		Gate:       g,
		Profile:    testProfile(t),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}
	return crawler
}

func TestRunWalksPagesUntilEmptyPage(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {
			passes:  [][]string{{"1", "2"}, {"1", "2", "3"}},
			heights: []int{100, 200, 200},
		},
		25: {
			passes:  [][]string{{"4"}},
			heights: []int{100, 100},
		},
	})
	b.details["1"] = "<p>Go developer</p>"
	b.details["3"] = "<p>Python developer</p>"
	b.details["4"] = "<p>Data analyst</p>"

	classifier := newFakeClassifier(matchIDs("1", "4"))
	out := &fakeSink{}

	stats, err := newTestCrawler(t, testConfig(), b, classifier, out, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := b.searchOffsets(); fmt.Sprint(got) != "[0 25 50]" {
		t.Fatalf("unexpected offsets: %v", got)
	}
	if !strings.HasSuffix(b.navigated[0], "/login") {
		t.Fatalf("expected login first, got %q", b.navigated[0])
	}
	if !strings.Contains(b.navigated[1], "keywords=Computer%20Science&location=Surrey,%20England") {
		t.Fatalf("unexpected search url %q", b.navigated[1])
	}

	for _, id := range []string{"1", "2", "3", "4"} {
		if classifier.calls[id] != 1 {
			t.Fatalf("item %s classified %d times", id, classifier.calls[id])
		}
	}

	if len(out.items) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(out.items))
	}
	if out.items[0].Link != "https://www.linkedin.com/jobs/view/1/" || !out.items[0].Matched {
		t.Fatalf("unexpected first match: %+v", out.items[0])
	}

	if stats.Pages != 3 || stats.Seen != 4 || stats.Classified != 4 || stats.Matched != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if b.quits != 1 {
		t.Fatalf("expected browser to be released once, got %d", b.quits)
	}
}

func TestRunStopsOnNoResultsMarker(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0:  {passes: [][]string{{"1"}}, heights: []int{100}},
		25: {passes: [][]string{{"2"}}, heights: []int{100}, noResults: true},
		50: {passes: [][]string{{"3"}}, heights: []int{100}},
	})
	classifier := newFakeClassifier(nil)

	stats, err := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := b.searchOffsets(); fmt.Sprint(got) != "[0 25]" {
		t.Fatalf("unexpected offsets: %v", got)
	}
	if stats.Pages != 2 || classifier.calls["3"] != 0 {
		t.Fatalf("crawl went past the no-results page: %+v", stats)
	}
}

func TestRunClassifiesRepeatedItemsOnce(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {
			passes:  [][]string{{"1", "2"}, {"2", "1", "3"}, {"3", "2", "1", "4"}},
			heights: []int{100, 200, 300, 300},
		},
	})
	classifier := newFakeClassifier(nil)

	if _, err := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if classifier.total() != 4 {
		t.Fatalf("expected 4 classifications, got %d (%v)", classifier.total(), classifier.calls)
	}
}

func TestRunLoginFailureIsFatal(t *testing.T) {
	b := newFakeBrowser(nil)
	b.failLogin = true

	stats, err := newTestCrawler(t, testConfig(), b, newFakeClassifier(nil), &fakeSink{}, nil).Run(context.Background())
	if !errors.Is(err, ErrLogin) {
		t.Fatalf("expected ErrLogin, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	if stats == nil || stats.Pages != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(b.searchOffsets()) != 0 {
		t.Fatalf("search must not start after failed login")
	}
	if b.quits != 1 {
		t.Fatalf("browser must be released after login failure")
	}
}

func TestRunMissingLoginFormIsFatal(t *testing.T) {
	b := newFakeBrowser(nil)
	b.noLoginForm = true

	_, err := newTestCrawler(t, testConfig(), b, newFakeClassifier(nil), &fakeSink{}, nil).Run(context.Background())
	if !errors.Is(err, ErrLogin) {
		t.Fatalf("expected ErrLogin, got %v", err)
	}
	if b.quits != 1 {
		t.Fatalf("expected browser to be released once, got %d", b.quits)
	}
	if len(b.searchOffsets()) != 0 {
		t.Fatalf("search must not start after failed login")
	}
}

func TestRunSkipsLoginWithoutUsername(t *testing.T) {
	b := newFakeBrowser(nil)
	b.failLogin = true
	cfg := testConfig()
	cfg.Username = ""

	if _, err := newTestCrawler(t, cfg, b, newFakeClassifier(nil), &fakeSink{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.HasSuffix(b.navigated[0], "/login") {
		t.Fatalf("login page must not be opened")
	}
}

func TestRunSearchFailureIsFatal(t *testing.T) {
	b := newFakeBrowser(nil)
	b.failSearch = true

	_, err := newTestCrawler(t, testConfig(), b, newFakeClassifier(nil), &fakeSink{}, nil).Run(context.Background())
	if !errors.Is(err, ErrSearch) {
		t.Fatalf("expected ErrSearch, got %v", err)
	}
	if b.quits != 1 {
		t.Fatalf("browser must be released after search failure")
	}
}

func TestRunDegradesToSummaryWhenDetailMissing(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2"}}, heights: []int{100}},
	})
	b.details["2"] = "<p>Full description</p>"
	classifier := newFakeClassifier(matchIDs("1"))
	out := &fakeSink{}

	stats, err := newTestCrawler(t, testConfig(), b, classifier, out, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(classifier.texts["1"], "Company 1") {
		t.Fatalf("summary text missing: %q", classifier.texts["1"])
	}
	if strings.Contains(classifier.texts["1"], "Full description") {
		t.Fatalf("item 1 must not get another item's detail")
	}
	if !strings.Contains(classifier.texts["2"], "Full description") {
		t.Fatalf("detail text missing: %q", classifier.texts["2"])
	}
	if len(out.items) != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected result: items=%d stats=%+v", len(out.items), stats)
	}
}

func TestRunIgnoresDetailPaneOfPreviousItem(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2"}}, heights: []int{100}},
	})
	b.details["1"] = "<p>Go developer</p>"
	b.details["2"] = "<p>Never rendered</p>"
	b.stalePanes["2"] = true

	classifier := newFakeClassifier(nil)

	stats, err := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(classifier.texts["1"], "Go developer") {
		t.Fatalf("detail text missing: %q", classifier.texts["1"])
	}
	if strings.Contains(classifier.texts["2"], "Go developer") {
		t.Fatalf("item 2 was classified with the pane of item 1: %q", classifier.texts["2"])
	}
	if !strings.Contains(classifier.texts["2"], "Company 2") {
		t.Fatalf("summary text missing: %q", classifier.texts["2"])
	}
	if stats.Classified != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunHangingItemIsSkipped(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2"}}, heights: []int{100}},
	})
	b.hangingItems["1"] = true

	cfg := testConfig()
	cfg.ActionTimeout = 20 * time.Millisecond
	classifier := newFakeClassifier(matchIDs("2"))
	out := &fakeSink{}

	crawler := newTestCrawler(t, cfg, b, classifier, out, nil)

	done := make(chan struct{})
	var (
		stats *Stats
		err   error
	)
	go func() {
		defer close(done)
		stats, err = crawler.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl blocked on a node that left the page")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if classifier.calls["1"] != 0 || classifier.calls["2"] != 1 {
		t.Fatalf("unexpected classifier calls: %v", classifier.calls)
	}
	if stats.Failed != 1 || stats.Matched != 1 || len(out.items) != 1 {
		t.Fatalf("unexpected result: items=%d stats=%+v", len(out.items), stats)
	}
}

func TestRunItemFailuresDoNotAbortPage(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2", "3", "4"}}, heights: []int{100}},
	})
	b.brokenItems["1"] = true

	classifier := newFakeClassifier(func(id, _ string) (*ai.Decision, error) {
		switch id {
		case "2":
			return nil, ai.ErrMalformedResponse
		case "3":
			return &ai.Decision{Matched: true, Role: "Engineer"}, nil
		}
		return &ai.Decision{Matched: true, Role: "Analyst"}, nil
	})
	out := &fakeSink{}

	core, logs := observer.New(zapcore.WarnLevel)
	crawler, err := New(testConfig(), Deps{
		Browser:    b,
		Classifier: classifier,
		Sink:       out,
		Profile:    testProfile(t),
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}

	stats, err := crawler.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if classifier.calls["1"] != 0 {
		t.Fatalf("broken item must be skipped")
	}
	if len(out.items) != 2 {
		t.Fatalf("expected items 3 and 4 to be persisted, got %d", len(out.items))
	}
	if stats.Failed != 2 || stats.Matched != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if logs.FilterMessage("classification failed, treating as no match").Len() != 1 {
		t.Fatalf("expected classifier failure to be logged")
	}
	if logs.FilterMessage("item skipped").Len() != 1 {
		t.Fatalf("expected skipped item to be logged")
	}
}

func TestRunSinkFailureIsItemScoped(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2"}}, heights: []int{100}},
	})
	out := &fakeSink{err: errors.New("disk full")}

	stats, err := newTestCrawler(t, testConfig(), b, newFakeClassifier(matchIDs("1", "2")), out, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 2 || stats.Matched != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunGateFiltersAndRecordsRejections(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2", "3"}}, heights: []int{100}},
	})
	gate := &fakeGate{blocked: map[string]bool{"2": true}}
	classifier := newFakeClassifier(matchIDs("1"))

	stats, err := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, gate).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if classifier.calls["2"] != 0 {
		t.Fatalf("filtered item must not be classified")
	}
	if stats.Filtered != 1 || stats.Seen != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if fmt.Sprint(gate.rejected) != "[3]" {
		t.Fatalf("expected item 3 to be recorded as rejected, got %v", gate.rejected)
	}
}

func TestRunHonoursPageLimit(t *testing.T) {
	pages := map[int]*fakePage{}
	for offset := 0; offset <= 250; offset += 25 {
		pages[offset] = &fakePage{passes: [][]string{{strconv.Itoa(offset)}}, heights: []int{100}}
	}
	b := newFakeBrowser(pages)
	cfg := testConfig()
	cfg.MaxPages = 2

	stats, err := newTestCrawler(t, cfg, b, newFakeClassifier(nil), &fakeSink{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", stats.Pages)
	}
}

func TestRunReleasesBrowserOnCancel(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1", "2"}}, heights: []int{100}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	classifier := newFakeClassifier(func(string, string) (*ai.Decision, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if classifier.total() != 1 {
		t.Fatalf("crawl must stop after cancellation, got %d calls", classifier.total())
	}
	if b.quits != 1 {
		t.Fatalf("browser must be released on cancellation")
	}
}

func TestRunReleasesBrowserOnPanic(t *testing.T) {
	b := newFakeBrowser(map[int]*fakePage{
		0: {passes: [][]string{{"1"}}, heights: []int{100}},
	})
	classifier := newFakeClassifier(func(string, string) (*ai.Decision, error) {
		panic("boom")
	})
	crawler := newTestCrawler(t, testConfig(), b, classifier, &fakeSink{}, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = crawler.Run(context.Background())
	}()

	if b.quits != 1 {
		t.Fatalf("browser must be released on panic")
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatal("expected error without browser")
	}
	if _, err := New(testConfig(), Deps{Browser: newFakeBrowser(nil), Classifier: newFakeClassifier(nil), Sink: &fakeSink{}}); err == nil {
		t.Fatal("expected error without profile")
	}
}

// Package browser drives a single Chrome tab through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const defaultActionTimeout = 10 * time.Second

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0 Safari/537.36"

var ErrClosed = errors.New("browser session is closed")

// Options configure the Chrome process.
type Options struct {
	Headless   bool
	ChromePath string
	UserAgent  string
	// ActionTimeout bounds every call that has no timeout of its own.
	// Zero means 10s.
	ActionTimeout time.Duration
}

// Element is a handle to a rendered node. ID is the value of the identity
// attribute when present and the backend node id otherwise. Stable reports
// the former: a backend node id only means something within one page load.
type Element struct {
	ID     string
	Stable bool
	node   cdp.NodeID
}

// Session owns one Chrome process and one tab. It is not safe for concurrent
// use; callers drive it from a single goroutine.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	timeout     time.Duration

	quitOnce sync.Once
	closed   bool
}

// New starts Chrome and opens a blank tab.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1440, 900),
	)
	if p := strings.TrimSpace(opts.ChromePath); p != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(p))
	}

	// The browser outlives cancellation of individual calls; only Quit stops it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		timeout:     opts.ActionTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = defaultActionTimeout
	}

	// The first Run allocates the browser, so it must use the tab context itself.
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		_ = s.Quit()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	logger.Debug("browser started", zap.Bool("headless", opts.Headless))
	return s, nil
}

// run executes actions on the tab. The call stops when ctx is done or the
// timeout expires, whichever comes first. A zero timeout means the session
// action timeout; chromedp retries a selector until its context ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed {
		return ErrClosed
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("navigate", zap.String("url", url))
	return s.run(ctx, 0, chromedp.Navigate(url))
}

// WaitVisible blocks until selector is visible or timeout expires.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *Session) ClickSelector(ctx context.Context, selector string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Elements returns every node currently matching selector, in document order.
// An empty result is not an error.
func (s *Session) Elements(ctx context.Context, selector, idAttr string) ([]Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		el := Element{node: n.NodeID}
		if idAttr != "" {
			el.ID = strings.TrimSpace(n.AttributeValue(idAttr))
		}
		el.Stable = el.ID != ""
		if !el.Stable {
			el.ID = "node-" + strconv.FormatInt(int64(n.BackendNodeID), 10)
		}
		elements = append(elements, el)
	}

	return elements, nil
}

func (s *Session) ScrollIntoView(ctx context.Context, el Element) error {
	return s.run(ctx, 0, chromedp.ScrollIntoView([]cdp.NodeID{el.node}, chromedp.ByNodeID))
}

func (s *Session) Click(ctx context.Context, el Element) error {
	return s.run(ctx, 0, chromedp.Click([]cdp.NodeID{el.node}, chromedp.ByNodeID))
}

func (s *Session) OuterHTML(ctx context.Context, el Element) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML([]cdp.NodeID{el.node}, &html, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return html, nil
}

// WaitOuterHTML waits for selector to become visible and returns the HTML of
// the first match.
func (s *Session) WaitOuterHTML(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var html string
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.OuterHTML(selector, &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, 0, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

func (s *Session) ScrollHeight(ctx context.Context) (int, error) {
	var height int
	if err := s.run(ctx, 0, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, err
	}
	return height, nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Quit closes the tab and the Chrome process. It is safe to call more than once.
func (s *Session) Quit() error {
	var err error
	s.quitOnce.Do(func() {
		s.closed = true
		err = chromedp.Cancel(s.ctx)
		s.cancel()
		s.allocCancel()
		s.logger.Debug("browser closed")
	})
	return err
}

package crawl

import "errors"

var (
	// ErrLogin ends the session when the post-login landmark never shows up.
	ErrLogin = errors.New("login failed")
	// ErrSearch ends the session when a search page does not render its results container.
	ErrSearch = errors.New("search page did not load")

	errStaleDetail = errors.New("detail pane still shows the previous item")
)

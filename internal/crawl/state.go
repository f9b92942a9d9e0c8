package crawl

// DefaultStep is the number of results the site shows per search page.
const DefaultStep = 25

// TraversalState is the per-session bookkeeping of the crawl: the page offset,
// which only grows, and the per-page seen set and scroll height, which are
// reset whenever a new page is opened.
type TraversalState struct {
	step       int
	offset     int
	lastHeight int
	seen       map[string]struct{}
}

func NewTraversalState(step int) *TraversalState {
	if step <= 0 {
		step = DefaultStep
	}
	return &TraversalState{
		step: step,
		seen: make(map[string]struct{}),
	}
}

func (s *TraversalState) Offset() int { return s.offset }

func (s *TraversalState) Step() int { return s.step }

// ResetPage starts a new page with the given initial scroll height.
func (s *TraversalState) ResetPage(height int) {
	s.seen = make(map[string]struct{})
	s.lastHeight = height
}

// MarkSeen records id for the current page and reports whether it was new.
func (s *TraversalState) MarkSeen(id string) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *TraversalState) SeenCount() int { return len(s.seen) }

// ObserveHeight stores the latest scroll height and reports whether it differs
// from the previous reading. Equal readings mean lazy loading has stopped.
func (s *TraversalState) ObserveHeight(height int) bool {
	changed := height != s.lastHeight
	s.lastHeight = height
	return changed
}

// Advance moves to the next search page.
func (s *TraversalState) Advance() {
	s.offset += s.step
}

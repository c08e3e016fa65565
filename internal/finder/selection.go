package finder

// State is the focus/navigation state of one search control.
type State int

const (
	Idle State = iota
	Focused
	Navigating
	Committed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Focused:
		return "focused"
	case Navigating:
		return "navigating"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// Key is a keyboard event understood by a control.
type Key int

const (
	KeyNone Key = iota
	KeyDown
	KeyUp
	KeyEnter
	KeyEscape
)

// Selection tracks focus, dropdown visibility and the highlighted row. The
// highlight is -1 or a valid index into a list of the length last passed to
// Clamp.
type Selection struct {
	focused   bool
	committed bool
	open      bool
	highlight int
}

func newSelection() Selection {
	return Selection{highlight: -1}
}

// State derives the current state.
func (s *Selection) State() State {
	switch {
	case s.focused && s.highlight >= 0:
		return Navigating
	case s.focused:
		return Focused
	case s.committed:
		return Committed
	default:
		return Idle
	}
}

func (s *Selection) Focused() bool  { return s.focused }
func (s *Selection) Open() bool     { return s.open }
func (s *Selection) Highlight() int { return s.highlight }

// Focus enters Focused from Idle or Committed.
func (s *Selection) Focus() {
	s.focused = true
	s.committed = false
}

// TextChanged clears the highlight.
func (s *Selection) TextChanged() {
	s.highlight = -1
}

// Show opens the dropdown when focused and n > 0, closing it otherwise.
func (s *Selection) Show(n int) {
	s.Clamp(n)
	s.open = s.focused && n > 0
}

// Move steps the highlight by delta, wrapping within [0, n-1]. It returns
// false on an empty list.
func (s *Selection) Move(delta, n int) bool {
	if n <= 0 {
		return false
	}
	s.open = true
	if s.highlight < 0 {
		if delta > 0 {
			s.highlight = 0
		} else {
			s.highlight = n - 1
		}
		return true
	}
	s.highlight = ((s.highlight+delta)%n + n) % n
	return true
}

// Enter returns the index to commit: the highlight when valid, else 0 when
// the list has exactly one entry.
func (s *Selection) Enter(n int) (int, bool) {
	if s.highlight >= 0 && s.highlight < n {
		return s.highlight, true
	}
	if n == 1 {
		return 0, true
	}
	return -1, false
}

// Escape closes the dropdown and clears the highlight. It reports whether
// there was anything to close.
func (s *Selection) Escape() bool {
	had := s.open || s.highlight >= 0
	s.open = false
	s.highlight = -1
	return had
}

// Blur handles an interaction outside the control. Commitment is untouched.
func (s *Selection) Blur() {
	s.focused = false
	s.open = false
	s.highlight = -1
}

// Commit closes the dropdown and leaves focus.
func (s *Selection) Commit() {
	s.Blur()
	s.committed = true
}

// Close hides the dropdown without touching focus.
func (s *Selection) Close() {
	s.open = false
	s.highlight = -1
}

// Reset returns to Idle.
func (s *Selection) Reset() {
	*s = newSelection()
}

// Clamp pulls the highlight back into range after the list changed to n
// entries.
func (s *Selection) Clamp(n int) {
	switch {
	case n <= 0:
		s.highlight = -1
	case s.highlight >= n:
		s.highlight = n - 1
	case s.highlight < -1:
		s.highlight = -1
	}
}

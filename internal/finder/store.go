package finder

import (
	"github.com/oakwood-commons/unifind/internal/entity"
)

// Store holds the latest accepted suggestion list for one kind together with
// the scope that produced it.
type Store struct {
	scope  entity.Scope
	items  []entity.Candidate
	loaded bool
}

// Replace installs a fresh list in backend order.
func (s *Store) Replace(scope entity.Scope, items []entity.Candidate) {
	s.scope = scope
	s.items = append(s.items[:0:0], items...)
	s.loaded = true
}

// Clear empties the store.
func (s *Store) Clear() {
	*s = Store{}
}

// Items returns a copy of the list.
func (s *Store) Items() []entity.Candidate {
	return append([]entity.Candidate(nil), s.items...)
}

func (s *Store) Len() int { return len(s.items) }

// At returns item i, or false when i is out of range.
func (s *Store) At(i int) (entity.Candidate, bool) {
	if i < 0 || i >= len(s.items) {
		return entity.Candidate{}, false
	}
	return s.items[i], true
}

// Scope returns the scope of the current list.
func (s *Store) Scope() entity.Scope { return s.scope }

// Loaded reports whether a result has been accepted since the last Clear.
func (s *Store) Loaded() bool { return s.loaded }

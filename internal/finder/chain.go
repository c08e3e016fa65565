package finder

import (
	"fmt"

	"github.com/oakwood-commons/unifind/internal/entity"
)

// Change describes one update of a Chain entry and the descendants it
// invalidated.
type Change struct {
	Kind    entity.Kind
	Prev    *entity.Candidate
	Next    *entity.Candidate
	Cleared []entity.Kind
}

// Changed reports whether the entry now points at a different record.
func (c Change) Changed() bool { return !sameSelection(c.Prev, c.Next) }

// Chain is the parent-to-child record of selected entities in one form. A
// nil entry always implies nil entries for every descendant.
type Chain struct {
	reg      *entity.Registry
	selected map[entity.Kind]*entity.Candidate
}

// NewChain returns an empty chain over reg.
func NewChain(reg *entity.Registry) *Chain {
	return &Chain{reg: reg, selected: make(map[entity.Kind]*entity.Candidate)}
}

// Get returns the selection for k, or nil.
func (c *Chain) Get(k entity.Kind) *entity.Candidate {
	sel := c.selected[k]
	if sel == nil {
		return nil
	}
	cp := *sel
	return &cp
}

// Set replaces the selection for k. When the value changes, every descendant
// entry is cleared in the same call. Selecting a child whose parent is empty
// fails with ErrParentRequired.
func (c *Chain) Set(k entity.Kind, cand *entity.Candidate) (Change, error) {
	spec, err := c.reg.Lookup(k)
	if err != nil {
		return Change{}, err
	}
	if cand != nil && spec.HasParent() && c.selected[spec.Parent] == nil {
		return Change{}, &entity.ValidationError{Kind: k, Field: spec.ParentParam, Reason: entity.ErrParentRequired}
	}

	ch := Change{Kind: k, Prev: c.Get(k)}
	if cand != nil {
		cp := *cand
		ch.Next = &cp
	}
	if !ch.Changed() {
		// Same record: keep the fresher copy, descendants stay valid.
		if ch.Next != nil {
			c.selected[k] = ch.Next
		}
		return ch, nil
	}
	if ch.Next == nil {
		delete(c.selected, k)
	} else {
		c.selected[k] = ch.Next
	}
	ch.Cleared = c.reg.Descendants(k)
	for _, d := range ch.Cleared {
		delete(c.selected, d)
	}
	return ch, nil
}

// Reset clears every entry.
func (c *Chain) Reset() {
	c.selected = make(map[entity.Kind]*entity.Candidate)
}

// Snapshot returns the selected entries keyed by kind.
func (c *Chain) Snapshot() map[entity.Kind]entity.Candidate {
	out := make(map[entity.Kind]entity.Candidate, len(c.selected))
	for k, v := range c.selected {
		out[k] = *v
	}
	return out
}

// Validate checks that no entry is selected without its parent.
func (c *Chain) Validate() error {
	for k := range c.selected {
		spec, _ := c.reg.Spec(k)
		if spec.HasParent() && c.selected[spec.Parent] == nil {
			return fmt.Errorf("%s is selected without %s", k, spec.Parent)
		}
	}
	return nil
}

func sameSelection(a, b *entity.Candidate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

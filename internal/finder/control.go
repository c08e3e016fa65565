package finder

import (
	"strings"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

// Control is the search input for one kind inside a Form. All methods must
// be called from the goroutine that owns the Form.
type Control struct {
	form     *Form
	spec     entity.Spec
	text     string
	disc     string
	store    Store
	sel      Selection
	existing *entity.Candidate
	conflict *entity.Candidate
}

func newControl(f *Form, spec entity.Spec) *Control {
	return &Control{form: f, spec: spec, sel: newSelection()}
}

func (c *Control) Kind() entity.Kind { return c.spec.Kind }
func (c *Control) Spec() entity.Spec { return c.spec }
func (c *Control) Text() string      { return c.text }

// Discriminator returns the secondary input, e.g. the region.
func (c *Control) Discriminator() string { return c.disc }

// Suggestions returns the current list in backend order.
func (c *Control) Suggestions() []entity.Candidate { return c.store.Items() }

func (c *Control) Highlight() int { return c.sel.Highlight() }
func (c *Control) Open() bool     { return c.sel.Open() }
func (c *Control) State() State   { return c.sel.State() }

// Blocked reports whether the required parent is not selected.
func (c *Control) Blocked() bool { return !c.form.resolver.Allowed(c.spec.Kind) }

// Loading reports whether a search for the current text is outstanding.
func (c *Control) Loading() bool { return c.form.dispatcher.Loading(c.spec.Kind) }

// ExistingMatch is the exact match among the current suggestions, if any.
func (c *Control) ExistingMatch() *entity.Candidate { return c.existing }

// Conflict is the record that blocked the last create attempt and is
// waiting for ResolveExisting.
func (c *Control) Conflict() *entity.Candidate { return c.conflict }

// Selected returns the committed candidate for this kind.
func (c *Control) Selected() *entity.Candidate { return c.form.chain.Get(c.spec.Kind) }

// CanCreate reports whether a "create new" action should be offered.
func (c *Control) CanCreate() bool {
	return strings.TrimSpace(c.text) != "" && c.existing == nil && !c.Blocked() && !c.Loading()
}

// Focus moves focus here and searches for any existing text.
func (c *Control) Focus() {
	c.form.blurExcept(c.spec.Kind)
	c.sel.Focus()
	if strings.TrimSpace(c.text) != "" {
		c.refresh()
	}
}

// SetText handles an edit of the query text.
func (c *Control) SetText(s string) {
	if s == c.text {
		return
	}
	wasEmpty := strings.TrimSpace(c.text) == ""
	c.text = s
	if !c.sel.Focused() {
		c.form.blurExcept(c.spec.Kind)
		c.sel.Focus()
	}
	c.sel.TextChanged()
	c.conflict = nil
	c.refresh()
	if !wasEmpty && strings.TrimSpace(s) == "" {
		c.form.cleared(c)
	}
}

// SetDiscriminator updates the secondary input and re-checks the current
// suggestions for an exact match without searching again.
func (c *Control) SetDiscriminator(s string) {
	c.disc = s
	c.conflict = nil
	c.detect()
}

// Key handles a navigation key and reports whether it was consumed. Enter
// is always consumed while focused.
func (c *Control) Key(k Key) bool {
	if !c.sel.Focused() {
		return false
	}
	switch k {
	case KeyDown:
		return c.sel.Move(1, c.store.Len())
	case KeyUp:
		return c.sel.Move(-1, c.store.Len())
	case KeyEnter:
		if i, ok := c.sel.Enter(c.store.Len()); ok {
			_ = c.CommitIndex(i)
		}
		return true
	case KeyEscape:
		return c.sel.Escape()
	}
	return false
}

// Blur handles an interaction outside the control.
func (c *Control) Blur() { c.sel.Blur() }

// CommitIndex commits suggestion i, as a click or Enter would.
func (c *Control) CommitIndex(i int) error {
	cand, ok := c.store.At(i)
	if !ok {
		return &entity.ValidationError{Kind: c.spec.Kind, Field: "index", Reason: entity.ErrNotFound}
	}
	return c.form.commit(c, cand)
}

func (c *Control) refresh() {
	c.existing = nil
	if strings.TrimSpace(c.text) == "" {
		c.clearResults()
		return
	}
	scope, err := c.form.resolver.Resolve(c.spec.Kind, c.text)
	if err != nil {
		c.form.log.V(1).Info("search blocked", logger.KindKey, c.spec.Kind, "reason", err.Error())
		c.clearResults()
		return
	}
	c.form.dispatcher.Issue(scope)
}

func (c *Control) clearResults() {
	c.form.dispatcher.Discard(c.spec.Kind)
	c.store.Clear()
	c.sel.Close()
	c.existing = nil
}

func (c *Control) accept(scope entity.Scope, items []entity.Candidate) {
	c.store.Replace(scope, items)
	c.sel.Show(c.store.Len())
	c.detect()
}

func (c *Control) detect() {
	c.existing = FindExisting(c.spec, c.store.Items(), c.text, c.disc)
}

func (c *Control) reset() {
	c.form.dispatcher.Discard(c.spec.Kind)
	c.text = ""
	c.disc = ""
	c.store.Clear()
	c.sel.Reset()
	c.existing = nil
	c.conflict = nil
}

// Package finder is the find-or-add engine: one Form per workflow hosts a
// search Control per entity kind, keeps the selection chain consistent, and
// reconciles "no match, offer to create" against "exact match, block the
// duplicate".
package finder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/oakwood-commons/unifind/internal/dispatch"
	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

// ErrNoConflict is returned by ResolveExisting when no create was blocked.
var ErrNoConflict = errors.New("no pending duplicate to resolve")

// Backend is the search and create surface a Form talks to.
type Backend interface {
	dispatch.Searcher
	Create(ctx context.Context, kind entity.Kind, req entity.CreateRequest) (entity.Candidate, error)
}

// Callbacks are the upward notifications of a Form. Nil fields are skipped.
type Callbacks struct {
	// OnSelect fires on every commit and every clearing of a selection.
	OnSelect func(kind entity.Kind, cand *entity.Candidate)
	// OnNoResults fires when a current search for non-empty text returns
	// nothing.
	OnNoResults func(text string, kind entity.Kind)
	// OnExists fires when a create attempt collides with an existing record.
	OnExists func(kind entity.Kind, existing entity.Candidate)
}

// Resolution is the user's answer to a blocked create.
type Resolution int

const (
	// Navigate selects the existing record.
	Navigate Resolution = iota
	// Abandon drops the create attempt and keeps the typed text.
	Abandon
)

// CreateOutcome reports what a create submission did. Exactly one of Created
// and Existing is set.
type CreateOutcome struct {
	Created  *entity.Candidate
	Existing *entity.Candidate
	// Similar lists near-duplicates among the suggestions; informational.
	Similar []entity.Candidate
}

// Form owns one selection chain and the controls that edit it.
type Form struct {
	name       string
	reg        *entity.Registry
	chain      *Chain
	resolver   Resolver
	dispatcher *dispatch.Dispatcher
	backend    Backend
	controls   map[entity.Kind]*Control
	kinds      []entity.Kind
	cb         Callbacks
	similarity float32
	log        logr.Logger

	only         []entity.Kind
	dispatchOpts []dispatch.Option
}

// Option configures a Form.
type Option func(*Form)

// WithName labels the form in logs.
func WithName(name string) Option {
	return func(f *Form) { f.name = name }
}

// WithCallbacks sets the upward notifications.
func WithCallbacks(cb Callbacks) Option {
	return func(f *Form) { f.cb = cb }
}

// WithKinds limits the form to the given kinds and their ancestors.
func WithKinds(kinds ...entity.Kind) Option {
	return func(f *Form) { f.only = append(f.only, kinds...) }
}

// WithDispatchOptions configures the form's dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(f *Form) { f.dispatchOpts = append(f.dispatchOpts, opts...) }
}

// WithSimilarity sets the near-duplicate threshold. Zero disables hints.
func WithSimilarity(threshold float32) Option {
	return func(f *Form) { f.similarity = threshold }
}

// WithLogger sets the logger. Default discards.
func WithLogger(log logr.Logger) Option {
	return func(f *Form) { f.log = log }
}

// NewForm creates a form over reg. Close releases its dispatcher.
func NewForm(reg *entity.Registry, backend Backend, opts ...Option) (*Form, error) {
	if reg == nil {
		return nil, errors.New("finder: registry is required")
	}
	if backend == nil {
		return nil, errors.New("finder: backend is required")
	}
	f := &Form{
		name:       "form",
		reg:        reg,
		chain:      NewChain(reg),
		backend:    backend,
		controls:   make(map[entity.Kind]*Control),
		similarity: DefaultSimilarity,
		log:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithValues(logger.FormKey, f.name)
	f.resolver = NewResolver(reg, f.chain)

	hosted := make(map[entity.Kind]bool)
	if len(f.only) == 0 {
		for _, k := range reg.Kinds() {
			hosted[k] = true
		}
	}
	for _, k := range f.only {
		if _, err := reg.Lookup(k); err != nil {
			return nil, err
		}
		for _, h := range reg.Hierarchy(k) {
			hosted[h] = true
		}
	}
	for _, k := range reg.Kinds() {
		if !hosted[k] {
			continue
		}
		spec, _ := reg.Spec(k)
		f.controls[k] = newControl(f, spec)
		f.kinds = append(f.kinds, k)
	}

	dopts := append([]dispatch.Option{dispatch.WithLogger(f.log)}, f.dispatchOpts...)
	d, err := dispatch.New(backend, dopts...)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	f.dispatcher = d
	return f, nil
}

// Kinds returns the hosted kinds, ancestors first.
func (f *Form) Kinds() []entity.Kind { return append([]entity.Kind(nil), f.kinds...) }

// Control returns the control for kind, or nil when the form does not host it.
func (f *Form) Control(kind entity.Kind) *Control { return f.controls[kind] }

// Selected returns the committed candidate for kind.
func (f *Form) Selected(kind entity.Kind) *entity.Candidate { return f.chain.Get(kind) }

// Selections returns every committed candidate.
func (f *Form) Selections() map[entity.Kind]entity.Candidate { return f.chain.Snapshot() }

// Focused returns the focused control, or nil.
func (f *Form) Focused() *Control {
	for _, k := range f.kinds {
		if c := f.controls[k]; c.sel.Focused() {
			return c
		}
	}
	return nil
}

// Outside handles an interaction outside every control.
func (f *Form) Outside() { f.blurExcept("") }

// Select commits cand for kind as if it had been picked from the list.
func (f *Form) Select(kind entity.Kind, cand entity.Candidate) error {
	c := f.controls[kind]
	if c == nil {
		return fmt.Errorf("%w: %q is not part of this form", entity.ErrUnknownKind, kind)
	}
	return f.commit(c, cand)
}

// Apply feeds a dispatcher result into the form. Stale results are dropped
// and Apply reports false.
func (f *Form) Apply(res dispatch.Result) bool {
	log := f.log.WithValues(logger.KindKey, res.Scope.Kind, logger.SeqKey, res.Seq)
	c := f.controls[res.Scope.Kind]
	if c == nil || !f.dispatcher.IsCurrent(res.Request) {
		log.V(2).Info("stale result dropped")
		return false
	}
	c.accept(res.Scope, res.Candidates)
	log.V(1).Info("suggestions updated", "count", c.store.Len())
	if c.store.Len() == 0 && strings.TrimSpace(c.text) != "" && f.cb.OnNoResults != nil {
		f.cb.OnNoResults(strings.TrimSpace(c.text), c.spec.Kind)
	}
	return true
}

// Next waits for the next dispatcher result.
func (f *Form) Next(ctx context.Context) (dispatch.Result, error) {
	return f.dispatcher.Next(ctx)
}

// Busy reports whether any search is outstanding.
func (f *Form) Busy() bool { return f.dispatcher.Busy() }

// Settle applies results until no search is outstanding.
func (f *Form) Settle(ctx context.Context) error {
	for f.dispatcher.Busy() {
		res, err := f.dispatcher.Next(ctx)
		if err != nil {
			return err
		}
		f.Apply(res)
	}
	return nil
}

// SubmitCreate tries to create the record typed into kind's control. An
// exact match among the suggestions, or a conflict reported by the backend,
// blocks the create and is returned as CreateOutcome.Existing.
func (f *Form) SubmitCreate(ctx context.Context, kind entity.Kind) (CreateOutcome, error) {
	c := f.controls[kind]
	if c == nil {
		return CreateOutcome{}, fmt.Errorf("%w: %q is not part of this form", entity.ErrUnknownKind, kind)
	}
	spec := c.spec
	name := entity.NormalizeName(c.text)
	if name == "" {
		return CreateOutcome{}, &entity.ValidationError{Kind: kind, Field: "name", Reason: entity.ErrNameRequired}
	}
	disc := strings.TrimSpace(c.disc)
	if spec.HasDiscriminator() && disc == "" {
		return CreateOutcome{}, &entity.ValidationError{Kind: kind, Field: spec.Discriminator, Reason: entity.ErrDiscriminatorRequired}
	}
	scope, err := f.resolver.Resolve(kind, name)
	if err != nil {
		return CreateOutcome{}, err
	}

	items := c.store.Items()
	if m := FindExisting(spec, items, name, disc); m != nil {
		return f.blocked(c, *m), nil
	}
	var similar []entity.Candidate
	if f.similarity > 0 {
		similar = FindSimilar(items, name, f.similarity)
	}

	log := f.log.WithValues(logger.KindKey, kind)
	created, err := f.backend.Create(ctx, kind, entity.CreateRequest{Name: name, Discriminator: disc, ParentID: scope.ParentID})
	var conflict *entity.ConflictError
	if errors.As(err, &conflict) {
		log.V(1).Info("backend reported duplicate", "id", conflict.Existing.ID)
		return f.blocked(c, conflict.Existing), nil
	}
	if err != nil {
		return CreateOutcome{}, fmt.Errorf("create %s: %w", kind, err)
	}
	log.Info("created", "id", created.ID, "name", created.Name)
	if err := f.commit(c, created); err != nil {
		return CreateOutcome{}, err
	}
	return CreateOutcome{Created: &created, Similar: similar}, nil
}

// ResolveExisting answers a blocked create. Navigate commits the existing
// record and returns it; Abandon keeps the typed text and returns nil.
func (f *Form) ResolveExisting(kind entity.Kind, r Resolution) (*entity.Candidate, error) {
	c := f.controls[kind]
	if c == nil || c.conflict == nil {
		return nil, ErrNoConflict
	}
	existing := *c.conflict
	c.conflict = nil
	if r == Abandon {
		return nil, nil
	}
	if err := f.commit(c, existing); err != nil {
		return nil, err
	}
	return &existing, nil
}

// Reset clears every selection and input without notifying.
func (f *Form) Reset() {
	f.chain.Reset()
	for _, k := range f.kinds {
		f.controls[k].reset()
	}
}

// Close stops outstanding searches.
func (f *Form) Close() {
	f.dispatcher.Close()
}

func (f *Form) blocked(c *Control, existing entity.Candidate) CreateOutcome {
	c.conflict = &existing
	if f.cb.OnExists != nil {
		f.cb.OnExists(c.spec.Kind, existing)
	}
	return CreateOutcome{Existing: &existing}
}

func (f *Form) blurExcept(kind entity.Kind) {
	for _, k := range f.kinds {
		if k != kind {
			f.controls[k].Blur()
		}
	}
}

func (f *Form) commit(c *Control, cand entity.Candidate) error {
	kind := c.spec.Kind
	affected, err := f.setSelection(kind, &cand)
	if err != nil {
		return err
	}
	f.dispatcher.Discard(kind)
	c.text = cand.Name
	if c.spec.HasDiscriminator() {
		if v := cand.Field(c.spec.Discriminator); v != "" {
			c.disc = v
		}
	}
	c.sel.Commit()
	c.conflict = nil
	c.detect()
	f.log.V(1).Info("committed", logger.KindKey, kind, "id", cand.ID)

	f.notify(kind, &cand)
	for _, d := range affected {
		f.notify(d, nil)
	}
	return nil
}

func (f *Form) cleared(c *Control) {
	affected, _ := f.setSelection(c.spec.Kind, nil)
	f.notify(c.spec.Kind, nil)
	for _, d := range affected {
		f.notify(d, nil)
	}
}

// setSelection updates the chain and resets descendant controls. It returns
// the descendants that held a selection or text before the reset.
func (f *Form) setSelection(kind entity.Kind, cand *entity.Candidate) ([]entity.Kind, error) {
	var affected []entity.Kind
	for _, d := range f.reg.Descendants(kind) {
		dc := f.controls[d]
		if dc == nil {
			continue
		}
		if f.chain.Get(d) != nil || strings.TrimSpace(dc.text) != "" {
			affected = append(affected, d)
		}
	}
	ch, err := f.chain.Set(kind, cand)
	if err != nil {
		return nil, err
	}
	if !ch.Changed() {
		return nil, nil
	}
	for _, d := range ch.Cleared {
		if dc := f.controls[d]; dc != nil {
			dc.reset()
		}
	}
	if len(ch.Cleared) > 0 {
		f.log.V(1).Info("cascade", logger.KindKey, kind, "cleared", ch.Cleared)
	}
	return affected, nil
}

func (f *Form) notify(kind entity.Kind, cand *entity.Candidate) {
	if f.cb.OnSelect != nil {
		f.cb.OnSelect(kind, cand)
	}
}

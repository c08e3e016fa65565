package finder

import (
	"github.com/oakwood-commons/unifind/internal/entity"
)

// Resolver decides whether a kind may be searched and with which parent id.
type Resolver struct {
	reg   *entity.Registry
	chain *Chain
}

// NewResolver reads scope from chain. It never mutates the chain.
func NewResolver(reg *entity.Registry, chain *Chain) Resolver {
	return Resolver{reg: reg, chain: chain}
}

// Allowed reports whether kind has no parent or its parent is selected.
func (r Resolver) Allowed(kind entity.Kind) bool {
	spec, ok := r.reg.Spec(kind)
	if !ok {
		return false
	}
	return !spec.HasParent() || r.chain.Get(spec.Parent) != nil
}

// Resolve builds the search scope for kind and text. A missing parent yields
// a ValidationError wrapping ErrParentRequired.
func (r Resolver) Resolve(kind entity.Kind, text string) (entity.Scope, error) {
	spec, err := r.reg.Lookup(kind)
	if err != nil {
		return entity.Scope{}, err
	}
	if !spec.HasParent() {
		return entity.NewScope(kind, text, nil), nil
	}
	parent := r.chain.Get(spec.Parent)
	if parent == nil {
		return entity.Scope{}, &entity.ValidationError{Kind: kind, Field: spec.ParentParam, Reason: entity.ErrParentRequired}
	}
	return entity.NewScope(kind, text, entity.IDPtr(parent.ID)), nil
}

// Package entity describes the searchable entity kinds, the per-kind
// configuration table, and the candidate records returned by the backend.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies one tier of the organizational hierarchy or a person record.
type Kind string

const (
	Institution Kind = "institution"
	SubUnit     Kind = "sub_unit"
	SubSubUnit  Kind = "sub_sub_unit"
	Course      Kind = "course"
	Person      Kind = "person"
)

// ParseKind converts user input (case-insensitive, dashes allowed) into a Kind.
// Validity against a Registry is checked separately.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	return Kind(strings.ReplaceAll(s, "-", "_"))
}

// Spec is one row of the kind configuration table.
type Spec struct {
	Kind  Kind   `yaml:"kind" toml:"kind"`
	Label string `yaml:"label" toml:"label"`
	// Parent is the required ancestor kind; empty means the kind is searched
	// without a scope.
	Parent Kind `yaml:"parent,omitempty" toml:"parent,omitempty"`
	// ParentParam is the query/body parameter carrying the parent id.
	ParentParam string `yaml:"parent_param,omitempty" toml:"parent_param,omitempty"`
	// Discriminator names the secondary field that must also match for a
	// duplicate (e.g. "region"). Empty means name-only matching.
	Discriminator string `yaml:"discriminator,omitempty" toml:"discriminator,omitempty"`
	SearchPath    string `yaml:"search_path" toml:"search_path"`
	CreatePath    string `yaml:"create_path" toml:"create_path"`
	// ResultKey is the JSON key wrapping the search result list.
	ResultKey string `yaml:"result_key" toml:"result_key"`
	// Row is a CEL expression over the candidate (bound to `c`) producing the
	// text shown for each suggestion row.
	Row string `yaml:"row,omitempty" toml:"row,omitempty"`
}

// HasParent reports whether searches for this kind need a selected ancestor.
func (s Spec) HasParent() bool { return s.Parent != "" }

// HasDiscriminator reports whether duplicates are matched on a second field.
func (s Spec) HasDiscriminator() bool { return s.Discriminator != "" }

// DisplayLabel returns Label, or a title derived from the kind.
func (s Spec) DisplayLabel() string {
	if strings.TrimSpace(s.Label) != "" {
		return s.Label
	}
	parts := strings.Split(string(s.Kind), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// Registry is the kind configuration table. It is immutable after
// construction and safe for concurrent reads.
type Registry struct {
	specs map[Kind]Spec
	order []Kind
}

// NewRegistry validates specs and builds a Registry. Kinds are ordered so
// every parent precedes its children; unrelated kinds keep input order.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[Kind]Spec, len(specs))}
	input := make([]Kind, 0, len(specs))
	for _, s := range specs {
		if s.Kind == "" {
			return nil, fmt.Errorf("kind spec is missing a kind name")
		}
		if _, dup := r.specs[s.Kind]; dup {
			return nil, fmt.Errorf("kind %q is declared twice", s.Kind)
		}
		r.specs[s.Kind] = s
		input = append(input, s.Kind)
	}
	for _, k := range input {
		s := r.specs[k]
		if !s.HasParent() {
			continue
		}
		if _, ok := r.specs[s.Parent]; !ok {
			return nil, fmt.Errorf("kind %q: parent %q: %w", k, s.Parent, ErrUnknownKind)
		}
		if strings.TrimSpace(s.ParentParam) == "" {
			return nil, fmt.Errorf("kind %q declares parent %q without a parent_param", k, s.Parent)
		}
	}

	// Depth-first placement keeps ancestors ahead of descendants and
	// catches cycles.
	placed := make(map[Kind]bool, len(input))
	visiting := make(map[Kind]bool, len(input))
	var place func(Kind) error
	place = func(k Kind) error {
		if placed[k] {
			return nil
		}
		if visiting[k] {
			return fmt.Errorf("kind %q is part of a parent cycle", k)
		}
		visiting[k] = true
		if p := r.specs[k].Parent; p != "" {
			if err := place(p); err != nil {
				return err
			}
		}
		visiting[k] = false
		placed[k] = true
		r.order = append(r.order, k)
		return nil
	}
	for _, k := range input {
		if err := place(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables; it panics on error.
func MustRegistry(specs ...Spec) *Registry {
	r, err := NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultSpecs returns the built-in kind table matching the reference backend.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Kind:          Institution,
			Label:         "Institution",
			Discriminator: "region",
			SearchPath:    "/api/search/university/",
			CreatePath:    "/api/add/university/",
			ResultKey:     "universities",
			Row:           `has(c.region) ? c.name + " (" + c.region + ")" : c.name`,
		},
		{
			Kind:        SubUnit,
			Label:       "College",
			Parent:      Institution,
			ParentParam: "university_id",
			SearchPath:  "/api/search/college/",
			CreatePath:  "/api/add/college/",
			ResultKey:   "colleges",
			Row:         `has(c.university) ? c.name + " · " + c.university : c.name`,
		},
		{
			Kind:        SubSubUnit,
			Label:       "School",
			Parent:      SubUnit,
			ParentParam: "college_id",
			SearchPath:  "/api/search/school/",
			CreatePath:  "/api/add/school/",
			ResultKey:   "schools",
			Row:         `has(c.college) ? c.name + " · " + c.college : c.name`,
		},
		{
			Kind:        Course,
			Label:       "Module",
			Parent:      SubSubUnit,
			ParentParam: "school_id",
			SearchPath:  "/api/search/module/",
			CreatePath:  "/api/add/module/",
			ResultKey:   "modules",
			Row:         `has(c.school) ? c.name + " · " + c.school : c.name`,
		},
		{
			Kind:       Person,
			Label:      "Lecturer",
			SearchPath: "/api/search/lecturer/",
			CreatePath: "/api/add/lecturer/",
			ResultKey:  "lecturers",
			Row:        `c.name`,
		},
	}
}

// DefaultRegistry returns a Registry over DefaultSpecs.
func DefaultRegistry() *Registry {
	return MustRegistry(DefaultSpecs()...)
}

// Spec returns the configuration for k.
func (r *Registry) Spec(k Kind) (Spec, bool) {
	s, ok := r.specs[k]
	return s, ok
}

// Lookup is Spec returning ErrUnknownKind for undeclared kinds.
func (r *Registry) Lookup(k Kind) (Spec, error) {
	s, ok := r.specs[k]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return s, nil
}

// Kinds returns every kind with ancestors ahead of descendants.
func (r *Registry) Kinds() []Kind {
	return append([]Kind(nil), r.order...)
}

// Ancestors returns the parent chain of k, nearest first.
func (r *Registry) Ancestors(k Kind) []Kind {
	var out []Kind
	for p := r.specs[k].Parent; p != ""; p = r.specs[p].Parent {
		out = append(out, p)
	}
	return out
}

// Descendants returns every kind that has k as an ancestor, in table order.
func (r *Registry) Descendants(k Kind) []Kind {
	var out []Kind
	for _, c := range r.order {
		if c == k {
			continue
		}
		for _, a := range r.Ancestors(c) {
			if a == k {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Children returns the kinds whose direct parent is k, sorted by name.
func (r *Registry) Children(k Kind) []Kind {
	var out []Kind
	for _, c := range r.order {
		if r.specs[c].Parent == k {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Hierarchy returns the root-to-k path including k itself.
func (r *Registry) Hierarchy(k Kind) []Kind {
	anc := r.Ancestors(k)
	out := make([]Kind, 0, len(anc)+1)
	for i := len(anc) - 1; i >= 0; i-- {
		out = append(out, anc[i])
	}
	return append(out, k)
}

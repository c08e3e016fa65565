package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oakwood-commons/unifind/internal/entity"
)

// SeedNode is one record in a seed file. Children default to the parent's
// only child kind.
type SeedNode struct {
	Kind     entity.Kind `yaml:"kind,omitempty"`
	Name     string      `yaml:"name"`
	Region   string      `yaml:"region,omitempty"`
	Children []SeedNode  `yaml:"children,omitempty"`
}

// ParseSeed decodes a YAML list of seed nodes.
func ParseSeed(r io.Reader) ([]SeedNode, error) {
	var nodes []SeedNode
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&nodes); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return nodes, nil
}

// Seed inserts nodes depth first. Records that already exist are reused, so
// seeding twice is harmless. It returns the number of records created.
func (s *Store) Seed(ctx context.Context, nodes []SeedNode) (int, error) {
	created := 0
	var walk func(parent *Record, n SeedNode) error
	walk = func(parent *Record, n SeedNode) error {
		kind := n.Kind
		if kind == "" && parent != nil {
			children := s.reg.Children(parent.Kind)
			if len(children) != 1 {
				return fmt.Errorf("seed %q: kind is required under %s", n.Name, parent.Kind)
			}
			kind = children[0]
		}
		if kind == "" {
			return fmt.Errorf("seed %q: kind is required", n.Name)
		}
		req := entity.CreateRequest{Name: n.Name, Discriminator: n.Region}
		if parent != nil {
			req.ParentID = entity.IDPtr(parent.ID)
		}
		rec, err := s.Create(ctx, kind, req)
		var conflict *entity.ConflictError
		switch {
		case errors.As(err, &conflict):
			rec, err = s.Get(ctx, conflict.Existing.ID)
			if err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("seed %s %q: %w", kind, n.Name, err)
		default:
			created++
		}
		for _, c := range n.Children {
			if err := walk(&rec, c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range nodes {
		if err := walk(nil, n); err != nil {
			return created, err
		}
	}
	return created, nil
}

// SearchAll runs a cross-kind search over every kind that is part of the
// hierarchy, up to perKind results each.
func (s *Store) SearchAll(ctx context.Context, text string, perKind int) ([]entity.Hit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if perKind <= 0 {
		perKind = GlobalPerKind
	}
	var hits []entity.Hit
	for _, kind := range s.reg.Kinds() {
		spec, _ := s.reg.Spec(kind)
		if !spec.HasParent() && len(s.reg.Children(kind)) == 0 {
			continue
		}
		recs, err := s.Search(ctx, Query{Kind: kind, Text: text, Limit: perKind})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			hits = append(hits, entity.Hit{
				Kind:   kind,
				ID:     rec.ID,
				Name:   rec.Name,
				URL:    fmt.Sprintf("/%s/%d", kind, rec.ID),
				Parent: s.parentLabel(ctx, rec),
			})
		}
	}
	return hits, nil
}

func (s *Store) parentLabel(ctx context.Context, rec Record) string {
	if rec.ParentID == 0 {
		return rec.Region
	}
	return strings.Join(s.Lineage(ctx, rec), " → ")
}

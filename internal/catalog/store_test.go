package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakwood-commons/unifind/internal/entity"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open("", true, entity.DefaultRegistry(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const seedYAML = `
- kind: institution
  name: University of Oxford
  region: England
  children:
    - name: Engineering College
      children:
        - name: School of Computing
          children:
            - name: Algorithms
            - name: Compilers
- kind: institution
  name: Imperial College
  region: London
  children:
    - name: Engineering Faculty
- kind: person
  name: Ada Lovelace
`

func seeded(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t)
	nodes, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	n, err := s.Seed(context.Background(), nodes)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	return s
}

func TestSeedIsIdempotent(t *testing.T) {
	s := seeded(t)
	nodes, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	n, err := s.Seed(context.Background(), nodes)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := s.Count(entity.Course)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSeedRequiresKind(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Seed(context.Background(), []SeedNode{{Name: "Nowhere"}})
	assert.Error(t, err)

	_, err = ParseSeed(strings.NewReader("- name: x\n  colour: red\n"))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	recs, err := s.Search(ctx, Query{Kind: entity.Institution, Text: "  COLLEGE "})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Imperial College", recs[0].Name)

	recs, err = s.Search(ctx, Query{Kind: entity.Institution, Text: "o", Region: "engl"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "University of Oxford", recs[0].Name)

	recs, err = s.Search(ctx, Query{Kind: entity.SubUnit, Text: "eng"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Search(ctx, Query{Kind: entity.SubUnit, Text: "eng", ParentID: entity.IDPtr(recs[0].ParentID)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Engineering College", recs[0].Name)

	recs, err = s.Search(ctx, Query{Kind: entity.Course, Text: ""})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.Search(ctx, Query{Kind: "planet", Text: "x"})
	assert.ErrorIs(t, err, entity.ErrUnknownKind)
}

func TestSearchLimitKeepsInsertionOrder(t *testing.T) {
	s := openTestStore(t, WithLimit(3))
	ctx := context.Background()
	for _, name := range []string{"Lee A", "Lee B", "Lee C", "Lee D"} {
		_, err := s.Create(ctx, entity.Person, entity.CreateRequest{Name: name})
		require.NoError(t, err)
	}
	recs, err := s.Search(ctx, Query{Kind: entity.Person, Text: "lee"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"Lee A", "Lee B", "Lee C"}, []string{recs[0].Name, recs[1].Name, recs[2].Name})
}

func TestCreateValidation(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	oxford, err := s.Search(ctx, Query{Kind: entity.Institution, Text: "Oxford"})
	require.NoError(t, err)
	require.Len(t, oxford, 1)

	tests := []struct {
		name   string
		kind   entity.Kind
		req    entity.CreateRequest
		reason error
	}{
		{name: "blank name", kind: entity.Person, req: entity.CreateRequest{Name: "  "}, reason: entity.ErrNameRequired},
		{name: "no region", kind: entity.Institution, req: entity.CreateRequest{Name: "Durham"}, reason: entity.ErrDiscriminatorRequired},
		{name: "no parent", kind: entity.SubUnit, req: entity.CreateRequest{Name: "Law"}, reason: entity.ErrParentRequired},
		{name: "missing parent", kind: entity.SubUnit, req: entity.CreateRequest{Name: "Law", ParentID: entity.IDPtr(999)}, reason: entity.ErrNotFound},
		{name: "parent of wrong kind", kind: entity.Course, req: entity.CreateRequest{Name: "Law", ParentID: entity.IDPtr(oxford[0].ID)}, reason: entity.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.kind, tt.req)
			assert.ErrorIs(t, err, entity.ErrValidation)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestCreateConflict(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, err := s.Create(ctx, entity.Institution, entity.CreateRequest{Name: "imperial  college", Discriminator: "LONDON"})
	var conflict *entity.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Imperial College", conflict.Existing.Name)
	assert.Equal(t, "London", conflict.Existing.Region)

	rec, err := s.Create(ctx, entity.Institution, entity.CreateRequest{Name: "Imperial College", Discriminator: "Manchester"})
	require.NoError(t, err)
	assert.Equal(t, "Manchester", rec.Region)

	subs, err := s.Search(ctx, Query{Kind: entity.SubUnit, Text: "Engineering College"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	_, err = s.Create(ctx, entity.SubUnit, entity.CreateRequest{Name: "Engineering College", ParentID: entity.IDPtr(rec.ID)})
	assert.NoError(t, err, "same name under a different parent is allowed")
}

func TestCandidateCarriesParentName(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	recs, err := s.Search(ctx, Query{Kind: entity.SubSubUnit, Text: "computing"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	cand, err := s.Candidate(ctx, recs[0])
	require.NoError(t, err)
	assert.Equal(t, "Engineering College", cand.Field("college"))
	assert.Equal(t, recs[0].ID, cand.ID)

	assert.Equal(t, []string{"Engineering College", "University of Oxford"}, s.Lineage(ctx, recs[0]))
}

func TestSearchAll(t *testing.T) {
	s := seeded(t)
	hits, err := s.SearchAll(context.Background(), "o", 0)
	require.NoError(t, err)

	byKind := map[entity.Kind][]entity.Hit{}
	for _, h := range hits {
		byKind[h.Kind] = append(byKind[h.Kind], h)
	}
	assert.Empty(t, byKind[entity.Person], "people are not part of the hierarchy")
	require.NotEmpty(t, byKind[entity.Course])
	assert.Equal(t, "School of Computing → Engineering College → University of Oxford", byKind[entity.Course][0].Parent)
	require.NotEmpty(t, byKind[entity.Institution])
	assert.Equal(t, "England", byKind[entity.Institution][0].Parent)
	assert.True(t, strings.HasPrefix(byKind[entity.Institution][0].URL, "/institution/"))

	hits, err = s.SearchAll(context.Background(), " ", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRegions(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	_, err := s.Create(ctx, entity.Institution, entity.CreateRequest{Name: "King's College", Discriminator: "london"})
	require.NoError(t, err)
	_, err = s.Create(ctx, entity.Institution, entity.CreateRequest{Name: "Durham University", Discriminator: "North East England"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "case-insensitive substring", text: "ENG", want: []string{"England", "North East England"}},
		{name: "distinct ignoring case", text: "lon", want: []string{"London"}},
		{name: "limit", text: "n", limit: 2, want: []string{"England", "London"}},
		{name: "no match", text: "wales"},
		{name: "blank", text: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Regions(ctx, tt.text, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, false, entity.DefaultRegistry())
	require.NoError(t, err)
	rec, err := s.Create(context.Background(), entity.Person, entity.CreateRequest{Name: "Grace Hopper"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, false, entity.DefaultRegistry())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", got.Name)

	next, err := s.Create(context.Background(), entity.Person, entity.CreateRequest{Name: "Alan Turing"})
	require.NoError(t, err)
	assert.Greater(t, next.ID, rec.ID)
}

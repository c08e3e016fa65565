package entity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []Kind{Institution, SubUnit, SubSubUnit, Course, Person}, r.Kinds())
}

func TestRegistryHierarchy(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []Kind{SubSubUnit, SubUnit, Institution}, r.Ancestors(Course))
	assert.Empty(t, r.Ancestors(Person))
	assert.Equal(t, []Kind{SubUnit, SubSubUnit, Course}, r.Descendants(Institution))
	assert.Equal(t, []Kind{Course}, r.Descendants(SubSubUnit))
	assert.Empty(t, r.Descendants(Person))
	assert.Equal(t, []Kind{Institution, SubUnit, SubSubUnit}, r.Hierarchy(SubSubUnit))
	assert.Equal(t, []Kind{SubUnit}, r.Children(Institution))
}

func TestRegistryOrdersParentsFirst(t *testing.T) {
	r, err := NewRegistry(
		Spec{Kind: "child", Parent: "root", ParentParam: "root_id"},
		Spec{Kind: "root"},
	)
	require.NoError(t, err)
	assert.Equal(t, []Kind{"root", "child"}, r.Kinds())
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name   string
		specs  []Spec
		errMsg string
	}{
		{name: "missing kind", specs: []Spec{{Label: "x"}}, errMsg: "missing a kind"},
		{name: "duplicate", specs: []Spec{{Kind: "a"}, {Kind: "a"}}, errMsg: "declared twice"},
		{name: "unknown parent", specs: []Spec{{Kind: "a", Parent: "b", ParentParam: "b_id"}}, errMsg: "unknown entity kind"},
		{name: "missing param", specs: []Spec{{Kind: "a"}, {Kind: "b", Parent: "a"}}, errMsg: "parent_param"},
		{
			name: "cycle",
			specs: []Spec{
				{Kind: "a", Parent: "b", ParentParam: "b_id"},
				{Kind: "b", Parent: "a", ParentParam: "a_id"},
			},
			errMsg: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLookupUnknownKind(t *testing.T) {
	_, err := DefaultRegistry().Lookup("planet")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, SubSubUnit, ParseKind(" Sub-Sub-Unit "))
	assert.Equal(t, Institution, ParseKind("INSTITUTION"))
}

func TestDisplayLabel(t *testing.T) {
	assert.Equal(t, "Sub Sub Unit", Spec{Kind: SubSubUnit}.DisplayLabel())
	assert.Equal(t, "School", Spec{Kind: SubSubUnit, Label: "School"}.DisplayLabel())
}

func TestCandidateUnmarshalKeepsRawFields(t *testing.T) {
	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"id": 7, "name": "Balliol", "university": "Oxford", "region": null}`), &c))
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "Balliol", c.Name)
	assert.Empty(t, c.Region)
	assert.Equal(t, "Oxford", c.Field("university"))
	assert.Empty(t, c.Field("region"))

	fields := c.Fields()
	assert.Equal(t, "7", fields["id"])
	assert.NotContains(t, fields, "region")
}

func TestCandidateUnmarshalStringID(t *testing.T) {
	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"id": "12", "name": "X"}`), &c))
	assert.Equal(t, int64(12), c.ID)

	err := json.Unmarshal([]byte(`{"id": "abc"}`), &c)
	require.Error(t, err)
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := error(&ValidationError{Kind: SubUnit, Field: "parent", Reason: ErrParentRequired})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, ErrParentRequired))
	assert.Equal(t, "sub_unit.parent: parent selection required", err.Error())

	var conflict error = &ConflictError{Kind: Institution, Existing: Candidate{ID: 1, Name: "Oxford"}}
	assert.True(t, errors.Is(conflict, ErrConflict))
}

func TestNameNormalization(t *testing.T) {
	assert.Equal(t, "Imperial College", NormalizeName("  Imperial \t College\u0000 "))
	assert.True(t, SameName("IMPERIAL college", "Imperial  College"))
	assert.True(t, SameName("Straße", "STRASSE"))
	assert.False(t, SameName("Oxford", "Oxford Brookes"))
	assert.True(t, ContainsFold("University of Oxford", "OXF"))
}

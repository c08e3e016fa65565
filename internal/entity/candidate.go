package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Candidate is a search result or created record as returned by the backend.
// Fields beyond id/name/region are kept in Raw for row rendering.
type Candidate struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Region string         `json:"region,omitempty"`
	Raw    map[string]any `json:"-"`
}

// UnmarshalJSON decodes the well-known fields and keeps every field in Raw.
// Backends emit ids as numbers; string ids are accepted as well.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Candidate{Raw: raw}
	switch v := raw["id"].(type) {
	case float64:
		out.ID = int64(v)
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("candidate id %q: %w", v, err)
		}
		out.ID = id
	case nil:
	default:
		return fmt.Errorf("candidate id has unsupported type %T", v)
	}
	if s, ok := raw["name"].(string); ok {
		out.Name = s
	}
	if s, ok := raw["region"].(string); ok {
		out.Region = s
	}
	*c = out
	return nil
}

// MarshalJSON writes Raw merged with the well-known fields.
func (c Candidate) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Raw)+3)
	for k, v := range c.Raw {
		m[k] = v
	}
	m["id"] = c.ID
	m["name"] = c.Name
	if c.Region != "" {
		m["region"] = c.Region
	} else if _, ok := m["region"]; !ok {
		m["region"] = nil
	}
	return json.Marshal(m)
}

// Field returns a named attribute as a string. "id", "name" and "region"
// come from the typed fields; others from Raw.
func (c Candidate) Field(name string) string {
	switch name {
	case "id":
		return strconv.FormatInt(c.ID, 10)
	case "name":
		return c.Name
	case "region":
		if c.Region != "" {
			return c.Region
		}
	}
	v, ok := c.Raw[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Fields returns the non-null attributes as strings, for expression
// evaluation.
func (c Candidate) Fields() map[string]any {
	out := make(map[string]any, len(c.Raw)+3)
	for k, v := range c.Raw {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string, bool:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	out["id"] = strconv.FormatInt(c.ID, 10)
	out["name"] = c.Name
	if c.Region != "" {
		out["region"] = c.Region
	}
	return out
}

// String implements fmt.Stringer.
func (c Candidate) String() string {
	if c.Region != "" {
		return fmt.Sprintf("#%d %s (%s)", c.ID, c.Name, c.Region)
	}
	return fmt.Sprintf("#%d %s", c.ID, c.Name)
}

// Scope is the normalized input of one search request.
type Scope struct {
	Kind     Kind
	Text     string
	ParentID *int64
}

// NewScope trims text and returns a Scope.
func NewScope(kind Kind, text string, parentID *int64) Scope {
	return Scope{Kind: kind, Text: strings.TrimSpace(text), ParentID: parentID}
}

// Empty reports whether the scope has no query text.
func (s Scope) Empty() bool { return strings.TrimSpace(s.Text) == "" }

// String implements fmt.Stringer for logging.
func (s Scope) String() string {
	if s.ParentID != nil {
		return fmt.Sprintf("%s:%q@%d", s.Kind, s.Text, *s.ParentID)
	}
	return fmt.Sprintf("%s:%q", s.Kind, s.Text)
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Name          string
	Discriminator string
	ParentID      *int64
}

// IDPtr returns a pointer to id.
func IDPtr(id int64) *int64 { return &id }

// Hit is one row of a cross-kind search.
type Hit struct {
	Kind   Kind   `json:"type"`
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Parent string `json:"parent,omitempty"`
}

package settings

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCliParams(t *testing.T) {
	got := NewCliParams()
	assert.Equal(t, &Run{}, got)
}

func TestSessionApply(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    string
	}{
		{name: "anonymous", session: Session{}, want: ""},
		{name: "blank token", session: Session{Token: "   "}, want: ""},
		{name: "default scheme", session: Session{Token: "abc"}, want: "Bearer abc"},
		{name: "custom scheme", session: Session{Token: "abc", Scheme: "Token"}, want: "Token abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "http://example.test/", nil)
			assert.NoError(t, err)
			tt.session.Apply(req)
			assert.Equal(t, tt.want, req.Header.Get("Authorization"))
			assert.Equal(t, tt.want != "", tt.session.Authenticated())
		})
	}
}

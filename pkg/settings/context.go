package settings

import (
	"context"
)

type contextKey string

const (
	settingsContextKey contextKey = "settings"
)

// IntoContext stores run settings in the context.
func IntoContext(ctx context.Context, s *Run) context.Context {
	return context.WithValue(ctx, settingsContextKey, s)
}

// FromContext retrieves run settings from the context.
func FromContext(ctx context.Context) (*Run, bool) {
	val := ctx.Value(settingsContextKey)
	s, ok := val.(*Run)
	return s, ok
}

// SessionFromContext returns the session stored with the run settings, or an
// anonymous session.
func SessionFromContext(ctx context.Context) Session {
	if s, ok := FromContext(ctx); ok && s != nil {
		return s.Session
	}
	return Session{}
}

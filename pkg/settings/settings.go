// Package settings provides build metadata, per-run configuration, the
// injected user session, and context helpers used across unifind.
package settings

import (
	"net/http"
	"strings"
)

// CliBinaryName is the canonical binary name for this tool.
const CliBinaryName = "unifind"

// VersionInformation is populated at build time via ldflags and holds the
// commit hash, semantic version, and build timestamp of the running binary.
var VersionInformation = VersionInfo{
	Commit:       "unknown",
	BuildVersion: "v0.0.0-nightly",
	BuildTime:    "unknown",
}

// VersionInfo holds metadata about the build.
type VersionInfo struct {
	Commit       string
	BuildVersion string
	BuildTime    string
}

// Session is the caller's authenticated identity. It is handed to the
// backend client at construction; the search engine never looks it up on
// its own.
type Session struct {
	// Token is sent as "Authorization: <Scheme> <Token>" when non-empty.
	Token string
	// Scheme defaults to "Bearer".
	Scheme string
	// User is informational and only used for logging.
	User string
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return strings.TrimSpace(s.Token) != ""
}

// Apply sets the authorization header on req for authenticated sessions.
func (s Session) Apply(req *http.Request) {
	if !s.Authenticated() {
		return
	}
	scheme := strings.TrimSpace(s.Scheme)
	if scheme == "" {
		scheme = "Bearer"
	}
	req.Header.Set("Authorization", scheme+" "+strings.TrimSpace(s.Token))
}

// Run holds configuration settings for a single execution of the CLI.
type Run struct {
	MinLogLevel int8
	NoColor     bool
	IsQuiet     bool
	Session     Session
}

// NewCliParams returns the default CLI run settings.
func NewCliParams() *Run {
	return &Run{
		MinLogLevel: 0,
		NoColor:     false,
		IsQuiet:     false,
	}
}

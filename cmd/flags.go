package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// kindsValue collects repeated or comma-separated --kind values. Names are
// checked against the registry once the config is loaded.
type kindsValue struct {
	names []string
}

var _ pflag.Value = (*kindsValue)(nil)

func (v *kindsValue) String() string { return strings.Join(v.names, ",") }

func (v *kindsValue) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty kind in %q", s)
		}
		v.names = append(v.names, part)
	}
	return nil
}

func (v *kindsValue) Type() string { return "kind" }

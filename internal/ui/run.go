package ui

import (
	"os"

	tea "charm.land/bubbletea/v2"
	"golang.org/x/term"
)

// Run starts the program and blocks until the user finishes or quits. The
// model is closed on return.
func Run(m *Model, opts ...tea.ProgramOption) error {
	defer m.Close()
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		m.width = w
	}
	prog := tea.NewProgram(m, opts...)
	_, err := prog.Run()
	return err
}

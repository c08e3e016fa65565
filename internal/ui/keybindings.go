package ui

import (
	"github.com/oakwood-commons/unifind/internal/finder"
)

// Action is what a key does in the form.
type Action string

const (
	ActionNone     Action = ""
	ActionDown     Action = "down"
	ActionUp       Action = "up"
	ActionEnter    Action = "enter"
	ActionEscape   Action = "escape"
	ActionNext     Action = "next_field"
	ActionPrev     Action = "prev_field"
	ActionCreate   Action = "create"
	ActionFinish   Action = "finish"
	ActionQuit     Action = "quit"
	ActionClear    Action = "clear"
	ActionNavigate Action = "navigate"
	ActionAbandon  Action = "abandon"
)

// FormKeyBindings maps key strings (tea.KeyPressMsg.String()) to actions
// while a field is being edited.
var FormKeyBindings = map[string]Action{
	"down":      ActionDown,
	"ctrl+n":    ActionDown,
	"up":        ActionUp,
	"ctrl+p":    ActionUp,
	"enter":     ActionEnter,
	"esc":       ActionEscape,
	"tab":       ActionNext,
	"shift+tab": ActionPrev,
	"ctrl+a":    ActionCreate,
	"ctrl+s":    ActionFinish,
	"ctrl+c":    ActionQuit,
	"ctrl+u":    ActionClear,
}

// ConfirmKeyBindings apply while a duplicate is awaiting an answer.
var ConfirmKeyBindings = map[string]Action{
	"enter":  ActionNavigate,
	"y":      ActionNavigate,
	"esc":    ActionAbandon,
	"n":      ActionAbandon,
	"ctrl+c": ActionQuit,
}

// FormAction returns the form action bound to key.
func FormAction(key string) Action {
	return FormKeyBindings[key]
}

// ConfirmAction returns the confirm-prompt action bound to key.
func ConfirmAction(key string) Action {
	return ConfirmKeyBindings[key]
}

// NavKey converts a navigation action into the control key it drives.
func NavKey(a Action) finder.Key {
	switch a {
	case ActionDown:
		return finder.KeyDown
	case ActionUp:
		return finder.KeyUp
	case ActionEnter:
		return finder.KeyEnter
	case ActionEscape:
		return finder.KeyEscape
	}
	return finder.KeyNone
}

package dashboard

import (
	"github.com/charmbracelet/bubbles/help"
)

// HelpBindings returns the help.KeyMap for the given mode,
// providing context-aware help bar content. canRemove hides the
// remove binding when the current plan has no loaded children.
func HelpBindings(mode Mode, canRemove bool) help.KeyMap {
	switch mode {
	case ModeInput:
		return InputKeyMap()
	case ModeConfirm:
		return ConfirmKeyMap()
	case ModeSearch:
		return SearchKeyMap()
	default:
		km := BrowseKeyMap()
		km.Remove.SetEnabled(canRemove)
		return km
	}
}

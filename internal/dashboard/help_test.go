package dashboard

import (
	"testing"

	"github.com/charmbracelet/bubbles/help"
)

func TestHelpBindings_BrowseMode(t *testing.T) {
	// Given: help bindings for browse mode
	km := HelpBindings(ModeBrowse, true)
	allKeys := collectKeys(km.ShortHelp())

	// Then: enter and quit keys are present
	if !containsKey(allKeys, "enter") {
		t.Error("browse help should contain 'enter' key")
	}
	if !containsKey(allKeys, "q") {
		t.Error("browse help should contain 'q' key")
	}
}

func TestHelpBindings_RemoveHiddenWithoutChildren(t *testing.T) {
	// Given: a current plan with no loaded children
	km := HelpBindings(ModeBrowse, false).(browseKeys)

	// Then: the remove binding is disabled
	if km.Remove.Enabled() {
		t.Error("Remove should be disabled when there is nothing to remove")
	}

	// And: the rendered help bar omits it
	h := help.New()
	h.Width = 200
	if containsPlainText(h.View(km), "remove children") {
		t.Errorf("help bar should not show remove, got %q", stripANSI(h.View(km)))
	}
}

func TestHelpBindings_FormModes(t *testing.T) {
	tests := []struct {
		mode Mode
		desc string
	}{
		{ModeInput, "preview"},
		{ModeConfirm, "confirm"},
		{ModeSearch, "jump"},
	}
	for _, tt := range tests {
		km := HelpBindings(tt.mode, true)
		bindings := km.ShortHelp()
		if len(bindings) != 2 {
			t.Fatalf("mode %d: %d bindings, want 2", tt.mode, len(bindings))
		}
		if got := bindings[0].Help().Desc; got != tt.desc {
			t.Errorf("mode %d submit desc = %q, want %q", tt.mode, got, tt.desc)
		}
		if !containsKey(collectKeys(bindings), "esc") {
			t.Errorf("mode %d should bind esc", tt.mode)
		}
	}
}

func TestHelpBindings_FullHelpGroups(t *testing.T) {
	km := HelpBindings(ModeBrowse, true)

	if got := len(km.FullHelp()); got != 3 {
		t.Errorf("FullHelp groups = %d, want 3", got)
	}
}

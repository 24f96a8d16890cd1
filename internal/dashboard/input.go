package dashboard

import (
	"fmt"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// inputState is the id prompt shown before an edit.
type inputState struct {
	op      Op
	current int
	input   textinput.Model
	err     error
}

func newInputState(op Op, current int) inputState {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 512
	if op == OpChangeParent {
		ti.Placeholder = "plan id"
	} else {
		ti.Placeholder = "e.g. 12, 15, 20"
	}
	ti.Cursor.SetMode(cursor.CursorStatic)
	ti.Focus()
	return inputState{op: op, current: current, input: ti}
}

// Update forwards a key to the text field and clears a stale error.
func (is inputState) Update(msg tea.Msg) (inputState, tea.Cmd) {
	var cmd tea.Cmd
	is.input, cmd = is.input.Update(msg)
	if _, ok := msg.(tea.KeyMsg); ok {
		is.err = nil
	}
	return is, cmd
}

// Value returns the typed text.
func (is inputState) Value() string {
	return is.input.Value()
}

func (is inputState) prompt() string {
	switch is.op {
	case OpAddChildren:
		return fmt.Sprintf("Add child plans to %d (comma-separated ids):", is.current)
	case OpRemoveChildren:
		return fmt.Sprintf("Remove child plans from %d (comma-separated ids):", is.current)
	default:
		return fmt.Sprintf("New parent for plan %d:", is.current)
	}
}

// View renders the prompt, field, and any validation error.
func (is inputState) View() string {
	s := headerText.Render(is.prompt()) + "\n\n" + is.input.View()
	if is.err != nil {
		s += "\n\n" + errorText.Render(is.err.Error())
	}
	return s
}

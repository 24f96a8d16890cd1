package dashboard

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/smileynet/plantree/internal/plan"
)

// CursorMarker is the prefix shown on the selected row.
const CursorMarker = "▸ "

// browseState manages the visible tree rows, cursor, and loading/error
// states for the left pane.
type browseState struct {
	rows    []flatNode
	cursor  int
	loading bool
	err     error // last Init failure; shown only when there is no tree
}

// newBrowseState returns a browseState in the loading state.
func newBrowseState() browseState {
	return browseState{loading: true}
}

// loadTree returns a tea.Cmd that rebuilds the tree around planID and
// wraps the outcome in a TreeLoadedMsg.
func loadTree(ctx context.Context, tree PlanTree, planID int) tea.Cmd {
	return func() tea.Msg {
		return TreeLoadedMsg{PlanID: planID, Err: tree.Init(ctx, planID)}
	}
}

// toggleCmd returns a tea.Cmd that toggles e and reports the row id.
func toggleCmd(ctx context.Context, id int, e plan.Expandable) tea.Cmd {
	return func() tea.Msg {
		return ToggledMsg{ID: id, Err: e.Toggle(ctx)}
	}
}

// expandAllCmd returns a tea.Cmd that loads the subtree below id.
func expandAllCmd(ctx context.Context, tree PlanTree, id, maxDepth int) tea.Cmd {
	return func() tea.Msg {
		return ExpandedAllMsg{ID: id, Err: tree.ExpandAll(ctx, id, maxDepth)}
	}
}

// setRows replaces the visible rows, keeping the cursor on keepID when it
// is still visible.
func (bs browseState) setRows(rows []flatNode, keepID int) browseState {
	bs.rows = rows
	if i := indexOf(rows, keepID); i >= 0 {
		bs.cursor = i
	}
	if bs.cursor >= len(rows) {
		bs.cursor = len(rows) - 1
	}
	if bs.cursor < 0 {
		bs.cursor = 0
	}
	return bs
}

// moveCursor moves the cursor by delta, wrapping at the ends.
func (bs browseState) moveCursor(delta int) browseState {
	if len(bs.rows) == 0 {
		return bs
	}
	bs.cursor = (bs.cursor + delta + len(bs.rows)) % len(bs.rows)
	return bs
}

// SelectedID returns the plan id at the cursor, or 0 if there are no rows.
func (bs browseState) SelectedID() int {
	row, ok := bs.selectedRow()
	if !ok {
		return 0
	}
	return row.View.ID
}

func (bs browseState) selectedRow() (flatNode, bool) {
	if len(bs.rows) == 0 || bs.cursor < 0 || bs.cursor >= len(bs.rows) {
		return flatNode{}, false
	}
	return bs.rows[bs.cursor], true
}

// View renders the tree pane content. spinnerView is the current spinner
// frame (may be empty when the spinner is inactive).
func (bs browseState) View(spinnerView string) string {
	if bs.loading && len(bs.rows) == 0 {
		return fmt.Sprintf("%s Loading plans...", spinnerView)
	}
	if len(bs.rows) == 0 {
		if bs.err != nil {
			return errorText.Render(fmt.Sprintf("Error: %s", bs.err)) + "\n\nPress r to retry"
		}
		return "No plan loaded, press r to reload"
	}
	return renderRows(bs.rows, bs.cursor)
}

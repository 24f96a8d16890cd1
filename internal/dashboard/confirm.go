package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/smileynet/plantree/internal/plan"
)

// OverwriteWarning is shown on every confirm screen.
const OverwriteWarning = "This operation will overwrite existing data."

// confirmState holds the data needed for the confirmation screen.
type confirmState struct {
	op      Op
	current int
	ids     []int
	records []plan.Record // Filled by PreviewMsg, in ids order.
	loading bool
}

// previewCmd returns a tea.Cmd that fetches the records ids refer to.
// Records already in cache are not fetched again; the cache is read here,
// on the update loop, and never from the command goroutine.
func previewCmd(ctx context.Context, tree PlanTree, cache *Cache, op Op, ids []int) tea.Cmd {
	cached := make(map[int]plan.Record, len(ids))
	for _, id := range ids {
		if r, ok := cache.Get(id); ok {
			cached[id] = r
		}
	}
	missing := cache.Missing(ids)
	return func() tea.Msg {
		if len(missing) > 0 {
			fetched, err := tree.Preview(ctx, missing)
			if err != nil {
				return PreviewMsg{Op: op, IDs: ids, Err: err}
			}
			for _, r := range fetched {
				cached[r.ID] = r
			}
		}
		records := make([]plan.Record, 0, len(ids))
		for _, id := range ids {
			records = append(records, cached[id])
		}
		return PreviewMsg{Op: op, IDs: ids, Records: records}
	}
}

// editCmd returns a tea.Cmd that applies a confirmed edit.
func editCmd(ctx context.Context, tree PlanTree, op Op, current int, ids []int) tea.Cmd {
	return func() tea.Msg {
		switch op {
		case OpAddChildren:
			b, err := tree.AddChildren(ctx, current, ids)
			return EditDoneMsg{Op: op, Batch: b, Err: err}
		case OpRemoveChildren:
			b, err := tree.RemoveChildren(ctx, current, ids)
			return EditDoneMsg{Op: op, Batch: b, Err: err}
		default:
			return EditDoneMsg{Op: op, Err: tree.ChangeParent(ctx, current, ids[0])}
		}
	}
}

// View renders the confirmation screen. spinnerView is shown while the
// preview is loading.
func (cs confirmState) View(spinnerView string) string {
	var b strings.Builder

	switch cs.op {
	case OpAddChildren:
		fmt.Fprintf(&b, "Add %s as children of %d?\n", plural(len(cs.ids), "plan"), cs.current)
	case OpRemoveChildren:
		fmt.Fprintf(&b, "Remove %s from the children of %d?\n", plural(len(cs.ids), "plan"), cs.current)
	default:
		fmt.Fprintf(&b, "Move plan %d under plan %d?\n", cs.current, cs.ids[0])
	}

	if cs.loading {
		fmt.Fprintf(&b, "\n  %s Loading plans...", spinnerView)
	} else {
		for _, r := range cs.records {
			fmt.Fprintf(&b, "\n  %d %s", r.ID, r.Name)
			if r.HasParent() {
				b.WriteString(mutedText.Render(fmt.Sprintf(" (parent %d)", r.ParentID)))
			}
		}
	}

	b.WriteString("\n\n  " + warnText.Render(OverwriteWarning))
	b.WriteString("\n\n  [Enter] Confirm   [Esc] Cancel")
	return b.String()
}

// editSummary turns an edit outcome into a status line.
func editSummary(msg EditDoneMsg) (string, bool) {
	if msg.Err != nil {
		if plan.IsInformational(msg.Err) {
			return "Nothing changed", false
		}
		return fmt.Sprintf("%s failed: %s", msg.Op, msg.Err), true
	}
	if msg.Op == OpChangeParent {
		return "Parent changed", false
	}

	var applied, unchanged, failed int
	for _, r := range msg.Batch.Results {
		switch r.Outcome {
		case plan.Applied:
			applied++
		case plan.Unchanged:
			unchanged++
		case plan.Failed:
			failed++
		}
	}
	s := fmt.Sprintf("%s: %d applied, %d unchanged, %d failed", msg.Op, applied, unchanged, failed)
	isErr := false
	if err := msg.Batch.Err(); err != nil {
		s += "; " + firstLine(err)
		isErr = true
	}
	if msg.Batch.RefreshErr != nil {
		s += "; tree may be stale: " + msg.Batch.RefreshErr.Error()
		isErr = true
	}
	return s, isErr
}

// firstLine keeps a joined error readable on a single status line.
func firstLine(err error) string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		if errs := joined.Unwrap(); len(errs) > 0 {
			s := errs[0].Error()
			if len(errs) > 1 {
				s += fmt.Sprintf(" (+%d more)", len(errs)-1)
			}
			return s
		}
	}
	return err.Error()
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// Package dashboard implements a two-pane TUI for browsing a plan tree and
// editing its parent/child links.
package dashboard

import (
	"context"

	"github.com/smileynet/plantree/internal/plan"
)

// Mode represents the current dashboard view mode.
type Mode int

const (
	ModeBrowse  Mode = iota // Browsing the tree with detail pane.
	ModeInput               // Typing plan ids for an edit.
	ModeConfirm             // Reviewing an edit before it is sent.
	ModeSearch              // Fuzzy-finding a visible plan.
)

// Focus represents which pane has keyboard focus.
type Focus int

const (
	PaneLeft  Focus = iota // Left pane (plan tree) has focus.
	PaneRight              // Right pane (detail sections) has focus.
)

// Op is a tree edit the user can start from browse mode.
type Op int

const (
	OpAddChildren Op = iota
	OpRemoveChildren
	OpChangeParent
)

// String returns the label used in prompts and status lines.
func (o Op) String() string {
	switch o {
	case OpAddChildren:
		return "add children"
	case OpRemoveChildren:
		return "remove children"
	case OpChangeParent:
		return "change parent"
	default:
		return "unknown"
	}
}

// --- Consumer-side interfaces ---

// PlanTree is the subset of *plan.Tree the dashboard drives.
type PlanTree interface {
	Init(ctx context.Context, planID int) error
	Snapshot() (plan.View, bool)
	Handle(id int) plan.Handle
	ExpandAll(ctx context.Context, id, maxDepth int) error
	CanRemoveChildren(id int) bool
	Hierarchy() (*plan.Hierarchy, error)

	ValidateAddChildren(current int, input string) ([]int, error)
	ValidateRemoveChildren(current int, input string) ([]int, error)
	ValidateChangeParent(current int, input string) (int, error)
	Preview(ctx context.Context, ids []int) ([]plan.Record, error)

	AddChildren(ctx context.Context, current int, ids []int) (plan.Batch, error)
	RemoveChildren(ctx context.Context, current int, ids []int) (plan.Batch, error)
	ChangeParent(ctx context.Context, current, newParent int) error
}

var _ PlanTree = (*plan.Tree)(nil)

// --- tea.Msg types ---

// TreeLoadedMsg carries the result of initializing the tree on a plan.
type TreeLoadedMsg struct {
	PlanID int
	Err    error
}

// ToggledMsg carries the result of expanding or collapsing one row.
type ToggledMsg struct {
	ID  int
	Err error
}

// ExpandedAllMsg carries the result of expanding a whole subtree.
type ExpandedAllMsg struct {
	ID  int
	Err error
}

// PreviewMsg carries the records an edit will touch, for the confirm screen.
type PreviewMsg struct {
	Op      Op
	IDs     []int
	Records []plan.Record
	Err     error
}

// EditDoneMsg carries the outcome of a confirmed edit.
type EditDoneMsg struct {
	Op    Op
	Batch plan.Batch // Empty for OpChangeParent.
	Err   error
}

// ReloadMsg signals that the tree should be rebuilt around the current plan.
// browse mode emits this on 'r'; Model.Update intercepts it and calls loadTree.
type ReloadMsg struct{}

package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/smileynet/plantree/internal/plan"
)

func TestNewModel_Defaults(t *testing.T) {
	m := NewModel(plan.New(newFakeSource()), 3)

	if m.mode != ModeBrowse {
		t.Errorf("mode = %d, want ModeBrowse", m.mode)
	}
	if m.focus != PaneLeft {
		t.Errorf("focus = %d, want PaneLeft", m.focus)
	}
	if !m.browse.loading {
		t.Error("new model should be loading")
	}
	if got := m.View(); got != "Initializing..." {
		t.Errorf("unsized View() = %q", got)
	}
}

func TestModel_InitLoadsTree(t *testing.T) {
	// Given/When: a model initialized on plan 3
	m, _, _ := loadedModel(t, 3)

	// Then: the parent, siblings and current children are visible
	if diff := cmp.Diff([]int{2, 3, 4, 7, 8}, rowIDs(m)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	// And: the cursor starts on the current plan
	if got := m.browse.SelectedID(); got != 3 {
		t.Errorf("selected = %d, want 3", got)
	}
	if m.detail.section("Hierarchy") == nil {
		t.Error("current plan detail should include the hierarchy")
	}
}

func TestModel_InitFailureShowsError(t *testing.T) {
	m := NewModel(plan.New(newFakeSource()), 99)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = feed(t, updated.(Model), m.Init())

	if !errors.Is(m.browse.err, plan.ErrNotFound) {
		t.Fatalf("browse.err = %v, want ErrNotFound", m.browse.err)
	}
	if !containsPlainText(m.View(), "Press r to retry") {
		t.Errorf("view should offer a retry, got:\n%s", stripANSI(m.View()))
	}
}

func TestModel_ToggleFetchesChildren(t *testing.T) {
	// Given: the cursor on plan 4, whose children are not loaded
	m, tree, _ := loadedModel(t, 3)
	m = press(t, m, "down")
	if got := m.browse.SelectedID(); got != 4 {
		t.Fatalf("selected = %d, want 4", got)
	}

	// When: enter is pressed
	m = press(t, m, "enter")

	// Then: its children appear below it
	if diff := cmp.Diff([]int{2, 3, 4, 5, 6, 7, 8}, rowIDs(m)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if !tree.Find(4).Expanded() {
		t.Error("plan 4 should be expanded")
	}
	if m.pending != 0 {
		t.Errorf("pending = %d, want 0", m.pending)
	}
}

func TestModel_ToggleCollapses(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	m = press(t, m, "enter")

	if diff := cmp.Diff([]int{2, 3, 8}, rowIDs(m)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_ToggleErrorShowsStatus(t *testing.T) {
	m, _, src := loadedModel(t, 3)
	src.fail[4] = plan.ErrNetwork

	m = press(t, m, "down", "enter")

	if !m.statusErr || !strings.Contains(m.status, "Expand plan 4") {
		t.Errorf("status = %q (err=%v), want expand failure", m.status, m.statusErr)
	}
}

func TestModel_ExpandAll(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	// When: E is pressed on the root
	m = press(t, m, "up", "E")

	// Then: every plan below the root is visible
	if diff := cmp.Diff([]int{2, 3, 4, 5, 6, 7, 8}, rowIDs(m)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_MakeCurrent(t *testing.T) {
	// Given: the cursor on sibling 8
	m, _, _ := loadedModel(t, 3)
	m = press(t, m, "up", "up")
	if got := m.browse.SelectedID(); got != 8 {
		t.Fatalf("selected = %d, want 8", got)
	}

	// When: g is pressed
	m = press(t, m, "g")

	// Then: the tree is rebuilt around plan 8
	if m.planID != 8 {
		t.Errorf("planID = %d, want 8", m.planID)
	}
	if got := m.browse.SelectedID(); got != 8 {
		t.Errorf("cursor = %d, want 8", got)
	}
}

func TestModel_AddChildrenFlow(t *testing.T) {
	// Given: a tree centred on plan 3
	m, tree, src := loadedModel(t, 3)

	// When: adding plan 8 as a child
	m = press(t, m, "a")
	if m.mode != ModeInput {
		t.Fatalf("mode = %d, want ModeInput", m.mode)
	}
	m = press(t, m, "8", "enter")

	// Then: the confirm screen shows the previewed plan
	if m.mode != ModeConfirm || m.confirm.loading {
		t.Fatalf("mode = %d loading = %v, want loaded confirm", m.mode, m.confirm.loading)
	}
	if !containsPlainText(m.View(), OverwriteWarning) {
		t.Errorf("confirm view should warn, got:\n%s", stripANSI(m.View()))
	}

	// When: confirmed
	m = press(t, m, "enter")

	// Then: the update was sent and 8 now sits under 3
	if len(src.updates) != 1 || src.updates[0].ObjectID != 8 || src.updates[0].Value != "3" {
		t.Fatalf("updates = %+v", src.updates)
	}
	if m.mode != ModeBrowse {
		t.Errorf("mode = %d, want ModeBrowse", m.mode)
	}
	if !strings.Contains(m.status, "1 applied") {
		t.Errorf("status = %q", m.status)
	}
	if diff := cmp.Diff([]int{4, 7, 8}, childIDs(tree.Find(3))); diff != "" {
		t.Errorf("children of 3 mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_InputValidationError(t *testing.T) {
	// Given: the add-children prompt
	m, _, src := loadedModel(t, 3)
	m = press(t, m, "a")

	// When: the current plan's own id is entered
	m = press(t, m, "3", "enter")

	// Then: the prompt stays open with an error and nothing is sent
	if m.mode != ModeInput {
		t.Errorf("mode = %d, want ModeInput", m.mode)
	}
	if !errors.Is(m.input.err, plan.ErrValidation) {
		t.Errorf("input.err = %v, want ErrValidation", m.input.err)
	}
	if len(src.updates) != 0 {
		t.Errorf("updates = %d, want 0", len(src.updates))
	}
}

func TestModel_PreviewErrorReturnsToInput(t *testing.T) {
	m, _, _ := loadedModel(t, 3)
	m = press(t, m, "a", "9", "9", "enter")

	if m.mode != ModeInput {
		t.Fatalf("mode = %d, want ModeInput", m.mode)
	}
	if !errors.Is(m.input.err, plan.ErrNotFound) {
		t.Errorf("input.err = %v, want ErrNotFound", m.input.err)
	}
}

func TestModel_ConfirmCancel(t *testing.T) {
	m, _, src := loadedModel(t, 3)

	m = press(t, m, "p", "1", "enter", "esc")

	if m.mode != ModeBrowse {
		t.Errorf("mode = %d, want ModeBrowse", m.mode)
	}
	if len(src.updates) != 0 {
		t.Errorf("cancel should not send updates, got %d", len(src.updates))
	}
}

func TestModel_ChangeParentFlow(t *testing.T) {
	m, tree, _ := loadedModel(t, 3)

	m = press(t, m, "p", "1", "enter", "y")

	if m.status != "Parent changed" {
		t.Errorf("status = %q", m.status)
	}
	if got := tree.RootID(); got != 1 {
		t.Errorf("RootID() = %d, want 1", got)
	}
}

func TestModel_RemoveWithoutChildren(t *testing.T) {
	// Given: plan 7 is a leaf
	m, _, _ := loadedModel(t, 7)

	// When: x is pressed
	m = press(t, m, "x")

	// Then: the prompt does not open
	if m.mode != ModeBrowse {
		t.Errorf("mode = %d, want ModeBrowse", m.mode)
	}
	if !strings.Contains(m.status, "no child plans") {
		t.Errorf("status = %q", m.status)
	}
}

func TestModel_SearchJumps(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	m = press(t, m, "/", "7", "enter")

	if m.mode != ModeBrowse {
		t.Errorf("mode = %d, want ModeBrowse", m.mode)
	}
	if got := m.browse.SelectedID(); got != 7 {
		t.Errorf("selected = %d, want 7", got)
	}
}

func TestModel_TabTogglesFocusAndDetail(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	m = press(t, m, "tab")
	if m.focus != PaneRight {
		t.Fatalf("focus = %d, want PaneRight", m.focus)
	}

	// When: moving to Counts and toggling it
	m = press(t, m, "down", "enter")

	// Then: the section opens without touching the tree cursor
	if !m.detail.section("Counts").expanded {
		t.Error("Counts should be expanded")
	}
	if got := m.browse.SelectedID(); got != 3 {
		t.Errorf("tree cursor moved to %d", got)
	}

	m = press(t, m, "tab")
	if m.focus != PaneLeft {
		t.Errorf("focus = %d, want PaneLeft", m.focus)
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	for _, k := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(k)
		if cmd == nil {
			t.Fatalf("%s should return a command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s did not quit", k)
		}
	}
}

func TestModel_QTypesInInput(t *testing.T) {
	m, _, _ := loadedModel(t, 3)
	m = press(t, m, "p")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Fatal("q should not quit while typing")
		}
	}
	if got := updated.(Model).input.Value(); got != "q" {
		t.Errorf("input = %q, want %q", got, "q")
	}
}

func TestModel_ViewLayout(t *testing.T) {
	m, _, _ := loadedModel(t, 3)

	plain := stripANSI(m.View())

	for _, want := range []string{"3 Plan 3 (current)", "Summary", "add children"} {
		if !strings.Contains(plain, want) {
			t.Errorf("view should contain %q, got:\n%s", want, plain)
		}
	}
}

func childIDs(n *plan.Node) []int {
	out := make([]int, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.ID
	}
	return out
}

func TestModel_PlanIDFollowsMakeCurrent(t *testing.T) {
	m, _, _ := loadedModel(t, 3)
	if !m.Loaded() || m.PlanID() != 3 {
		t.Fatalf("Loaded() = %v PlanID() = %d", m.Loaded(), m.PlanID())
	}

	m = press(t, m, "up", "up", "g")

	if got := m.PlanID(); got != 8 {
		t.Errorf("PlanID() = %d, want 8", got)
	}
}

type failingSection struct{ err error }

func (f failingSection) Expand(context.Context) error { return f.err }
func (f failingSection) Toggle(context.Context) error { return f.err }

func TestModel_ToggleSectionErrorShowsStatus(t *testing.T) {
	// Given: a loaded model and a section whose toggle fails
	m, _, _ := loadedModel(t, 3)

	// When: the section is toggled
	m = m.toggleSection(failingSection{err: errors.New("section unavailable")})

	// Then: the failure is on the status line
	if !m.statusErr || !strings.Contains(m.status, "section unavailable") {
		t.Errorf("status = %q (err=%v), want toggle failure", m.status, m.statusErr)
	}

	// And: a successful toggle leaves the status alone
	m = m.setStatus("", false)
	m = m.toggleSection(failingSection{})
	if m.statusErr || m.status != "" {
		t.Errorf("status = %q (err=%v), want empty", m.status, m.statusErr)
	}
}

package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/smileynet/plantree/internal/plan"
)

// stripANSI removes ANSI escape sequences from a string.
func stripANSI(s string) string {
	var out []byte
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 'A' || s[j] > 'Z') && (s[j] < 'a' || s[j] > 'z') {
				j++
			}
			if j < len(s) {
				j++
			}
			i = j
		} else {
			out = append(out, s[i])
			i++
		}
	}
	return string(out)
}

// containsPlainText checks if s contains sub after stripping ANSI escapes.
func containsPlainText(s, sub string) bool {
	return strings.Contains(stripANSI(s), sub)
}

// execBatch executes a tea.Cmd, handling both single commands and batch
// commands. It returns all resulting messages. Spinner ticks are skipped
// to avoid infinite recursion.
func execBatch(t *testing.T, cmd tea.Cmd) []tea.Msg {
	t.Helper()
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			if c != nil {
				result := c()
				if _, isTick := result.(spinner.TickMsg); !isTick {
					msgs = append(msgs, result)
				}
			}
		}
		return msgs
	}
	if _, isTick := msg.(spinner.TickMsg); isTick {
		return nil
	}
	return []tea.Msg{msg}
}

// feed runs cmd and feeds every resulting message back into m.
func feed(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, msg := range execBatch(t, cmd) {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

// press sends a key to m and feeds back the messages its command yields.
func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		updated, cmd := m.Update(msg)
		m = feed(t, updated.(Model), cmd)
	}
	return m
}

// fakeSource serves the plans 1←2←3←4←{5,6}, 3←7, 2←8 and applies parent
// updates to its own copy so re-reads see them.
type fakeSource struct {
	mu      sync.Mutex
	plans   map[int]plan.Record
	fail    map[int]error // keyed by plan id for Plan and parent id for Children
	updates []plan.FieldUpdate
}

func newFakeSource() *fakeSource {
	f := &fakeSource{plans: make(map[int]plan.Record), fail: make(map[int]error)}
	for id, parent := range map[int]int{1: 0, 2: 1, 3: 2, 4: 3, 5: 4, 6: 4, 7: 3, 8: 2} {
		f.plans[id] = plan.Record{ID: id, ParentID: parent, Name: fmt.Sprintf("Plan %d", id), Active: id != 8}
	}
	for id := range f.plans {
		f.plans[id] = f.withCount(f.plans[id])
	}
	return f
}

func (f *fakeSource) withCount(r plan.Record) plan.Record {
	r.NumChildren = 0
	for _, p := range f.plans {
		if p.ParentID == r.ID {
			r.NumChildren++
		}
	}
	return r
}

func (f *fakeSource) Plan(_ context.Context, id int) (plan.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return plan.Record{}, err
	}
	r, ok := f.plans[id]
	if !ok {
		return plan.Record{}, fmt.Errorf("%w: plan %d", plan.ErrNotFound, id)
	}
	return f.withCount(r), nil
}

func (f *fakeSource) Children(_ context.Context, parentID int) ([]plan.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[parentID]; err != nil {
		return nil, err
	}
	var out []plan.Record
	for _, r := range f.plans {
		if r.ParentID == parentID {
			out = append(out, f.withCount(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSource) UpdateField(_ context.Context, u plan.FieldUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	r, ok := f.plans[u.ObjectID]
	if !ok {
		return fmt.Errorf("%w: plan %d", plan.ErrNotFound, u.ObjectID)
	}
	parent, _ := strconv.Atoi(u.Value)
	if r.ParentID == parent {
		return plan.ErrConflict
	}
	r.ParentID = parent
	f.plans[u.ObjectID] = r
	return nil
}

// loadedModel returns a sized Model whose tree is centred on planID.
func loadedModel(t *testing.T, planID int) (Model, *plan.Tree, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	tree := plan.New(src)
	m := NewModel(tree, planID)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = feed(t, updated.(Model), m.Init())
	if m.browse.loading {
		t.Fatal("tree should be loaded after Init")
	}
	return m, tree, src
}

// rowIDs returns the plan ids of the visible rows in order.
func rowIDs(m Model) []int {
	ids := make([]int, len(m.browse.rows))
	for i, r := range m.browse.rows {
		ids[i] = r.View.ID
	}
	return ids
}

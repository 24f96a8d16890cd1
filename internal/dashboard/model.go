package dashboard

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/smileynet/plantree/internal/plan"
)

// helpBarHeight is the number of lines reserved for the help bar at the bottom.
const helpBarHeight = 1

// statusBarHeight is the number of lines reserved for the status line.
const statusBarHeight = 1

// borderChrome is the number of lines consumed by top + bottom borders.
const borderChrome = 2

// Model is the root Bubble Tea model for the dashboard TUI.
// It manages a two-pane layout with mode-based routing and focus management.
type Model struct {
	ctx         context.Context
	tree        PlanTree
	log         *zap.Logger
	planID      int
	expandDepth int

	mode     Mode
	focus    Focus
	width    int
	height   int
	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model

	browse  browseState
	detail  detailState
	input   inputState
	confirm confirmState
	search  searchState
	cache   *Cache

	pending   int // tree commands in flight
	status    string
	statusErr bool
}

// Option configures a Model.
type Option func(*Model)

// WithContext sets the context passed to every tree operation.
func WithContext(ctx context.Context) Option {
	return func(m *Model) {
		if ctx != nil {
			m.ctx = ctx
		}
	}
}

// WithLogger sets the logger. The TUI owns the terminal, so it should
// write to a file or be a no-op.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

// WithExpandDepth limits how many levels "expand all" loads (0 = unlimited).
func WithExpandDepth(depth int) Option {
	return func(m *Model) {
		m.expandDepth = depth
	}
}

// NewModel creates a dashboard Model in browse mode with left-pane focus,
// centred on planID.
func NewModel(tree PlanTree, planID int, opts ...Option) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	m := Model{
		ctx:      context.Background(),
		tree:     tree,
		log:      zap.NewNop(),
		planID:   planID,
		mode:     ModeBrowse,
		focus:    PaneLeft,
		viewport: viewport.New(0, 0),
		help:     help.New(),
		spinner:  s,
		browse:   newBrowseState(),
		cache:    NewCache(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// PlanID returns the plan the tree is centred on.
func (m Model) PlanID() int {
	return m.planID
}

// Loaded reports whether a tree has been shown.
func (m Model) Loaded() bool {
	return len(m.browse.rows) > 0
}

// Init starts the spinner and loads the tree.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadTree(m.ctx, m.tree, m.planID))
}

// Update handles incoming messages with mode-based routing.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		_, rightWidth := PaneWidths(msg.Width)
		m.viewport.Width = max(rightWidth-borderChrome, 0)
		m.viewport.Height = m.contentHeight()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.pending > 0 {
			// Pick up rows that started fetching since the last message.
			m = m.refresh()
		}
		return m, cmd

	case TreeLoadedMsg:
		m.browse.loading = false
		if msg.Err != nil {
			m.browse.err = msg.Err
			m = m.setStatus(fmt.Sprintf("Load plan %d: %s", msg.PlanID, msg.Err), true)
			m.log.Warn("tree load failed", zap.Int("plan", msg.PlanID), zap.Error(msg.Err))
			return m.refresh(), nil
		}
		m.browse.err = nil
		m.planID = msg.PlanID
		m.cache.Invalidate()
		m = m.refresh()
		m.browse = m.browse.setRows(m.browse.rows, msg.PlanID)
		return m.refreshDetail(), nil

	case ToggledMsg:
		m.pending = max(m.pending-1, 0)
		if msg.Err != nil {
			m = m.setStatus(fmt.Sprintf("Expand plan %d: %s", msg.ID, msg.Err), true)
		}
		return m.refresh(), nil

	case ExpandedAllMsg:
		m.pending = max(m.pending-1, 0)
		if msg.Err != nil {
			m = m.setStatus(fmt.Sprintf("Expand all below %d: %s", msg.ID, msg.Err), true)
		} else {
			m = m.setStatus(fmt.Sprintf("Expanded everything below %d", msg.ID), false)
		}
		return m.refresh(), nil

	case PreviewMsg:
		if m.mode != ModeConfirm {
			return m, nil
		}
		if msg.Err != nil {
			m.mode = ModeInput
			m.input.err = msg.Err
			return m, nil
		}
		for _, r := range msg.Records {
			m.cache.Set(r)
		}
		m.confirm.records = msg.Records
		m.confirm.loading = false
		return m, nil

	case EditDoneMsg:
		m.pending = max(m.pending-1, 0)
		m.cache.Invalidate()
		status, isErr := editSummary(msg)
		m = m.setStatus(status, isErr)
		m.log.Info("edit finished",
			zap.Stringer("op", msg.Op),
			zap.String("batch", msg.Batch.ID),
			zap.Ints("applied", msg.Batch.Applied()),
			zap.Error(msg.Err))
		return m.refresh(), nil

	case ReloadMsg:
		m.browse.loading = true
		return m, loadTree(m.ctx, m.tree, m.planID)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// handleKey processes key messages with global and mode-specific routing.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.mode {
	case ModeInput:
		return m.handleInputKey(msg)
	case ModeConfirm:
		return m.handleConfirmKey(msg)
	case ModeSearch:
		return m.handleSearchKey(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "tab":
		if m.focus == PaneLeft {
			m.focus = PaneRight
		} else {
			m.focus = PaneLeft
		}
		return m, nil
	case "?":
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case "r":
		return m, func() tea.Msg { return ReloadMsg{} }
	}

	if m.browse.loading && len(m.browse.rows) == 0 {
		return m, nil
	}
	if m.focus == PaneRight {
		return m.handleDetailKey(msg)
	}
	return m.handleBrowseKey(msg)
}

func (m Model) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	selected := m.browse.SelectedID()

	switch msg.String() {
	case "up", "k":
		m.browse = m.browse.moveCursor(-1)
		return m.refreshDetail(), nil

	case "down", "j":
		m.browse = m.browse.moveCursor(1)
		return m.refreshDetail(), nil

	case "enter", " ":
		if selected == 0 {
			return m, nil
		}
		m.pending++
		return m, tea.Batch(toggleCmd(m.ctx, selected, m.tree.Handle(selected)), m.spinner.Tick)

	case "E":
		if selected == 0 {
			return m, nil
		}
		m.pending++
		return m, tea.Batch(expandAllCmd(m.ctx, m.tree, selected, m.expandDepth), m.spinner.Tick)

	case "g":
		if selected == 0 || selected == m.planID {
			return m, nil
		}
		m.browse.loading = true
		return m, tea.Batch(loadTree(m.ctx, m.tree, selected), m.spinner.Tick)

	case "a":
		return m.startInput(OpAddChildren), nil

	case "x":
		if !m.tree.CanRemoveChildren(m.planID) {
			return m.setStatus(fmt.Sprintf("Plan %d has no child plans to remove", m.planID), true), nil
		}
		return m.startInput(OpRemoveChildren), nil

	case "p":
		return m.startInput(OpChangeParent), nil

	case "/":
		m.mode = ModeSearch
		m.search = newSearchState(m.browse.rows)
		return m, nil
	}

	return m, nil
}

func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.detail = m.detail.moveCursor(-1)
	case "down", "j":
		m.detail = m.detail.moveCursor(1)
	case "enter", " ":
		if e := m.detail.selected(); e != nil {
			m = m.toggleSection(e)
		}
	}
	return m, nil
}

// toggleSection flips a detail section in place and reports a failure on the
// status line.
func (m Model) toggleSection(e plan.Expandable) Model {
	if err := e.Toggle(m.ctx); err != nil {
		return m.setStatus(fmt.Sprintf("Toggle section: %s", firstLine(err)), true)
	}
	return m
}

func (m Model) startInput(op Op) Model {
	m.mode = ModeInput
	m.input = newInputState(op, m.planID)
	m.status = ""
	return m
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = ModeBrowse
		return m, nil

	case "enter":
		ids, err := m.validate(m.input.op, m.input.Value())
		if err != nil {
			m.input.err = err
			return m, nil
		}
		m.mode = ModeConfirm
		m.confirm = confirmState{op: m.input.op, current: m.planID, ids: ids, loading: true}
		return m, tea.Batch(previewCmd(m.ctx, m.tree, m.cache, m.input.op, ids), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// validate runs the synchronous checks for op against the loaded tree.
func (m Model) validate(op Op, value string) ([]int, error) {
	switch op {
	case OpAddChildren:
		return m.tree.ValidateAddChildren(m.planID, value)
	case OpRemoveChildren:
		return m.tree.ValidateRemoveChildren(m.planID, value)
	default:
		id, err := m.tree.ValidateChangeParent(m.planID, value)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "n":
		m.mode = ModeBrowse
		return m.setStatus("Cancelled", false), nil
	case "enter", "y":
		if m.confirm.loading {
			return m, nil
		}
		m.mode = ModeBrowse
		m.pending++
		m = m.setStatus(fmt.Sprintf("Applying %s...", m.confirm.op), false)
		return m, tea.Batch(editCmd(m.ctx, m.tree, m.confirm.op, m.confirm.current, m.confirm.ids), m.spinner.Tick)
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = ModeBrowse
		return m, nil
	case "enter":
		m.mode = ModeBrowse
		if id := m.search.SelectedID(); id != 0 {
			m.browse = m.browse.setRows(m.browse.rows, id)
			return m.refreshDetail(), nil
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

// refresh re-reads the tree snapshot into rows and the detail pane.
func (m Model) refresh() Model {
	snap, ok := m.tree.Snapshot()
	if !ok {
		m.browse.rows = nil
		m.detail = detailState{}
		return m
	}
	m.browse = m.browse.setRows(flattenTree(snap), m.browse.SelectedID())
	return m.refreshDetail()
}

func (m Model) refreshDetail() Model {
	row, ok := m.browse.selectedRow()
	if !ok {
		m.detail = detailState{}
		return m
	}
	var hier *plan.Hierarchy
	if row.View.IsCurrent {
		if h, err := m.tree.Hierarchy(); err == nil {
			hier = h
		}
	}
	m.detail = newDetail(row.View, hier, m.detail)
	return m
}

func (m Model) setStatus(s string, isErr bool) Model {
	m.status = s
	m.statusErr = isErr
	return m
}

// contentHeight returns the usable height for pane content,
// accounting for border chrome, the status line and the help bar.
func (m Model) contentHeight() int {
	h := m.height - borderChrome - statusBarHeight - helpBarHeight
	if h < 1 {
		return 1
	}
	return h
}

// View renders the two-pane layout with status line and help bar.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftWidth, rightWidth := PaneWidths(m.width)
	contentHeight := m.contentHeight()

	var leftStyle, rightStyle lipgloss.Style
	if m.focus == PaneLeft {
		leftStyle = FocusedBorder()
		rightStyle = UnfocusedBorder()
	} else {
		leftStyle = UnfocusedBorder()
		rightStyle = FocusedBorder()
	}

	leftStyle = leftStyle.
		Width(leftWidth - borderChrome).
		Height(contentHeight)
	rightStyle = rightStyle.
		Width(rightWidth - borderChrome).
		Height(contentHeight)

	vp := m.viewport
	vp.SetContent(m.viewRight())

	leftPane := leftStyle.Render(m.viewLeft())
	rightPane := rightStyle.Render(vp.View())
	panes := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)
	helpView := m.help.View(HelpBindings(m.mode, m.tree.CanRemoveChildren(m.planID)))

	return lipgloss.JoinVertical(lipgloss.Left, panes, m.viewStatus(), helpView)
}

// viewLeft renders the tree pane, or the search prompt in search mode.
func (m Model) viewLeft() string {
	if m.mode == ModeSearch {
		return m.search.View()
	}
	return m.browse.View(m.spinner.View())
}

// viewRight renders the right pane content based on mode.
func (m Model) viewRight() string {
	switch m.mode {
	case ModeInput:
		return m.input.View()
	case ModeConfirm:
		return m.confirm.View(m.spinner.View())
	default:
		return m.detail.View(m.focus == PaneRight)
	}
}

func (m Model) viewStatus() string {
	s := m.status
	if m.pending > 0 {
		s = m.spinner.View() + " " + s
	}
	if m.statusErr {
		return errorText.Render(s)
	}
	return mutedText.Render(s)
}

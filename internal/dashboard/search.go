package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"
)

// maxSearchResults caps how many matches the search pane lists.
const maxSearchResults = 10

// searchState fuzzy-matches the visible rows by id and name.
type searchState struct {
	input    textinput.Model
	labels   []string
	ids      []int
	matches  fuzzy.Matches
	selected int
}

func newSearchState(rows []flatNode) searchState {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "plan id or name"
	ti.Cursor.SetMode(cursor.CursorStatic)
	ti.Focus()

	ss := searchState{input: ti}
	for _, r := range rows {
		ss.labels = append(ss.labels, fmt.Sprintf("%d %s", r.View.ID, r.View.Name))
		ss.ids = append(ss.ids, r.View.ID)
	}
	return ss
}

// Update forwards a key to the query field and re-runs the match.
func (ss searchState) Update(msg tea.Msg) (searchState, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "up", "ctrl+p":
			if len(ss.matches) > 0 {
				ss.selected = (ss.selected - 1 + ss.visible()) % ss.visible()
			}
			return ss, nil
		case "down", "ctrl+n":
			if len(ss.matches) > 0 {
				ss.selected = (ss.selected + 1) % ss.visible()
			}
			return ss, nil
		}
	}
	var cmd tea.Cmd
	ss.input, cmd = ss.input.Update(msg)
	ss = ss.filter()
	return ss, cmd
}

func (ss searchState) filter() searchState {
	query := strings.TrimSpace(ss.input.Value())
	if query == "" {
		ss.matches = nil
	} else {
		ss.matches = fuzzy.Find(query, ss.labels)
	}
	ss.selected = 0
	return ss
}

func (ss searchState) visible() int {
	return min(len(ss.matches), maxSearchResults)
}

// SelectedID returns the plan id of the highlighted match, or 0.
func (ss searchState) SelectedID() int {
	if ss.selected >= ss.visible() {
		return 0
	}
	return ss.ids[ss.matches[ss.selected].Index]
}

// View renders the query and the best matches with matched runes underlined.
func (ss searchState) View() string {
	var b strings.Builder
	b.WriteString(ss.input.View())
	if strings.TrimSpace(ss.input.Value()) != "" && len(ss.matches) == 0 {
		b.WriteString("\n\n" + mutedText.Render("No matching plans"))
		return b.String()
	}
	if len(ss.matches) > 0 {
		b.WriteByte('\n')
	}
	for i := 0; i < ss.visible(); i++ {
		b.WriteByte('\n')
		if i == ss.selected {
			b.WriteString(CursorMarker)
		} else {
			b.WriteString("  ")
		}
		b.WriteString(highlight(ss.matches[i]))
	}
	return b.String()
}

func highlight(m fuzzy.Match) string {
	hit := make(map[int]bool, len(m.MatchedIndexes))
	for _, i := range m.MatchedIndexes {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range m.Str {
		if hit[i] {
			b.WriteString(matchText.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

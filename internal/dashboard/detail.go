package dashboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/smileynet/plantree/internal/plan"
)

// detailSection is a collapsible block of the detail pane.
type detailSection struct {
	title    string
	lines    []string
	expanded bool
}

var _ plan.Expandable = (*detailSection)(nil)

// Expand shows the section body.
func (s *detailSection) Expand(context.Context) error {
	s.expanded = true
	return nil
}

// Toggle flips the section between shown and hidden.
func (s *detailSection) Toggle(context.Context) error {
	s.expanded = !s.expanded
	return nil
}

// detailState is the right pane: the selected plan split into sections.
type detailState struct {
	planID   int
	sections []*detailSection
	cursor   int
}

// newDetail builds the sections for the selected row. Expansion state is
// carried over from prev by section title so moving the cursor keeps the
// user's layout. hier may be nil.
func newDetail(v plan.View, hier *plan.Hierarchy, prev detailState) detailState {
	ds := detailState{planID: v.ID}

	summary := []string{
		fmt.Sprintf("Plan %d", v.ID),
		v.Name,
		"Status: " + ActiveBadge(v.Active),
	}
	if v.URL != "" {
		summary = append(summary, "URL: "+v.URL)
	}
	if v.HasParent() {
		summary = append(summary, fmt.Sprintf("Parent: %d", v.ParentID))
	} else {
		summary = append(summary, "Parent: none")
	}
	ds.sections = append(ds.sections, &detailSection{title: "Summary", lines: summary, expanded: true})

	ds.sections = append(ds.sections, &detailSection{title: "Counts", lines: []string{
		fmt.Sprintf("Child plans: %d", v.NumChildren),
		fmt.Sprintf("Cases:       %d", v.NumCases),
		fmt.Sprintf("Runs:        %d", v.NumRuns),
	}})

	var children []string
	switch {
	case !v.Loaded && v.NumChildren > 0:
		children = []string{mutedText.Render("not loaded, expand to fetch")}
	case len(v.Children) == 0:
		children = []string{mutedText.Render("none")}
	default:
		for _, c := range v.Children {
			children = append(children, fmt.Sprintf("%d %s", c.ID, c.Name))
		}
	}
	ds.sections = append(ds.sections, &detailSection{title: "Children", lines: children})

	if v.IsCurrent && hier != nil {
		ds.sections = append(ds.sections, &detailSection{title: "Hierarchy", lines: []string{
			"Ancestors:   " + joinIDs(hier.Ancestors()),
			"Descendants: " + joinIDs(hier.Descendants(false)) + mutedText.Render(" (loaded)"),
		}})
	}

	ctx := context.Background()
	for _, s := range ds.sections {
		if old := prev.section(s.title); old != nil && old.expanded != s.expanded {
			_ = s.Toggle(ctx)
		}
	}
	if prev.cursor < len(ds.sections) {
		ds.cursor = prev.cursor
	}
	return ds
}

func (ds detailState) section(title string) *detailSection {
	for _, s := range ds.sections {
		if s.title == title {
			return s
		}
	}
	return nil
}

// moveCursor moves the section cursor by delta, wrapping at the ends.
func (ds detailState) moveCursor(delta int) detailState {
	if len(ds.sections) == 0 {
		return ds
	}
	ds.cursor = (ds.cursor + delta + len(ds.sections)) % len(ds.sections)
	return ds
}

// selected returns the section under the cursor as an Expandable.
func (ds detailState) selected() plan.Expandable {
	if ds.cursor < 0 || ds.cursor >= len(ds.sections) {
		return nil
	}
	return ds.sections[ds.cursor]
}

// View renders the sections. The cursor marker is shown only when focused.
func (ds detailState) View(focused bool) string {
	if len(ds.sections) == 0 {
		return mutedText.Render("No plan selected")
	}
	var b strings.Builder
	for i, s := range ds.sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		if focused && i == ds.cursor {
			b.WriteString(CursorMarker)
		} else {
			b.WriteString("  ")
		}
		glyph := glyphCollapsed
		if s.expanded {
			glyph = glyphExpanded
		}
		b.WriteString(headerText.Render(glyph + " " + s.title))
		if !s.expanded {
			continue
		}
		for _, line := range s.lines {
			b.WriteString("\n    ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func joinIDs(ids []int) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

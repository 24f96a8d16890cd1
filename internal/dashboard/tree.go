package dashboard

import (
	"fmt"
	"strings"

	"github.com/smileynet/plantree/internal/plan"
)

// flatNode is a visible tree row with a pre-computed box-drawing prefix.
type flatNode struct {
	View   plan.View
	Prefix string // e.g. "├── ", "│   └── "
	Depth  int
	IsLast bool // true if this is the last child of its parent
}

// flattenTree converts a snapshot into the visible rows, skipping the
// children of collapsed nodes.
func flattenTree(root plan.View) []flatNode {
	return flattenNode(root, "", 0, true, nil)
}

func flattenNode(v plan.View, parentPrefix string, depth int, isLast bool, result []flatNode) []flatNode {
	var prefix string
	if depth > 0 {
		if isLast {
			prefix = parentPrefix + "└── "
		} else {
			prefix = parentPrefix + "├── "
		}
	}

	result = append(result, flatNode{
		View:   v,
		Prefix: prefix,
		Depth:  depth,
		IsLast: isLast,
	})

	if !v.Expanded {
		return result
	}

	var childPrefix string
	if depth > 0 {
		if isLast {
			childPrefix = parentPrefix + "    "
		} else {
			childPrefix = parentPrefix + "│   "
		}
	}

	for i, child := range v.Children {
		result = flattenNode(child, childPrefix, depth+1, i == len(v.Children)-1, result)
	}
	return result
}

// Expander glyphs shown before each plan.
const (
	glyphCollapsed = "▸"
	glyphExpanded  = "▾"
	glyphLeaf      = "•"
	glyphFetching  = "…"
)

// expanderGlyph returns the marker for a row's expansion state.
func expanderGlyph(v plan.View) string {
	switch {
	case v.Fetching:
		return glyphFetching
	case !v.Expandable():
		return glyphLeaf
	case v.Expanded:
		return glyphExpanded
	default:
		return glyphCollapsed
	}
}

// rowLabel is the plain text of a row without cursor or styling.
func rowLabel(n flatNode) string {
	return fmt.Sprintf("%s%s %d %s", n.Prefix, expanderGlyph(n.View), n.View.ID, n.View.Name)
}

// indexOf returns the row index of the plan with the given id, or -1.
func indexOf(rows []flatNode, id int) int {
	for i, r := range rows {
		if r.View.ID == id {
			return i
		}
	}
	return -1
}

// renderRows renders the visible rows with a cursor marker.
func renderRows(rows []flatNode, cursor int) string {
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i == cursor {
			b.WriteString(CursorMarker)
		} else {
			b.WriteString("  ")
		}
		line := rowLabel(r)
		switch {
		case r.View.IsCurrent:
			b.WriteString(currentText.Render(line + " (current)"))
		case !r.View.Active:
			b.WriteString(mutedText.Render(line))
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

// PlainTree renders the visible rows of a snapshot as unstyled lines, for
// output that is not a terminal.
func PlainTree(root plan.View) []string {
	rows := flattenTree(root)
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = rowLabel(r)
		if r.View.IsCurrent {
			lines[i] += " (current)"
		}
		if !r.View.Active {
			lines[i] += " [inactive]"
		}
	}
	return lines
}

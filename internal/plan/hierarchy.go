package plan

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// Edge links a plan to its parent. ParentID 0 marks a root.
type Edge struct {
	ID       int
	ParentID int
}

// Hierarchy answers ancestor and descendant queries for one current plan
// over a set of parent edges. Edges run parent → child.
type Hierarchy struct {
	g       *simple.DirectedGraph
	current int64
}

// NewHierarchy builds a Hierarchy from edges. Self-loops and duplicate
// edges are ignored.
func NewHierarchy(edges []Edge, current int) *Hierarchy {
	g := simple.NewDirectedGraph()
	ensure := func(id int) {
		if g.Node(int64(id)) == nil {
			g.AddNode(simple.Node(id))
		}
	}
	for _, e := range edges {
		ensure(e.ID)
		if e.ParentID <= 0 || e.ParentID == e.ID {
			continue
		}
		ensure(e.ParentID)
		g.SetEdge(g.NewEdge(simple.Node(e.ParentID), simple.Node(e.ID)))
	}
	return &Hierarchy{g: g, current: int64(current)}
}

// Current returns the plan the queries are relative to.
func (h *Hierarchy) Current() int {
	return int(h.current)
}

// Ancestors returns every plan above the current one, excluding the current
// plan itself, in ascending id order. Empty for a root.
func (h *Hierarchy) Ancestors() []int {
	out := []int{}
	if h.g.Node(h.current) == nil {
		return out
	}
	seen := map[int64]bool{h.current: true}
	frontier := []int64{h.current}
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		parents := h.g.To(id)
		for parents.Next() {
			p := parents.Node().ID()
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, int(p))
			frontier = append(frontier, p)
		}
	}
	sort.Ints(out)
	return out
}

// Descendants returns the plans below the current one in ascending id order,
// excluding the current plan. With directOnly only immediate children are
// returned. Empty for a leaf.
func (h *Hierarchy) Descendants(directOnly bool) []int {
	out := []int{}
	if h.g.Node(h.current) == nil {
		return out
	}
	if directOnly {
		children := h.g.From(h.current)
		for children.Next() {
			out = append(out, int(children.Node().ID()))
		}
		sort.Ints(out)
		return out
	}

	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) {
			if n.ID() != h.current {
				out = append(out, int(n.ID()))
			}
		},
	}
	bf.Walk(h.g, simple.Node(h.current), nil)
	sort.Ints(out)
	return out
}

// Hierarchy derives a Hierarchy for the current plan from the loaded nodes.
// The root keeps its edge to an unloaded parent so that parent still counts
// as an ancestor.
func (t *Tree) Hierarchy() (*Hierarchy, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return nil, ErrNoTree
	}
	var edges []Edge
	var walk func(n *Node)
	walk = func(n *Node) {
		edges = append(edges, Edge{ID: n.ID, ParentID: n.ParentID})
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.root)
	return NewHierarchy(edges, t.current.ID), nil
}

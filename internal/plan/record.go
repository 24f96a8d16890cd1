// Package plan maintains the in-memory plan hierarchy: loading the
// neighbourhood of one plan, lazy child expansion, parent/child edits and
// ancestor/descendant queries over what has been loaded.
package plan

import (
	"context"
	"sort"
)

// Record is a plan as returned by the server.
type Record struct {
	ID          int
	ParentID    int // 0 when the plan has no parent.
	Name        string
	URL         string
	Active      bool
	NumChildren int
	NumCases    int
	NumRuns     int
}

// HasParent reports whether the record points at a parent plan.
func (r Record) HasParent() bool {
	return r.ParentID > 0
}

// FieldUpdate sets one field of one object through the server's generic
// update endpoint. An empty Value clears the field.
type FieldUpdate struct {
	ContentType string
	ObjectID    int
	Field       string
	Value       string
}

const (
	contentTypePlan = "testplans.testplan"
	fieldParent     = "parent"
)

// Source is the server collaborator the tree reads from and writes through.
// Implementations wrap ErrNotFound, ErrConflict and ErrNetwork so callers
// can classify failures with errors.Is.
type Source interface {
	Plan(ctx context.Context, id int) (Record, error)
	Children(ctx context.Context, parentID int) ([]Record, error)
	UpdateField(ctx context.Context, u FieldUpdate) error
}

// Node is one plan inside a Tree.
type Node struct {
	Record
	IsCurrent bool
	Children  []*Node

	loaded   bool // children fetched; distinct from "has zero children"
	expanded bool
	fetching bool
}

// NewNode returns an unloaded, collapsed node for r.
func NewNode(r Record) *Node {
	return &Node{Record: r}
}

// NewNodes returns one unloaded node per record, sorted by ID.
func NewNodes(records []Record) []*Node {
	nodes := make([]*Node, len(records))
	for i, r := range records {
		nodes[i] = NewNode(r)
	}
	sortNodes(nodes)
	return nodes
}

// Loaded reports whether the node's children have been fetched.
func (n *Node) Loaded() bool { return n.loaded }

// Expanded reports whether the node's children are visible.
func (n *Node) Expanded() bool { return n.expanded }

// Fetching reports whether a children request is in flight for the node.
func (n *Node) Fetching() bool { return n.fetching }

// Expandable reports whether toggling the node can reveal children.
func (n *Node) Expandable() bool {
	if n.loaded {
		return len(n.Children) > 0
	}
	return n.NumChildren > 0
}

// setChildren attaches children and marks the node loaded. NumChildren is
// re-synced so a stale count never contradicts the loaded list.
func (n *Node) setChildren(children []*Node) {
	n.Children = children
	n.loaded = true
	n.NumChildren = len(children)
}

// update copies server-side fields from r, leaving ID and tree state alone.
func (n *Node) update(r Record) {
	n.ParentID = r.ParentID
	n.Name = r.Name
	n.URL = r.URL
	n.Active = r.Active
	n.NumCases = r.NumCases
	n.NumRuns = r.NumRuns
	if !n.loaded {
		n.NumChildren = r.NumChildren
	}
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}

package plan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency bounds parallel children requests in ExpandAll.
const defaultConcurrency = 4

// Tree is the loaded neighbourhood of the current plan.
// All methods are safe for concurrent use; requests to the Source are never
// issued while the internal lock is held.
type Tree struct {
	src         Source
	log         *zap.Logger
	concurrency int

	mu      sync.Mutex
	root    *Node
	current *Node
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) {
		if l != nil {
			t.log = l
		}
	}
}

// WithConcurrency bounds parallel requests made by ExpandAll.
func WithConcurrency(n int) Option {
	return func(t *Tree) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// New creates an uninitialized Tree reading from src.
func New(src Source, opts ...Option) *Tree {
	t := &Tree{
		src:         src,
		log:         zap.NewNop(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init loads planID, its parent, its siblings and its children and replaces
// the tree with the assembled result. On error the previous tree is kept.
func (t *Tree) Init(ctx context.Context, planID int) error {
	if planID <= 0 {
		return invalid(strconv.Itoa(planID), "is not a plan id")
	}

	rec, err := t.src.Plan(ctx, planID)
	if err != nil {
		return fmt.Errorf("plan: loading %d: %w", planID, err)
	}

	var (
		parent   *Record
		siblings []Record
		children []Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kids, err := t.src.Children(gctx, planID)
		if err != nil {
			return fmt.Errorf("plan: children of %d: %w", planID, err)
		}
		children = kids
		return nil
	})
	if rec.HasParent() {
		g.Go(func() error {
			p, err := t.src.Plan(gctx, rec.ParentID)
			if errors.Is(err, ErrNotFound) {
				// Dangling parent reference: show the plan as a root.
				t.log.Warn("parent plan not found", zap.Int("plan", planID), zap.Int("parent", rec.ParentID))
				return nil
			}
			if err != nil {
				return fmt.Errorf("plan: parent of %d: %w", planID, err)
			}
			parent = &p
			return nil
		})
		g.Go(func() error {
			sibs, err := t.src.Children(gctx, rec.ParentID)
			if err != nil {
				return fmt.Errorf("plan: siblings of %d: %w", planID, err)
			}
			siblings = sibs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	root, current := assemble(rec, parent, siblings, children)

	t.mu.Lock()
	t.root = root
	t.current = current
	t.mu.Unlock()

	t.log.Debug("tree initialized",
		zap.Int("plan", planID),
		zap.Int("root", root.ID),
		zap.Int("children", len(current.Children)))
	return nil
}

// assemble builds the initial structure. With a parent, the parent is the
// root and the siblings (current plan included) are its children; otherwise
// the current plan is the root.
func assemble(rec Record, parent *Record, siblings, children []Record) (root, current *Node) {
	seen := map[int]bool{rec.ID: true}
	if parent != nil {
		seen[parent.ID] = true
	}

	current = NewNode(rec)
	current.IsCurrent = true
	current.setChildren(uniqueNodes(children, rec.ID, seen))
	current.expanded = len(current.Children) > 0

	if parent == nil {
		return current, current
	}

	root = NewNode(*parent)
	nodes := []*Node{current}
	for _, r := range siblings {
		if seen[r.ID] || r.ParentID != parent.ID {
			continue
		}
		seen[r.ID] = true
		nodes = append(nodes, NewNode(r))
	}
	sortNodes(nodes)
	root.setChildren(nodes)
	root.expanded = true
	return root, current
}

// uniqueNodes converts records into nodes, skipping ids already in seen and
// records that do not point at parentID.
func uniqueNodes(records []Record, parentID int, seen map[int]bool) []*Node {
	nodes := make([]*Node, 0, len(records))
	for _, r := range records {
		if seen[r.ID] || r.ParentID != parentID {
			continue
		}
		seen[r.ID] = true
		nodes = append(nodes, NewNode(r))
	}
	sortNodes(nodes)
	return nodes
}

// Insert attaches children to n unless n already has loaded children, in
// which case n is returned unchanged. A list containing a node whose
// ParentID differs from n.ID is rejected with ErrMalformed; a list containing
// an id already present in the tree is rejected with ErrCycle.
func (t *Tree) Insert(n *Node, children []*Node) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(n, children)
}

func (t *Tree) insertLocked(n *Node, children []*Node) (*Node, error) {
	if n.loaded {
		return n, nil
	}

	present := t.idsLocked()
	if t.root == nil {
		present[n.ID] = true
	}
	for _, c := range children {
		if c.ParentID != n.ID {
			return n, fmt.Errorf("%w: plan %d has parent %d, not %d", ErrMalformed, c.ID, c.ParentID, n.ID)
		}
		for _, id := range subtreeIDs(c) {
			if present[id] {
				return n, fmt.Errorf("%w: plan %d is already in the tree", ErrCycle, id)
			}
			present[id] = true
		}
	}

	sorted := append([]*Node(nil), children...)
	sortNodes(sorted)
	n.setChildren(sorted)
	return n, nil
}

// Find returns the loaded node with the given id, or nil.
// The returned node must not be mutated by the caller; use Snapshot for
// rendering.
func (t *Tree) Find(id int) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findLocked(id)
}

func (t *Tree) findLocked(id int) *Node {
	if t.root == nil {
		return nil
	}
	return FindNode([]*Node{t.root}, id)
}

// FindNode searches nodes depth-first for id. Unloaded nodes are treated as
// leaves; nothing is fetched. Returns nil when id is absent.
func FindNode(nodes []*Node, id int) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
		if found := FindNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// parentOfLocked returns the loaded node whose children contain target.
func (t *Tree) parentOfLocked(target *Node) *Node {
	if t.root == nil {
		return nil
	}
	var walk func(n *Node) *Node
	walk = func(n *Node) *Node {
		for _, c := range n.Children {
			if c == target {
				return n
			}
			if p := walk(c); p != nil {
				return p
			}
		}
		return nil
	}
	return walk(t.root)
}

// ancestorsLocked returns the loaded ancestors of id, nearest first.
func (t *Tree) ancestorsLocked(id int) []*Node {
	n := t.findLocked(id)
	var out []*Node
	for n != nil {
		p := t.parentOfLocked(n)
		if p == nil {
			break
		}
		out = append(out, p)
		n = p
	}
	return out
}

// detachLocked removes n from its parent's children, if it has one loaded.
func (t *Tree) detachLocked(n *Node) {
	p := t.parentOfLocked(n)
	if p == nil {
		return
	}
	kept := p.Children[:0:0]
	for _, c := range p.Children {
		if c != n {
			kept = append(kept, c)
		}
	}
	p.setChildren(kept)
}

func (t *Tree) idsLocked() map[int]bool {
	ids := make(map[int]bool)
	if t.root != nil {
		for _, id := range subtreeIDs(t.root) {
			ids[id] = true
		}
	}
	return ids
}

func subtreeIDs(n *Node) []int {
	ids := []int{n.ID}
	for _, c := range n.Children {
		ids = append(ids, subtreeIDs(c)...)
	}
	return ids
}

// RootID returns the id of the tree's root, or 0 before Init.
func (t *Tree) RootID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return 0
	}
	return t.root.ID
}

// Current returns the record of the current plan.
func (t *Tree) Current() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Record{}, false
	}
	return t.current.Record, true
}

// View is a copy of a node's state for rendering.
type View struct {
	Record
	IsCurrent bool
	Loaded    bool
	Expanded  bool
	Fetching  bool
	Children  []View
}

// Expandable reports whether the viewed node can reveal children.
func (v View) Expandable() bool {
	if v.Loaded {
		return len(v.Children) > 0
	}
	return v.NumChildren > 0
}

// Snapshot returns a deep copy of the tree. The bool is false before Init.
func (t *Tree) Snapshot() (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return View{}, false
	}
	return snapshot(t.root), true
}

func snapshot(n *Node) View {
	v := View{
		Record:    n.Record,
		IsCurrent: n.IsCurrent,
		Loaded:    n.loaded,
		Expanded:  n.expanded,
		Fetching:  n.fetching,
	}
	if len(n.Children) > 0 {
		v.Children = make([]View, len(n.Children))
		for i, c := range n.Children {
			v.Children[i] = snapshot(c)
		}
	}
	return v
}

// Records returns every loaded plan record in depth-first order.
func (t *Tree) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n.Record)
		for _, c := range n.Children {
			walk(c)
		}
	}
	if t.root != nil {
		walk(t.root)
	}
	return out
}

package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Expandable is an element whose detail can be revealed and hidden.
type Expandable interface {
	Expand(ctx context.Context) error
	Toggle(ctx context.Context) error
}

// Handle binds a plan id to a tree so a rendered row can be toggled
// without holding a node pointer.
type Handle struct {
	tree *Tree
	id   int
}

var _ Expandable = Handle{}

// Handle returns an Expandable for the plan with the given id.
func (t *Tree) Handle(id int) Handle {
	return Handle{tree: t, id: id}
}

// ID returns the plan id the handle refers to.
func (h Handle) ID() int { return h.id }

// Expand reveals the plan's children, fetching them if needed.
func (h Handle) Expand(ctx context.Context) error { return h.tree.Expand(ctx, h.id) }

// Toggle flips the plan's visibility state, fetching children if needed.
func (h Handle) Toggle(ctx context.Context) error { return h.tree.Toggle(ctx, h.id) }

// Toggle collapses an expanded node, or expands a collapsed one, fetching
// its children on first expansion. While a fetch for the node is in flight
// further toggles only flip visibility; no second request is issued.
func (t *Tree) Toggle(ctx context.Context, id int) error {
	return t.setExpanded(ctx, id, true)
}

// Expand reveals a node's children, fetching them on first use. Expanding an
// already expanded node is a no-op.
func (t *Tree) Expand(ctx context.Context, id int) error {
	return t.setExpanded(ctx, id, false)
}

func (t *Tree) setExpanded(ctx context.Context, id int, toggle bool) error {
	t.mu.Lock()
	n := t.findLocked(id)
	if n == nil {
		t.mu.Unlock()
		if t.RootID() == 0 {
			return ErrNoTree
		}
		return fmt.Errorf("%w: plan %d is not loaded", ErrNotFound, id)
	}

	switch {
	case n.expanded:
		if toggle {
			n.expanded = false
		}
		t.mu.Unlock()
		return nil
	case n.loaded || n.fetching:
		n.expanded = true
		t.mu.Unlock()
		return nil
	case !n.Expandable():
		t.mu.Unlock()
		return nil
	}

	n.fetching = true
	n.expanded = true
	t.mu.Unlock()

	t.log.Debug("fetching children", zap.Int("plan", id))
	records, err := t.src.Children(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	n.fetching = false
	if t.findLocked(id) != n {
		// The node left the tree while the request was in flight.
		t.log.Debug("dropping stale children response", zap.Int("plan", id))
		return nil
	}
	if err != nil {
		n.expanded = false
		return fmt.Errorf("plan: children of %d: %w", id, err)
	}
	if _, err := t.insertLocked(n, NewNodes(records)); err != nil {
		n.expanded = false
		return err
	}
	return nil
}

// ExpandAll loads and expands the subtree under id breadth-first, one level
// at a time, up to maxDepth levels below id (0 means unbounded).
func (t *Tree) ExpandAll(ctx context.Context, id, maxDepth int) error {
	if t.Find(id) == nil {
		if t.RootID() == 0 {
			return ErrNoTree
		}
		return fmt.Errorf("%w: plan %d is not loaded", ErrNotFound, id)
	}

	frontier := []int{id}
	for depth := 0; len(frontier) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		fetch, next := t.prepareLevel(frontier)

		results := make([][]Record, len(fetch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.concurrency)
		for i, n := range fetch {
			g.Go(func() error {
				records, err := t.src.Children(gctx, n.ID)
				if err != nil {
					return fmt.Errorf("plan: children of %d: %w", n.ID, err)
				}
				results[i] = records
				return nil
			})
		}
		err := g.Wait()

		t.mu.Lock()
		for i, n := range fetch {
			n.fetching = false
			if err != nil || t.findLocked(n.ID) != n {
				continue
			}
			if _, ierr := t.insertLocked(n, NewNodes(results[i])); ierr != nil {
				t.log.Warn("skipping child list", zap.Int("plan", n.ID), zap.Error(ierr))
				continue
			}
			n.expanded = len(n.Children) > 0
			for _, c := range n.Children {
				next = append(next, c.ID)
			}
		}
		t.mu.Unlock()
		if err != nil {
			return err
		}
		frontier = next
	}
	return nil
}

// prepareLevel expands already loaded nodes in frontier and marks the rest
// as fetching. It returns the nodes to fetch and the ids of the next level
// that are reachable without a request.
func (t *Tree) prepareLevel(frontier []int) (fetch []*Node, next []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, fid := range frontier {
		n := t.findLocked(fid)
		if n == nil {
			continue
		}
		switch {
		case n.loaded:
			n.expanded = len(n.Children) > 0
			for _, c := range n.Children {
				next = append(next, c.ID)
			}
		case n.fetching || !n.Expandable():
		default:
			n.fetching = true
			fetch = append(fetch, n)
		}
	}
	return fetch, next
}

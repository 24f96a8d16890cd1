package plan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var idPattern = regexp.MustCompile(`^\d+$`)

// ParseIDs splits a comma-separated list of plan ids. Blank tokens are
// skipped and duplicates dropped; the first token that is not an unsigned
// integer aborts the whole list.
func ParseIDs(input string) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)
	for _, tok := range strings.Split(input, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !idPattern.MatchString(tok) {
			return nil, invalid(tok, "is not a plan id")
		}
		id, err := strconv.Atoi(tok)
		if err != nil || id == 0 {
			return nil, invalid(tok, "is not a plan id")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, invalid("", "no plan ids given")
	}
	return ids, nil
}

// ValidateAddChildren parses input and rejects ids that would make current
// its own descendant: current itself, the tree root, or any loaded
// ancestor of current.
func (t *Tree) ValidateAddChildren(current int, input string) ([]int, error) {
	ids, err := ParseIDs(input)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAddLocked(current, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *Tree) checkAddLocked(current int, ids []int) error {
	if t.root == nil {
		return ErrNoTree
	}
	banned := t.lineageLocked(current)
	banned[t.root.ID] = true
	for _, id := range ids {
		if id == current {
			return invalid(strconv.Itoa(id), "cannot be a child of itself")
		}
		if banned[id] {
			return invalid(strconv.Itoa(id), fmt.Sprintf("is an ancestor of plan %d", current))
		}
	}
	return nil
}

// lineageLocked returns id, its loaded ancestors and the root's parent,
// which is known from the root record even though it is not loaded.
func (t *Tree) lineageLocked(id int) map[int]bool {
	ids := map[int]bool{id: true}
	for _, a := range t.ancestorsLocked(id) {
		ids[a.ID] = true
	}
	if t.root != nil && t.root.ParentID > 0 {
		ids[t.root.ParentID] = true
	}
	return ids
}

// ValidateRemoveChildren parses input and checks that every id is a loaded
// direct child of current. Candidates are checked in ascending order so the
// reported id is deterministic.
func (t *Tree) ValidateRemoveChildren(current int, input string) ([]int, error) {
	ids, err := ParseIDs(input)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkRemoveLocked(current, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *Tree) checkRemoveLocked(current int, ids []int) error {
	if t.root == nil {
		return ErrNoTree
	}
	for _, id := range ids {
		if id == current || id == t.root.ID {
			return invalid(strconv.Itoa(id), "cannot be a child of itself")
		}
	}

	children := make(map[int]bool)
	if n := t.findLocked(current); n != nil {
		for _, c := range n.Children {
			children[c.ID] = true
		}
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	for _, id := range sorted {
		if !children[id] {
			return invalid(strconv.Itoa(id), fmt.Sprintf("is not a child of plan %d", current))
		}
	}
	return nil
}

// ValidateChangeParent parses the proposed parent id for current. It must be
// numeric, differ from current and not be a loaded descendant of current;
// callers expand the subtree first when the check must be complete.
func (t *Tree) ValidateChangeParent(current int, input string) (int, error) {
	tok := strings.TrimSpace(input)
	if !idPattern.MatchString(tok) {
		return 0, invalid(tok, "is not a plan id")
	}
	id, err := strconv.Atoi(tok)
	if err != nil || id == 0 {
		return 0, invalid(tok, "is not a plan id")
	}
	if id == current {
		return 0, invalid(tok, "cannot be a parent of itself")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.findLocked(current); n != nil && FindNode(n.Children, id) != nil {
		return 0, invalid(tok, fmt.Sprintf("is a descendant of plan %d", current))
	}
	return id, nil
}

// Preview fetches the candidate plans of an edit so the user can confirm
// it. Records are returned in the order of ids.
func (t *Tree) Preview(ctx context.Context, ids []int) ([]Record, error) {
	records := make([]Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			r, err := t.src.Plan(gctx, id)
			if err != nil {
				return fmt.Errorf("plan: loading %d: %w", id, err)
			}
			records[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// Outcome classifies the result of one field update in a batch.
type Outcome int

const (
	Applied   Outcome = iota // The server changed the parent.
	Unchanged                // The server reported nothing changed.
	Failed                   // The update was rejected or the request failed.
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// Result is the outcome of updating one candidate.
type Result struct {
	ID      int
	Outcome Outcome
	Err     error
}

// Batch collects per-candidate results. Candidates are independent: a
// failure never rolls back the others.
type Batch struct {
	// ID correlates the log lines of one batch.
	ID      string
	Results []Result
	// RefreshErr is set when re-reading the edited node's children failed
	// after at least one update was applied.
	RefreshErr error
}

// Applied returns the ids whose update took effect.
func (b Batch) Applied() []int {
	var ids []int
	for _, r := range b.Results {
		if r.Outcome == Applied {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Err joins the errors of failed candidates, or returns nil.
func (b Batch) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Outcome == Failed {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// AddChildren sets the parent of every id to current, then re-reads the
// children of current into the tree.
func (t *Tree) AddChildren(ctx context.Context, current int, ids []int) (Batch, error) {
	t.mu.Lock()
	err := t.checkAddLocked(current, ids)
	t.mu.Unlock()
	if err != nil {
		return Batch{}, err
	}
	return t.updateParents(ctx, current, ids, strconv.Itoa(current)), nil
}

// RemoveChildren clears the parent of every id, then re-reads the children
// of current into the tree.
func (t *Tree) RemoveChildren(ctx context.Context, current int, ids []int) (Batch, error) {
	t.mu.Lock()
	err := t.checkRemoveLocked(current, ids)
	t.mu.Unlock()
	if err != nil {
		return Batch{}, err
	}
	return t.updateParents(ctx, current, ids, ""), nil
}

func (t *Tree) updateParents(ctx context.Context, current int, ids []int, value string) Batch {
	b := Batch{ID: uuid.NewString()}
	log := t.log.With(zap.String("batch", b.ID), zap.Int("current", current))
	for _, id := range ids {
		err := t.src.UpdateField(ctx, FieldUpdate{
			ContentType: contentTypePlan,
			ObjectID:    id,
			Field:       fieldParent,
			Value:       value,
		})
		switch {
		case err == nil:
			b.Results = append(b.Results, Result{ID: id, Outcome: Applied})
		case errors.Is(err, ErrConflict):
			b.Results = append(b.Results, Result{ID: id, Outcome: Unchanged, Err: err})
		default:
			b.Results = append(b.Results, Result{ID: id, Outcome: Failed, Err: fmt.Errorf("plan: updating %d: %w", id, err)})
		}
		log.Debug("parent update", zap.Int("plan", id), zap.String("parent", value), zap.Error(err))
	}

	if len(b.Applied()) > 0 {
		b.RefreshErr = t.refreshChildren(ctx, current)
	}
	return b
}

// CanRemoveChildren reports whether the node has at least one loaded child.
func (t *Tree) CanRemoveChildren(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.findLocked(id)
	return n != nil && len(n.Children) > 0
}

// refreshChildren re-reads the children of id and merges them into the tree.
func (t *Tree) refreshChildren(ctx context.Context, id int) error {
	records, err := t.src.Children(ctx, id)
	if err != nil {
		return fmt.Errorf("plan: children of %d: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.findLocked(id)
	if n == nil {
		return nil
	}
	t.mergeChildrenLocked(n, records)
	return nil
}

// mergeChildrenLocked replaces n's children with records, reusing nodes
// already in the tree (moving them out of their old position) so their
// loaded subtrees survive. Records that would form a cycle are skipped.
func (t *Tree) mergeChildrenLocked(n *Node, records []Record) {
	banned := t.lineageLocked(n.ID)

	kids := make([]*Node, 0, len(records))
	for _, r := range records {
		if banned[r.ID] || r.ParentID != n.ID {
			continue
		}
		banned[r.ID] = true
		existing := t.findLocked(r.ID)
		if existing == nil {
			kids = append(kids, NewNode(r))
			continue
		}
		t.detachLocked(existing)
		existing.update(r)
		kids = append(kids, existing)
	}
	sortNodes(kids)
	n.setChildren(kids)
	n.expanded = len(kids) > 0
}

// ChangeParent sets current's parent to newParent and re-roots the tree:
// the new parent becomes the root with current and its loaded subtree
// beneath it, and the new parent's other children are then merged in.
// Setting the parent it already has returns an ErrConflict error without
// contacting the server.
func (t *Tree) ChangeParent(ctx context.Context, current, newParent int) error {
	t.mu.Lock()
	if t.root == nil {
		t.mu.Unlock()
		return ErrNoTree
	}
	cur := t.findLocked(current)
	if cur != nil {
		if cur.ParentID == newParent {
			t.mu.Unlock()
			return fmt.Errorf("%w: plan %d already has parent %d", ErrConflict, current, newParent)
		}
		if FindNode(cur.Children, newParent) != nil {
			t.mu.Unlock()
			return invalid(strconv.Itoa(newParent), fmt.Sprintf("is a descendant of plan %d", current))
		}
	}
	t.mu.Unlock()

	parentRec, err := t.src.Plan(ctx, newParent)
	if err != nil {
		return fmt.Errorf("plan: loading %d: %w", newParent, err)
	}
	if err := t.src.UpdateField(ctx, FieldUpdate{
		ContentType: contentTypePlan,
		ObjectID:    current,
		Field:       fieldParent,
		Value:       strconv.Itoa(newParent),
	}); err != nil {
		return fmt.Errorf("plan: updating %d: %w", current, err)
	}

	t.mu.Lock()
	cur = t.findLocked(current)
	if cur == nil {
		t.mu.Unlock()
		// The current plan is no longer loaded; rebuild around it.
		return t.Init(ctx, current)
	}
	t.detachLocked(cur)
	cur.ParentID = newParent
	root := NewNode(parentRec)
	root.setChildren([]*Node{cur})
	root.expanded = true
	t.root = root
	t.mu.Unlock()

	if err := t.refreshChildren(ctx, newParent); err != nil {
		t.log.Warn("re-rooted tree without siblings", zap.Int("parent", newParent), zap.Error(err))
	}
	return nil
}

// internal/checkpoint/timeline.go
package checkpoint

import (
	"fmt"
	"sort"
)

// treeNode is the in-memory form of a TimelineNode
type treeNode struct {
	checkpoint Checkpoint
	parent     *treeNode
	children   []*treeNode
	snapshots  []FileSnapshot
}

// Tree holds the checkpoint tree of one session and its current pointer.
// Tree does no I/O and is not safe for concurrent use; Manager guards it.
type Tree struct {
	sessionID string
	root      *treeNode
	nodes     map[string]*treeNode
	current   string
}

// NewTree creates an empty tree for a session
func NewTree(sessionID string) *Tree {
	return &Tree{
		sessionID: sessionID,
		nodes:     make(map[string]*treeNode),
	}
}

// SessionID returns the owning session
func (t *Tree) SessionID() string { return t.sessionID }

// Len returns the number of checkpoints in the tree
func (t *Tree) Len() int { return len(t.nodes) }

// Current returns the current checkpoint id, empty for an empty tree
func (t *Tree) Current() string { return t.current }

// RootID returns the root checkpoint id, empty for an empty tree
func (t *Tree) RootID() string {
	if t.root == nil {
		return ""
	}
	return t.root.checkpoint.ID
}

// Insert adds cp as a child of parentID. An empty parentID creates the root.
func (t *Tree) Insert(cp Checkpoint, snapshots []FileSnapshot, parentID string) error {
	if _, exists := t.nodes[cp.ID]; exists {
		return &TreeIntegrityError{CheckpointID: cp.ID, Reason: "duplicate checkpoint id"}
	}

	n := &treeNode{checkpoint: cp, snapshots: snapshots}
	n.checkpoint.ParentCheckpointID = parentID

	if parentID == "" {
		if t.root != nil {
			return &TreeIntegrityError{CheckpointID: cp.ID, Reason: "tree already has a root"}
		}
		t.root = n
	} else {
		parent, ok := t.nodes[parentID]
		if !ok {
			return &TreeIntegrityError{CheckpointID: cp.ID, Reason: fmt.Sprintf("parent %s does not exist", parentID)}
		}
		n.parent = parent
		parent.children = append(parent.children, n)
	}

	t.nodes[cp.ID] = n
	return nil
}

// SetCurrent moves the current pointer
func (t *Tree) SetCurrent(id string) error {
	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.current = id
	return nil
}

// FindByID returns a copy of the checkpoint with id
func (t *Tree) FindByID(id string) (Checkpoint, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Checkpoint{}, false
	}
	return n.checkpoint, true
}

// Snapshots returns the file snapshots introduced by checkpoint id
func (t *Tree) Snapshots(id string) ([]FileSnapshot, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n.snapshots, nil
}

// PathToRoot returns the checkpoints from the root down to id, inclusive
func (t *Tree) PathToRoot(id string) ([]Checkpoint, error) {
	nodes, err := t.pathNodes(id)
	if err != nil {
		return nil, err
	}
	path := make([]Checkpoint, len(nodes))
	for i, n := range nodes {
		path[i] = n.checkpoint
	}
	return path, nil
}

func (t *Tree) pathNodes(id string) ([]*treeNode, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var path []*treeNode
	for ; n != nil; n = n.parent {
		path = append(path, n)
		if len(path) > len(t.nodes) {
			return nil, &TreeIntegrityError{CheckpointID: id, Reason: "cycle in parent chain"}
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if path[0] != t.root {
		return nil, &TreeIntegrityError{CheckpointID: id, Reason: "not reachable from root"}
	}
	return path, nil
}

// ListChildren returns the direct children of id ordered by creation time
func (t *Tree) ListChildren(id string) ([]Checkpoint, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	children := make([]Checkpoint, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c.checkpoint)
	}
	sortByTime(children)
	return children, nil
}

// ActivePathFrom returns the descendants of id that the linear history view
// shows after it. When id lies on the root-to-current path this is the
// segment down to the current checkpoint. Otherwise it follows the most
// recently created child at each step, which is the tip of id's branch.
func (t *Tree) ActivePathFrom(id string) ([]Checkpoint, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if t.current != "" {
		active, err := t.pathNodes(t.current)
		if err != nil {
			return nil, err
		}
		for i, n := range active {
			if n.checkpoint.ID == id {
				out := make([]Checkpoint, 0, len(active)-i-1)
				for _, d := range active[i+1:] {
					out = append(out, d.checkpoint)
				}
				return out, nil
			}
		}
	}

	var out []Checkpoint
	for n := t.nodes[id]; len(n.children) > 0; {
		next := n.children[0]
		for _, c := range n.children[1:] {
			if c.checkpoint.Timestamp.After(next.checkpoint.Timestamp) {
				next = c
			}
		}
		out = append(out, next.checkpoint)
		n = next
	}
	return out, nil
}

// LowestCommonAncestor returns the deepest checkpoint that is an ancestor of
// (or equal to) both a and b
func (t *Tree) LowestCommonAncestor(a, b string) (string, error) {
	pa, err := t.pathNodes(a)
	if err != nil {
		return "", err
	}
	pb, err := t.pathNodes(b)
	if err != nil {
		return "", err
	}

	lca := ""
	for i := 0; i < len(pa) && i < len(pb) && pa[i] == pb[i]; i++ {
		lca = pa[i].checkpoint.ID
	}
	if lca == "" {
		return "", &TreeIntegrityError{CheckpointID: b, Reason: "no common ancestor with " + a}
	}
	return lca, nil
}

// IsAncestor reports whether ancestor lies on the root path of id
func (t *Tree) IsAncestor(ancestor, id string) bool {
	for n := t.nodes[id]; n != nil; n = n.parent {
		if n.checkpoint.ID == ancestor {
			return true
		}
	}
	return false
}

// UpdateDescription changes the description of id
func (t *Tree) UpdateDescription(id, description string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.checkpoint.Description = description
	return nil
}

// Remove deletes a leaf checkpoint. The root and the current checkpoint
// cannot be removed.
func (t *Tree) Remove(id string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n == t.root {
		return &TreeIntegrityError{CheckpointID: id, Reason: "cannot remove root"}
	}
	if id == t.current {
		return &TreeIntegrityError{CheckpointID: id, Reason: "cannot remove current checkpoint"}
	}
	if len(n.children) > 0 {
		return &TreeIntegrityError{CheckpointID: id, Reason: "checkpoint still has children"}
	}

	siblings := n.parent.children
	for i, c := range siblings {
		if c == n {
			n.parent.children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	delete(t.nodes, id)
	return nil
}

// All returns every checkpoint ordered by creation time
func (t *Tree) All() []Checkpoint {
	all := make([]Checkpoint, 0, len(t.nodes))
	for _, n := range t.nodes {
		all = append(all, n.checkpoint)
	}
	sortByTime(all)
	return all
}

// Validate checks the structural invariants of the tree
func (t *Tree) Validate() error {
	if len(t.nodes) == 0 {
		if t.current != "" {
			return &TreeIntegrityError{CheckpointID: t.current, Reason: "current set on empty tree"}
		}
		return nil
	}
	if t.root == nil {
		return &TreeIntegrityError{CheckpointID: "-", Reason: "tree has no root"}
	}

	reachable := 0
	stack := []*treeNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reachable++
		for _, c := range n.children {
			if c.parent != n || c.checkpoint.ParentCheckpointID != n.checkpoint.ID {
				return &TreeIntegrityError{CheckpointID: c.checkpoint.ID, Reason: "parent link mismatch"}
			}
			stack = append(stack, c)
		}
	}
	if reachable != len(t.nodes) {
		return &TreeIntegrityError{CheckpointID: t.RootID(), Reason: fmt.Sprintf("%d checkpoints unreachable from root", len(t.nodes)-reachable)}
	}
	if _, err := t.pathNodes(t.current); err != nil {
		return &TreeIntegrityError{CheckpointID: t.current, Reason: "current checkpoint not reachable"}
	}
	return nil
}

// Timeline renders the tree as a SessionTimeline value
func (t *Tree) Timeline() *SessionTimeline {
	timeline := &SessionTimeline{
		SessionID:           t.sessionID,
		CurrentCheckpointID: t.current,
		TotalCheckpoints:    len(t.nodes),
	}
	if t.root != nil {
		root := buildTimelineNode(t.root)
		timeline.RootNode = &root
	}
	return timeline
}

func buildTimelineNode(n *treeNode) TimelineNode {
	node := TimelineNode{
		Checkpoint:      n.checkpoint,
		Children:        make([]TimelineNode, 0, len(n.children)),
		FileSnapshotIDs: make([]int64, 0, len(n.snapshots)),
	}
	for _, s := range n.snapshots {
		node.FileSnapshotIDs = append(node.FileSnapshotIDs, s.ID)
	}
	children := append([]*treeNode(nil), n.children...)
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].checkpoint.Timestamp.Before(children[j].checkpoint.Timestamp)
	})
	for _, c := range children {
		node.Children = append(node.Children, buildTimelineNode(c))
	}
	return node
}

func sortByTime(cps []Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		if cps[i].Timestamp.Equal(cps[j].Timestamp) {
			return cps[i].ID < cps[j].ID
		}
		return cps[i].Timestamp.Before(cps[j].Timestamp)
	})
}

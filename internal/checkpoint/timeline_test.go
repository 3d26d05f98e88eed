package checkpoint

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// buildTree inserts checkpoints in order; each entry is id, parent. The
// n-th checkpoint gets timestamp epoch+n seconds.
func buildTree(t *testing.T, edges ...[2]string) *Tree {
	t.Helper()
	tree := NewTree("s")
	for i, e := range edges {
		cp := Checkpoint{ID: e[0], SessionID: "s", Timestamp: epoch.Add(time.Duration(i) * time.Second)}
		if err := tree.Insert(cp, nil, e[1]); err != nil {
			t.Fatalf("Insert(%s) error = %v", e[0], err)
		}
	}
	return tree
}

func ids(cps []Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

//	R
//	├── A ── B
//	│   └── C
//	└── D
func sampleTree(t *testing.T) *Tree {
	tree := buildTree(t,
		[2]string{"R", ""},
		[2]string{"A", "R"},
		[2]string{"B", "A"},
		[2]string{"C", "A"},
		[2]string{"D", "R"},
	)
	tree.SetCurrent("B")
	return tree
}

func TestTreeInsert(t *testing.T) {
	tree := sampleTree(t)

	if tree.Len() != 5 || tree.RootID() != "R" {
		t.Errorf("Len() = %d, RootID() = %s", tree.Len(), tree.RootID())
	}
	if err := tree.Insert(Checkpoint{ID: "X"}, nil, "missing"); !errors.Is(err, ErrTreeIntegrity) {
		t.Errorf("Insert with missing parent error = %v", err)
	}
	if err := tree.Insert(Checkpoint{ID: "A"}, nil, "R"); !errors.Is(err, ErrTreeIntegrity) {
		t.Errorf("Insert duplicate error = %v", err)
	}
	if err := tree.Insert(Checkpoint{ID: "R2"}, nil, ""); !errors.Is(err, ErrTreeIntegrity) {
		t.Errorf("Insert second root error = %v", err)
	}
	if cp, _ := tree.FindByID("C"); cp.ParentCheckpointID != "A" {
		t.Errorf("C parent = %s", cp.ParentCheckpointID)
	}
	if err := tree.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestTreeNavigation(t *testing.T) {
	tree := sampleTree(t)

	path, err := tree.PathToRoot("B")
	if err != nil || !equal(ids(path), []string{"R", "A", "B"}) {
		t.Errorf("PathToRoot(B) = %v, %v", ids(path), err)
	}

	children, _ := tree.ListChildren("A")
	if !equal(ids(children), []string{"B", "C"}) {
		t.Errorf("ListChildren(A) = %v", ids(children))
	}

	lcaTests := []struct{ a, b, want string }{
		{"B", "C", "A"},
		{"B", "D", "R"},
		{"A", "B", "A"},
		{"C", "C", "C"},
	}
	for _, tt := range lcaTests {
		got, err := tree.LowestCommonAncestor(tt.a, tt.b)
		if err != nil || got != tt.want {
			t.Errorf("LowestCommonAncestor(%s, %s) = %s, %v; want %s", tt.a, tt.b, got, err, tt.want)
		}
	}

	if !tree.IsAncestor("R", "C") || tree.IsAncestor("B", "C") {
		t.Error("IsAncestor mismatch")
	}

	if _, err := tree.PathToRoot("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PathToRoot(nope) error = %v", err)
	}
}

func TestTreeActivePathFrom(t *testing.T) {
	tree := sampleTree(t)

	tests := []struct {
		from string
		want []string
	}{
		{"R", []string{"A", "B"}}, // on the active path: down to current
		{"A", []string{"B"}},
		{"B", []string{}},
		{"C", []string{}},
		{"D", []string{}},
	}
	for _, tt := range tests {
		got, err := tree.ActivePathFrom(tt.from)
		if err != nil {
			t.Fatalf("ActivePathFrom(%s) error = %v", tt.from, err)
		}
		if !equal(ids(got), tt.want) {
			t.Errorf("ActivePathFrom(%s) = %v, want %v", tt.from, ids(got), tt.want)
		}
	}

	// Off the active path the newest child is followed
	tree.Insert(Checkpoint{ID: "E", Timestamp: epoch.Add(10 * time.Second)}, nil, "D")
	tree.Insert(Checkpoint{ID: "F", Timestamp: epoch.Add(11 * time.Second)}, nil, "D")
	tree.Insert(Checkpoint{ID: "G", Timestamp: epoch.Add(12 * time.Second)}, nil, "F")
	got, _ := tree.ActivePathFrom("D")
	if !equal(ids(got), []string{"F", "G"}) {
		t.Errorf("ActivePathFrom(D) = %v, want [F G]", ids(got))
	}
}

func TestTreeRemove(t *testing.T) {
	tree := sampleTree(t)

	if err := tree.Remove("A"); err == nil {
		t.Error("Remove() of a node with children should fail")
	}
	if err := tree.Remove("R"); err == nil {
		t.Error("Remove() of root should fail")
	}
	if err := tree.Remove("B"); err == nil {
		t.Error("Remove() of current should fail")
	}
	if err := tree.Remove("C"); err != nil {
		t.Fatalf("Remove(C) error = %v", err)
	}
	children, _ := tree.ListChildren("A")
	if !equal(ids(children), []string{"B"}) {
		t.Errorf("children after remove = %v", ids(children))
	}
	if err := tree.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestTreeTimeline(t *testing.T) {
	tree := sampleTree(t)
	tl := tree.Timeline()
	if tl.CurrentCheckpointID != "B" || tl.TotalCheckpoints != 5 {
		t.Errorf("Timeline() = %+v", tl)
	}
	if tl.RootNode == nil || len(tl.RootNode.Children) != 2 {
		t.Fatalf("root children = %+v", tl.RootNode)
	}
	if tl.RootNode.Children[0].Checkpoint.ID != "A" || tl.RootNode.Children[1].Checkpoint.ID != "D" {
		t.Errorf("children not ordered by time")
	}

	empty := NewTree("e").Timeline()
	if empty.RootNode != nil || empty.TotalCheckpoints != 0 {
		t.Errorf("empty Timeline() = %+v", empty)
	}
}

func TestTreeEffectiveFiles(t *testing.T) {
	tree := NewTree("s")
	tree.Insert(Checkpoint{ID: "R", Timestamp: epoch}, []FileSnapshot{
		{FilePath: "a.txt", ContentHash: "h1", Size: 1},
		{FilePath: "b.txt", ContentHash: "h2", Size: 2},
	}, "")
	tree.Insert(Checkpoint{ID: "A", Timestamp: epoch.Add(time.Second)}, []FileSnapshot{
		{FilePath: "a.txt", ContentHash: "h3", Size: 3},
		{FilePath: "b.txt", IsDeleted: true},
		{FilePath: "c.txt", ContentHash: "h4", Size: 4},
	}, "R")
	tree.SetCurrent("A")

	files, err := tree.EffectiveFiles("A")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, f := range files {
		got[f.FilePath] = f.ContentHash
	}
	want := map[string]string{"a.txt": "h3", "c.txt": "h4"}
	if len(got) != len(want) {
		t.Fatalf("EffectiveFiles(A) = %v", got)
	}
	for p, h := range want {
		if got[p] != h {
			t.Errorf("%s = %s, want %s", p, got[p], h)
		}
	}

	root, _ := tree.EffectiveFiles("R")
	if len(root) != 2 {
		t.Errorf("EffectiveFiles(R) has %d files, want 2", len(root))
	}
}

func TestTreeProtected(t *testing.T) {
	// R ── A ── B ── C (current)
	//      └── X ── Y
	tree := buildTree(t,
		[2]string{"R", ""},
		[2]string{"A", "R"},
		[2]string{"X", "A"},
		[2]string{"Y", "X"},
		[2]string{"B", "A"},
		[2]string{"C", "B"},
	)
	tree.SetCurrent("C")

	tests := []struct {
		keep    int
		evicted []string
	}{
		{0, []string{"X", "Y"}},
		{1, []string{"X", "Y"}}, // C is both newest and current
		{2, []string{"X", "Y"}}, // B is on the active path anyway
		{3, []string{}},         // Y is third newest, so X is kept as its ancestor
	}
	for _, tt := range tests {
		got := ids(tree.EvictionCandidates(tt.keep))
		if !equal(got, tt.evicted) {
			t.Errorf("EvictionCandidates(%d) = %v, want %v", tt.keep, got, tt.evicted)
		}
	}

	// Moving current onto the side branch protects it instead
	tree.SetCurrent("Y")
	got := ids(tree.EvictionCandidates(0))
	if !equal(got, []string{"B", "C"}) {
		t.Errorf("EvictionCandidates(0) with current Y = %v", got)
	}
}

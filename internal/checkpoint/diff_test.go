package checkpoint

import (
	"context"
	"strings"
	"testing"
)

func TestDiffLineStats(t *testing.T) {
	e := newTestEnv(t)
	e.write("main.go", "line1\nline2\nline3\n")
	a := e.capture("A")
	e.write("main.go", "line1\nchanged\nline3\nline4\n")
	b := e.capture("B")

	d, err := e.m.Diff(testSession, a.ID, b.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.ModifiedFiles) != 1 {
		t.Fatalf("ModifiedFiles = %+v", d.ModifiedFiles)
	}
	fd := d.ModifiedFiles[0]
	if fd.Path != "main.go" || fd.Additions != 2 || fd.Deletions != 1 {
		t.Errorf("FileDiff = %+v, want +2 -1", fd)
	}
	for _, want := range []string{"--- a/main.go", "+++ b/main.go", "-line2", "+changed", "+line4", " line1"} {
		if !strings.Contains(fd.DiffContent, want) {
			t.Errorf("DiffContent missing %q:\n%s", want, fd.DiffContent)
		}
	}

	// Without content only the stats are filled
	d, _ = e.m.Diff(testSession, a.ID, b.ID, false)
	if d.ModifiedFiles[0].DiffContent != "" {
		t.Error("DiffContent set without withContent")
	}

	// Reversed endpoints swap the counts
	d, _ = e.m.Diff(testSession, b.ID, a.ID, false)
	if fd := d.ModifiedFiles[0]; fd.Additions != 1 || fd.Deletions != 2 {
		t.Errorf("reversed FileDiff = %+v", fd)
	}
}

func TestDiffBinary(t *testing.T) {
	e := newTestEnv(t)
	e.write("img.bin", "\x00\x01\x02")
	a := e.capture("A")
	e.write("img.bin", "\x00\x01\x03")
	b := e.capture("B")

	d, err := e.m.Diff(testSession, a.ID, b.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.ModifiedFiles) != 1 || !d.ModifiedFiles[0].Binary || d.ModifiedFiles[0].DiffContent != "" {
		t.Errorf("ModifiedFiles = %+v", d.ModifiedFiles)
	}
}

func TestDiffTokenDelta(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	capture := func(tokens int64) string {
		res, err := e.m.CreateCheckpoint(ctx, testSession, CaptureOptions{TotalTokens: tokens})
		if err != nil {
			t.Fatal(err)
		}
		return res.Checkpoint.ID
	}
	r := capture(100)
	a := capture(50)
	b := capture(25)

	d := e.diff(r, b)
	if d.TokenDelta != 75 {
		t.Errorf("TokenDelta(R, B) = %d, want 75", d.TokenDelta)
	}
	d = e.diff(b, a)
	if d.TokenDelta != -25 {
		t.Errorf("TokenDelta(B, A) = %d, want -25", d.TokenDelta)
	}
}

func TestDiffAcrossBranches(t *testing.T) {
	e := newTestEnv(t)
	e.write("shared.txt", "base")
	root := e.capture("root")

	e.write("left.txt", "l")
	left := e.capture("left")

	e.revert(root.ID)
	e.write("right.txt", "r")
	e.write("shared.txt", "base")
	right := e.capture("right")

	d := e.diff(left.ID, right.ID)
	if !equal(d.AddedFiles, []string{"right.txt"}) || !equal(d.DeletedFiles, []string{"left.txt"}) || len(d.ModifiedFiles) != 0 {
		t.Errorf("Diff(left, right) = %+v", d)
	}

	if d := e.diff(left.ID, left.ID); !d.Empty() {
		t.Errorf("Diff(left, left) = %+v", d)
	}
}

func TestDiffPathChangedAndRestored(t *testing.T) {
	e := newTestEnv(t)
	e.write("a.txt", "1")
	a := e.capture("A")
	e.write("a.txt", "2")
	e.capture("B")
	e.write("a.txt", "1")
	c := e.capture("C")

	// Touched along the way but identical at both ends
	if d := e.diff(a.ID, c.ID); !d.Empty() {
		t.Errorf("Diff(A, C) = %+v, want empty", d)
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
	}
	for _, tt := range tests {
		if got := countLines(tt.in); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// internal/checkpoint/diff.go
package checkpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff compares the effective file state of two checkpoints of a session.
// The endpoints may lie on different branches. When withContent is set each
// modified text file carries a line diff.
func (m *Manager) Diff(sessionID, fromID, toID string, withContent bool) (*CheckpointDiff, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	// Held for the whole diff so eviction cannot drop blobs being read.
	m.mu.RLock()
	defer m.mu.RUnlock()

	tree := sess.Tree
	for _, id := range []string{fromID, toID} {
		if _, ok := tree.FindByID(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	lca, err := tree.LowestCommonAncestor(fromID, toID)
	if err != nil {
		return nil, err
	}
	base, err := tree.effectiveState(lca)
	if err != nil {
		return nil, err
	}
	fromSeg, err := tree.segmentBelow(lca, fromID)
	if err != nil {
		return nil, err
	}
	toSeg, err := tree.segmentBelow(lca, toID)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	fold := func(seg []*treeNode) (fileMap, int64) {
		state := base.clone()
		var tokens int64
		for _, n := range seg {
			state.apply(n.snapshots)
			tokens += n.checkpoint.Metadata.TotalTokens
			for _, s := range n.snapshots {
				touched[s.FilePath] = true
			}
		}
		return state, tokens
	}
	fromState, fromTokens := fold(fromSeg)
	toState, toTokens := fold(toSeg)

	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	result := &CheckpointDiff{
		FromCheckpointID: fromID,
		ToCheckpointID:   toID,
		ModifiedFiles:    []FileDiff{},
		AddedFiles:       []string{},
		DeletedFiles:     []string{},
		TokenDelta:       toTokens - fromTokens,
	}
	for _, p := range paths {
		from, inFrom := fromState[p]
		to, inTo := toState[p]
		switch {
		case !inFrom && inTo:
			result.AddedFiles = append(result.AddedFiles, p)
		case inFrom && !inTo:
			result.DeletedFiles = append(result.DeletedFiles, p)
		case inFrom && inTo && (from.Hash != to.Hash || from.Permissions != to.Permissions):
			fd, err := m.fileDiff(p, from, to, withContent)
			if err != nil {
				return nil, err
			}
			result.ModifiedFiles = append(result.ModifiedFiles, fd)
		}
	}

	return result, nil
}

func (m *Manager) fileDiff(path string, from, to fileState, withContent bool) (FileDiff, error) {
	fd := FileDiff{Path: path}
	if from.Hash == to.Hash {
		return fd, nil
	}

	oldContent, err := m.store.Get(from.Hash)
	if err != nil {
		return fd, err
	}
	newContent, err := m.store.Get(to.Hash)
	if err != nil {
		return fd, err
	}
	if isBinary(oldContent) || isBinary(newContent) {
		fd.Binary = true
		return fd, nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(oldContent), string(newContent))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fd.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			fd.Deletions += countLines(d.Text)
		}
	}
	if withContent {
		fd.DiffContent = renderLineDiff(path, diffs)
	}
	return fd, nil
}

// isBinary checks if content contains binary data
// Simple heuristic: check for null bytes in first 8KB
func isBinary(content []byte) bool {
	checkLen := 8192
	if len(content) < checkLen {
		checkLen = len(content)
	}

	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func renderLineDiff(path string, diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}

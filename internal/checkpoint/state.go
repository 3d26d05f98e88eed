// internal/checkpoint/state.go
package checkpoint

import "sort"

// fileState is the effective state of one live file at a checkpoint
type fileState struct {
	Hash        string
	Permissions uint32
	Size        int64
}

// fileMap maps a project-relative slash path to its live state. Deleted
// paths are absent.
type fileMap map[string]fileState

func (m fileMap) apply(snapshots []FileSnapshot) {
	for _, s := range snapshots {
		if s.IsDeleted {
			delete(m, s.FilePath)
			continue
		}
		m[s.FilePath] = fileState{Hash: s.ContentHash, Permissions: s.Permissions, Size: s.Size}
	}
}

func (m fileMap) clone() fileMap {
	out := make(fileMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m fileMap) paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// effectiveState folds the snapshots on the root path of id, last writer
// per path winning
func (t *Tree) effectiveState(id string) (fileMap, error) {
	nodes, err := t.pathNodes(id)
	if err != nil {
		return nil, err
	}
	state := make(fileMap)
	for _, n := range nodes {
		state.apply(n.snapshots)
	}
	return state, nil
}

// segmentBelow returns the nodes strictly below ancestor on the path to id
func (t *Tree) segmentBelow(ancestor, id string) ([]*treeNode, error) {
	nodes, err := t.pathNodes(id)
	if err != nil {
		return nil, err
	}
	for i, n := range nodes {
		if n.checkpoint.ID == ancestor {
			return nodes[i+1:], nil
		}
	}
	return nil, &TreeIntegrityError{CheckpointID: id, Reason: ancestor + " is not an ancestor"}
}

// EffectiveFiles returns the live files at checkpoint id
func (t *Tree) EffectiveFiles(id string) ([]FileSnapshot, error) {
	state, err := t.effectiveState(id)
	if err != nil {
		return nil, err
	}
	files := make([]FileSnapshot, 0, len(state))
	for _, p := range state.paths() {
		f := state[p]
		files = append(files, FileSnapshot{
			CheckpointID: id,
			FilePath:     p,
			ContentHash:  f.Hash,
			Permissions:  f.Permissions,
			Size:         f.Size,
		})
	}
	return files, nil
}

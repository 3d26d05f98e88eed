package git

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// alwaysIgnored are never tracked regardless of ignore files
var alwaysIgnored = []string{".git"}

// Matcher decides which project paths are excluded from checkpoints. It
// combines every .gitignore below the project root, .git/info/exclude and
// extra patterns supplied by configuration. It is safe for concurrent use.
type Matcher struct {
	root  string
	extra []string

	mu       sync.RWMutex
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

// NewMatcher reads the ignore files of the project at root. extra patterns
// use .gitignore syntax relative to the root.
func NewMatcher(root string, extra ...string) (*Matcher, error) {
	m := &Matcher{root: root, extra: extra}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the ignore files. On error the previous patterns stay in
// effect.
func (m *Matcher) Reload() error {
	patterns, err := gitignore.ReadPatterns(osfs.New(m.root), nil)
	if err != nil {
		return fmt.Errorf("failed to read ignore patterns: %w", err)
	}

	for _, p := range alwaysIgnored {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	for _, p := range m.extra {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	m.mu.Lock()
	m.patterns = patterns
	m.matcher = gitignore.NewMatcher(patterns)
	m.mu.Unlock()
	return nil
}

// Root returns the project root the patterns were read from
func (m *Matcher) Root() string {
	return m.root
}

// Len returns the number of loaded patterns
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// Match reports whether the slash separated path, relative to the root, is
// ignored
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.Trim(path, "/")
	if path == "" || path == "." {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matcher.Match(strings.Split(path, "/"), isDir)
}

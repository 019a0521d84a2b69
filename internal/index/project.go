package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/indexd/internal/pattern"
)

var ErrOutsideProject = errors.New("index: path is outside the project root")

// Project is one discovered root with the rules that classify its paths.
type Project struct {
	Root  string
	Rules *pattern.Rules
	Files *FileTracker
}

func NewProject(root string, rules *pattern.Rules) *Project {
	return &Project{Root: filepath.Clean(root), Rules: rules, Files: NewFileTracker()}
}

// NewProjectFactory returns a constructor that compiles the given ignore and
// include lists once and shares the rules across projects.
func NewProjectFactory(ignore, include []string, cmp pattern.Comparer) (func(root string) (*Project, error), error) {
	rules, err := pattern.NewRules(ignore, include, cmp)
	if err != nil {
		return nil, err
	}
	return func(root string) (*Project, error) {
		return NewProject(root, rules), nil
	}, nil
}

// Rel returns path relative to the project root using forward slashes.
func (p *Project) Rel(path string) (string, error) {
	rel, err := filepath.Rel(p.Root, filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideProject, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideProject, path)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// Classify reports whether path is ignored and whether it is included.
func (p *Project) Classify(path string, isDir bool) (rel string, ignored, included bool, err error) {
	rel, err = p.Rel(path)
	if err != nil {
		return "", false, false, err
	}
	if rel == "" {
		return rel, false, true, nil
	}
	ignored = p.Rules.Ignored(rel, isDir)
	included = !ignored && p.Rules.Included(rel, isDir)
	return rel, ignored, included, nil
}

package discovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// Prober locates the project root owning path. ok is false when no root
// exists; err is reserved for probe failures other than absence.
type Prober interface {
	FindRoot(path string) (root string, ok bool, err error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(path string) (string, bool, error)

func (f ProberFunc) FindRoot(path string) (string, bool, error) {
	return f(path)
}

var DefaultMarkers = []string{".indexroot", ".git"}

// MarkerProber walks up from a path until a directory holds one of Markers.
type MarkerProber struct {
	Markers []string
}

func NewMarkerProber(markers ...string) MarkerProber {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	return MarkerProber{Markers: markers}
}

func (p MarkerProber) FindRoot(path string) (string, bool, error) {
	for _, dir := range Ancestors(filepath.Clean(path)) {
		for _, marker := range p.Markers {
			_, err := os.Stat(filepath.Join(dir, marker))
			if err == nil {
				return dir, true, nil
			}
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission) && !isNotDir(err) {
				return "", false, err
			}
		}
	}
	return "", false, nil
}

// isNotDir reports ENOTDIR, seen when a path component is a regular file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// Ancestors returns path followed by each parent directory up to the
// filesystem root, nearest first.
func Ancestors(path string) []string {
	out := []string{path}
	for {
		parent := filepath.Dir(path)
		if parent == path {
			return out
		}
		out = append(out, parent)
		path = parent
	}
}

// within reports whether path equals root or sits below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

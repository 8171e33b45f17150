package services

import (
	"os"
	"path/filepath"
	"strings"
)

// PathResolver maps stored file references to files that exist on disk.
// References are re-resolved on every call because roots can change.
type PathResolver struct {
	roots []string
}

// NewPathResolver returns a resolver that probes roots in the given order.
// Newer storage layouts should come first.
func NewPathResolver(roots ...string) *PathResolver {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) != "" {
			cleaned = append(cleaned, filepath.Clean(root))
		}
	}
	return &PathResolver{roots: cleaned}
}

// Roots returns the probe order.
func (r *PathResolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Resolve returns the absolute path of an existing file for ref. An absolute
// ref that exists is returned without probing. Otherwise each root is tried
// with the full ref and then with just its basename.
func (r *PathResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", Wrap(ErrNotFound, "resolve", "", "empty file reference", nil)
	}

	native := filepath.FromSlash(strings.ReplaceAll(ref, `\`, "/"))
	if filepath.IsAbs(native) && isFile(native) {
		return filepath.Clean(native), nil
	}

	relative := strings.TrimLeft(native, string(filepath.Separator))
	base := filepath.Base(native)
	for _, root := range r.roots {
		candidates := []string{filepath.Join(root, relative)}
		if base != relative {
			candidates = append(candidates, filepath.Join(root, base))
		}
		for _, candidate := range candidates {
			if !withinRoot(root, candidate) {
				continue
			}
			if isFile(candidate) {
				return candidate, nil
			}
		}
	}
	return "", Wrap(ErrNotFound, "resolve", "", "no storage root holds "+ref, nil)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// withinRoot rejects candidates that escape root through ".." segments.
func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Root is the canonical sandbox root directory. It is fixed at construction
// and every tool operation is parameterized by it.
type Root struct {
	path string
}

// NewRoot canonicalizes dir (~ expansion, absolute, cleaned, symlinks of the
// existing prefix resolved). The directory itself need not exist yet.
func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		return nil, fmt.Errorf("sandbox root must not be empty")
	}
	abs, err := absPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", dir, err)
	}
	real, err := realPath(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", dir, err)
	}
	return &Root{path: real}, nil
}

// Path returns the canonical root path.
func (r *Root) Path() string { return r.path }

// Ensure creates the root directory if it is missing. Intermediate
// directories below the root are never created here.
func (r *Root) Ensure() error {
	if err := os.MkdirAll(r.path, 0750); err != nil {
		return fmt.Errorf("creating sandbox root %s: %w", r.path, err)
	}
	return nil
}

// Resolve joins rel onto the root, canonicalizes the result without
// requiring it to exist, and admits it only if the root's path components
// are a prefix of the candidate's. Absolute inputs are taken as-is and go
// through the same check. Existence is not checked.
//
// The check runs twice: once lexically, and once after following any
// symlinks in the existing part of the candidate, so a link inside the
// root cannot alias a location outside it.
func (r *Root) Resolve(rel string) (string, error) {
	candidate := r.join(rel)
	if !contains(r.path, candidate) {
		return "", &EscapeError{Path: rel, Resolved: candidate, Reason: ErrOutsideRoot}
	}

	real, err := realPath(candidate)
	if err != nil {
		return "", &EscapeError{Path: rel, Resolved: candidate, Reason: fmt.Errorf("%w: %v", ErrOutsideRoot, err)}
	}
	if !contains(r.path, real) {
		return "", &EscapeError{Path: rel, Resolved: real, Reason: ErrOutsideRoot}
	}
	return real, nil
}

// ResolveDirect is Resolve plus a stricter rule: the parent directory of the
// resolved path must be the root itself. Used for execution, which is not
// allowed from nested directories.
func (r *Root) ResolveDirect(rel string) (string, error) {
	resolved, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	if filepath.Dir(resolved) != r.path {
		return "", &EscapeError{Path: rel, Resolved: resolved, Reason: ErrNotDirectChild}
	}
	return resolved, nil
}

func (r *Root) join(rel string) string {
	switch {
	case rel == "":
		return r.path
	case filepath.IsAbs(rel):
		return filepath.Clean(rel)
	default:
		return filepath.Join(r.path, rel)
	}
}

// contains reports whether root's components prefix p's components.
// "/srv/root2" is not inside "/srv/root".
func contains(root, p string) bool {
	rc := components(root)
	pc := components(p)
	if len(pc) < len(rc) {
		return false
	}
	for i := range rc {
		if rc[i] != pc[i] {
			return false
		}
	}
	return true
}

// components splits a cleaned absolute path into its volume followed by
// each path element.
func components(p string) []string {
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	rest := strings.TrimPrefix(p[len(vol):], string(filepath.Separator))
	parts := []string{vol}
	if rest == "" {
		return parts
	}
	return append(parts, strings.Split(rest, string(filepath.Separator))...)
}

// realPath follows symlinks on the longest existing prefix of p and appends
// the non-existent remainder. A regular file used as a directory ends the
// existing prefix too. A dangling symlink anywhere on the way is an error
// since its target cannot be checked.
func realPath(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !IsNotExist(err) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("dangling symlink %s", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// absPath expands ~ to the user home directory and returns an absolute path.
func absPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// IsNotExist reports whether err means the path does not exist, including
// the case where a regular file stands in for one of its directories.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

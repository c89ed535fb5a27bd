package util

import (
	"fmt"
	"strings"
)

// Join appends name to the tree path parent.
func Join(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// Rebase maps a path below the mount root onto the remote tree rooted at root.
// Rebase("/app", "/a/b") is "/app/a/b"; the mount root "/" maps onto root itself.
func Rebase(root, path string) string {
	root = Clean(root)
	path = Clean(path)
	if root == "/" {
		return path
	}
	if path == "/" {
		return root
	}
	return root + path
}

// Relative is the inverse of Rebase.
func Relative(root, path string) (string, error) {
	root = Clean(root)
	path = Clean(path)
	if root == "/" {
		return path, nil
	}
	if path == root {
		return "/", nil
	}
	if !strings.HasPrefix(path, root+"/") {
		return "", fmt.Errorf("%w: %s not below %s", ErrOutsideRoot, path, root)
	}
	return strings.TrimPrefix(path, root), nil
}

// Clean normalises a slash path: a single leading slash, no trailing slash,
// no empty components. It does not resolve "." or "..".
func Clean(path string) string {
	parts := strings.Split(path, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// Parent returns the parent of path. The parent of "/" is "/".
func Parent(path string) string {
	path = Clean(path)
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// Base returns the last component of path, or "/" for the root.
func Base(path string) string {
	path = Clean(path)
	if path == "/" {
		return "/"
	}
	return path[strings.LastIndexByte(path, '/')+1:]
}

// MaxNameLen is the longest single component the kernel accepts.
const MaxNameLen = 255

// ValidateName reports whether name can be used as a single path component
// both by the kernel and by the remote tree.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrEmptyName
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: %q contains a slash", ErrReservedName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrReservedName, name)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	return nil
}

// ValidatePath checks that path is absolute and that every component is valid.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrRelativePath, path)
	}
	if path == "/" {
		return nil
	}
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if err := ValidateName(part); err != nil {
			return err
		}
	}
	return nil
}

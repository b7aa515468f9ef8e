package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Pop removes the string from the set
func (ss StringSet) Pop(s string) {
	delete(ss, s)
}

// Slice returns a slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// FileExists returns true if the path exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GlobOne returns the unique file of the directory matching the pattern.
// Zero or several matches is an error.
func GlobOne(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("GlobOne[%s]: %w", pattern, err)
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("GlobOne[%s]: expected one match in %s, got %d", pattern, dir, len(matches))
	}
	return matches[0], nil
}

// CopyFile copies src to dst, creating the parent directories of dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("CopyFile.%w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0766); err != nil {
		return fmt.Errorf("CopyFile.%w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("CopyFile.%w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("CopyFile.%w", err)
	}
	return out.Close()
}

// CopyDir recursively copies the src directory to dst
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("CopyDir.%w", err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("CopyDir.%w", err)
		}
		if d.IsDir() {
			if err := os.MkdirAll(filepath.Join(dst, rel), 0766); err != nil {
				return fmt.Errorf("CopyDir.%w", err)
			}
			return nil
		}
		return CopyFile(path, filepath.Join(dst, rel))
	})
}

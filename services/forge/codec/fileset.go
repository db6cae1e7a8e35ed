// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codec

import (
	"fmt"
	"strings"
)

// File is a single entry of a FileSet: a relative path and its content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileSet is the in-memory representation of a multi-file project: an
// ordered mapping from relative path to file content.
//
// # Invariants
//
// Paths are relative, use forward slashes, and contain no ".." traversal
// segments. Insertion order is preserved; re-adding an existing path
// replaces its content in place without reordering.
//
// A FileSet handed to a build attempt is never mutated by the repair
// loop; each attempt derives a new FileSet instead.
//
// # Thread Safety
//
// FileSet is not safe for concurrent mutation. The repair loop only
// shares FileSets read-only between goroutines.
type FileSet struct {
	files []File
	index map[string]int
}

// NewFileSet creates an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{index: make(map[string]int)}
}

// ValidatePath checks a FileSet path against the path invariants.
//
// Inputs:
//
//	path - Candidate relative path (forward slashes)
//
// Outputs:
//
//	error - ErrInvalidPath (wrapped) if the path is empty, absolute,
//	        backslash-separated, or contains ".." segments
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidPath, path)
	}
	if strings.Contains(path, "\\") {
		return fmt.Errorf("%w: backslash separator in %q", ErrInvalidPath, path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: traversal segment in %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Add inserts or replaces a file. New paths append in order; existing
// paths are replaced without reordering.
//
// Outputs:
//
//	error - ErrInvalidPath (wrapped) if the path violates the invariants
func (fs *FileSet) Add(path, content string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if i, ok := fs.index[path]; ok {
		fs.files[i].Content = content
		return nil
	}
	fs.index[path] = len(fs.files)
	fs.files = append(fs.files, File{Path: path, Content: content})
	return nil
}

// Get returns the content for a path and whether it is present.
func (fs *FileSet) Get(path string) (string, bool) {
	i, ok := fs.index[path]
	if !ok {
		return "", false
	}
	return fs.files[i].Content, true
}

// Has reports whether the path is present.
func (fs *FileSet) Has(path string) bool {
	_, ok := fs.index[path]
	return ok
}

// Len returns the number of files.
func (fs *FileSet) Len() int {
	return len(fs.files)
}

// Paths returns the paths in insertion order.
func (fs *FileSet) Paths() []string {
	paths := make([]string, len(fs.files))
	for i, f := range fs.files {
		paths[i] = f.Path
	}
	return paths
}

// Files returns a copy of the entries in insertion order. Mutating the
// returned slice does not affect the FileSet.
func (fs *FileSet) Files() []File {
	files := make([]File, len(fs.files))
	copy(files, fs.files)
	return files
}

// Clone returns a deep copy.
func (fs *FileSet) Clone() *FileSet {
	clone := NewFileSet()
	for _, f := range fs.files {
		clone.index[f.Path] = len(clone.files)
		clone.files = append(clone.files, f)
	}
	return clone
}

// Equal reports whether two FileSets have identical entries in
// identical order.
func (fs *FileSet) Equal(other *FileSet) bool {
	if other == nil || len(fs.files) != len(other.files) {
		return false
	}
	for i, f := range fs.files {
		if other.files[i] != f {
			return false
		}
	}
	return true
}

// HasManifest reports whether the set contains a Cargo manifest.
func (fs *FileSet) HasManifest() bool {
	return fs.Has("Cargo.toml")
}

// HasSource reports whether the set contains at least one Rust source
// file.
func (fs *FileSet) HasSource() bool {
	for _, f := range fs.files {
		if strings.HasSuffix(f.Path, ".rs") {
			return true
		}
	}
	return false
}

// Buildable reports whether a build may be attempted: at minimum one
// manifest and one source file must be present.
func (fs *FileSet) Buildable() bool {
	return fs.HasManifest() && fs.HasSource()
}

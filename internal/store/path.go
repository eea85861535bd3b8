package store

import (
	"errors"
	"fmt"
	"strings"
)

const pathSeparator = "."

var (
	// ErrInvalidPath indicates that a path is empty or contains empty segments.
	ErrInvalidPath = errors.New("store: invalid path")
	// ErrPathNotFound indicates that an intermediate node of a path does not exist.
	ErrPathNotFound = errors.New("store: path not found")
	// ErrNodeType indicates that a path descends through a scalar value.
	ErrNodeType = errors.New("store: node is not a container")
)

// Path addresses a node of the state tree, one segment per level.
type Path []string

// NewPath validates the provided segments and returns a Path.
func NewPath(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	path := make(Path, 0, len(segments))
	for index, segment := range segments {
		trimmed := strings.TrimSpace(segment)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: empty segment at %d", ErrInvalidPath, index)
		}
		path = append(path, trimmed)
	}
	return path, nil
}

// ParsePath splits a dotted representation such as "patients.p-1.encounters".
func ParsePath(rawInput string) (Path, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	return NewPath(strings.Split(trimmed, pathSeparator)...)
}

// MustPath is NewPath for compile-time constant segments.
func MustPath(segments ...string) Path {
	path, err := NewPath(segments...)
	if err != nil {
		panic(err)
	}
	return path
}

// String returns the dotted representation.
func (p Path) String() string {
	return strings.Join(p, pathSeparator)
}

// Child returns a new path extended by the provided segments.
func (p Path) Child(segments ...string) Path {
	child := make(Path, 0, len(p)+len(segments))
	child = append(child, p...)
	return append(child, segments...)
}

// HasPrefix reports whether prefix addresses p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for index := range prefix {
		if p[index] != prefix[index] {
			return false
		}
	}
	return true
}

// Overlaps reports whether a write at one path changes the value observed at the other.
func (p Path) Overlaps(other Path) bool {
	return p.HasPrefix(other) || other.HasPrefix(p)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var errMissingUpdater = errors.New("store: updater is required")

// Config describes the inputs required to build a Store.
type Config struct {
	Seed       map[string]any
	Clock      func() time.Time
	BufferSize int
}

// Store is a key-path addressable state tree shared by independent consumers.
// Values are held in their JSON shape so that any consumer can decode a node into its own type.
type Store struct {
	mu         sync.RWMutex
	root       map[string]any
	revision   uint64
	clock      func() time.Time
	dispatcher *Dispatcher
}

// New constructs a Store seeded with a deep copy of cfg.Seed.
func New(cfg Config) (*Store, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	root := map[string]any{}
	if cfg.Seed != nil {
		normalized, err := normalize(cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("store: normalize seed: %w", err)
		}
		seedRoot, ok := normalized.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: seed root", ErrNodeType)
		}
		root = seedRoot
	}
	return &Store{
		root:       root,
		clock:      clock,
		dispatcher: NewDispatcher(cfg.BufferSize),
	}, nil
}

// Revision returns the number of writes applied so far.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Get decodes the node at path into target. A missing leaf leaves target untouched and reports false.
func (s *Store) Get(path Path, target any) (bool, error) {
	if len(path) == 0 {
		return false, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	s.mu.RLock()
	node, exists, err := lookup(s.root, path)
	if err != nil || !exists {
		s.mu.RUnlock()
		return false, err
	}
	encoded, err := json.Marshal(node)
	s.mu.RUnlock()
	if err != nil {
		return false, fmt.Errorf("store: encode %s: %w", path, err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return true, nil
}

// Set replaces the node at path. The parent of path must exist.
func (s *Store) Set(path Path, value any) error {
	return s.Update(path, func(_ any, _ bool) (any, error) {
		return value, nil
	})
}

// Update replaces the node at path with the updater's result while holding the write lock.
// The updater receives a private copy of the current node and whether it existed.
func (s *Store) Update(path Path, updater func(current any, exists bool) (any, error)) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if updater == nil {
		return errMissingUpdater
	}

	s.mu.Lock()
	current, exists, err := lookup(s.root, path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var currentCopy any
	if exists {
		currentCopy, err = normalize(current)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: copy %s: %w", path, err)
		}
	}
	next, err := updater(currentCopy, exists)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	normalized, err := normalize(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: normalize %s: %w", path, err)
	}
	if err := assign(s.root, path, normalized); err != nil {
		s.mu.Unlock()
		return err
	}
	s.revision++
	change := Change{
		Path:      path.String(),
		Kind:      ChangeKindWrite,
		Revision:  s.revision,
		Timestamp: s.clock().UTC(),
	}
	s.mu.Unlock()

	s.dispatcher.Publish(change, path)
	return nil
}

// Notify publishes a change of the provided kind without modifying stored data.
func (s *Store) Notify(path Path, kind ChangeKind) {
	if len(path) == 0 {
		return
	}
	s.dispatcher.Publish(Change{
		Path:      path.String(),
		Kind:      kind,
		Revision:  s.Revision(),
		Timestamp: s.clock().UTC(),
	}, path)
}

// Subscribe registers for changes overlapping path.
func (s *Store) Subscribe(ctx context.Context, path Path) (<-chan Change, func()) {
	return s.dispatcher.Subscribe(ctx, path)
}

// Dispatcher exposes the change dispatcher backing the store.
func (s *Store) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func normalize(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func lookup(root map[string]any, path Path) (any, bool, error) {
	var node any = root
	for index, segment := range path {
		child, exists, err := childOf(node, segment)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s", err, path[:index+1])
		}
		if !exists {
			if index == len(path)-1 {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("%w: %s", ErrPathNotFound, path[:index+1])
		}
		node = child
	}
	return node, true, nil
}

func childOf(node any, segment string) (any, bool, error) {
	switch container := node.(type) {
	case map[string]any:
		child, ok := container[segment]
		if !ok || child == nil {
			return nil, false, nil
		}
		return child, true, nil
	case []any:
		position, err := strconv.Atoi(segment)
		if err != nil || position < 0 || position >= len(container) {
			return nil, false, nil
		}
		return container[position], container[position] != nil, nil
	default:
		return nil, false, ErrNodeType
	}
}

func assign(root map[string]any, path Path, value any) error {
	parentPath := path[:len(path)-1]
	leaf := path[len(path)-1]

	var parent any = root
	if len(parentPath) > 0 {
		node, exists, err := lookup(root, parentPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrPathNotFound, parentPath)
		}
		parent = node
	}

	switch container := parent.(type) {
	case map[string]any:
		container[leaf] = value
		return nil
	case []any:
		position, err := strconv.Atoi(leaf)
		if err != nil || position < 0 || position >= len(container) {
			return fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		container[position] = value
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNodeType, parentPath)
	}
}

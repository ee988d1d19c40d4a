// Package universe holds the entity sets built by the reference scan:
// known actors, known posts, and the dangling posts and actors referenced
// without being known.
//
// Sets only grow. They are scoped to one run and passed explicitly between
// phases. The in-memory backend is the default; the bolt backend keeps the
// sets on disk for logs whose distinct identifiers do not fit in memory.
package universe

import (
	"errors"
	"sort"
)

// Set is a grow-only set of identifiers.
type Set interface {
	// Add inserts id and reports whether it was not already present.
	Add(id string) (bool, error)
	Has(id string) (bool, error)
	Len() int
	// Each calls fn for every member in ascending order.
	Each(fn func(id string) error) error
}

// Universe groups the four sets of a run.
type Universe struct {
	KnownActors    Set
	KnownPosts     Set
	DanglingPosts  Set
	DanglingActors Set

	close func() error
}

// Close releases the backing storage.
func (u *Universe) Close() error {
	if u.close == nil {
		return nil
	}
	return u.close()
}

// Members returns every member of s in ascending order.
func Members(s Set) ([]string, error) {
	out := make([]string, 0, s.Len())
	err := s.Each(func(id string) error {
		out = append(out, id)
		return nil
	})
	return out, err
}

// Intersect returns the members of a that are also in b, ascending.
func Intersect(a, b Set) ([]string, error) {
	small, large := a, b
	if b.Len() < a.Len() {
		small, large = b, a
	}
	var out []string
	err := small.Each(func(id string) error {
		ok, err := large.Has(id)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

// ErrStop may be returned from an Each callback to end iteration early
// without error.
var ErrStop = errors.New("stop iteration")

// NewMemory returns a universe backed by maps.
func NewMemory() *Universe {
	return &Universe{
		KnownActors:    NewMemorySet(),
		KnownPosts:     NewMemorySet(),
		DanglingPosts:  NewMemorySet(),
		DanglingActors: NewMemorySet(),
	}
}

// MemorySet is a map-backed Set.
type MemorySet struct {
	m map[string]struct{}
}

// NewMemorySet returns an empty set.
func NewMemorySet(ids ...string) *MemorySet {
	s := &MemorySet{m: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.m[id] = struct{}{}
	}
	return s
}

func (s *MemorySet) Add(id string) (bool, error) {
	if _, ok := s.m[id]; ok {
		return false, nil
	}
	s.m[id] = struct{}{}
	return true, nil
}

func (s *MemorySet) Has(id string) (bool, error) {
	_, ok := s.m[id]
	return ok, nil
}

func (s *MemorySet) Len() int { return len(s.m) }

func (s *MemorySet) Each(fn func(id string) error) error {
	ids := make([]string, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(id); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Package nodestore is an entity/attribute table. Entities are slots in an
// arena addressed by generational ids; attributes live in typed columns
// indexed by slot.
package nodestore

import (
	"fmt"

	"github.com/pkg/errors"
)

// ID encodes the slot index in the lower 32 bits and the slot generation in
// the upper 32 bits. Generations start at 1, so the zero ID is never valid.
type ID uint64

// None is the "no node" sentinel (used for the parent of a root).
const None ID = 0

func newID(index, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

func (id ID) Index() uint32      { return uint32(id) }
func (id ID) Generation() uint32 { return uint32(id >> 32) }
func (id ID) IsNone() bool       { return id == None }

func (id ID) String() string {
	if id.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d@%d", id.Index(), id.Generation())
}

var ErrStaleReference = errors.New("stale node reference")

// StaleReferenceError is returned (or panicked with) when an id refers to a
// slot that was freed or recycled.
type StaleReferenceError struct {
	ID ID
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale node reference %v", e.ID)
}

func (e *StaleReferenceError) Is(target error) bool { return target == ErrStaleReference }

type slot struct {
	generation uint32
	refs       int32
	alive      bool
}

type resetter interface {
	grow(n int)
	reset(index uint32)
}

// Store is not safe for concurrent use; callers serialize access.
type Store struct {
	slots    []slot
	freeList []uint32
	columns  []resetter
	labels   map[string]struct{}
	alive    int
}

func New() *Store {
	return &Store{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
		labels:   make(map[string]struct{}),
	}
}

// NewElement allocates a live slot with refcount 0.
func (s *Store) NewElement() ID {
	var idx uint32
	if n := len(s.freeList); n > 0 {
		idx = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{generation: 1})
		for _, c := range s.columns {
			c.grow(len(s.slots))
		}
	}
	sl := &s.slots[idx]
	sl.alive = true
	sl.refs = 0
	s.alive++
	return newID(idx, sl.generation)
}

func (s *Store) Alive(id ID) bool {
	idx := id.Index()
	if id.IsNone() || int(idx) >= len(s.slots) {
		return false
	}
	sl := s.slots[idx]
	return sl.alive && sl.generation == id.Generation()
}

// Check returns a *StaleReferenceError if id is not live.
func (s *Store) Check(id ID) error {
	if !s.Alive(id) {
		return &StaleReferenceError{ID: id}
	}
	return nil
}

func (s *Store) Ref(id ID) error {
	if err := s.Check(id); err != nil {
		return err
	}
	s.slots[id.Index()].refs++
	return nil
}

// Unref drops one reference. When the count reaches zero the slot is freed:
// its columns are reset, its generation bumped and the index recycled.
func (s *Store) Unref(id ID) error {
	if err := s.Check(id); err != nil {
		return err
	}
	sl := &s.slots[id.Index()]
	sl.refs--
	if sl.refs > 0 {
		return nil
	}
	s.free(id.Index())
	return nil
}

func (s *Store) RefCount(id ID) (int, error) {
	if err := s.Check(id); err != nil {
		return 0, err
	}
	return int(s.slots[id.Index()].refs), nil
}

func (s *Store) free(idx uint32) {
	sl := &s.slots[idx]
	sl.alive = false
	sl.refs = 0
	sl.generation++
	for _, c := range s.columns {
		c.reset(idx)
	}
	s.freeList = append(s.freeList, idx)
	s.alive--
}

// Len returns the number of live elements.
func (s *Store) Len() int { return s.alive }

// ForEach visits live ids in slot order. fn may write attributes but must
// not free elements; collect ids and delete after the walk instead.
func (s *Store) ForEach(fn func(ID)) {
	for i := range s.slots {
		if sl := s.slots[i]; sl.alive {
			fn(newID(uint32(i), sl.generation))
		}
	}
}

// Column holds one attribute value per slot.
type Column[T any] struct {
	store  *Store
	name   string
	values []T
}

// AddAttribute declares a new column on s. Labels must be unique.
func AddAttribute[T any](s *Store, label string) *Column[T] {
	if _, exists := s.labels[label]; exists {
		panic(fmt.Sprintf("nodestore: attribute %q already declared", label))
	}
	s.labels[label] = struct{}{}
	c := &Column[T]{
		store:  s,
		name:   label,
		values: make([]T, len(s.slots), cap(s.slots)),
	}
	s.columns = append(s.columns, c)
	return c
}

func (c *Column[T]) grow(n int) {
	for len(c.values) < n {
		var zero T
		c.values = append(c.values, zero)
	}
}

func (c *Column[T]) reset(index uint32) {
	var zero T
	c.values[index] = zero
}

func (c *Column[T]) Label() string { return c.name }

// Get panics with *StaleReferenceError on a freed id.
func (c *Column[T]) Get(id ID) T {
	if err := c.store.Check(id); err != nil {
		panic(err)
	}
	return c.values[id.Index()]
}

func (c *Column[T]) Lookup(id ID) (T, error) {
	if err := c.store.Check(id); err != nil {
		var zero T
		return zero, errors.Wrapf(err, "attribute %q", c.name)
	}
	return c.values[id.Index()], nil
}

// Set panics with *StaleReferenceError on a freed id.
func (c *Column[T]) Set(id ID, v T) {
	if err := c.store.Check(id); err != nil {
		panic(err)
	}
	c.values[id.Index()] = v
}

// Ptr gives in-place access to the value of a live id.
func (c *Column[T]) Ptr(id ID) *T {
	if err := c.store.Check(id); err != nil {
		panic(err)
	}
	return &c.values[id.Index()]
}

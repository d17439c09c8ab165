package nodestore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewElementStartsAtZeroRefs(t *testing.T) {
	s := New()
	id := s.NewElement()

	require.True(t, s.Alive(id))
	assert.False(t, id.IsNone())
	n, err := s.RefCount(id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, s.Len())
}

func TestUnrefToZeroRecyclesSlotWithNewGeneration(t *testing.T) {
	s := New()
	names := AddAttribute[string](s, "name")

	a := s.NewElement()
	require.NoError(t, s.Ref(a))
	require.NoError(t, s.Ref(a))
	names.Set(a, "a")

	require.NoError(t, s.Unref(a))
	assert.True(t, s.Alive(a), "one reference still outstanding")

	require.NoError(t, s.Unref(a))
	assert.False(t, s.Alive(a))
	assert.Equal(t, 0, s.Len())

	b := s.NewElement()
	assert.Equal(t, a.Index(), b.Index())
	assert.NotEqual(t, a.Generation(), b.Generation())
	assert.Equal(t, "", names.Get(b), "recycled slot must not leak old values")
}

func TestStaleReferenceFailsFast(t *testing.T) {
	s := New()
	col := AddAttribute[int](s, "value")

	id := s.NewElement()
	col.Set(id, 7)
	require.NoError(t, s.Unref(id))

	_, err := col.Lookup(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleReference))

	var stale *StaleReferenceError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, id, stale.ID)

	assert.Panics(t, func() { col.Get(id) })
	assert.Panics(t, func() { col.Set(id, 1) })
	assert.True(t, errors.Is(s.Ref(id), ErrStaleReference))
	assert.True(t, errors.Is(s.Unref(id), ErrStaleReference))
}

func TestNoneIsNeverAlive(t *testing.T) {
	s := New()
	s.NewElement()
	assert.False(t, s.Alive(None))
	assert.Equal(t, "none", None.String())
}

func TestColumnsDeclaredAfterAllocationCoverExistingSlots(t *testing.T) {
	s := New()
	a := s.NewElement()
	b := s.NewElement()

	late := AddAttribute[float32](s, "late")
	late.Set(b, 2.5)
	*late.Ptr(a) += 1

	assert.Equal(t, float32(1), late.Get(a))
	assert.Equal(t, float32(2.5), late.Get(b))
	assert.Equal(t, "late", late.Label())
}

func TestDuplicateAttributeLabelPanics(t *testing.T) {
	s := New()
	AddAttribute[int](s, "x")
	assert.Panics(t, func() { AddAttribute[string](s, "x") })
}

func TestForEachVisitsLiveIdsInSlotOrder(t *testing.T) {
	s := New()
	ids := []ID{s.NewElement(), s.NewElement(), s.NewElement()}
	require.NoError(t, s.Unref(ids[1]))

	var seen []ID
	s.ForEach(func(id ID) { seen = append(seen, id) })
	assert.Equal(t, []ID{ids[0], ids[2]}, seen)
}

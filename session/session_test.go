package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mogaika/shared_scene/nodestore"
	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/scene"
	"github.com/mogaika/shared_scene/transport"
)

func loadScene(t *testing.T) *scene.Graph {
	t.Helper()
	g := scene.New()
	require.NoError(t, g.Load([]scene.Record{
		{Name: "table", Children: []int{1, 2}},
		{Name: "cup"},
		{Name: "plate", Children: []int{3}},
		{Name: "crumb"},
		{Name: "lamp"},
	}))
	return g
}

func start(t *testing.T, id string) *Session {
	t.Helper()
	s := New(loadScene(t), id, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s
}

func lockValue(t *testing.T, s *Session, name string) int {
	t.Helper()
	n, err := s.Graph().NodeByName(name)
	require.NoError(t, err)
	return n.Lock.Value()
}

func TestRoundTripOverBus(t *testing.T) {
	bus := transport.NewBus()
	a := start(t, "a")
	b := start(t, "b")
	a.AttachTransport(bus.Join(func(c protocol.Command) { a.Deliver(c) }))
	b.AttachTransport(bus.Join(func(c protocol.Command) { b.Deliver(c) }))
	ctx := context.Background()

	ok, err := a.RequestControl(ctx, "table")
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool { return lockValue(t, b, "table") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, lockValue(t, b, "crumb"))

	ok, err = b.RequestControl(ctx, "cup")
	require.NoError(t, err)
	assert.False(t, ok, "covered by a's lock")

	m := mgl32.Translate3D(0, 0, 7)
	assert.True(t, errors.Is(b.SetTransform(ctx, "lamp", m), scene.ErrLockConflict), "b holds nothing")
	assert.True(t, errors.Is(b.SetTransform(ctx, "cup", m), scene.ErrLockConflict))
	require.NoError(t, a.SetTransform(ctx, "table", m))
	require.Eventually(t, func() bool {
		world, err := b.WorldTransform("crumb")
		return err == nil && world == m
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.ReleaseControl(ctx, "table"))
	require.Eventually(t, func() bool { return lockValue(t, b, "table") == 0 }, time.Second, 5*time.Millisecond)
	for _, name := range b.NodeNames() {
		assert.Equal(t, 0, lockValue(t, b, name), name)
	}
	assert.Empty(t, a.Holdings())
	assert.Empty(t, b.Holdings())
}

func TestSelectReplacesSelection(t *testing.T) {
	s := start(t, "a")
	ctx := context.Background()

	ok, err := s.Select(ctx, "cup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cup", s.Selected())

	ok, err = s.Select(ctx, "lamp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, lockValue(t, s, "cup"))
	assert.Equal(t, 0, lockValue(t, s, "table"))
	assert.Equal(t, 1, lockValue(t, s, "lamp"))

	ok, err = s.Select(ctx, "lamp")
	require.NoError(t, err)
	assert.True(t, ok, "reselecting keeps the lock")

	ok, err = s.Select(ctx, "none")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.Selected())
	assert.Equal(t, 0, lockValue(t, s, "lamp"))
}

func TestSelectUnknownKeepsNothing(t *testing.T) {
	s := start(t, "a")
	ctx := context.Background()
	_, err := s.Select(ctx, "cup")
	require.NoError(t, err)

	_, err = s.Select(ctx, "chair")
	assert.True(t, errors.Is(err, scene.ErrNotFound))
	assert.Empty(t, s.Selected())
	assert.Equal(t, 0, lockValue(t, s, "cup"))
}

func TestStructuralEdits(t *testing.T) {
	s := start(t, "a")
	ctx := context.Background()

	require.NoError(t, s.Reparent(ctx, "lamp", "table"))
	assert.True(t, errors.Is(s.Reparent(ctx, "table", "crumb"), scene.ErrCycle))
	require.NoError(t, s.Reparent(ctx, "lamp", ""))

	_, err := s.RequestControl(ctx, "plate")
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Delete(ctx, "plate"), scene.ErrLocked))
	require.NoError(t, s.ReleaseControl(ctx, "plate"))
	require.NoError(t, s.Delete(ctx, "plate"))

	crumb, err := s.Graph().NodeByName("crumb")
	require.NoError(t, err)
	assert.True(t, crumb.IsRoot())
	_, err = s.LocalTransform("plate")
	assert.True(t, errors.Is(err, scene.ErrNotFound))
}

func TestHandleReportsErrors(t *testing.T) {
	s := start(t, "a")
	applied, err := s.Handle(context.Background(), protocol.Command{Kind: "wave", Session: "b"})
	assert.False(t, applied)
	var unknown *protocol.UnknownKindError
	assert.True(t, errors.As(err, &unknown))
}

func TestStaleReferenceBecomesError(t *testing.T) {
	s := start(t, "a")
	g := s.Graph()
	id, err := g.Lookup("lamp")
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), "lamp"))

	err = s.do(context.Background(), func() error {
		_, err := g.Node(id)
		return err
	})
	assert.Error(t, err)

	// panicking column accessors are turned into errors too
	err = s.do(context.Background(), func() error {
		panic(&nodestore.StaleReferenceError{ID: id})
	})
	assert.True(t, errors.Is(err, nodestore.ErrStaleReference))

	ok, err := s.RequestControl(context.Background(), "cup")
	require.NoError(t, err)
	assert.True(t, ok, "the loop survives")
}

func TestStopDrainsQueue(t *testing.T) {
	s := New(loadScene(t), "a", nil)
	var results []error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, name := range []string{"cup", "lamp"} {
			_, err := s.RequestControl(context.Background(), name)
			results = append(results, err)
		}
	}()

	go s.Run(context.Background())
	<-done
	s.Stop()
	<-s.Done()

	assert.Equal(t, []error{nil, nil}, results)
	_, err := s.RequestControl(context.Background(), "plate")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCancelledContext(t *testing.T) {
	s := New(loadScene(t), "a", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	_, err := s.RequestControl(context.Background(), "cup")
	assert.ErrorIs(t, err, ErrStopped)
}

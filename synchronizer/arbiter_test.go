package synchronizer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/scene"
)

func TestArbitrateGrantsFirstSelect(t *testing.T) {
	hub, _ := newSync(t, "hub")

	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "a", Name: "cup"})
	require.NoError(t, err)
	assert.True(t, v.Relay)
	assert.Empty(t, v.Replies)
	assert.Equal(t, map[string]string{"cup": "a"}, hub.Coordinator().Holdings())
}

func TestArbitrateRevokesConflictingSelect(t *testing.T) {
	hub, _ := newSync(t, "hub")
	_, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "a", Name: "cup"})
	require.NoError(t, err)

	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "b", Name: "table"})
	require.NoError(t, err)
	assert.False(t, v.Relay)
	require.Len(t, v.Replies, 2)
	assert.Equal(t, protocol.Command{Kind: protocol.Deselect, Session: "b", Name: "table", Revoke: true}, v.Replies[0])
	assert.Equal(t, protocol.Command{Kind: protocol.Select, Session: "a", Name: "cup"}, v.Replies[1])
	assert.Equal(t, map[string]string{"cup": "a"}, hub.Coordinator().Holdings())
}

func TestArbitratedRevokeConvergesPeer(t *testing.T) {
	hub, _ := newSync(t, "hub")
	peer, _ := newSync(t, "b")
	_, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "a", Name: "cup"})
	require.NoError(t, err)

	// b locks the table optimistically before hearing about a's cup.
	ok, err := peer.Coordinator().RequestControl("table")
	require.NoError(t, err)
	require.True(t, ok)

	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "b", Name: "table"})
	require.NoError(t, err)
	for _, c := range v.Replies {
		_, err := peer.Receive(c)
		require.NoError(t, err)
	}
	assert.Equal(t, hub.Coordinator().Holdings(), peer.Coordinator().Holdings())
	assert.Equal(t, -1, lockOf(t, peer, "table").Value())
}

func TestArbitrateDeselectOnlyFromHolder(t *testing.T) {
	hub, _ := newSync(t, "hub")
	_, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "a", Name: "cup"})
	require.NoError(t, err)

	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Deselect, Session: "b", Name: "cup"})
	require.NoError(t, err)
	assert.False(t, v.Relay)

	v, err = hub.Arbitrate(protocol.Command{Kind: protocol.Deselect, Session: "a", Name: "cup"})
	require.NoError(t, err)
	assert.True(t, v.Relay)
	assert.Empty(t, hub.Coordinator().Holdings())
}

func TestArbitrateMatrixFromNonOwner(t *testing.T) {
	hub, _ := newSync(t, "hub")
	_, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "a", Name: "table"})
	require.NoError(t, err)

	m := mgl32.Translate3D(5, 0, 0)
	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Matrix, Session: "b", Name: "cup", Matrix: &m})
	require.NoError(t, err)
	assert.False(t, v.Relay)
	require.Len(t, v.Replies, 1)
	assert.Equal(t, mgl32.Ident4(), *v.Replies[0].Matrix)
	assert.Equal(t, "hub", v.Replies[0].Session)

	v, err = hub.Arbitrate(protocol.Command{Kind: protocol.Matrix, Session: "a", Name: "cup", Matrix: &m})
	require.NoError(t, err)
	assert.True(t, v.Relay)

	v, err = hub.Arbitrate(protocol.Command{Kind: protocol.Matrix, Session: "b", Name: "lamp", Matrix: &m})
	require.NoError(t, err)
	assert.False(t, v.Relay, "free nodes need a lock too")
	require.Len(t, v.Replies, 1)
	assert.Equal(t, mgl32.Ident4(), *v.Replies[0].Matrix)
}

func TestMoveAboveAnotherSessionsLockIsRefused(t *testing.T) {
	hub, _ := newSync(t, "hub")
	_, err := hub.Arbitrate(protocol.Command{Kind: protocol.Select, Session: "b", Name: "cup"})
	require.NoError(t, err)

	m := mgl32.Translate3D(5, 0, 0)
	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.Matrix, Session: "a", Name: "table", Matrix: &m})
	require.NoError(t, err)
	assert.False(t, v.Relay)
	require.Len(t, v.Replies, 1)
	assert.Equal(t, "table", v.Replies[0].Name)
	assert.Equal(t, mgl32.Ident4(), *v.Replies[0].Matrix)

	g := hub.Coordinator().Graph()
	world, err := g.WorldTransform(mustLookup(t, hub, "cup"))
	require.NoError(t, err)
	assert.Equal(t, mgl32.Ident4(), world)

	a, w := newSync(t, "a")
	_, err = a.Receive(protocol.Command{Kind: protocol.Select, Session: "b", Name: "cup"})
	require.NoError(t, err)
	err = a.Coordinator().SetTransform("table", m, true)
	assert.True(t, errors.Is(err, scene.ErrLockConflict))
	assert.Empty(t, w.sent)
	world, err = a.Coordinator().Graph().WorldTransform(mustLookup(t, a, "cup"))
	require.NoError(t, err)
	assert.Equal(t, mgl32.Ident4(), world)
}

func TestArbitrateRejectsForgedPresence(t *testing.T) {
	hub, _ := newSync(t, "hub")
	v, err := hub.Arbitrate(protocol.Command{Kind: protocol.RemovePlayer, Session: "a"})
	assert.True(t, errors.Is(err, protocol.ErrMalformedCommand))
	assert.False(t, v.Relay)

	v, err = hub.Arbitrate(protocol.Command{Kind: "explode", Session: "a"})
	assert.Error(t, err)
	assert.False(t, v.Relay)
}

func TestSnapshot(t *testing.T) {
	hub, _ := newSync(t, "hub")
	m := mgl32.Translate3D(0, 0, 3)
	for _, c := range []protocol.Command{
		{Kind: protocol.Select, Session: "a", Name: "lamp"},
		{Kind: protocol.Matrix, Session: "a", Name: "lamp", Matrix: &m},
		{Kind: protocol.Deselect, Session: "a", Name: "lamp"},
		{Kind: protocol.Select, Session: "a", Name: "plate"},
	} {
		v, err := hub.Arbitrate(c)
		require.NoError(t, err)
		require.True(t, v.Relay, c.String())
	}

	snap, err := hub.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, protocol.Matrix, snap[0].Kind)
	assert.Equal(t, "lamp", snap[0].Name)
	assert.Equal(t, m, *snap[0].Matrix)
	assert.Equal(t, protocol.Command{Kind: protocol.Select, Session: "a", Name: "plate"}, snap[1])

	late, _ := newSync(t, "c")
	for _, c := range snap {
		_, err := late.Receive(c)
		require.NoError(t, err)
	}
	assert.Equal(t, hub.Coordinator().Holdings(), late.Coordinator().Holdings())
}

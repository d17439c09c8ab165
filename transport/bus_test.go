package transport

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mogaika/shared_scene/protocol"
)

func TestBusBroadcastsToOthers(t *testing.T) {
	bus := NewBus()
	var a, b, c []protocol.Command
	ea := bus.Join(func(cmd protocol.Command) { a = append(a, cmd) })
	bus.Join(func(cmd protocol.Command) { b = append(b, cmd) })
	bus.Join(func(cmd protocol.Command) { c = append(c, cmd) })

	m := mgl32.Translate3D(1, 2, 3)
	sent := protocol.NewMatrix("cup", m)
	sent.Session = "a"
	require.NoError(t, ea.Send(sent))

	assert.Empty(t, a)
	require.Len(t, b, 1)
	require.Len(t, c, 1)
	assert.Equal(t, sent, b[0])
	assert.Equal(t, m, *c[0].Matrix)
	assert.NotSame(t, b[0].Matrix, c[0].Matrix, "every peer gets its own copy")
}

func TestBusLeave(t *testing.T) {
	bus := NewBus()
	var got []protocol.Command
	ea := bus.Join(func(protocol.Command) {})
	eb := bus.Join(func(cmd protocol.Command) { got = append(got, cmd) })
	require.Equal(t, 2, bus.Len())

	eb.Leave()
	require.NoError(t, ea.Send(protocol.NewSelect("cup")))
	assert.Empty(t, got)

	ea.Leave()
	assert.ErrorIs(t, ea.Send(protocol.NewSelect("cup")), ErrClosed)
	assert.Zero(t, bus.Len())
}

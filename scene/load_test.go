package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/ext/lightspuntual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGLTFDocument(t *testing.T) {
	doc := gltf.NewDocument()
	doc.Nodes = []*gltf.Node{
		{Name: "root", Children: []uint32{2, 1}, Translation: [3]float32{1, 2, 3}},
		{Name: "lamp", Extensions: gltf.Extensions{lightspuntual.ExtensionName: lightspuntual.LightIndex(4)}},
		{Name: "box", Mesh: u32(0), Matrix: mgl32.Scale3D(2, 2, 2)},
	}

	g := New()
	require.NoError(t, g.LoadGLTF(doc))

	root, err := g.NodeByName("root")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Len(t, root.Children, 2)
	assert.True(t, root.Local.ApproxEqual(mgl32.Translate3D(1, 2, 3)))

	lamp, err := g.NodeByName("lamp")
	require.NoError(t, err)
	assert.Equal(t, TypeLight, lamp.Type)
	assert.Equal(t, Payload{"light": 4}, lamp.Payload)

	box, err := g.NodeByName("box")
	require.NoError(t, err)
	assert.Equal(t, TypeMesh, box.Type)
	assert.Equal(t, mgl32.Scale3D(2, 2, 2), box.Local)

	world, err := g.WorldTransform(box.ID)
	require.NoError(t, err)
	assert.True(t, world.ApproxEqual(mgl32.Translate3D(1, 2, 3).Mul4(mgl32.Scale3D(2, 2, 2))))
}

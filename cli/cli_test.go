package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mogaika/shared_scene/session"
	"github.com/mogaika/shared_scene/transport"
	"github.com/mogaika/shared_scene/utils"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeScene(t *testing.T) string {
	t.Helper()
	mesh := uint32(0)
	doc := gltf.NewDocument()
	doc.Nodes = []*gltf.Node{
		{Name: "table", Children: []uint32{1}, Translation: [3]float32{0, 1, 0}},
		{Name: "cup", Mesh: &mesh},
	}
	path := filepath.Join(t.TempDir(), "room.gltf")
	require.NoError(t, gltf.Save(doc, path))
	return path
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "peer", "dump"}, names)
}

func TestDump(t *testing.T) {
	_, err := executeCommand(NewRootCmd(), "dump", writeScene(t), "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit config path must exist")

	out, err := executeCommand(NewRootCmd(), "dump", writeScene(t))
	require.NoError(t, err)
	assert.Contains(t, out, `Name: (string) (len=5) "table"`)
	assert.Contains(t, out, `Parent: (string) (len=5) "table"`)
	assert.Contains(t, out, `Subtree: ([]string) (len=1)`)
	assert.Contains(t, out, `Subtree: ([]string) <nil>`)
	assert.Contains(t, out, `(scene.NodeType) (len=4) "mesh"`)
}

func TestDumpMissingScene(t *testing.T) {
	_, err := executeCommand(NewRootCmd(), "dump", filepath.Join(t.TempDir(), "nope.gltf"))
	assert.Error(t, err)
}

func TestPeerTransformFlags(t *testing.T) {
	_, ok, err := peerOptions{}.transform()
	require.NoError(t, err)
	assert.False(t, ok)

	m, ok, err := peerOptions{move: "0,1.5,0"}.transform()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, m.ApproxEqual(mgl32.Translate3D(0, 1.5, 0)))

	_, _, err = peerOptions{rotate: "ninety"}.transform()
	assert.Error(t, err)

	err = runPeer(context.Background(), "ws://127.0.0.1:1", peerOptions{move: "1,0,0"})
	assert.Error(t, err, "moving needs a selection")
}

func TestBadLogLevel(t *testing.T) {
	_, err := executeCommand(NewRootCmd(), "dump", "--log-level", "loud")
	assert.Error(t, err)
}

func TestPeerSelectsAndReleases(t *testing.T) {
	path := writeScene(t)
	g, err := openScene(path)
	require.NoError(t, err)
	arbiter := session.New(g, serverSession, nil)
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go arbiter.Run(loopCtx)

	hub := transport.NewHub(transport.HubConfig{}, arbiter)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	po := peerOptions{scene: path, sel: "cup", say: "hello", move: "1,2,3", rotate: "0,0,90"}
	go func() { done <- runPeer(ctx, url, po) }()

	want := utils.ComposeTRS(mgl32.Vec3{1, 2, 3}, utils.EulerToQuat(mgl32.Vec3{0, 0, 90}), mgl32.Vec3{1, 1, 1})
	require.Eventually(t, func() bool {
		_, owned, err := arbiter.Holder("cup")
		if err != nil || !owned {
			return false
		}
		m, err := arbiter.LocalTransform("cup")
		return err == nil && m.ApproxEqualThreshold(want, 1e-5)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, hub.Players(), 1)

	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return len(arbiter.Holdings()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

package gltfutils

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/ext/lightspuntual"

	"github.com/mogaika/shared_scene/utils"
)

// Open reads a .gltf or .glb file.
func Open(path string) (*gltf.Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open gltf %q", path)
	}
	return doc, nil
}

// NodeMatrix returns the node local transform. An explicit matrix wins,
// otherwise it is composed from translation/rotation/scale.
func NodeMatrix(n *gltf.Node) mgl32.Mat4 {
	m := mgl32.Mat4(n.Matrix)
	if m != (mgl32.Mat4{}) && m != mgl32.Ident4() {
		return m
	}

	t := mgl32.Vec3(n.Translation)
	r := mgl32.Quat{W: n.Rotation[3], V: mgl32.Vec3{n.Rotation[0], n.Rotation[1], n.Rotation[2]}}
	if r.Len() == 0 {
		r = mgl32.QuatIdent()
	}
	s := mgl32.Vec3(n.Scale)
	if s == (mgl32.Vec3{}) {
		s = mgl32.Vec3{1, 1, 1}
	}
	return utils.ComposeTRS(t, r, s)
}

// NodeLight returns the KHR_lights_punctual light index of the node.
func NodeLight(n *gltf.Node) (uint32, bool) {
	if n.Extensions == nil {
		return 0, false
	}
	raw, ok := n.Extensions[lightspuntual.ExtensionName]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case lightspuntual.LightIndex:
		return uint32(v), true
	case *lightspuntual.LightIndex:
		if v == nil {
			return 0, false
		}
		return uint32(*v), true
	case json.RawMessage:
		var ext struct {
			Light *uint32 `json:"light"`
		}
		if err := json.Unmarshal(v, &ext); err != nil || ext.Light == nil {
			return 0, false
		}
		return *ext.Light, true
	case map[string]interface{}:
		if f, ok := v["light"].(float64); ok && f >= 0 {
			return uint32(f), true
		}
	}
	return 0, false
}

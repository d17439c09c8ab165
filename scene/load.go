package scene

import (
	"encoding/json"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"

	"github.com/mogaika/shared_scene/utils/gltfutils"
)

// Record describes one node of a scene description. Children are indexes
// into the record list and may point forward.
type Record struct {
	Name       string            `json:"name,omitempty"`
	Matrix     *mgl32.Mat4       `json:"matrix,omitempty"`
	Children   []int             `json:"children,omitempty"`
	Mesh       *uint32           `json:"mesh,omitempty"`
	Extensions *RecordExtensions `json:"extensions,omitempty"`
}

type RecordExtensions struct {
	Lights *LightRef `json:"KHR_lights_punctual,omitempty"`
}

type LightRef struct {
	Light uint32 `json:"light"`
}

func (r *Record) classify() (NodeType, Payload) {
	if r.Extensions != nil && r.Extensions.Lights != nil {
		return TypeLight, Payload{"light": r.Extensions.Lights.Light}
	}
	if r.Mesh != nil {
		return TypeMesh, Payload{"mesh": *r.Mesh}
	}
	return TypeEmpty, Payload{}
}

// DecodeRecords reads a JSON array of node records (the "nodes" array of a
// glTF document has this shape).
func DecodeRecords(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrapf(err, "Failed to decode node records")
	}
	return records, nil
}

// Load creates one node per record, then links children in a second pass
// so that forward references resolve. On error nothing is added.
func (g *Graph) Load(records []Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]ID, 0, len(records))
	rollback := func() {
		for _, id := range ids {
			delete(g.byName, g.name.Get(id))
			delete(g.roots, id)
			g.store.Unref(id)
		}
	}

	reserved := make(map[string]struct{}, len(records))
	for i := range records {
		if records[i].Name != "" {
			reserved[NormalizeName(records[i].Name)] = struct{}{}
		}
	}

	for i := range records {
		rec := &records[i]
		m := mgl32.Ident4()
		if rec.Matrix != nil {
			m = *rec.Matrix
		}
		kind, payload := rec.classify()
		id, err := g.newNode(rec.Name, m, kind, payload, reserved)
		if err != nil {
			rollback()
			return errors.Wrapf(err, "record %d", i)
		}
		ids = append(ids, id)
	}

	for i := range records {
		for _, c := range records[i].Children {
			if err := g.linkRecord(ids, i, c); err != nil {
				rollback()
				return err
			}
		}
	}

	// every node must hang off a root; anything left over sits on a cycle
	reachable := 0
	for _, id := range ids {
		if g.parent.Get(id).IsNone() {
			reachable++
			g.forAllChildren(id, func(ID) { reachable++ })
		}
	}
	if reachable != len(ids) {
		rollback()
		return errors.Wrapf(ErrCycle, "%d of %d records are not reachable from a root", len(ids)-reachable, len(ids))
	}
	return nil
}

func (g *Graph) linkRecord(ids []ID, parent, child int) error {
	if child < 0 || child >= len(ids) {
		return errors.Wrapf(ErrInvalidRecord, "record %d: child index %d out of range", parent, child)
	}
	if child == parent {
		return errors.Wrapf(ErrCycle, "record %d lists itself as child", parent)
	}
	c, p := ids[child], ids[parent]
	if cur := g.parent.Get(c); !cur.IsNone() {
		if cur == p {
			return nil
		}
		return errors.Wrapf(ErrInvalidRecord, "record %d has more than one parent", child)
	}
	delete(g.roots, c)
	g.link(c, p)
	return nil
}

// RecordsFromGLTF converts the document's nodes to records.
func RecordsFromGLTF(doc *gltf.Document) []Record {
	records := make([]Record, len(doc.Nodes))
	for i, n := range doc.Nodes {
		m := gltfutils.NodeMatrix(n)
		rec := Record{
			Name:   n.Name,
			Matrix: &m,
			Mesh:   n.Mesh,
		}
		for _, c := range n.Children {
			rec.Children = append(rec.Children, int(c))
		}
		if light, ok := gltfutils.NodeLight(n); ok {
			rec.Extensions = &RecordExtensions{Lights: &LightRef{Light: light}}
		}
		records[i] = rec
	}
	return records
}

func (g *Graph) LoadGLTF(doc *gltf.Document) error {
	return g.Load(RecordsFromGLTF(doc))
}

// Open builds a graph from a .gltf/.glb file.
func Open(path string) (*Graph, error) {
	doc, err := gltfutils.Open(path)
	if err != nil {
		return nil, err
	}
	g := New()
	if err := g.LoadGLTF(doc); err != nil {
		return nil, errors.Wrapf(err, "Failed to load %q", path)
	}
	return g, nil
}

// Package scene holds the shared scene hierarchy: nodes with local
// transforms, parent/children links and the subtree locking used to hand
// out exclusive ownership.
//
// Graph is safe for concurrent use. Reads (transforms, lookups) take a read
// lock; all mutations are expected to come from a single authority loop.
package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/mogaika/shared_scene/nodestore"
)

type ID = nodestore.ID

const None = nodestore.None

type NodeType string

const (
	TypeEmpty NodeType = "empty"
	TypeMesh  NodeType = "mesh"
	TypeLight NodeType = "light"
)

// Payload is type specific data, e.g. {"mesh": 0}. Opaque to the graph.
type Payload map[string]uint32

type idSet map[ID]struct{}

type Graph struct {
	mu sync.RWMutex

	store  *nodestore.Store
	byName map[string]ID
	roots  idSet

	name     *nodestore.Column[string]
	local    *nodestore.Column[mgl32.Mat4]
	initial  *nodestore.Column[mgl32.Mat4]
	children *nodestore.Column[idSet]
	parent   *nodestore.Column[ID]
	kind     *nodestore.Column[NodeType]
	payload  *nodestore.Column[Payload]
	lock     *nodestore.Column[LockState]
}

func New() *Graph {
	s := nodestore.New()
	return &Graph{
		store:    s,
		byName:   make(map[string]ID),
		roots:    make(idSet),
		name:     nodestore.AddAttribute[string](s, "name"),
		local:    nodestore.AddAttribute[mgl32.Mat4](s, "matrix"),
		initial:  nodestore.AddAttribute[mgl32.Mat4](s, "initial"),
		children: nodestore.AddAttribute[idSet](s, "children"),
		parent:   nodestore.AddAttribute[ID](s, "parent"),
		kind:     nodestore.AddAttribute[NodeType](s, "type"),
		payload:  nodestore.AddAttribute[Payload](s, "data"),
		lock:     nodestore.AddAttribute[LockState](s, "locked"),
	}
}

// NormalizeName is applied to every name entering or querying the index, so
// peers that spell a name with different Unicode forms agree on it.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// Node is a snapshot of one node's attributes.
type Node struct {
	ID       ID
	Name     string
	Type     NodeType
	Payload  Payload
	Parent   ID
	Children []ID
	Local    mgl32.Mat4
	Lock     LockState
}

func (n Node) IsRoot() bool { return n.Parent.IsNone() }

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Len()
}

func (g *Graph) Lookup(name string) (ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lookup(name)
}

func (g *Graph) lookup(name string) (ID, error) {
	id, ok := g.byName[NormalizeName(name)]
	if !ok {
		return None, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return id, nil
}

func (g *Graph) Name(id ID) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name.Lookup(id)
}

// Names lists every indexed node name, sorted.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.byName))
	for name := range g.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Graph) Node(id ID) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return Node{}, err
	}
	return g.snapshot(id), nil
}

func (g *Graph) NodeByName(name string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, err := g.lookup(name)
	if err != nil {
		return Node{}, err
	}
	return g.snapshot(id), nil
}

func (g *Graph) snapshot(id ID) Node {
	var payload Payload
	if p := g.payload.Get(id); p != nil {
		payload = make(Payload, len(p))
		for k, v := range p {
			payload[k] = v
		}
	}
	return Node{
		ID:       id,
		Name:     g.name.Get(id),
		Type:     g.kind.Get(id),
		Payload:  payload,
		Parent:   g.parent.Get(id),
		Children: g.childrenOf(id),
		Local:    g.local.Get(id),
		Lock:     g.lock.Get(id),
	}
}

func (g *Graph) Roots() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.roots)
}

func (g *Graph) Parent(id ID) (ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.parent.Lookup(id)
}

func (g *Graph) Children(id ID) ([]ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return nil, err
	}
	return g.childrenOf(id), nil
}

func (g *Graph) childrenOf(id ID) []ID {
	return sortedIDs(g.children.Get(id))
}

func sortedIDs(set idSet) []ID {
	ids := make([]ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Index() < ids[j].Index() })
	return ids
}

// Ancestors returns parent, grandparent, ... up to the root.
func (g *Graph) Ancestors(id ID) ([]ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return nil, err
	}
	var out []ID
	g.forAllParents(id, func(p ID) { out = append(out, p) })
	return out, nil
}

// Descendants returns the whole subtree below id in breadth-first order.
func (g *Graph) Descendants(id ID) ([]ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return nil, err
	}
	var out []ID
	g.forAllChildren(id, func(c ID) { out = append(out, c) })
	return out, nil
}

func (g *Graph) forAllParents(id ID, fn func(ID)) {
	for p := g.parent.Get(id); !p.IsNone(); p = g.parent.Get(p) {
		fn(p)
	}
}

func (g *Graph) forAllChildren(id ID, fn func(ID)) {
	work := g.childrenOf(id)
	for i := 0; i < len(work); i++ {
		c := work[i]
		fn(c)
		work = append(work, g.childrenOf(c)...)
	}
}

func (g *Graph) LocalTransform(id ID) (mgl32.Mat4, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.local.Lookup(id)
}

func (g *Graph) SetLocalTransform(id ID, m mgl32.Mat4) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Check(id); err != nil {
		return err
	}
	g.local.Set(id, m)
	return nil
}

// WorldTransform premultiplies the local transform by every ancestor's local
// transform, so for root->A->B it is T_root * T_A * T_B. Not cached.
func (g *Graph) WorldTransform(id ID) (mgl32.Mat4, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return mgl32.Mat4{}, err
	}
	m := g.local.Get(id)
	g.forAllParents(id, func(p ID) {
		m = g.local.Get(p).Mul4(m)
	})
	return m, nil
}

// Changed returns nodes whose local transform differs from the loaded one.
func (g *Graph) Changed() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []ID
	g.store.ForEach(func(id ID) {
		if g.local.Get(id) != g.initial.Get(id) {
			out = append(out, id)
		}
	})
	return out
}

func (g *Graph) LockState(id ID) (LockState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lock.Lookup(id)
}

// Owner returns the held node whose subtree contains id (id itself or an
// ancestor).
func (g *Graph) Owner(id ID) (ID, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.store.Check(id); err != nil {
		return None, false, err
	}
	if g.lock.Get(id).Kind == Held {
		return id, true, nil
	}
	if g.lock.Get(id).Kind != Covered {
		return None, false, nil
	}
	for p := g.parent.Get(id); !p.IsNone(); p = g.parent.Get(p) {
		if g.lock.Get(p).Kind == Held {
			return p, true, nil
		}
	}
	return None, false, errors.Wrapf(ErrLockInvariant, "covered node %v without held ancestor", id)
}

// Held lists every node currently in the Held state.
func (g *Graph) Held() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []ID
	g.store.ForEach(func(id ID) {
		if g.lock.Get(id).Kind == Held {
			out = append(out, id)
		}
	})
	return out
}

type transition struct {
	id    ID
	state LockState
}

// Select locks id: the node becomes Held, every descendant Covered and every
// ancestor gains one Blocked count. Returns false without side effects when
// the node is not Free.
func (g *Graph) Select(id ID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Check(id); err != nil {
		return false, err
	}
	if !g.lock.Get(id).IsFree() {
		return false, nil
	}
	plan, err := g.plan(id, LockState.hold, LockState.block, LockState.cover)
	if err != nil {
		return false, err
	}
	g.commit(plan)
	return true, nil
}

// Deselect is the inverse of Select. Returns false without side effects when
// id is not Held.
func (g *Graph) Deselect(id ID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Check(id); err != nil {
		return false, err
	}
	if g.lock.Get(id).Kind != Held {
		return false, nil
	}
	plan, err := g.plan(id, LockState.release, LockState.unblock, LockState.uncover)
	if err != nil {
		return false, err
	}
	g.commit(plan)
	return true, nil
}

// plan computes every transition up front so an invariant violation leaves
// the graph untouched.
func (g *Graph) plan(id ID, self, ancestor, descendant func(LockState) (LockState, error)) ([]transition, error) {
	var plan []transition
	var err error
	step := func(n ID, fn func(LockState) (LockState, error)) {
		if err != nil {
			return
		}
		var next LockState
		if next, err = fn(g.lock.Get(n)); err == nil {
			plan = append(plan, transition{n, next})
		} else {
			err = errors.Wrapf(err, "node %q", g.name.Get(n))
		}
	}
	step(id, self)
	g.forAllParents(id, func(p ID) { step(p, ancestor) })
	g.forAllChildren(id, func(c ID) { step(c, descendant) })
	return plan, err
}

func (g *Graph) commit(plan []transition) {
	for _, t := range plan {
		g.lock.Set(t.id, t.state)
	}
}

// Reparent moves child under parent, or to the root set when parent is None.
// Fails with ErrCycle if parent is child or inside child's subtree, and with
// ErrLocked if either side takes part in a lock.
func (g *Graph) Reparent(child, parent ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Check(child); err != nil {
		return err
	}
	if !parent.IsNone() {
		if err := g.store.Check(parent); err != nil {
			return err
		}
		if parent == child {
			return errors.Wrapf(ErrCycle, "%q under itself", g.name.Get(child))
		}
		cycle := false
		g.forAllParents(parent, func(p ID) {
			if p == child {
				cycle = true
			}
		})
		if cycle {
			return errors.Wrapf(ErrCycle, "%q under its descendant %q", g.name.Get(child), g.name.Get(parent))
		}
		if k := g.lock.Get(parent).Kind; k == Held || k == Covered {
			return errors.Wrapf(ErrLocked, "new parent %q is %v", g.name.Get(parent), k)
		}
	}
	if st := g.lock.Get(child); !st.IsFree() {
		return errors.Wrapf(ErrLocked, "%q is %v", g.name.Get(child), st)
	}

	g.unlink(child)
	g.link(child, parent)
	return nil
}

func (g *Graph) unlink(id ID) {
	if p := g.parent.Get(id); !p.IsNone() {
		delete(g.children.Get(p), id)
	} else {
		delete(g.roots, id)
	}
	g.parent.Set(id, None)
}

func (g *Graph) link(id, parent ID) {
	g.parent.Set(id, parent)
	if parent.IsNone() {
		g.roots[id] = struct{}{}
	} else {
		g.children.Get(parent)[id] = struct{}{}
	}
}

// Delete unlinks id, moves its children to the root set, drops it from the
// name index and releases the graph's reference. Fails with ErrLocked when
// the node is not Free.
func (g *Graph) Delete(id ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Check(id); err != nil {
		return err
	}
	if st := g.lock.Get(id); !st.IsFree() {
		return errors.Wrapf(ErrLocked, "%q is %v", g.name.Get(id), st)
	}

	for _, c := range g.childrenOf(id) {
		g.parent.Set(c, None)
		g.roots[c] = struct{}{}
	}
	g.children.Set(id, make(idSet))
	g.unlink(id)

	name := g.name.Get(id)
	if g.byName[name] == id {
		delete(g.byName, name)
	}
	return g.store.Unref(id)
}

// newNode names unnamed nodes node<index>, skipping names already indexed
// or reserved by records that are still to be created.
func (g *Graph) newNode(name string, m mgl32.Mat4, kind NodeType, payload Payload, reserved map[string]struct{}) (ID, error) {
	id := g.store.NewElement()
	if err := g.store.Ref(id); err != nil {
		return None, err
	}
	if name == "" {
		name = g.autoName(id, reserved)
	}
	name = NormalizeName(name)
	if _, exists := g.byName[name]; exists {
		g.store.Unref(id)
		return None, errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	g.byName[name] = id
	g.name.Set(id, name)
	g.local.Set(id, m)
	g.initial.Set(id, m)
	g.children.Set(id, make(idSet))
	g.parent.Set(id, None)
	g.kind.Set(id, kind)
	g.payload.Set(id, payload)
	g.lock.Set(id, LockState{})
	g.roots[id] = struct{}{}
	return id, nil
}

func (g *Graph) autoName(id ID, reserved map[string]struct{}) string {
	base := fmt.Sprintf("node%d", id.Index())
	name := base
	for i := 1; ; i++ {
		_, indexed := g.byName[name]
		_, taken := reserved[name]
		if !indexed && !taken {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// Package ownership hands out exclusive control over scene nodes and keeps
// track of which session holds what.
package ownership

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/scene"
)

// Outbox receives the commands produced by accepted local operations.
type Outbox interface {
	Emit(protocol.Command)
}

type discard struct{}

func (discard) Emit(protocol.Command) {}

// Coordinator is driven by one authority loop. Holder queries are safe from
// other goroutines.
type Coordinator struct {
	graph     *scene.Graph
	presenter Presenter
	outbox    Outbox

	mu      sync.RWMutex
	local   string
	holders map[scene.ID]string
}

func New(graph *scene.Graph, local string, presenter Presenter) *Coordinator {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Coordinator{
		graph:     graph,
		presenter: presenter,
		outbox:    discard{},
		local:     local,
		holders:   make(map[scene.ID]string),
	}
}

func (c *Coordinator) Graph() *scene.Graph { return c.graph }

func (c *Coordinator) SetOutbox(o Outbox) {
	if o == nil {
		o = discard{}
	}
	c.outbox = o
}

func (c *Coordinator) LocalSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// SetLocalSession re-keys nodes held under the previous local id.
func (c *Coordinator) SetLocalSession(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, holder := range c.holders {
		if holder == c.local {
			c.holders[id] = session
		}
	}
	c.local = session
}

// RequestControl tries to select name for the local session. A denial
// returns false with no side effects.
func (c *Coordinator) RequestControl(name string) (bool, error) {
	return c.claim(c.LocalSession(), name, true)
}

// ReleaseControl releases a node held by the local session. It is a no-op
// on free nodes and on nodes held by someone else, but always emits.
func (c *Coordinator) ReleaseControl(name string) error {
	_, err := c.release(c.LocalSession(), name, false, true)
	return err
}

// SetTransform writes the local transform into the graph and the presenter.
// With emit set the write is a local edit: the local session must own the
// node, directly or through a held ancestor, and a matrix command is
// emitted.
func (c *Coordinator) SetTransform(name string, m mgl32.Mat4, emit bool) error {
	id, err := c.graph.Lookup(name)
	if err != nil {
		return err
	}
	if emit {
		if err := c.checkOwner(c.LocalSession(), id, name); err != nil {
			return err
		}
	}
	if err := c.graph.SetLocalTransform(id, m); err != nil {
		return err
	}
	name = scene.NormalizeName(name)
	if _, ok := c.presenter.VisualObject(name); ok {
		c.presenter.SetVisualTransform(name, m)
	}
	if emit {
		c.outbox.Emit(protocol.NewMatrix(name, m))
	}
	return nil
}

// Claim applies a remote session's selection without emitting.
func (c *Coordinator) Claim(session, name string) (bool, error) {
	return c.claim(session, name, false)
}

// Release applies a remote session's release without emitting. Only the
// holder may release unless force is set.
func (c *Coordinator) Release(session, name string, force bool) (bool, error) {
	return c.release(session, name, force, false)
}

func (c *Coordinator) claim(session, name string, emit bool) (bool, error) {
	id, err := c.graph.Lookup(name)
	if err != nil {
		return false, err
	}
	ok, err := c.graph.Select(id)
	if err != nil || !ok {
		return false, err
	}
	c.mu.Lock()
	c.holders[id] = session
	c.mu.Unlock()

	name = scene.NormalizeName(name)
	c.presenter.ShowOwnershipIndicator(name)
	if emit {
		c.outbox.Emit(protocol.NewSelect(name))
	}
	return true, nil
}

func (c *Coordinator) release(session, name string, force, emit bool) (bool, error) {
	id, err := c.graph.Lookup(name)
	if err != nil {
		return false, err
	}
	name = scene.NormalizeName(name)
	if emit {
		defer c.outbox.Emit(protocol.NewDeselect(name))
	}

	c.mu.RLock()
	holder, held := c.holders[id]
	c.mu.RUnlock()
	if held && !force && holder != session {
		return false, nil
	}

	released, err := c.graph.Deselect(id)
	if err != nil || !released {
		return false, err
	}
	c.mu.Lock()
	delete(c.holders, id)
	c.mu.Unlock()
	c.presenter.HideOwnershipIndicator(name)
	return true, nil
}

// ReleaseSession releases every node held by session and returns their
// names.
func (c *Coordinator) ReleaseSession(session string) ([]string, error) {
	c.mu.RLock()
	var ids []scene.ID
	for id, holder := range c.holders {
		if holder == session {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	var names []string
	for _, id := range ids {
		name, err := c.graph.Name(id)
		if err != nil {
			return names, err
		}
		if _, err := c.release(session, name, true, false); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Coordinator) ownerOf(id scene.ID) (string, bool, error) {
	owner, ok, err := c.graph.Owner(id)
	if err != nil || !ok {
		return "", false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holders[owner], true, nil
}

// CheckOwner fails with ErrLockConflict unless session owns name, directly
// or through a held ancestor.
func (c *Coordinator) CheckOwner(session, name string) error {
	id, err := c.graph.Lookup(name)
	if err != nil {
		return err
	}
	return c.checkOwner(session, id, name)
}

func (c *Coordinator) checkOwner(session string, id scene.ID, name string) error {
	holder, owned, err := c.ownerOf(id)
	if err != nil {
		return err
	}
	if !owned {
		return errors.Wrapf(scene.ErrLockConflict, "%q is not selected", name)
	}
	if holder != session {
		return errors.Wrapf(scene.ErrLockConflict, "%q is owned by %q", name, holder)
	}
	return nil
}

// Holder returns the session owning name, directly or through a held
// ancestor.
func (c *Coordinator) Holder(name string) (string, bool, error) {
	id, err := c.graph.Lookup(name)
	if err != nil {
		return "", false, err
	}
	return c.ownerOf(id)
}

// Holdings maps every held node name to its holder.
func (c *Coordinator) Holdings() map[string]string {
	c.mu.RLock()
	ids := make(map[scene.ID]string, len(c.holders))
	for id, holder := range c.holders {
		ids[id] = holder
	}
	c.mu.RUnlock()

	out := make(map[string]string, len(ids))
	for id, holder := range ids {
		if name, err := c.graph.Name(id); err == nil {
			out[name] = holder
		}
	}
	return out
}

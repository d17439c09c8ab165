// Package session runs one participant of a shared scene. All graph and
// ownership mutations, local or remote, go through a single authority loop
// so they are applied one at a time and in arrival order.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/nodestore"
	"github.com/mogaika/shared_scene/ownership"
	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/scene"
	"github.com/mogaika/shared_scene/synchronizer"
)

var ErrStopped = errors.New("session stopped")

type Session struct {
	graph *scene.Graph
	coord *ownership.Coordinator
	sync  *synchronizer.Synchronizer

	queue   *queue
	done    chan struct{}
	runOnce sync.Once

	mu       sync.Mutex
	selected string
}

// New wraps an already loaded graph. local is the session id until the relay
// assigns one; presenter may be nil.
func New(graph *scene.Graph, local string, presenter ownership.Presenter) *Session {
	coord := ownership.New(graph, local, presenter)
	return &Session{
		graph: graph,
		coord: coord,
		sync:  synchronizer.New(coord, nil),
		queue: newQueue(),
		done:  make(chan struct{}),
	}
}

// Run executes queued operations until ctx is cancelled or Stop is called.
// After Stop the operations already queued are still executed.
func (s *Session) Run(ctx context.Context) error {
	err := ErrStopped
	s.runOnce.Do(func() {
		defer close(s.done)
		err = s.run(ctx)
	})
	return err
}

func (s *Session) run(ctx context.Context) error {
	log.WithField("session", s.coord.LocalSession()).Debug("[session] loop started")
	for {
		if op, ok := s.queue.tryDequeue(); ok {
			op()
			continue
		}
		select {
		case <-ctx.Done():
			s.queue.close()
			return ctx.Err()
		case <-s.queue.wait():
			if s.queue.drained() {
				log.Debug("[session] loop stopped")
				return nil
			}
		}
	}
}

func (s *Session) Stop() { s.queue.close() }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// do runs fn on the loop and waits for its result. A stale node reference
// inside fn comes back as an error instead of taking the loop down.
func (s *Session) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	op := func() {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok || !errors.Is(err, nodestore.ErrStaleReference) {
					panic(r)
				}
				log.WithError(err).Error("[session] stale reference")
				res <- err
			}
		}()
		res <- fn()
	}
	if !s.queue.enqueue(op) {
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Session) Graph() *scene.Graph { return s.graph }

func (s *Session) ID() string { return s.coord.LocalSession() }

// PlayerName is the display name assigned by the relay.
func (s *Session) PlayerName() string { return s.sync.PlayerName() }

// AttachTransport routes emitted commands to t. It is queued like any other
// operation, so it may be called before Run.
func (s *Session) AttachTransport(t synchronizer.Transport) {
	s.queue.enqueue(func() { s.sync.SetTransport(t) })
}

func (s *Session) RequestControl(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.do(ctx, func() (err error) {
		ok, err = s.coord.RequestControl(name)
		return err
	})
	return ok, err
}

func (s *Session) ReleaseControl(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		err := s.coord.ReleaseControl(name)
		if err == nil {
			s.mu.Lock()
			if s.selected == scene.NormalizeName(name) {
				s.selected = ""
			}
			s.mu.Unlock()
		}
		return err
	})
}

// Select replaces the current selection: the previous node is released and
// name is requested. An empty name or "none" only releases.
func (s *Session) Select(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.do(ctx, func() (err error) {
		s.mu.Lock()
		prev := s.selected
		s.mu.Unlock()

		name = scene.NormalizeName(strings.TrimSpace(name))
		if prev != "" && prev == name {
			holder, owned, err := s.coord.Holder(name)
			if err == nil && owned && holder == s.coord.LocalSession() {
				ok = true
				return nil
			}
		}
		if prev != "" {
			if err := s.coord.ReleaseControl(prev); err != nil && !errors.Is(err, scene.ErrNotFound) {
				return err
			}
		}
		s.setSelected("")
		if name == "" || name == "none" {
			return nil
		}
		ok, err = s.coord.RequestControl(name)
		if ok {
			s.setSelected(name)
		}
		return err
	})
	return ok, err
}

func (s *Session) setSelected(name string) {
	s.mu.Lock()
	s.selected = name
	s.mu.Unlock()
}

// Selected is the node picked by the last successful Select.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetTransform moves a node this session owns and broadcasts the matrix.
func (s *Session) SetTransform(ctx context.Context, name string, m mgl32.Mat4) error {
	return s.do(ctx, func() error {
		return s.coord.SetTransform(name, m, true)
	})
}

// Reparent moves child under parent; an empty parent makes child a root.
// Structural edits are local to this session.
func (s *Session) Reparent(ctx context.Context, child, parent string) error {
	return s.do(ctx, func() error {
		c, err := s.graph.Lookup(child)
		if err != nil {
			return err
		}
		p := scene.None
		if parent != "" {
			if p, err = s.graph.Lookup(parent); err != nil {
				return err
			}
		}
		return s.graph.Reparent(c, p)
	})
}

func (s *Session) Delete(ctx context.Context, name string) error {
	return s.do(ctx, func() error {
		id, err := s.graph.Lookup(name)
		if err != nil {
			return err
		}
		return s.graph.Delete(id)
	})
}

func (s *Session) SendCamera(ctx context.Context, data json.RawMessage) error {
	return s.do(ctx, func() error {
		s.sync.SendCamera(data)
		return nil
	})
}

func (s *Session) SendPointer(ctx context.Context, data json.RawMessage) error {
	return s.do(ctx, func() error {
		s.sync.SendPointer(data)
		return nil
	})
}

func (s *Session) Say(ctx context.Context, text string) error {
	return s.do(ctx, func() error { return s.sync.Say(text) })
}

// Deliver queues a command received from the transport and returns without
// waiting. Failures are logged by the synchronizer.
func (s *Session) Deliver(c protocol.Command) bool {
	return s.queue.enqueue(func() {
		defer s.recoverStale(c)
		s.sync.Receive(c)
	})
}

func (s *Session) recoverStale(c protocol.Command) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok || !errors.Is(err, nodestore.ErrStaleReference) {
			panic(r)
		}
		log.WithError(err).WithField("command", c.String()).Error("[session] stale reference")
	}
}

// Handle applies a received command and waits for the outcome.
func (s *Session) Handle(ctx context.Context, c protocol.Command) (bool, error) {
	var applied bool
	err := s.do(ctx, func() (err error) {
		applied, err = s.sync.Receive(c)
		return err
	})
	return applied, err
}

// Arbitrate is used by the relay that owns the authoritative graph.
func (s *Session) Arbitrate(ctx context.Context, c protocol.Command) (synchronizer.Verdict, error) {
	var v synchronizer.Verdict
	err := s.do(ctx, func() (err error) {
		v, err = s.sync.Arbitrate(c)
		return err
	})
	return v, err
}

func (s *Session) Snapshot(ctx context.Context) ([]protocol.Command, error) {
	var out []protocol.Command
	err := s.do(ctx, func() (err error) {
		out, err = s.sync.Snapshot()
		return err
	})
	return out, err
}

func (s *Session) NodeNames() []string { return s.graph.Names() }

func (s *Session) LocalTransform(name string) (mgl32.Mat4, error) {
	id, err := s.graph.Lookup(name)
	if err != nil {
		return mgl32.Mat4{}, err
	}
	return s.graph.LocalTransform(id)
}

func (s *Session) WorldTransform(name string) (mgl32.Mat4, error) {
	id, err := s.graph.Lookup(name)
	if err != nil {
		return mgl32.Mat4{}, err
	}
	return s.graph.WorldTransform(id)
}

// Holder reports the session owning name, if any.
func (s *Session) Holder(name string) (string, bool, error) { return s.coord.Holder(name) }

func (s *Session) Holdings() map[string]string { return s.coord.Holdings() }

func (s *Session) Players() []synchronizer.Player { return s.sync.Players() }

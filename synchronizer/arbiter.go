package synchronizer

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/scene"
)

// Verdict is the arbiter's answer to a command from one session.
type Verdict struct {
	// Relay forwards the command to every other session.
	Relay bool
	// Replies go back to the originating session only.
	Replies []protocol.Command
}

// Arbitrate applies c to the authoritative graph and decides whether the
// rest of the sessions get to see it. A refused select is answered with a
// revoke of the optimistic local lock followed by the current lock table. A
// transform from a session that does not own the node is answered with the
// authoritative transform.
func (s *Synchronizer) Arbitrate(c protocol.Command) (Verdict, error) {
	if err := c.Validate(); err != nil {
		s.logger(c).WithError(err).Warn("[arbiter] dropping command")
		return Verdict{}, err
	}

	switch c.Kind {
	case protocol.Select:
		ok, err := s.coord.Claim(c.Session, c.Name)
		if ok {
			return Verdict{Relay: true}, nil
		}
		s.logger(c).Info("[arbiter] select refused")
		return Verdict{Replies: s.revoke(c)}, err

	case protocol.Deselect:
		released, err := s.coord.Release(c.Session, c.Name, false)
		return Verdict{Relay: released}, err

	case protocol.Matrix:
		if err := s.coord.CheckOwner(c.Session, c.Name); err != nil {
			if !errors.Is(err, scene.ErrLockConflict) {
				return Verdict{}, err
			}
			s.logger(c).WithError(err).Info("[arbiter] transform refused")
			fix, ferr := s.matrixOf(c.Name)
			if ferr != nil {
				return Verdict{}, ferr
			}
			return Verdict{Replies: []protocol.Command{fix}}, nil
		}
		if _, err := s.apply(c); err != nil {
			return Verdict{}, err
		}
		return Verdict{Relay: true}, nil

	case protocol.NewPlayer, protocol.SetPlayer, protocol.RemovePlayer:
		return Verdict{}, errors.Wrapf(protocol.ErrMalformedCommand, "%s is issued by the relay only", c.Kind)
	}

	_, err := s.apply(c)
	return Verdict{Relay: err == nil}, err
}

func (s *Synchronizer) revoke(c protocol.Command) []protocol.Command {
	replies := []protocol.Command{{
		Kind:    protocol.Deselect,
		Session: c.Session,
		Name:    c.Name,
		Revoke:  true,
	}}
	return append(replies, s.lockTable()...)
}

func (s *Synchronizer) matrixOf(name string) (protocol.Command, error) {
	g := s.coord.Graph()
	id, err := g.Lookup(name)
	if err != nil {
		return protocol.Command{}, err
	}
	m, err := g.LocalTransform(id)
	if err != nil {
		return protocol.Command{}, err
	}
	c := protocol.NewMatrix(scene.NormalizeName(name), m)
	c.Session = s.coord.LocalSession()
	return c, nil
}

func (s *Synchronizer) lockTable() []protocol.Command {
	holdings := s.coord.Holdings()
	names := make([]string, 0, len(holdings))
	for name := range holdings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]protocol.Command, 0, len(names))
	for _, name := range names {
		c := protocol.NewSelect(name)
		c.Session = holdings[name]
		out = append(out, c)
	}
	return out
}

// Snapshot brings a late joiner up to date: transforms that changed since
// load, then the lock table.
func (s *Synchronizer) Snapshot() ([]protocol.Command, error) {
	g := s.coord.Graph()
	var out []protocol.Command
	for _, id := range g.Changed() {
		name, err := g.Name(id)
		if err != nil {
			return nil, err
		}
		c, err := s.matrixOf(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return append(out, s.lockTable()...), nil
}

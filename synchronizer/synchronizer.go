// Package synchronizer turns accepted local operations into commands and
// applies commands from other sessions without echoing them back.
package synchronizer

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/ownership"
	"github.com/mogaika/shared_scene/protocol"
)

// Transport delivers commands to the other sessions.
type Transport interface {
	Send(protocol.Command) error
}

type Player struct {
	Session string          `json:"session"`
	Name    string          `json:"name"`
	Camera  json.RawMessage `json:"camera,omitempty"`
	Pointer json.RawMessage `json:"pointer,omitempty"`
}

// Synchronizer methods other than the roster queries run on the authority
// loop.
type Synchronizer struct {
	coord     *ownership.Coordinator
	transport Transport
	player    string

	mu      sync.RWMutex
	players map[string]*Player
}

// New installs the synchronizer as the coordinator's outbox. transport may
// be nil until SetTransport is called; emitted commands are dropped then.
func New(coord *ownership.Coordinator, transport Transport) *Synchronizer {
	s := &Synchronizer{
		coord:     coord,
		transport: transport,
		players:   make(map[string]*Player),
	}
	coord.SetOutbox(s)
	return s
}

func (s *Synchronizer) SetTransport(t Transport) { s.transport = t }

func (s *Synchronizer) Coordinator() *ownership.Coordinator { return s.coord }

// PlayerName is the name the relay assigned to this session.
func (s *Synchronizer) PlayerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

func (s *Synchronizer) logger(c protocol.Command) *log.Entry {
	return log.WithFields(log.Fields{"session": c.Session, "kind": c.Kind, "node": c.Name})
}

// Emit stamps the local session on c and sends it.
func (s *Synchronizer) Emit(c protocol.Command) {
	c.Session = s.coord.LocalSession()
	if s.transport == nil {
		s.logger(c).Debug("[sync] no transport, dropping")
		return
	}
	if err := s.transport.Send(c); err != nil {
		s.logger(c).WithError(err).Error("[sync] send failed")
	}
}

// SendCamera publishes the local camera state (opaque JSON).
func (s *Synchronizer) SendCamera(data json.RawMessage) {
	s.Emit(protocol.Command{Kind: protocol.UpdateCamera, Data: data})
}

// SendPointer publishes the local pointer state (opaque JSON).
func (s *Synchronizer) SendPointer(data json.RawMessage) {
	s.Emit(protocol.Command{Kind: protocol.UpdatePointer, Data: data})
}

// Say broadcasts a text message.
func (s *Synchronizer) Say(text string) error {
	data, err := json.Marshal(text)
	if err != nil {
		return errors.Wrapf(err, "Failed to encode message")
	}
	s.Emit(protocol.Command{Kind: protocol.String, Data: data})
	return nil
}

// Receive applies a command from another session. It returns whether the
// command changed local state. Unknown kinds and malformed commands are
// logged and reported but never touch the graph.
func (s *Synchronizer) Receive(c protocol.Command) (bool, error) {
	if err := c.Validate(); err != nil {
		s.logger(c).WithError(err).Warn("[sync] dropping command")
		return false, err
	}
	if c.Session == s.coord.LocalSession() && !c.Revoke {
		return false, nil
	}
	applied, err := s.apply(c)
	if err != nil {
		s.logger(c).WithError(err).Warn("[sync] failed to apply")
	} else if !applied {
		s.logger(c).Debug("[sync] not applied")
	}
	return applied, err
}

func (s *Synchronizer) apply(c protocol.Command) (bool, error) {
	switch c.Kind {
	case protocol.Select:
		return s.coord.Claim(c.Session, c.Name)
	case protocol.Deselect:
		return s.coord.Release(c.Session, c.Name, c.Revoke)
	case protocol.Matrix:
		if err := s.coord.SetTransform(c.Name, *c.Matrix, false); err != nil {
			return false, err
		}
		return true, nil
	case protocol.SetPlayer:
		s.coord.SetLocalSession(c.Session)
		s.mu.Lock()
		s.player = c.Player
		s.mu.Unlock()
		log.WithField("session", c.Session).Infof("[sync] joined as %q", c.Player)
		return true, nil
	case protocol.NewPlayer:
		s.mu.Lock()
		s.players[c.Session] = &Player{Session: c.Session, Name: c.Player}
		s.mu.Unlock()
		return true, nil
	case protocol.RemovePlayer:
		s.mu.Lock()
		delete(s.players, c.Session)
		s.mu.Unlock()
		names, err := s.coord.ReleaseSession(c.Session)
		if len(names) > 0 {
			log.WithField("session", c.Session).Infof("[sync] released %v of departed player", names)
		}
		return true, err
	case protocol.UpdateCamera, protocol.UpdatePointer:
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.players[c.Session]
		if !ok {
			p = &Player{Session: c.Session}
			s.players[c.Session] = p
		}
		if c.Kind == protocol.UpdateCamera {
			p.Camera = c.Data
		} else {
			p.Pointer = c.Data
		}
		return true, nil
	case protocol.String:
		var text string
		if err := json.Unmarshal(c.Data, &text); err != nil {
			return false, errors.Wrapf(protocol.ErrMalformedCommand, "string payload: %v", err)
		}
		s.logger(c).Infof("[sync] message: %s", text)
		return true, nil
	}
	return false, &protocol.UnknownKindError{Kind: c.Kind}
}

// Players returns the known remote players sorted by session.
func (s *Synchronizer) Players() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

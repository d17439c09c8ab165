// Package transport moves commands between sessions: an in-process bus for
// tests and single-binary setups, and a websocket relay for real peers.
package transport

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/protocol"
)

var ErrClosed = errors.New("transport closed")

// Handler receives every command sent by the other endpoints. It must not
// block; session.Deliver is the usual handler.
type Handler func(protocol.Command)

// Bus broadcasts every command to all other joined endpoints. Commands go
// through the wire codec so both sides see exactly what a socket would carry.
type Bus struct {
	mu    sync.RWMutex
	peers map[*Endpoint]Handler
}

func NewBus() *Bus {
	return &Bus{peers: make(map[*Endpoint]Handler)}
}

type Endpoint struct {
	bus *Bus
}

func (b *Bus) Join(h Handler) *Endpoint {
	e := &Endpoint{bus: b}
	b.mu.Lock()
	b.peers[e] = h
	b.mu.Unlock()
	return e
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

func (e *Endpoint) Send(c protocol.Command) error {
	data, err := protocol.Encode(c)
	if err != nil {
		return err
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if _, joined := e.bus.peers[e]; !joined {
		return ErrClosed
	}
	for peer, h := range e.bus.peers {
		if peer == e {
			continue
		}
		decoded, err := protocol.Decode(data)
		if err != nil {
			log.WithError(err).Error("[bus] decode failed")
			return err
		}
		h(decoded)
	}
	return nil
}

func (e *Endpoint) Leave() {
	e.bus.mu.Lock()
	delete(e.bus.peers, e)
	e.bus.mu.Unlock()
}

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/protocol"
)

// Conn is a peer's connection to a Hub.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu   sync.Mutex
	done chan struct{}
}

// Dial connects to the hub at url and feeds every received command to h
// until the connection drops.
func Dial(ctx context.Context, url string, h Handler) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to dial %q", url)
	}
	c := &Conn{
		ws:           ws,
		writeTimeout: 40 * time.Second,
		done:         make(chan struct{}),
	}
	go c.readLoop(h)
	return c, nil
}

func (c *Conn) readLoop(h Handler) {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("[peer] ws read error")
			}
			return
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			log.WithError(err).Warn("[peer] dropping message")
			continue
		}
		h(cmd)
	}
}

func (c *Conn) Send(cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "Failed to send %v", cmd)
	}
	return nil
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.mu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}

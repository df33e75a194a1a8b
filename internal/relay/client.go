// Package relay is the peer-side websocket client of the signaling server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/models"
)

var (
	ErrClosed     = errors.New("relay connection closed")
	ErrBufferFull = errors.New("relay send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	welcomeTimeout = 10 * time.Second
	sendBufferSize = 64
	eventsSize     = 64
)

// Client is one websocket session with the relay. Outbound calls never block.
type Client struct {
	conn *websocket.Conn
	id   string
	log  *zap.Logger

	send   chan []byte
	events chan models.Message
	done   chan struct{}

	closeOnce sync.Once
}

// Dial connects to serverURL and waits for the welcome frame carrying the
// local PeerId. A non-empty token is passed as the token query parameter.
func Dial(ctx context.Context, serverURL, token string, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	deadline := time.Now().Add(welcomeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	var msg models.Message
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if msg.Event != models.EventWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected %s, got %s", models.EventWelcome, msg.Event)
	}
	var welcome models.WelcomePayload
	if err := msg.Decode(&welcome); err != nil || welcome.ID == "" {
		conn.Close()
		return nil, fmt.Errorf("bad welcome payload: %v", err)
	}

	c := &Client{
		conn:   conn,
		id:     welcome.ID,
		log:    log.With(zap.String("self", welcome.ID)),
		send:   make(chan []byte, sendBufferSize),
		events: make(chan models.Message, eventsSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// ID is the PeerId the server assigned.
func (c *Client) ID() string {
	return c.id
}

// Events yields inbound frames. When the socket drops a disconnect event is
// delivered and the channel is closed.
func (c *Client) Events() <-chan models.Message {
	return c.events
}

func (c *Client) CreateRoom(room, username string) error {
	return c.write(models.EventCreateRoom, models.RoomRequest{Room: room, Username: username})
}

func (c *Client) JoinRoom(room, username string) error {
	return c.write(models.EventJoinRoom, models.RoomRequest{Room: room, Username: username})
}

func (c *Client) LeaveRoom(room string) error {
	return c.write(models.EventLeaveRoom, models.RoomPayload{Room: room})
}

func (c *Client) Signal(to string, signal json.RawMessage) error {
	return c.write(models.EventSignal, models.SignalPayload{To: to, Signal: signal})
}

// Close ends the session. No disconnect event is delivered for a local close.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with the write pump.
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) write(event models.Event, data any) error {
	msg, err := models.NewMessage(event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if c.closed() {
		return ErrClosed
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

func (c *Client) readPump() {
	defer close(c.events)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if c.closed() {
				return
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.log.Warn("ignore malformed frame", zap.Error(err))
				continue
			}
			c.log.Warn("relay connection lost", zap.Error(err))
			c.deliver(models.Message{Event: models.EventDisconnect})
			c.closeOnce.Do(func() {
				close(c.done)
				c.conn.Close()
			})
			return
		}
		if !c.deliver(msg) {
			return
		}
	}
}

func (c *Client) deliver(msg models.Message) bool {
	select {
	case c.events <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write message", zap.Error(err))
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mossy-p/lanmesh/config"
	"github.com/mossy-p/lanmesh/internal/middleware"
	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	storeTimeout   = 5 * time.Second
)

// Client-visible error messages.
const (
	msgRoomExists   = "Room already exists"
	msgRoomNotFound = "Room does not exist"
	msgRoomFull     = "Room is full"
	msgRoomRequired = "Room name is required"
	msgRoomClosed   = "Room was closed"
	msgInvalid      = "Invalid message"
	msgServerError  = "Internal server error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub relays membership and signals between websocket clients. Room state is
// kept in a RoomStore; the hub only tracks live sockets.
type Hub struct {
	store      store.RoomStore
	log        *zap.Logger
	jwtSecret  string
	maxPlayers int
	limits     config.SignalLimits

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	UserID string // from the optional token
	Conn   *websocket.Conn
	Send   chan []byte

	limiter *rate.Limiter

	mu   sync.Mutex
	room string
}

func NewHub(st store.RoomStore, cfg *config.Config, log *zap.Logger) *Hub {
	return &Hub{
		store:      st,
		log:        log,
		jwtSecret:  cfg.JWTSecret,
		maxPlayers: cfg.MaxPlayers,
		limits:     cfg.Signal,
		clients:    make(map[string]*Client),
	}
}

func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(room string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, c.room = c.room, room
	return prev
}

// HandleWebSocket upgrades the request and serves one relay client.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	var userID string
	if token := c.Query("token"); token != "" {
		claims, err := middleware.ParseToken(h.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		userID = claims.UserID
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:      uuid.New().String(),
		UserID:  userID,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(h.limits.PerSecond), h.limits.Burst),
	}
	h.register(client)
	h.log.Info("client connected", zap.String("peer", client.ID), zap.String("user", userID))

	h.send(client, models.EventWelcome, models.WelcomePayload{ID: client.ID})

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// unregister removes c and closes its send channel. Senders hold h.mu while
// writing to Send, so the close cannot race a send.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	close(c.Send)
}

func (h *Hub) send(c *Client, event models.Event, data any) {
	msg, err := models.NewMessage(event, data)
	if err != nil {
		h.log.Error("encode message", zap.Error(err))
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueue(c, raw)
}

// enqueue hands raw to c's writer. Caller holds h.mu.
func (h *Hub) enqueue(c *Client, raw []byte) {
	if _, live := h.clients[c.ID]; !live {
		return
	}
	select {
	case c.Send <- raw:
	default:
		h.log.Warn("send buffer full, dropping message", zap.String("peer", c.ID))
	}
}

// sendTo delivers to a client by PeerId if it is connected.
func (h *Hub) sendTo(peerID string, event models.Event, data any) {
	msg, err := models.NewMessage(event, data)
	if err != nil {
		h.log.Error("encode message", zap.Error(err))
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[peerID]; ok {
		h.enqueue(c, raw)
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.send(c, models.EventError, models.ErrorPayload{Message: message})
}

func (h *Hub) client(peerID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[peerID]
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.leave(c)
		h.unregister(c)
		c.Conn.Close()
		h.log.Info("client disconnected", zap.String("peer", c.ID))
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read", zap.String("peer", c.ID), zap.Error(err))
			}
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("parse message", zap.String("peer", c.ID), zap.Error(err))
			h.sendError(c, msgInvalid)
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *Client, msg models.Message) {
	switch msg.Event {
	case models.EventCreateRoom, models.EventJoinRoom:
		var req models.RoomRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, msgInvalid)
			return
		}
		req.Room = strings.TrimSpace(req.Room)
		if req.Room == "" {
			h.sendError(c, msgRoomRequired)
			return
		}
		if msg.Event == models.EventCreateRoom {
			h.createRoom(c, req)
		} else {
			h.joinRoom(c, req)
		}
	case models.EventLeaveRoom:
		h.leave(c)
	case models.EventSignal:
		h.relaySignal(c, msg)
	default:
		h.log.Debug("unknown event", zap.String("peer", c.ID), zap.String("event", string(msg.Event)))
	}
}

func (h *Hub) createRoom(c *Client, req models.RoomRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.leave(c)

	meta := models.RoomMetadata{
		Name:        req.Room,
		CreatorID:   c.ID,
		CreatorUser: c.UserID,
		CreatedAt:   time.Now(),
		MaxPlayers:  h.maxPlayers,
	}
	if err := h.store.CreateRoom(ctx, meta); err != nil {
		h.replyStoreError(c, "create room", err)
		return
	}
	h.log.Info("room created", zap.String("room", req.Room), zap.String("peer", c.ID))
	h.enterRoom(ctx, c, req, models.EventRoomCreated)
}

func (h *Hub) joinRoom(c *Client, req models.RoomRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if c.Room() == req.Room {
		return
	}
	h.leave(c)
	if _, err := h.store.GetRoom(ctx, req.Room); err != nil {
		h.replyStoreError(c, "join room", err)
		return
	}
	h.enterRoom(ctx, c, req, models.EventRoomJoined)
}

func (h *Hub) enterRoom(ctx context.Context, c *Client, req models.RoomRequest, reply models.Event) {
	user := models.User{ID: c.ID, Username: req.Username}
	if err := h.store.AddMember(ctx, req.Room, user); err != nil {
		h.replyStoreError(c, "add member", err)
		return
	}
	c.setRoom(req.Room)
	h.send(c, reply, models.RoomPayload{Room: req.Room})

	members, err := h.store.Members(ctx, req.Room)
	if err != nil {
		h.log.Error("list members", zap.String("room", req.Room), zap.Error(err))
		return
	}
	h.broadcast(members, models.EventUserJoined, models.UsersPayload{Users: members})
}

// leave removes c from its room, if any, and tells the remaining members.
func (h *Hub) leave(c *Client) {
	room := c.setRoom("")
	if room == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	remaining, err := h.store.RemoveMember(ctx, room, c.ID)
	if err != nil {
		h.log.Warn("remove member", zap.String("room", room), zap.String("peer", c.ID), zap.Error(err))
		return
	}
	h.log.Info("left room", zap.String("room", room), zap.String("peer", c.ID), zap.Int("remaining", remaining))
	if remaining == 0 {
		// the store dropped the room with its last member
		return
	}
	members, err := h.store.Members(ctx, room)
	if err != nil {
		h.log.Warn("list members", zap.String("room", room), zap.Error(err))
		return
	}
	h.broadcast(members, models.EventUserLeft, models.UserLeftPayload{UserID: c.ID, Users: members})
}

func (h *Hub) relaySignal(c *Client, msg models.Message) {
	if !c.limiter.Allow() {
		h.log.Warn("signal rate exceeded, dropping", zap.String("peer", c.ID))
		return
	}
	var p models.SignalPayload
	if err := msg.Decode(&p); err != nil || p.To == "" {
		h.sendError(c, msgInvalid)
		return
	}
	room := c.Room()
	target := h.client(p.To)
	if room == "" || target == nil || target.Room() != room {
		h.log.Debug("signal target not in room", zap.String("peer", c.ID), zap.String("to", p.To))
		return
	}
	h.send(target, models.EventSignal, models.SignalPayload{From: c.ID, Signal: p.Signal})
}

func (h *Hub) broadcast(members map[string]models.User, event models.Event, data any) {
	for id := range members {
		h.sendTo(id, event, data)
	}
}

func (h *Hub) replyStoreError(c *Client, op string, err error) {
	switch {
	case errors.Is(err, store.ErrRoomExists):
		h.sendError(c, msgRoomExists)
	case errors.Is(err, store.ErrRoomNotFound):
		h.sendError(c, msgRoomNotFound)
	case errors.Is(err, store.ErrRoomFull):
		h.sendError(c, msgRoomFull)
	default:
		h.log.Error(op, zap.String("peer", c.ID), zap.Error(err))
		h.sendError(c, msgServerError)
	}
}

// CloseRoom evicts every member of room and deletes it.
func (h *Hub) CloseRoom(ctx context.Context, room string) error {
	members, err := h.store.Members(ctx, room)
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		return err
	}
	for id := range members {
		if c := h.client(id); c != nil && c.Room() == room {
			c.setRoom("")
			h.sendError(c, msgRoomClosed)
		}
	}
	return h.store.DeleteRoom(ctx, room)
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debug("write message", zap.String("peer", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

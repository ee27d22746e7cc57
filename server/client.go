package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 512 * 1024
)

// connState is the lifecycle of one connection:
// Unbound -> Joining -> Bound -> Closed, with Closed reachable from any
// state on disconnect.
type connState int

const (
	stateUnbound connState = iota
	stateJoining
	stateBound
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateJoining:
		return "joining"
	case stateBound:
		return "bound"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Client represents a single WebSocket connection. A connection binds to
// at most one document for its lifetime.
type Client struct {
	ID    string
	Color string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu    sync.Mutex
	state connState
	room  *Room
}

var colors = []string{"#e74c3c", "#3498db", "#2ecc71", "#f39c12", "#9b59b6", "#1abc9c", "#e67e22", "#00bcd4", "#ff5722", "#8bc34a"}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Client{
		ID:    generateID(),
		Color: colors[r.Intn(len(colors))],
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		done:  make(chan struct{}),
	}
}

func generateID() string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, 8)
	for i := range b {
		b[i] = chars[r.Intn(len(chars))]
	}
	return string(b)
}

// ReadPump reads messages from the WebSocket and routes them.
func (c *Client) ReadPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{"memberId": c.ID, "error": err}).Warn("client read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.route(msg)
	}
}

// route dispatches one client message according to the connection state.
func (c *Client) route(msg ClientMessage) {
	switch msg.Type {
	case MsgRequestDocument:
		c.handleRequestDocument(msg)
	case MsgJoinMember:
		r := c.boundRoom(msg.Type)
		if r == nil {
			return
		}
		if msg.MemberID != "" && msg.MemberID != c.ID {
			c.reject(msg.Type, "member id does not match this connection")
			return
		}
		r.updateMemberMeta(c.ID, msg.Color)
	case MsgSubmitOperation:
		if r := c.boundRoom(msg.Type); r != nil {
			r.broadcastOperation(c.ID, msg.Op)
		}
	case MsgSaveDocument:
		if r := c.boundRoom(msg.Type); r != nil {
			if !r.requestSave(c, msg.Payload, msg.Title) {
				c.sendMsg(ServerMessage{Type: MsgDocumentSaved, DocID: r.DocID, Status: SaveStatusCoalesced})
			}
		}
	case MsgCursorPosition:
		if r := c.boundRoom(msg.Type); r != nil {
			r.updateCursor(c.ID, msg.Range, msg.Color)
		}
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) handleRequestDocument(msg ClientMessage) {
	c.mu.Lock()
	if c.state != stateUnbound {
		c.mu.Unlock()
		c.reject(msg.Type, "already joined to a document")
		return
	}
	c.state = stateJoining
	if msg.MemberID != "" {
		c.ID = msg.MemberID
	}
	if msg.Color != "" {
		c.Color = msg.Color
	}
	c.mu.Unlock()

	room, err := c.hub.JoinOrCreate(context.Background(), msg.DocID, c)
	if err != nil {
		c.mu.Lock()
		c.state = stateUnbound
		c.mu.Unlock()
		if errors.Is(err, ErrMemberJoined) {
			c.reject(msg.Type, "member id already in use")
			return
		}
		c.sendError("failed to load document")
		return
	}

	c.mu.Lock()
	// The connection may have closed while the snapshot was loading.
	if c.state == stateClosed {
		c.mu.Unlock()
		c.hub.Leave(room.DocID, c)
		return
	}
	c.state = stateBound
	c.room = room
	c.mu.Unlock()

	room.announce(c)

	if c.hub.autosave > 0 {
		go c.autosaveLoop(c.hub.autosave)
	}
}

// boundRoom returns the room when the connection is bound; otherwise it
// rejects the event and returns nil.
func (c *Client) boundRoom(event string) *Room {
	c.mu.Lock()
	state, room := c.state, c.room
	c.mu.Unlock()

	if state != stateBound || room == nil {
		c.reject(event, "not joined to a document")
		return nil
	}
	return room
}

func (c *Client) reject(event, reason string) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"memberId": c.ID,
		"event":    event,
		"state":    state.String(),
		"reason":   reason,
	}).Warn("event rejected")
	c.sendError(reason)
}

// autosaveLoop periodically re-drives persistence for save state that was
// coalesced while a write was in flight. Runs while the connection stays
// bound.
func (c *Client) autosaveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			state, room := c.state, c.room
			c.mu.Unlock()
			if state != stateBound || room == nil {
				return
			}
			room.flushPending()
		case <-c.done:
			return
		}
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// close tears the connection down. Repeated calls have no effect.
func (c *Client) close() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	room := c.room
	c.state = stateClosed
	c.room = nil
	c.mu.Unlock()

	close(c.done)
	if prev == stateBound && room != nil {
		c.hub.Leave(room.DocID, c)
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) sendMsg(msg ServerMessage) {
	select {
	case c.send <- msg.Encode():
	default:
		// Client too slow, drop message.
	}
}

func (c *Client) sendError(message string) {
	c.sendMsg(ServerMessage{Type: MsgError, Message: message})
}

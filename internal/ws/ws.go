package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Avicted/eventchat/internal/chat"
	"github.com/Avicted/eventchat/internal/presence"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/user"
	"nhooyr.io/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 64 << 10
)

// Hub owns the set of open sockets. Message handling happens on each
// client's read loop; the hub only tracks lifetimes.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	clients    map[*Client]struct{}
	loops      sync.WaitGroup
	router     *chat.Router
	conns      *presence.Manager
	origins    []string
	count      atomic.Int64
}

func NewHub(router *chat.Router, conns *presence.Manager, allowedOrigins []string) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		router:     router,
		conns:      conns,
		origins:    allowedOrigins,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close(websocket.StatusGoingAway, "server shutdown")
			}
			return
		case c := <-h.register:
			h.loops.Add(1)
			h.clients[c] = struct{}{}
			h.count.Add(1)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			h.count.Add(-1)
			c.close(websocket.StatusNormalClosure, "bye")
		}
	}
}

// Wait blocks until Run has returned and every registered client has run its
// disconnect cleanup. Presence backends must stay open until then.
func (h *Hub) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		<-h.done
		h.loops.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.router == nil || h.conns == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
	}
	client.id = h.conns.OnConnect(client)

	select {
	case h.register <- client:
	case <-h.done:
		h.conns.OnDisconnect(ctx, client.id)
		client.close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go client.writeLoop()
	go client.readLoop()
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close(websocket.StatusGoingAway, "server shutdown")
	}
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closeOnce sync.Once
	id        room.ConnID
}

// Send queues msg without blocking. A full buffer or a closed client drops
// the frame.
func (c *Client) Send(msg []byte) bool {
	if c.ctx != nil && c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.conns.OnDisconnect(context.Background(), c.id)
		c.hub.leave(c)
		c.hub.loops.Done()
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if !isExpectedDisconnectError(err) && c.ctx.Err() == nil {
				securelog.Error("ws.read", err)
			}
			return
		}
		msg, err := decodeIncoming(data)
		if err != nil {
			c.sendError("", fmt.Errorf("%w: %w", chat.ErrInvalidInput, err))
			continue
		}
		c.hub.handleIncoming(c.ctx, c, msg)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.hub.leave(c)
				return
			}
		}
	}
}

func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(status, reason)
	})
}

func (c *Client) sendEvent(name string, payload any) {
	data, err := chat.Encode(name, payload)
	if err != nil {
		securelog.Error("ws.encode", err)
		return
	}
	_ = c.Send(data)
}

func (c *Client) sendError(request string, err error) {
	if chat.Code(err) == "server_error" {
		securelog.Error("ws."+request, err)
	}
	c.sendEvent(chat.EventError, chat.NewErrorPayload(request, err))
}

func isExpectedDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

type inboundMessage struct {
	Event string
	Data  inboundData
}

// inboundData is the union of the fields any inbound event carries. Ids are
// accepted as JSON numbers or numeric strings.
type inboundData struct {
	UserID     flexID   `json:"user_id"`
	User       flexID   `json:"user"`
	SenderID   flexID   `json:"sender_id"`
	ReceiverID flexID   `json:"receiver_id"`
	RoomID     flexRoom `json:"room_id"`
	EventID    flexID   `json:"event_id"`
	Text       string   `json:"text"`
	Message    string   `json:"message"`
}

func (d inboundData) body() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Message
}

func (d inboundData) claimed() user.ID {
	if d.UserID != 0 {
		return user.ID(d.UserID)
	}
	return user.ID(d.User)
}

func (d inboundData) target() room.ID {
	if !d.RoomID.id.IsZero() {
		return d.RoomID.id
	}
	if d.EventID > 0 {
		return room.Event(int64(d.EventID))
	}
	return room.ID{}
}

type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", raw)
	}
	*f = flexID(v)
	return nil
}

type flexRoom struct {
	id room.ID
}

func (f *flexRoom) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		f.id = room.ID{}
		return nil
	}
	id, err := room.Parse(raw)
	if err != nil {
		return err
	}
	f.id = id
	return nil
}

func decodeIncoming(data []byte) (inboundMessage, error) {
	var frame chat.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundMessage{}, err
	}
	msg := inboundMessage{Event: strings.TrimSpace(frame.Event)}
	if msg.Event == "" {
		return inboundMessage{}, errors.New("event is required")
	}
	if len(frame.Data) > 0 && !bytes.Equal(frame.Data, []byte("null")) {
		if err := json.Unmarshal(frame.Data, &msg.Data); err != nil {
			return inboundMessage{}, err
		}
	}
	return msg, nil
}

func (h *Hub) handleIncoming(ctx context.Context, c *Client, msg inboundMessage) {
	var err error
	d := msg.Data
	switch msg.Event {
	case "identify":
		var u user.User
		u, err = h.router.Identify(ctx, c.id, user.ID(d.UserID))
		if err == nil {
			c.sendEvent(chat.EventIdentified, chat.Identified{UserID: u.ID, Username: u.Username})
		}
	case "join_room":
		err = h.router.Join(ctx, c.id, d.target(), d.claimed())
	case "leave_room":
		err = h.router.Leave(ctx, c.id, d.target(), d.claimed())
	case "send_message":
		_, err = h.router.SendToRoom(ctx, c.id, d.target(), user.ID(d.UserID), d.body())
	case "send_lounge_message":
		_, err = h.router.SendLounge(ctx, c.id, user.ID(d.UserID), d.body())
	case "send_direct_message":
		_, err = h.router.SendDirect(ctx, c.id, user.ID(d.SenderID), user.ID(d.ReceiverID), d.body())
	case "join_dm_room":
		err = h.router.JoinInbox(ctx, c.id, user.ID(d.UserID))
	case "mark_read":
		_, err = h.router.MarkReadFrom(ctx, c.id, user.ID(d.SenderID))
	default:
		err = fmt.Errorf("%w: unsupported event", chat.ErrInvalidInput)
	}
	if err != nil {
		c.sendError(msg.Event, err)
	}
}

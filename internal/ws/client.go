package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lokapos/terminal/internal/auth"
	"github.com/lokapos/terminal/internal/enum"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // validated via JWT / anonymous declaration instead
	},
}

// Client represents a single WebSocket connection. Identity is fixed at
// handshake time; it is never re-validated per message.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id         uuid.UUID
	userID     uuid.UUID
	name       string
	role       string
	storeID    uuid.UUID
	clientType string
	anonymous  bool

	// rooms this client joined; mutated only by the hub's Run loop.
	rooms map[string]bool

	// set by the hub loop when the send channel is closed.
	dropped bool
}

// clientMessage is the tagged union of inbound messages.
type clientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	ItemID string `json:"item_id,omitempty"`
}

// ReadPump pumps messages from the WebSocket connection to the dispatcher.
// Runs in a per-connection goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		if !c.anonymous {
			c.hub.Publish(StoreRoom(c.storeID), "presence.offline", presencePayload{
				UserID: c.userID, Name: c.name, Role: c.role,
			})
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch handles one inbound message. Violations answer with an error
// frame; the connection is never torn down for them.
func (c *Client) dispatch(msg clientMessage) {
	switch msg.Action {
	case "ping":
		c.enqueue("pong", map[string]int64{"ts": time.Now().Unix()})

	case "join_room":
		if !c.canJoin(msg.Room) {
			c.sendError("not allowed to join room " + msg.Room)
			return
		}
		c.hub.subscribe <- &subscription{client: c, room: msg.Room, join: true}

	case "leave_room":
		c.hub.subscribe <- &subscription{client: c, room: msg.Room, join: false}

	case "kitchen_snapshot":
		if !c.isStaff() {
			c.sendError("kitchen snapshot is staff-only")
			return
		}
		c.sendKitchenSnapshot()

	case "item_prepared":
		if !c.canPrepare() {
			c.sendError("item_prepared requires a kitchen role")
			return
		}
		c.markItemPrepared(msg.ItemID)

	default:
		c.sendError("unknown action")
	}
}

// canJoin encodes room authorization. Anonymous connections are restricted
// to the customer room and per-order tracking rooms; staff rooms require the
// matching role.
func (c *Client) canJoin(room string) bool {
	if strings.HasPrefix(room, "order_") {
		return true
	}
	if c.anonymous {
		return room == CustomerRoom(c.storeID)
	}
	switch room {
	case StoreRoom(c.storeID), CustomerRoom(c.storeID):
		return true
	case KitchenRoom(c.storeID):
		return c.role == enum.UserRoleKitchen || c.role == enum.UserRoleManager || c.role == enum.UserRoleAdmin
	case CashierRoom(c.storeID):
		return c.role == enum.UserRoleCashier || c.role == enum.UserRoleManager || c.role == enum.UserRoleAdmin
	}
	return false
}

func (c *Client) isStaff() bool {
	return !c.anonymous
}

func (c *Client) canPrepare() bool {
	switch c.role {
	case enum.UserRoleKitchen, enum.UserRoleManager, enum.UserRoleAdmin:
		return true
	}
	return false
}

func (c *Client) sendKitchenSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	orders, err := c.hub.store.ListActiveKitchenOrders(ctx, c.storeID)
	if err != nil {
		log.Printf("ERROR: ws: kitchen snapshot: %v", err)
		c.sendError("snapshot unavailable")
		return
	}
	projections := make([]KitchenOrderProjection, 0, len(orders))
	for _, o := range orders {
		items, err := c.hub.store.ListOrderItemsByOrder(ctx, o.ID)
		if err != nil {
			log.Printf("ERROR: ws: kitchen snapshot items: %v", err)
			c.sendError("snapshot unavailable")
			return
		}
		projections = append(projections, kitchenProjection(o, items))
	}
	c.enqueue("kitchen.snapshot", projections)
}

func (c *Client) markItemPrepared(itemID string) {
	id, err := uuid.Parse(itemID)
	if err != nil {
		c.sendError("invalid item_id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	item, err := c.hub.store.MarkOrderItemPrepared(ctx, id)
	if err != nil {
		log.Printf("ERROR: ws: mark item prepared: %v", err)
		c.sendError("could not mark item prepared")
		return
	}

	payload := itemPreparedPayload(item)
	c.hub.Publish(KitchenRoom(c.storeID), "item.prepared", payload)
	c.hub.Publish(StoreRoom(c.storeID), "item.prepared", payload)
}

// enqueue serializes an event straight onto this client's send channel,
// bypassing room routing (used for request/response style messages).
func (c *Client) enqueue(eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	message, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return
	}

	// The hub closes send only while holding the write lock, after setting
	// dropped. Sending under the read lock with dropped still false cannot
	// race that close.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.dropped {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

func (c *Client) sendError(reason string) {
	c.enqueue("error", map[string]string{"reason": reason})
}

// WritePump pumps messages from the hub to the WebSocket connection.
// Runs in a per-connection goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles the realtime handshake.
// Endpoint: WS /ws/stores/{sid}?token=JWT or ?client_type=customer
//
// Credentials are presented once here; anonymous connections are accepted
// only as customer clients and land in the customer room.
func ServeWS(hub *Hub, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	storeID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		http.Error(w, "invalid store id", http.StatusBadRequest)
		return
	}

	tokenStr := r.URL.Query().Get("token")
	clientType := r.URL.Query().Get("client_type")

	client := &Client{
		hub:     hub,
		id:      uuid.New(),
		storeID: storeID,
		send:    make(chan []byte, 256),
		rooms:   make(map[string]bool),
	}

	if tokenStr == "" {
		// Anonymous customer channel: no staff rooms, ever.
		if clientType != enum.ClientTypeCustomer {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		client.anonymous = true
		client.clientType = enum.ClientTypeCustomer
		client.rooms[CustomerRoom(storeID)] = true
	} else {
		claims, err := auth.ValidateToken(jwtSecret, tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.Role != enum.UserRoleAdmin && claims.StoreID != storeID {
			http.Error(w, "store access denied", http.StatusForbidden)
			return
		}
		client.userID = claims.UserID
		client.name = claims.Name
		client.role = claims.Role
		client.clientType = clientType
		client.rooms[StoreRoom(storeID)] = true
		if claims.Role == enum.UserRoleKitchen || clientType == enum.ClientTypeKitchen {
			client.rooms[KitchenRoom(storeID)] = true
		} else {
			client.rooms[CashierRoom(storeID)] = true
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	client.conn = conn
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()

	if !client.anonymous {
		hub.Publish(StoreRoom(storeID), "presence.online", presencePayload{
			UserID: client.userID, Name: client.name, Role: client.role,
		})
	}
}

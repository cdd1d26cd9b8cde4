package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/lokapos/terminal/internal/database"
)

// Event represents a WebSocket message to be delivered to clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomEvent routes an event to a named room.
type roomEvent struct {
	Room  string
	Event Event
}

// subscription is an internal join/leave request processed by the hub loop.
type subscription struct {
	client *Client
	room   string
	join   bool
}

// KitchenStore defines the DB methods the hub's message dispatcher needs for
// kitchen snapshot and item-prepared requests. Satisfied by
// *database.Queries.
type KitchenStore interface {
	ListActiveKitchenOrders(ctx context.Context, storeID uuid.UUID) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	MarkOrderItemPrepared(ctx context.Context, itemID uuid.UUID) (database.OrderItem, error)
}

// Room name helpers. Events are published to rooms, never to individual
// connections.

func StoreRoom(storeID uuid.UUID) string    { return "store_" + storeID.String() }
func KitchenRoom(storeID uuid.UUID) string  { return "kitchen_" + storeID.String() }
func CashierRoom(storeID uuid.UUID) string  { return "cashier_" + storeID.String() }
func CustomerRoom(storeID uuid.UUID) string { return "customers_" + storeID.String() }
func OrderRoom(orderID uuid.UUID) string    { return "order_" + orderID.String() }

// Hub is the connection registry and room-scoped broadcaster. It owns all
// room membership state; membership mutates only inside the Run loop.
type Hub struct {
	rooms map[string]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscription
	broadcast   chan *roomEvent

	store KitchenStore

	// Guards rooms for the read paths used in tests and shutdown.
	mu sync.RWMutex
}

// NewHub creates a Hub. store backs the kitchen snapshot / item-prepared
// inbound messages.
func NewHub(store KitchenStore) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan *subscription, 64),
		broadcast:  make(chan *roomEvent, 256),
		store:      store,
	}
}

// Run processes registry and broadcast traffic until ctx is cancelled, then
// closes every remaining connection. Run as a goroutine: go hub.Run(ctx).
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			for room := range client.rooms {
				h.addToRoom(room, client)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropClient(client)
			h.mu.Unlock()

		case sub := <-h.subscribe:
			h.mu.Lock()
			if sub.join {
				sub.client.rooms[sub.room] = true
				h.addToRoom(sub.room, sub.client)
			} else {
				delete(sub.client.rooms, sub.room)
				h.removeFromRoom(sub.room, sub.client)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			h.deliver(ev)
			h.mu.Unlock()
		}
	}
}

// Publish sends an event to every client in the room. Delivery is
// best-effort; slow clients are dropped, not waited for.
func (h *Hub) Publish(room, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: ws: marshal %s payload: %v", eventType, err)
		return
	}
	h.broadcast <- &roomEvent{
		Room:  room,
		Event: Event{Type: eventType, Payload: raw},
	}
}

// --- Run-loop internals (hub goroutine only, mu held) ---

func (h *Hub) addToRoom(room string, client *Client) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
}

func (h *Hub) removeFromRoom(room string, client *Client) {
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// dropClient removes the client from every room it joined and closes its
// send channel exactly once. Registry entries never outlive the connection.
func (h *Hub) dropClient(client *Client) {
	if client.dropped {
		return
	}
	client.dropped = true
	for room := range client.rooms {
		h.removeFromRoom(room, client)
	}
	close(client.send)
}

func (h *Hub) deliver(ev *roomEvent) {
	clients := h.rooms[ev.Room]
	if len(clients) == 0 {
		return
	}
	message, err := json.Marshal(ev.Event)
	if err != nil {
		return
	}
	for client := range clients {
		select {
		case client.send <- message:
		default:
			// Send buffer full: the client is stalled, drop it.
			h.dropClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			if !client.dropped {
				client.dropped = true
				close(client.send)
			}
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// Package websocket pushes each family's current shopping list to its connected clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/metrics"
	"family-shopping/backend/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	TypeCurrentList      = "current_list"
	TypeShoppingFinished = "shopping_finished"
	TypeError            = "error"
)

// Message is the frame sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ErrorData struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

// Subscriber opens a stream of a family's current list.
type Subscriber interface {
	Subscribe(ctx context.Context, familyID string) (*realtime.Stream, error)
}

// room holds the clients of one family and the projection that feeds them.
type room struct {
	clients map[*Client]bool
	last    []byte
	cancel  context.CancelFunc
}

type envelope struct {
	familyID string

	// source is the room whose projection produced the payload; nil for notifications.
	source  *room
	payload []byte
	list    bool
	final   bool
}

type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]*room
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	source   Subscriber
	upgrader websocket.Upgrader
	log      *logrus.Entry
	metrics  *metrics.Metrics
}

func NewHub(source Subscriber, log logrus.FieldLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]*room),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		source:     source,
		// A nil CheckOrigin only accepts same-origin browsers.
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     logger.Component(log, "websocket"),
		metrics: m,
	}
}

// AllowOrigin additionally accepts upgrades from origin. Requests without an Origin header
// are not from a browser and are always accepted.
func (h *Hub) AllowOrigin(origin string) {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		got := r.Header.Get("Origin")
		return got == "" || got == origin || sameHost(r, got)
	}
}

func sameHost(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Run serves registrations and deliveries until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.removeClient(c)
		case env := <-h.broadcast:
			h.deliver(env)
		case <-ctx.Done():
			for c := range h.clients {
				h.removeClient(c)
			}
			return
		}
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	h.clients[c] = true
	if h.metrics != nil {
		h.metrics.WebsocketClients.Inc()
	}

	r, ok := h.rooms[c.familyID]
	if !ok {
		roomCtx, cancel := context.WithCancel(ctx)
		r = &room{clients: make(map[*Client]bool), cancel: cancel}
		h.rooms[c.familyID] = r
		go h.follow(roomCtx, c.familyID, r)
	}
	r.clients[c] = true
	if r.last != nil {
		h.send(c, r.last)
	}
}

func (h *Hub) removeClient(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.metrics != nil {
		h.metrics.WebsocketClients.Dec()
	}

	if r, ok := h.rooms[c.familyID]; ok {
		delete(r.clients, c)
		if len(r.clients) == 0 {
			r.cancel()
			delete(h.rooms, c.familyID)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	r, ok := h.rooms[env.familyID]
	if !ok || (env.source != nil && env.source != r) {
		return
	}
	if env.list {
		r.last = env.payload
	}
	for c := range r.clients {
		h.send(c, env.payload)
	}
	if env.final {
		for c := range r.clients {
			h.removeClient(c)
		}
	}
}

// send queues payload for c, dropping clients that cannot keep up.
func (h *Hub) send(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.WithField("family_id", c.familyID).Warn("dropping slow websocket client")
		h.removeClient(c)
	}
}

// follow forwards the family's projection into the hub until the room is closed or the stream
// fails. A failure is reported to the room's clients, which are then disconnected.
func (h *Hub) follow(ctx context.Context, familyID string, r *room) {
	log := h.log.WithField("family_id", familyID)

	stream, err := h.source.Subscribe(ctx, familyID)
	if err != nil {
		log.WithError(err).Warn("failed to subscribe to current list")
		h.publish(ctx, envelope{familyID: familyID, source: r, payload: errorPayload(err), final: true})
		return
	}
	defer stream.Close()

	for list := range stream.Lists() {
		payload, err := json.Marshal(Message{Type: TypeCurrentList, Data: list})
		if err != nil {
			log.WithError(err).Error("failed to encode current list")
			continue
		}
		if !h.publish(ctx, envelope{familyID: familyID, source: r, payload: payload, list: true}) {
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		h.publish(ctx, envelope{familyID: familyID, source: r, payload: errorPayload(err), final: true})
	}
}

func (h *Hub) publish(ctx context.Context, env envelope) bool {
	select {
	case h.broadcast <- env:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// Notify sends a one-off message to every client of the family.
func (h *Hub) Notify(familyID, msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.log.WithError(err).Error("failed to encode notification")
		return
	}
	select {
	case h.broadcast <- envelope{familyID: familyID, payload: payload}:
	case <-h.done:
	}
}

func errorPayload(err error) []byte {
	payload, _ := json.Marshal(Message{
		Type: TypeError,
		Data: ErrorData{Error: err.Error(), Kind: apperr.KindOf(err)},
	})
	return payload
}

// ServeWs upgrades the request and joins the connection to the family's room. The caller has
// already authenticated the request and resolved its family.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, familyID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &Client{hub: h, conn: conn, familyID: familyID, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

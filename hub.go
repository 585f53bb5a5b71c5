package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/models"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HubMessage is the JSON format of websocket messages in both directions.
type HubMessage struct {
	Type    string          `json:"type"`
	State   json.RawMessage `json:"state,omitempty"`
	VideoID string          `json:"videoId,omitempty"`
	URL     string          `json:"url,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Hub pushes data state transitions to websocket clients and serves
// thumbnail hover requests.
type Hub struct {
	thumbs *chart.Resolver
	logger log15.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn    *websocket.Conn
	send    chan []byte
	session *chart.Session
	done    chan struct{}
	once    sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.session.Close()
	})
}

// enqueue drops the message if the client is not keeping up.
func (c *hubClient) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// NewHub creates an empty Hub.
func NewHub(thumbs *chart.Resolver, logger log15.Logger) *Hub {
	return &Hub{
		thumbs:  thumbs,
		logger:  logger.New("component", "hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func stateMessage(s models.DataState) ([]byte, error) {
	state, err := models.MarshalState(s)
	if err != nil {
		return nil, err
	}

	return json.Marshal(HubMessage{Type: "state", State: state})
}

// Broadcast sends s to every client. It is used as a manager subscriber.
func (h *Hub) Broadcast(s models.DataState) {
	msg, err := stateMessage(s)
	if err != nil {
		h.logger.Error("failed to encode state", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.enqueue(msg) {
			h.logger.Debug("dropping state for slow client")
		}
	}
}

// Handler upgrades the request and serves one client. current supplies the
// state sent on connect.
func (h *Hub) Handler(current func() models.DataState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "err", err)
			return
		}

		c := &hubClient{
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			session: h.thumbs.NewSession(),
			done:    make(chan struct{}),
		}

		if msg, err := stateMessage(current()); err == nil {
			c.enqueue(msg)
		}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		go h.readPump(c)
		h.writePump(c)

		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		c.close()
		_ = conn.Close()
	}
}

func (h *Hub) readPump(c *hubClient) {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg HubMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, HubMessage{Type: "error", Error: "invalid message format"})

			continue
		}

		switch msg.Type {
		case "hover":
			if msg.VideoID == "" {
				h.reply(c, HubMessage{Type: "error", Error: "videoId required"})

				continue
			}

			id := msg.VideoID
			url := c.session.Hover(id, func(url string) {
				h.reply(c, HubMessage{Type: "thumbnail", VideoID: id, URL: url})
			})
			h.reply(c, HubMessage{Type: "thumbnail", VideoID: id, URL: url})
		case "leave":
			c.session.Leave()
		default:
			h.reply(c, HubMessage{Type: "error", Error: "unknown command: " + msg.Type})
		}
	}
}

func (h *Hub) reply(c *hubClient, msg HubMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.enqueue(b)
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/pipewatch/pkg/events"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is every frame sent to clients
type wsMessage struct {
	Type  string        `json:"type"`
	Data  interface{}   `json:"data,omitempty"`
	Event *events.Event `json:"event,omitempty"`
}

// wsCommand is sent by clients to narrow the stream
type wsCommand struct {
	Action   string `json:"action"`
	Pipeline string `json:"pipeline"`
}

// wsClient is one connected event stream consumer
type wsClient struct {
	conn *websocket.Conn

	mu       sync.RWMutex
	pipeline string
	writeMu  sync.Mutex
}

func (c *wsClient) write(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) wants(ev *events.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pipeline == "" || ev.Pipeline == "" || ev.Pipeline == c.pipeline
}

func (c *wsClient) subscribe(pipeline string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipeline = pipeline
}

// handleWebSocket streams broker events to the client. The client may send
// {"action":"subscribe","pipeline":"name"} to receive only that pipeline's
// events, and {"action":"unsubscribe"} to receive everything again.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected to event stream")
	if err := client.write(wsMessage{Type: "connected", Data: map[string]string{"data": "Connected to pipewatch"}}); err != nil {
		return
	}

	done := make(chan struct{})
	go s.readCommands(client, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if !client.wants(ev) {
				continue
			}
			if err := client.write(wsMessage{Type: string(ev.Type), Event: ev}); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			client.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			client.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected from event stream")
			return
		}
	}
}

func (s *Server) readCommands(client *wsClient, done chan<- struct{}) {
	defer close(done)

	conn := client.conn
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		switch cmd.Action {
		case "subscribe":
			client.subscribe(cmd.Pipeline)
			s.logger.Info().Str("pipeline", cmd.Pipeline).Msg("Client subscribed to pipeline")
			_ = client.write(wsMessage{Type: "subscribed", Data: map[string]string{"pipeline": cmd.Pipeline}})
		case "unsubscribe":
			client.subscribe("")
			_ = client.write(wsMessage{Type: "subscribed", Data: map[string]string{"pipeline": ""}})
		default:
			_ = client.write(wsMessage{Type: "error", Data: map[string]string{"error": "unknown action " + cmd.Action}})
		}
	}
}

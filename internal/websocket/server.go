// Package websocket serves the live feed of finished test runs.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/origin"
	"github.com/natssync/mstress/pkg/types"
)

const writeWait = 5 * time.Second

// SubscriberGauge is told how many feed clients are connected.
type SubscriberGauge interface {
	SetSubscribers(n int)
}

type Server struct {
	upgrader       websocket.Upgrader
	clients        map[*websocket.Conn]*clientConn
	allowedOrigins []string
	pingInterval   time.Duration
	gauge          SubscriberGauge
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer() *Server {
	server := &Server{
		clients:      make(map[*websocket.Conn]*clientConn),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	server.startPingLoop()
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

func (s *Server) SetGauge(g SubscriberGauge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauge = g
}

// ServeHTTP upgrades the request and keeps the subscriber until it
// disconnects. Subscribers only receive; anything they send is discarded.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade error", logging.F("error", err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4096)

	client := &clientConn{conn: conn}
	s.mu.Lock()
	s.clients[conn] = client
	s.mu.Unlock()
	s.reportSubscribers()

	if err := client.writeJSON(types.NewEvent(types.EventConnected, "", nil)); err != nil {
		s.removeClient(conn)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeClient(conn)
}

// Publish sends ev to every subscriber. Subscribers that cannot keep up are
// dropped.
func (s *Server) Publish(ev types.Event) {
	s.mu.RLock()
	if len(s.clients) == 0 {
		s.mu.RUnlock()
		return
	}
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Warn("WebSocket event marshal failed",
			logging.F("type", ev.Type),
			logging.F("error", err))
		return
	}

	for _, client := range clientList {
		if err := client.writeMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) startPingLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingClients()
				if next := s.getPingInterval(); next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}()
}

func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()
	s.reportSubscribers()
}

func (s *Server) getPingInterval() time.Duration {
	s.mu.RLock()
	interval := s.pingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}

func (s *Server) pingClients() {
	s.mu.RLock()
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.RUnlock()

	for _, client := range clientList {
		if err := client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		s.reportSubscribers()
	}
}

func (s *Server) reportSubscribers() {
	s.mu.RLock()
	g, n := s.gauge, len(s.clients)
	s.mu.RUnlock()
	if g != nil {
		g.SetSubscribers(n)
	}
}

// isAllowedOrigin accepts non-browser clients, then the configured list,
// falling back to same-host when no list is configured.
func (s *Server) isAllowedOrigin(o string, host string) bool {
	if o == "" {
		return true
	}

	s.mu.RLock()
	allowedOrigins := append([]string(nil), s.allowedOrigins...)
	s.mu.RUnlock()

	if len(allowedOrigins) == 0 {
		return origin.SameHost(o, host)
	}
	return origin.Allowed(allowedOrigins, o)
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

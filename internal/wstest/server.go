// Package wstest provides an in-process exchange stand-in for websocket tests.
// It records every text frame it receives and lets a test push frames, drop
// sockets and reject handshakes.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Responder is invoked for every received text frame.
type Responder func(s *Server, data []byte)

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Server is a websocket test server.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	peers     []*peer
	frames    [][]byte
	headers   []http.Header
	paths     []string
	dials     int
	rejects   int
	rejectAll bool
	responder Responder
}

// NewServer starts a server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WSURL returns the ws:// base URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// SetResponder installs a callback run for every received text frame.
func (s *Server) SetResponder(fn Responder) {
	s.mu.Lock()
	s.responder = fn
	s.mu.Unlock()
}

// Reject fails the next n handshakes with 503.
func (s *Server) Reject(n int) {
	s.mu.Lock()
	s.rejects = n
	s.mu.Unlock()
}

// RejectAll fails every handshake with 503 while enabled.
func (s *Server) RejectAll(enabled bool) {
	s.mu.Lock()
	s.rejectAll = enabled
	s.mu.Unlock()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	s.headers = append(s.headers, r.Header.Clone())
	s.paths = append(s.paths, r.URL.Path)
	reject := s.rejectAll || s.rejects > 0
	if s.rejects > 0 {
		s.rejects--
	}
	s.mu.Unlock()

	if reject {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()

	go s.readLoop(p)
}

func (s *Server) readLoop(p *peer) {
	defer s.remove(p)
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, data)
		responder := s.responder
		s.mu.Unlock()

		if responder != nil {
			responder(s, data)
		}
	}
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.peers {
		if candidate == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	_ = p.conn.Close()
}

// Send writes a text frame to every connected socket.
func (s *Server) Send(data []byte) error {
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()

	for _, p := range peers {
		p.writeMu.Lock()
		err := p.conn.WriteMessage(websocket.TextMessage, data)
		p.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// SendString is Send for string payloads.
func (s *Server) SendString(data string) error {
	return s.Send([]byte(data))
}

// DropAll closes every socket without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.UnderlyingConn().Close()
	}
}

// CloseAll sends a close frame with code to every socket.
func (s *Server) CloseAll(code int) {
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, "")
	for _, p := range peers {
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// Frames returns a copy of the received text frames in arrival order.
func (s *Server) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = string(f)
	}
	return out
}

// ResetFrames forgets the recorded frames.
func (s *Server) ResetFrames() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

// Dials returns how many handshakes were attempted, rejected ones included.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Connections returns the number of live sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Headers returns the handshake headers of every dial.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// Paths returns the request path of every dial.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// WaitFrames blocks until at least n frames were received and returns them.
func (s *Server) WaitFrames(t testing.TB, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Frames()) >= n
	}, 5*time.Second, 5*time.Millisecond, "expected %d frames", n)
	return s.Frames()
}

// WaitConnections blocks until exactly n sockets are live.
func (s *Server) WaitConnections(t testing.TB, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Connections() == n
	}, 5*time.Second, 5*time.Millisecond, "expected %d connections", n)
}

// Close closes every socket and shuts the server down.
func (s *Server) Close() {
	s.DropAll()
	s.Server.Close()
}

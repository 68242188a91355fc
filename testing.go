package sherpa

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
)

// TestFunc implements a function served by a TestServer. Returning an
// *Error sends its code and message as sherpa error.
type TestFunc func(r *http.Request, params []any) (any, error)

// TestServer is an httptest server speaking the sherpa protocol. Functions
// are served under /api/, server-sent events under /events and WebSocket
// push messages under /ws. It is intended exclusively for use in tests.
type TestServer struct {
	*httptest.Server

	mu        sync.Mutex
	functions map[string]TestFunc
	calls     map[string]int
	clients   map[*pushClient]struct{}
	pushCode  int
	connects  int
	lastQuery map[string]string
}

type pushClient struct {
	send chan []byte
	quit chan struct{}
	ws   bool
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewTestServer starts a server without functions. Close it when done.
func NewTestServer() *TestServer {
	s := &TestServer{
		functions: make(map[string]TestFunc),
		calls:     make(map[string]int),
		clients:   make(map[*pushClient]struct{}),
		lastQuery: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.handleCall)
	mux.HandleFunc("/events", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWS)
	s.Server = httptest.NewServer(mux)
	return s
}

// Close drops push connections and shuts down the server.
func (s *TestServer) Close() {
	s.DropPush()
	s.Server.Close()
}

// BaseURL returns the base URL for a Client.
func (s *TestServer) BaseURL() string {
	return s.URL + "/api/"
}

// Handle serves fn with f.
func (s *TestServer) Handle(fn string, f TestFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[fn] = f
}

// Calls returns how often fn was requested.
func (s *TestServer) Calls(fn string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fn]
}

// RejectPush makes push connections fail with status code. 0 accepts them.
func (s *TestServer) RejectPush(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushCode = code
}

// Connects returns the number of accepted push connections.
func (s *TestServer) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// PushQuery returns the value of query parameter name of the last push
// connection.
func (s *TestServer) PushQuery(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery[name]
}

// Push sends event with data, JSON-encoded, to all push clients.
func (s *TestServer) Push(event string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.PushRaw(event, buf)
}

// PushRaw sends event with already encoded data to all push clients.
func (s *TestServer) PushRaw(event string, data []byte) error {
	sse := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, strings.ReplaceAll(string(data), "\n", "\ndata: "))
	ws, err := json.Marshal(PushMessage{Type: TypePush, Event: event, Data: data})
	if err != nil {
		return err
	}
	s.broadcast(sse, ws)
	return nil
}

// Keepalive sends a comment line to event stream clients and a ping to
// WebSocket clients.
func (s *TestServer) Keepalive() {
	ping, _ := json.Marshal(PushMessage{Type: TypePing})
	s.broadcast([]byte(": keepalive\n\n"), ping)
}

// ConfigurePush sends reconnect intervals, in milliseconds, to push clients.
// Event stream clients only receive interval, as retry field.
func (s *TestServer) ConfigurePush(interval, max int) {
	msg, _ := json.Marshal(ConfigMessage{Type: TypeConfig, ReconnectInterval: interval, ReconnectMaxInterval: max})
	s.broadcast(fmt.Appendf(nil, "retry: %d\n\n", interval), msg)
}

// DropPush closes all push connections.
func (s *TestServer) DropPush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.quit)
		delete(s.clients, c)
	}
}

func (s *TestServer) broadcast(sse, ws []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		msg := sse
		if c.ws {
			msg = ws
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (s *TestServer) handleCall(w http.ResponseWriter, r *http.Request) {
	fn := strings.TrimPrefix(r.URL.Path, "/api/")
	s.mu.Lock()
	f, ok := s.functions[fn]
	s.calls[fn]++
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req callRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		writeCallError(w, "server:badRequest", err.Error())
		return
	}
	result, err := f(r, req.Params)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			writeCallError(w, se.Code, se.Message)
		} else {
			writeCallError(w, "server:error", err.Error())
		}
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		writeCallError(w, "server:error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.MarshalWrite(w, callResponse{Result: data})
}

func writeCallError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.MarshalWrite(w, callResponse{Error: &callError{Code: code, Message: message}})
}

// acceptPush registers a push client, or returns the rejection status.
func (s *TestServer) acceptPush(r *http.Request, ws bool) (*pushClient, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushCode != 0 {
		return nil, s.pushCode
	}
	s.connects++
	for k := range r.URL.Query() {
		s.lastQuery[k] = r.URL.Query().Get(k)
	}
	c := &pushClient{send: make(chan []byte, 64), quit: make(chan struct{}), ws: ws}
	s.clients[c] = struct{}{}
	return c, 0
}

func (s *TestServer) removePush(c *pushClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		close(c.quit)
		delete(s.clients, c)
	}
}

func (s *TestServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	c, code := s.acceptPush(r, false)
	if c == nil {
		http.Error(w, http.StatusText(code), code)
		return
	}
	defer s.removePush(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case msg := <-c.send:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-c.quit:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *TestServer) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := s.pushCode
	s.mu.Unlock()
	if code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c, _ := s.acceptPush(r, true)
	if c == nil {
		return
	}
	defer s.removePush(c)

	// Drain client frames; pongs need no answer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.removePush(c)
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

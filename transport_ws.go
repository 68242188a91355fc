package sherpa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WSEventSource receives push messages over a WebSocket and dispatches them
// into an Events table. Pings are answered with pongs and config messages
// adjust the reconnect intervals.
type WSEventSource struct {
	*reconnector
	events *Events
	auth   *AuthState
	dialer *websocket.Dialer
}

var _ Pusher = (*WSEventSource)(nil)

// NewWSEventSource returns an unconnected WebSocket event source. URL in opts
// may use the http or https scheme. dialer may be nil for
// websocket.DefaultDialer.
func NewWSEventSource(events *Events, auth *AuthState, dialer *websocket.Dialer, opts PushOptions) *WSEventSource {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if auth == nil {
		auth = &AuthState{}
	}
	switch {
	case strings.HasPrefix(opts.URL, "http://"):
		opts.URL = "ws://" + strings.TrimPrefix(opts.URL, "http://")
	case strings.HasPrefix(opts.URL, "https://"):
		opts.URL = "wss://" + strings.TrimPrefix(opts.URL, "https://")
	}
	ws := &WSEventSource{events: events, auth: auth, dialer: dialer}
	ws.reconnector = newReconnector(mergePushOptions(opts), ws.connect)
	return ws
}

func (s *WSEventSource) connect(ctx context.Context, open func()) (bool, error) {
	endpoint, err := s.endpoint(s.auth)
	if err != nil {
		return false, err
	}
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket: %s: %w", resp.Status, err)
		}
		return false, err
	}
	defer conn.Close()
	open()

	// Unblock ReadMessage when the source is closed.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	defer func() {
		close(stop)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout),
			)
			conn.Close()
		case <-stop:
		}
	}()

	return s.readPump(conn)
}

// readPump reads messages until the connection ends.
func (s *WSEventSource) readPump(conn *websocket.Conn) (delivered bool, err error) {
	log := s.options.Logger
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				err = nil
			}
			return delivered, err
		}

		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("dropping malformed push message", "err", err)
			continue
		}
		switch msg.Type {
		case TypePush:
			if err := s.events.Dispatch(msg.Event, msg.Data); err != nil {
				log.Warn("dropping event", "event", msg.Event, "err", err)
				continue
			}
			delivered = true
		case TypePing:
			pong, _ := json.Marshal(PongMessage{Type: TypePong})
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return delivered, err
			}
		case TypeConfig:
			var cfg ConfigMessage
			if err := json.Unmarshal(data, &cfg); err != nil {
				log.Warn("dropping malformed config message", "err", err)
				continue
			}
			s.setInterval(
				time.Duration(cfg.ReconnectInterval)*time.Millisecond,
				time.Duration(cfg.ReconnectMaxInterval)*time.Millisecond,
			)
		default:
			log.Debug("ignoring push message", "type", msg.Type)
		}
	}
}


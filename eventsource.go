package sherpa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EventSource receives server-sent events and dispatches them into an
// Events table. The credential is sent as query parameter because the
// stream is a plain GET.
type EventSource struct {
	*reconnector
	events *Events
	auth   *AuthState
	client *http.Client
}

var _ Pusher = (*EventSource)(nil)

// NewEventSource returns an unconnected event source. Call Start to connect.
// client may be nil for http.DefaultClient; it must not set a total timeout.
func NewEventSource(events *Events, auth *AuthState, client *http.Client, opts PushOptions) *EventSource {
	if client == nil {
		client = http.DefaultClient
	}
	if auth == nil {
		auth = &AuthState{}
	}
	es := &EventSource{events: events, auth: auth, client: client}
	es.reconnector = newReconnector(mergePushOptions(opts), es.connect)
	return es
}

func (es *EventSource) connect(ctx context.Context, open func()) (bool, error) {
	endpoint, err := es.endpoint(es.auth)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := es.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return false, fmt.Errorf("event stream: unexpected content type %q", ct)
	}
	open()
	return es.read(resp.Body)
}

// maxEventSize bounds a single line and the data of a single event.
const maxEventSize = 1 << 20

// read parses the stream until it ends. Events that fail to dispatch are
// logged and dropped. A line or event larger than maxEventSize ends the
// connection.
func (es *EventSource) read(r io.Reader) (delivered bool, err error) {
	log := es.options.Logger
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	var event string
	var data []string
	size := 0
	for sc.Scan() {
		line := sc.Text()

		if line == "" {
			if len(data) > 0 {
				name := event
				if name == "" {
					name = "message"
				}
				if derr := es.events.Dispatch(name, []byte(strings.Join(data, "\n"))); derr != nil {
					log.Warn("dropping event", "event", name, "err", derr)
				} else {
					delivered = true
				}
			}
			event, data, size = "", nil, 0
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			size += len(value) + 1
			if size > maxEventSize {
				return delivered, fmt.Errorf("event stream: event larger than %d bytes", maxEventSize)
			}
			data = append(data, value)
		case "retry":
			if ms, perr := strconv.Atoi(value); perr == nil && ms > 0 {
				es.setInterval(time.Duration(ms)*time.Millisecond, 0)
			}
		}
	}
	return delivered, sc.Err()
}

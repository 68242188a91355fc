package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// PushStatus is the state of a push connection.
type PushStatus int

const (
	PushIdle PushStatus = iota
	PushConnecting
	PushOpen
	// PushFailed means a connection attempt failed before the connection
	// opened. No automatic reconnect is made; call Reconnect.
	PushFailed
	PushClosed
)

func (s PushStatus) String() string {
	switch s {
	case PushIdle:
		return "idle"
	case PushConnecting:
		return "connecting"
	case PushOpen:
		return "open"
	case PushFailed:
		return "failed"
	case PushClosed:
		return "closed"
	}
	return fmt.Sprintf("PushStatus(%d)", int(s))
}

// Pusher is a long-lived connection delivering events into an Events table.
type Pusher interface {
	// Start connects unless a connection is already running.
	Start()
	// Reconnect is the manual retry after PushFailed. It is Start.
	Reconnect()
	Status() PushStatus
	Close() error
}

// PushOptions configures a push connection.
type PushOptions struct {
	// URL of the event endpoint.
	URL string
	// CredentialParam is the query parameter carrying the auth token.
	// Default: "password"
	CredentialParam string
	// ReconnectInterval is the delay before reconnecting a connection that
	// was open. Default: 1s
	ReconnectInterval time.Duration
	// ReconnectMaxInterval caps the delay, which doubles while connections
	// drop before delivering any event. Default: 30s
	ReconnectMaxInterval time.Duration
	// OnStatus is called on every status change. err is set for PushFailed
	// and for reconnects. It must not call Close.
	OnStatus func(status PushStatus, err error)
	// Logger receives connection events. Default: slog.Default()
	Logger *slog.Logger
}

func defaultPushOptions() PushOptions {
	return PushOptions{
		CredentialParam:      "password",
		ReconnectInterval:    time.Second,
		ReconnectMaxInterval: 30 * time.Second,
	}
}

func mergePushOptions(o PushOptions) PushOptions {
	options := defaultPushOptions()
	options.URL = o.URL
	if o.CredentialParam != "" {
		options.CredentialParam = o.CredentialParam
	}
	if o.ReconnectInterval > 0 {
		options.ReconnectInterval = o.ReconnectInterval
	}
	if o.ReconnectMaxInterval > 0 {
		options.ReconnectMaxInterval = o.ReconnectMaxInterval
	}
	options.OnStatus = o.OnStatus
	options.Logger = o.Logger
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return options
}

// connectFunc runs one connection until it ends. It calls open once the
// connection is established; delivered reports whether any event arrived.
type connectFunc func(ctx context.Context, open func()) (delivered bool, err error)

// reconnector implements the reconnect policy shared by the push
// transports: reconnect automatically only when the previous connection had
// opened, otherwise report PushFailed and wait for Reconnect.
type reconnector struct {
	options PushOptions
	connect connectFunc

	mu       sync.Mutex
	status   PushStatus
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

func newReconnector(options PushOptions, connect connectFunc) *reconnector {
	return &reconnector{
		options:  options,
		connect:  connect,
		interval: options.ReconnectInterval,
	}
}

func (r *reconnector) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

func (r *reconnector) Reconnect() {
	r.Start()
}

func (r *reconnector) Status() PushStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *reconnector) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	r.setStatus(PushClosed, nil)
	return nil
}

// setInterval applies a server-sent reconnect configuration.
func (r *reconnector) setInterval(interval, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if interval > 0 {
		r.options.ReconnectInterval = interval
		r.interval = interval
	}
	if max > 0 {
		r.options.ReconnectMaxInterval = max
	}
}

func (r *reconnector) setStatus(status PushStatus, err error) {
	r.mu.Lock()
	changed := r.status != status
	r.status = status
	r.mu.Unlock()
	if changed && r.options.OnStatus != nil {
		r.options.OnStatus(status, err)
	}
}

func (r *reconnector) run(ctx context.Context, done chan struct{}) {
	log := r.options.Logger
	defer close(done)

	for {
		r.setStatus(PushConnecting, nil)
		opened := false
		delivered, err := r.connect(ctx, func() {
			opened = true
			r.setStatus(PushOpen, nil)
		})
		if ctx.Err() != nil {
			return
		}
		if !opened {
			log.Warn("push connection failed", "url", r.options.URL, "err", err)
			// Allow Reconnect from the status callback on.
			r.mu.Lock()
			r.cancel()
			r.cancel = nil
			closed := r.closed
			if !closed {
				r.status = PushFailed
			}
			r.mu.Unlock()
			if !closed && r.options.OnStatus != nil {
				r.options.OnStatus(PushFailed, err)
			}
			return
		}
		if err == nil {
			err = errors.New("connection closed")
		}

		r.mu.Lock()
		if delivered {
			r.interval = r.options.ReconnectInterval
		}
		delay := r.interval
		r.interval = min(r.interval*2, r.options.ReconnectMaxInterval)
		r.mu.Unlock()

		log.Info("push connection lost, reconnecting", "url", r.options.URL, "err", err, "delay", delay)
		r.setStatus(PushConnecting, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// endpoint returns the URL with the credential added as query parameter.
func (r *reconnector) endpoint(auth *AuthState) (string, error) {
	u, err := url.Parse(r.options.URL)
	if err != nil {
		return "", err
	}
	if token := auth.Token(); token != "" {
		q := u.Query()
		q.Set(r.options.CredentialParam, token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

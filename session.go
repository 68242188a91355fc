package sherpa

import (
	"context"
	"sync"
)

// Session ties a client to its push connection. Work run through Authed
// gets the interceptor, error reporting and login retries; the push
// connection is started after the first unit of work that succeeds, so it
// connects with a credential known to be accepted.
type Session struct {
	client *Client
	events *Events
	push   Pusher
	coord  *Coordinator

	startOnce sync.Once
	closeOnce sync.Once
}

// NewSession returns a session for client. push may be nil for a session
// without push events.
func NewSession(client *Client, events *Events, push Pusher) *Session {
	s := &Session{
		client: client,
		events: events,
		push:   push,
	}
	s.coord = NewCoordinator(client, s.startPush)
	return s
}

// Client returns the session's client.
func (s *Session) Client() *Client {
	return s.client
}

// Events returns the session's event table.
func (s *Session) Events() *Events {
	return s.events
}

// Push returns the session's push connection, nil if there is none.
func (s *Session) Push() Pusher {
	return s.push
}

func (s *Session) startPush() {
	if s.push == nil {
		return
	}
	s.startOnce.Do(s.push.Start)
}

// Authed runs work, prompting for login and retrying on credential failures.
func (s *Session) Authed(ctx context.Context, work func(ctx context.Context) error) error {
	_, err := s.coord.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, work(ctx)
	})
	return err
}

// AuthedValue is Authed for work returning a value.
func AuthedValue[T any](ctx context.Context, s *Session, work func(ctx context.Context) (T, error)) (T, error) {
	r, err := s.coord.Do(ctx, func(ctx context.Context) (any, error) {
		return work(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := r.(T)
	return t, nil
}

// Close closes the push connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.push != nil {
			err = s.push.Close()
		}
	})
	return err
}

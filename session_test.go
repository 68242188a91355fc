package sherpa

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPusher records Start calls.
type countingPusher struct {
	starts atomic.Int32
	closed atomic.Bool
}

func (p *countingPusher) Start()     { p.starts.Add(1) }
func (p *countingPusher) Reconnect() { p.Start() }
func (p *countingPusher) Status() PushStatus {
	if p.closed.Load() {
		return PushClosed
	}
	return PushIdle
}
func (p *countingPusher) Close() error {
	p.closed.Store(true)
	return nil
}

func TestSessionStartsPushAfterFirstSuccess(t *testing.T) {
	srv := authServer()
	defer srv.Close()

	c := NewClient(nil, Options{
		BaseURL:    srv.BaseURL(),
		CSRFHeader: "x-auth",
		Login: func(ctx context.Context, prevError string) (string, error) {
			return "good", nil
		},
	})
	push := &countingPusher{}
	s := NewSession(c, NewEvents(nil), push)

	err := s.Authed(context.Background(), func(ctx context.Context) error {
		return NewError("user:error", "fails")
	})
	require.Equal(t, "user:error", CodeOf(err), "error: %v", err)
	assert.Zero(t, push.starts.Load(), "push started after failure")

	for range 3 {
		r, err := AuthedValue(context.Background(), s, func(ctx context.Context) (string, error) {
			r, err := c.Call(ctx, "Secret", nil, nil, []TypeWords{{String}})
			if err != nil {
				return "", err
			}
			return r.(string), nil
		})
		require.NoError(t, err)
		require.Equal(t, "treasure", r)
	}
	assert.Equal(t, int32(1), push.starts.Load(), "push starts")

	s.Close()
	s.Close()
	assert.True(t, push.closed.Load(), "push not closed")
}

func TestSessionBoundsLoginAttempts(t *testing.T) {
	srv := authServer()
	defer srv.Close()

	var logins atomic.Int32
	c := NewClient(nil, Options{
		BaseURL:          srv.BaseURL(),
		CSRFHeader:       "x-auth",
		MaxLoginAttempts: 2,
		Login: func(ctx context.Context, prevError string) (string, error) {
			logins.Add(1)
			return "wrong", nil
		},
	})
	push := &countingPusher{}
	s := NewSession(c, NewEvents(nil), push)

	err := s.Authed(context.Background(), func(ctx context.Context) error {
		_, err := c.Call(ctx, "Secret", nil, nil, []TypeWords{{String}})
		return err
	})
	assert.Equal(t, CodeBadAuth, CodeOf(err), "error: %v", err)
	assert.Equal(t, int32(2), logins.Load(), "login calls")
	assert.Equal(t, 3, srv.Calls("Secret"), "server calls")
	assert.Zero(t, push.starts.Load(), "push started after failure")
}

func TestSessionWithEventSource(t *testing.T) {
	srv := authServer()
	defer srv.Close()

	c := NewClient(testRegistry(t), Options{
		BaseURL:    srv.BaseURL(),
		CSRFHeader: "x-auth",
		Login: func(ctx context.Context, prevError string) (string, error) {
			return "good", nil
		},
	})
	ev, ch := newStepEvents(t)
	es := NewEventSource(ev, c.Auth(), nil, PushOptions{URL: srv.URL + "/events"})
	s := NewSession(c, ev, es)
	defer s.Close()

	err := s.Authed(context.Background(), func(ctx context.Context) error {
		_, err := c.Call(ctx, "Secret", nil, nil, []TypeWords{{String}})
		return err
	})
	require.NoError(t, err)
	waitFor(t, "open", func() bool { return es.Status() == PushOpen })
	assert.Equal(t, "good", srv.PushQuery("password"), "event stream credential")

	srv.Push("step", map[string]any{"Name": "x", "Output": nil})
	e := receive(t, ch)
	assert.Equal(t, "x", e.Name)
	assert.Equal(t, Pusher(es), s.Push())
	assert.Same(t, ev, s.Events())
	assert.Same(t, c, s.Client())
}

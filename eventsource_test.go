package sherpa

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrasen/sherpa/lifecycle"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, "timeout waiting for %s", what)
}

// statusRecorder collects push status changes.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []PushStatus
}

func (r *statusRecorder) record(status PushStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) count(status PushStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == status {
			n++
		}
	}
	return n
}

func (r *statusRecorder) last() PushStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return PushIdle
	}
	return r.statuses[len(r.statuses)-1]
}

func newStepEvents(t *testing.T) (*Events, chan stepEvent) {
	t.Helper()
	ev := NewEvents(testRegistry(t))
	steps := lifecycle.NewStream[stepEvent]()
	require.NoError(t, Bind(ev, "step", "Step", steps))
	ch := make(chan stepEvent, 16)
	steps.Subscribe(func(e stepEvent) { ch <- e })
	return ev, ch
}

func receive(t *testing.T, ch chan stepEvent) stepEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
	return stepEvent{}
}

func TestEventSourceDelivers(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	ev, ch := newStepEvents(t)
	var rec statusRecorder
	es := NewEventSource(ev, NewAuthState("pw"), nil, PushOptions{URL: srv.URL + "/events", OnStatus: rec.record})
	defer es.Close()
	es.Start()
	es.Start()
	waitFor(t, "open", func() bool { return es.Status() == PushOpen })

	assert.Equal(t, "pw", srv.PushQuery("password"), "credential")

	srv.Keepalive()
	srv.Push("unbound", map[string]any{"x": 1})
	srv.PushRaw("step", []byte(`{"Name":"bad","Output":null,"Extra":1}`))
	srv.PushRaw("step", []byte("{\"Name\":\"clone\",\n\"Output\":[\"ok\"]}"))

	e := receive(t, ch)
	assert.Equal(t, stepEvent{Name: "clone", Output: []string{"ok"}}, e)
	assert.Equal(t, 1, srv.Connects(), "connects")

	es.Close()
	assert.Equal(t, PushClosed, es.Status())
	assert.Equal(t, 1, rec.count(PushOpen), "statuses %v", rec.statuses)
	assert.Equal(t, 1, rec.count(PushClosed), "statuses %v", rec.statuses)
}

func TestEventSourceReconnectsAfterOpen(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	ev, ch := newStepEvents(t)
	es := NewEventSource(ev, nil, nil, PushOptions{
		URL:               srv.URL + "/events",
		ReconnectInterval: 10 * time.Millisecond,
	})
	defer es.Close()
	es.Start()
	waitFor(t, "open", func() bool { return es.Status() == PushOpen })

	srv.DropPush()
	waitFor(t, "reconnect", func() bool { return srv.Connects() == 2 && es.Status() == PushOpen })

	srv.Push("step", map[string]any{"Name": "again", "Output": nil})
	assert.Equal(t, "again", receive(t, ch).Name)
}

func TestEventSourceNoAutoReconnectBeforeOpen(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.RejectPush(http.StatusServiceUnavailable)

	ev, _ := newStepEvents(t)
	var rec statusRecorder
	es := NewEventSource(ev, nil, nil, PushOptions{
		URL:               srv.URL + "/events",
		ReconnectInterval: 10 * time.Millisecond,
		OnStatus:          rec.record,
	})
	defer es.Close()
	es.Start()
	waitFor(t, "failed", func() bool { return es.Status() == PushFailed })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, PushFailed, es.Status(), "reconnected automatically")
	assert.Equal(t, 1, rec.count(PushConnecting), "statuses %v", rec.statuses)

	srv.RejectPush(0)
	es.Reconnect()
	waitFor(t, "open after manual reconnect", func() bool { return es.Status() == PushOpen })
	assert.Equal(t, 1, srv.Connects(), "connects")
}

func TestEventSourceCloseDuringFailure(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.RejectPush(http.StatusServiceUnavailable)

	ev, _ := newStepEvents(t)
	for range 20 {
		var rec statusRecorder
		es := NewEventSource(ev, nil, nil, PushOptions{URL: srv.URL + "/events", OnStatus: rec.record})
		es.Start()
		require.NoError(t, es.Close())
		assert.Equal(t, PushClosed, es.Status())
		assert.Equal(t, PushClosed, rec.last(), "status reported after Close: %v", rec.statuses)
	}
}

func TestEventSourceRetryField(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	ev, _ := newStepEvents(t)
	es := NewEventSource(ev, nil, nil, PushOptions{URL: srv.URL + "/events"})
	defer es.Close()
	es.Start()
	waitFor(t, "open", func() bool { return es.Status() == PushOpen })

	srv.ConfigurePush(20, 0)
	waitFor(t, "retry applied", func() bool {
		es.mu.Lock()
		defer es.mu.Unlock()
		return es.interval == 20*time.Millisecond
	})

	srv.DropPush()
	waitFor(t, "fast reconnect", func() bool { return srv.Connects() == 2 })
}

func TestEventSourceReadLimits(t *testing.T) {
	ev, ch := newStepEvents(t)
	es := NewEventSource(ev, nil, nil, PushOptions{})

	delivered, err := es.read(strings.NewReader("event: step\r\ndata: {\"Name\":\"a\",\"Output\":null}\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, "a", receive(t, ch).Name)

	_, err = es.read(strings.NewReader("data: " + strings.Repeat("x", maxEventSize)))
	assert.Error(t, err, "unterminated line beyond the limit")

	line := "data: " + strings.Repeat("x", 1<<10) + "\n"
	_, err = es.read(strings.NewReader("event: step\n" + strings.Repeat(line, 2<<10)))
	assert.Error(t, err, "event data beyond the limit")
	assert.Empty(t, ch)
}

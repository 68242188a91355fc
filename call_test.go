package sherpa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *TestServer, opts ...Options) *Client {
	t.Helper()
	o := Options{BaseURL: srv.BaseURL()}
	if len(opts) > 0 {
		o = mergeOptions(o, opts[0])
	}
	return NewClient(testRegistry(t), o)
}

func TestCallSuccess(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	var mu sync.Mutex
	var got []any
	srv.Handle("Echo", func(r *http.Request, params []any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		got = params
		return map[string]any{"Name": params[0], "Count": 3}, nil
	})

	c := newTestClient(t, srv)
	r, err := c.Call(context.Background(), "Echo", []any{"x", "7"},
		[]TypeWords{{String}, {Int64s}},
		[]TypeWords{{Ref("Result")}},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Name": "x", "Count": int64(3)}, r)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"x", "7"}, got, "params seen by the server")
}

func TestCallMultipleResults(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Pair", func(r *http.Request, params []any) (any, error) {
		return []any{"a", 1}, nil
	})
	srv.Handle("Short", func(r *http.Request, params []any) (any, error) {
		return []any{"a"}, nil
	})

	c := newTestClient(t, srv)
	types := []TypeWords{{String}, {Int32}}
	r, err := c.Call(context.Background(), "Pair", nil, nil, types)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(1)}, r)

	_, err = c.Call(context.Background(), "Short", nil, nil, types)
	assert.Equal(t, CodeBadTypes, CodeOf(err), "error: %v", err)
}

func TestCallVoid(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Void", func(r *http.Request, params []any) (any, error) {
		return nil, nil
	})
	srv.Handle("NotVoid", func(r *http.Request, params []any) (any, error) {
		return 1, nil
	})

	c := newTestClient(t, srv)
	r, err := c.Call(context.Background(), "Void", nil, nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, r)
	_, err = c.Call(context.Background(), "NotVoid", nil, nil, nil)
	assert.Equal(t, CodeBadTypes, CodeOf(err), "error: %v", err)
}

func TestCallBadParamsNeverSends(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Set", func(r *http.Request, params []any) (any, error) {
		return nil, nil
	})

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "Set", []any{"7"}, []TypeWords{{Int32}}, nil)
	require.Equal(t, CodeBadParams, CodeOf(err), "error: %v", err)
	var ve *VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "params[0]", ve.Path)

	_, err = c.Call(context.Background(), "Set", []any{1, 2}, []TypeWords{{Int32}}, nil)
	assert.Equal(t, CodeBadParams, CodeOf(err), "wrong parameter count: %v", err)

	assert.Zero(t, srv.Calls("Set"), "server calls")
}

func TestCallSkipChecks(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Loose", func(r *http.Request, params []any) (any, error) {
		return "not a number", nil
	})

	c := newTestClient(t, srv, Options{SkipParamCheck: true, SkipReturnCheck: true})
	r, err := c.Call(context.Background(), "Loose", []any{"7"}, []TypeWords{{Int32}}, []TypeWords{{Int32}})
	require.NoError(t, err)
	assert.Equal(t, "not a number", r)
}

func TestCallServerError(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Fail", func(r *http.Request, params []any) (any, error) {
		return nil, NewError("user:error", "repository not found")
	})

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "Fail", nil, nil, nil)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "user:error", se.Code)
	assert.Equal(t, "repository not found", se.Message)
}

func TestCallUnknownFunction(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "Missing", nil, nil, nil)
	assert.Equal(t, CodeBadFunction, CodeOf(err), "error: %v", err)
	_, err = c.CallFunc(context.Background(), "NotInSchema")
	assert.Equal(t, CodeBadFunction, CodeOf(err), "CallFunc: %v", err)
}

func TestCallResponseClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    string
	}{
		{"http status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "oops", http.StatusInternalServerError)
		}, CodeHTTP},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": `))
		}, CodeBadResponse},
		{"missing result", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"other": 1}`))
		}, CodeBadResponse},
		{"bad types", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": "x"}`))
		}, CodeBadTypes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			c := NewClient(nil, Options{BaseURL: ts.URL})
			_, err := c.Call(context.Background(), "Fn", nil, nil, []TypeWords{{Int32}})
			assert.Equal(t, tt.code, CodeOf(err), "error: %v", err)
			if tt.code == CodeHTTP {
				var se *Error
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusInternalServerError, se.Status)
			}
		})
	}
}

func TestCallNullResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": null}`))
	}))
	defer ts.Close()

	c := NewClient(nil, Options{BaseURL: ts.URL})
	r, err := c.Call(context.Background(), "Fn", nil, nil, []TypeWords{{Nullable, String}})
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestCallResultToleratesUnknownKeys(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"Name": "x", "Extra": 1}}`))
	}))
	defer ts.Close()

	c := NewClient(testRegistry(t), Options{BaseURL: ts.URL})
	r, err := c.Call(context.Background(), "Get", nil, nil, []TypeWords{{Ref("Result")}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Name": "x"}, r)
}

func TestCallConnectionError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(nil, Options{BaseURL: url})
	_, err := c.Call(context.Background(), "Fn", nil, nil, nil)
	assert.Equal(t, CodeConnection, CodeOf(err), "error: %v", err)
}

func TestCallTimeoutAndAbort(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()

	c := NewClient(nil, Options{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Call(context.Background(), "Slow", nil, nil, nil)
	assert.Equal(t, CodeTimeout, CodeOf(err), "error: %v", err)

	c = NewClient(nil, Options{BaseURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = c.Call(ctx, "Slow", nil, nil, nil)
	assert.Equal(t, CodeAborted, CodeOf(err), "error: %v", err)
}

func TestCallHeaders(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()

	var mu sync.Mutex
	var csrf, static, ctype string
	srv.Handle("Who", func(r *http.Request, params []any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		csrf = r.Header.Get("x-csrf")
		static = r.Header.Get("x-static")
		ctype = r.Header.Get("Content-Type")
		return nil, nil
	})

	c := newTestClient(t, srv, Options{
		CSRFHeader: "x-csrf",
		Header:     http.Header{"X-Static": {"yes"}},
	}).WithAuthToken("secret")
	_, err := c.Call(context.Background(), "Who", nil, nil, nil)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "secret", csrf)
	assert.Equal(t, "yes", static)
	assert.Equal(t, "application/json", ctype)
}

func TestCallFuncFromSchema(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("_docs", func(r *http.Request, params []any) (any, error) {
		s, err := ParseSchema([]byte(testSchema))
		return s, err
	})
	srv.Handle("CreateBuild", func(r *http.Request, params []any) (any, error) {
		return map[string]any{
			"ID":       1,
			"Status":   "new",
			"Start":    nil,
			"Priority": 10,
		}, nil
	})

	c := NewClient(nil, Options{BaseURL: srv.BaseURL()})
	schema, err := c.FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ding", schema.Name)
	assert.Len(t, schema.Sections, 1)
	reg, err := schema.Registry()
	require.NoError(t, err)

	c = NewClient(reg, Options{BaseURL: srv.BaseURL()})
	r, err := c.CallFunc(context.Background(), "CreateBuild", "pw", "ding", "main")
	require.NoError(t, err)
	assert.Equal(t, "new", r.(map[string]any)["Status"])
	_, err = c.CallFunc(context.Background(), "CreateBuild", "pw")
	assert.Equal(t, CodeBadParams, CodeOf(err), "error: %v", err)
}

func TestMiddlewareChainExecutionOrder(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Ping", func(r *http.Request, params []any) (any, error) {
		return "pong", nil
	})

	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *Request) (any, error) {
				assert.Same(t, req, RequestFromContext(ctx), "%s: request not in context", name)
				assert.NotEmpty(t, req.ID, "%s: request id", name)
				order = append(order, name+"-before")
				r, err := next(ctx, req)
				order = append(order, name+"-after")
				return r, err
			}
		}
	}

	c := newTestClient(t, srv)
	c.Use(mw("mw1"), mw("mw2"), LogCalls())
	_, err := c.Call(context.Background(), "Ping", nil, nil, []TypeWords{{String}})
	require.NoError(t, err)
	assert.Equal(t, []string{"mw1-before", "mw2-before", "mw2-after", "mw1-after"}, order)
}

func TestRequestIDsUnique(t *testing.T) {
	srv := NewTestServer()
	defer srv.Close()
	srv.Handle("Ping", func(r *http.Request, params []any) (any, error) {
		return nil, nil
	})

	seen := map[string]bool{}
	c := newTestClient(t, srv)
	c.Use(func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			assert.False(t, seen[req.ID], "duplicate request id %s", req.ID)
			seen[req.ID] = true
			return next(ctx, req)
		}
	})
	for range 5 {
		_, err := c.Call(context.Background(), "Ping", nil, nil, nil)
		require.NoError(t, err)
	}
}

package sherpa

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Client calls functions of a sherpa API. A Client is safe for concurrent use.
type Client struct {
	options    *Options
	auth       *AuthState
	registry   *Registry
	middleware []Middleware
}

// NewClient creates a client for the API described by registry. An optional
// Options can be passed; zero fields keep their defaults.
func NewClient(registry *Registry, opts ...Options) *Client {
	options := defaultOptions()
	if len(opts) > 0 {
		options = mergeOptions(options, opts[0])
	}
	if options.BaseURL != "" && !strings.HasSuffix(options.BaseURL, "/") {
		options.BaseURL += "/"
	}
	return &Client{
		options:  &options,
		auth:     &AuthState{},
		registry: registry,
	}
}

// WithAuthToken returns a client sharing c's options with its own auth state
// holding token.
func (c *Client) WithAuthToken(token string) *Client {
	return &Client{
		options:    c.options,
		auth:       NewAuthState(token),
		registry:   c.registry,
		middleware: c.middleware,
	}
}

// WithOptions returns a client sharing c's auth state with o overlaid on a
// copy of c's options.
func (c *Client) WithOptions(o Options) *Client {
	options := mergeOptions(*c.options, o)
	if options.BaseURL != "" && !strings.HasSuffix(options.BaseURL, "/") {
		options.BaseURL += "/"
	}
	return &Client{
		options:    &options,
		auth:       c.auth,
		registry:   c.registry,
		middleware: c.middleware,
	}
}

// Use adds middleware to the chain.
// Middleware is executed in the order it is added. Use must not be called
// concurrently with calls.
func (c *Client) Use(mw ...Middleware) {
	c.middleware = append(c.middleware, mw...)
}

// Auth returns the client's auth state.
func (c *Client) Auth() *AuthState {
	return c.auth
}

// Registry returns the client's type registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// BaseURL returns the URL function names are appended to.
func (c *Client) BaseURL() string {
	return c.options.BaseURL
}

// Call calls fn with params. Parameters are verified against paramTypes
// before anything is sent, the result is verified against resultTypes. With
// zero result types the result is nil; with one it is the verified value;
// with more it is a []any with one verified value per type.
func (c *Client) Call(ctx context.Context, fn string, params []any, paramTypes, resultTypes []TypeWords) (any, error) {
	req := &Request{
		ID:          ulid.Make().String(),
		Function:    fn,
		Params:      params,
		ParamTypes:  paramTypes,
		ResultTypes: resultTypes,
	}
	ctx = withRequest(ctx, req)
	ctx = withLogger(ctx, c.options.logger())
	return c.buildHandler()(ctx, req)
}

// CallFunc calls fn with the parameter and result types declared for it in
// the registry.
func (c *Client) CallFunc(ctx context.Context, fn string, params ...any) (any, error) {
	f, ok := c.registry.Function(fn)
	if !ok {
		return nil, NewError(CodeBadFunction, fmt.Sprintf("function %s not in schema", fn))
	}
	return c.Call(ctx, fn, params, f.ParamTypes(), f.ReturnTypes())
}

// FetchSchema retrieves the API description through the "_docs" function.
func (c *Client) FetchSchema(ctx context.Context) (*Schema, error) {
	r, err := c.Call(ctx, "_docs", nil, nil, []TypeWords{{Any}})
	if err != nil {
		return nil, err
	}
	s, err := As[*Schema](r)
	if err != nil {
		return nil, errBadResponse("bad schema from server", err)
	}
	return s, nil
}

// buildHandler creates the chain for a call:
// middleware -> login retries (if configured) -> dispatch.
// Middleware is outermost (executed first on request, last on response).
func (c *Client) buildHandler() Handler {
	handler := c.dispatch

	if c.options.Login != nil {
		dispatch := handler
		co := newCallCoordinator(c)
		handler = func(ctx context.Context, req *Request) (any, error) {
			if coordinated(ctx, c.auth) {
				return dispatch(ctx, req)
			}
			return co.Do(ctx, func(ctx context.Context) (any, error) {
				return dispatch(ctx, req)
			})
		}
	}

	for i := len(c.middleware) - 1; i >= 0; i-- {
		handler = c.middleware[i](handler)
	}
	return handler
}

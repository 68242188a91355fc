package sherpa

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultHTTPConnectTimeout = 5 * time.Second
const defaultHTTPTLSTimeout = 5 * time.Second

// LoginFunc prompts for a credential. prevError is the server's message when
// the previous credential was rejected, empty when no credential was set.
type LoginFunc func(ctx context.Context, prevError string) (token string, err error)

// Options configures a Client.
type Options struct {
	// BaseURL is prefixed to function names, e.g. "https://host/api/".
	BaseURL string
	// HTTPClient performs calls. Default: a client with connect and TLS
	// handshake timeouts.
	HTTPClient *http.Client
	// Verify relaxes null handling. Default: DefaultVerifyOptions.
	Verify *VerifyOptions
	// SkipParamCheck sends parameters without verifying them.
	SkipParamCheck bool
	// SkipReturnCheck returns results without verifying them.
	SkipReturnCheck bool
	// Timeout limits each call. 0 means no timeout.
	Timeout time.Duration
	// Login is called when a call fails with CodeNoAuth or CodeBadAuth. The
	// call is retried with the new token. Without Login, auth errors are
	// returned to the caller.
	Login LoginFunc
	// MaxLoginAttempts bounds the prompts for a single unit of work. Default: 5
	MaxLoginAttempts int
	// CSRFHeader is the request header carrying the auth token, if any.
	CSRFHeader string
	// Header is added to every call, e.g. a static credential.
	Header http.Header
	// Interceptor is notified when authed work starts and ends.
	Interceptor Interceptor
	// OnError is called for failures of authed work, except for CodeNoAuth.
	OnError func(err error)
	// Logger receives call traces. Default: slog.Default()
	Logger *slog.Logger
}

func defaultOptions() Options {
	return Options{
		MaxLoginAttempts: 5,
	}
}

// mergeOptions overlays the non-zero fields of o onto base.
func mergeOptions(base, o Options) Options {
	if o.BaseURL != "" {
		base.BaseURL = o.BaseURL
	}
	if o.HTTPClient != nil {
		base.HTTPClient = o.HTTPClient
	}
	if o.Verify != nil {
		base.Verify = o.Verify
	}
	if o.SkipParamCheck {
		base.SkipParamCheck = true
	}
	if o.SkipReturnCheck {
		base.SkipReturnCheck = true
	}
	if o.Timeout > 0 {
		base.Timeout = o.Timeout
	}
	if o.Login != nil {
		base.Login = o.Login
	}
	if o.MaxLoginAttempts > 0 {
		base.MaxLoginAttempts = o.MaxLoginAttempts
	}
	if o.CSRFHeader != "" {
		base.CSRFHeader = o.CSRFHeader
	}
	if o.Header != nil {
		h := base.Header.Clone()
		if h == nil {
			h = http.Header{}
		}
		for k, vs := range o.Header {
			h[k] = append([]string(nil), vs...)
		}
		base.Header = h
	}
	if o.Interceptor != nil {
		base.Interceptor = o.Interceptor
	}
	if o.OnError != nil {
		base.OnError = o.OnError
	}
	if o.Logger != nil {
		base.Logger = o.Logger
	}
	return base
}

func (o *Options) verifyOptions() VerifyOptions {
	if o.Verify != nil {
		return *o.Verify
	}
	return DefaultVerifyOptions
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return defaultHTTPClient
}

var defaultHTTPClient = func() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{Transport: transport}
}()

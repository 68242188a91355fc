package sherpa

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// AuthPhase is the state of an AuthState's login flow.
type AuthPhase int

const (
	// Idle means no login prompt is pending.
	Idle AuthPhase = iota
	// PromptPending means a login prompt is in progress; auth failures wait
	// for it instead of prompting again.
	PromptPending
)

func (p AuthPhase) String() string {
	if p == PromptPending {
		return "PromptPending"
	}
	return "Idle"
}

// AuthState holds the credential token and the pending login, if any. It is
// shared between a client and clients derived from it with WithOptions.
type AuthState struct {
	mu    sync.Mutex
	token string
	// gen increments whenever token changes.
	gen   uint64
	login *loginAttempt
}

type loginAttempt struct {
	done chan struct{}
	err  error
}

// NewAuthState returns an idle state holding token.
func NewAuthState(token string) *AuthState {
	return &AuthState{token: token}
}

// Token returns the current credential.
func (a *AuthState) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// SetToken replaces the current credential.
func (a *AuthState) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.gen++
}

func (a *AuthState) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// Phase returns whether a login prompt is pending.
func (a *AuthState) Phase() AuthPhase {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.login != nil {
		return PromptPending
	}
	return Idle
}

// awaitLogin waits for the pending login, starting one if the state is
// idle and the token has not changed since generation seen. The login runs
// detached from ctx so that an aborted caller does not abandon the prompt for
// the other callers waiting on it.
func (a *AuthState) awaitLogin(ctx context.Context, login LoginFunc, cause error, seen uint64) error {
	a.mu.Lock()
	la := a.login
	if la == nil && a.gen != seen {
		// A login finished while the failed attempt was in flight.
		a.mu.Unlock()
		return nil
	}
	if la == nil {
		la = &loginAttempt{done: make(chan struct{})}
		a.login = la
		var prev string
		if CodeOf(cause) == CodeBadAuth {
			var e *Error
			if errors.As(cause, &e) {
				prev = e.Message
			}
		}
		go a.runLogin(context.WithoutCancel(ctx), la, login, prev)
	}
	a.mu.Unlock()

	select {
	case <-la.done:
		return la.err
	case <-ctx.Done():
		return errAborted("login")
	}
}

func (a *AuthState) runLogin(ctx context.Context, la *loginAttempt, login LoginFunc, prev string) {
	token, err := login(ctx, prev)
	a.mu.Lock()
	if err == nil {
		a.token = token
		a.gen++
	}
	la.err = err
	a.login = nil
	a.mu.Unlock()
	close(la.done)
}

// Coordinator runs units of work, resolving credential failures with at
// most one login prompt per AuthState at a time.
type Coordinator struct {
	auth        *AuthState
	login       LoginFunc
	maxAttempts int
	interceptor Interceptor
	onError     func(error)
	onSuccess   func()
	logger      *slog.Logger
}

// newCallCoordinator returns the coordinator Client.Call uses: retries only,
// no interceptor or error reporting.
func newCallCoordinator(c *Client) *Coordinator {
	return &Coordinator{
		auth:        c.auth,
		login:       c.options.Login,
		maxAttempts: c.options.MaxLoginAttempts,
		logger:      c.options.logger(),
	}
}

// NewCoordinator returns a coordinator for the client's auth state, login
// function, interceptor and error reporter. onSuccess, if not nil, is called
// after each successful unit of work.
func NewCoordinator(c *Client, onSuccess func()) *Coordinator {
	return &Coordinator{
		auth:        c.auth,
		login:       c.options.Login,
		maxAttempts: c.options.MaxLoginAttempts,
		interceptor: c.options.Interceptor,
		onError:     c.options.OnError,
		onSuccess:   onSuccess,
		logger:      c.options.logger(),
	}
}

// Do runs work. When work fails with CodeNoAuth or CodeBadAuth and a login
// function is configured, Do waits for a login (prompting only if none is
// pending) and runs work again. A rejected new credential prompts again, up
// to the configured number of attempts. Other failures are returned as is.
//
// Calls made by work with a client sharing the coordinator's AuthState do not
// retry on their own, so the attempts bound the whole unit of work.
func (co *Coordinator) Do(ctx context.Context, work func(ctx context.Context) (any, error)) (any, error) {
	ctx = withCoordinated(ctx, co.auth)
	prompts := 0
	for {
		seen := co.auth.generation()
		result, err := co.attempt(ctx, work)
		if err == nil {
			if co.onSuccess != nil {
				co.onSuccess()
			}
			return result, nil
		}
		if CodeOf(err) != CodeNoAuth {
			co.report(err)
		}
		if !IsAuthError(err) || co.login == nil {
			return nil, err
		}
		if co.maxAttempts > 0 && prompts >= co.maxAttempts {
			co.logger.Warn("giving up after login attempts", "attempts", prompts, "code", CodeOf(err))
			return nil, err
		}
		prompts++
		co.logger.Debug("waiting for login", "code", CodeOf(err), "phase", co.auth.Phase())
		if lerr := co.auth.awaitLogin(ctx, co.login, err, seen); lerr != nil {
			co.report(lerr)
			return nil, lerr
		}
	}
}

func (co *Coordinator) attempt(ctx context.Context, work func(ctx context.Context) (any, error)) (result any, err error) {
	if co.interceptor != nil {
		ctx = co.interceptor.BeforeCall(ctx)
		defer func() {
			co.interceptor.AfterCall(ctx, err)
		}()
	}
	return work(ctx)
}

func (co *Coordinator) report(err error) {
	if co.onError != nil {
		co.onError(err)
	}
}

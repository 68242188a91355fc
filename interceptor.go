package sherpa

import "context"

// Interceptor lets the application show that authed work is in progress,
// e.g. by disabling a button. BeforeCall is called before each attempt of
// the work and may enrich the context. AfterCall is called when the attempt
// returns, on every path. Neither is called while a login prompt is pending.
type Interceptor interface {
	BeforeCall(ctx context.Context) context.Context
	AfterCall(ctx context.Context, err error)
}

// InterceptorFuncs adapts two functions to an Interceptor.
type InterceptorFuncs struct {
	Before func()
	After  func(err error)
}

func (f InterceptorFuncs) BeforeCall(ctx context.Context) context.Context {
	if f.Before != nil {
		f.Before()
	}
	return ctx
}

func (f InterceptorFuncs) AfterCall(ctx context.Context, err error) {
	if f.After != nil {
		f.After(err)
	}
}

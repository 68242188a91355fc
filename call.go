package sherpa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-json-experiment/json"
)

var errCallTimeout = errors.New("call timeout")

// dispatch verifies the parameters, performs the HTTP request and verifies
// the result.
func (c *Client) dispatch(ctx context.Context, req *Request) (any, error) {
	fn := req.Function
	params, err := c.verifyParams(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(callRequest{Params: params})
	if err != nil {
		return nil, WrapError(CodeBadData, "cannot marshal to JSON", err)
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.options.Timeout, errCallTimeout)
		defer cancel()
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.BaseURL+fn, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(CodeBadData, "creating request", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.options.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if c.options.CSRFHeader != "" {
		if token := c.auth.Token(); token != "" {
			hreq.Header.Set(c.options.CSRFHeader, token)
		}
	}

	resp, err := c.options.httpClient().Do(hreq)
	if err != nil {
		return nil, transportError(ctx, fn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode == http.StatusNotFound {
			return nil, errBadFunction(fn)
		}
		return nil, errHTTP(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, fn, err)
	}
	var cr callResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, errBadResponse("bad JSON from server", err)
	}
	if cr.Error != nil {
		return nil, NewError(cr.Error.Code, cr.Error.Message)
	}
	if cr.Result == nil {
		return nil, errBadResponse("invalid sherpa response object, missing 'result'", nil)
	}
	var result any
	if err := json.Unmarshal(cr.Result, &result); err != nil {
		return nil, errBadResponse("bad JSON from server", err)
	}
	if c.options.SkipReturnCheck {
		return result, nil
	}
	return c.verifyResult(fn, result, req.ResultTypes)
}

func (c *Client) verifyParams(req *Request) ([]any, error) {
	if c.options.SkipParamCheck {
		if req.Params == nil {
			return []any{}, nil
		}
		return req.Params, nil
	}
	if len(req.Params) != len(req.ParamTypes) {
		return nil, NewError(CodeBadParams, fmt.Sprintf("wrong number of parameters in sherpa call, saw %d != expected %d", len(req.Params), len(req.ParamTypes)))
	}
	params := make([]any, len(req.Params))
	for i, p := range req.Params {
		v, err := Verify(fmt.Sprintf("params[%d]", i), p, req.ParamTypes[i], Encode, false, c.registry, c.options.verifyOptions())
		if err != nil {
			return nil, WrapError(CodeBadParams, "invalid parameters for "+req.Function, err)
		}
		params[i] = v
	}
	return params, nil
}

func (c *Client) verifyResult(fn string, result any, types []TypeWords) (any, error) {
	badTypes := func(err error) error {
		return WrapError(CodeBadTypes, "bad types in result of "+fn, err)
	}
	opts := c.options.verifyOptions()
	switch len(types) {
	case 0:
		if l, ok := result.([]any); result != nil && !(ok && len(l) == 0) {
			return nil, badTypes(fmt.Errorf("function %s returned a value while prototype says it returns \"void\"", fn))
		}
		return nil, nil
	case 1:
		r, err := Verify("result", result, types[0], Decode, true, c.registry, opts)
		if err != nil {
			return nil, badTypes(err)
		}
		return r, nil
	}
	l, ok := result.([]any)
	if !ok || len(l) != len(types) {
		n := -1
		if ok {
			n = len(l)
		}
		return nil, badTypes(fmt.Errorf("wrong number of values returned by %s, saw %d != expected %d", fn, n, len(types)))
	}
	r := make([]any, len(l))
	for i, v := range l {
		x, err := Verify(fmt.Sprintf("result[%d]", i), v, types[i], Decode, true, c.registry, opts)
		if err != nil {
			return nil, badTypes(err)
		}
		r[i] = x
	}
	return r, nil
}

// transportError classifies a failed round trip. ctx is the call's context,
// including its timeout.
func transportError(ctx context.Context, fn string, err error) error {
	switch cause := context.Cause(ctx); {
	case cause == nil:
		return errConnection(err)
	case errors.Is(cause, errCallTimeout), errors.Is(cause, context.DeadlineExceeded):
		return errTimeout(fn)
	default:
		return errAborted(fn)
	}
}

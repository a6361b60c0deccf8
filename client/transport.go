package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

type request struct {
	method    string
	path      string
	params    url.Values
	body      any
	protected bool
}

// call performs a request and returns the data member of the response.
// Protected calls carry the session token, renew it when close to expiry
// and retry once after a 401 when the session can be refreshed.
func (c *Client) call(ctx context.Context, r request) (json.RawMessage, error) {
	if !r.protected {
		return c.send(ctx, r, "")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	data, err := c.send(ctx, r, token)
	if !isUnauthorized(err) || !c.canRefresh() {
		return data, asAuthError(err)
	}

	c.logger.Debug("access token rejected, refreshing", "path", r.path)
	renewed, err := c.renew(ctx, token)
	if err != nil {
		return nil, err
	}
	data, err = c.send(ctx, r, renewed.AccessToken)
	return data, asAuthError(err)
}

// read is call with retries on transport failures.
func (c *Client) read(ctx context.Context, r request) (json.RawMessage, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		data, err := c.call(ctx, r)
		var netErr *NetworkError
		if err != nil && !errors.As(err, &netErr) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	},
		backoff.WithBackOff(readBackOff()),
		backoff.WithMaxTries(c.readTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("read failed, retrying", "path", r.path, "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
}

func readBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (c *Client) send(ctx context.Context, r request, token string) (json.RawMessage, error) {
	target, err := c.endpoint(r.path, r.params)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", r.path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, &NetworkError{Op: r.method, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: r.method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: r.method, URL: target, Err: err}
	}
	c.logger.Debug("request", "method", r.method, "path", r.path, "status", resp.StatusCode)

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		if resp.StatusCode >= 300 {
			return nil, &BackendError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &BackendError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("decode %s response: %w", r.path, err)
	}
	if resp.StatusCode >= 300 {
		be := &BackendError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if len(env.Errors) > 0 {
			be.Code = env.Errors[0].Extensions.Code
			be.Message = env.Errors[0].Message
		}
		return nil, be
	}
	return env.Data, nil
}

func isUnauthorized(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Status == http.StatusUnauthorized
}

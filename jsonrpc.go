// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	gatewayMaxRetries = 3
	gatewayRetryWait  = 500 * time.Millisecond
)

// GatewayOption configures SendJSONRequest.
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	headers     http.Header
	queryParams url.Values
	client      *http.Client
	logger      *zap.Logger
	retries     int
	retryWait   time.Duration
}

func newGatewayOptions(opts []GatewayOption) *gatewayOptions {
	o := &gatewayOptions{
		headers:     http.Header{},
		queryParams: url.Values{},
		logger:      zap.NewNop(),
		retries:     gatewayMaxRetries,
		retryWait:   gatewayRetryWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHeader(key, value string) GatewayOption {
	return func(o *gatewayOptions) { o.headers.Add(key, value) }
}

func WithQueryParam(key, value string) GatewayOption {
	return func(o *gatewayOptions) { o.queryParams.Add(key, value) }
}

// WithHTTPClient replaces the per-attempt client, which otherwise has
// keep-alives disabled.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(o *gatewayOptions) { o.client = c }
}

func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(o *gatewayOptions) { o.logger = l }
}

// WithGatewayRetries sets the attempt count and the base backoff, which
// doubles after every failed attempt.
func WithGatewayRetries(n int, wait time.Duration) GatewayOption {
	return func(o *gatewayOptions) {
		o.retries = n
		o.retryWait = wait
	}
}

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body so the
// connection is not torn down with unread data.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// classifyGatewayError turns transient transport errors into connection
// failures so they follow the same failover rules as node errors.
func classifyGatewayError(addr string, err error) error {
	if err == nil || isContextError(err) {
		return err
	}
	msg := err.Error()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") {
		return connectionFailure("http request", addr, err)
	}
	return err
}

// SendJSONRequest calls method on a JSON-RPC 2.0 HTTP gateway and decodes
// the result into reply. Connection failures are retried with exponential
// backoff; anything else is returned at once. An error object in the
// response is returned as *RemoteError.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...GatewayOption,
) error {
	ops := newGatewayOptions(options)
	log := ops.logger.With(zap.String("method", method), zap.String("uri", uri.String()))

	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	target := *uri
	if len(ops.queryParams) > 0 {
		target.RawQuery = ops.queryParams.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < ops.retries; attempt++ {
		if attempt > 0 {
			wait := ops.retryWait * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		client := ops.client
		if client == nil {
			client = newHTTPClient()
		}
		resp, err := client.Do(request)
		if err != nil {
			err = classifyGatewayError(uri.Host, err)
			if StrategyFor(err) == StrategyRetry && ctx.Err() == nil {
				log.Warn("gateway request failed", zap.Int("attempt", attempt+1), zap.Error(err))
				lastErr = err
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			log.Info("gateway request succeeded", zap.Int("attempt", attempt+1))
		}

		// Some gateways send error objects with a non-2xx status.
		err = json2.DecodeClientResponse(resp.Body, reply)
		_ = CleanlyCloseBody(resp.Body)
		var rerr *json2.Error
		if errors.As(err, &rerr) {
			return StrategyIgnore.Execute(nil, &RemoteError{Value: rerr.Message}, nil)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}
		if err != nil {
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to issue request after %d attempts: %w", ops.retries, lastErr)
}

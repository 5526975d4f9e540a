package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/public-sdk/internal/rate"
	"github.com/Checker-Finance/public-sdk/pkg/apierr"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// Failure responses are classified into the apierr taxonomy; only server and
// network errors are retried here. The subscription engine applies its own
// policy on top for auth and rate-limit errors.
type Executor struct {
	logger   *zap.Logger
	rateMgr  *rate.Manager
	http     *http.Client
	retryMax int
}

// New creates an Executor.
func New(logger *zap.Logger, rateMgr *rate.Manager, httpClient *http.Client, retryMax int) *Executor {
	return &Executor{
		logger:   logger,
		rateMgr:  rateMgr,
		http:     httpClient,
		retryMax: retryMax,
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the
// response into out. rateLimitKey scopes the rate limiter per endpoint group.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if req.URL.Scheme != "https" && !isLoopback(req.URL.Host) {
		return apierr.New(apierr.KindValidation, "insecure HTTP requests are blocked, use https")
	}

	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = &apierr.APIError{Kind: apierr.KindNetwork, Message: err.Error()}
			e.logger.Warn("http.request_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if sleepErr := sleepCtx(ctx, Backoff(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		if resp.StatusCode >= 500 {
			e.logger.Warn("http.server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = errorFromResponse(resp, body)
			if sleepErr := sleepCtx(ctx, Backoff(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := errorFromResponse(resp, body)
			e.logger.Warn("http.client_error",
				zap.Int("status", resp.StatusCode),
				zap.String("kind", string(apiErr.Kind)),
				zap.String("url", req.URL.String()))
			return apiErr
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn("http.decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug("http.success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", e.retryMax+1, lastErr)
}

// errorFromResponse builds a classified APIError from a failure response.
// The message is taken from the body's "message" field when present, falling
// back to the raw body.
func errorFromResponse(resp *http.Response, body []byte) *apierr.APIError {
	var data map[string]any
	_ = json.Unmarshal(body, &data)

	msg := http.StatusText(resp.StatusCode)
	if m, ok := data["message"]; ok {
		msg = fmt.Sprint(m)
	} else if len(body) > 0 {
		msg = string(body)
	}

	apiErr := apierr.FromStatus(resp.StatusCode, msg)
	apiErr.Data = data

	if apiErr.Kind == apierr.KindRateLimited {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isLoopback permits plain HTTP only for local development servers.
func isLoopback(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i >= 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

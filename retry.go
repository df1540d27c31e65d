package analyst

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"
)

// retryProvider wraps a Provider and automatically retries transient HTTP
// errors (429, 502, 503, 504) and network timeouts with exponential backoff.
// Non-retryable errors (ErrLLM, 4xx other than 429) pass through immediately.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry warnings.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors and
// network timeouts. Retries
// use exponential backoff with jitter; when the error carries a Retry-After
// duration the delay is at least that long. Compose with any Provider:
//
//	llm = analyst.WithRetry(openaicompat.NewProvider(key, model, base))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Chat implements Provider with retry.
func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		last = err
		r.logger.Warn("transient llm error, retrying",
			"provider", r.inner.Name(), "status", statusOf(err),
			"attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepCtx(ctx, retryDelay(r.baseDelay, i, err)); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	return ChatResponse{}, last
}

// ChatStream implements Provider with retry. Retries are only performed if
// no deltas have reached the caller yet — once streaming has started, errors
// pass through immediately to avoid duplicate content. ch is always closed
// before returning.
func (r *retryProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan StreamEvent, 64)
		var (
			resp      ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var deltasSent bool
		for ev := range mid {
			deltasSent = true
			ch <- ev
		}
		<-done

		if streamErr == nil || !isTransient(streamErr) || deltasSent {
			close(ch)
			return resp, streamErr
		}

		last = streamErr
		r.logger.Warn("transient llm error, retrying",
			"provider", r.inner.Name(), "status", statusOf(streamErr),
			"attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepCtx(ctx, retryDelay(r.baseDelay, i, streamErr)); err != nil {
				close(ch)
				return ChatResponse{}, err
			}
		}
	}
	close(ch)
	return ChatResponse{}, last
}

// isTransient reports whether err is a retryable HTTP error or a network
// timeout (including an expired per-request deadline).
func isTransient(err error) bool {
	var e *ErrHTTP
	if !errors.As(err, &e) {
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	}
	switch e.Status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// compile-time check
var _ Provider = (*retryProvider)(nil)

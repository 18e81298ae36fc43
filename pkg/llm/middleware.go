package llm

import (
	"context"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/retry"
)

// RetryMiddleware wraps a client with same-model retry. Each classified
// error type retries on its own backoff schedule, so empty responses back
// off harder than dropped connections while rate limits never retry here
// at all. Fallback across models is a resolver concern and happens above
// this layer; this middleware only absorbs transient faults of a single
// candidate.
func RetryMiddleware() Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				return retry.RunClassified(ctx, func(ctx context.Context) (Response, error) {
					return next.Complete(ctx, req)
				})
			},
			func(ctx context.Context) ([]string, error) {
				return retry.RunClassified(ctx, func(ctx context.Context) ([]string, error) {
					return next.ListModels(ctx)
				})
			},
			next.ModelName,
		)
	}
}

// LoggingMiddleware logs completion calls with duration and outcome.
func LoggingMiddleware(logger *logx.Logger) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start)
				if err != nil {
					logger.Warn("completion failed model=%s duration=%s err=%v", next.ModelName(), elapsed, err)
					return resp, err
				}
				logger.Debug("completion ok model=%s duration=%s stop=%s", next.ModelName(), elapsed, resp.StopReason)
				return resp, nil
			},
			next.ListModels,
			next.ModelName,
		)
	}
}

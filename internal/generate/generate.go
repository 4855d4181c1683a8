// Package generate invokes the language model with rate limiting, retry,
// and circuit breaking around the backend.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/neverland-app/neverland/internal/compose"
	"github.com/neverland-app/neverland/internal/log"
)

// ErrGenerationFailed indicates the model could not produce a reply
// within the retry budget. Nothing should be persisted for the turn.
var ErrGenerationFailed = errors.New("generation failed")

const (
	generateInitialBackoff = 500 * time.Millisecond
	generateMaxBackoff     = 8 * time.Second
)

// Model produces a reply from a composed context.
type Model interface {
	Generate(ctx context.Context, system string, messages []compose.Message) (string, error)
}

// Result is a successful generation.
type Result struct {
	Text      string
	ModelName string
	Latency   time.Duration
	Attempts  int
}

// Invoker wraps a Model with the reliability layer: a token-bucket rate
// limiter, per-attempt timeouts, bounded retries with exponential backoff,
// and a circuit breaker shared across callers.
type Invoker struct {
	model          Model
	modelName      string
	limiter        *rate.Limiter
	breaker        *CircuitBreaker
	maxRetries     int
	attemptTimeout time.Duration
	log            log.Logger
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	ModelName      string
	MaxRetries     int
	AttemptTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
}

// NewInvoker creates an invoker around the model.
func NewInvoker(model Model, opts InvokerOptions, logger log.Logger) *Invoker {
	return &Invoker{
		model:          model,
		modelName:      opts.ModelName,
		limiter:        rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst),
		breaker:        NewCircuitBreaker(),
		maxRetries:     opts.MaxRetries,
		attemptTimeout: opts.AttemptTimeout,
		log:            logger,
	}
}

// Invoke generates a reply for the composed context. Transient failures
// are retried with exponential backoff; non-transient ones fail fast.
// On exhaustion it returns ErrGenerationFailed wrapping the last error.
func (inv *Invoker) Invoke(ctx context.Context, cctx *compose.Context) (*Result, error) {
	start := time.Now()
	delay := generateInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= inv.maxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, generateMaxBackoff)
		}

		if err := inv.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		if err := inv.breaker.Allow(); err != nil {
			lastErr = err
			inv.log.Warn("model call rejected", "attempt", attempt, "error", err)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, inv.attemptTimeout)
		text, err := inv.model.Generate(callCtx, cctx.System, cctx.Messages)
		cancel()

		if err == nil {
			inv.breaker.RecordSuccess()
			return &Result{
				Text:      text,
				ModelName: inv.modelName,
				Latency:   time.Since(start),
				Attempts:  attempt,
			}, nil
		}

		inv.breaker.RecordFailure()
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			break
		}
		inv.log.Warn("model call failed",
			"attempt", attempt, "model", inv.modelName, "error", err)
	}

	return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

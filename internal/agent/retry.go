package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
)

const (
	maxAutoRetries = 3
	baseDelay      = 2 * time.Second
	maxDelay       = 30 * time.Second
	jitterPercent  = 30 // ±30% jitter
)

// errRequestRejected ends a task whose user declined to retry a failed
// model request.
var errRequestRejected = errors.New("user declined to retry the model request")

// isRetryableError checks if an error is worth retrying without asking
// (rate limit, server error, network).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()

	// Rate limit (429)
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") {
		return true
	}
	// Anthropic overloaded (529)
	if strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "temporary failure")
}

// retryDelay returns the delay for attempt n (0-indexed) with jitter.
func retryDelay(attempt int, base time.Duration) time.Duration {
	delay := base
	for range attempt {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	spread := int64(delay) * jitterPercent / 100
	if spread <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(2*spread)-spread)
}

// sleepWithContext sleeps for d, but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func formatRetryMessage(attempt, maxAttempts int, delay time.Duration, err error) string {
	return fmt.Sprintf("Retrying (%d/%d) in %s... (%s)",
		attempt+1, maxAttempts, delay.Round(time.Millisecond), truncateError(err))
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// modelStream is a response whose first chunk has already arrived.
type modelStream struct {
	first  provider.Chunk
	empty  bool
	rest   <-chan provider.Chunk
	cancel context.CancelFunc
}

// openStream starts the request and waits for its first chunk, so a
// failure to connect is retried before anything is shown. Transient
// failures are retried with backoff a few times; after that the user
// decides through an api_req_failed ask.
func (t *Task) openStream(ctx context.Context, req *provider.Request) (*modelStream, error) {
	auto := 0
	for {
		s, err := t.tryStream(ctx, req)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info := t.provider.Model()
		t.metrics.ModelRequest(t.provider.Name(), info.ID, "error")
		t.logger.Warn("model request failed", zap.Int("attempt", auto), zap.Error(err))

		if isRetryableError(err) && auto < maxAutoRetries {
			delay := retryDelay(auto, t.retryBase)
			if err := t.ch.Say(ctx, channel.SayInfo, formatRetryMessage(auto, maxAutoRetries, delay, err), nil, false); err != nil {
				return nil, err
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
			auto++
			continue
		}

		resp, askErr := t.ch.Ask(ctx, channel.AskAPIReqFailed, err.Error(), false)
		if askErr != nil {
			return nil, askErr
		}
		if resp.Kind != channel.Approve {
			return nil, errRequestRejected
		}
		auto = 0
		if err := t.ch.Say(ctx, channel.SayAPIReqRetried, "", nil, false); err != nil {
			return nil, err
		}
	}
}

func (t *Task) tryStream(ctx context.Context, req *provider.Request) (*modelStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	ch, err := t.provider.Stream(sctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	first, ok := <-ch
	if !ok {
		return &modelStream{empty: true, rest: ch, cancel: cancel}, nil
	}
	if first.Type == provider.ChunkError {
		cancel()
		for range ch {
		}
		return nil, first.Err
	}
	return &modelStream{first: first, rest: ch, cancel: cancel}, nil
}

package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
)

const (
	defaultStageTimeout      = 10 * time.Second
	defaultStageRetryBackoff = 500 * time.Millisecond
)

// StageConfig bounds every model call made by a pipeline stage.
type StageConfig struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
}

func DefaultStageConfig() StageConfig {
	return StageConfig{Timeout: defaultStageTimeout, RetryBackoff: defaultStageRetryBackoff}
}

// stageCaller applies the per-call timeout. A timed-out call is retried
// once after a jittered backoff; a second timeout yields ErrStageTimeout.
// Other errors are returned as-is without retry.
type stageCaller struct {
	synth llm.Synthesizer
	cfg   StageConfig
}

func newStageCaller(synth llm.Synthesizer, cfg StageConfig) *stageCaller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultStageTimeout
	}
	return &stageCaller{synth: synth, cfg: cfg}
}

func (c *stageCaller) call(ctx context.Context, req llm.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		out, err := c.synth.Synthesize(callCtx, req)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !timedOut && !errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err

		if attempt == 0 {
			if err := sleepCtx(ctx, backoffWithJitter(c.cfg.RetryBackoff)); err != nil {
				return "", err
			}
		}
	}
	return "", domain.Wrap(domain.ErrStageTimeout, lastErr)
}

// backoffWithJitter returns base adjusted by up to ±25%.
func backoffWithJitter(base time.Duration) time.Duration {
	quarter := base / 4
	if quarter > 0 {
		base += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package mef

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/Efile-api/pkg/config"
)

// retryPolicy parámetros de reintento con backoff exponencial.
type retryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
}

func policyFromConfig(cfg config.MefConfig) retryPolicy {
	p := retryPolicy{
		maxAttempts:  cfg.RetryMaxAttempts,
		initialDelay: cfg.RetryInitialDelay,
		multiplier:   cfg.RetryMultiplier,
		maxDelay:     cfg.RetryMaxDelay,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.multiplier < 1 {
		p.multiplier = 2
	}
	return p
}

// delays devuelve las esperas entre intentos: empieza en initialDelay,
// multiplica en cada paso y nunca supera maxDelay. Son maxAttempts-1
// esperas (después del último intento no se espera).
func (p retryPolicy) delays() []time.Duration {
	if p.maxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.maxAttempts-1)
	d := p.initialDelay
	for i := 0; i < p.maxAttempts-1; i++ {
		if d > p.maxDelay {
			d = p.maxDelay
		}
		out = append(out, d)
		d = time.Duration(float64(d) * p.multiplier)
	}
	return out
}

// withRetry ejecuta op hasta maxAttempts veces. Solo reintenta errores de
// transporte (todo error que op devuelva); la cancelación del contexto corta
// la espera de inmediato y devuelve ctx.Err(). Tras agotar intentos devuelve
// el último error.
func withRetry[T any](ctx context.Context, p retryPolicy, onAttempt func(attempt int, err error), op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delays := p.delays()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if attempt == p.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, delays[attempt-1]); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("operación falló tras %d intentos: %w", p.maxAttempts, lastErr)
}

// sleepCtx espera d o hasta que el contexto se cancele.
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

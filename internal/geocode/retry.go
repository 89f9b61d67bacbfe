package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
)

// RetryPolicy bounds how hard the gateway tries a single upstream lookup.
type RetryPolicy struct {
	Attempts       int           // total tries, first one included
	BaseDelay      time.Duration // wait after the first failure
	MaxDelay       time.Duration // cap on the doubling wait
	AttemptTimeout time.Duration // deadline for each try
}

// DefaultRetryPolicy is 3 attempts, 250ms doubling up to 2s, 5s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// delay returns the wait before try number attempt+1 (attempt is 0-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// do runs fn until it succeeds, fails permanently, or the budget runs out.
//
// model.ErrNotFound passes through untouched. A permanent failure wraps
// model.ErrGeocodingFailed. An exhausted budget wraps both
// model.ErrUpstreamUnavailable and model.ErrGeocodingFailed.
func (p RetryPolicy) do(ctx context.Context, op string, log logrus.FieldLogger, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()

		switch {
		case err == nil:
			observability.GeocodeUpstreamCalls.WithLabelValues(op, "ok").Inc()
			return nil
		case errors.Is(err, model.ErrNotFound):
			observability.GeocodeUpstreamCalls.WithLabelValues(op, "not_found").Inc()
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case !isTransient(err):
			observability.GeocodeUpstreamCalls.WithLabelValues(op, "error").Inc()
			return fmt.Errorf("%w: %w", model.ErrGeocodingFailed, err)
		}

		observability.GeocodeUpstreamCalls.WithLabelValues(op, "transient").Inc()
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		wait := p.delay(attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   wait.String(),
		}).Debug("geocoder attempt failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	log.WithError(lastErr).WithFields(logrus.Fields{"op": op, "attempts": attempts}).
		Warn("geocoder unavailable after retries")
	return fmt.Errorf("%w after %d attempts: %w: %v",
		model.ErrUpstreamUnavailable, attempts, model.ErrGeocodingFailed, lastErr)
}

// isTransient classifies an attempt failure: network trouble, attempt
// timeouts, 5xx and 429 are worth retrying.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, errDecode) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

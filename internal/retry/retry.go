package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  3,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

type IsRetryableFunc func(error) bool

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying regardless of the classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsTransient reports network timeouts, the only failures retried by default
// for remote destinations.
func IsTransient(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts = Default
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := opts.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return err
		}

		timer := time.NewTimer(opts.sleep(backoff, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = opts.next(backoff)
	}
}

// sleep applies +/-20% jitter and the delay cap.
func (o Options) sleep(backoff time.Duration, rng *rand.Rand) time.Duration {
	d := backoff
	if o.Jitter {
		delta := float64(backoff) * 0.2
		j := (rng.Float64()*2 - 1) * delta
		d = time.Duration(math.Max(0, float64(backoff)+j))
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

// next grows backoff with overflow guard and cap.
func (o Options) next(backoff time.Duration) time.Duration {
	n := time.Duration(float64(backoff) * o.Multiplier)
	if n < backoff {
		n = backoff
	}
	if o.MaxDelay > 0 && n > o.MaxDelay {
		n = o.MaxDelay
	}
	return n
}

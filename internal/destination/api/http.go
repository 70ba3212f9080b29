package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e httpStatusError) Error() string { return fmt.Sprintf("http status %d", e.StatusCode) }

// parseRetryAfter supports seconds and HTTP-date.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return time.Until(t)
		}
	}
	return 0
}

// isRetryable: timeouts, 408, 429 and 5xx.
func isRetryable(err error) bool {
	if retry.IsTransient(err) {
		return true
	}
	var se httpStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode == http.StatusRequestTimeout ||
			(se.StatusCode >= 500 && se.StatusCode <= 599)
	}
	return false
}

// honorRetryAfter sleeps for the server-requested delay before the next attempt.
func honorRetryAfter(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	var se httpStatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		timer := time.NewTimer(se.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

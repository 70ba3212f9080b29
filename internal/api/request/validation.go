// Package request decodes and validates signed request parameters.
package request

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
)

// ErrInvalid marks malformed requests.
var ErrInvalid = errors.New("invalid request")

var validate = validator.New()

func init() {
	validate.RegisterValidation("origin_name", func(fl validator.FieldLevel) bool {
		return backup.ValidOriginName(fl.Field().String())
	})
}

// Struct runs validator tags on v.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: validation error: %w", ErrInvalid, err)
	}
	return nil
}

// Query flattens the query string; repeated keys keep the first value.
func Query(r *http.Request) map[string]string {
	return flatten(r.URL.Query())
}

// Form parses a urlencoded body and flattens it. Query parameters are not
// included.
func Form(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return flatten(r.PostForm), nil
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: missing required ID", ErrInvalid)
	}
	return s, nil
}

// Bool accepts the usual spellings; an empty value is false.
func Bool(params map[string]string, key string) (bool, error) {
	v := strings.TrimSpace(params[key])
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalid, key)
	}
	return b, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Date parses an ISO-8601 date; naive values are taken as UTC. An empty
// value yields the zero time.
func Date(params map[string]string, key string) (time.Time, error) {
	v := strings.TrimSpace(params[key])
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s is not an ISO-8601 date", ErrInvalid, key)
}

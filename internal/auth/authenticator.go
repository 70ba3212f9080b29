package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/config"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

// ErrAuthentication is returned for any missing, stale or invalid signature.
// Callers must not distinguish the cause to the client.
var ErrAuthentication = errors.New("authentication failed")

// Principal is the outcome of a successful authentication.
type Principal struct {
	Scope  Scope
	Secret string        // secret that verified the request, reused to sign the response
	Origin *model.Origin // set for origin-scoped requests
}

type Authenticator struct {
	defaultSecret string
	maxAge        time.Duration
	origins       OriginLookup
	now           func() time.Time
}

func New(cfg config.SigningConfig, origins OriginLookup) (*Authenticator, error) {
	if cfg.DefaultKey == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{
		defaultSecret: cfg.DefaultKey,
		maxAge:        cfg.MaxAge,
		origins:       origins,
		now:           time.Now,
	}, nil
}

// DefaultSecret returns the process-wide signing secret.
func (a *Authenticator) DefaultSecret() string { return a.defaultSecret }

// Authenticate verifies params against the secret of scope.
func (a *Authenticator) Authenticate(ctx context.Context, scope Scope, params map[string]string) (Principal, error) {
	src := newSource(scope, a.defaultSecret, a.origins)
	secret, err := src.Acquire(ctx)
	if err != nil {
		log.Debug().
			Err(err).
			Str("action", "authenticate").
			Str("scope", scope.String()).
			Msg("secret unavailable")
		return Principal{}, ErrAuthentication
	}

	if !Verify(params, secret) {
		log.Debug().
			Str("action", "authenticate").
			Str("scope", scope.String()).
			Msg("signature mismatch")
		return Principal{}, ErrAuthentication
	}

	if err := a.checkFreshness(params); err != nil {
		log.Debug().
			Err(err).
			Str("action", "authenticate").
			Str("scope", scope.String()).
			Msg("stale request")
		return Principal{}, ErrAuthentication
	}

	p := Principal{Scope: scope, Secret: secret}
	if osrc, ok := src.(*originSource); ok {
		o := osrc.origin
		p.Origin = &o
	}
	return p, nil
}

// checkFreshness bounds replay when a max age is configured. With maxAge 0
// a captured request stays valid indefinitely.
func (a *Authenticator) checkFreshness(params map[string]string) error {
	if a.maxAge <= 0 {
		return nil
	}
	raw, ok := params[TimestampKey]
	if !ok || raw == "" {
		return errors.New("missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	skew := a.now().Sub(ts)
	if skew > a.maxAge || skew < -a.maxAge {
		return errors.New("timestamp outside validity window")
	}
	return nil
}

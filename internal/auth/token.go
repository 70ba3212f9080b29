package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

type staticSource struct {
	secret string
}

func (s *staticSource) Acquire(ctx context.Context) (string, error) {
	// Never log the secret content.
	if s.secret == "" {
		log.Debug().
			Str("action", "auth_acquire").
			Str("scope", "default").
			Msg("missing default secret")
		return "", ErrNoSecret
	}
	return s.secret, nil
}

// originSource resolves the apikey of a registered origin.
type originSource struct {
	id      string
	origins OriginLookup

	origin model.Origin
}

func (s *originSource) Acquire(ctx context.Context) (string, error) {
	if s.origins == nil {
		return "", ErrNoSecret
	}
	o, err := s.origins.GetOrigin(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("lookup origin %s: %w", s.id, err)
	}
	if o.APIKey == "" {
		return "", ErrNoSecret
	}
	s.origin = o
	return o.APIKey, nil
}

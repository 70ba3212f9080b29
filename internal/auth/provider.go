package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

var (
	ErrNoSecret = errors.New("no signing secret available")
)

// SecretSource abstracts where the secret verifying a request comes from.
type SecretSource interface {
	Acquire(ctx context.Context) (string, error)
}

// OriginLookup is the slice of the record store the origin source needs.
type OriginLookup interface {
	GetOrigin(ctx context.Context, id string) (model.Origin, error)
}

// Scope selects the secret used for a request. The zero value is the
// process-wide default scope.
type Scope struct {
	OriginID string
}

// DefaultScope is used for origin availability, registration and destination
// administration.
var DefaultScope = Scope{}

// OriginScope binds a request to the origin with the given id.
func OriginScope(id string) Scope { return Scope{OriginID: id} }

func (s Scope) String() string {
	if s.OriginID == "" {
		return "default"
	}
	return "origin"
}

// newSource selects the source for scope.
// NOTE: This package never initializes logging; main() does via logx.
func newSource(scope Scope, defaultSecret string, origins OriginLookup) SecretSource {
	if scope.OriginID == "" {
		log.Trace().
			Str("action", "auth_source").
			Str("scope", "default").
			Msg("secret source selected")
		return &staticSource{secret: defaultSecret}
	}
	log.Trace().
		Str("action", "auth_source").
		Str("scope", "origin").
		Str("origin_id", scope.OriginID).
		Msg("secret source selected")
	return &originSource{id: scope.OriginID, origins: origins}
}

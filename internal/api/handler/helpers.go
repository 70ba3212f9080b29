// Package handler implements the gateway's HTTP endpoints. Every JSON
// response is a signed envelope.
package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/response"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/metrics"
)

// authenticate verifies params for scope. It writes the 403 itself and
// returns false on failure.
func authenticate(w http.ResponseWriter, r *http.Request, authn *auth.Authenticator, scope auth.Scope, params map[string]string) (auth.Principal, bool) {
	p, err := authn.Authenticate(r.Context(), scope, params)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(scope.String()).Inc()
		zerolog.Ctx(r.Context()).Info().Str("action", "authenticate").Str("scope", scope.String()).
			Str("remote", r.RemoteAddr).Msg("request rejected")
		response.WriteErr(w, err, authn.DefaultSecret())
		return p, false
	}
	return p, true
}

// sameOrigin rejects origin-scoped requests naming another origin.
func sameOrigin(w http.ResponseWriter, p auth.Principal, name string) bool {
	if p.Origin == nil || p.Origin.Name != name {
		response.WriteErr(w, auth.ErrAuthentication, p.Secret)
		return false
	}
	return true
}

// writeFailure logs err with the request logger and writes it signed.
func writeFailure(w http.ResponseWriter, r *http.Request, action string, err error, secret string) {
	status, _ := response.Classify(err)
	ev := zerolog.Ctx(r.Context()).Info()
	if status >= http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("action", action).Int("status", status).Msg("request failed")
	response.WriteErr(w, err, secret)
}

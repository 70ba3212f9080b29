// Package response writes signed JSON envelopes and maps domain errors to
// HTTP statuses.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/request"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

// Now stamps envelopes.
var Now = func() time.Time { return time.Now().UTC() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteSigned adds timestamp and signature to payload using secret.
func WriteSigned(w http.ResponseWriter, status int, payload map[string]any, secret string) {
	WriteJSON(w, status, auth.SignedEnvelope(payload, secret, Now()))
}

// WriteError writes a signed {error} payload.
func WriteError(w http.ResponseWriter, status int, message, secret string) {
	WriteSigned(w, status, map[string]any{"error": message}, secret)
}

// WriteErr classifies err and writes it signed with secret.
func WriteErr(w http.ResponseWriter, err error, secret string) {
	status, msg := Classify(err)
	WriteError(w, status, msg, secret)
}

// Classify maps an error to a status and a message safe to return to
// clients. Server-side failures never expose the underlying error text.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		return http.StatusForbidden, "authentication failed"
	case errors.Is(err, destination.ErrUnsupportedType):
		return http.StatusInternalServerError, "destination type is not supported"
	case errors.Is(err, backup.ErrDestinationMisconfigured):
		return http.StatusInternalServerError, "destination is misconfigured"
	case errors.Is(err, backup.ErrValidation),
		errors.Is(err, request.ErrInvalid),
		errors.Is(err, model.ErrInvalidDestination),
		errors.Is(err, model.ErrTypeImmutable):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, backup.ErrUnknownOrigin),
		errors.Is(err, backup.ErrUnknownDestination),
		errors.Is(err, backup.ErrBackupNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, destination.ErrArtifactNotFound):
		return http.StatusNotFound, "backup not found on destination"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "name already in use or still referenced"
	case errors.Is(err, backup.ErrChecksumMismatch):
		return http.StatusBadGateway, "checksum mismatch"
	case errors.Is(err, destination.ErrTransfer):
		return http.StatusBadGateway, "transfer to destination failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

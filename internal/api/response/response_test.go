package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"auth", auth.ErrAuthentication, http.StatusForbidden},
		{"validation", fmt.Errorf("%w: missing origin", backup.ErrValidation), http.StatusBadRequest},
		{"type immutable", fmt.Errorf("%w: %w", backup.ErrValidation, model.ErrTypeImmutable), http.StatusBadRequest},
		{"unknown origin", fmt.Errorf("%w: bob", backup.ErrUnknownOrigin), http.StatusNotFound},
		{"backup not found", backup.ErrBackupNotFound, http.StatusNotFound},
		{"artifact missing", destination.ErrArtifactNotFound, http.StatusNotFound},
		{"conflict", store.ErrConflict, http.StatusConflict},
		{"unsupported type", destination.ErrUnsupportedType, http.StatusInternalServerError},
		{"stored destination invalid", fmt.Errorf("%w: d1: %w", backup.ErrDestinationMisconfigured, model.ErrInvalidDestination), http.StatusInternalServerError},
		{"checksum", backup.ErrChecksumMismatch, http.StatusBadGateway},
		{"transfer", fmt.Errorf("wrap: %w", destination.ErrTransfer), http.StatusBadGateway},
		{"other", errors.New("open /srv/secret/path: permission denied"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := Classify(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestClassify_HidesServerErrors(t *testing.T) {
	_, msg := Classify(fmt.Errorf("%w: dial 10.0.0.5:22", destination.ErrTransfer))
	assert.Equal(t, "transfer to destination failed", msg)

	_, msg = Classify(errors.New("open /srv/secret/path: permission denied"))
	assert.Equal(t, "internal error", msg)
}

func TestClassify_MisconfiguredDestination(t *testing.T) {
	err := fmt.Errorf("%w: d1: %w: sftp requires hostname", backup.ErrDestinationMisconfigured, model.ErrInvalidDestination)
	status, msg := Classify(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "destination is misconfigured", msg)

	status, msg = Classify(fmt.Errorf("%w: d1: %w", backup.ErrDestinationMisconfigured, destination.ErrUnsupportedType))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "destination type is not supported", msg)

	status, _ = Classify(fmt.Errorf("%w: sftp requires hostname", model.ErrInvalidDestination))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWriteError_Signed(t *testing.T) {
	prev := Now
	Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	defer func() { Now = prev }()

	rec := httptest.NewRecorder()
	WriteErr(rec, auth.ErrAuthentication, "s3cret")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authentication failed", body["error"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["timestamp"])
	assert.True(t, auth.Verify(body, "s3cret"))
	assert.False(t, auth.Verify(body, "other"))
}

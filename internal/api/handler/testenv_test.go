package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/config"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/local"
	_ "github.com/Chapsvision-dev/backup-gateway/internal/destination/s3"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store/memory"
)

const defaultKey = "default-secret"

type testEnv struct {
	st      *memory.Store
	authn   *auth.Authenticator
	orch    *backup.Orchestrator
	catalog *backup.Catalog
	origin  model.Origin
	dir     string
}

// newTestEnv registers origin "alice" and a local destination "disk".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	authn, err := auth.New(config.SigningConfig{DefaultKey: defaultKey}, st)
	require.NoError(t, err)

	cat := backup.NewCatalog(st)
	origin, err := cat.RegisterOrigin(ctx, "alice")
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = cat.CreateDestination(ctx, model.Destination{
		Name: "disk", Type: model.DestinationLocal, Local: &model.LocalConfig{Directory: dir},
	})
	require.NoError(t, err)

	return &testEnv{
		st:      st,
		authn:   authn,
		orch:    backup.New(st, destination.Options{}),
		catalog: cat,
		origin:  origin,
		dir:     dir,
	}
}

func signed(params map[string]string, secret string) url.Values {
	v := url.Values{}
	for k, val := range auth.SignParams(params, secret, time.Now()) {
		v.Set(k, val)
	}
	return v
}

func signedGet(target string, params map[string]string, secret string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target+"?"+signed(params, secret).Encode(), nil)
}

func signedForm(method, target string, params map[string]string, secret string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(signed(params, secret).Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

// multipartUpload writes the signed fields first and the file part last.
func multipartUpload(t *testing.T, target string, params map[string]string, secret, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range signed(params, secret) {
		require.NoError(t, mw.WriteField(k, vs[0]))
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, target, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	dec := json.NewDecoder(rec.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&body))
	return body
}

// verifyEnvelope checks the response signature over its scalar fields.
func verifyEnvelope(t *testing.T, body map[string]any, secret string) {
	t.Helper()
	params := make(map[string]string, len(body))
	for k, v := range body {
		params[k] = auth.Stringify(v)
	}
	require.True(t, auth.Verify(params, secret), "response signature")
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/request"
	"github.com/Chapsvision-dev/backup-gateway/internal/api/response"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
)

type Origin struct {
	catalog *backup.Catalog
	orch    *backup.Orchestrator
	authn   *auth.Authenticator
}

func NewOrigin(catalog *backup.Catalog, orch *backup.Orchestrator, authn *auth.Authenticator) *Origin {
	return &Origin{catalog: catalog, orch: orch, authn: authn}
}

// Available answers whether an origin name can still be registered.
func (h *Origin) Available(w http.ResponseWriter, r *http.Request) {
	params := request.Query(r)
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, params)
	if !ok {
		return
	}

	avail, err := h.catalog.OriginAvailable(r.Context(), params["origin"])
	if err != nil {
		writeFailure(w, r, "origin_available", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"availability": avail}, p.Secret)
}

// Register creates an origin and returns its API key once.
func (h *Origin) Register(w http.ResponseWriter, r *http.Request) {
	params, err := request.Form(r)
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, params)
	if !ok {
		return
	}

	req := struct {
		Origin string `validate:"required,origin_name"`
	}{Origin: params["origin"]}
	if err := request.Struct(req); err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}

	o, err := h.catalog.RegisterOrigin(r.Context(), req.Origin)
	if err != nil {
		writeFailure(w, r, "register_origin", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusCreated, map[string]any{
		"origin": o.Name,
		"id":     o.ID,
		"apikey": o.APIKey,
	}, p.Secret)
}

// Destinations lists destination names available to the origin.
func (h *Origin) Destinations(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	p, ok := authenticate(w, r, h.authn, auth.OriginScope(id), request.Query(r))
	if !ok {
		return
	}

	names, err := h.catalog.DestinationNames(r.Context())
	if err != nil {
		writeFailure(w, r, "list_destinations", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"destinations": names}, p.Secret)
}

// Backups lists the origin's backup records on one destination.
func (h *Origin) Backups(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	params := request.Query(r)
	p, ok := authenticate(w, r, h.authn, auth.OriginScope(id), params)
	if !ok || !sameOrigin(w, p, params["origin"]) {
		return
	}

	list, err := h.orch.ListBackups(r.Context(), p.Origin.Name, params["destination"])
	if err != nil {
		writeFailure(w, r, "list_backups", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"backups": list}, p.Secret)
}

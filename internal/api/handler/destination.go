package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/request"
	"github.com/Chapsvision-dev/backup-gateway/internal/api/response"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

// Destination administers destinations under the default scope. Secrets in
// variant configs are never echoed back.
type Destination struct {
	catalog *backup.Catalog
	authn   *auth.Authenticator
}

func NewDestination(catalog *backup.Catalog, authn *auth.Authenticator) *Destination {
	return &Destination{catalog: catalog, authn: authn}
}

func (h *Destination) List(w http.ResponseWriter, r *http.Request) {
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, request.Query(r))
	if !ok {
		return
	}
	ds, err := h.catalog.ListDestinations(r.Context())
	if err != nil {
		writeFailure(w, r, "list_destinations", err, p.Secret)
		return
	}
	out := make([]model.Destination, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Redacted())
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"destinations": out}, p.Secret)
}

func (h *Destination) Create(w http.ResponseWriter, r *http.Request) {
	params, err := request.Form(r)
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, params)
	if !ok {
		return
	}

	form := request.CreateDestination{Name: params["name"], Type: params["type"], Config: params["config"]}
	if err := request.Struct(form); err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}
	d, err := form.Destination()
	if err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}
	d, err = h.catalog.CreateDestination(r.Context(), d)
	if err != nil {
		writeFailure(w, r, "create_destination", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusCreated, map[string]any{"destination": d.Redacted()}, p.Secret)
}

func (h *Destination) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, request.Query(r))
	if !ok {
		return
	}
	d, err := h.catalog.GetDestination(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, r, "get_destination", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"destination": d.Redacted()}, p.Secret)
}

// Update applies a partial change. A config alone is decoded against the
// stored type.
func (h *Destination) Update(w http.ResponseWriter, r *http.Request) {
	params, err := request.Form(r)
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, params)
	if !ok {
		return
	}

	form := request.UpdateDestination{Name: params["name"], Type: params["type"], Config: params["config"]}
	if err := request.Struct(form); err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}
	name := chi.URLParam(r, "name")
	current, err := h.catalog.GetDestination(r.Context(), name)
	if err != nil {
		writeFailure(w, r, "update_destination", err, p.Secret)
		return
	}
	patch, err := form.Patch(current.Type)
	if err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}
	d, err := h.catalog.UpdateDestination(r.Context(), name, patch)
	if err != nil {
		writeFailure(w, r, "update_destination", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"destination": d.Redacted()}, p.Secret)
}

func (h *Destination) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := authenticate(w, r, h.authn, auth.DefaultScope, request.Query(r))
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.catalog.DeleteDestination(r.Context(), name); err != nil {
		writeFailure(w, r, "delete_destination", err, p.Secret)
		return
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{"deleted": name}, p.Secret)
}

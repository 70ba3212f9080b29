package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/backup-gateway/internal/api/request"
	"github.com/Chapsvision-dev/backup-gateway/internal/api/response"
	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/backup"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
)

// maxFieldBytes bounds each non-file multipart field.
const maxFieldBytes = 64 << 10

// fileField is the multipart part carrying the artifact. Signed fields
// must precede it.
const fileField = "file"

type Backup struct {
	orch  *backup.Orchestrator
	authn *auth.Authenticator
}

func NewBackup(orch *backup.Orchestrator, authn *auth.Authenticator) *Backup {
	return &Backup{orch: orch, authn: authn}
}

// Create receives a multipart upload and streams the file part to the
// requested destination without buffering it.
func (h *Backup) Create(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		response.WriteErr(w, fmt.Errorf("%w: %w", request.ErrInvalid, err), h.authn.DefaultSecret())
		return
	}

	params, file, err := readFields(mr)
	if err != nil {
		response.WriteErr(w, err, h.authn.DefaultSecret())
		return
	}
	if file != nil {
		defer file.Close()
	}

	p, ok := authenticate(w, r, h.authn, auth.OriginScope(id), params)
	if !ok || !sameOrigin(w, p, params["origin"]) {
		return
	}
	if file == nil {
		response.WriteErr(w, fmt.Errorf("%w: missing file part", request.ErrInvalid), p.Secret)
		return
	}

	req, err := backupRequest(params)
	if err != nil {
		response.WriteErr(w, err, p.Secret)
		return
	}
	req.Content = file
	req.Filename = file.FileName()

	res, err := h.orch.PerformBackup(r.Context(), req)
	if err != nil {
		writeFailure(w, r, "backup", err, p.Secret)
		return
	}

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	response.WriteSigned(w, http.StatusOK, map[string]any{
		"success":      true,
		"backup":       res.Backup.ID,
		"name":         res.Backup.Name,
		"sha1sum":      res.Backup.SHA1Sum,
		"size":         res.Backup.SizeBytes,
		"verification": string(res.Verification),
		"pre_check":    string(res.PreCheck),
		"warnings":     warnings,
	}, p.Secret)
}

// readFields collects form fields up to the file part, which is returned
// unread.
func readFields(mr *multipart.Reader) (map[string]string, *multipart.Part, error) {
	params := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return params, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", request.ErrInvalid, err)
		}
		name := part.FormName()
		if name == fileField {
			return params, part, nil
		}
		if name == "" {
			part.Close()
			continue
		}
		v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
		part.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: field %s: %w", request.ErrInvalid, name, err)
		}
		if len(v) > maxFieldBytes {
			return nil, nil, fmt.Errorf("%w: field %s too large", request.ErrInvalid, name)
		}
		if _, dup := params[name]; !dup {
			params[name] = string(v)
		}
	}
}

func backupRequest(params map[string]string) (backup.Request, error) {
	req := backup.Request{
		Origin:      params["origin"],
		Destination: params["destination"],
		SHA1Sum:     params["sha1sum"],
	}
	var err error
	if req.Date, err = request.Date(params, "date"); err != nil {
		return req, err
	}
	if req.BeforeRestore, err = request.Bool(params, "before_restore"); err != nil {
		return req, err
	}
	if req.AfterRestore, err = request.Bool(params, "after_restore"); err != nil {
		return req, err
	}
	return req, nil
}

// Restore streams a stored artifact back to its origin.
func (h *Backup) Restore(w http.ResponseWriter, r *http.Request) {
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

	rc, rec, err := h.orch.PerformRestore(r.Context(), backup.RestoreRequest{
		Origin:      params["origin"],
		Destination: params["destination"],
		Name:        params["name"],
	})
	if err != nil {
		writeFailure(w, r, "restore", err, p.Secret)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	if rec.SHA1Sum != "" {
		w.Header().Set("X-Backup-Sha1", rec.SHA1Sum)
	}
	w.WriteHeader(http.StatusOK)

	// Headers are gone; a broken stream can only be logged.
	if _, err := destination.Copy(r.Context(), w, rc); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("action", "restore").
			Str("name", rec.Name).Msg("restore stream interrupted")
	}
}

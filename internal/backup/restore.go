package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/metrics"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

type RestoreRequest struct {
	Origin      string
	Destination string
	Name        string
}

// PerformRestore opens the stored artifact of a successful backup. The caller
// owns the returned stream. No record is modified.
func (o *Orchestrator) PerformRestore(ctx context.Context, req RestoreRequest) (io.ReadCloser, model.Backup, error) {
	var rec model.Backup
	if strings.TrimSpace(req.Origin) == "" || strings.TrimSpace(req.Destination) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, rec, fmt.Errorf("%w: origin, destination and name are required", ErrValidation)
	}

	t, err := o.resolve(ctx, req.Origin, req.Destination)
	if err != nil {
		return nil, rec, err
	}

	rec, err = o.store.FindSuccessfulBackup(ctx, t.origin.ID, t.dest.ID, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rec, fmt.Errorf("%w: %s on %s", ErrBackupNotFound, req.Name, t.dest.Name)
		}
		return nil, rec, fmt.Errorf("find backup: %w", err)
	}

	start := time.Now()
	rc, err := t.backend.Restore(ctx, t.subdir(), rec.Name)
	if err != nil {
		metrics.ObserveTransfer("restore", t.typ(), metrics.OutcomeFailure, 0, time.Since(start))
		log.Error().
			Err(err).
			Str("action", "restore").
			Str("destination", t.dest.Name).
			Str("name", rec.Name).
			Msg("restore failed")
		return nil, rec, fmt.Errorf("restore %s: %w", rec.Name, err)
	}
	log.Info().
		Str("action", "restore").
		Str("origin", t.origin.Name).
		Str("destination", t.dest.Name).
		Str("name", rec.Name).
		Msg("restore stream opened")

	return &meteredStream{rc: rc, typ: t.typ(), start: start}, rec, nil
}

// ListBackups returns an origin's backups on a destination, newest first.
func (o *Orchestrator) ListBackups(ctx context.Context, originName, destinationName string) ([]model.Backup, error) {
	origin, err := o.store.GetOriginByName(ctx, originName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOrigin, originName)
		}
		return nil, err
	}
	dest, err := o.store.GetDestinationByName(ctx, destinationName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, destinationName)
		}
		return nil, err
	}
	return o.store.ListBackups(ctx, origin.ID, dest.ID)
}

// meteredStream records restore metrics once the caller closes it.
type meteredStream struct {
	rc    io.ReadCloser
	typ   string
	start time.Time
	n     int64
	err   error
}

func (m *meteredStream) Read(p []byte) (int, error) {
	n, err := m.rc.Read(p)
	m.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		m.err = err
	}
	return n, err
}

func (m *meteredStream) Close() error {
	err := m.rc.Close()
	outcome := metrics.OutcomeSuccess
	if m.err != nil || err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.ObserveTransfer("restore", m.typ, outcome, m.n, time.Since(m.start))
	return err
}

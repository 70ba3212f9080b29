// Package backup ties Backup records to destination transfers: it resolves
// origins and destinations, serializes writes per artifact path, verifies
// artifacts through restore probes and rolls records back on failure.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnknownOrigin      = errors.New("unknown origin")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrBackupNotFound     = errors.New("backup not found")
	// ErrUnsupportedDestinationType is a configuration defect, never a user error.
	ErrUnsupportedDestinationType = destination.ErrUnsupportedType
	// ErrDestinationMisconfigured wraps every failure to build the backend of
	// a stored destination. Like an unsupported type it is a server fault.
	ErrDestinationMisconfigured = errors.New("destination is misconfigured")
	// ErrChecksumMismatch is a transfer failure: the upload is never committed.
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", destination.ErrTransfer)
)

// cleanupTimeout bounds compensating deletes that run after ctx is done.
const cleanupTimeout = 30 * time.Second

// BackendFactory builds the transfer backend for a destination.
type BackendFactory func(ctx context.Context, dest model.Destination, opts destination.Options) (destination.Backend, error)

type Orchestrator struct {
	store      store.Store
	newBackend BackendFactory
	opts       destination.Options
	tsFormat   string
	locks      *kmutex.Kmutex
	now        func() time.Time
}

type Option func(*Orchestrator)

// WithBackendFactory replaces destination.New.
func WithBackendFactory(f BackendFactory) Option {
	return func(o *Orchestrator) { o.newBackend = f }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTimestampFormat sets the layout used for default artifact names.
func WithTimestampFormat(layout string) Option {
	return func(o *Orchestrator) {
		if layout != "" {
			o.tsFormat = layout
		}
	}
}

func New(st store.Store, opts destination.Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		newBackend: destination.New,
		opts:       opts,
		tsFormat:   defaultTimestampFormat,
		locks:      kmutex.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// target is a resolved origin/destination pair with its backend.
type target struct {
	origin  model.Origin
	dest    model.Destination
	backend destination.Backend
}

func (t target) subdir() string { return t.origin.Name }

func (t target) typ() string { return string(t.dest.Type) }

// resolve looks up both records and builds the backend, in that order.
// Nothing is written.
func (o *Orchestrator) resolve(ctx context.Context, originName, destinationName string) (target, error) {
	var t target

	origin, err := o.store.GetOriginByName(ctx, originName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return t, fmt.Errorf("%w: %s", ErrUnknownOrigin, originName)
		}
		return t, fmt.Errorf("resolve origin: %w", err)
	}

	dest, err := o.store.GetDestinationByName(ctx, destinationName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return t, fmt.Errorf("%w: %s", ErrUnknownDestination, destinationName)
		}
		return t, fmt.Errorf("resolve destination: %w", err)
	}

	backend, err := o.newBackend(ctx, dest, o.opts)
	if err != nil {
		log.Error().Err(err).Str("action", "resolve_backend").Str("destination", dest.Name).
			Str("type", string(dest.Type)).Msg("cannot build destination backend")
		return t, fmt.Errorf("%w: %s: %w", ErrDestinationMisconfigured, dest.Name, err)
	}

	return target{origin: origin, dest: dest, backend: backend}, nil
}

// lockKey identifies one artifact path on one destination.
func lockKey(destinationID, subdir, name string) string {
	return destinationID + "/" + subdir + "/" + name
}

// cleanupContext survives cancellation of ctx so compensating actions run.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

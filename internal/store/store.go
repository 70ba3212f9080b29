// Package store defines the durable record store for origins, destinations
// and backups.
package store

import (
	"context"
	"errors"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict covers duplicate names and deletes blocked by references.
	ErrConflict = errors.New("record conflict")
)

type Store interface {
	CreateOrigin(ctx context.Context, o *model.Origin) error
	GetOrigin(ctx context.Context, id string) (model.Origin, error)
	GetOriginByName(ctx context.Context, name string) (model.Origin, error)

	CreateDestination(ctx context.Context, d *model.Destination) error
	GetDestinationByName(ctx context.Context, name string) (model.Destination, error)
	ListDestinations(ctx context.Context) ([]model.Destination, error)
	UpdateDestination(ctx context.Context, d *model.Destination) error
	DeleteDestination(ctx context.Context, id string) error

	CreateBackup(ctx context.Context, b *model.Backup) error
	GetBackup(ctx context.Context, id string) (model.Backup, error)
	UpdateBackup(ctx context.Context, b *model.Backup) error
	DeleteBackup(ctx context.Context, id string) error
	// LatestSuccessfulBackup returns the newest successful backup of an
	// origin on a destination, by date. Verification records are skipped.
	LatestSuccessfulBackup(ctx context.Context, originID, destinationID string) (model.Backup, error)
	// FindSuccessfulBackup returns the newest successful non-verification
	// backup with name.
	FindSuccessfulBackup(ctx context.Context, originID, destinationID, name string) (model.Backup, error)
	// ListBackups returns an origin's backups on a destination, newest first.
	ListBackups(ctx context.Context, originID, destinationID string) ([]model.Backup, error)

	Ping(ctx context.Context) error
	Close()
}

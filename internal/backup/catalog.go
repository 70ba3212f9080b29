package backup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/platform"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

// Origin names double as artifact subdirectories.
var originName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidOriginName reports whether name can be registered.
func ValidOriginName(name string) bool {
	return originName.MatchString(name)
}

// Catalog manages origins and destinations.
type Catalog struct {
	store store.Store
}

func NewCatalog(st store.Store) *Catalog {
	return &Catalog{store: st}
}

// OriginAvailable reports whether name is still free.
func (c *Catalog) OriginAvailable(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("%w: origin is required", ErrValidation)
	}
	_, err := c.store.GetOriginByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// RegisterOrigin creates an origin with a fresh API key. A taken name
// fails with store.ErrConflict.
func (c *Catalog) RegisterOrigin(ctx context.Context, name string) (model.Origin, error) {
	if !ValidOriginName(name) {
		return model.Origin{}, fmt.Errorf("%w: invalid origin name %q", ErrValidation, name)
	}
	o := model.Origin{ID: platform.NewID(), Name: name, APIKey: platform.NewSecret()}
	if err := c.store.CreateOrigin(ctx, &o); err != nil {
		return model.Origin{}, err
	}
	log.Info().Str("action", "register_origin").Str("origin", name).Str("id", o.ID).Msg("origin registered")
	return o, nil
}

// DestinationNames lists the destinations an origin can back up to.
func (c *Catalog) DestinationNames(ctx context.Context) ([]string, error) {
	ds, err := c.store.ListDestinations(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d.Name)
	}
	return names, nil
}

func (c *Catalog) ListDestinations(ctx context.Context) ([]model.Destination, error) {
	return c.store.ListDestinations(ctx)
}

func (c *Catalog) GetDestination(ctx context.Context, name string) (model.Destination, error) {
	d, err := c.store.GetDestinationByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return d, fmt.Errorf("%w: %s", ErrUnknownDestination, name)
	}
	return d, err
}

// CreateDestination validates d and stores it under a new id.
func (c *Catalog) CreateDestination(ctx context.Context, d model.Destination) (model.Destination, error) {
	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !slices.Contains(destination.Registered(), d.Type) {
		return d, fmt.Errorf("%w: %q", ErrUnsupportedDestinationType, d.Type)
	}
	d.ID = platform.NewID()
	if err := c.store.CreateDestination(ctx, &d); err != nil {
		return d, err
	}
	log.Info().Str("action", "create_destination").Str("destination", d.Name).Str("type", string(d.Type)).Msg("destination created")
	return d, nil
}

// UpdateDestination applies the non-empty fields of patch. The type is
// immutable.
func (c *Catalog) UpdateDestination(ctx context.Context, name string, patch model.Destination) (model.Destination, error) {
	d, err := c.GetDestination(ctx, name)
	if err != nil {
		return d, err
	}
	if err := d.Merge(patch); err != nil {
		return d, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := c.store.UpdateDestination(ctx, &d); err != nil {
		return d, err
	}
	log.Info().Str("action", "update_destination").Str("destination", d.Name).Msg("destination updated")
	return d, nil
}

// DeleteDestination removes a destination that no backup references.
func (c *Catalog) DeleteDestination(ctx context.Context, name string) error {
	d, err := c.GetDestination(ctx, name)
	if err != nil {
		return err
	}
	if err := c.store.DeleteDestination(ctx, d.ID); err != nil {
		return err
	}
	log.Info().Str("action", "delete_destination").Str("destination", name).Msg("destination deleted")
	return nil
}

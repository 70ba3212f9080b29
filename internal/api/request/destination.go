package request

import (
	"encoding/json"
	"fmt"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
)

// CreateDestination is the signed form accepted by POST /api/destinations.
// Config holds the variant fields as a JSON object.
type CreateDestination struct {
	Name   string `validate:"required,max=128"`
	Type   string `validate:"required,oneof=local sftp api azure s3"`
	Config string `validate:"required,json"`
}

// UpdateDestination is the signed form accepted by PATCH. Empty fields are
// left unchanged.
type UpdateDestination struct {
	Name   string `validate:"omitempty,max=128"`
	Type   string `validate:"omitempty,oneof=local sftp api azure s3"`
	Config string `validate:"omitempty,json"`
}

func (c CreateDestination) Destination() (model.Destination, error) {
	d := model.Destination{Name: c.Name, Type: model.DestinationType(c.Type)}
	if err := decodeVariant(&d, c.Config); err != nil {
		return d, err
	}
	return d, nil
}

// Patch builds the partial destination passed to model.Destination.Merge.
// A config without a type is decoded against current.
func (u UpdateDestination) Patch(current model.DestinationType) (model.Destination, error) {
	d := model.Destination{Name: u.Name, Type: model.DestinationType(u.Type)}
	if u.Config == "" {
		return d, nil
	}
	variant := d
	if variant.Type == "" {
		variant.Type = current
	}
	if err := decodeVariant(&variant, u.Config); err != nil {
		return d, err
	}
	variant.Type = d.Type
	return variant, nil
}

func decodeVariant(d *model.Destination, raw string) error {
	var target any
	switch d.Type {
	case model.DestinationLocal:
		d.Local = &model.LocalConfig{}
		target = d.Local
	case model.DestinationSFTP:
		d.SFTP = &model.SFTPConfig{}
		target = d.SFTP
	case model.DestinationAPI:
		d.API = &model.APIConfig{}
		target = d.API
	case model.DestinationAzure:
		d.Azure = &model.AzureConfig{}
		target = d.Azure
	case model.DestinationS3:
		d.S3 = &model.S3Config{}
		target = d.S3
	default:
		return fmt.Errorf("%w: unknown destination type %q", ErrInvalid, d.Type)
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("%w: config: %w", ErrInvalid, err)
	}
	return nil
}

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DestinationType discriminates the storage variant of a Destination.
type DestinationType string

const (
	DestinationLocal DestinationType = "local"
	DestinationSFTP  DestinationType = "sftp"
	DestinationAPI   DestinationType = "api"
	DestinationAzure DestinationType = "azure"
	DestinationS3    DestinationType = "s3"
)

var (
	ErrInvalidDestination = errors.New("invalid destination")
	ErrTypeImmutable      = errors.New("destination type cannot be changed")
)

// Destination is a named storage target. Exactly one of the variant configs
// is populated and it always matches Type.
type Destination struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      DestinationType `json:"type"`
	Local     *LocalConfig    `json:"local,omitempty"`
	SFTP      *SFTPConfig     `json:"sftp,omitempty"`
	API       *APIConfig      `json:"api,omitempty"`
	Azure     *AzureConfig    `json:"azure,omitempty"`
	S3        *S3Config       `json:"s3,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LocalConfig struct {
	Directory string `json:"directory"`
}

type SFTPConfig struct {
	Hostname    string `json:"hostname"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	KeyFilename string `json:"key_filename"`
	Directory   string `json:"directory"`
}

type APIConfig struct {
	PubKey  string `json:"pubkey"`
	BaseURI string `json:"base_uri"`
	SetURI  string `json:"set_uri"`
	GetURI  string `json:"get_uri"`
}

// AzureConfig mirrors the credential priority of the azblob client:
// SAS token, then service principal, then the default credential chain.
type AzureConfig struct {
	Account      string `json:"account"`
	Container    string `json:"container"`
	Prefix       string `json:"prefix,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	SASToken     string `json:"sas_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`
}

// KnownType reports whether t names a supported variant.
func KnownType(t DestinationType) bool {
	switch t {
	case DestinationLocal, DestinationSFTP, DestinationAPI, DestinationAzure, DestinationS3:
		return true
	}
	return false
}

// Validate checks that exactly one variant is populated, that it matches
// Type, and that its required fields are present.
func (d *Destination) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDestination)
	}
	if !KnownType(d.Type) {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidDestination, d.Type)
	}

	populated := d.populated()
	if len(populated) != 1 {
		return fmt.Errorf("%w: exactly one variant config must be set, got %d", ErrInvalidDestination, len(populated))
	}
	if populated[0] != d.Type {
		return fmt.Errorf("%w: type %q does not match %q config", ErrInvalidDestination, d.Type, populated[0])
	}

	var missing []string
	switch d.Type {
	case DestinationLocal:
		missing = required(map[string]string{"directory": d.Local.Directory})
	case DestinationSFTP:
		missing = required(map[string]string{
			"hostname":     d.SFTP.Hostname,
			"username":     d.SFTP.Username,
			"key_filename": d.SFTP.KeyFilename,
		})
		if d.SFTP.Port < 0 || d.SFTP.Port > 65535 {
			return fmt.Errorf("%w: sftp port %d out of range", ErrInvalidDestination, d.SFTP.Port)
		}
	case DestinationAPI:
		missing = required(map[string]string{
			"pubkey":   d.API.PubKey,
			"base_uri": d.API.BaseURI,
		})
	case DestinationAzure:
		missing = required(map[string]string{
			"account":   d.Azure.Account,
			"container": d.Azure.Container,
		})
	case DestinationS3:
		missing = required(map[string]string{
			"bucket":     d.S3.Bucket,
			"region":     d.S3.Region,
			"access_key": d.S3.AccessKey,
			"secret_key": d.S3.SecretKey,
		})
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidDestination, d.Type, strings.Join(missing, ", "))
	}
	return nil
}

func (d *Destination) populated() []DestinationType {
	var out []DestinationType
	if d.Local != nil {
		out = append(out, DestinationLocal)
	}
	if d.SFTP != nil {
		out = append(out, DestinationSFTP)
	}
	if d.API != nil {
		out = append(out, DestinationAPI)
	}
	if d.Azure != nil {
		out = append(out, DestinationAzure)
	}
	if d.S3 != nil {
		out = append(out, DestinationS3)
	}
	return out
}

// required returns the names of empty fields in a stable order.
func required(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{
		"directory", "hostname", "username", "key_filename", "pubkey", "base_uri",
		"account", "container", "bucket", "region", "access_key", "secret_key",
	} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Merge applies the non-empty fields of u onto d. Only the variant matching
// d.Type is considered; a different Type in u is rejected.
func (d *Destination) Merge(u Destination) error {
	if u.Type != "" && u.Type != d.Type {
		return ErrTypeImmutable
	}
	for _, t := range u.populated() {
		if t != d.Type {
			return ErrTypeImmutable
		}
	}
	if u.Name != "" {
		d.Name = u.Name
	}
	d.detach()
	if p := d.populated(); len(p) != 1 || p[0] != d.Type {
		return d.Validate()
	}

	switch d.Type {
	case DestinationLocal:
		if u.Local != nil {
			setStr(&d.Local.Directory, u.Local.Directory)
		}
	case DestinationSFTP:
		if u.SFTP != nil {
			setStr(&d.SFTP.Hostname, u.SFTP.Hostname)
			setStr(&d.SFTP.Username, u.SFTP.Username)
			setStr(&d.SFTP.KeyFilename, u.SFTP.KeyFilename)
			setStr(&d.SFTP.Directory, u.SFTP.Directory)
			if u.SFTP.Port != 0 {
				d.SFTP.Port = u.SFTP.Port
			}
		}
	case DestinationAPI:
		if u.API != nil {
			setStr(&d.API.PubKey, u.API.PubKey)
			setStr(&d.API.BaseURI, u.API.BaseURI)
			setStr(&d.API.SetURI, u.API.SetURI)
			setStr(&d.API.GetURI, u.API.GetURI)
		}
	case DestinationAzure:
		if u.Azure != nil {
			setStr(&d.Azure.Account, u.Azure.Account)
			setStr(&d.Azure.Container, u.Azure.Container)
			setStr(&d.Azure.Prefix, u.Azure.Prefix)
			setStr(&d.Azure.Endpoint, u.Azure.Endpoint)
			setStr(&d.Azure.SASToken, u.Azure.SASToken)
			setStr(&d.Azure.ClientID, u.Azure.ClientID)
			setStr(&d.Azure.ClientSecret, u.Azure.ClientSecret)
			setStr(&d.Azure.TenantID, u.Azure.TenantID)
		}
	case DestinationS3:
		if u.S3 != nil {
			setStr(&d.S3.Endpoint, u.S3.Endpoint)
			setStr(&d.S3.Region, u.S3.Region)
			setStr(&d.S3.Bucket, u.S3.Bucket)
			setStr(&d.S3.Prefix, u.S3.Prefix)
			setStr(&d.S3.AccessKey, u.S3.AccessKey)
			setStr(&d.S3.SecretKey, u.S3.SecretKey)
			if u.S3.PathStyle {
				d.S3.PathStyle = true
			}
		}
	}
	return d.Validate()
}

// detach gives d its own copy of the variant config so in-place edits do not
// leak into values that share the pointer.
func (d *Destination) detach() {
	if d.Local != nil {
		c := *d.Local
		d.Local = &c
	}
	if d.SFTP != nil {
		c := *d.SFTP
		d.SFTP = &c
	}
	if d.API != nil {
		c := *d.API
		d.API = &c
	}
	if d.Azure != nil {
		c := *d.Azure
		d.Azure = &c
	}
	if d.S3 != nil {
		c := *d.S3
		d.S3 = &c
	}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Redacted returns a copy safe to expose over the API: secrets are masked.
func (d Destination) Redacted() Destination {
	const mask = "********"
	out := d
	if d.API != nil {
		c := *d.API
		c.PubKey = mask
		out.API = &c
	}
	if d.Azure != nil {
		c := *d.Azure
		if c.SASToken != "" {
			c.SASToken = mask
		}
		if c.ClientSecret != "" {
			c.ClientSecret = mask
		}
		out.Azure = &c
	}
	if d.S3 != nil {
		c := *d.S3
		c.SecretKey = mask
		out.S3 = &c
	}
	return out
}

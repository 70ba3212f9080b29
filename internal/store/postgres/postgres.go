// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

// DB defines the database operations used by the store.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// New wraps a pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// NewWithDB wraps any DB; Ping and Close are no-ops without a pool.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// classify maps driver errors onto store sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return fmt.Errorf("%s: %w: %s", op, store.ErrConflict, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}

// ---------- Origins ----------

func (s *Store) CreateOrigin(ctx context.Context, o *model.Origin) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO origins (id, name, apikey) VALUES ($1, $2, $3) RETURNING created_at`,
		o.ID, o.Name, o.APIKey,
	).Scan(&o.CreatedAt)
	return classify("insert origin", err)
}

func (s *Store) GetOrigin(ctx context.Context, id string) (model.Origin, error) {
	var o model.Origin
	err := s.db.QueryRow(ctx,
		`SELECT id, name, apikey, created_at FROM origins WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.APIKey, &o.CreatedAt)
	return o, classify("get origin "+id, err)
}

func (s *Store) GetOriginByName(ctx context.Context, name string) (model.Origin, error) {
	var o model.Origin
	err := s.db.QueryRow(ctx,
		`SELECT id, name, apikey, created_at FROM origins WHERE name = $1`, name,
	).Scan(&o.ID, &o.Name, &o.APIKey, &o.CreatedAt)
	return o, classify("get origin by name "+name, err)
}

// ---------- Destinations ----------

// encodeConfig serializes the populated variant of d.
func encodeConfig(d *model.Destination) ([]byte, error) {
	var v any
	switch d.Type {
	case model.DestinationLocal:
		v = d.Local
	case model.DestinationSFTP:
		v = d.SFTP
	case model.DestinationAPI:
		v = d.API
	case model.DestinationAzure:
		v = d.Azure
	case model.DestinationS3:
		v = d.S3
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidDestination, d.Type)
	}
	return json.Marshal(v)
}

// decodeConfig fills the variant of d matching d.Type from raw.
func decodeConfig(d *model.Destination, raw []byte) error {
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
		// Stored by an older release; surfaces as unsupported at dispatch.
		return nil
	}
	return json.Unmarshal(raw, target)
}

const destinationColumns = `id, name, type, config, created_at, updated_at`

func scanDestination(row pgx.Row) (model.Destination, error) {
	var (
		d   model.Destination
		raw []byte
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &raw, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	if err := decodeConfig(&d, raw); err != nil {
		return d, fmt.Errorf("decode destination config: %w", err)
	}
	return d, nil
}

func (s *Store) CreateDestination(ctx context.Context, d *model.Destination) error {
	raw, err := encodeConfig(d)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO destinations (id, name, type, config) VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		d.ID, d.Name, string(d.Type), raw,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return classify("insert destination", err)
}

func (s *Store) GetDestinationByName(ctx context.Context, name string) (model.Destination, error) {
	d, err := scanDestination(s.db.QueryRow(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE name = $1`, name))
	return d, classify("get destination "+name, err)
}

func (s *Store) ListDestinations(ctx context.Context) ([]model.Destination, error) {
	rows, err := s.db.Query(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY name`)
	if err != nil {
		return nil, classify("list destinations", err)
	}
	defer rows.Close()

	var out []model.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate destinations: %w", err)
	}
	return out, nil
}

// UpdateDestination persists name and config; type is never rewritten.
func (s *Store) UpdateDestination(ctx context.Context, d *model.Destination) error {
	raw, err := encodeConfig(d)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`UPDATE destinations SET name = $1, config = $2, updated_at = now()
		 WHERE id = $3 AND type = $4 RETURNING updated_at`,
		d.Name, raw, d.ID, string(d.Type),
	).Scan(&d.UpdatedAt)
	return classify("update destination "+d.ID, err)
}

func (s *Store) DeleteDestination(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	return affected("delete destination "+id, tag, err)
}

// ---------- Backups ----------

const backupColumns = `id, name, origin_id, destination_id, date, success, before_restore, after_restore,
	restore_dt, related_to, is_verification, sha1sum, size_bytes, created_at`

func scanBackup(row pgx.Row) (model.Backup, error) {
	var b model.Backup
	err := row.Scan(&b.ID, &b.Name, &b.OriginID, &b.DestinationID, &b.Date, &b.Success,
		&b.BeforeRestore, &b.AfterRestore, &b.RestoreDT, &b.RelatedTo, &b.IsVerification,
		&b.SHA1Sum, &b.SizeBytes, &b.CreatedAt)
	return b, err
}

func (s *Store) CreateBackup(ctx context.Context, b *model.Backup) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO backups (id, name, origin_id, destination_id, date, success, before_restore, after_restore,
		                      restore_dt, related_to, is_verification, sha1sum, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at`,
		b.ID, b.Name, b.OriginID, b.DestinationID, b.Date, b.Success, b.BeforeRestore, b.AfterRestore,
		b.RestoreDT, b.RelatedTo, b.IsVerification, b.SHA1Sum, b.SizeBytes,
	).Scan(&b.CreatedAt)
	return classify("insert backup", err)
}

func (s *Store) GetBackup(ctx context.Context, id string) (model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id))
	return b, classify("get backup "+id, err)
}

func (s *Store) UpdateBackup(ctx context.Context, b *model.Backup) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backups SET name = $1, success = $2, restore_dt = $3, related_to = $4, sha1sum = $5, size_bytes = $6
		 WHERE id = $7`,
		b.Name, b.Success, b.RestoreDT, b.RelatedTo, b.SHA1Sum, b.SizeBytes, b.ID,
	)
	return affected("update backup "+b.ID, tag, err)
}

func (s *Store) DeleteBackup(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM backups WHERE id = $1`, id)
	return affected("delete backup "+id, tag, err)
}

func (s *Store) LatestSuccessfulBackup(ctx context.Context, originID, destinationID string) (model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE origin_id = $1 AND destination_id = $2 AND success = true AND NOT is_verification
		 ORDER BY date DESC, created_at DESC LIMIT 1`,
		originID, destinationID))
	return b, classify("latest backup", err)
}

func (s *Store) FindSuccessfulBackup(ctx context.Context, originID, destinationID, name string) (model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE origin_id = $1 AND destination_id = $2 AND name = $3 AND success = true AND NOT is_verification
		 ORDER BY date DESC, created_at DESC LIMIT 1`,
		originID, destinationID, name))
	return b, classify("find backup "+name, err)
}

func (s *Store) ListBackups(ctx context.Context, originID, destinationID string) ([]model.Backup, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE origin_id = $1 AND destination_id = $2
		 ORDER BY date DESC, created_at DESC`,
		originID, destinationID)
	if err != nil {
		return nil, classify("list backups", err)
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return out, nil
}

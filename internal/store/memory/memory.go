// Package memory is a process-local store.Store used for tests and
// single-node deployments without a database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	origins      map[string]model.Origin
	destinations map[string]model.Destination
	backups      map[string]model.Backup
	now          func() time.Time
}

func New() *Store {
	return &Store{
		origins:      map[string]model.Origin{},
		destinations: map[string]model.Destination{},
		backups:      map[string]model.Backup{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

// ---------- Origins ----------

func (s *Store) CreateOrigin(_ context.Context, o *model.Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.origins[o.ID]; ok {
		return fmt.Errorf("insert origin: %w: id %s", store.ErrConflict, o.ID)
	}
	for _, existing := range s.origins {
		if existing.Name == o.Name {
			return fmt.Errorf("insert origin: %w: name %s", store.ErrConflict, o.Name)
		}
	}
	o.CreatedAt = s.now()
	s.origins[o.ID] = *o
	return nil
}

func (s *Store) GetOrigin(_ context.Context, id string) (model.Origin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.origins[id]
	if !ok {
		return model.Origin{}, fmt.Errorf("get origin %s: %w", id, store.ErrNotFound)
	}
	return o, nil
}

func (s *Store) GetOriginByName(_ context.Context, name string) (model.Origin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.origins {
		if o.Name == name {
			return o, nil
		}
	}
	return model.Origin{}, fmt.Errorf("get origin by name %s: %w", name, store.ErrNotFound)
}

// ---------- Destinations ----------

// clone detaches the variant config so callers cannot mutate stored state.
func clone(d model.Destination) model.Destination {
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
	return d
}

func (s *Store) nameTaken(name, exceptID string) bool {
	for id, d := range s.destinations {
		if d.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) CreateDestination(_ context.Context, d *model.Destination) error {
	if !model.KnownType(d.Type) {
		return fmt.Errorf("%w: %q", model.ErrInvalidDestination, d.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.destinations[d.ID]; ok || s.nameTaken(d.Name, "") {
		return fmt.Errorf("insert destination: %w: %s", store.ErrConflict, d.Name)
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.destinations[d.ID] = clone(*d)
	return nil
}

func (s *Store) GetDestinationByName(_ context.Context, name string) (model.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.destinations {
		if d.Name == name {
			return clone(d), nil
		}
	}
	return model.Destination{}, fmt.Errorf("get destination %s: %w", name, store.ErrNotFound)
}

func (s *Store) ListDestinations(context.Context) ([]model.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Destination, 0, len(s.destinations))
	for _, d := range s.destinations {
		out = append(out, clone(d))
	}
	slices.SortFunc(out, func(a, b model.Destination) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) UpdateDestination(_ context.Context, d *model.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.destinations[d.ID]
	if !ok || cur.Type != d.Type {
		return fmt.Errorf("update destination %s: %w", d.ID, store.ErrNotFound)
	}
	if s.nameTaken(d.Name, d.ID) {
		return fmt.Errorf("update destination: %w: %s", store.ErrConflict, d.Name)
	}
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = s.now()
	s.destinations[d.ID] = clone(*d)
	return nil
}

func (s *Store) DeleteDestination(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.destinations[id]; !ok {
		return fmt.Errorf("delete destination %s: %w", id, store.ErrNotFound)
	}
	for _, b := range s.backups {
		if b.DestinationID == id {
			return fmt.Errorf("delete destination %s: %w: backups still reference it", id, store.ErrConflict)
		}
	}
	delete(s.destinations, id)
	return nil
}

// ---------- Backups ----------

func copyBackup(b model.Backup) model.Backup {
	if b.OriginID != nil {
		v := *b.OriginID
		b.OriginID = &v
	}
	if b.Success != nil {
		v := *b.Success
		b.Success = &v
	}
	if b.RestoreDT != nil {
		v := *b.RestoreDT
		b.RestoreDT = &v
	}
	if b.RelatedTo != nil {
		v := *b.RelatedTo
		b.RelatedTo = &v
	}
	return b
}

func (s *Store) CreateBackup(_ context.Context, b *model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[b.ID]; ok {
		return fmt.Errorf("insert backup: %w: id %s", store.ErrConflict, b.ID)
	}
	if _, ok := s.destinations[b.DestinationID]; !ok {
		return fmt.Errorf("insert backup: %w: unknown destination %s", store.ErrConflict, b.DestinationID)
	}
	b.CreatedAt = s.now()
	s.backups[b.ID] = copyBackup(*b)
	return nil
}

func (s *Store) GetBackup(_ context.Context, id string) (model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backups[id]
	if !ok {
		return model.Backup{}, fmt.Errorf("get backup %s: %w", id, store.ErrNotFound)
	}
	return copyBackup(b), nil
}

func (s *Store) UpdateBackup(_ context.Context, b *model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.backups[b.ID]
	if !ok {
		return fmt.Errorf("update backup %s: %w", b.ID, store.ErrNotFound)
	}
	cur.Name = b.Name
	cur.Success = b.Success
	cur.RestoreDT = b.RestoreDT
	cur.RelatedTo = b.RelatedTo
	cur.SHA1Sum = b.SHA1Sum
	cur.SizeBytes = b.SizeBytes
	s.backups[b.ID] = copyBackup(cur)
	return nil
}

func (s *Store) DeleteBackup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[id]; !ok {
		return fmt.Errorf("delete backup %s: %w", id, store.ErrNotFound)
	}
	delete(s.backups, id)
	for k, b := range s.backups {
		if b.RelatedTo != nil && *b.RelatedTo == id {
			b.RelatedTo = nil
			s.backups[k] = b
		}
	}
	return nil
}

// matching returns the origin's backups on a destination, newest first.
// Callers hold s.mu.
func (s *Store) matching(originID, destinationID string, keep func(model.Backup) bool) []model.Backup {
	var out []model.Backup
	for _, b := range s.backups {
		if b.OriginID == nil || *b.OriginID != originID || b.DestinationID != destinationID {
			continue
		}
		if keep != nil && !keep(b) {
			continue
		}
		out = append(out, copyBackup(b))
	}
	slices.SortFunc(out, func(a, b model.Backup) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (s *Store) LatestSuccessfulBackup(_ context.Context, originID, destinationID string) (model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.matching(originID, destinationID, func(b model.Backup) bool {
		return b.Succeeded() && !b.IsVerification
	})
	if len(out) == 0 {
		return model.Backup{}, fmt.Errorf("latest backup: %w", store.ErrNotFound)
	}
	return out[0], nil
}

func (s *Store) FindSuccessfulBackup(_ context.Context, originID, destinationID, name string) (model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.matching(originID, destinationID, func(b model.Backup) bool {
		return b.Succeeded() && !b.IsVerification && b.Name == name
	})
	if len(out) == 0 {
		return model.Backup{}, fmt.Errorf("find backup %s: %w", name, store.ErrNotFound)
	}
	return out[0], nil
}

func (s *Store) ListBackups(_ context.Context, originID, destinationID string) ([]model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matching(originID, destinationID, nil), nil
}

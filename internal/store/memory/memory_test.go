package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T) (*Store, model.Origin, model.Destination) {
	t.Helper()
	s := New()
	ctx := context.Background()
	o := model.Origin{ID: "o-1", Name: "alice", APIKey: "k"}
	require.NoError(t, s.CreateOrigin(ctx, &o))
	d := model.Destination{ID: "d-1", Name: "disk", Type: model.DestinationLocal, Local: &model.LocalConfig{Directory: "/x"}}
	require.NoError(t, s.CreateDestination(ctx, &d))
	return s, o, d
}

func TestOrigins(t *testing.T) {
	s, o, _ := seed(t)
	ctx := context.Background()

	got, err := s.GetOriginByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateOrigin(ctx, &model.Origin{ID: "o-2", Name: "alice"})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetOrigin(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDestinations_CopiesAreDetached(t *testing.T) {
	s, _, _ := seed(t)
	ctx := context.Background()

	d, err := s.GetDestinationByName(ctx, "disk")
	require.NoError(t, err)
	d.Local.Directory = "/mutated"

	again, err := s.GetDestinationByName(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, "/x", again.Local.Directory)
}

func TestDestinations_UpdateAndConflicts(t *testing.T) {
	s, _, d := seed(t)
	ctx := context.Background()

	other := model.Destination{ID: "d-2", Name: "other", Type: model.DestinationLocal, Local: &model.LocalConfig{Directory: "/y"}}
	require.NoError(t, s.CreateDestination(ctx, &other))

	d.Name = "other"
	require.ErrorIs(t, s.UpdateDestination(ctx, &d), store.ErrConflict)

	d.Name = "renamed"
	require.NoError(t, s.UpdateDestination(ctx, &d))
	list, err := s.ListDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "other", list[0].Name)
	assert.Equal(t, "renamed", list[1].Name)

	d.Type = model.DestinationS3
	require.ErrorIs(t, s.UpdateDestination(ctx, &d), store.ErrNotFound)
}

func TestDeleteDestination_BlockedByBackups(t *testing.T) {
	s, o, d := seed(t)
	ctx := context.Background()

	b := model.Backup{ID: "b-1", Name: "x", OriginID: &o.ID, DestinationID: d.ID, Date: time.Now()}
	require.NoError(t, s.CreateBackup(ctx, &b))
	require.ErrorIs(t, s.DeleteDestination(ctx, d.ID), store.ErrConflict)

	require.NoError(t, s.DeleteBackup(ctx, b.ID))
	require.NoError(t, s.DeleteDestination(ctx, d.ID))
	require.ErrorIs(t, s.DeleteDestination(ctx, d.ID), store.ErrNotFound)
}

func TestCreateBackup_UnknownDestination(t *testing.T) {
	s, o, _ := seed(t)
	err := s.CreateBackup(context.Background(), &model.Backup{ID: "b", OriginID: &o.ID, DestinationID: "ghost"})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestLatestSuccessfulBackup_SkipsVerificationRecords(t *testing.T) {
	s, o, d := seed(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	main := model.Backup{ID: "b-1", Name: "one", OriginID: &o.ID, DestinationID: d.ID, Date: base, Success: ptr(true)}
	require.NoError(t, s.CreateBackup(ctx, &main))
	probe := model.Backup{
		ID: "v-1", Name: "one", OriginID: &o.ID, DestinationID: d.ID, Date: base.Add(time.Hour),
		Success: ptr(true), RestoreDT: ptr(base.Add(time.Hour)), IsVerification: true,
	}
	require.NoError(t, s.CreateBackup(ctx, &probe))
	main.RelatedTo = &probe.ID
	require.NoError(t, s.UpdateBackup(ctx, &main))

	failed := model.Backup{ID: "b-2", Name: "two", OriginID: &o.ID, DestinationID: d.ID, Date: base.Add(2 * time.Hour), Success: ptr(false)}
	require.NoError(t, s.CreateBackup(ctx, &failed))

	got, err := s.LatestSuccessfulBackup(ctx, o.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "b-1", got.ID)

	_, err = s.LatestSuccessfulBackup(ctx, "o-other", d.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteBackup_ClearsRelatedTo(t *testing.T) {
	s, o, d := seed(t)
	ctx := context.Background()

	probe := model.Backup{ID: "v-1", Name: "x", OriginID: &o.ID, DestinationID: d.ID, Success: ptr(true)}
	require.NoError(t, s.CreateBackup(ctx, &probe))
	main := model.Backup{ID: "b-1", Name: "x", OriginID: &o.ID, DestinationID: d.ID, Success: ptr(true), RelatedTo: ptr("v-1")}
	require.NoError(t, s.CreateBackup(ctx, &main))

	require.NoError(t, s.DeleteBackup(ctx, "v-1"))
	got, err := s.GetBackup(ctx, "b-1")
	require.NoError(t, err)
	assert.Nil(t, got.RelatedTo)
}

func TestFindAndListBackups(t *testing.T) {
	s, o, d := seed(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "a"} {
		b := model.Backup{
			ID: name + string(rune('0'+i)), Name: name, OriginID: &o.ID, DestinationID: d.ID,
			Date: base.Add(time.Duration(i) * time.Minute), Success: ptr(i != 2),
		}
		require.NoError(t, s.CreateBackup(ctx, &b))
	}

	got, err := s.FindSuccessfulBackup(ctx, o.ID, d.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "a0", got.ID)

	_, err = s.FindSuccessfulBackup(ctx, o.ID, d.ID, "zzz")
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListBackups(ctx, o.ID, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a2", "b1", "a0"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/store"
)

// ---------- Mock DB ----------

type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// ---------- Mock Row(s) ----------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- helpers ----------

func scanDestinationRow(id, name string, typ model.DestinationType, cfg any, now time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = name
		*(dest[2].(*model.DestinationType)) = typ
		*(dest[3].(*[]byte)) = raw
		*(dest[4].(*time.Time)) = now
		*(dest[5].(*time.Time)) = now
		return nil
	}
}

func scanBackupRow(id, name string, originID *string, success bool, now time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = name
		*(dest[2].(**string)) = originID
		*(dest[3].(*string)) = "dst-1"
		*(dest[4].(*time.Time)) = now
		*(dest[5].(**bool)) = &success
		*(dest[6].(*bool)) = false
		*(dest[7].(*bool)) = true
		*(dest[8].(**time.Time)) = nil
		*(dest[9].(**string)) = nil
		*(dest[10].(*bool)) = false
		*(dest[11].(*string)) = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
		*(dest[12].(*int64)) = 42
		*(dest[13].(*time.Time)) = now
		return nil
	}
}

// ---------- Origins ----------

func TestCreateOrigin_SetsCreatedAt(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"o-1", "alice", "k"}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*time.Time)) = now
			return nil
		}})

	o := &model.Origin{ID: "o-1", Name: "alice", APIKey: "k"}
	require.NoError(t, s.CreateOrigin(ctx, o))
	assert.Equal(t, now, o.CreatedAt)
	db.AssertExpectations(t)
}

func TestCreateOrigin_DuplicateIsConflict(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(errRow(&pgconn.PgError{Code: "23505", ConstraintName: "origins_name_key"}))

	err := s.CreateOrigin(ctx, &model.Origin{ID: "o-1", Name: "alice", APIKey: "k"})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Contains(t, err.Error(), "origins_name_key")
}

func TestGetOrigin_NotFound(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"missing"}).Return(errRow(pgx.ErrNoRows))

	_, err := s.GetOrigin(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetOriginByName(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"alice"}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "o-1"
			*(dest[1].(*string)) = "alice"
			*(dest[2].(*string)) = "secret"
			*(dest[3].(*time.Time)) = time.Unix(0, 0)
			return nil
		}})

	o, err := s.GetOriginByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, "secret", o.APIKey)
}

// ---------- Destinations ----------

func TestCreateDestination_EncodesVariantConfig(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	var gotConfig []byte
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			params := args.Get(2).([]any)
			assert.Equal(t, "sftp", params[2])
			gotConfig = params[3].([]byte)
		}).
		Return(&mockRow{scanFunc: func(dest ...any) error { return nil }})

	d := &model.Destination{
		ID: "d-1", Name: "remote", Type: model.DestinationSFTP,
		SFTP: &model.SFTPConfig{Hostname: "h", Port: 22, Username: "u", KeyFilename: "/k", Directory: "/b"},
	}
	require.NoError(t, s.CreateDestination(ctx, d))
	assert.JSONEq(t, `{"hostname":"h","port":22,"username":"u","key_filename":"/k","directory":"/b"}`, string(gotConfig))
}

func TestCreateDestination_RejectsUnknownType(t *testing.T) {
	s := NewWithDB(&mockDB{})
	err := s.CreateDestination(context.Background(), &model.Destination{ID: "d", Name: "n", Type: "ftp"})
	require.ErrorIs(t, err, model.ErrInvalidDestination)
}

func TestGetDestinationByName_DecodesConfig(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"disk"}).
		Return(&mockRow{scanFunc: scanDestinationRow("d-1", "disk", model.DestinationLocal,
			model.LocalConfig{Directory: "/srv/backups"}, now)})

	d, err := s.GetDestinationByName(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, model.DestinationLocal, d.Type)
	require.NotNil(t, d.Local)
	assert.Equal(t, "/srv/backups", d.Local.Directory)
	assert.Nil(t, d.SFTP)
	require.NoError(t, d.Validate())
}

func TestListDestinations(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	rows := newMockRows(
		scanDestinationRow("d-1", "blob", model.DestinationAzure, model.AzureConfig{Account: "a", Container: "c"}, now),
		scanDestinationRow("d-2", "bucket", model.DestinationS3,
			model.S3Config{Region: "r", Bucket: "b", AccessKey: "ak", SecretKey: "sk"}, now),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	out, err := s.ListDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Azure.Account)
	assert.Equal(t, "sk", out[1].S3.SecretKey)
}

func TestListDestinations_Empty(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	out, err := s.ListDestinations(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListDestinations_RowsErr(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	rows := newEmptyMockRows()
	rows.err = errors.New("iteration failed")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := s.ListDestinations(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration failed")
}

func TestUpdateDestination_MissingIsNotFound(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	err := s.UpdateDestination(ctx, &model.Destination{
		ID: "d-1", Name: "disk", Type: model.DestinationLocal, Local: &model.LocalConfig{Directory: "/x"},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteDestination(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"d-1"}).Return(pgconn.NewCommandTag("DELETE 1"), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"d-2"}).Return(pgconn.NewCommandTag("DELETE 0"), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"d-3"}).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23503", ConstraintName: "backups_destination_id_fkey"})

	require.NoError(t, s.DeleteDestination(ctx, "d-1"))
	require.ErrorIs(t, s.DeleteDestination(ctx, "d-2"), store.ErrNotFound)
	require.ErrorIs(t, s.DeleteDestination(ctx, "d-3"), store.ErrConflict)
	db.AssertExpectations(t)
}

// ---------- Backups ----------

func TestCreateBackup(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*time.Time)) = now
			return nil
		}})

	origin := "o-1"
	b := &model.Backup{ID: "b-1", Name: "x.tar", OriginID: &origin, DestinationID: "dst-1", Date: now}
	require.NoError(t, s.CreateBackup(ctx, b))
	assert.Equal(t, now, b.CreatedAt)
	assert.True(t, b.Pending())
}

func TestLatestSuccessfulBackup(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	origin := "o-1"

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"o-1", "dst-1"}).
		Return(&mockRow{scanFunc: scanBackupRow("b-1", "x.tar", &origin, true, now)})

	b, err := s.LatestSuccessfulBackup(ctx, "o-1", "dst-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", b.ID)
	assert.True(t, b.Succeeded())
	assert.Equal(t, int64(42), b.SizeBytes)
	assert.True(t, b.AfterRestore)
}

func TestFindSuccessfulBackup_NotFound(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"o-1", "dst-1", "nope"}).Return(errRow(pgx.ErrNoRows))

	_, err := s.FindSuccessfulBackup(ctx, "o-1", "dst-1", "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListBackups(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	origin := "o-1"

	rows := newMockRows(
		scanBackupRow("b-2", "new.tar", &origin, true, now),
		scanBackupRow("b-1", "old.tar", &origin, false, now.Add(-time.Hour)),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"o-1", "dst-1"}).Return(rows, nil)

	out, err := s.ListBackups(ctx, "o-1", "dst-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b-2", out[0].ID)
	assert.False(t, out[1].Succeeded())
}

func TestListBackups_QueryError(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("connection lost"))

	out, err := s.ListBackups(ctx, "o-1", "dst-1")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "list backups")
}

func TestUpdateAndDeleteBackup(t *testing.T) {
	db := &mockDB{}
	s := NewWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"b-1"}).Return(pgconn.NewCommandTag("DELETE 0"), nil).Once()

	ok := true
	require.NoError(t, s.UpdateBackup(ctx, &model.Backup{ID: "b-1", Success: &ok}))
	require.ErrorIs(t, s.DeleteBackup(ctx, "b-1"), store.ErrNotFound)
	db.AssertExpectations(t)
}

func TestPingAndCloseWithoutPool(t *testing.T) {
	s := NewWithDB(&mockDB{})
	require.NoError(t, s.Ping(context.Background()))
	s.Close()
}

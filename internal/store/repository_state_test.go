package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

func newTestStateRepo(t *testing.T) (*stateRepository, sqlmock.Sqlmock, *sql.DB) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	l := logger.Nop()
	repo := &stateRepository{
		db:     newDB(conn, DialectPostgres, l),
		codec:  codec.New(codec.CompressionNone),
		logger: l,
	}
	return repo, mock, conn
}

func pgError(code string) error {
	return &pgconn.PgError{Code: code}
}

func TestSaveState_Insert(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	rec := stateRec(key(seriesA, 1), "dev1", "alice", "f1", time.Unix(1700000000, 0))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO activesync_state (sync_key,sync_data,sync_devid,sync_mod,sync_folderid,sync_user,sync_pending,sync_timestamp) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)")).
		WithArgs(rec.SyncKey, sqlmock.AnyArg(), "dev1", int64(0), "f1", "alice", sqlmock.AnyArg(), int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveState(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveState_DuplicateReplacesRow(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	rec := stateRec(key(seriesA, 2), "dev1", "alice", "f1", time.Now())

	mock.ExpectExec("INSERT INTO activesync_state").
		WillReturnError(pgError(pgerrcode.UniqueViolation))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activesync_state WHERE sync_key = $1")).
		WithArgs(rec.SyncKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activesync_state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SaveState(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveState_UnexpectedDBError(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO activesync_state").
		WillReturnError(pgError(pgerrcode.DiskFull))

	err := repo.SaveState(context.Background(), stateRec(key(seriesA, 1), "dev1", "alice", "f1", time.Now()))
	if !errors.Is(err, ErrExecutingStatement) {
		t.Fatalf("expected ErrExecutingStatement, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveState_CommitError(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO activesync_state").
		WillReturnError(pgError(pgerrcode.UniqueViolation))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM activesync_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activesync_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := repo.SaveState(context.Background(), stateRec(key(seriesA, 1), "dev1", "alice", "f1", time.Now()))
	if !errors.Is(err, ErrCommitingTransaction) {
		t.Fatalf("expected ErrCommitingTransaction, got %v", err)
	}
}

func TestLoadState_NotFound(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM activesync_state WHERE sync_devid = $1 AND sync_key = $2")).
		WithArgs("dev1", key(seriesA, 1)).
		WillReturnRows(sqlmock.NewRows(stateColumns))

	_, err := repo.LoadState(context.Background(), "dev1", key(seriesA, 1))
	if !errors.Is(err, ErrStateGone) {
		t.Fatalf("expected ErrStateGone, got %v", err)
	}
}

func TestLoadState_DecodesBlobs(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	snap := models.Snapshot{Class: models.ClassEmail, CollectionID: "inbox", Items: []models.Stat{{ID: "1", Mod: 4}}}
	pending := []models.Change{{ID: "2", Type: models.ChangeTypeDelete}}
	data, err := repo.codec.Encode(snap)
	if err != nil {
		t.Fatal(err)
	}
	pend, err := repo.codec.Encode(pending)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("FROM activesync_state").
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow(key(seriesA, 3), data, "dev1", int64(1), "inbox", "alice", pend, int64(1700000000)))

	rec, err := repo.LoadState(context.Background(), "dev1", key(seriesA, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Snapshot.CollectionID != "inbox" || len(rec.Snapshot.Items) != 1 || rec.Snapshot.Items[0].Mod != 4 {
		t.Errorf("unexpected snapshot: %+v", rec.Snapshot)
	}
	if len(rec.Pending) != 1 || rec.Pending[0].Type != models.ChangeTypeDelete {
		t.Errorf("unexpected pending: %+v", rec.Pending)
	}
	if rec.Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected timestamp: %v", rec.Timestamp)
	}
}

func TestLoadState_CorruptBlob(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectQuery("FROM activesync_state").
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow(key(seriesA, 3), []byte("garbage"), "dev1", int64(1), "inbox", "alice", nil, int64(1)))

	_, err := repo.LoadState(context.Background(), "dev1", key(seriesA, 3))
	if !errors.Is(err, ErrDecodingBlob) {
		t.Fatalf("expected ErrDecodingBlob, got %v", err)
	}
}

func TestSeriesInUse_LikeQuery(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM activesync_state WHERE sync_key LIKE $1 LIMIT 1")).
		WithArgs(seriesA + "%").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	used, err := repo.SeriesInUse(context.Background(), seriesA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !used {
		t.Error("expected series to be in use")
	}
}

func TestLatestSyncKey_PicksNewest(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT sync_key, sync_timestamp FROM activesync_state WHERE sync_devid = $1 AND sync_folderid = $2 AND sync_user = $3")).
		WithArgs("dev1", "f1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"sync_key", "sync_timestamp"}).
			AddRow(key(seriesA, 9), int64(100)).
			AddRow(key(seriesA, 10), int64(100)).
			AddRow(key(seriesB, 1), int64(90)).
			AddRow("broken", int64(500)))

	got, err := repo.LatestSyncKey(context.Background(), "dev1", "alice", "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != key(seriesA, 10) {
		t.Errorf("expected %s, got %s", key(seriesA, 10), got)
	}
}

func TestGarbageCollect_DeletesOutsideWindow(t *testing.T) {
	repo, mock, db := newTestStateRepo(t)
	defer db.Close()

	current, err := synckey.Parse(key(seriesA, 5))
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sync_key FROM activesync_state WHERE sync_devid = $1 AND sync_folderid = $2")).
		WithArgs("dev1", "f1").
		WillReturnRows(sqlmock.NewRows([]string{"sync_key"}).
			AddRow(key(seriesA, 3)).
			AddRow(key(seriesA, 4)).
			AddRow(key(seriesA, 5)).
			AddRow(key(seriesB, 8)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activesync_state WHERE sync_devid = $1 AND sync_key IN ($2,$3)")).
		WithArgs("dev1", key(seriesA, 3), key(seriesB, 8)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT DISTINCT sync_key FROM activesync_map").
		WillReturnRows(sqlmock.NewRows([]string{"sync_key"}).AddRow(key(seriesA, 2)).AddRow(key(seriesA, 4)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activesync_map WHERE sync_devid = $1 AND sync_key IN ($2) AND sync_user = $3")).
		WithArgs("dev1", key(seriesA, 2), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT DISTINCT sync_key FROM activesync_mailmap").
		WillReturnRows(sqlmock.NewRows([]string{"sync_key"}))
	mock.ExpectCommit()

	err = repo.GarbageCollect(context.Background(), GCRequest{DeviceID: "dev1", User: "alice", FolderID: "f1", Current: current})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-talkingbook-stats/internal/sink"
	"github.com/penwyp/go-talkingbook-stats/internal/validation"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(NewSQLDB(db), nil), mock
}

var location = sink.Location{
	Project:     "UWR",
	Deployment:  "2016-3",
	Device:      "tablet1",
	Village:     "KARIMENU",
	TalkingBook: "B-0001",
	SyncDir:     "2016y6m10d12h0m0s-tablet1",
}

func TestStoreEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tb_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWriteEvent(t *testing.T) {
	store, mock := newMockStore(t)
	runID := sink.NewRunID()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_events")).
		WithArgs(runID.String(), "played", "UWR", "2016-3", "tablet1", "KARIMENU", "B-0001",
			"2016y6m10d12h0m0s-tablet1", nil, "C1", "log.txt", 7, 1, 2, 3, 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.WriteEvent(context.Background(), sink.Event{
		RunID:     runID,
		Location:  location,
		Kind:      "played",
		ContentID: "C1",
		File:      "log.txt",
		Line:      7,
		Rotation:  1,
		Cycle:     2,
		Period:    3,
		Day:       4,
		Details:   map[string]any{"timePlayed": 30},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWriteAggregation(t *testing.T) {
	store, mock := newMockStore(t)
	runID := sink.NewRunID()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_aggregations")).
		WithArgs(runID.String(), "flashData", "UWR", "2016-3", "tablet1", "KARIMENU", "B-0001",
			"2016y6m10d12h0m0s-tablet1", nil, "C1", 5, 1, 0, 0, 3, 1, 0, 300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.WriteAggregation(context.Background(), sink.Aggregation{
		RunID:           runID,
		Source:          sink.SourceFlashData,
		Location:        location,
		ContentID:       "C1",
		Started:         5,
		Quarter:         1,
		Completed:       3,
		Applied:         1,
		TotalTimePlayed: 300,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWriteOperationLogSequence(t *testing.T) {
	store, mock := newMockStore(t)
	runID := sink.NewRunID()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_operation_log")).
		WithArgs(runID.String(), 1, "sync", "WARNING", "disparity", "C1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_operation_log")).
		WithArgs(runID.String(), 2, "sync", "NORMAL", "finished sync", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, store.WriteOperationLog(ctx, sink.OperationLog{
		RunID: runID, Operation: "sync", Severity: sink.SeverityWarning, Message: "disparity", Detail: "C1", Time: now,
	}))
	require.NoError(t, store.WriteOperationLog(ctx, sink.OperationLog{
		RunID: runID, Operation: "sync", Severity: sink.SeverityNormal, Message: "finished sync", Time: now,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWriteValidationError(t *testing.T) {
	store, mock := newMockStore(t)
	runID := sink.NewRunID()
	verr := validation.Error{
		Kind:    validation.KindIncorrectSyncDirProperties,
		Message: "sync dir disagrees with operational data",
		Path:    "TalkingBookData/2016-3/tablet1",
		Mismatches: []validation.PropertyMismatch{
			{Property: "Village", Expected: "A", Actual: "B"},
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_validation_errors")).
		WithArgs(runID.String(), 1, "IncorrectSyncDirProperties", verr.Message, verr.Path,
			pq.Array([]string{`Village: expected "A", found "B"`}), pq.Array([]string(nil))).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.WriteValidationError(context.Background(), runID, verr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWrapsErrors(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tb_aggregations")).WillReturnError(boom)

	err := store.WriteAggregation(context.Background(), sink.Aggregation{RunID: sink.NewRunID(), Source: sink.SourceStatFiles})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "insert aggregation")
}

func TestStoreClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	store := NewStore(NewSQLDB(db), db)
	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.NoError(t, NewStore(nil, nil).Close())
}

package postgres

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/penwyp/go-talkingbook-stats/internal/sink"
	"github.com/penwyp/go-talkingbook-stats/internal/validation"
)

// Store writes every record of a run. Rows are keyed by the run id and their
// natural key, so replaying a run inserts nothing new.
type Store struct {
	db     DB
	closer io.Closer
	seq    atomic.Int64
}

// NewStore uses db. closer, when not nil, is closed by Close.
func NewStore(db DB, closer io.Closer) *Store {
	return &Store{db: db, closer: closer}
}

var (
	_ sink.Sink           = (*Store)(nil)
	_ sink.ValidationSink = (*Store)(nil)
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS tb_events (
    run_id          UUID NOT NULL,
    kind            TEXT NOT NULL,
    project         TEXT,
    deployment      TEXT NOT NULL,
    device          TEXT NOT NULL,
    village         TEXT NOT NULL,
    talking_book    TEXT NOT NULL,
    sync_dir        TEXT NOT NULL,
    content_package TEXT,
    content_id      TEXT,
    log_file        TEXT NOT NULL,
    line_number     INTEGER NOT NULL,
    rotation        INTEGER,
    cycle           INTEGER,
    period          INTEGER,
    day_in_period   INTEGER,
    details         JSONB,
    PRIMARY KEY (run_id, sync_dir, talking_book, log_file, line_number, kind)
);
CREATE TABLE IF NOT EXISTS tb_aggregations (
    run_id            UUID NOT NULL,
    data_source       TEXT NOT NULL,
    project           TEXT,
    deployment        TEXT NOT NULL,
    device            TEXT NOT NULL,
    village           TEXT NOT NULL,
    talking_book      TEXT NOT NULL,
    sync_dir          TEXT NOT NULL,
    content_package   TEXT,
    content_id        TEXT NOT NULL,
    count_started     INTEGER NOT NULL,
    count_quarter     INTEGER NOT NULL,
    count_half        INTEGER NOT NULL,
    count_three_quarters INTEGER NOT NULL,
    count_completed   INTEGER NOT NULL,
    count_applied     INTEGER NOT NULL,
    count_useless     INTEGER NOT NULL,
    total_time_played INTEGER NOT NULL,
    PRIMARY KEY (run_id, data_source, sync_dir, talking_book, content_id)
);
CREATE TABLE IF NOT EXISTS tb_operation_log (
    run_id      UUID NOT NULL,
    seq         BIGINT NOT NULL,
    operation   TEXT NOT NULL,
    severity    TEXT NOT NULL,
    message     TEXT NOT NULL,
    detail      TEXT,
    logged_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS tb_validation_errors (
    run_id      UUID NOT NULL,
    seq         BIGINT NOT NULL,
    kind        TEXT NOT NULL,
    message     TEXT NOT NULL,
    path        TEXT,
    mismatches  TEXT[],
    entries     TEXT[],
    PRIMARY KEY (run_id, seq)
);
`

const insertEventSQL = `
INSERT INTO tb_events (
    run_id, kind, project, deployment, device, village, talking_book, sync_dir,
    content_package, content_id, log_file, line_number,
    rotation, cycle, period, day_in_period, details
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8,
    $9, $10, $11, $12,
    $13, $14, $15, $16, $17
)
ON CONFLICT DO NOTHING;
`

const insertAggregationSQL = `
INSERT INTO tb_aggregations (
    run_id, data_source, project, deployment, device, village, talking_book, sync_dir,
    content_package, content_id,
    count_started, count_quarter, count_half, count_three_quarters,
    count_completed, count_applied, count_useless, total_time_played
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8,
    $9, $10,
    $11, $12, $13, $14,
    $15, $16, $17, $18
)
ON CONFLICT DO NOTHING;
`

const insertOperationLogSQL = `
INSERT INTO tb_operation_log (
    run_id, seq, operation, severity, message, detail, logged_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT DO NOTHING;
`

const insertValidationErrorSQL = `
INSERT INTO tb_validation_errors (
    run_id, seq, kind, message, path, mismatches, entries
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT DO NOTHING;
`

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) WriteEvent(ctx context.Context, e sink.Event) error {
	var details any
	if len(e.Details) > 0 {
		b, err := sonic.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		e.RunID.String(),
		e.Kind,
		nullable(e.Project),
		e.Deployment,
		e.Device,
		e.Village,
		e.TalkingBook,
		e.SyncDir,
		nullable(e.ContentPackage),
		nullable(e.ContentID),
		e.File,
		e.Line,
		e.Rotation,
		e.Cycle,
		e.Period,
		e.Day,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) WriteAggregation(ctx context.Context, a sink.Aggregation) error {
	_, err := s.db.ExecContext(ctx, insertAggregationSQL,
		a.RunID.String(),
		a.Source.String(),
		nullable(a.Project),
		a.Deployment,
		a.Device,
		a.Village,
		a.TalkingBook,
		a.SyncDir,
		nullable(a.ContentPackage),
		a.ContentID,
		a.Started,
		a.Quarter,
		a.Half,
		a.ThreeQuarters,
		a.Completed,
		a.Applied,
		a.Useless,
		a.TotalTimePlayed,
	)
	if err != nil {
		return fmt.Errorf("insert aggregation: %w", err)
	}
	return nil
}

func (s *Store) WriteOperationLog(ctx context.Context, l sink.OperationLog) error {
	_, err := s.db.ExecContext(ctx, insertOperationLogSQL,
		l.RunID.String(),
		s.seq.Add(1),
		l.Operation,
		l.Severity.String(),
		l.Message,
		nullable(l.Detail),
		l.Time,
	)
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	return nil
}

func (s *Store) WriteValidationError(ctx context.Context, runID uuid.UUID, e validation.Error) error {
	mismatches := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		mismatches = append(mismatches, m.String())
	}
	_, err := s.db.ExecContext(ctx, insertValidationErrorSQL,
		runID.String(),
		s.seq.Add(1),
		e.Kind.String(),
		e.Message,
		nullable(e.Path),
		pq.Array(mismatches),
		pq.Array(e.Entries),
	)
	if err != nil {
		return fmt.Errorf("insert validation error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

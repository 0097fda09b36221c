// Package sqldb stores jobs in a relational database. The same table layout
// serves sqlite (modernc.org/sqlite) and mysql (go-sql-driver/mysql).
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CZERTAINLY/Runner/internal/model"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements which differ between databases.
type Dialect struct {
	Driver string
	Schema []string
	Upsert string
}

var SQLite = Dialect{
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			client TEXT NOT NULL,
			status TEXT NOT NULL,
			create_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_client ON jobs (client, create_at)`,
	},
	Upsert: `INSERT INTO jobs (job_id, client, status, create_at, data) VALUES (?,?,?,?,?)
		ON CONFLICT(job_id) DO UPDATE SET
			client = excluded.client,
			status = excluded.status,
			data = excluded.data`,
}

var MySQL = Dialect{
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id VARCHAR(191) NOT NULL PRIMARY KEY,
			client VARCHAR(191) NOT NULL,
			status VARCHAR(16) NOT NULL,
			create_at BIGINT NOT NULL,
			data MEDIUMTEXT NOT NULL,
			INDEX jobs_client (client, create_at)
		)`,
	},
	Upsert: `INSERT INTO jobs (job_id, client, status, create_at, data) VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			client = VALUES(client),
			status = VALUES(status),
			data = VALUES(data)`,
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and creates the jobs table when missing.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect.Driver == SQLite.Driver {
		// sqlite allows one writer
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New initializes the schema in db. The store owns db afterwards.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dialect.Driver, err)
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

func (s *Store) Save(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.JobID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(ctx context.Context, jobID string) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("job_id", jobID))
		}
	}(ctx, job.JobID)

	_, err = tx.ExecContext(ctx, s.dialect.Upsert,
		job.JobID, job.Client, string(job.Status), job.CreateAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("executing sql upsert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (model.Job, error) {
	var data string
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM jobs WHERE job_id=?`, jobID,
	)
	err := row.Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Job{}, model.ErrJobNotFound
	case err != nil:
		return model.Job{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return decode(data)
}

func (s *Store) List(ctx context.Context, client string) ([]model.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if client == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT data FROM jobs ORDER BY create_at, job_id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT data FROM jobs WHERE client=? ORDER BY create_at, job_id`, client)
	}
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []model.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		job, err := decode(data)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decode(data string) (model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return model.Job{}, fmt.Errorf("decoding job: %w", err)
	}
	return job, nil
}

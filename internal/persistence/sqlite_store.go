package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/MimeLyc/webp-autogen/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps upload jobs and batch run history. Conversion state
// itself lives on the filesystem and is never stored here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		version := migrationVersion(name)
		if version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// migrationVersion reads the leading number of a file name ("001_init.sql" is 1).
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.ConversionJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, dedupe_key, attachment_id, attached_file, metadata, status, result, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.ConversionJob, 0)
	for rows.Next() {
		var (
			job          jobs.ConversionJob
			status       string
			metadataJSON string
			resultJSON   string
		)
		if err := rows.Scan(
			&job.ID,
			&job.Source,
			&job.DedupeKey,
			&job.Payload.AttachmentID,
			&job.Payload.AttachedFile,
			&metadataJSON,
			&status,
			&resultJSON,
			&job.Error,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		job.Status = jobs.Status(status)
		if err := json.Unmarshal([]byte(metadataJSON), &job.Payload.Metadata); err != nil {
			return nil, fmt.Errorf("job %s metadata: %w", job.ID, err)
		}
		if resultJSON != "" {
			job.Result = &jobs.Result{}
			if err := json.Unmarshal([]byte(resultJSON), job.Result); err != nil {
				return nil, fmt.Errorf("job %s result: %w", job.ID, err)
			}
		}
		ret = append(ret, &job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.ConversionJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	metadataJSON, err := json.Marshal(job.Payload.Metadata)
	if err != nil {
		return err
	}
	resultJSON := ""
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return err
		}
		resultJSON = string(raw)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, attachment_id, attached_file, metadata, status, result, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			result=excluded.result,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		job.Payload.AttachmentID,
		job.Payload.AttachedFile,
		string(metadataJSON),
		string(job.Status),
		resultJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// RecordRun stores a finished batch run and returns its id.
func (s *SQLiteStore) RecordRun(ctx context.Context, run BatchRun) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (
			run_trigger, quality, converted_now, skipped_now, failed_now, total, converted, remaining, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(run.Trigger),
		run.Quality,
		run.Result.ConvertedNow,
		run.Result.SkippedNow,
		run.Result.FailedNow,
		run.Result.Total,
		run.Result.Converted,
		run.Result.Remaining,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentRuns lists up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_trigger, quality, converted_now, skipped_now, failed_now, total, converted, remaining, error, started_at, finished_at
		 FROM batch_runs
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]BatchRun, 0)
	for rows.Next() {
		var (
			run     BatchRun
			trigger string
		)
		if err := rows.Scan(
			&run.ID,
			&trigger,
			&run.Quality,
			&run.Result.ConvertedNow,
			&run.Result.SkippedNow,
			&run.Result.FailedNow,
			&run.Result.Total,
			&run.Result.Converted,
			&run.Result.Remaining,
			&run.Error,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, err
		}
		run.Trigger = Trigger(trigger)
		ret = append(ret, run)
	}
	return ret, rows.Err()
}

// PruneRuns keeps the newest keep runs.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_runs WHERE id NOT IN (SELECT id FROM batch_runs ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

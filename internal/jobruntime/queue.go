// Package jobruntime implements the Job Runtime (spec §4.12): a worker
// pool that pulls one job at a time per worker (prefetch = 1) from a
// broker, runs the Pipeline, and acks only after the pipeline returns, with
// requeue-on-worker-loss for transient-transport failures.
package jobruntime

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/task"
)

// Job is one task assignment pulled off the queue.
type Job struct {
	ID      string
	Payload task.Payload
	Dog     dog.Dog
	Attempt int
}

// Queue is the broker boundary the Job Runtime polls (spec §4.12). A worker
// loss before Ack or Requeue leaves jobs leased: RequeueExpired reclaims
// them, matching "requeue-on-worker-loss".
type Queue interface {
	Enqueue(ctx context.Context, payload task.Payload, d dog.Dog) (string, error)
	Claim(ctx context.Context) (*Job, error) // nil, nil if nothing is pending
	Ack(ctx context.Context, jobID string) error
	Requeue(ctx context.Context, jobID string, attempt int, availableAt time.Time) error
	RequeueExpired(ctx context.Context, leaseTimeout time.Duration) (int, error)
	Close() error
}

// sqliteQueue persists jobs in a small sqlite-backed table, grounded on the
// same single-connection, serialize-writers approach as the Coordination
// Store's own sqlite backing (internal/store/kv.go), since both are a
// handful of tables behind one local database file.
type sqliteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue opens (creating if absent) the sqlite-backed job queue at
// dsn and ensures its schema exists.
func NewSQLiteQueue(dsn string) (Queue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening job queue %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	q := &sqliteQueue{db: db}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		dog_json TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		available_at INTEGER NOT NULL,
		leased_at INTEGER
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	return q, nil
}

func (q *sqliteQueue) Enqueue(ctx context.Context, payload task.Payload, d dog.Dog) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	dogJSON, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding job dog: %w", err)
	}
	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, payload_json, dog_json, status, attempt, available_at) VALUES (?, ?, ?, 'pending', 0, ?)`,
		id, string(payloadJSON), string(dogJSON), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("enqueuing job: %w", err)
	}
	return id, nil
}

func (q *sqliteQueue) Claim(ctx context.Context) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var id, payloadJSON, dogJSON string
	var attempt int
	row := tx.QueryRowContext(ctx,
		`SELECT id, payload_json, dog_json, attempt FROM jobs
		 WHERE status = 'pending' AND available_at <= ?
		 ORDER BY available_at LIMIT 1`, time.Now().Unix())
	if err := row.Scan(&id, &payloadJSON, &dogJSON, &attempt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'leased', leased_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return nil, fmt.Errorf("leasing job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	var payload task.Payload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("decoding job %s payload: %w", id, err)
	}
	var d dog.Dog
	if err := json.Unmarshal([]byte(dogJSON), &d); err != nil {
		return nil, fmt.Errorf("decoding job %s dog: %w", id, err)
	}
	return &Job{ID: id, Payload: payload, Dog: d, Attempt: attempt}, nil
}

func (q *sqliteQueue) Ack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("acking job %s: %w", jobID, err)
	}
	return nil
}

func (q *sqliteQueue) Requeue(ctx context.Context, jobID string, attempt int, availableAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', attempt = ?, available_at = ?, leased_at = NULL WHERE id = ?`,
		attempt, availableAt.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("requeuing job %s: %w", jobID, err)
	}
	return nil
}

// RequeueExpired reclaims jobs that have sat leased longer than
// leaseTimeout, the case of a worker process dying mid-task (spec §4.12:
// "requeue-on-worker-loss").
func (q *sqliteQueue) RequeueExpired(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-leaseTimeout).Unix()
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', leased_at = NULL, available_at = ? WHERE status = 'leased' AND leased_at <= ?`,
		time.Now().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeuing expired leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *sqliteQueue) Close() error { return q.db.Close() }

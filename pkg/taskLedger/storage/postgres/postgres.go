package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS gig_counters (
  name TEXT PRIMARY KEY,
  value BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS gig_tasks (
  task_id BIGINT PRIMARY KEY,
  creator TEXT NOT NULL,
  bounty NUMERIC(78, 0) NOT NULL,
  token TEXT NOT NULL,
  description TEXT NOT NULL,
  status SMALLINT NOT NULL,
  winner TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ,
  settling_submission_id BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE gig_tasks ADD COLUMN IF NOT EXISTS settling_submission_id BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS gig_tasks_status_idx ON gig_tasks (status);
CREATE TABLE IF NOT EXISTS gig_submissions (
  task_id BIGINT NOT NULL,
  submission_id BIGINT NOT NULL,
  submitter TEXT NOT NULL,
  content TEXT NOT NULL,
  approved BOOLEAN NOT NULL DEFAULT FALSE,
  submitted_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (task_id, submission_id)
);
CREATE TABLE IF NOT EXISTS gig_user_stats (
  identity TEXT PRIMARY KEY,
  created_count BIGINT NOT NULL DEFAULT 0,
  completed_count BIGINT NOT NULL DEFAULT 0,
  total_earned NUMERIC(78, 0) NOT NULL DEFAULT 0
);
`

const counterTasks = "tasks"

func submissionCounterName(taskId uint64) string {
	return fmt.Sprintf("submissions:%d", taskId)
}

// querier is satisfied by both pgx.Tx and *pgxpool.Pool
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedgerStore implements LedgerStore on serializable Postgres transactions
type PostgresLedgerStore struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	closed bool
}

// NewPostgresLedgerStore connects and initializes the schema.
func NewPostgresLedgerStore(ctx context.Context, cfg *ledgerConfig.PostgresConfig) (*PostgresLedgerStore, error) {
	if cfg == nil || cfg.Dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresLedgerStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresLedgerStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Truncate removes every row. Used by tests to get an empty store.
func (s *PostgresLedgerStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE gig_counters, gig_tasks, gig_submissions, gig_user_stats`)
	return err
}

func (s *PostgresLedgerStore) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

func (s *PostgresLedgerStore) View(ctx context.Context, fn func(tx storage.LedgerReader) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&postgresTx{q: tx})
	})
}

func (s *PostgresLedgerStore) Update(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&postgresTx{q: tx})
	})
}

func (s *PostgresLedgerStore) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresLedgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}
	s.closed = true
	s.pool.Close()
	return nil
}

// mapError translates serialization failures into ErrConflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.Message)
		}
	}
	return err
}

type postgresTx struct {
	q querier
}

func (tx *postgresTx) getCounter(ctx context.Context, name string) (uint64, error) {
	var value int64
	err := tx.q.QueryRow(ctx, `SELECT value FROM gig_counters WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(value), nil
}

func (tx *postgresTx) setCounter(ctx context.Context, name string, value uint64) error {
	_, err := tx.q.Exec(ctx, `
INSERT INTO gig_counters (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
`, name, int64(value))
	return err
}

func (tx *postgresTx) GetTaskCounter(ctx context.Context) (uint64, error) {
	return tx.getCounter(ctx, counterTasks)
}

func (tx *postgresTx) SetTaskCounter(ctx context.Context, value uint64) error {
	return tx.setCounter(ctx, counterTasks, value)
}

func (tx *postgresTx) GetSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error) {
	return tx.getCounter(ctx, submissionCounterName(taskId))
}

func (tx *postgresTx) SetSubmissionCounter(ctx context.Context, taskId uint64, value uint64) error {
	return tx.setCounter(ctx, submissionCounterName(taskId), value)
}

const taskColumns = `task_id, creator, bounty::text, token, description, status, winner, created_at, completed_at, settling_submission_id`

func scanTask(row pgx.Row) (*types.Task, error) {
	var (
		id                     int64
		creator, token, winner string
		bounty                 string
		status                 int16
		task                   types.Task
		completedAt            *time.Time
		settling               int64
	)
	if err := row.Scan(&id, &creator, &bounty, &token, &task.Description, &status, &winner, &task.CreatedAt, &completedAt, &settling); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(bounty, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt bounty %q for task %d", bounty, id)
	}
	task.Id = uint64(id)
	task.Creator = common.HexToAddress(creator)
	task.Token = common.HexToAddress(token)
	task.Winner = common.HexToAddress(winner)
	task.Bounty = amount
	task.Status = types.TaskStatus(status)
	task.SettlingSubmissionId = uint64(settling)
	task.CreatedAt = task.CreatedAt.UTC()
	if completedAt != nil {
		utc := completedAt.UTC()
		task.CompletedAt = &utc
	}
	return &task, nil
}

func (tx *postgresTx) GetTask(ctx context.Context, taskId uint64) (*types.Task, error) {
	row := tx.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM gig_tasks WHERE task_id = $1`, int64(taskId))
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return task, err
}

func (tx *postgresTx) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var status *int16
	if filter.Status != nil {
		s := int16(*filter.Status)
		status = &s
	}
	var creator, winner *string
	if filter.Creator != nil {
		c := filter.Creator.Hex()
		creator = &c
	}
	if filter.Winner != nil {
		w := filter.Winner.Hex()
		winner = &w
	}

	rows, err := tx.q.Query(ctx, `
SELECT `+taskColumns+` FROM gig_tasks
WHERE ($1::smallint IS NULL OR status = $1)
AND ($2::text IS NULL OR creator = $2)
AND ($3::text IS NULL OR winner = $3)
ORDER BY task_id
`, status, creator, winner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*types.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (tx *postgresTx) PutTask(ctx context.Context, task *types.Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	_, err := tx.q.Exec(ctx, `
INSERT INTO gig_tasks (task_id, creator, bounty, token, description, status, winner, created_at, completed_at, settling_submission_id)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (task_id) DO UPDATE SET
  creator = EXCLUDED.creator,
  bounty = EXCLUDED.bounty,
  token = EXCLUDED.token,
  description = EXCLUDED.description,
  status = EXCLUDED.status,
  winner = EXCLUDED.winner,
  created_at = EXCLUDED.created_at,
  completed_at = EXCLUDED.completed_at,
  settling_submission_id = EXCLUDED.settling_submission_id
`, int64(task.Id), task.Creator.Hex(), types.CopyAmount(task.Bounty).String(), task.Token.Hex(),
		task.Description, int16(task.Status), task.Winner.Hex(), task.CreatedAt, task.CompletedAt,
		int64(task.SettlingSubmissionId))
	return err
}

const submissionColumns = `task_id, submission_id, submitter, content, approved, submitted_at`

func scanSubmission(row pgx.Row) (*types.Submission, error) {
	var (
		taskId, subId int64
		submitter     string
		sub           types.Submission
	)
	if err := row.Scan(&taskId, &subId, &submitter, &sub.Content, &sub.Approved, &sub.SubmittedAt); err != nil {
		return nil, err
	}
	sub.TaskId = uint64(taskId)
	sub.Id = uint64(subId)
	sub.Submitter = common.HexToAddress(submitter)
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	return &sub, nil
}

func (tx *postgresTx) GetSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error) {
	row := tx.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM gig_submissions WHERE task_id = $1 AND submission_id = $2`,
		int64(taskId), int64(submissionId))
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return sub, err
}

func (tx *postgresTx) ListSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error) {
	rows, err := tx.q.Query(ctx, `SELECT `+submissionColumns+` FROM gig_submissions WHERE task_id = $1 ORDER BY submission_id`, int64(taskId))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]*types.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (tx *postgresTx) PutSubmission(ctx context.Context, submission *types.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	_, err := tx.q.Exec(ctx, `
INSERT INTO gig_submissions (task_id, submission_id, submitter, content, approved, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (task_id, submission_id) DO UPDATE SET
  submitter = EXCLUDED.submitter,
  content = EXCLUDED.content,
  approved = EXCLUDED.approved,
  submitted_at = EXCLUDED.submitted_at
`, int64(submission.TaskId), int64(submission.Id), submission.Submitter.Hex(), submission.Content,
		submission.Approved, submission.SubmittedAt)
	return err
}

const statsColumns = `identity, created_count, completed_count, total_earned::text`

func scanUserStats(row pgx.Row) (*types.UserStats, error) {
	var (
		identity          string
		created, complete int64
		earned            string
	)
	if err := row.Scan(&identity, &created, &complete, &earned); err != nil {
		return nil, err
	}
	total, ok := new(big.Int).SetString(earned, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt total earned %q for %s", earned, identity)
	}
	return &types.UserStats{
		Identity:       common.HexToAddress(identity),
		CreatedCount:   uint64(created),
		CompletedCount: uint64(complete),
		TotalEarned:    total,
	}, nil
}

func (tx *postgresTx) GetUserStats(ctx context.Context, identity common.Address) (*types.UserStats, error) {
	row := tx.q.QueryRow(ctx, `SELECT `+statsColumns+` FROM gig_user_stats WHERE identity = $1`, identity.Hex())
	stats, err := scanUserStats(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return stats, err
}

func (tx *postgresTx) ListUserStats(ctx context.Context) ([]*types.UserStats, error) {
	rows, err := tx.q.Query(ctx, `SELECT `+statsColumns+` FROM gig_user_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make([]*types.UserStats, 0)
	for rows.Next() {
		stats, err := scanUserStats(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByIdentity(all)
	return all, nil
}

func sortByIdentity(all []*types.UserStats) {
	sort.Slice(all, func(i, j int) bool { return all[i].Identity.Cmp(all[j].Identity) < 0 })
}

func (tx *postgresTx) PutUserStats(ctx context.Context, stats *types.UserStats) error {
	if stats == nil {
		return errors.New("stats is nil")
	}
	_, err := tx.q.Exec(ctx, `
INSERT INTO gig_user_stats (identity, created_count, completed_count, total_earned)
VALUES ($1, $2, $3, $4::numeric)
ON CONFLICT (identity) DO UPDATE SET
  created_count = EXCLUDED.created_count,
  completed_count = EXCLUDED.completed_count,
  total_earned = EXCLUDED.total_earned
`, stats.Identity.Hex(), int64(stats.CreatedCount), int64(stats.CompletedCount), types.CopyAmount(stats.TotalEarned).String())
	return err
}

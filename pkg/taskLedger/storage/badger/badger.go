package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	badgerv3 "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

// Key layout. Ids are zero padded so lexicographic order is numeric order.
const (
	keyTaskCounter          = "counter:tasks"
	prefixTask              = "task:"
	keyTask                 = "task:%020d"
	keySubmissionCounter    = "subcounter:%020d"
	prefixSubmissionsOfTask = "submission:%020d:"
	keySubmission           = "submission:%020d:%020d"
	prefixUserStats         = "stats:"
	keyUserStats            = "stats:%s"
)

const defaultGCInterval = 5 * time.Minute

// BadgerLedgerStore implements LedgerStore on BadgerDB's serializable transactions
type BadgerLedgerStore struct {
	db       *badgerv3.DB
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
	gcTicker *time.Ticker
}

// NewBadgerLedgerStore creates a new BadgerDB-backed ledger store
func NewBadgerLedgerStore(cfg *ledgerConfig.BadgerConfig) (*BadgerLedgerStore, error) {
	if cfg == nil {
		return nil, errors.New("badger config is nil")
	}

	opts := badgerv3.DefaultOptions(cfg.Dir)
	opts.Logger = nil

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}

	db, err := badgerv3.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = defaultGCInterval
	}

	s := &BadgerLedgerStore{
		db:       db,
		closeCh:  make(chan struct{}),
		gcTicker: time.NewTicker(interval),
	}
	go s.runGC()

	return s, nil
}

// runGC runs periodic value log garbage collection
func (s *BadgerLedgerStore) runGC() {
	for {
		select {
		case <-s.gcTicker.C:
			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			s.mu.RUnlock()

			_ = s.db.RunValueLogGC(0.5)
		case <-s.closeCh:
			return
		}
	}
}

func (s *BadgerLedgerStore) checkOpen(ctx context.Context) error {
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

func (s *BadgerLedgerStore) View(ctx context.Context, fn func(tx storage.LedgerReader) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerv3.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerLedgerStore) Update(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerv3.Txn) error {
		if err := fn(&badgerTx{txn: txn}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if errors.Is(err, badgerv3.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	if errors.Is(err, badgerv3.ErrTxnTooBig) {
		return fmt.Errorf("unit of work too large: %w", err)
	}
	return err
}

// Close closes the store and releases resources
func (s *BadgerLedgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	s.closed = true
	close(s.closeCh)
	s.gcTicker.Stop()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger db: %w", err)
	}
	return nil
}

type badgerTx struct {
	txn *badgerv3.Txn
}

func (tx *badgerTx) getJSON(key string, out any) error {
	item, err := tx.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badgerv3.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (tx *badgerTx) setJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return tx.txn.Set([]byte(key), data)
}

func (tx *badgerTx) getCounter(key string) (uint64, error) {
	item, err := tx.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badgerv3.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var value uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		value = binary.BigEndian.Uint64(val)
		return nil
	})
	return value, err
}

func (tx *badgerTx) setCounter(key string, value uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return tx.txn.Set([]byte(key), buf[:])
}

// scan decodes every value under prefix in key order.
func (tx *badgerTx) scan(prefix string, decode func(val []byte) error) error {
	opts := badgerv3.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := it.Item().Value(decode); err != nil {
			return fmt.Errorf("failed to decode %s: %w", string(it.Item().Key()), err)
		}
	}
	return nil
}

func (tx *badgerTx) GetTaskCounter(ctx context.Context) (uint64, error) {
	return tx.getCounter(keyTaskCounter)
}

func (tx *badgerTx) GetTask(ctx context.Context, taskId uint64) (*types.Task, error) {
	var task types.Task
	if err := tx.getJSON(fmt.Sprintf(keyTask, taskId), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (tx *badgerTx) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	tasks := make([]*types.Task, 0)
	err := tx.scan(prefixTask, func(val []byte) error {
		var task types.Task
		if err := json.Unmarshal(val, &task); err != nil {
			return err
		}
		if filter.Matches(&task) {
			tasks = append(tasks, &task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (tx *badgerTx) GetSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error) {
	return tx.getCounter(fmt.Sprintf(keySubmissionCounter, taskId))
}

func (tx *badgerTx) GetSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error) {
	var sub types.Submission
	if err := tx.getJSON(fmt.Sprintf(keySubmission, taskId, submissionId), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (tx *badgerTx) ListSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error) {
	subs := make([]*types.Submission, 0)
	err := tx.scan(fmt.Sprintf(prefixSubmissionsOfTask, taskId), func(val []byte) error {
		var sub types.Submission
		if err := json.Unmarshal(val, &sub); err != nil {
			return err
		}
		subs = append(subs, &sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (tx *badgerTx) GetUserStats(ctx context.Context, identity common.Address) (*types.UserStats, error) {
	var stats types.UserStats
	if err := tx.getJSON(fmt.Sprintf(keyUserStats, identity.Hex()), &stats); err != nil {
		return nil, err
	}
	if stats.TotalEarned == nil {
		stats.TotalEarned = new(big.Int)
	}
	return &stats, nil
}

func (tx *badgerTx) ListUserStats(ctx context.Context) ([]*types.UserStats, error) {
	all := make([]*types.UserStats, 0)
	err := tx.scan(prefixUserStats, func(val []byte) error {
		var stats types.UserStats
		if err := json.Unmarshal(val, &stats); err != nil {
			return err
		}
		all = append(all, &stats)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are checksummed hex, which does not sort by address bytes.
	sort.Slice(all, func(i, j int) bool { return all[i].Identity.Cmp(all[j].Identity) < 0 })
	return all, nil
}

func (tx *badgerTx) PutTask(ctx context.Context, task *types.Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	return tx.setJSON(fmt.Sprintf(keyTask, task.Id), task)
}

func (tx *badgerTx) SetTaskCounter(ctx context.Context, value uint64) error {
	return tx.setCounter(keyTaskCounter, value)
}

func (tx *badgerTx) PutSubmission(ctx context.Context, submission *types.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	return tx.setJSON(fmt.Sprintf(keySubmission, submission.TaskId, submission.Id), submission)
}

func (tx *badgerTx) SetSubmissionCounter(ctx context.Context, taskId uint64, value uint64) error {
	return tx.setCounter(fmt.Sprintf(keySubmissionCounter, taskId), value)
}

func (tx *badgerTx) PutUserStats(ctx context.Context, stats *types.UserStats) error {
	if stats == nil {
		return errors.New("stats is nil")
	}
	return tx.setJSON(fmt.Sprintf(keyUserStats, stats.Identity.Hex()), stats)
}

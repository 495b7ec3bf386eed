package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

type recordKind uint8

const (
	kindTaskCounter recordKind = iota + 1
	kindTask
	kindSubmissionCounter
	kindSubmission
	kindUserStats
)

type recordKey struct {
	kind     recordKind
	taskId   uint64
	subId    uint64
	identity common.Address
}

type record struct {
	value   any
	version uint64
}

// InMemoryLedgerStore implements LedgerStore with optimistic concurrency.
//
// A unit of work records the version of every key it reads and buffers its
// writes. Commit fails with ErrConflict if any read key changed since it was
// read. No lock is held while fn runs.
type InMemoryLedgerStore struct {
	mu      sync.RWMutex
	closed  bool
	version uint64
	records map[recordKey]*record
}

// NewInMemoryLedgerStore creates a new in-memory ledger store
func NewInMemoryLedgerStore() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{
		records: make(map[recordKey]*record),
	}
}

func (s *InMemoryLedgerStore) View(ctx context.Context, fn func(tx storage.LedgerReader) error) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	return fn(s.newTx())
}

func (s *InMemoryLedgerStore) Update(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	tx := s.newTx()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// Close closes the store
func (s *InMemoryLedgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	s.closed = true
	s.records = nil
	return nil
}

func (s *InMemoryLedgerStore) begin(ctx context.Context) error {
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

func (s *InMemoryLedgerStore) newTx() *memoryTx {
	return &memoryTx{
		store:  s,
		reads:  make(map[recordKey]uint64),
		writes: make(map[recordKey]any),
	}
}

func (s *InMemoryLedgerStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	for key, seen := range tx.reads {
		var current uint64
		if r, ok := s.records[key]; ok {
			current = r.version
		}
		if current != seen {
			return fmt.Errorf("%w: key %v changed since read", storage.ErrConflict, key)
		}
	}

	if len(tx.writes) == 0 {
		return nil
	}
	s.version++
	for key, value := range tx.writes {
		s.records[key] = &record{value: value, version: s.version}
	}
	return nil
}

type memoryTx struct {
	store  *InMemoryLedgerStore
	reads  map[recordKey]uint64
	writes map[recordKey]any
}

// get returns the value for key, preferring this unit of work's own writes.
func (tx *memoryTx) get(key recordKey) (any, bool, error) {
	if v, ok := tx.writes[key]; ok {
		return v, true, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	if tx.store.closed {
		return nil, false, storage.ErrStoreClosed
	}

	r, ok := tx.store.records[key]
	if _, seen := tx.reads[key]; !seen {
		if ok {
			tx.reads[key] = r.version
		} else {
			tx.reads[key] = 0
		}
	}
	if !ok {
		return nil, false, nil
	}
	return r.value, true, nil
}

// scan returns every committed or buffered value of the given kind that passes match.
func (tx *memoryTx) scan(kind recordKind, match func(recordKey) bool) (map[recordKey]any, error) {
	out := make(map[recordKey]any)

	tx.store.mu.RLock()
	if tx.store.closed {
		tx.store.mu.RUnlock()
		return nil, storage.ErrStoreClosed
	}
	for key, r := range tx.store.records {
		if key.kind != kind || !match(key) {
			continue
		}
		if _, seen := tx.reads[key]; !seen {
			tx.reads[key] = r.version
		}
		out[key] = r.value
	}
	tx.store.mu.RUnlock()

	for key, v := range tx.writes {
		if key.kind == kind && match(key) {
			out[key] = v
		}
	}
	return out, nil
}

func (tx *memoryTx) GetTaskCounter(ctx context.Context) (uint64, error) {
	v, ok, err := tx.get(recordKey{kind: kindTaskCounter})
	if err != nil || !ok {
		return 0, err
	}
	return v.(uint64), nil
}

func (tx *memoryTx) GetTask(ctx context.Context, taskId uint64) (*types.Task, error) {
	v, ok, err := tx.get(recordKey{kind: kindTask, taskId: taskId})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v.(*types.Task).Clone(), nil
}

func (tx *memoryTx) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	found, err := tx.scan(kindTask, func(recordKey) bool { return true })
	if err != nil {
		return nil, err
	}
	tasks := make([]*types.Task, 0, len(found))
	for _, v := range found {
		task := v.(*types.Task)
		if filter.Matches(task) {
			tasks = append(tasks, task.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Id < tasks[j].Id })
	return tasks, nil
}

func (tx *memoryTx) GetSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error) {
	v, ok, err := tx.get(recordKey{kind: kindSubmissionCounter, taskId: taskId})
	if err != nil || !ok {
		return 0, err
	}
	return v.(uint64), nil
}

func (tx *memoryTx) GetSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error) {
	v, ok, err := tx.get(recordKey{kind: kindSubmission, taskId: taskId, subId: submissionId})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v.(*types.Submission).Clone(), nil
}

func (tx *memoryTx) ListSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error) {
	found, err := tx.scan(kindSubmission, func(k recordKey) bool { return k.taskId == taskId })
	if err != nil {
		return nil, err
	}
	subs := make([]*types.Submission, 0, len(found))
	for _, v := range found {
		subs = append(subs, v.(*types.Submission).Clone())
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Id < subs[j].Id })
	return subs, nil
}

func (tx *memoryTx) GetUserStats(ctx context.Context, identity common.Address) (*types.UserStats, error) {
	v, ok, err := tx.get(recordKey{kind: kindUserStats, identity: identity})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v.(*types.UserStats).Clone(), nil
}

func (tx *memoryTx) ListUserStats(ctx context.Context) ([]*types.UserStats, error) {
	found, err := tx.scan(kindUserStats, func(recordKey) bool { return true })
	if err != nil {
		return nil, err
	}
	stats := make([]*types.UserStats, 0, len(found))
	for _, v := range found {
		stats = append(stats, v.(*types.UserStats).Clone())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Identity.Cmp(stats[j].Identity) < 0
	})
	return stats, nil
}

func (tx *memoryTx) PutTask(ctx context.Context, task *types.Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	tx.writes[recordKey{kind: kindTask, taskId: task.Id}] = task.Clone()
	return nil
}

func (tx *memoryTx) SetTaskCounter(ctx context.Context, value uint64) error {
	tx.writes[recordKey{kind: kindTaskCounter}] = value
	return nil
}

func (tx *memoryTx) PutSubmission(ctx context.Context, submission *types.Submission) error {
	if submission == nil {
		return fmt.Errorf("submission cannot be nil")
	}
	key := recordKey{kind: kindSubmission, taskId: submission.TaskId, subId: submission.Id}
	tx.writes[key] = submission.Clone()
	return nil
}

func (tx *memoryTx) SetSubmissionCounter(ctx context.Context, taskId uint64, value uint64) error {
	tx.writes[recordKey{kind: kindSubmissionCounter, taskId: taskId}] = value
	return nil
}

func (tx *memoryTx) PutUserStats(ctx context.Context, stats *types.UserStats) error {
	if stats == nil {
		return fmt.Errorf("user stats cannot be nil")
	}
	tx.writes[recordKey{kind: kindUserStats, identity: stats.Identity}] = stats.Clone()
	return nil
}

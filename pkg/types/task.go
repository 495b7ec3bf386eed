package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TaskStatus is the lifecycle state of a task. The numeric values match the
// on-chain encoding (0=Open, 1=Completed, 2=Disputed).
type TaskStatus uint8

const (
	TaskStatusOpen      TaskStatus = 0
	TaskStatusCompleted TaskStatus = 1
	// TaskStatusDisputed is reserved for a surrounding dispute process; no
	// ledger operation transitions into it.
	TaskStatusDisputed TaskStatus = 2
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusOpen:
		return "open"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s TaskStatus) IsValid() bool {
	return s <= TaskStatusDisputed
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid task status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseTaskStatus accepts either the lowercase name or the numeric encoding.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "0":
		return TaskStatusOpen, nil
	case "completed", "1":
		return TaskStatusCompleted, nil
	case "disputed", "2":
		return TaskStatusDisputed, nil
	default:
		return 0, fmt.Errorf("unknown task status %q", s)
	}
}

// Task is one posted bounty. Creator, Bounty, Token and Description never
// change after creation; Winner is the zero address until the task completes.
type Task struct {
	Id          uint64         `json:"id"`
	Creator     common.Address `json:"creator"`
	Bounty      *big.Int       `json:"bounty"`
	Token       common.Address `json:"token"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status"`
	Winner      common.Address `json:"winner"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`

	// SettlingSubmissionId is the submission whose payout is in flight, or was
	// released without the completion being recorded. Zero when none.
	SettlingSubmissionId uint64 `json:"settlingSubmissionId,omitempty"`
}

// IsSettling reports whether a payout has been reserved for the task.
func (t *Task) IsSettling() bool {
	return t.SettlingSubmissionId != 0
}

// HasWinner reports whether a winner has been recorded.
func (t *Task) HasWinner() bool {
	return t.Winner != (common.Address{})
}

// Clone returns a deep copy so callers can never alias ledger-owned records.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Bounty = CopyAmount(t.Bounty)
	if t.CompletedAt != nil {
		completedAt := *t.CompletedAt
		c.CompletedAt = &completedAt
	}
	return &c
}

// Submission is one candidate answer to a task. Ids are scoped to the parent task.
type Submission struct {
	Id          uint64         `json:"id"`
	TaskId      uint64         `json:"taskId"`
	Submitter   common.Address `json:"submitter"`
	Content     string         `json:"content"`
	Approved    bool           `json:"approved"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// UserStats aggregates one identity's activity.
type UserStats struct {
	Identity       common.Address `json:"identity"`
	CreatedCount   uint64         `json:"createdCount"`
	CompletedCount uint64         `json:"completedCount"`
	TotalEarned    *big.Int       `json:"totalEarned"`
}

// NewUserStats returns the zero-valued record used when an identity is first referenced.
func NewUserStats(identity common.Address) *UserStats {
	return &UserStats{
		Identity:    identity,
		TotalEarned: new(big.Int),
	}
}

func (u *UserStats) Clone() *UserStats {
	if u == nil {
		return nil
	}
	c := *u
	c.TotalEarned = CopyAmount(u.TotalEarned)
	return &c
}

// TaskFilter narrows ListTasks results. Zero values match everything.
type TaskFilter struct {
	Status  *TaskStatus
	Creator *common.Address
	Winner  *common.Address
}

// Matches reports whether the task satisfies every populated field.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Creator != nil && t.Creator != *f.Creator {
		return false
	}
	if f.Winner != nil && t.Winner != *f.Winner {
		return false
	}
	return true
}

// CopyAmount returns a fresh big.Int, treating nil as zero.
func CopyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

package ledgerServer

import (
	"time"

	"github.com/sogobanwo/GiG-Economy/pkg/types"
)

// Header names carried by every mutating request.
const (
	HeaderCallerAddress  = "X-Caller-Address"
	HeaderChallengeToken = "X-Challenge-Token"
	HeaderSignature      = "X-Signature"
)

// KindUnauthenticated is reported when request authentication fails, before
// any ledger operation runs.
const KindUnauthenticated = "unauthenticated"

// Amounts travel as base-10 strings so no client loses precision.

type CreateTaskRequest struct {
	Description string `json:"description"`
	Bounty      string `json:"bounty"`
	Token       string `json:"token"`
}

type CreateTaskResponse struct {
	TaskId uint64 `json:"taskId"`
}

type SubmitTaskRequest struct {
	Content string `json:"content"`
}

type SubmitTaskResponse struct {
	SubmissionId uint64 `json:"submissionId"`
}

type CounterResponse struct {
	Count uint64 `json:"count"`
}

type ChallengeResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type TaskView struct {
	Id          uint64     `json:"id"`
	Creator     string     `json:"creator"`
	Bounty      string     `json:"bounty"`
	Token       string     `json:"token"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Winner      string     `json:"winner,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func NewTaskView(t *types.Task) *TaskView {
	v := &TaskView{
		Id:          t.Id,
		Creator:     t.Creator.Hex(),
		Bounty:      types.CopyAmount(t.Bounty).String(),
		Token:       t.Token.Hex(),
		Description: t.Description,
		Status:      t.Status.String(),
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.HasWinner() {
		v.Winner = t.Winner.Hex()
	}
	return v
}

type SubmissionView struct {
	Id          uint64    `json:"id"`
	TaskId      uint64    `json:"taskId"`
	Submitter   string    `json:"submitter"`
	Content     string    `json:"content"`
	Approved    bool      `json:"approved"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func NewSubmissionView(s *types.Submission) *SubmissionView {
	return &SubmissionView{
		Id:          s.Id,
		TaskId:      s.TaskId,
		Submitter:   s.Submitter.Hex(),
		Content:     s.Content,
		Approved:    s.Approved,
		SubmittedAt: s.SubmittedAt,
	}
}

type UserStatsView struct {
	Address        string `json:"address"`
	CreatedCount   uint64 `json:"createdCount"`
	CompletedCount uint64 `json:"completedCount"`
	TotalEarned    string `json:"totalEarned"`
}

func NewUserStatsView(u *types.UserStats) *UserStatsView {
	return &UserStatsView{
		Address:        u.Identity.Hex(),
		CreatedCount:   u.CreatedCount,
		CompletedCount: u.CompletedCount,
		TotalEarned:    types.CopyAmount(u.TotalEarned).String(),
	}
}

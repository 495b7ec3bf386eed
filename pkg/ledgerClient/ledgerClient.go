// Package ledgerClient talks to a ledgerServer over HTTP. Mutating calls
// fetch a challenge token and sign the request with the caller's key.
package ledgerClient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/sogobanwo/GiG-Economy/pkg/auth"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerServer"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"go.uber.org/zap"
)

// APIError is a non-2xx response. It unwraps to the matching error kind so
// callers can use errors.Is(err, types.ErrTaskNotOpen).
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return types.KindFromName(e.Kind)
}

type LedgerClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// PrivateKey signs mutating requests. Nil restricts the client to reads.
	PrivateKey *ecdsa.PrivateKey
}

type LedgerClient struct {
	config *LedgerClientConfig
	http   *resty.Client
	logger *zap.Logger
}

func NewLedgerClient(cfg *LedgerClientConfig, l *zap.Logger) *LedgerClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &LedgerClient{
		config: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		logger: l,
	}
}

// Address is the identity mutating calls are made as.
func (lc *LedgerClient) Address() (common.Address, error) {
	if lc.config.PrivateKey == nil {
		return common.Address{}, fmt.Errorf("client has no private key")
	}
	return crypto.PubkeyToAddress(lc.config.PrivateKey.PublicKey), nil
}

func toAPIError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var body ledgerServer.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Kind = body.Kind
		apiErr.Message = body.Message
	} else {
		apiErr.Message = resp.String()
	}
	return apiErr
}

func (lc *LedgerClient) get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := lc.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		return toAPIError(resp)
	}
	return nil
}

// post signs and sends body to path. out may be nil.
func (lc *LedgerClient) post(ctx context.Context, path string, body any, out any) error {
	caller, err := lc.Address()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	challenge, err := lc.Challenge(ctx, caller)
	if err != nil {
		return fmt.Errorf("failed to get challenge token: %w", err)
	}
	sig, err := auth.SignMessage(lc.config.PrivateKey, challenge.Token, http.MethodPost, path, payload)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req := lc.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(ledgerServer.HeaderCallerAddress, caller.Hex()).
		SetHeader(ledgerServer.HeaderChallengeToken, challenge.Token).
		SetHeader(ledgerServer.HeaderSignature, hexutil.Encode(sig)).
		SetBody(payload)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		return toAPIError(resp)
	}
	lc.logger.Sugar().Debugw("Signed request accepted", "path", path, "caller", caller.Hex())
	return nil
}

func (lc *LedgerClient) Challenge(ctx context.Context, address common.Address) (*ledgerServer.ChallengeResponse, error) {
	var out ledgerServer.ChallengeResponse
	err := lc.get(ctx, "/v1/auth/challenge", url.Values{"address": {address.Hex()}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (lc *LedgerClient) CreateTask(ctx context.Context, description string, bounty *big.Int, token common.Address) (uint64, error) {
	var out ledgerServer.CreateTaskResponse
	err := lc.post(ctx, "/v1/tasks", &ledgerServer.CreateTaskRequest{
		Description: description,
		Bounty:      types.CopyAmount(bounty).String(),
		Token:       token.Hex(),
	}, &out)
	return out.TaskId, err
}

func (lc *LedgerClient) SubmitTask(ctx context.Context, taskId uint64, content string) (uint64, error) {
	var out ledgerServer.SubmitTaskResponse
	err := lc.post(ctx, fmt.Sprintf("/v1/tasks/%d/submissions", taskId), &ledgerServer.SubmitTaskRequest{Content: content}, &out)
	return out.SubmissionId, err
}

func (lc *LedgerClient) ApproveSubmission(ctx context.Context, taskId, submissionId uint64) error {
	return lc.post(ctx, fmt.Sprintf("/v1/tasks/%d/submissions/%d/approve", taskId, submissionId), struct{}{}, nil)
}

func (lc *LedgerClient) GetTask(ctx context.Context, taskId uint64) (*ledgerServer.TaskView, error) {
	var out ledgerServer.TaskView
	if err := lc.get(ctx, fmt.Sprintf("/v1/tasks/%d", taskId), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks filters by any non-empty argument.
func (lc *LedgerClient) ListTasks(ctx context.Context, status, creator, winner string) ([]*ledgerServer.TaskView, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if creator != "" {
		query.Set("creator", creator)
	}
	if winner != "" {
		query.Set("winner", winner)
	}
	var out []*ledgerServer.TaskView
	if err := lc.get(ctx, "/v1/tasks", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (lc *LedgerClient) GetTaskSubmission(ctx context.Context, taskId, submissionId uint64) (*ledgerServer.SubmissionView, error) {
	var out ledgerServer.SubmissionView
	if err := lc.get(ctx, fmt.Sprintf("/v1/tasks/%d/submissions/%d", taskId, submissionId), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (lc *LedgerClient) ListTaskSubmissions(ctx context.Context, taskId uint64) ([]*ledgerServer.SubmissionView, error) {
	var out []*ledgerServer.SubmissionView
	if err := lc.get(ctx, fmt.Sprintf("/v1/tasks/%d/submissions", taskId), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (lc *LedgerClient) GetAllTasksCounter(ctx context.Context) (uint64, error) {
	var out ledgerServer.CounterResponse
	err := lc.get(ctx, "/v1/counters/tasks", nil, &out)
	return out.Count, err
}

func (lc *LedgerClient) GetTaskSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error) {
	var out ledgerServer.CounterResponse
	err := lc.get(ctx, fmt.Sprintf("/v1/counters/tasks/%d/submissions", taskId), nil, &out)
	return out.Count, err
}

func (lc *LedgerClient) GetUserStats(ctx context.Context, address common.Address) (*ledgerServer.UserStatsView, error) {
	var out ledgerServer.UserStatsView
	if err := lc.get(ctx, fmt.Sprintf("/v1/users/%s/stats", address.Hex()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (lc *LedgerClient) Leaderboard(ctx context.Context, limit int) ([]*ledgerServer.UserStatsView, error) {
	var out []*ledgerServer.UserStatsView
	if err := lc.get(ctx, "/v1/leaderboard", url.Values{"limit": {strconv.Itoa(limit)}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package ledgerServer exposes the ledger's operations over HTTP.
package ledgerServer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sogobanwo/GiG-Economy/pkg/auth"
	"github.com/sogobanwo/GiG-Economy/pkg/identity"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/types"
	"go.uber.org/zap"
)

// Ledger is the operation surface the server drives. *gigEconomy.Engine implements it.
type Ledger interface {
	CreateTask(ctx context.Context, description string, bounty *big.Int, token common.Address) (uint64, error)
	SubmitTask(ctx context.Context, taskId uint64, content string) (uint64, error)
	ApproveSubmission(ctx context.Context, taskId, submissionId uint64) error
	GetTask(ctx context.Context, taskId uint64) (*types.Task, error)
	GetTaskSubmission(ctx context.Context, taskId, submissionId uint64) (*types.Submission, error)
	GetAllTasksCounter(ctx context.Context) (uint64, error)
	GetTaskSubmissionCounter(ctx context.Context, taskId uint64) (uint64, error)
	GetUserStats(ctx context.Context, who common.Address) (*types.UserStats, error)
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	ListTaskSubmissions(ctx context.Context, taskId uint64) ([]*types.Submission, error)
	Leaderboard(ctx context.Context, limit int) ([]*types.UserStats, error)
}

type LedgerServer struct {
	config   *ledgerConfig.ServerConfig
	ledger   Ledger
	verifier *auth.Verifier
	metrics  http.Handler
	logger   *zap.Logger

	router     *gin.Engine
	httpServer *http.Server

	maxBodyBytes int64
}

// NewLedgerServer builds the router. metricsHandler may be nil to leave
// /metrics unrouted.
func NewLedgerServer(
	cfg *ledgerConfig.ServerConfig,
	ledger Ledger,
	verifier *auth.Verifier,
	metricsHandler http.Handler,
	l *zap.Logger,
) *LedgerServer {
	s := &LedgerServer{
		config:   cfg,
		ledger:   ledger,
		verifier: verifier,
		metrics:  metricsHandler,
		logger:   l,
	}
	s.maxBodyBytes = cfg.MaxBodyBytes
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = ledgerConfig.NewDefaultPolicyConfig().MaxRequestBytes()
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *LedgerServer) Handler() http.Handler {
	return s.router
}

func (s *LedgerServer) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/v1")
	v1.GET("/auth/challenge", s.getChallenge)

	v1.GET("/tasks", s.listTasks)
	v1.GET("/tasks/:taskId", s.getTask)
	v1.GET("/tasks/:taskId/submissions", s.listSubmissions)
	v1.GET("/tasks/:taskId/submissions/:submissionId", s.getSubmission)
	v1.GET("/counters/tasks", s.getTaskCounter)
	v1.GET("/counters/tasks/:taskId/submissions", s.getSubmissionCounter)
	v1.GET("/users/:address/stats", s.getUserStats)
	v1.GET("/leaderboard", s.getLeaderboard)

	signed := v1.Group("", s.authenticate())
	signed.POST("/tasks", s.createTask)
	signed.POST("/tasks/:taskId/submissions", s.submitTask)
	signed.POST("/tasks/:taskId/submissions/:submissionId/approve", s.approveSubmission)

	return r
}

// Start serves until Shutdown is called or the listener fails.
func (s *LedgerServer) Start() error {
	s.logger.Sugar().Infow("Starting ledger HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (s *LedgerServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *LedgerServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Sugar().Debugw("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// authenticate verifies the signed challenge and attaches the caller to the request context.
func (s *LedgerServer) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				abortWithError(c, http.StatusRequestEntityTooLarge, types.KindInvalidInput,
					fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
				return
			}
			abortWithError(c, http.StatusBadRequest, types.KindInvalidInput, "failed to read body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		callerHex := c.GetHeader(HeaderCallerAddress)
		if !common.IsHexAddress(callerHex) {
			abortWithError(c, http.StatusUnauthorized, KindUnauthenticated, "missing or malformed "+HeaderCallerAddress)
			return
		}
		sig, err := hexutil.Decode(c.GetHeader(HeaderSignature))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, KindUnauthenticated, "missing or malformed "+HeaderSignature)
			return
		}

		caller := common.HexToAddress(callerHex)
		err = s.verifier.VerifyAuthentication(&auth.Request{
			Caller:         caller,
			ChallengeToken: c.GetHeader(HeaderChallengeToken),
			Signature:      sig,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			Body:           body,
		})
		if err != nil {
			s.logger.Sugar().Debugw("Rejected request authentication",
				"caller", caller.Hex(),
				"path", c.Request.URL.Path,
				"error", err,
			)
			abortWithError(c, http.StatusUnauthorized, KindUnauthenticated, err.Error())
			return
		}

		c.Request = c.Request.WithContext(identity.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind string) int {
	switch kind {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindInvalidTaskId, types.KindInvalidSubmissionId:
		return http.StatusNotFound
	case types.KindTaskNotOpen:
		return http.StatusConflict
	case types.KindNotAuthorized:
		return http.StatusForbidden
	case types.KindTransferFailed:
		return http.StatusPaymentRequired
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Kind: kind, Message: msg})
}

func (s *LedgerServer) writeError(c *gin.Context, err error) {
	kind := types.ErrorKind(err)
	msg := err.Error()
	if kind == types.KindInternal {
		s.logger.Sugar().Errorw("Internal error serving request", "path", c.Request.URL.Path, "error", err)
		msg = "internal error"
	}
	abortWithError(c, StatusForKind(kind), kind, msg)
}

func invalidInput(op, msg string) error {
	return types.NewLedgerError(op, types.ErrInvalidInput, msg)
}

func parseId(c *gin.Context, name string, kind error) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, types.NewLedgerError("parse_"+name, kind, "not a number: "+c.Param(name))
	}
	return id, nil
}

func parseAddress(op, field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, invalidInput(op, field+" must be a hex address")
	}
	return common.HexToAddress(value), nil
}

func (s *LedgerServer) getChallenge(c *gin.Context) {
	address, err := parseAddress("get_challenge", "address", c.Query("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	entry := s.verifier.GenerateChallengeToken(address)
	c.JSON(http.StatusOK, ChallengeResponse{Token: entry.Token, Address: address.Hex(), ExpiresAt: entry.ExpiresAt})
}

func (s *LedgerServer) createTask(c *gin.Context) {
	const op = "create_task"
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalidInput(op, "malformed request body"))
		return
	}
	bounty, ok := new(big.Int).SetString(req.Bounty, 10)
	if !ok {
		s.writeError(c, invalidInput(op, "bounty must be a base-10 integer"))
		return
	}
	token, err := parseAddress(op, "token", req.Token)
	if err != nil {
		s.writeError(c, err)
		return
	}

	taskId, err := s.ledger.CreateTask(c.Request.Context(), req.Description, bounty, token)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateTaskResponse{TaskId: taskId})
}

func (s *LedgerServer) submitTask(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, invalidInput("submit_task", "malformed request body"))
		return
	}

	submissionId, err := s.ledger.SubmitTask(c.Request.Context(), taskId, req.Content)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SubmitTaskResponse{SubmissionId: submissionId})
}

func (s *LedgerServer) approveSubmission(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	submissionId, err := parseId(c, "submissionId", types.ErrInvalidSubmissionId)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.ledger.ApproveSubmission(c.Request.Context(), taskId, submissionId); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *LedgerServer) listTasks(c *gin.Context) {
	const op = "list_tasks"
	var filter types.TaskFilter
	if v := c.Query("status"); v != "" {
		status, err := types.ParseTaskStatus(v)
		if err != nil {
			s.writeError(c, invalidInput(op, err.Error()))
			return
		}
		filter.Status = &status
	}
	if v := c.Query("creator"); v != "" {
		creator, err := parseAddress(op, "creator", v)
		if err != nil {
			s.writeError(c, err)
			return
		}
		filter.Creator = &creator
	}
	if v := c.Query("winner"); v != "" {
		winner, err := parseAddress(op, "winner", v)
		if err != nil {
			s.writeError(c, err)
			return
		}
		filter.Winner = &winner
	}

	tasks, err := s.ledger.ListTasks(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]*TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, NewTaskView(t))
	}
	c.JSON(http.StatusOK, views)
}

func (s *LedgerServer) getTask(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	task, err := s.ledger.GetTask(c.Request.Context(), taskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTaskView(task))
}

func (s *LedgerServer) listSubmissions(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	subs, err := s.ledger.ListTaskSubmissions(c.Request.Context(), taskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]*SubmissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, NewSubmissionView(sub))
	}
	c.JSON(http.StatusOK, views)
}

func (s *LedgerServer) getSubmission(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	submissionId, err := parseId(c, "submissionId", types.ErrInvalidSubmissionId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	sub, err := s.ledger.GetTaskSubmission(c.Request.Context(), taskId, submissionId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSubmissionView(sub))
}

func (s *LedgerServer) getTaskCounter(c *gin.Context) {
	count, err := s.ledger.GetAllTasksCounter(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CounterResponse{Count: count})
}

func (s *LedgerServer) getSubmissionCounter(c *gin.Context) {
	taskId, err := parseId(c, "taskId", types.ErrInvalidTaskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	count, err := s.ledger.GetTaskSubmissionCounter(c.Request.Context(), taskId)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CounterResponse{Count: count})
}

func (s *LedgerServer) getUserStats(c *gin.Context) {
	address, err := parseAddress("get_user_stats", "address", c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	stats, err := s.ledger.GetUserStats(c.Request.Context(), address)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewUserStatsView(stats))
}

func (s *LedgerServer) getLeaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 0 {
		s.writeError(c, invalidInput("leaderboard", "limit must be a non-negative integer"))
		return
	}
	stats, err := s.ledger.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]*UserStatsView, 0, len(stats))
	for _, st := range stats {
		views = append(views, NewUserStatsView(st))
	}
	c.JSON(http.StatusOK, views)
}

package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerClient"
	"github.com/sogobanwo/GiG-Economy/pkg/logger"
	"github.com/sogobanwo/GiG-Economy/pkg/transactionSigner"
	"github.com/urfave/cli/v2"
)

const (
	flagURL        = "url"
	flagPrivateKey = "private-key"
	flagOutput     = "output"
	flagTimeout    = "timeout"
	flagVerbose    = "verbose"
)

// App builds the gigctl command tree. Results are written to out.
func App(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "gigctl",
		Usage:     "Operate a task bounty ledger over its HTTP API",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagURL,
				Usage:   "Ledger API base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"GIGCTL_URL"},
			},
			&cli.StringFlag{
				Name:    flagPrivateKey,
				Usage:   "Hex private key that signs mutating requests",
				EnvVars: []string{"GIGCTL_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "Output format (table, json, yaml)",
				Value:   FormatTable,
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Usage: "Request timeout",
				Value: 30 * time.Second,
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			tasksCommand(),
			submissionsCommand(),
			countersCommand(),
			statsCommand(),
			leaderboardCommand(),
		},
	}
}

type session struct {
	client *ledgerClient.LedgerClient
	out    *Formatter
}

func newSession(c *cli.Context) (*session, error) {
	f, err := NewFormatter(c.String(flagOutput), c.App.Writer)
	if err != nil {
		return nil, err
	}
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool(flagVerbose)})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := &ledgerClient.LedgerClientConfig{
		BaseURL: c.String(flagURL),
		Timeout: c.Duration(flagTimeout),
	}
	if key := c.String(flagPrivateKey); key != "" {
		cfg.PrivateKey, err = transactionSigner.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", flagPrivateKey, err)
		}
	}
	return &session{client: ledgerClient.NewLedgerClient(cfg, l), out: f}, nil
}

func idArg(c *cli.Context, i int, name string) (uint64, error) {
	raw := c.Args().Get(i)
	if raw == "" {
		return 0, fmt.Errorf("missing <%s>", name)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid <%s> %q: %w", name, raw, err)
	}
	return id, nil
}

func addressArg(c *cli.Context, i int, name string) (common.Address, error) {
	raw := c.Args().Get(i)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid <%s> %q: must be a hex address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Create, inspect and settle tasks",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Post a task and escrow its bounty",
				ArgsUsage: "<description>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bounty", Usage: "Bounty in the token's base units", Required: true},
					&cli.StringFlag{Name: "token", Usage: "Token contract address", Required: true},
				},
				Action: createTaskAction,
			},
			{
				Name:      "get",
				Usage:     "Show a task",
				ArgsUsage: "<task-id>",
				Action:    getTaskAction,
			},
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "open, completed or disputed"},
					&cli.StringFlag{Name: "creator", Usage: "Only tasks posted by this address"},
					&cli.StringFlag{Name: "winner", Usage: "Only tasks won by this address"},
				},
				Action: listTasksAction,
			},
			{
				Name:      "submit",
				Usage:     "Submit work for a task",
				ArgsUsage: "<task-id> <content>",
				Action:    submitTaskAction,
			},
			{
				Name:      "approve",
				Usage:     "Approve a submission and release the bounty",
				ArgsUsage: "<task-id> <submission-id>",
				Action:    approveSubmissionAction,
			},
		},
	}
}

func createTaskAction(c *cli.Context) error {
	description := c.Args().First()
	bounty, ok := new(big.Int).SetString(c.String("bounty"), 10)
	if !ok {
		return fmt.Errorf("invalid --bounty %q: must be a base-10 integer", c.String("bounty"))
	}
	if !common.IsHexAddress(c.String("token")) {
		return fmt.Errorf("invalid --token %q: must be a hex address", c.String("token"))
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	taskId, err := s.client.CreateTask(c.Context, description, bounty, common.HexToAddress(c.String("token")))
	if err != nil {
		return err
	}
	return s.out.PrintValue("taskId", taskId)
}

func getTaskAction(c *cli.Context) error {
	taskId, err := idArg(c, 0, "task-id")
	if err != nil {
		return err
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	task, err := s.client.GetTask(c.Context, taskId)
	if err != nil {
		return err
	}
	return s.out.PrintTask(task)
}

func listTasksAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	tasks, err := s.client.ListTasks(c.Context, c.String("status"), c.String("creator"), c.String("winner"))
	if err != nil {
		return err
	}
	return s.out.PrintTasks(tasks)
}

func submitTaskAction(c *cli.Context) error {
	taskId, err := idArg(c, 0, "task-id")
	if err != nil {
		return err
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	submissionId, err := s.client.SubmitTask(c.Context, taskId, c.Args().Get(1))
	if err != nil {
		return err
	}
	return s.out.PrintValue("submissionId", submissionId)
}

func approveSubmissionAction(c *cli.Context) error {
	taskId, err := idArg(c, 0, "task-id")
	if err != nil {
		return err
	}
	submissionId, err := idArg(c, 1, "submission-id")
	if err != nil {
		return err
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if err := s.client.ApproveSubmission(c.Context, taskId, submissionId); err != nil {
		return err
	}
	s.out.Success("Approved submission %d of task %d", submissionId, taskId)
	return nil
}

func submissionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "submissions",
		Usage: "Inspect submissions",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List a task's submissions",
				ArgsUsage: "<task-id>",
				Action: func(c *cli.Context) error {
					taskId, err := idArg(c, 0, "task-id")
					if err != nil {
						return err
					}
					s, err := newSession(c)
					if err != nil {
						return err
					}
					subs, err := s.client.ListTaskSubmissions(c.Context, taskId)
					if err != nil {
						return err
					}
					return s.out.PrintSubmissions(subs)
				},
			},
			{
				Name:      "get",
				Usage:     "Show a submission",
				ArgsUsage: "<task-id> <submission-id>",
				Action: func(c *cli.Context) error {
					taskId, err := idArg(c, 0, "task-id")
					if err != nil {
						return err
					}
					submissionId, err := idArg(c, 1, "submission-id")
					if err != nil {
						return err
					}
					s, err := newSession(c)
					if err != nil {
						return err
					}
					sub, err := s.client.GetTaskSubmission(c.Context, taskId, submissionId)
					if err != nil {
						return err
					}
					return s.out.PrintSubmission(sub)
				},
			},
		},
	}
}

func countersCommand() *cli.Command {
	return &cli.Command{
		Name:  "counters",
		Usage: "Show id counters",
		Subcommands: []*cli.Command{
			{
				Name:  "tasks",
				Usage: "Number of tasks ever created",
				Action: func(c *cli.Context) error {
					s, err := newSession(c)
					if err != nil {
						return err
					}
					count, err := s.client.GetAllTasksCounter(c.Context)
					if err != nil {
						return err
					}
					return s.out.PrintValue("tasks", count)
				},
			},
			{
				Name:      "submissions",
				Usage:     "Number of submissions made to a task",
				ArgsUsage: "<task-id>",
				Action: func(c *cli.Context) error {
					taskId, err := idArg(c, 0, "task-id")
					if err != nil {
						return err
					}
					s, err := newSession(c)
					if err != nil {
						return err
					}
					count, err := s.client.GetTaskSubmissionCounter(c.Context, taskId)
					if err != nil {
						return err
					}
					return s.out.PrintValue("submissions", count)
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show an address's activity",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			address, err := addressArg(c, 0, "address")
			if err != nil {
				return err
			}
			s, err := newSession(c)
			if err != nil {
				return err
			}
			stats, err := s.client.GetUserStats(c.Context, address)
			if err != nil {
				return err
			}
			return s.out.PrintUserStats(stats)
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Rank addresses by bounty earned",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows, 0 for all", Value: 10},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c)
			if err != nil {
				return err
			}
			board, err := s.client.Leaderboard(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			return s.out.PrintLeaderboard(board)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sogobanwo/GiG-Economy/pkg/auth"
	"github.com/sogobanwo/GiG-Economy/pkg/events"
	"github.com/sogobanwo/GiG-Economy/pkg/gigEconomy"
	"github.com/sogobanwo/GiG-Economy/pkg/identity"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerConfig"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerServer"
	"github.com/sogobanwo/GiG-Economy/pkg/logger"
	"github.com/sogobanwo/GiG-Economy/pkg/metrics"
	"github.com/sogobanwo/GiG-Economy/pkg/shutdown"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage/badger"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage/memory"
	"github.com/sogobanwo/GiG-Economy/pkg/taskLedger/storage/postgres"
	"github.com/sogobanwo/GiG-Economy/pkg/transactionSigner"
	"github.com/sogobanwo/GiG-Economy/pkg/userStats"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer/erc20Transfer"
	"github.com/sogobanwo/GiG-Economy/pkg/valueTransfer/simulatedToken"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultCustodian holds simulated escrow when no custodian is configured.
var DefaultCustodian = common.HexToAddress("0x000000000000000000000000000000000000e5c0")

func init() {
	runCmd.Flags().Int(ledgerConfig.ServerPort, ledgerConfig.DefaultServerPort, "HTTP API port")
	runCmd.Flags().Duration(ledgerConfig.ChallengeTTL, ledgerConfig.DefaultChallengeTTL, "How long a challenge token stays valid")
	runCmd.Flags().String(ledgerConfig.StorageType, string(ledgerConfig.StorageMemory), "memory, badger or postgres")
	runCmd.Flags().String(ledgerConfig.BadgerDir, "", "BadgerDB data directory")
	runCmd.Flags().String(ledgerConfig.PostgresDsn, "", "Postgres connection string")
	runCmd.Flags().String(ledgerConfig.TransferType, string(ledgerConfig.TransferSimulated), "simulated or erc20")
	runCmd.Flags().String(ledgerConfig.Custodian, "", "Escrow account for the simulated token")
	runCmd.Flags().String(ledgerConfig.RpcUrl, "", "Ethereum JSON-RPC endpoint for erc20 transfers")
	runCmd.Flags().Uint64(ledgerConfig.ChainId, 0, "Chain id for erc20 transfers")
	runCmd.Flags().String(ledgerConfig.CustodianPrivateKey, "", "Hex private key of the erc20 escrow account")
	runCmd.Flags().Int(ledgerConfig.MaxDescriptionLength, ledgerConfig.DefaultMaxDescriptionLength, "Maximum task description length in characters, 0 for unlimited")
	runCmd.Flags().Int(ledgerConfig.MaxContentLength, ledgerConfig.DefaultMaxContentLength, "Maximum submission content length in characters, 0 for unlimited")
	runCmd.Flags().Bool(ledgerConfig.AllowCreatorSubmission, true, "Allow a task's creator to submit to it")
	runCmd.Flags().Bool(ledgerConfig.RequireCreatorApproval, true, "Only the task's creator may approve a submission")
	runCmd.Flags().Int(ledgerConfig.CommitRetries, ledgerConfig.DefaultCommitRetries, "Attempts per ledger commit under contention")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)
		if Config == nil {
			Config = ledgerConfig.NewLedgerConfig()
		}

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		if err := Config.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, err := newLedgerStore(ctx, Config.Storage, l)
		if err != nil {
			return err
		}

		transfer, custodian, err := newTransferPort(ctx, Config.Transfer, l)
		if err != nil {
			_ = store.Close()
			return err
		}
		l.Sugar().Infow("Value transfer configured",
			"type", Config.Transfer.Type,
			"custodian", custodian.Hex(),
		)

		ledger := taskLedger.NewTaskLedger(store, &taskLedger.TaskLedgerConfig{
			CommitRetries: Config.Policy.CommitRetries,
		}, l)

		m := metrics.NewMetrics()
		engine := gigEconomy.NewEngine(
			&gigEconomy.EngineConfig{Policy: Config.Policy},
			ledger,
			userStats.NewTracker(),
			identity.NewContextProvider(custodian),
			transfer,
			events.Multi{events.NewLoggingSink(l), m},
			l,
		)

		tokens := auth.NewChallengeTokenManager(Config.Server.ChallengeTTL)
		go tokens.RunCleanup(ctx, Config.Server.ChallengeTTL)

		server := ledgerServer.NewLedgerServer(Config.Server, engine, auth.NewVerifier(tokens), m.Handler(), l)
		go func() {
			if err := server.Start(); err != nil {
				l.Sugar().Fatalw("Failed to run ledger API", zap.Error(err))
			}
		}()

		gracefulShutdownNotifier := shutdown.CreateGracefulShutdownChannel()
		done := make(chan bool)
		shutdown.ListenForShutdown(gracefulShutdownNotifier, done, func() {
			l.Sugar().Info("Shutting down...")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 4*time.Second)
			defer stop()
			if err := server.Shutdown(shutdownCtx); err != nil {
				l.Sugar().Errorw("Failed to stop ledger API", "error", err)
			}
			cancel()
			if err := ledger.Close(); err != nil {
				l.Sugar().Errorw("Failed to close storage", "error", err)
			}
		}, time.Second*5, l)
		return nil
	},
}

func newLedgerStore(ctx context.Context, cfg *ledgerConfig.StorageConfig, l *zap.Logger) (storage.LedgerStore, error) {
	switch cfg.Type {
	case ledgerConfig.StorageMemory:
		l.Sugar().Infow("Using in-memory storage")
		return memory.NewInMemoryLedgerStore(), nil
	case ledgerConfig.StorageBadger:
		l.Sugar().Infow("Using BadgerDB storage", "dir", cfg.BadgerConfig.Dir)
		store, err := badger.NewBadgerLedgerStore(cfg.BadgerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger store: %w", err)
		}
		return store, nil
	case ledgerConfig.StoragePostgres:
		l.Sugar().Infow("Using Postgres storage")
		store, err := postgres.NewPostgresLedgerStore(ctx, cfg.PostgresConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// newTransferPort returns the configured port and the escrow account it
// holds bounties in.
func newTransferPort(ctx context.Context, cfg *ledgerConfig.TransferConfig, l *zap.Logger) (valueTransfer.Port, common.Address, error) {
	switch cfg.Type {
	case ledgerConfig.TransferSimulated:
		custodian := DefaultCustodian
		if cfg.Custodian != "" {
			custodian = common.HexToAddress(cfg.Custodian)
		}
		token := simulatedToken.NewSimulatedToken(&simulatedToken.SimulatedTokenConfig{Custodian: custodian}, l)
		seedAirdrops(token, cfg.Airdrops, l)
		return token, custodian, nil
	case ledgerConfig.TransferErc20:
		client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("failed to dial %s: %w", cfg.RpcUrl, err)
		}
		signer, err := transactionSigner.NewPrivateKeySigner(cfg.CustodianPrivateKey, new(big.Int).SetUint64(cfg.ChainId), client, l)
		if err != nil {
			client.Close()
			return nil, common.Address{}, fmt.Errorf("failed to create private key signer: %w", err)
		}
		port := erc20Transfer.NewErc20Transfer(client, signer, l)
		return port, port.Custodian(), nil
	default:
		return nil, common.Address{}, fmt.Errorf("unknown transfer type: %s", cfg.Type)
	}
}

// seedAirdrops mints each airdrop and lets the custodian spend it, so a
// seeded account can post bounties straight away.
func seedAirdrops(token *simulatedToken.SimulatedToken, airdrops []*ledgerConfig.Airdrop, l *zap.Logger) {
	for _, a := range airdrops {
		amount, _ := a.ParsedAmount()
		asset := common.HexToAddress(a.Token)
		account := common.HexToAddress(a.Account)

		token.Mint(asset, account, amount)
		allowance := new(big.Int).Add(token.Allowance(asset, account, token.Custodian()), amount)
		token.Approve(asset, account, token.Custodian(), allowance)
		l.Sugar().Infow("Seeded simulated balance",
			"token", asset.Hex(),
			"account", account.Hex(),
			"amount", amount.String(),
		)
	}
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(ledgerConfig.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(ledgerConfig.KebabToSnakeCase(f.Name)); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}

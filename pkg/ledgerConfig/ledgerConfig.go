package ledgerConfig

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "GIGLEDGER"

	Debug                  = "debug"
	ServerPort             = "server-port"
	StorageType            = "storage-type"
	BadgerDir              = "badger-dir"
	PostgresDsn            = "postgres-dsn"
	TransferType           = "transfer-type"
	Custodian              = "custodian"
	RpcUrl                 = "rpc-url"
	ChainId                = "chain-id"
	CustodianPrivateKey    = "custodian-private-key"
	MaxDescriptionLength   = "max-description-length"
	MaxContentLength       = "max-content-length"
	AllowCreatorSubmission = "allow-creator-submission"
	RequireCreatorApproval = "require-creator-approval"
	CommitRetries          = "commit-retries"
	ChallengeTTL           = "challenge-ttl"
)

const (
	DefaultServerPort           = 8080
	DefaultMaxDescriptionLength = 256
	DefaultMaxContentLength     = 512
	DefaultCommitRetries        = 5
	DefaultChallengeTTL         = 5 * time.Minute

	// DefaultMaxBodyBytes bounds signed request bodies when the policy leaves
	// a text field uncapped.
	DefaultMaxBodyBytes int64 = 1 << 20

	// bodyOverheadBytes covers JSON framing and the non-text fields of a request.
	bodyOverheadBytes int64 = 4096
	// maxEncodedRuneBytes is the widest JSON encoding of one character, an
	// escaped surrogate pair.
	maxEncodedRuneBytes int64 = 12
)

// KebabToSnakeCase converts a flag name into the key viper stores it under.
func KebabToSnakeCase(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

func NormalizeFlagName(s string) string {
	return KebabToSnakeCase(s)
}

type StorageKind string

const (
	StorageMemory   StorageKind = "memory"
	StorageBadger   StorageKind = "badger"
	StoragePostgres StorageKind = "postgres"
)

// StorageConfig contains configuration for the ledger's persistence layer
type StorageConfig struct {
	Type           StorageKind     `json:"type" yaml:"type"`
	BadgerConfig   *BadgerConfig   `json:"badger,omitempty" yaml:"badger,omitempty"`
	PostgresConfig *PostgresConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// BadgerConfig contains configuration for BadgerDB storage
type BadgerConfig struct {
	// Directory where BadgerDB will store its data
	Dir string `json:"dir" yaml:"dir"`
	// InMemory runs BadgerDB in memory-only mode (for testing)
	InMemory bool `json:"inMemory,omitempty" yaml:"inMemory,omitempty"`
	// ValueLogFileSize sets the maximum size of a single value log file
	ValueLogFileSize int64 `json:"valueLogFileSize,omitempty" yaml:"valueLogFileSize,omitempty"`
	// NumVersionsToKeep sets how many versions to keep for each key
	NumVersionsToKeep int `json:"numVersionsToKeep,omitempty" yaml:"numVersionsToKeep,omitempty"`
	// GCInterval is how often the value log is garbage collected. Zero uses five minutes.
	GCInterval time.Duration `json:"gcInterval,omitempty" yaml:"gcInterval,omitempty"`
}

// PostgresConfig contains configuration for Postgres storage
type PostgresConfig struct {
	Dsn      string `json:"dsn" yaml:"dsn"`
	MaxConns int32  `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
}

// Validate validates the StorageConfig
func (sc *StorageConfig) Validate() error {
	var allErrors field.ErrorList

	if sc.Type == "" {
		sc.Type = StorageMemory
	}
	if !slices.Contains([]StorageKind{StorageMemory, StorageBadger, StoragePostgres}, sc.Type) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("type"), sc.Type, "type must be one of [memory, badger, postgres]"))
	}

	switch sc.Type {
	case StorageBadger:
		if sc.BadgerConfig == nil {
			allErrors = append(allErrors, field.Required(field.NewPath("badger"), "badger configuration is required when type is 'badger'"))
		} else if sc.BadgerConfig.Dir == "" && !sc.BadgerConfig.InMemory {
			allErrors = append(allErrors, field.Required(field.NewPath("badger.dir"), "badger directory is required"))
		}
	case StoragePostgres:
		if sc.PostgresConfig == nil || sc.PostgresConfig.Dsn == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("postgres.dsn"), "postgres dsn is required when type is 'postgres'"))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type TransferKind string

const (
	TransferSimulated TransferKind = "simulated"
	TransferErc20     TransferKind = "erc20"
)

// Airdrop seeds a simulated token balance at startup.
type Airdrop struct {
	Token   string `json:"token" yaml:"token"`
	Account string `json:"account" yaml:"account"`
	Amount  string `json:"amount" yaml:"amount"`
}

func (a *Airdrop) ParsedAmount() (*big.Int, bool) {
	return new(big.Int).SetString(a.Amount, 10)
}

// TransferConfig selects and configures the value transfer port
type TransferConfig struct {
	Type TransferKind `json:"type" yaml:"type"`

	// Custodian is the escrow account for the simulated token. Empty uses a
	// fixed default address. erc20 derives it from the private key.
	Custodian string `json:"custodian,omitempty" yaml:"custodian,omitempty"`

	RpcUrl              string `json:"rpcUrl,omitempty" yaml:"rpcUrl,omitempty"`
	ChainId             uint64 `json:"chainId,omitempty" yaml:"chainId,omitempty"`
	CustodianPrivateKey string `json:"custodianPrivateKey,omitempty" yaml:"custodianPrivateKey,omitempty"`

	Airdrops []*Airdrop `json:"airdrops,omitempty" yaml:"airdrops,omitempty"`
}

func (tc *TransferConfig) Validate() error {
	var allErrors field.ErrorList

	if tc.Type == "" {
		tc.Type = TransferSimulated
	}

	switch tc.Type {
	case TransferSimulated:
		if tc.Custodian != "" && !common.IsHexAddress(tc.Custodian) {
			allErrors = append(allErrors, field.Invalid(field.NewPath("custodian"), tc.Custodian, "custodian must be a hex address"))
		}
		for i, a := range tc.Airdrops {
			p := field.NewPath("airdrops").Index(i)
			if !common.IsHexAddress(a.Token) {
				allErrors = append(allErrors, field.Invalid(p.Child("token"), a.Token, "token must be a hex address"))
			}
			if !common.IsHexAddress(a.Account) {
				allErrors = append(allErrors, field.Invalid(p.Child("account"), a.Account, "account must be a hex address"))
			}
			if amount, ok := a.ParsedAmount(); !ok || amount.Sign() <= 0 {
				allErrors = append(allErrors, field.Invalid(p.Child("amount"), a.Amount, "amount must be a positive base-10 integer"))
			}
		}
	case TransferErc20:
		if tc.RpcUrl == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required for erc20 transfers"))
		}
		if tc.ChainId == 0 {
			allErrors = append(allErrors, field.Required(field.NewPath("chainId"), "chainId is required for erc20 transfers"))
		}
		if tc.CustodianPrivateKey == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("custodianPrivateKey"), "custodianPrivateKey is required for erc20 transfers"))
		}
	default:
		allErrors = append(allErrors, field.Invalid(field.NewPath("type"), tc.Type, "type must be one of [simulated, erc20]"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// PolicyConfig holds the ledger's validation limits and authorization rules
type PolicyConfig struct {
	MaxDescriptionLength   int  `json:"maxDescriptionLength" yaml:"maxDescriptionLength"`
	MaxContentLength       int  `json:"maxContentLength" yaml:"maxContentLength"`
	AllowCreatorSubmission bool `json:"allowCreatorSubmission" yaml:"allowCreatorSubmission"`
	RequireCreatorApproval bool `json:"requireCreatorApproval" yaml:"requireCreatorApproval"`
	CommitRetries          int  `json:"commitRetries" yaml:"commitRetries"`
}

func NewDefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		MaxDescriptionLength:   DefaultMaxDescriptionLength,
		MaxContentLength:       DefaultMaxContentLength,
		AllowCreatorSubmission: true,
		RequireCreatorApproval: true,
		CommitRetries:          DefaultCommitRetries,
	}
}

// MaxRequestBytes is the largest signed request body that can carry text
// within the policy's caps.
func (pc *PolicyConfig) MaxRequestBytes() int64 {
	if pc.MaxDescriptionLength <= 0 || pc.MaxContentLength <= 0 {
		return DefaultMaxBodyBytes
	}
	longest := max(pc.MaxDescriptionLength, pc.MaxContentLength)
	return int64(longest)*maxEncodedRuneBytes + bodyOverheadBytes
}

func (pc *PolicyConfig) Validate() error {
	var allErrors field.ErrorList
	if pc.MaxDescriptionLength < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxDescriptionLength"), pc.MaxDescriptionLength, "must not be negative"))
	}
	if pc.MaxContentLength < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxContentLength"), pc.MaxContentLength, "must not be negative"))
	}
	if pc.CommitRetries < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("commitRetries"), pc.CommitRetries, "must be at least 1"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type ServerConfig struct {
	Port         int           `json:"port" yaml:"port"`
	ChallengeTTL time.Duration `json:"challengeTTL" yaml:"challengeTTL"`
	// MaxBodyBytes caps signed request bodies. Derived from the policy when unset.
	MaxBodyBytes int64 `json:"maxBodyBytes,omitempty" yaml:"maxBodyBytes,omitempty"`
}

func (sc *ServerConfig) Validate() error {
	var allErrors field.ErrorList
	if sc.Port <= 0 || sc.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), sc.Port, "port must be between 1 and 65535"))
	}
	if sc.ChallengeTTL <= 0 {
		sc.ChallengeTTL = DefaultChallengeTTL
	}
	if sc.MaxBodyBytes < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxBodyBytes"), sc.MaxBodyBytes, "must not be negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type LedgerConfig struct {
	Debug    bool            `json:"debug" yaml:"debug"`
	Server   *ServerConfig   `json:"server" yaml:"server"`
	Storage  *StorageConfig  `json:"storage" yaml:"storage"`
	Transfer *TransferConfig `json:"transfer" yaml:"transfer"`
	Policy   *PolicyConfig   `json:"policy" yaml:"policy"`
}

// Validate validates the config and fills in defaults for omitted sections.
func (lc *LedgerConfig) Validate() error {
	var allErrors field.ErrorList

	if lc.Server == nil {
		lc.Server = &ServerConfig{Port: DefaultServerPort}
	}
	if err := lc.Server.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("server"), lc.Server, err.Error()))
	}

	if lc.Storage == nil {
		lc.Storage = &StorageConfig{Type: StorageMemory}
	}
	if err := lc.Storage.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("storage"), lc.Storage, err.Error()))
	}

	if lc.Transfer == nil {
		lc.Transfer = &TransferConfig{Type: TransferSimulated}
	}
	if err := lc.Transfer.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("transfer"), lc.Transfer, err.Error()))
	}

	if lc.Policy == nil {
		lc.Policy = NewDefaultPolicyConfig()
	}
	if err := lc.Policy.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("policy"), lc.Policy, err.Error()))
	}
	if lc.Server.MaxBodyBytes == 0 {
		lc.Server.MaxBodyBytes = lc.Policy.MaxRequestBytes()
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// NewLedgerConfig builds a config from bound flags and GIGLEDGER_* environment variables.
func NewLedgerConfig() *LedgerConfig {
	lc := &LedgerConfig{
		Debug: viper.GetBool(NormalizeFlagName(Debug)),
		Server: &ServerConfig{
			Port:         viper.GetInt(NormalizeFlagName(ServerPort)),
			ChallengeTTL: viper.GetDuration(NormalizeFlagName(ChallengeTTL)),
		},
		Storage: &StorageConfig{
			Type: StorageKind(viper.GetString(NormalizeFlagName(StorageType))),
		},
		Transfer: &TransferConfig{
			Type:                TransferKind(viper.GetString(NormalizeFlagName(TransferType))),
			Custodian:           viper.GetString(NormalizeFlagName(Custodian)),
			RpcUrl:              viper.GetString(NormalizeFlagName(RpcUrl)),
			ChainId:             viper.GetUint64(NormalizeFlagName(ChainId)),
			CustodianPrivateKey: viper.GetString(NormalizeFlagName(CustodianPrivateKey)),
		},
		Policy: &PolicyConfig{
			MaxDescriptionLength:   viper.GetInt(NormalizeFlagName(MaxDescriptionLength)),
			MaxContentLength:       viper.GetInt(NormalizeFlagName(MaxContentLength)),
			AllowCreatorSubmission: viper.GetBool(NormalizeFlagName(AllowCreatorSubmission)),
			RequireCreatorApproval: viper.GetBool(NormalizeFlagName(RequireCreatorApproval)),
			CommitRetries:          viper.GetInt(NormalizeFlagName(CommitRetries)),
		},
	}

	switch lc.Storage.Type {
	case StorageBadger:
		lc.Storage.BadgerConfig = &BadgerConfig{Dir: viper.GetString(NormalizeFlagName(BadgerDir))}
	case StoragePostgres:
		lc.Storage.PostgresConfig = &PostgresConfig{Dsn: viper.GetString(NormalizeFlagName(PostgresDsn))}
	}
	return lc
}

// newSeededLedgerConfig returns the decode target for config files. Policy
// starts from the defaults so a partial policy block only overrides the
// fields it names. A null document still decodes to nil.
func newSeededLedgerConfig() *LedgerConfig {
	return &LedgerConfig{Policy: NewDefaultPolicyConfig()}
}

func NewLedgerConfigFromYamlBytes(data []byte) (*LedgerConfig, error) {
	lc := newSeededLedgerConfig()
	if err := yaml.Unmarshal(data, &lc); err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, fmt.Errorf("empty config")
	}
	return lc, nil
}

func NewLedgerConfigFromJsonBytes(data []byte) (*LedgerConfig, error) {
	lc := newSeededLedgerConfig()
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, fmt.Errorf("empty config")
	}
	return lc, nil
}

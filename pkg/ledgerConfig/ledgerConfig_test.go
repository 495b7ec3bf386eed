package ledgerConfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlValid = `
debug: true
server:
  port: 9090
storage:
  type: badger
  badger:
    dir: /var/lib/gigledger
transfer:
  type: simulated
  custodian: "0x00000000000000000000000000000000000000aa"
  airdrops:
    - token: "0x00000000000000000000000000000000000000e1"
      account: "0x00000000000000000000000000000000000000c1"
      amount: "1000000000000000000000"
policy:
  maxDescriptionLength: 256
  maxContentLength: 512
  allowCreatorSubmission: false
  requireCreatorApproval: true
  commitRetries: 3
`

const yamlInvalid = `
server:
  port: 0
storage:
  type: sqlite
transfer:
  type: erc20
policy:
  maxDescriptionLength: -1
  commitRetries: 0
`

const jsonValid = `{
  "server": {"port": 8081},
  "storage": {"type": "postgres", "postgres": {"dsn": "postgres://localhost/gig"}},
  "transfer": {"type": "erc20", "rpcUrl": "http://localhost:8545", "chainId": 31337, "custodianPrivateKey": "0xabc"}
}`

func Test_LedgerConfig(t *testing.T) {
	t.Run("YAML", func(t *testing.T) {
		t.Run("Should parse a valid yaml config", func(t *testing.T) {
			lc, err := NewLedgerConfigFromYamlBytes([]byte(yamlValid))
			require.NoError(t, err)
			require.NoError(t, lc.Validate())

			assert.True(t, lc.Debug)
			assert.Equal(t, 9090, lc.Server.Port)
			assert.Equal(t, DefaultChallengeTTL, lc.Server.ChallengeTTL)
			assert.Equal(t, StorageBadger, lc.Storage.Type)
			assert.Equal(t, "/var/lib/gigledger", lc.Storage.BadgerConfig.Dir)
			require.Len(t, lc.Transfer.Airdrops, 1)
			amount, ok := lc.Transfer.Airdrops[0].ParsedAmount()
			require.True(t, ok)
			assert.Equal(t, "1000000000000000000000", amount.String())
			assert.False(t, lc.Policy.AllowCreatorSubmission)
			assert.Equal(t, 3, lc.Policy.CommitRetries)
		})
		t.Run("Should fail validation for an invalid yaml config", func(t *testing.T) {
			lc, err := NewLedgerConfigFromYamlBytes([]byte(yamlInvalid))
			require.NoError(t, err)

			err = lc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "port must be between 1 and 65535")
			assert.Contains(t, err.Error(), "type must be one of [memory, badger, postgres]")
			assert.Contains(t, err.Error(), "rpcUrl is required")
			assert.Contains(t, err.Error(), "must be at least 1")
		})
		t.Run("Should keep policy defaults for fields a partial policy block omits", func(t *testing.T) {
			lc, err := NewLedgerConfigFromYamlBytes([]byte("policy: {maxDescriptionLength: 100, commitRetries: 5}\n"))
			require.NoError(t, err)
			require.NoError(t, lc.Validate())

			assert.Equal(t, 100, lc.Policy.MaxDescriptionLength)
			assert.Equal(t, 5, lc.Policy.CommitRetries)
			assert.Equal(t, DefaultMaxContentLength, lc.Policy.MaxContentLength)
			assert.True(t, lc.Policy.AllowCreatorSubmission)
			assert.True(t, lc.Policy.RequireCreatorApproval)
		})
		t.Run("Should reject an empty document", func(t *testing.T) {
			_, err := NewLedgerConfigFromYamlBytes([]byte(""))
			assert.Error(t, err)
		})
		t.Run("Should fail to parse malformed yaml", func(t *testing.T) {
			_, err := NewLedgerConfigFromYamlBytes([]byte("server: [port"))
			assert.Error(t, err)
		})
	})

	t.Run("JSON", func(t *testing.T) {
		t.Run("Should parse a valid json config", func(t *testing.T) {
			lc, err := NewLedgerConfigFromJsonBytes([]byte(jsonValid))
			require.NoError(t, err)
			require.NoError(t, lc.Validate())

			assert.Equal(t, StoragePostgres, lc.Storage.Type)
			assert.Equal(t, "postgres://localhost/gig", lc.Storage.PostgresConfig.Dsn)
			assert.Equal(t, TransferErc20, lc.Transfer.Type)
			assert.Equal(t, uint64(31337), lc.Transfer.ChainId)

			// Omitted policy falls back to defaults
			assert.Equal(t, DefaultMaxDescriptionLength, lc.Policy.MaxDescriptionLength)
			assert.Equal(t, DefaultMaxContentLength, lc.Policy.MaxContentLength)
			assert.True(t, lc.Policy.AllowCreatorSubmission)
			assert.True(t, lc.Policy.RequireCreatorApproval)
		})
		t.Run("Should let a partial policy override only what it names", func(t *testing.T) {
			lc, err := NewLedgerConfigFromJsonBytes([]byte(`{"policy": {"allowCreatorSubmission": false}}`))
			require.NoError(t, err)
			require.NoError(t, lc.Validate())

			assert.False(t, lc.Policy.AllowCreatorSubmission)
			assert.True(t, lc.Policy.RequireCreatorApproval)
			assert.Equal(t, DefaultMaxDescriptionLength, lc.Policy.MaxDescriptionLength)
			assert.Equal(t, DefaultCommitRetries, lc.Policy.CommitRetries)
		})
	})
}

func TestServerConfig_MaxBodyBytes(t *testing.T) {
	t.Run("Should derive the body limit from the policy caps", func(t *testing.T) {
		lc, err := NewLedgerConfigFromYamlBytes([]byte("policy: {maxDescriptionLength: 100, maxContentLength: 300}\n"))
		require.NoError(t, err)
		require.NoError(t, lc.Validate())
		assert.Equal(t, lc.Policy.MaxRequestBytes(), lc.Server.MaxBodyBytes)
		assert.Greater(t, lc.Server.MaxBodyBytes, int64(300*12))
	})

	t.Run("Should fall back to the default when a text field is uncapped", func(t *testing.T) {
		policy := NewDefaultPolicyConfig()
		policy.MaxContentLength = 0
		assert.Equal(t, DefaultMaxBodyBytes, policy.MaxRequestBytes())
	})

	t.Run("Should keep an explicit limit", func(t *testing.T) {
		lc, err := NewLedgerConfigFromYamlBytes([]byte("server: {port: 8080, maxBodyBytes: 2048}\n"))
		require.NoError(t, err)
		require.NoError(t, lc.Validate())
		assert.Equal(t, int64(2048), lc.Server.MaxBodyBytes)
	})
}

func TestStorageConfig(t *testing.T) {
	t.Run("Should default to memory", func(t *testing.T) {
		sc := &StorageConfig{}
		require.NoError(t, sc.Validate())
		assert.Equal(t, StorageMemory, sc.Type)
	})
	t.Run("Should require a badger dir unless in memory", func(t *testing.T) {
		sc := &StorageConfig{Type: StorageBadger, BadgerConfig: &BadgerConfig{}}
		assert.Error(t, sc.Validate())

		sc.BadgerConfig.InMemory = true
		assert.NoError(t, sc.Validate())
	})
	t.Run("Should require a postgres dsn", func(t *testing.T) {
		sc := &StorageConfig{Type: StoragePostgres}
		err := sc.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres dsn is required")
	})
}

func TestTransferConfig(t *testing.T) {
	t.Run("Should reject bad airdrops", func(t *testing.T) {
		tc := &TransferConfig{
			Airdrops: []*Airdrop{{Token: "nope", Account: "0x00000000000000000000000000000000000000c1", Amount: "-5"}},
		}
		err := tc.Validate()
		require.Error(t, err)
		assert.Equal(t, TransferSimulated, tc.Type)
		assert.Contains(t, err.Error(), "token must be a hex address")
		assert.Contains(t, err.Error(), "amount must be a positive base-10 integer")
	})
}

func TestKebabToSnakeCase(t *testing.T) {
	assert.Equal(t, "max_description_length", KebabToSnakeCase(MaxDescriptionLength))
	assert.Equal(t, "debug", KebabToSnakeCase(Debug))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bookchain/history"
)

const testContract = "0x0000000000000000000000000000000000c0ffee"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "bookchain.yaml", `
chain:
  endpoint: https://rpc.example.org
  contract: `+testContract+`
  chainId: 11155111
  pollInterval: 500ms
history:
  lookbackBlocks: 2000
  maxEntries: 25
gateway:
  listen: 127.0.0.1:9090
  burst: 3
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", cfg.Chain.Endpoint)
	require.Equal(t, uint64(11155111), cfg.Chain.ChainID)
	require.Equal(t, 500*time.Millisecond, cfg.Chain.PollInterval)
	require.Equal(t, history.Config{LookbackBlocks: 2000, MaxEntries: 25}, cfg.History)
	require.Equal(t, "127.0.0.1:9090", cfg.Gateway.Listen)
	require.Equal(t, 3, cfg.Gateway.Burst)
	require.Equal(t, 30*time.Second, cfg.Gateway.ReadTimeout)
	require.Equal(t, common.HexToAddress(testContract), cfg.ClientConfig().Contract)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "bookchain.toml", `
[chain]
Endpoint = "http://127.0.0.1:8545"
Contract = "`+testContract+`"

[metadata]
GatewayURL = "https://gateway.pinata.cloud"
Token = "jwt"
Timeout = "3s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://gateway.pinata.cloud", cfg.IPFSConfig().GatewayURL)
	require.Equal(t, "jwt", cfg.IPFSConfig().Token)
	require.Equal(t, 3*time.Second, cfg.IPFSConfig().Timeout)
	require.Equal(t, history.DefaultMaxEntries, cfg.History.MaxEntries)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bookchain.yaml", "chain:\n  contract: "+testContract+"\n  endpiont: x\n")
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, "bookchain.toml", "[chain]\nContract = \""+testContract+"\"\nEndpiont = \"x\"\n")
	_, err = Load(path)
	require.Error(t, err)

	_, err = Load(writeConfig(t, "bookchain.ini", ""))
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BOOKCHAIN_CHAIN_CONTRACT", testContract)
	t.Setenv("BOOKCHAIN_CHAIN_ENDPOINT", "wss://node.example.org")
	t.Setenv("BOOKCHAIN_HISTORY_MAXENTRIES", "4")
	t.Setenv("BOOKCHAIN_GATEWAY_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("BOOKCHAIN_METADATA_TOKEN", "secret")
	t.Setenv("BOOKCHAIN_METADATA_CACHE_PATH", "/var/cache/bookchain/metadata.db")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "wss://node.example.org", cfg.Chain.Endpoint)
	require.Equal(t, 4, cfg.History.MaxEntries)
	require.Equal(t, 2.5, cfg.Gateway.RequestsPerSecond)
	require.Equal(t, "secret", cfg.Metadata.Token)
	require.Equal(t, "/var/cache/bookchain/metadata.db", cfg.IPFSConfig().CachePath)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Chain.Contract = testContract
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Wallet.Address = "0x123"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Logging.Level = "chatty"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Chain.Endpoint = " "
	require.Error(t, bad.Validate())
}

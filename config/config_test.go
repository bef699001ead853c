package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAggregatesSubsystemDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 680, cfg.Mempool.MaxBlockChunks)
	require.Equal(t, 680, cfg.Proposer.MaxBlockChunks)
	require.Equal(t, 680, cfg.StateKeeper.MaxBlockChunks)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zknode.yaml")
	yamlContent := []byte("fee_account_address: \"0xabc\"\nmempool:\n  maxblockchunks: 100\n")
	require.NoError(t, os.WriteFile(path, yamlContent, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xabc", cfg.FeeAccountAddress)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
Environment = "prod"
LogFile = "deurod.log"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected rpc address: %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./data" || cfg.GenesisFile != "genesis.json" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.Environment != "prod" || cfg.LogFile != "deurod.log" {
		t.Fatalf("unexpected logging settings: %+v", cfg)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./deuro-data" || cfg.Environment != "local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// Loading the freshly written file round-trips.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("GenesisFile = \"genesis.json\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./deuro-data" || cfg.Environment != "local" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRequiresDataDir(t *testing.T) {
	cfg := &Config{RPCAddress: ":8545"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure without DataDir")
	}
	cfg.InMemoryState = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("in-memory state must not require DataDir: %v", err)
	}
	cfg.RPCAddress = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure without RPCAddress")
	}
}

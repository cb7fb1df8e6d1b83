package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"deuro/config"
	"deuro/core"
	"deuro/observability/logging"
	"deuro/rpc"
	"deuro/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	genesisPath := flag.String("genesis", "", "path to a genesis file (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("deurod", cfg.Environment, cfg.LogFile)

	var db storage.Database
	if cfg.InMemoryState {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			logger.Error("failed to open state database", "dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	node := core.NewNode(db)

	genesis := cfg.GenesisFile
	if *genesisPath != "" {
		genesis = *genesisPath
	}
	if genesis != "" {
		spec, err := core.LoadGenesisSpec(genesis)
		if err != nil {
			logger.Error("failed to load genesis", "path", genesis, "error", err)
			os.Exit(1)
		}
		if err := node.ApplyGenesis(spec); err != nil {
			logger.Error("failed to apply genesis", "error", err)
			os.Exit(1)
		}
		logger.Info("genesis applied", "path", genesis)
	}

	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/config"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/database"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|version]")
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	switch cmd := os.Args[1]; cmd {
	case "up", "down":
		if err := database.Migrate(cfg.DatabaseURL(), cmd); err != nil {
			log.Error("migration failed", "direction", cmd, "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied", "direction", cmd)
	case "version":
		v, dirty, err := database.Version(cfg.DatabaseURL())
		if err != nil {
			log.Error("read version", "err", err)
			os.Exit(1)
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
}

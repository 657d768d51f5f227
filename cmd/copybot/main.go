// Command copybot mirrors a tracked Polymarket trader's fills into a paper
// ledger or a live wallet. It loads configuration, validates it, sets up
// signal handling, and runs the application in the configured mode.
//
// Usage:
//
//	copybot -config config.toml
//	copybot encrypt-key -out wallet.key.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/copybot/internal/app"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		if err := encryptKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file (.toml or .yaml)")
	mode := flag.String("mode", "", "override the configured mode (paper, live, status)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("copybot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("copybot stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// encryptKey writes the private key from COPYBOT_WALLET_PRIVATE_KEY to an
// encrypted key file protected by COPYBOT_WALLET_KEY_PASSWORD.
func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "wallet.key.json", "destination key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("COPYBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("COPYBOT_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("COPYBOT_WALLET_PRIVATE_KEY and COPYBOT_WALLET_KEY_PASSWORD must be set")
	}
	if err := crypto.WriteKeyFile(*out, key, password); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "wrote %s; set wallet.encrypted_key_path and unset the raw key\n", *out)
	return nil
}

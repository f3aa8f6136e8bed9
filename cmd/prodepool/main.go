// Command prodepool runs one prediction pool node. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/app"
	"github.com/alanyoungcy/prodepool/internal/config"
	"github.com/alanyoungcy/prodepool/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptTo := flag.String("encrypt-key", "",
		"encrypt signer.private_key with signer.key_password into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if *encryptTo != "" {
		addr, err := encryptOperatorKey(cfg, *encryptTo)
		if err != nil {
			logger.Error("failed to encrypt operator key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("operator key encrypted",
			slog.String("path", *encryptTo),
			slog.String("address", addr.Hex()),
		)
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("prodepool starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", redacted),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("prodepool stopped")
}

// encryptOperatorKey writes the configured raw key as an encrypted key file
// so deployments can drop private_key in favour of encrypted_key_path.
func encryptOperatorKey(cfg *config.Config, path string) (common.Address, error) {
	if cfg.Signer.PrivateKey == "" || cfg.Signer.KeyPassword == "" {
		return common.Address{}, errors.New("signer.private_key and signer.key_password are required")
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: cfg.Signer.PrivateKey})
	if err != nil {
		return common.Address{}, err
	}
	if err := crypto.WriteKeyFile(path, key, cfg.Signer.KeyPassword); err != nil {
		return common.Address{}, err
	}
	return crypto.NewSigner(key, cfg.Signer.ChainID).Address(), nil
}

func parseLevel(s string) slog.Level {
	switch s {
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

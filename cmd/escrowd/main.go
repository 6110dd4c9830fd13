package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nftescrow/config"
	"nftescrow/core/events"
	"nftescrow/crypto"
	"nftescrow/observability"
	"nftescrow/observability/logging"
	telemetry "nftescrow/observability/otel"
	"nftescrow/rpc"
	"nftescrow/storage"
	"nftescrow/storage/journal"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	issueToken := flag.String("issue-token", "", "Print a caller token for the given address and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	if subject := strings.TrimSpace(*issueToken); subject != "" {
		if err := printToken(cfg, subject, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := logging.Setup("escrowd", cfg.Environment, logging.Options{File: cfg.LogFile})
	if err := run(cfg, logger); err != nil {
		logger.Error("escrowd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func printToken(cfg *config.Config, subject string, ttl time.Duration) error {
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return fmt.Errorf("invalid -issue-token address: %w", err)
	}
	token, err := rpc.IssueToken(cfg.JWTSecret, addr, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	admin, err := cfg.AdminAddress()
	if err != nil {
		return fmt.Errorf("admin address: %w", err)
	}
	ledgerAddr, err := cfg.LedgerAddressBytes()
	if err != nil {
		return fmt.Errorf("ledger address: %w", err)
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Ledger:      crypto.FormatAddress(ledgerAddr),
		Admin:       crypto.FormatAddress(admin),
		Endpoint:    cfg.TelemetryEndpoint,
		Insecure:    cfg.TelemetryInsecure,
		Headers:     telemetry.ParseHeaders(cfg.TelemetryHeaders),
		Metrics:     cfg.TelemetryMetrics,
		Traces:      cfg.TelemetryTraces,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	var gen *config.Genesis
	if path := strings.TrimSpace(cfg.GenesisFile); path != "" {
		gen, err = config.LoadGenesis(path)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return fmt.Errorf("prepare journal directory: %w", err)
	}
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()

	bus := events.NewBus(0, jrnl, observability.Events())
	n, err := buildNode(cfg, db, gen, bus, logger)
	if err != nil {
		return err
	}

	server, err := rpc.NewServer(rpc.Deps{
		Ledger:     n.ledger,
		Registries: n.registries,
		Vault:      n.vault,
		Journal:    jrnl,
		Bus:        bus,
		Logger:     logger,
	}, rpc.ServerConfig{
		JWTSecret:          cfg.JWTSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	logger.Info("escrowd listening",
		logging.MaskField("address", cfg.ListenAddress),
		logging.MaskField("ledger", crypto.FormatAddress(n.ledger.Address())),
		logging.MaskField("admin", crypto.FormatAddress(n.ledger.Admin())),
		slog.Int("registries", len(n.registries.Registries())))

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

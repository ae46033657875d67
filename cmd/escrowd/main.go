package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tokenescrow/config"
	"tokenescrow/core"
	"tokenescrow/core/genesis"
	"tokenescrow/core/state"
	"tokenescrow/crypto"
	"tokenescrow/observability/logging"
	telemetry "tokenescrow/observability/otel"
	"tokenescrow/rpc"
	"tokenescrow/storage"
)

const serviceName = "escrowd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// run starts the escrow node and blocks until ctx is cancelled or the RPC
// server fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	genesisPath := fs.String("genesis", "", "Path to the genesis file used on first start")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Writer:     stdout,
	})

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Network:     cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	source := strings.TrimSpace(*genesisPath)
	if source == "" {
		source = strings.TrimSpace(cfg.GenesisFile)
	}
	if err := provision(db, source, logger); err != nil {
		return err
	}

	node, err := core.NewNode(db, cfg.Schedule())
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	node.SetLogger(logger)
	if node.Network() != cfg.NetworkName {
		logger.Warn("configured network differs from provisioned network",
			slog.String("configured", cfg.NetworkName),
			slog.String("provisioned", node.Network()))
	}

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		JWTSecret:         cfg.RPC.JWTSecret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RequireAuth:       cfg.RPC.RequireAuth,
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		AllowedOrigins:    cfg.RPC.AllowedOrigins,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
		ShutdownTimeout:   cfg.ShutdownTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}

	logger.Info("escrow node started",
		slog.String("network", node.Network()),
		slog.String("token", node.TokenSymbol()),
		slog.String("native", node.NativeSymbol()),
		slog.String("storage", cfg.Storage.Backend))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(groupCtx, cfg.RPCAddress)
	})
	if err := group.Wait(); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("escrow node stopped")
	return nil
}

// provision applies the genesis file when the database has not been
// provisioned yet. Later starts ignore the file.
func provision(db storage.Database, path string, logger *slog.Logger) error {
	record, ok, err := state.NewManager(db).GenesisApplied()
	if err != nil {
		return fmt.Errorf("read genesis marker: %w", err)
	}
	if ok {
		logger.Info("using provisioned state", slog.String("network", record.Network))
		return nil
	}
	if path == "" {
		return errors.New("database is not provisioned; pass -genesis or set GenesisFile")
	}
	spec, err := genesis.LoadSpec(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	deployed, err := genesis.Apply(db, spec, time.Now())
	if err != nil && !errors.Is(err, genesis.ErrAlreadyApplied) {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if deployed != nil {
		logger.Info("genesis applied",
			slog.String("network", spec.Network),
			slog.String("escrow", crypto.FromRaw(crypto.AccountPrefix, deployed.Address).String()))
	}
	return nil
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThewitchASarz/sucrityflash/internal/client"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
	"github.com/ThewitchASarz/sucrityflash/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "governance-worker")

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := worker.ConfigFromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid worker config", "error", err)
		os.Exit(2)
	}

	verifier, err := token.NewCodec(cfg.Token)
	if err != nil {
		logger.Error("init token verifier", "error", err)
		os.Exit(2)
	}
	executor, err := toolexec.New(cfg.Executor)
	if err != nil {
		logger.Error("init executor", "error", err)
		os.Exit(2)
	}
	api, err := client.New(cfg.APIURL, cfg.WorkerToken, nil)
	if err != nil {
		logger.Error("init api client", "error", err)
		os.Exit(2)
	}

	logger.Info("governance worker starting",
		"worker_id", cfg.WorkerID,
		"api_url", cfg.APIURL,
		"executor", executor.Kind(),
		"poll_interval", cfg.PollInterval.String(),
		"batch_size", cfg.BatchSize,
		"token_mode", string(cfg.Token.Mode),
		"memory_limit_bytes", cfg.MemoryLimit,
		"cpu_limit", cfg.CPULimit,
	)

	w := worker.New(cfg, api, verifier, executor, worker.WithLogger(logger))
	w.Run(ctx)
	logger.Info("governance worker stopped")
}

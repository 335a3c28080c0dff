package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway HTTP server",
	Long: `Start the gateway: recognition endpoints, share token redemption,
the payment webhook, and the management API. The abuse scanner runs in the
background unless disabled.`,
	RunE: runServer,
}

const shutdownGrace = 15 * time.Second

func runServer(cmd *cobra.Command, args []string) error {
	loadEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(a.cfg, server.Deps{
		Logger:        a.logger,
		DB:            a.db,
		Counters:      a.counters,
		Engine:        a.engine,
		Keys:          a.keys,
		Guard:         a.guard,
		Subscriptions: a.subs,
		ShareTokens:   a.shares,
		Scanner:       a.scanner,
		AuditLog:      a.auditLog,
		Bus:           a.bus,
	})
	if err != nil {
		return err
	}

	if a.cfg.ScanEnabled {
		go a.scanner.Run(ctx)
	} else {
		a.logger.Info("abuse scanning disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

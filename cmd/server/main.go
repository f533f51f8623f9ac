package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/relaychat/internal/server"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	log.Info("Starting relaychat server", "address", cfg.Addr(), "websocket", cfg.WebSocketAddr)

	srv := server.NewServer(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errChan <- err
		}
	}()
	if cfg.WebSocketAddr != "" {
		go func() {
			if err := srv.ListenAndServeWebSocket(cfg.WebSocketAddr); err != nil && !errors.Is(err, server.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	console := server.NewConsole(srv, os.Stdin, os.Stdout, cfg, log)
	go func() {
		if quit, err := console.Run(); quit && err != nil {
			log.Warn("Shutdown finished with error", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Received termination signal")
		if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
			log.Warn("Shutdown finished with error", "error", err)
		}
	case <-srv.Done():
	case err := <-errChan:
		_ = srv.Shutdown(cfg.ShutdownTimeout)
		return err
	}

	log.Info("Server stopped")
	return nil
}

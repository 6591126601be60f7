package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ortaieb/image-checker/pkg/app"
	"github.com/ortaieb/image-checker/pkg/config"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfgPath := getenv(config.ConfigPathEnv, "")

	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	application, err := app.NewApplication(rootCtx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	app.SetupMappings(application)
	application.Start(rootCtx)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		application.Logger.Info("listening", "addr", addr, "version", app.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	application.Logger.Info("shutting down", "signal", sig.String())

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	_ = srv.Shutdown(httpCtx)

	// Queued work gets one processing timeout plus slack to finish.
	drain := time.Duration(cfg.ProcessingTimeoutMinutes)*time.Minute + 30*time.Second
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drain)
	defer cancelDrain()
	if err := application.Shutdown(drainCtx); err != nil {
		application.Logger.Warn("drain incomplete", "err", err)
	}
	stop()
}

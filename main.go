package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lcalzada-xor/chargecapture/internal/browser"
	"github.com/lcalzada-xor/chargecapture/internal/capture"
	"github.com/lcalzada-xor/chargecapture/internal/config"
	"github.com/lcalzada-xor/chargecapture/internal/logger"
	"github.com/lcalzada-xor/chargecapture/internal/output"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		exitWithError(err, nil)
	}

	log, closer, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		exitWithError(err, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log, newLauncher(cfg, log))
	stop()

	if err != nil {
		log.Err(err, "capture failed")
		exitWithError(err, closer)
	}
	_ = closer.Close()
}

func run(ctx context.Context, cfg config.Config, log logger.Logger, launcher capture.Launcher) error {
	log.Info("starting capture",
		"url", cfg.TargetURL,
		"endpoint", cfg.Endpoint,
		"idle", cfg.IdleTimeout,
		"dir", cfg.OutputDir,
	)
	return capture.New(cfg, launcher, output.NewStore(log), log).Run(ctx)
}

func newLauncher(cfg config.Config, log logger.Logger) capture.Launcher {
	opts := browserOptions(cfg, log)
	return capture.LaunchFunc(func(ctx context.Context) (capture.Page, error) {
		page, err := browser.Launch(ctx, opts)
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

func browserOptions(cfg config.Config, log logger.Logger) browser.Options {
	return browser.Options{
		Headless:  cfg.Headless,
		Proxy:     cfg.Proxy,
		Insecure:  cfg.Insecure,
		Cookies:   cfg.Cookies,
		UserAgent: cfg.UserAgent,
		ExecPath:  cfg.ExecPath,
		Logger:    log,
	}
}

// exitWithError releases the log file, if one is open, and terminates with status 1.
func exitWithError(err error, closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

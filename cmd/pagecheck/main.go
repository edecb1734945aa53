// Command pagecheck runs the visual-regression and self-healing action suite
// against a web page, or serves the run history.
//
// Usage:
//
//	pagecheck -config pagecheck.yaml                 # one run, exit 1 on failure
//	pagecheck -url https://staging.example.com      # one run with defaults
//	pagecheck -serve :8080                           # report API
//	pagecheck -mcp                                   # MCP tools over stdio
//	pagecheck -serve :8080 -mcp                      # both
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
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagecheck/config"
	"github.com/hazyhaar/pagecheck/report"
	"github.com/hazyhaar/pagecheck/suite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to pagecheck.yaml")
	targetURL := flag.String("url", "", "target URL (overrides config and PAGECHECK_TARGET_URL)")
	envFile := flag.String("env", "", "path to a .env file (default: ./.env when present)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	serveAddr := flag.String("serve", "", "serve the report API on this address instead of running once")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio instead of running once")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.Error("pagecheck: config", "error", err)
		os.Exit(2)
	}
	if *targetURL != "" {
		cfg.TargetURL = *targetURL
		if err := cfg.Validate(); err != nil {
			logger.Error("pagecheck: config", "error", err)
			os.Exit(2)
		}
	}

	store, err := report.OpenStore(cfg.Database, cfg.DatabaseBusyTimeout)
	if err != nil {
		logger.Error("pagecheck: open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *serveAddr != "" || *serveMCP {
		err = serve(ctx, logger, cfg, store, *serveAddr, *serveMCP)
	} else {
		err = runOnce(ctx, logger, cfg, store)
	}
	if err != nil {
		if !errors.Is(err, suite.ErrRunFailed) {
			logger.Error("pagecheck: fatal", "error", err)
		}
		stop()
		store.Close()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *report.Store) error {
	runner, err := suite.New(suite.Options{
		Config:  cfg,
		Store:   store,
		Summary: os.Stdout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	_, err = runner.Run(ctx)
	return err
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *report.Store, addr string, withMCP bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           report.Handler(store, cfg.OutputDir),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("pagecheck: report server starting", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("report server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("pagecheck: shutdown", "error", err)
			}
			logger.Info("pagecheck: report server stopped")
			return nil
		})
	}

	if withMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pagecheck", Version: version}, nil)
		report.RegisterMCP(mcpSrv, store)
		suite.RegisterMCP(mcpSrv, func(target string) (*suite.Runner, error) {
			c := *cfg
			if target != "" {
				c.TargetURL = target
			}
			return suite.New(suite.Options{Config: &c, Store: store, Logger: logger})
		})
		g.Go(func() error {
			logger.Info("pagecheck: mcp server on stdio")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

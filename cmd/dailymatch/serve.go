package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dailymatch/internal/api"
	"github.com/kalambet/dailymatch/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the matches API and run the daily scheduler (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("oracle")
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
		return runServer(cmd.Context(), provider, !noScheduler)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("oracle")
		cfg, err := loadConfig(provider)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: a.store, Runner: a.runner})
		slog.Info("MCP server started (stdio transport)")
		err = server.NewStdioServer(mcpSrv).Listen(cmd.Context(), os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("oracle", "", "override oracle.provider (ollama, openrouter, gemini, fake)")
	serveCmd.Flags().Bool("no-scheduler", false, "serve only; never trigger runs on a schedule")
	mcpCmd.Flags().String("oracle", "", "override oracle.provider (ollama, openrouter, gemini, fake)")
}

func runServer(ctx context.Context, provider string, withScheduler bool) error {
	cfg, err := loadConfig(provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "dailymatch version %s\n", version)

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Deps{Store: a.store, Runner: a.runner, Token: cfg.Server.APIToken}
	if cfg.Metrics.Enabled {
		deps.Metrics = a.metrics.Handler()
	}
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token set; /v1 is unauthenticated", "env", "DAILYMATCH_API_TOKEN")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dailymatch listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if withScheduler && cfg.Scheduler.Enabled {
		sched := scheduler.New(a.store, a.runner, scheduler.Config{
			RunHour:       cfg.Scheduler.RunHour,
			CheckInterval: cfg.Scheduler.CheckInterval,
		})
		printStep("Scheduler on: cohorts run after %02d:00 local time", cfg.Scheduler.RunHour)
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

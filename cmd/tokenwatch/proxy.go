package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/api"
	"github.com/HakAl/tokenwatch/internal/proxy"
	"github.com/HakAl/tokenwatch/internal/store"
	"github.com/HakAl/tokenwatch/internal/ws"
	"github.com/HakAl/tokenwatch/web"
)

func newProxyCmd() *cobra.Command {
	var (
		listenAddr    string
		upstreamHost  string
		dashboardAddr string
	)

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start the forwarding proxy and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if listenAddr != "" {
				cfg.Proxy.Listen = listenAddr
			}
			if upstreamHost != "" {
				cfg.Proxy.Upstream = upstreamHost
			}
			if dashboardAddr != "" {
				cfg.Dashboard = dashboardAddr
			}

			logger := newLogger()
			slog.SetDefault(logger)

			dataStore, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer dataStore.Close()
			logger.Info("database opened", "path", cfg.DatabasePath)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received shutdown signal", "signal", sig)
				cancel()
			}()

			hub := ws.NewHub(logger)
			go hub.Run(ctx)

			proxySrv, err := proxy.New(proxy.ServerConfig{
				Config:  cfg,
				Logger:  logger,
				Store:   dataStore,
				Pricing: buildPricing(cfg),
				OnCall: func(call *store.Call) {
					hub.BroadcastCall(call)
				},
			})
			if err != nil {
				return fmt.Errorf("creating proxy: %w", err)
			}

			dashboard := newDashboardServer(cfg.Dashboard, api.NewServer(cfg, dataStore, logger), hub)
			go func() {
				logger.Info("dashboard listening", "addr", cfg.Dashboard)
				if err := dashboard.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("dashboard server error", "error", err)
					cancel()
				}
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				_ = dashboard.Shutdown(shutdownCtx)
			}()

			// State file lets `tokenwatch run` find the proxy
			stateStore, err := NewFileStateStore()
			if err != nil {
				return fmt.Errorf("creating state store: %w", err)
			}
			if err := stateStore.Write(ServerState{
				ProxyAddr:     cfg.Proxy.ListenAddr(),
				DashboardAddr: cfg.Dashboard,
				PID:           os.Getpid(),
				StartedAt:     time.Now().UTC(),
			}); err != nil {
				logger.Warn("failed to write state file", "error", err)
			}
			defer func() {
				if err := stateStore.Delete(); err != nil {
					logger.Warn("failed to remove state file", "error", err)
				}
			}()

			fmt.Fprintf(os.Stderr, "\n")
			fmt.Fprintf(os.Stderr, "  Proxy:      http://%s -> https://%s\n", cfg.Proxy.ListenAddr(), cfg.Proxy.Upstream)
			fmt.Fprintf(os.Stderr, "  Dashboard:  http://%s\n", cfg.Dashboard)
			fmt.Fprintf(os.Stderr, "  DB:         %s\n", cfg.DatabasePath)
			fmt.Fprintf(os.Stderr, "\n")
			fmt.Fprint(os.Stderr, formatEnvVars(cfg.Proxy.ListenAddr(), runtime.GOOS))

			if err := proxySrv.Serve(ctx); err != nil {
				return fmt.Errorf("proxy: %w", err)
			}

			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "proxy listen address (overrides config)")
	cmd.Flags().StringVar(&upstreamHost, "upstream", "", "upstream API host (overrides config)")
	cmd.Flags().StringVar(&dashboardAddr, "dashboard", "", "dashboard listen address (overrides config)")

	return cmd
}

// newDashboardServer assembles the dashboard mux: REST API, WebSocket,
// and embedded static files.
func newDashboardServer(addr string, apiSrv *api.Server, hub *ws.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiSrv.Handler())
	mux.Handle("/ws", hub.Handler())
	mux.Handle("/", web.Handler())

	// No read/write timeouts: /ws holds long-lived connections
	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		IdleTimeout: 120 * time.Second,
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     Config
	vp      = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "ballgoal",
	Short:         "Authoritative server for the ball-into-goal arena",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = LoadConfig(vp, cfgFile)
		if err != nil {
			return err
		}
		slog.SetDefault(NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	vp.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("client", "", "path to the static client directory")
	serveCmd.Flags().String("db", "ballgoal.db", "sqlite database path, empty disables persistence")
	serveCmd.Flags().String("public-url", "", "base URL used in join links")
	vp.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	vp.BindPFlag("client_dir", serveCmd.Flags().Lookup("client"))
	vp.BindPFlag("db_path", serveCmd.Flags().Lookup("db"))
	vp.BindPFlag("public_url", serveCmd.Flags().Lookup("public-url"))

	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg Config) error {
	var db *DB
	if cfg.DBPath != "" {
		var err error
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
	}
	analytics := NewAnalytics(db)
	defer analytics.Stop()

	SessionIdleTimeout = cfg.IdleTimeout
	sessions := NewSessionManager(ctx, cfg.GameConfig(), db, analytics)
	defer sessions.Close()
	go sessions.RunReaper(ctx, time.Minute)

	hub := NewHub(sessions, NewAuth(db), db, cfg.Limits())
	go hub.Run(ctx.Done())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           SetupRoutes(hub, cfg.ClientDir, cfg.PublicURL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "client", cfg.ClientDir, "db", cfg.DBPath)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

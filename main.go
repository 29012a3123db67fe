package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/krshsl/intervue/backend/repository"
	svc "github.com/krshsl/intervue/backend/services"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "intervue",
		Short:         "Interview session, transcript and feedback scoring backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSweepCommand(),
		newRescoreCommand(),
		newTokenCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API with the maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := svc.LoadConfig()
			setupLogging(config.Log)

			db, err := openDatabase(config)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			server := svc.NewServer(config)
			server.SetDatabase(db)
			if err := server.InitializeServices(cmd.Context()); err != nil {
				return err
			}
			if config.Database.Seed {
				if err := server.Seed(cmd.Context()); err != nil {
					slog.Error("Failed to seed database", "error", err)
				}
			}
			return server.Start()
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := svc.LoadConfig()
			setupLogging(config.Log)

			db, err := openDatabase(config)
			if err != nil {
				return err
			}
			closeDatabase(db)
			slog.Info("Migrations applied")
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass and print what was purged",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, cleanup, err := buildServer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := server.Sweeper().Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("retention sweep failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newRescoreCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Retry basic feedback for completed sessions that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, cleanup, err := buildServer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			scored, err := server.Pipeline().Rescore(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("rescore failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"scored": scored})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum sessions to score")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development access token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := svc.LoadConfig()
			if config.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := svc.NewAuthService(config.JWT.Secret).IssueToken(userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", svc.DemoUserID, "user id placed in the token")
	cmd.Flags().StringVar(&email, "email", "demo@example.com", "email placed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// buildServer wires services for one-shot commands
func buildServer(ctx context.Context) (*svc.Server, func(), error) {
	config := svc.LoadConfig()
	setupLogging(config.Log)

	db, err := openDatabase(config)
	if err != nil {
		return nil, nil, err
	}

	server := svc.NewServer(config)
	server.SetDatabase(db)
	if err := server.InitializeServices(ctx); err != nil {
		closeDatabase(db)
		return nil, nil, err
	}
	return server, func() {
		server.Pipeline().Wait()
		server.Close()
		closeDatabase(db)
	}, nil
}

func openDatabase(config *svc.Config) (*gorm.DB, error) {
	db, err := repository.Open(repository.Options{
		Driver:       config.Database.Driver,
		DSN:          config.Database.URL,
		LogLevel:     config.Database.LogLevel,
		MaxIdleConns: config.Database.MaxIdleConns,
		MaxOpenConns: config.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := repository.NewGORMRepository(db).AutoMigrate(); err != nil {
		closeDatabase(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// setupLogging installs a JSON slog handler on stdout, teed to a rotated file when LOG_FILE is set
func setupLogging(cfg svc.LogConfig) {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)}))
	slog.SetDefault(logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

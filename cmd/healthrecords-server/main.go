package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/healthrecords/internal/config"
	"github.com/ehr/healthrecords/internal/domain/vitals"
	"github.com/ehr/healthrecords/internal/platform/audit"
	"github.com/ehr/healthrecords/internal/platform/db"
	"github.com/ehr/healthrecords/internal/platform/extract"
	"github.com/ehr/healthrecords/internal/platform/extract/tesseract"
	"github.com/ehr/healthrecords/internal/platform/reminder"
	"github.com/ehr/healthrecords/internal/platform/vault"
	"github.com/ehr/healthrecords/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "healthrecords-server",
		Short:        "Encrypted health record storage and vital-sign analysis",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(auditCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the embedded set")

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 2}, zerolog.Nop())
		if err != nil {
			return nil, nil, err
		}

		var src fs.FS = migrations.FS
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			src = os.DirFS(dir)
		}
		return db.NewMigrator(pool, src), pool.Close, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		},
	})

	return cmd
}

// extractCmd parses a local document without touching the database or the
// vault.
func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract and classify vital signs from a PDF or image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := newLogger(cfg)

			kind, err := extract.KindFromExtension(filepath.Ext(args[0]))
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			parser, err := vitals.NewParser(vitals.PatternSet(cfg.MetricPatterns))
			if err != nil {
				return err
			}
			extractor := extract.NewExtractor(tesseract.New(cfg.OCRLanguage), logger,
				extract.WithThreshold(uint8(cfg.BinarizeThreshold)))

			text := extractor.Extract(cmd.Context(), extract.RawDocument{Content: content, Kind: kind})
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(parser.Parse(text))
		},
	}
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect the appointment reminder queue",
	}

	due := &cobra.Command{
		Use:   "due",
		Short: "Pop and print reminders whose fire time has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			rdb, err := reminder.Connect(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			q := reminder.NewQueue(rdb, cfg.ReminderLead, newLogger(cfg))
			reminders, err := q.Due(ctx, time.Now().UTC(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, r := range reminders {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	due.Flags().Int("limit", 100, "Maximum reminders to pop")
	cmd.AddCommand(due)

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the encrypted audit log",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Decrypt and print recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := newLogger(cfg)

			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 2}, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			v, err := newVault(cfg, logger)
			if err != nil {
				return err
			}

			sealed, err := audit.NewPGSink(pool).Since(cmd.Context(), time.Now().Add(-since), limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for _, s := range sealed {
				entry, err := audit.Open(v, s)
				if err != nil {
					logger.Warn().Err(err).Msg("skipping unreadable audit entry")
					continue
				}
				if err := enc.Encode(entry); err != nil {
					return err
				}
			}
			return nil
		},
	}
	show.Flags().Duration("since", 24*time.Hour, "How far back to read")
	show.Flags().Int("limit", 500, "Maximum entries to print")
	cmd.AddCommand(show)

	return cmd
}

// newVault builds the vault from configuration and derives its keys.
func newVault(cfg *config.Config, logger zerolog.Logger) (*vault.Vault, error) {
	var salt vault.SaltSource
	if cfg.EncryptionSaltFile != "" {
		salt = vault.FileSalt{Path: cfg.EncryptionSaltFile}
	}
	v, err := vault.New(vault.Options{
		Passphrase: cfg.EncryptionPassphrase,
		Previous:   cfg.EncryptionPreviousPassphrases,
		Salt:       salt,
		Iterations: cfg.EncryptionKDFIterations,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := v.Ready(); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return v, nil
}

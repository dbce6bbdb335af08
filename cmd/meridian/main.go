// The meridian CLI triggers calendar operations against the local store:
// scheduling syncs, importing provider calendars, and inspecting
// availability. It shares its wiring with the worker.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/availability"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/caldav"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/jobqueue"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/persistence"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/ratelimit"
	"github.com/meridianhq/meridian/internal/calendar/recurrence"
	"github.com/meridianhq/meridian/internal/calendar/setup"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/observability"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     domain.Store
	cleanup   func()
	calendars *application.CalendarService
	syncs     *application.SyncService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logCfg := observability.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.ServiceVersion = version
	logger := observability.NewLogger(logCfg)

	var store domain.Store
	var cleanup func()
	if cfg.LocalMode {
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := persistence.EnsureSQLiteSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		store = persistence.NewSQLiteStore(db)
		cleanup = func() { _ = db.Close() }
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = persistence.NewPostgresStore(pool)
		cleanup = pool.Close
	}

	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultLimits())
	adapters := setup.NewAdapterFactory(setup.EnvTokenSources{}, limiter, caldav.Config{
		Endpoint: os.Getenv("CALDAV_ENDPOINT"),
		Username: os.Getenv("CALDAV_USERNAME"),
		Password: os.Getenv("CALDAV_PASSWORD"),
	}, logger)

	clock := application.SystemClock{}
	availabilityEngine := availability.NewEngine(store, recurrence.NewEngine(), logger)
	syncService := application.NewSyncService(store, adapters, clock, logger)
	queue := jobqueue.NewInProcessQueue(64, logger)
	calendarService := application.NewCalendarService(store, adapters, availabilityEngine, syncService, queue, clock, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		cleanup:   cleanup,
		calendars: calendarService,
		syncs:     syncService,
	}, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "meridian",
		Short:         "Calendar synchronization and availability core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVersionCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newAvailabilityCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "meridian "+version)
		},
	}
}

func newSyncCommand() *cobra.Command {
	var tenantFlag, calendarFlag string
	var days int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full sync for one calendar",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			tenant, calendarID, err := parseTenantAndCalendar(tenantFlag, calendarFlag)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			sync, err := a.calendars.RequestCalendarSync(ctx, tenant, calendarID, now.AddDate(0, 0, -1), now.AddDate(0, 0, days), true)
			if err != nil {
				return err
			}
			if err := a.syncs.Execute(ctx, tenant, sync.ID()); err != nil {
				return err
			}
			done, err := a.store.Syncs().FindByID(ctx, tenant, sync.ID())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync %s: %s\n", done.ID(), done.Status())
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&calendarFlag, "calendar", "", "calendar id")
	cmd.Flags().IntVar(&days, "days", 30, "days ahead to sync")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("calendar")
	return cmd
}

func newImportCommand() *cobra.Command {
	var tenantFlag, providerFlag string
	var resources bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import provider calendars or resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			tenant, err := domain.ParseTenantID(tenantFlag)
			if err != nil {
				return err
			}
			provider := domain.CalendarProvider(providerFlag)
			if !provider.IsValid() {
				return fmt.Errorf("unknown provider %q", providerFlag)
			}

			var imported int
			if resources {
				imported, err = a.calendars.ImportOrganizationResources(ctx, tenant, provider)
			} else {
				imported, err = a.calendars.ImportAccountCalendars(ctx, tenant, provider)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d calendars\n", imported)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&providerFlag, "provider", "google", "calendar provider")
	cmd.Flags().BoolVar(&resources, "resources", false, "import organization resources instead of account calendars")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newAvailabilityCommand() *cobra.Command {
	var tenantFlag, calendarFlag string
	var days int
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print available windows for a calendar",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			tenant, calendarID, err := parseTenantAndCalendar(tenantFlag, calendarFlag)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			windows, err := a.calendars.AvailableWindows(ctx, tenant, calendarID, now, now.AddDate(0, 0, days))
			if err != nil {
				return err
			}
			for _, window := range windows {
				marker := "partial"
				if !window.CanBookPartially {
					marker = "whole-window"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s - %s (%s)\n",
					window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339), marker)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&calendarFlag, "calendar", "", "calendar id")
	cmd.Flags().IntVar(&days, "days", 7, "days ahead")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("calendar")
	return cmd
}

func parseTenantAndCalendar(tenantFlag, calendarFlag string) (domain.TenantID, uuid.UUID, error) {
	tenant, err := domain.ParseTenantID(tenantFlag)
	if err != nil {
		return domain.TenantID{}, uuid.Nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	calendarID, err := uuid.Parse(calendarFlag)
	if err != nil {
		return domain.TenantID{}, uuid.Nil, fmt.Errorf("invalid calendar id: %w", err)
	}
	return tenant, calendarID, nil
}

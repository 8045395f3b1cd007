package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxpos/rxpos/internal/config"
	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/domain/catalog"
	"github.com/rxpos/rxpos/internal/domain/fulfillment"
	"github.com/rxpos/rxpos/internal/domain/pos"
	"github.com/rxpos/rxpos/internal/domain/shift"
	"github.com/rxpos/rxpos/internal/domain/stock"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxpos-server",
		Short: "Pharmacy inventory and POS API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pharmacyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "pharmacy_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "pharmacy_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func pharmacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pharmacy",
		Short: "Manage pharmacy schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new pharmacy schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating pharmacy schema: pharmacy_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Pharmacy created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Pharmacy identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	apiV1 := e.Group("/api/v1")

	clk := clock.System{}
	runner := db.NewPoolRunner(pool)

	auditRepo := audit.NewRepoPG(pool)
	auditSvc := audit.NewService(auditRepo, clk)
	audit.NewHandler(auditSvc, logger).RegisterRoutes(apiV1)

	medicineRepo := catalog.NewMedicineRepoPG(pool)
	catalogSvc := catalog.NewService(medicineRepo)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	batchRepo := stock.NewRepoPG(pool, clk)
	stockSvc := stock.NewService(batchRepo, auditSvc, runner, clk, logger)
	stock.NewHandler(stockSvc).RegisterRoutes(apiV1)

	shiftRepo := shift.NewRepoPG(pool)
	shiftSvc := shift.NewService(shiftRepo, auditSvc, runner, clk, logger)
	shift.NewHandler(shiftSvc).RegisterRoutes(apiV1)

	txnRepo := pos.NewRepoPG(pool)
	posSvc := pos.NewService(txnRepo, batchRepo, medicineRepo, shiftSvc, auditSvc, runner, clk, logger)
	pos.NewHandler(posSvc).RegisterRoutes(apiV1)

	fulfillRepo := fulfillment.NewRepoPG(pool)
	prescriptionRepo := fulfillment.NewPrescriptionRepoPG(pool)
	fulfillSvc := fulfillment.NewService(fulfillRepo, prescriptionRepo, batchRepo, medicineRepo, auditSvc, runner, clk, logger)
	fulfillment.NewHandler(fulfillSvc).RegisterRoutes(apiV1)

	logger.Info().Str("port", cfg.Port).Msg("starting server")
	return e.Start(":" + cfg.Port)
}

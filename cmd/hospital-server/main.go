package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/hospital/internal/config"
	"github.com/ehr/hospital/internal/domain/appointment"
	"github.com/ehr/hospital/internal/domain/patient"
	"github.com/ehr/hospital/internal/domain/pharmacy"
	"github.com/ehr/hospital/internal/domain/prescription"
	"github.com/ehr/hospital/internal/domain/tenancy"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/audit"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/internal/platform/db"
	"github.com/ehr/hospital/internal/platform/middleware"
	"github.com/ehr/hospital/internal/platform/notification"
	"github.com/ehr/hospital/internal/platform/telemetry"
	"github.com/ehr/hospital/internal/platform/websocket"
	"github.com/ehr/hospital/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hospital-server",
		Short:        "Multi-tenant hospital workflow API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(superuserCmd())
	return rootCmd
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatuses(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func superuserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superuser",
		Short: "Manage platform administrators",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a super admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			if strings.TrimSpace(email) == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := newServices(cfg, pool, notification.Nop{}, auth.NewMemoryRevocations(cfg.AccessTokenTTL()), nil)
			u, err := svcs.tenancy.CreateSuperUser(ctx, tenancy.StaffInput{
				FullName: name,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created super admin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("name", "Super Admin", "Display name")

	cmd.AddCommand(createCmd)
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// services holds the wired business layer.
type services struct {
	tenancy      *tenancy.Service
	patients     *patient.Service
	appointments *appointment.Service
	pharmacy     *pharmacy.Service
	audit        audit.Repository
	tokens       *auth.TokenIssuer
	revocations  auth.RevocationStore
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, notifier notification.Notifier,
	revocations auth.RevocationStore, metrics *telemetry.Metrics) *services {
	tx := db.NewTxRunner(pool)
	auditRepo := audit.NewRepoPG(pool)
	tokens := auth.NewTokenIssuer(cfg.SigningSecret(), cfg.AccessTokenTTL())

	patients := patient.NewRepoPG(pool)
	prescriptions := prescription.NewRepoPG(pool)

	return &services{
		tenancy: tenancy.NewService(tenancy.NewHospitalRepoPG(pool), tenancy.NewUserRepoPG(pool), tx,
			auth.NewBcryptHasher(0), tokens, auditRepo, revocations),
		patients: patient.NewService(patients, tx, auditRepo),
		appointments: appointment.NewService(appointment.NewRepoPG(pool), appointment.NewVisitRepoPG(pool),
			prescriptions, patients, tx, auditRepo, notifier, metrics),
		pharmacy: pharmacy.NewService(prescriptions, tx, auditRepo, notifier, metrics),
		audit:       auditRepo,
		tokens:      tokens,
		revocations: revocations,
	}
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(metrics.Middleware())
	return e
}

// authMiddleware authenticates the caller, then refuses tokens issued
// before the user's last revocation.
func authMiddleware(cfg *config.Config, parser auth.TokenParser, revocations auth.RevocationStore) echo.MiddlewareFunc {
	identify := auth.JWTMiddleware(parser)
	if cfg.DevHeaderAuth {
		identify = auth.DevHeaderMiddleware(parser)
	}
	reject := auth.RejectRevoked(revocations)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return identify(reject(next))
	}
}

// registerRoutes mounts every HTTP surface. The login endpoint and health
// checks stay public; everything else passes through authMW.
func registerRoutes(e *echo.Echo, cfg *config.Config, svcs *services, hub *websocket.Hub, authMW echo.MiddlewareFunc) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	public := e.Group("/api/v1")
	tenancyHandler := tenancy.NewHandler(svcs.tenancy)
	tenancyHandler.RegisterPublicRoutes(public, middleware.RateLimit(middleware.LoginRateLimitConfig()))

	api := e.Group("/api/v1", authMW)
	tenancyHandler.RegisterRoutes(api)
	patient.NewHandler(svcs.patients).RegisterRoutes(api)
	appointment.NewHandler(svcs.appointments).RegisterRoutes(api)
	pharmacy.NewHandler(svcs.pharmacy).RegisterRoutes(api)
	audit.NewHandler(svcs.audit).RegisterRoutes(api)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e, authMW)
}

// newNotifier delivers to the local hub, or through Redis when a client is
// given so every instance relays events to its own connected clients.
func newNotifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger, hub *websocket.Hub,
	client *redis.Client, metrics *telemetry.Metrics) *notification.Dispatcher {
	local := notification.NewHubSink(hub)
	if client == nil {
		return notification.NewDispatcher(logger, []notification.Sink{local}, notification.WithMetrics(metrics))
	}

	relay := notification.NewRelay(client, cfg.RedisChannel, local, logger)
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("notification relay stopped")
		}
	}()
	logger.Info().Str("channel", cfg.RedisChannel).Msg("notification fan-out via redis")

	sink := notification.NewRedisSink(client, cfg.RedisChannel)
	return notification.NewDispatcher(logger, []notification.Sink{sink}, notification.WithMetrics(metrics))
}

// revocationKeyPrefix namespaces revocation keys next to the
// notification channel.
const revocationKeyPrefix = "hospital:revoked:"

func newRevocations(cfg *config.Config, client *redis.Client) auth.RevocationStore {
	if client == nil {
		return auth.NewMemoryRevocations(cfg.AccessTokenTTL())
	}
	return auth.NewRedisRevocations(client, revocationKeyPrefix, cfg.AccessTokenTTL())
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewDefault()
	}

	var client *redis.Client
	if cfg.RedisURL != "" {
		if client, err = notification.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
	}

	hub := websocket.NewHub(logger)
	notifier := newNotifier(ctx, cfg, logger, hub, client, metrics)

	svcs := newServices(cfg, pool, notifier, newRevocations(cfg, client), metrics)
	e := newEcho(cfg, logger, metrics)
	registerRoutes(e, cfg, svcs, hub, authMiddleware(cfg, svcs.tokens, svcs.revocations))

	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	if metrics != nil {
		e.GET("/metrics", metrics.Handler())
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

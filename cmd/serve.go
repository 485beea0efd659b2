package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sync-bridge/core/config"
	"sync-bridge/core/database"
	"sync-bridge/core/engine"
	"sync-bridge/core/engine/gormstore"
	"sync-bridge/core/engine/memstore"
	"sync-bridge/core/engine/pgstore"
	"sync-bridge/core/loader"
	"sync-bridge/core/logger"
	"sync-bridge/core/middleware/auth"
	"sync-bridge/core/middleware/rayid"
	"sync-bridge/core/mirror"
	"sync-bridge/core/reactive"
	"sync-bridge/feature/collections"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// @title Sync Bridge API
// @version 1.0
// @description API for reading and mutating mirrored collections.
// @host localhost:8080
// @BasePath /

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync bridge server",
	Long: `Starts one sync session per configured collection and serves the
mirrored collections over HTTP. Sessions stay live until shutdown.`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Collections) == 0 {
		return fmt.Errorf("no collections configured; add a collections section to config.yaml")
	}

	// 2. Initialize Logger
	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	// 3. Open the storage engine
	eng, db, err := openEngine(cfg, logg)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Flag hand-altered tables before the sessions touch them. Only the
	// gorm-backed drivers expose enough metadata to inspect.
	if db != nil {
		warnOnSchemaDrift(db, cfg.Collections, logg)
	}

	// 4. Start one sync session per collection
	svc := collections.NewService(logg, time.Duration(cfg.Mirror.AwaitTimeoutMS)*time.Millisecond)
	defer svc.StopAll()
	for _, cc := range cfg.Collections {
		sessCfg, err := sessionConfig(cfg.Mirror, cc, logg)
		if err != nil {
			return err
		}
		sess := mirror.NewSession(eng, reactive.NewCollection(), sessCfg)
		if err := sess.Start(ctx); err != nil {
			return fmt.Errorf("failed to start session for table %s: %w", cc.Table, err)
		}
		svc.Register(sess)
	}

	// 5. Initialize Fiber App
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true, // We will log our own startup message
	})

	// 6. Middleware Registration
	// RayID must be first so every log line can be traced.
	app.Use(rayid.New())

	// Request logging through zap.
	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		l.Info("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	// Liveness stays public.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth protects the collection API.
	app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey}))

	// 7. Load Features
	mgr := loader.NewManager()
	mgr.Register(collections.NewFeature(svc))
	if err := mgr.LoadAll(app); err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}

	// 8. Start Server
	go func() {
		logg.Info("Starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("driver", cfg.Database.Driver),
			zap.Int("collections", len(cfg.Collections)),
		)
		if err := app.Listen(cfg.Server.Addr()); err != nil {
			logg.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown; the deferred StopAll and engine Close run after
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logg.Info("Shutting down server...")
	_ = app.Shutdown()
	return nil
}

// openEngine opens the storage engine selected by the database driver. The
// returned *gorm.DB is non-nil only for the gorm-backed drivers and feeds
// schema inspection; postgres and memory manage their own connections.
func openEngine(cfg *config.Config, logg *zap.Logger) (engine.Engine, *gorm.DB, error) {
	if !cfg.Database.IsValidDriver() {
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	switch cfg.Database.Driver {
	case database.DriverPostgres:
		st, err := pgstore.Open(cfg.Database.PostgresDSN(), logg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil, nil
	case database.DriverMemory:
		return memstore.New(), nil, nil
	default:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return gormstore.New(db, logg), db, nil
	}
}

// sessionConfig builds the session configuration for one collection entry.
func sessionConfig(m config.Mirror, cc config.Collection, logg *zap.Logger) (mirror.Config, error) {
	mode := mirror.UpdateMode(cc.UpdateMode)
	switch mode {
	case "", mirror.UpdateReplace, mirror.UpdateMerge:
	default:
		return mirror.Config{}, fmt.Errorf("unknown update mode %q for table %s", cc.UpdateMode, cc.Table)
	}

	var validate mirror.Validator
	if cc.SchemaFile != "" {
		raw, err := os.ReadFile(cc.SchemaFile)
		if err != nil {
			return mirror.Config{}, fmt.Errorf("failed to read schema for table %s: %w", cc.Table, err)
		}
		v, err := mirror.NewSchemaValidator(raw)
		if err != nil {
			return mirror.Config{}, fmt.Errorf("failed to compile schema for table %s: %w", cc.Table, err)
		}
		validate = v
	}

	return mirror.Config{
		Table:             cc.Table,
		PageSize:          m.PageSize,
		SuppressionWindow: time.Duration(m.SuppressionWindowMS) * time.Millisecond,
		EchoTTL:           time.Duration(m.TTLMS) * time.Millisecond,
		UpdateMode:        mode,
		PollInterval:      time.Duration(m.PollIntervalMS) * time.Millisecond,
		Validator:         validate,
		Logger:            logg.With(zap.String("table", cc.Table)),
	}, nil
}

// warnOnSchemaDrift reports configured tables whose physical shape can no
// longer serve the mirror. Absent tables pass; sessions create them.
func warnOnSchemaDrift(db *gorm.DB, colls []config.Collection, logg *zap.Logger) {
	for _, cc := range colls {
		missing, err := database.VerifyMirrorTable(db, engine.SanitizeIdentifier(cc.Table))
		if err != nil {
			logg.Warn("Schema verification failed",
				zap.String("table", cc.Table),
				zap.Error(err))
			continue
		}
		if len(missing) > 0 {
			logg.Warn("Mirrored table is missing columns",
				zap.String("table", cc.Table),
				zap.Strings("missing", missing))
		}
	}
}

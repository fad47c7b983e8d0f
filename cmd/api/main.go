package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	migrate "github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	appefile "github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
	inframef "github.com/jhoicas/Efile-api/internal/infrastructure/mef"
	"github.com/jhoicas/Efile-api/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/Efile-api/internal/interfaces/http"
	"github.com/jhoicas/Efile-api/pkg/config"
	"github.com/jhoicas/Efile-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("mef_environment", cfg.Mef.Environment).
		Bool("transmissions_enabled", cfg.Mef.TransmissionsEnabled).
		Msg("iniciando aplicación")

	ctx := context.Background()

	// Migraciones con una conexión database/sql aparte (driver pgx stdlib),
	// el pool de la aplicación no se toca.
	if err := runMigrations(cfg.DB.ConnectionString()); err != nil {
		log.Fatal().Err(err).Msg("migraciones de base de datos")
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	subRepo := postgres.NewSubmissionRepository(pool)
	txRepo := postgres.NewTransmissionRepository(pool)
	logRepo := postgres.NewMefLogRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	validator := rules.NewValidator()
	registry := inframef.NewProfileRegistry(cfg.Mef)

	// El cliente del orquestador se cablea sin repo de acuses: el acuse se
	// persiste dentro de la transacción de reconciliación.
	mefClient, err := inframef.NewClient(cfg.Mef, registry, validator, log, logRepo, subRepo, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("cliente MeF")
	}
	if mefClient.Simulation() {
		log.Warn().Msg("sin certificado de cliente: el gateway MeF opera en simulación")
	}

	orchestrator := appefile.NewOrchestrator(txRepo, mefClient, txRunner, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "E-file API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Orchestrator: orchestrator,
		MefClient:    mefClient,
		Validator:    validator,
		LogRepo:      logRepo,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// runMigrations aplica las migraciones pendientes de ./migrations.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain/repository"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Orchestrator *efile.Orchestrator
	MefClient    efile.MefClient
	Validator    *rules.Validator
	LogRepo      repository.MefLogRepository
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	handler := NewEfileHandler(deps.Orchestrator, deps.MefClient, deps.Validator, deps.LogRepo)

	ef := api.Group("/efile")

	// Transmisiones (ciclo de vida del envío)
	ef.Post("/transmissions", handler.CreateTransmission)
	ef.Get("/transmissions", handler.ListTransmissions)
	ef.Get("/transmissions/:id", handler.GetTransmission)
	ef.Get("/transmissions/:id/status", handler.GetTransmissionStatus)

	// Acuses
	ef.Post("/acknowledgments/reconcile", handler.Reconcile)

	// Utilidades
	ef.Post("/validate", handler.ValidateReturn)
	ef.Get("/logs", handler.Logs)
	ef.Get("/info", handler.Info)
}

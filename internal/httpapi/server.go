package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"catmatch/internal/apperr"
	"catmatch/internal/catalog"
	"catmatch/internal/config"
	"catmatch/internal/logger"
	"catmatch/internal/pipeline"
	"catmatch/internal/registry"
	"catmatch/internal/review"
)

// HealthSource reports store liveness and when the catalog was last imported.
type HealthSource interface {
	Ping(ctx context.Context) error
	GetMetadata(ctx context.Context, key string) (*string, error)
}

// Deps are the services the API fronts.
type Deps struct {
	Processing *pipeline.ProcessingService
	Registry   *registry.Service
	Review     *review.Service
	Catalog    *catalog.Service
	Health     HealthSource
}

type Server struct {
	deps Deps
	cfg  config.Config
	log  *logger.Logger
}

// New builds the fiber app with every route mounted.
func New(deps Deps, cfg config.Config, log *logger.Logger) (*fiber.App, error) {
	if cfg.JWTSecret == "" {
		return nil, apperr.Configuration("http server", "JWT_SECRET is required")
	}
	s := &Server{deps: deps, cfg: cfg, log: log.With("component", "http")}

	bodyLimit := 4 * 1024 * 1024
	if cfg.UploadMaxBytes > 0 {
		// multipart framing on top of the file itself
		bodyLimit = int(cfg.UploadMaxBytes) + 1024*1024
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(s.log),
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.HTTPAccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	app.Get("/health", s.health)

	api := app.Group("/api", authRequired(cfg.JWTSecret))

	uploads := api.Group("/uploads")
	uploads.Post("/", s.submitUpload)
	uploads.Get("/", s.listUploads)
	uploads.Get("/:id", s.getUpload)
	uploads.Delete("/:id", s.deleteUpload)
	uploads.Post("/:id/process", s.startProcessing)
	uploads.Post("/:id/cancel", s.cancelUpload)
	uploads.Get("/:id/matches", s.listMatches)
	uploads.Get("/:id/export", s.exportResults)

	api.Patch("/matches/:id/status", s.reviewMatch)

	api.Get("/materials/search", s.searchMaterials)
	api.Get("/materials/code/:code", s.materialByCode)
	api.Get("/materials/:id", s.materialByID)
	api.Get("/categories", s.listCategories)
	api.Get("/subcategories", s.listSubcategories)

	api.Get("/stats", s.stats)
	api.Get("/audit", s.activity)

	return app, nil
}

func (s *Server) health(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok"}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.UserContext()); err != nil {
			return err
		}
		importedAt, err := s.deps.Health.GetMetadata(c.UserContext(), catalog.ImportedAtKey)
		if err != nil {
			return err
		}
		body["catalogImportedAt"] = importedAt
	}
	return success(c, body)
}

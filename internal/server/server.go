package server

import (
	"errors"
	"log"

	"backend-runtracker/internal/config"
	"backend-runtracker/internal/run"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App   *fiber.App
	Cfg   config.Config
	DB    *pgxpool.Pool
	Redis *redis.Client
	Runs  *run.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:   app,
		Cfg:   cfg,
		DB:    db,
		Redis: redisClient,
		Runs:  run.NewService(selectStore(cfg, db, redisClient), cfg.HistoryLimit),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	run.RegisterRoutes(s.App.Group("/api/run"), s.Runs)
}

// selectStore picks the run store named by RUN_STORE, falling back to memory
// when the backing connection is unavailable.
func selectStore(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) run.Store {
	switch cfg.RunStore {
	case config.StorePostgres:
		if db != nil {
			return run.NewPostgresStore(db)
		}
		log.Printf("run store %q requested without a postgres pool, using memory", cfg.RunStore)
	case config.StoreRedis:
		if redisClient != nil {
			return run.NewRedisStore(redisClient)
		}
		log.Printf("run store %q requested without a redis client, using memory", cfg.RunStore)
	case config.StoreMemory, "":
	default:
		log.Printf("unknown run store %q, using memory", cfg.RunStore)
	}
	return run.NewMemoryStore()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

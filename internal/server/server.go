package server

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"rag-apps/internal/agent"
	"rag-apps/internal/classifier"
	"rag-apps/internal/config"
	"rag-apps/internal/copywriter"
	"rag-apps/internal/helper"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/rag"
)

const SessionHeader = "X-Session-ID"

// Deps are the services the handlers call into.
type Deps struct {
	Pipeline  *rag.Pipeline
	Router    *classifier.Router
	Agent     *agent.TableAgent
	Writer    *copywriter.Writer
	Generator llmservice.Generator
}

type Server struct {
	app      *fiber.App
	cfg      config.ServerConfig
	index    string
	deps     Deps
	sessions *SessionStore
}

func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Server.BodyLimit,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger)

	s := &Server{
		app:      app,
		cfg:      cfg.Server,
		index:    cfg.RAG.IndexName,
		deps:     deps,
		sessions: NewSessionStore(cfg.Server.SessionTTL, cfg.History.MaxTurns, cfg.Classifier.Departments),
	}
	s.registerRoutes()
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Sessions() *SessionStore { return s.sessions }

func (s *Server) Run() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
	return s.app.Listen(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.health)

	api := s.app.Group("/api")
	api.Post("/ask", s.ask)
	api.Post("/search", s.search)
	api.Post("/chat", s.chat)
	api.Post("/analyze", s.analyze)
	api.Post("/copy", s.writeCopy)
	api.Post("/tickets", s.submitTicket)
	api.Get("/tickets", s.listTickets)
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("Request")
	return err
}

// session resolves the caller's session from the header, issuing a new id
// when none was sent.
func (s *Server) session(c *fiber.Ctx) (*Session, error) {
	id := strings.TrimSpace(c.Get(SessionHeader))
	if id == "" {
		var err error
		if id, err = helper.GenerateUUID(); err != nil {
			return nil, err
		}
	}
	c.Set(SessionHeader, id)
	return s.sessions.Get(id), nil
}

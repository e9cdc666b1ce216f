// Package httpapi exposes the kiosk session to the local UI over HTTP.
// The daemon binds to loopback; mutating routes additionally require a
// bearer token issued to the kiosk UI.
package httpapi

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/fpkiosk/fpkiosk/internal/config"
	"github.com/fpkiosk/fpkiosk/internal/kiosk"
	"github.com/fpkiosk/fpkiosk/internal/logging"
	"github.com/fpkiosk/fpkiosk/internal/models"
	"github.com/fpkiosk/fpkiosk/internal/repositories/subjects"
)

// Uploader is the part of the backup service the API needs.
type Uploader interface {
	Upload(ctx context.Context, snap *models.Snapshot) (string, error)
}

// FramePusher accepts raw frames posted by the UI capture bridge.
type FramePusher interface {
	Push(image []byte) error
}

type Server struct {
	app     *fiber.App
	session *kiosk.Session
	events  *kiosk.EventLog
	backups Uploader
	pusher  FramePusher
	cfg     *config.Config
	log     logging.Logger
}

func NewServer(cfg *config.Config, session *kiosk.Session, events *kiosk.EventLog, backups Uploader, pusher FramePusher, log logging.Logger) *Server {
	s := &Server{
		session: session,
		events:  events,
		backups: backups,
		pusher:  pusher,
		cfg:     cfg,
		log:     log,
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler: s.errorHandler,
	})
	s.app.Use(logger.New())
	s.app.Use(cors.New())

	s.routes()
	return s
}

// App returns the underlying fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)

	api := s.app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/subjects", s.handleListSubjects)
	api.Get("/subjects/next-id", s.handleNextID)
	api.Get("/export", s.handleExport)

	api.Post("/capture", s.requireAuth, s.handleCapture)
	api.Post("/registration", s.requireAuth, s.handleStartRegistration)
	api.Delete("/registration", s.requireAuth, s.handleCancelRegistration)
	api.Delete("/subjects/:id", s.requireAuth, s.handleDeleteSubject)
	api.Delete("/subjects", s.requireAuth, s.handleClearSubjects)
	api.Post("/import", s.requireAuth, s.handleImport)
	api.Post("/backup", s.requireAuth, s.handleBackup)
}

// errorHandler maps domain errors onto HTTP statuses so handlers can just
// return them.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, kiosk.ErrNotConnected),
		errors.Is(err, kiosk.ErrAlreadyRegistering):
		code = fiber.StatusConflict
	case errors.Is(err, kiosk.ErrEmptyWorkerID),
		errors.Is(err, subjects.ErrBadSnapshot),
		errors.Is(err, subjects.ErrWorkerIDExists):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, subjects.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, kiosk.ErrClosed):
		code = fiber.StatusServiceUnavailable
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code == fiber.StatusInternalServerError {
		s.log.Error(c.Context(), "request failed", "method", c.Method(), "path", c.Path(), "error", err.Error())
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

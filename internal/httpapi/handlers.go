package httpapi

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fpkiosk/fpkiosk/internal/auth"
	"github.com/fpkiosk/fpkiosk/internal/kiosk"
	"github.com/fpkiosk/fpkiosk/internal/models"
)

type statusResponse struct {
	Connected   bool `json:"connected"`
	Registering bool `json:"registering"`
	Step        int  `json:"step"`
	Total       int  `json:"total"`
	Subjects    int  `json:"subjects"`
}

type registrationRequest struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
}

type captureRequest struct {
	Image string `json:"image"` // base64
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	h := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	if _, err := auth.GetOperatorIDFromToken(token, []byte(s.cfg.SecretKey)); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	return c.Next()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := statusResponse{
		Connected:   s.session.IsConnected(),
		Registering: s.session.IsRegistering(),
	}
	resp.Step, resp.Total = s.session.Progress()

	n, err := s.session.SubjectCount(c.Context())
	switch {
	case err == nil:
		resp.Subjects = n
	case errors.Is(err, kiosk.ErrNotConnected):
		// Disconnected kiosks still report their state.
	default:
		return err
	}
	return c.JSON(resp)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	after := int64(c.QueryInt("after", 0))
	return c.JSON(fiber.Map{
		"events":   s.events.Since(after),
		"last_seq": s.events.LastSeq(),
	})
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	if s.pusher == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no capture bridge configured")
	}
	var req captureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid base64 image: "+err.Error())
	}
	if len(image) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty image")
	}
	if err := s.pusher.Push(image); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleStartRegistration(c *fiber.Ctx) error {
	var req registrationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := s.session.StartRegistration(c.Context(), req.WorkerID, req.Name); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"worker_id": req.WorkerID})
}

func (s *Server) handleCancelRegistration(c *fiber.Ctx) error {
	if err := s.session.CancelRegistration(c.Context()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListSubjects(c *fiber.Ctx) error {
	all, err := s.session.Subjects(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(all)
}

func (s *Server) handleNextID(c *fiber.Ctx) error {
	id, err := s.session.NextSubjectID(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"next_id": id})
}

func (s *Server) handleDeleteSubject(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid subject id")
	}
	if err := s.session.DeleteSubject(c.Context(), int64(id)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleClearSubjects(c *fiber.Ctx) error {
	if err := s.session.ClearSubjects(c.Context()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	snap, err := s.session.ExportSnapshot(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	var snap models.Snapshot
	if err := c.BodyParser(&snap); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid snapshot body: "+err.Error())
	}
	n, err := s.session.ImportSnapshot(c.Context(), &snap)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"imported": n})
}

func (s *Server) handleBackup(c *fiber.Ctx) error {
	snap, err := s.session.ExportSnapshot(c.Context())
	if err != nil {
		return err
	}
	key, err := s.backups.Upload(c.Context(), snap)
	if err != nil {
		s.log.Error(c.Context(), "snapshot upload failed", "error", err.Error())
		return fiber.NewError(fiber.StatusBadGateway, "snapshot upload failed")
	}
	return c.JSON(fiber.Map{"key": key})
}

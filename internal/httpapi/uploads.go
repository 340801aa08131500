package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/pipeline"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) submitUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("submit upload", "file is required")
	}
	f, err := file.Open()
	if err != nil {
		return apperr.Validation("submit upload", "file is unreadable")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return apperr.Validation("submit upload", "file is unreadable")
	}

	u, err := s.deps.Processing.Submit(c.UserContext(), pipeline.SubmitRequest{
		OwnerID:      identity(c).UserID,
		Content:      content,
		OriginalName: file.Filename,
		MimeType:     file.Header.Get(fiber.HeaderContentType),
		Size:         file.Size,
	})
	if err != nil {
		return err
	}
	return created(c, u)
}

func (s *Server) listUploads(c *fiber.Ctx) error {
	uploads, err := s.deps.Registry.ListByOwner(c.UserContext(), identity(c).UserID)
	if err != nil {
		return err
	}
	return success(c, uploads)
}

func (s *Server) getUpload(c *fiber.Ctx) error {
	u, err := s.deps.Registry.Get(c.UserContext(), c.Params("id"), identity(c))
	if err != nil {
		return err
	}
	return success(c, u)
}

func (s *Server) deleteUpload(c *fiber.Ctx) error {
	if err := s.deps.Registry.Delete(c.UserContext(), c.Params("id"), identity(c)); err != nil {
		return err
	}
	return success(c, fiber.Map{"deleted": c.Params("id")})
}

func (s *Server) startProcessing(c *fiber.Ctx) error {
	var mapping internal.ColumnMapping
	if err := c.BodyParser(&mapping); err != nil {
		return apperr.Validation("start processing", "invalid request body")
	}
	res, err := s.deps.Processing.Start(c.UserContext(), c.Params("id"), identity(c).UserID, mapping)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(APIResponse{Success: true, Data: res})
}

func (s *Server) cancelUpload(c *fiber.Ctx) error {
	u, err := s.deps.Processing.Cancel(c.UserContext(), c.Params("id"), identity(c))
	if err != nil {
		return err
	}
	return success(c, u)
}

func (s *Server) listMatches(c *fiber.Ctx) error {
	matches, err := s.deps.Review.ListMatches(c.UserContext(), c.Params("id"), identity(c), c.Query("status"))
	if err != nil {
		return err
	}
	return success(c, matches)
}

func (s *Server) exportResults(c *fiber.Ctx) error {
	id := c.Params("id")
	var buf bytes.Buffer
	if err := s.deps.Processing.ExportResults(c.UserContext(), id, identity(c), &buf); err != nil {
		return err
	}
	name := fmt.Sprintf("resultado-%s-%s.xlsx", id, time.Now().UTC().Format("20060102"))
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(buf.Bytes())
}

func (s *Server) stats(c *fiber.Ctx) error {
	stats, err := s.deps.Registry.Stats(c.UserContext(), identity(c).UserID, time.Now())
	if err != nil {
		return err
	}
	return success(c, stats)
}

func (s *Server) activity(c *fiber.Ctx) error {
	entries, err := s.deps.Registry.Activity(c.UserContext(), identity(c), c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return success(c, entries)
}

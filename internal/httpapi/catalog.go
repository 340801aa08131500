package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"catmatch/internal/apperr"
	"catmatch/internal/review"
)

type reviewRequest struct {
	Status     string `json:"status"`
	MaterialID string `json:"materialId"`
}

func (s *Server) reviewMatch(c *fiber.Ctx) error {
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("review match", "invalid request body")
	}
	action, err := review.ParseAction(req.Status)
	if err != nil {
		return err
	}
	m, err := s.deps.Review.Transition(c.UserContext(), review.TransitionRequest{
		MatchID:       c.Params("id"),
		Action:        action,
		Reviewer:      identity(c),
		TargetEntryID: req.MaterialID,
	})
	if err != nil {
		return err
	}
	return success(c, m)
}

func (s *Server) searchMaterials(c *fiber.Ctx) error {
	entries, err := s.deps.Catalog.Search(c.UserContext(), c.Query("q"), c.Query("categoryId"), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return success(c, entries)
}

func (s *Server) materialByCode(c *fiber.Ctx) error {
	entry, err := s.deps.Catalog.GetByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return err
	}
	return success(c, entry)
}

func (s *Server) materialByID(c *fiber.Ctx) error {
	entry, err := s.deps.Catalog.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, entry)
}

func (s *Server) listCategories(c *fiber.Ctx) error {
	categories, err := s.deps.Catalog.ListCategories(c.UserContext())
	if err != nil {
		return err
	}
	return success(c, categories)
}

func (s *Server) listSubcategories(c *fiber.Ctx) error {
	subs, err := s.deps.Catalog.ListSubcategories(c.UserContext(), c.Query("categoryId"))
	if err != nil {
		return err
	}
	return success(c, subs)
}

package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"catmatch/internal/apperr"
	"catmatch/internal/logger"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

func success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{Success: true, Data: data})
}

func created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{Success: true, Data: data})
}

// statusFor maps an error kind to the HTTP status the API reports it with.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindConfiguration:
		return fiber.StatusUnprocessableEntity
	case apperr.KindUnsupportedFormat:
		return fiber.StatusUnsupportedMediaType
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindPersistence:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler renders handler errors into the envelope. Storage and
// unexpected failures are logged and reported without their cause.
func errorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(APIResponse{Success: false, Error: fe.Message})
		}

		kind := apperr.KindOf(err)
		code := statusFor(kind)
		message := apperr.Message(err)
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			if kind == apperr.KindPersistence {
				message = "storage unavailable, try again later"
			} else {
				message = "internal server error"
			}
		}
		return c.Status(code).JSON(APIResponse{Success: false, Error: message, Kind: string(kind)})
	}
}

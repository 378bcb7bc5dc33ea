package server

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v3"

	apperrors "power-backend/internal/errors"
)

var statusByCode = map[string]int{
	apperrors.CodeInvalidInput: fiber.StatusBadRequest,
	apperrors.CodeUnauthorized: fiber.StatusUnauthorized,
	apperrors.CodeNotFound:     fiber.StatusNotFound,
	apperrors.CodeConflict:     fiber.StatusConflict,
	apperrors.CodeInvalidState: fiber.StatusUnprocessableEntity,
	apperrors.CodeInternal:     fiber.StatusInternalServerError,
}

// errorHandler renders every error as {"error": {"code", "message"}}
func errorHandler(c fiber.Ctx, err error) error {
	status, code, message := classify(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("HTTP %s %s failed: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

func classify(err error) (int, string, string) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, codeForStatus(fiberErr.Code), fiberErr.Message
	}

	code, message := apperrors.ToCodeAndMessage(err)
	if status, ok := statusByCode[code]; ok {
		return status, code, message
	}
	return fiber.StatusInternalServerError, apperrors.CodeInternal, "internal server error"
}

// codeForStatus gives router-level errors (404 route, 405) a stable code
func codeForStatus(status int) string {
	for code, s := range statusByCode {
		if s == status {
			return code
		}
	}
	if status >= fiber.StatusInternalServerError {
		return apperrors.CodeInternal
	}
	return apperrors.CodeInvalidInput
}

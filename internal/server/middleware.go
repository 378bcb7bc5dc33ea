package server

import (
	"strings"

	"github.com/gofiber/fiber/v3"
)

const (
	localsAdmin       = "admin"
	deviceTokenHeader = "X-Device-Token"
)

// requireAdmin rejects requests without a live session token
func (s *Server) requireAdmin(c fiber.Ctx) error {
	user, err := s.sessions.Authenticate(bearerToken(c))
	if err != nil {
		return err
	}
	c.Locals(localsAdmin, user)
	return c.Next()
}

// bearerToken returns the token from "Authorization: Bearer <token>"
func bearerToken(c fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// deviceToken prefers the dedicated header and falls back to a bearer token
func deviceToken(c fiber.Ctx) string {
	if token := strings.TrimSpace(c.Get(deviceTokenHeader)); token != "" {
		return token
	}
	return bearerToken(c)
}

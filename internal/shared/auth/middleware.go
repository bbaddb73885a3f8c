package auth

import (
	"strings"

	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	PrincipalKey  = "principal" // fiber and websocket locals key
	SessionCookie = "session"
	tokenPrefix   = "Bearer "
)

// Middleware authenticates requests with a session token from the Authorization
// header or the session cookie. With required=false anonymous requests pass
// through without a principal.
func Middleware(issuer *Issuer, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := sessionToken(c)
		if token == "" {
			if required {
				return fiber.NewError(fiber.StatusUnauthorized, "missing session token")
			}
			return c.Next()
		}

		p, err := issuer.ParseSession(token)
		if err != nil {
			log.Debug("Session token rejected", zap.String("path", c.Path()), zap.Error(err))
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

// WSMiddleware authenticates a WebSocket handshake. A single use ?token= is
// redeemed first; a session cookie or bearer token is accepted as well.
func WSMiddleware(issuer *Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := c.Query("token"); token != "" {
			p, err := issuer.RedeemWSToken(c.UserContext(), token)
			if err != nil {
				log.Info("WebSocket token rejected", zap.String("path", c.Path()), zap.Error(err))
				return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired ws token")
			}
			c.Locals(PrincipalKey, p)
			return c.Next()
		}
		return Middleware(issuer, true)(c)
	}
}

// PrincipalFrom returns the caller stored by the middleware.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(PrincipalKey).(Principal)
	return p, ok
}

func sessionToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, tokenPrefix) {
		return strings.TrimPrefix(h, tokenPrefix)
	}
	return c.Cookies(SessionCookie)
}

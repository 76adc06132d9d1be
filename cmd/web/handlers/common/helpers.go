package common

import (
	"crypto/subtle"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// BearerAuth guards a route group with a static shared secret sent as
// "Authorization: Bearer <secret>". An empty secret rejects every request.
func BearerAuth(name, secret string) echo.MiddlewareFunc {
	if secret == "" {
		slog.Warn("no bearer secret configured; routes will reject every request", "guard", name)
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			if secret == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			slog.Warn("rejected request", "guard", name, "path", c.Path(), "remote_ip", c.RealIP())
			return ErrUnauthorized()
		},
	})
}

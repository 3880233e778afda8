package middleware

import (
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pilab-dev/shadow-auth/errors"
)

// RequireScope lets a request through only when its access token carries
// every listed scope. It must run after BearerAuth.
func RequireScope(scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := AccessTokenFrom(c)
			if !ok {
				return deny(c, errors.NewInvalidToken("Full authentication is required to access this resource"))
			}

			for _, s := range scopes {
				if !slices.Contains(token.Scope, s) {
					return deny(c, errors.NewInsufficientScope("Insufficient scope for this resource, requires: "+strings.Join(scopes, " ")))
				}
			}

			return next(c)
		}
	}
}

// Package middleware protects resource server routes with access tokens
// issued by the authorization server.
package middleware

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
)

// accessTokenKey is the echo.Context key holding the verified *domain.AccessToken.
const accessTokenKey = "sauth.access_token"

// TokenVerifier checks a compact access token. Both the local TokenSigner and
// verifier.RemoteVerifier satisfy it.
type TokenVerifier interface {
	Verify(token string) (*domain.AccessToken, error)
}

// BearerAuth rejects requests without a valid Bearer access token and stores
// the verified claims on the context for AccessTokenFrom.
func BearerAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return deny(c, errors.NewInvalidToken("Full authentication is required to access this resource"))
			}

			token, err := v.Verify(raw)
			if err != nil {
				return deny(c, errors.As(err))
			}

			c.Set(accessTokenKey, token)

			return next(c)
		}
	}
}

// AccessTokenFrom returns the token verified by BearerAuth.
func AccessTokenFrom(c echo.Context) (*domain.AccessToken, bool) {
	token, ok := c.Get(accessTokenKey).(*domain.AccessToken)
	return token, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

// deny writes an RFC 6750 error response.
func deny(c echo.Context, oe *errors.OAuth2Error) error {
	challenge := "Bearer"
	if oe.Kind != errors.KindServerError {
		challenge = fmt.Sprintf(`Bearer error=%q, error_description=%q`, oe.Code, oe.Description)
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)

	return c.JSON(oe.StatusCode(), oe)
}

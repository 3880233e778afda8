package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/shadow-auth/api"
	"github.com/pilab-dev/shadow-auth/errors"
)

// TokenKeyAlgorithm is the algorithm name reported by the token key endpoint.
const TokenKeyAlgorithm = "SHA256withRSA"

// TokenKeyHandler returns the PEM encoded verification key to any client
// authenticated with HTTP Basic auth. Credentials in the query string are
// not accepted.
func (oa *OAuth2API) TokenKeyHandler(c echo.Context) error {
	clientID, clientSecret, present, err := basicCredentials(c)
	if err != nil {
		return oa.writeError(c, err, ClientRealm)
	}
	if !present {
		return oa.writeError(c, errors.NewUnauthorized("Full authentication is required to access this resource"), ClientRealm)
	}

	if _, err := oa.server.Validator.ValidateClientCredentials(c.Request().Context(), clientID, clientSecret); err != nil {
		return oa.writeError(c, err, ClientRealm)
	}

	pem, err := oa.server.Signer.PublicKeyPEM()
	if err != nil {
		return oa.writeError(c, errors.NewServerError("failed to encode public key").WithCause(err), ClientRealm)
	}

	return c.JSON(http.StatusOK, api.TokenKeyResponse{
		Alg:   TokenKeyAlgorithm,
		Value: pem,
	})
}

// JWKSHandler publishes the signing key as a JSON Web Key Set.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=300")

	return c.JSON(http.StatusOK, oa.server.Signer.JWKS())
}

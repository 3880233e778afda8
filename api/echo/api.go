//nolint:varnamelen
package echo

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	sauth "github.com/pilab-dev/shadow-auth"
	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/log"
)

// Realms advertised in WWW-Authenticate on 401 responses.
const (
	ClientRealm    = "oauth2/client"
	AuthorizeRealm = "oauth2/authorize"
)

// OAuth2API exposes the engine over HTTP.
type OAuth2API struct {
	server *sauth.AuthServer
	logger log.Logger
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(server *sauth.AuthServer, logger log.Logger) *OAuth2API {
	if logger == nil {
		logger = log.NewNop()
	}

	return &OAuth2API{
		server: server,
		logger: logger.With(log.Fields{"component": "oauth2_api"}),
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth/token", oa.TokenHandler)
	e.GET("/oauth/authorize", oa.AuthorizeHandler)
	e.POST("/oauth/authorize", oa.AuthorizeHandler)
	e.GET("/oauth/token_key", oa.TokenKeyHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
}

// TokenHandler handles POST /oauth/token. Client credentials come from HTTP
// Basic auth, or from the client_id and client_secret form fields when no
// Authorization header is sent. Basic values are used verbatim, as on
// /oauth/authorize. Grant parameters may be sent as form fields
// or query parameters.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")

	clientID, clientSecret, err := clientCredentials(c)
	if err != nil {
		return oa.writeError(c, err, ClientRealm)
	}

	req := &sauth.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     c.FormValue("username"),
		Password:     c.FormValue("password"),
		Scope:        sauth.ParseScope(c.FormValue("scope")),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		RefreshToken: c.FormValue("refresh_token"),
	}

	result, err := oa.server.Dispatcher.Dispatch(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, err, ClientRealm)
	}

	return c.JSON(http.StatusOK, sauth.BuildTokenResponse(result))
}

// AuthorizeHandler handles GET and POST /oauth/authorize. The resource owner
// authenticates with HTTP Basic auth; on success the user agent is
// redirected to the client with a fresh authorization code.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	username, password, present, err := basicCredentials(c)
	if err != nil || !present {
		return oa.writeError(c, errors.NewUnauthorized("Full authentication is required to access this resource"), AuthorizeRealm)
	}

	approved, _ := strconv.ParseBool(c.FormValue("user_oauth_approval"))

	req := &sauth.AuthorizeRequest{
		ResponseType: c.FormValue("response_type"),
		ClientID:     c.FormValue("client_id"),
		RedirectURI:  c.FormValue("redirect_uri"),
		Scope:        sauth.ParseScope(c.FormValue("scope")),
		State:        c.FormValue("state"),
		Username:     username,
		Password:     password,
		Approved:     approved,
	}

	result, err := oa.server.Dispatcher.Authorize(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, err, AuthorizeRealm)
	}

	return c.Redirect(http.StatusFound, result.RedirectURL)
}

// writeError renders err as an OAuth2 error body with its mapped status.
func (oa *OAuth2API) writeError(c echo.Context, err error, realm string) error {
	oe := errors.As(err)
	status := oe.StatusCode()

	if status == http.StatusUnauthorized {
		switch oe.Kind {
		case errors.KindInvalidClient, errors.KindUnauthorized:
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="`+realm+`"`)
		default:
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="`+oe.Code+`"`)
		}
	}

	if status >= http.StatusInternalServerError {
		oa.logger.Error(c.Request().Context(), "request failed", err, log.Fields{"path": c.Path()})
	}

	return c.JSON(status, oe)
}

// clientCredentials extracts client credentials from HTTP Basic auth, or
// from the client_id and client_secret form fields when no Authorization
// header is sent.
func clientCredentials(c echo.Context) (string, string, error) {
	id, secret, present, err := basicCredentials(c)
	if err != nil || present {
		return id, secret, err
	}

	return c.FormValue("client_id"), c.FormValue("client_secret"), nil
}

// basicCredentials reads HTTP Basic credentials. Values are taken verbatim
// after base64 decoding and are not form-urlencoding decoded, so a secret
// containing '+' or '%' is sent as is. present is false when the request
// carries no Authorization header.
func basicCredentials(c echo.Context) (id, secret string, present bool, err error) {
	if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
		return "", "", false, nil
	}

	id, secret, ok := c.Request().BasicAuth()
	if !ok {
		return "", "", true, errors.NewInvalidClient("Malformed basic authentication header")
	}

	return id, secret, true, nil
}

package sauth

import (
	"context"
	stderrors "errors"
	"net/url"
	"strings"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/log"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ResponseTypeCode is the only supported response_type.
const ResponseTypeCode = "code"

// AuthorizeRequest is a parsed authorize endpoint request. Username and
// Password are the resource owner's credentials.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        []string
	State        string

	Username string
	Password string

	// Approved carries user_oauth_approval for clients that are not auto-approved.
	Approved bool
}

// AuthorizeResult tells the caller where to redirect the user agent.
type AuthorizeResult struct {
	RedirectURL string
	Code        *domain.AuthorizationCode
}

// Authorize authenticates the resource owner and issues an authorization
// code. Owner authentication happens before anything else, so bad owner
// credentials fail with Unauthorized and leave no state behind.
func (d *GrantDispatcher) Authorize(ctx context.Context, req *AuthorizeRequest) (result *AuthorizeResult, err error) {
	ctx, span := d.tracer.Start(ctx, "GrantDispatcher.Authorize", trace.WithAttributes(
		attribute.String("oauth.client_id", req.ClientID),
	))
	defer func() {
		d.audit.Record("authorize", req.ClientID, req.Username, "", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, errors.KindOf(err).String())
		}
		span.End()
	}()

	user, err := d.validator.ValidateUser(ctx, req.Username, req.Password)
	if err != nil {
		if errors.KindOf(err) == errors.KindInvalidUser {
			d.metrics.OwnerAuthFailed()
			return nil, errors.NewUnauthorized("Full authentication is required to access this resource").WithCause(err)
		}

		return nil, err
	}

	if req.ResponseType != ResponseTypeCode {
		return nil, errors.NewUnsupportedResponseType(req.ResponseType)
	}

	client, err := d.lookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if err := d.validator.AuthorizeGrant(client, domain.GrantTypeAuthorizationCode); err != nil {
		return nil, err
	}

	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	scope, err := ResolveScope(req.Scope, client.Scopes, user.Authorities)
	if err != nil {
		return nil, err
	}

	if !client.AutoApprove && !req.Approved {
		return nil, errors.NewAccessDenied("User approval is required")
	}

	code, err := d.codes.Issue(ctx, client.ID, user.Username, scope, redirectURI, req.RedirectURI != "")
	if err != nil {
		return nil, err
	}
	d.metrics.CodeIssued()

	d.logger.Info(ctx, "Authorization code granted", log.Fields{
		"client_id": client.ID,
		"username":  user.Username,
		"scope":     FormatScope(scope),
	})

	return &AuthorizeResult{
		RedirectURL: buildRedirectURL(redirectURI, code.Code, req.State),
		Code:        code,
	}, nil
}

func (d *GrantDispatcher) lookupClient(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, errors.NewInvalidRequest("Missing client_id")
	}

	client, err := d.validator.clients.LookupClient(ctx, clientID)
	if err != nil {
		if stderrors.Is(err, domain.ErrClientNotFound) {
			return nil, errors.NewInvalidRequest("Unknown client_id: " + clientID).WithCause(err)
		}

		return nil, errors.NewServerError("client lookup failed").WithCause(err)
	}

	return client, nil
}

// resolveRedirectURI picks the redirect target: the requested URI when it is
// registered, otherwise the client's only registered URI.
func resolveRedirectURI(client *domain.Client, requested string) (string, error) {
	if requested != "" {
		if !client.HasRedirectURI(requested) {
			return "", errors.NewInvalidRequest("Invalid redirect: " + requested + " does not match one of the registered values")
		}

		return requested, nil
	}

	if len(client.RedirectURIs) != 1 {
		return "", errors.NewInvalidRequest("A redirect_uri must be supplied")
	}

	return client.RedirectURIs[0], nil
}

// buildRedirectURL appends code (and state) to redirectURI. Codes are
// base64url so they need no escaping.
func buildRedirectURL(redirectURI, code, state string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}

	location := redirectURI + sep + "code=" + code
	if state != "" {
		location += "&state=" + url.QueryEscape(state)
	}

	return location
}

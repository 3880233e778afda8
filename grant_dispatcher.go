package sauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/pilab-dev/shadow-auth/log"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAccessTokenTTL is the lifetime of an access token.
const DefaultAccessTokenTTL = 12 * time.Hour

// TokenRequest is a parsed token endpoint request.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// password
	Username string
	Password string
	Scope    []string

	// authorization_code
	Code        string
	RedirectURI string

	// refresh_token
	RefreshToken string
}

// TokenResult is the outcome of a successful grant.
type TokenResult struct {
	AccessToken  string
	Claims       *domain.AccessToken
	ExpiresIn    time.Duration
	RefreshToken *domain.RefreshToken
	Scope        []string
}

type grantHandler func(ctx context.Context, client *domain.Client, req *TokenRequest) (*TokenResult, error)

// GrantDispatcher evaluates token requests per grant type and authorize
// requests. Every evaluation either completes or fails; a failed evaluation
// leaves no token behind.
type GrantDispatcher struct {
	validator *CredentialValidator
	codes     *AuthCodeStore
	signer    *TokenSigner
	refresh   *RefreshTokenManager
	accessTTL time.Duration
	now       func() time.Time

	grants map[string]grantHandler

	logger  log.Logger
	metrics *metrics.Collector
	audit   *audit.Logger
	tracer  trace.Tracer
}

// Dispatch authenticates the client and runs the requested grant.
// Client authentication comes first, so a bad secret is always InvalidClient.
func (d *GrantDispatcher) Dispatch(ctx context.Context, req *TokenRequest) (result *TokenResult, err error) {
	ctx, span := d.tracer.Start(ctx, "GrantDispatcher.Dispatch", trace.WithAttributes(
		attribute.String("oauth.grant_type", req.GrantType),
		attribute.String("oauth.client_id", req.ClientID),
	))
	defer func() {
		d.observe(ctx, span, req, result, err)
		span.End()
	}()

	client, err := d.validator.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	if req.GrantType == "" {
		return nil, errors.NewInvalidRequest("Missing grant type")
	}

	handler, ok := d.grants[req.GrantType]
	if !ok {
		return nil, errors.NewUnsupportedGrantType(req.GrantType)
	}

	if err := d.validator.AuthorizeGrant(client, req.GrantType); err != nil {
		return nil, err
	}

	return handler(ctx, client, req)
}

func (d *GrantDispatcher) passwordGrant(ctx context.Context, client *domain.Client, req *TokenRequest) (*TokenResult, error) {
	if req.Username == "" {
		return nil, errors.NewInvalidRequest("Missing username")
	}

	user, err := d.validator.ValidateUser(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	scope, err := ResolveScope(req.Scope, client.Scopes, user.Authorities)
	if err != nil {
		return nil, err
	}

	return d.issueTokens(ctx, client, user.Username, scope, scope, "")
}

func (d *GrantDispatcher) authorizationCodeGrant(ctx context.Context, client *domain.Client, req *TokenRequest) (*TokenResult, error) {
	if req.Code == "" {
		return nil, errors.NewInvalidRequest("Missing authorization code")
	}

	code, err := d.codes.Consume(ctx, req.Code, client.ID, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	d.metrics.CodeConsumed()

	return d.issueTokens(ctx, client, code.Username, code.Scope, code.Scope, "")
}

func (d *GrantDispatcher) refreshTokenGrant(ctx context.Context, client *domain.Client, req *TokenRequest) (*TokenResult, error) {
	if req.RefreshToken == "" {
		return nil, errors.NewInvalidRequest("Missing refresh token")
	}

	// Reject widening before the token is spent.
	if len(req.Scope) > 0 {
		current, err := d.refresh.Peek(ctx, req.RefreshToken, client.ID)
		if err != nil {
			return nil, err
		}
		if !isSubset(req.Scope, current.Scope) {
			return nil, errors.NewInvalidScope("Unable to narrow the scope to " + FormatScope(req.Scope))
		}
	}

	redeemed, err := d.refresh.Redeem(ctx, req.RefreshToken, client.ID)
	if err != nil {
		return nil, err
	}

	accessScope := redeemed.Scope
	if len(req.Scope) > 0 {
		if !isSubset(req.Scope, redeemed.Scope) {
			return nil, errors.NewInvalidScope("Unable to narrow the scope to " + FormatScope(req.Scope))
		}
		accessScope = req.Scope
	}

	if _, err := d.validator.ReloadUser(ctx, redeemed.Username); err != nil {
		return nil, err
	}

	result, err := d.issueTokens(ctx, client, redeemed.Username, accessScope, redeemed.Scope, redeemed.ChainID)
	if err != nil {
		return nil, err
	}
	d.metrics.RefreshRotated()

	return result, nil
}

// issueTokens signs the access token first and persists the refresh token
// last, so nothing is stored when signing fails.
func (d *GrantDispatcher) issueTokens(ctx context.Context, client *domain.Client, username string,
	accessScope, refreshScope []string, chainID string,
) (*TokenResult, error) {
	now := d.now().UTC()
	claims := &domain.AccessToken{
		JTI:       uuid.NewString(),
		ClientID:  client.ID,
		Username:  username,
		Scope:     accessScope,
		IssuedAt:  now,
		ExpiresAt: now.Add(d.accessTTL),
	}

	signed, err := d.signer.Sign(claims)
	if err != nil {
		return nil, errors.NewServerError("failed to sign access token").WithCause(err)
	}

	result := &TokenResult{
		AccessToken: signed,
		Claims:      claims,
		ExpiresIn:   d.accessTTL,
		Scope:       accessScope,
	}

	if client.AllowsGrant(domain.GrantTypeRefreshToken) {
		rt, err := d.refresh.Issue(ctx, client.ID, username, refreshScope, chainID)
		if err != nil {
			return nil, err
		}
		result.RefreshToken = rt
	}

	return result, nil
}

func (d *GrantDispatcher) observe(ctx context.Context, span trace.Span, req *TokenRequest, result *TokenResult, err error) {
	user := req.Username
	if result != nil {
		user = result.Claims.Username
	}

	d.audit.Record("token."+req.GrantType, req.ClientID, user, "", err)

	if err != nil {
		kind := errors.KindOf(err)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, kind.String())
		d.metrics.GrantFailed(req.GrantType, kind.String())

		fields := log.Fields{"client_id": req.ClientID, "grant_type": req.GrantType, "kind": kind.String()}
		if kind == errors.KindServerError {
			d.logger.Error(ctx, "Token request failed", err, fields)
		} else {
			d.logger.Info(ctx, "Token request rejected", fields)
		}

		return
	}

	d.metrics.TokenIssued(req.GrantType)
	d.logger.Info(ctx, "Token issued", log.Fields{
		"client_id":  req.ClientID,
		"grant_type": req.GrantType,
		"username":   user,
		"jti":        result.Claims.JTI,
		"scope":      FormatScope(result.Scope),
	})
}

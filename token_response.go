package sauth

import (
	"github.com/pilab-dev/shadow-auth/api"
)

// BuildTokenResponse formats a grant result for the wire.
func BuildTokenResponse(result *TokenResult) *api.TokenResponse {
	resp := &api.TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   api.TokenTypeBearer,
		ExpiresIn:   int(result.ExpiresIn.Seconds()),
		Scope:       FormatScope(result.Scope),
	}
	if result.RefreshToken != nil {
		resp.RefreshToken = result.RefreshToken.Value
	}

	return resp
}

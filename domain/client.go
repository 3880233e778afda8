package domain

import "slices"

// Supported grant types.
const (
	GrantTypePassword          = "password"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Client is a registered OAuth2 client. It is immutable after registration.
type Client struct {
	ID                string   `json:"client_id" bson:"_id" yaml:"id"`
	SecretHash        string   `json:"-" bson:"secret_hash" yaml:"secret_hash"`
	AllowedGrantTypes []string `json:"grant_types" bson:"grant_types" yaml:"grant_types"`
	Scopes            []string `json:"scopes" bson:"scopes" yaml:"scopes"`
	RedirectURIs      []string `json:"redirect_uris" bson:"redirect_uris" yaml:"redirect_uris"`
	AutoApprove       bool     `json:"auto_approve" bson:"auto_approve" yaml:"auto_approve"`
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	return slices.Contains(c.AllowedGrantTypes, grantType)
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

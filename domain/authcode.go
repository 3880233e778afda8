package domain

import "time"

// AuthorizationCode is a single-use code issued by the authorize endpoint.
type AuthorizationCode struct {
	Code        string    `json:"code" bson:"_id"`
	ClientID    string    `json:"client_id" bson:"client_id"`
	Username    string    `json:"username" bson:"username"`
	Scope       []string  `json:"scope" bson:"scope"`
	RedirectURI string    `json:"redirect_uri" bson:"redirect_uri"`
	// RedirectURIProvided is set when the authorize request carried redirect_uri
	// explicitly. The token request must then repeat it.
	RedirectURIProvided bool      `json:"redirect_uri_provided" bson:"redirect_uri_provided"`
	IssuedAt            time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt           time.Time `json:"expires_at" bson:"expires_at"`
	Consumed            bool      `json:"consumed" bson:"consumed"`
}

// IsExpired reports whether the code is past its expiry at the given instant.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RedirectMatches reports whether presented satisfies the redirect binding.
// An empty presented value is only accepted when the authorize request did
// not name a redirect URI either.
func (c *AuthorizationCode) RedirectMatches(presented string) bool {
	if presented == "" {
		return !c.RedirectURIProvided
	}

	return presented == c.RedirectURI
}

package api

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "bearer"

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// TokenKeyResponse is returned by the token key endpoint.
type TokenKeyResponse struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

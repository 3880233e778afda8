package sauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/crypto"
	"github.com/pilab-dev/shadow-auth/internal/tokenclaims"
)

var ErrInvalidKeyID = errors.New("invalid key id")

// JSONWebKey is the public half of the signing key in JWK form.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is served at /.well-known/jwks.json.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// TokenSigner signs and verifies access tokens with an RSA keypair.
// The keypair is read-only after construction.
type TokenSigner struct {
	keys   *crypto.KeyPair
	issuer string
	now    func() time.Time
}

// NewTokenSigner creates a new signer for the given keypair.
func NewTokenSigner(keys *crypto.KeyPair, issuer string, now func() time.Time) *TokenSigner {
	if now == nil {
		now = time.Now
	}

	return &TokenSigner{
		keys:   keys,
		issuer: issuer,
		now:    now,
	}
}

// KeyID returns the kid placed in every token header.
func (s *TokenSigner) KeyID() string {
	return s.keys.KeyID
}

// Sign produces a compact RS256 JWS for the access token.
func (s *TokenSigner) Sign(token *domain.AccessToken) (string, error) {
	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, tokenclaims.FromAccessToken(token, s.issuer))
	jwtToken.Header["kid"] = s.keys.KeyID

	signed, err := jwtToken.SignedString(s.keys.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// Failures are MalformedToken, InvalidToken or ExpiredToken errors.
func (s *TokenSigner) Verify(tokenString string) (*domain.AccessToken, error) {
	claims := &tokenclaims.AccessClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		tokenclaims.ParserOptions(s.issuer, jwt.WithTimeFunc(s.now))...)
	if err != nil {
		return nil, tokenclaims.Classify(err)
	}

	return claims.AccessToken(), nil
}

func (s *TokenSigner) keyFunc(token *jwt.Token) (interface{}, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != s.keys.KeyID {
		return nil, ErrInvalidKeyID
	}

	return s.keys.PublicKey, nil
}

// JWKS exports the public key.
func (s *TokenSigner) JWKS() JSONWebKeySet {
	pub := s.keys.PublicKey

	return JSONWebKeySet{Keys: []JSONWebKey{{
		Kid: s.keys.KeyID,
		Kty: "RSA",
		Alg: tokenclaims.SigningAlgorithm,
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// PublicKeyPEM returns the verification key as a PEM string.
func (s *TokenSigner) PublicKeyPEM() (string, error) {
	data, err := crypto.EncodePublicKeyPEM(s.keys.PublicKey)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

package domain

import "errors"

var (
	ErrClientNotFound = errors.New("client not found")
	ErrUserNotFound   = errors.New("user not found")

	ErrAuthCodeNotFound  = errors.New("authorization code not found")
	ErrAuthCodeConsumed  = errors.New("authorization code already consumed")
	ErrAuthCodeExpired   = errors.New("authorization code expired")
	ErrAuthCodeDuplicate = errors.New("authorization code already exists")

	// ErrRedirectMismatch is returned when the token request's redirect_uri
	// does not match the one the code was issued for. The code stays usable.
	ErrRedirectMismatch = errors.New("redirect uri mismatch")

	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenRedeemed  = errors.New("refresh token already redeemed")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshTokenDuplicate = errors.New("refresh token already exists")

	// ErrClientMismatch is returned when a code or refresh token is presented
	// by a client other than the one it was issued to.
	ErrClientMismatch = errors.New("credential was issued to another client")
)

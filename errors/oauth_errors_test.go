package errors_test

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err    *errors.OAuth2Error
		status int
		code   string
	}{
		{errors.NewInvalidClient("bad secret"), http.StatusUnauthorized, "invalid_client"},
		{errors.NewUnauthorizedGrantType("password"), http.StatusBadRequest, "unauthorized_client"},
		{errors.NewUnsupportedGrantType("implicit"), http.StatusBadRequest, "unsupported_grant_type"},
		{errors.NewInvalidUser(), http.StatusBadRequest, "invalid_grant"},
		{errors.NewUnauthorized("bad owner"), http.StatusUnauthorized, "unauthorized"},
		{errors.NewInvalidGrant("used"), http.StatusBadRequest, "invalid_grant"},
		{errors.NewInvalidScope("write"), http.StatusBadRequest, "invalid_scope"},
		{errors.NewAccessDenied("no consent"), http.StatusForbidden, "access_denied"},
		{errors.NewExpiredToken("expired"), http.StatusUnauthorized, "invalid_token"},
		{errors.NewInsufficientScope("write"), http.StatusForbidden, "insufficient_scope"},
		{errors.NewServerError("boom"), http.StatusInternalServerError, "server_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode())
			assert.Equal(t, tc.code, tc.err.Code)
		})
	}
}

func TestKindOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("exchange: %w", errors.NewInvalidGrant("code expired"))

	assert.Equal(t, errors.KindInvalidGrant, errors.KindOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, errors.NewInvalidGrant("")))
	assert.False(t, stderrors.Is(wrapped, errors.NewInvalidScope("")))
	assert.Equal(t, errors.KindServerError, errors.KindOf(stderrors.New("disk on fire")))
}

func TestAsHidesInternalErrors(t *testing.T) {
	cause := stderrors.New("connection refused")
	oe := errors.As(cause)

	assert.Equal(t, errors.ServerError, oe.Code)
	assert.NotContains(t, oe.Description, "connection refused")
	assert.ErrorIs(t, oe, cause)
}

func TestWireFormat(t *testing.T) {
	body, err := json.Marshal(errors.NewInvalidScope("scope write is not allowed"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"error":"invalid_scope","error_description":"scope write is not allowed"}`, string(body))
}

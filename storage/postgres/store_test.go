package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	mock  pgxmock.PgxPoolIface
	store *Store
	ctx   context.Context
	now   time.Time
}

func (suite *StoreTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	suite.Require().NoError(err)

	suite.mock = mock
	suite.store = NewStore(mock)
	suite.ctx = context.Background()
	suite.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *StoreTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

func (suite *StoreTestSuite) code() *domain.AuthorizationCode {
	return &domain.AuthorizationCode{
		Code:        "abc",
		ClientID:    "client",
		Username:    "john",
		Scope:       []string{"read"},
		RedirectURI: "http://localhost:7000/home",
		IssuedAt:    suite.now,
		ExpiresAt:   suite.now.Add(5 * time.Minute),
	}
}

func (suite *StoreTestSuite) TestMigrate() {
	suite.mock.ExpectExec(q(schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	suite.NoError(suite.store.Migrate(suite.ctx))
}

func (suite *StoreTestSuite) TestSaveAuthCode_Duplicate() {
	c := suite.code()
	suite.mock.ExpectExec(q(insertCodeQuery)).
		WithArgs(c.Code, c.ClientID, c.Username, c.Scope, c.RedirectURI, false, c.IssuedAt, c.ExpiresAt, false).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	suite.ErrorIs(suite.store.SaveAuthCode(suite.ctx, c), domain.ErrAuthCodeDuplicate)
}

func (suite *StoreTestSuite) TestConsumeAuthCode_Success() {
	c := suite.code()
	suite.mock.ExpectQuery(q(consumeCodeQuery)).
		WithArgs(c.Code, c.ClientID, suite.now, c.RedirectURI).
		WillReturnRows(pgxmock.NewRows([]string{"username", "scope", "redirect_uri", "redirect_uri_provided", "issued_at", "expires_at"}).
			AddRow(c.Username, c.Scope, c.RedirectURI, true, c.IssuedAt, c.ExpiresAt))

	got, err := suite.store.ConsumeAuthCode(suite.ctx, c.Code, c.ClientID, c.RedirectURI, suite.now)
	suite.Require().NoError(err)
	suite.Equal("john", got.Username)
	suite.Equal([]string{"read"}, got.Scope)
	suite.True(got.RedirectURIProvided)
	suite.True(got.Consumed)
}

func (suite *StoreTestSuite) TestConsumeAuthCode_Diagnosis() {
	const redirect = "http://localhost:7000/home"
	live := suite.now.Add(time.Minute)

	cases := []struct {
		name      string
		presented string
		owner     string
		used      bool
		expiresAt time.Time
		provided  bool
		want      error
	}{
		{"foreign client", redirect, "other", false, live, true, domain.ErrClientMismatch},
		{"already consumed", redirect, "client", true, live, true, domain.ErrAuthCodeConsumed},
		{"expired", redirect, "client", false, suite.now, true, domain.ErrAuthCodeExpired},
		{"wrong redirect", "http://evil.example/cb", "client", false, live, true, domain.ErrRedirectMismatch},
		{"redirect not repeated", "", "client", false, live, true, domain.ErrRedirectMismatch},
		{"lost race", redirect, "client", false, live, true, domain.ErrAuthCodeConsumed},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			suite.mock.ExpectQuery(q(consumeCodeQuery)).
				WithArgs("abc", "client", suite.now, tc.presented).
				WillReturnError(pgx.ErrNoRows)
			suite.mock.ExpectQuery(q(codeStateQuery)).
				WithArgs("abc").
				WillReturnRows(pgxmock.NewRows([]string{"client_id", "consumed", "expires_at", "redirect_uri", "redirect_uri_provided"}).
					AddRow(tc.owner, tc.used, tc.expiresAt, redirect, tc.provided))

			_, err := suite.store.ConsumeAuthCode(suite.ctx, "abc", "client", tc.presented, suite.now)
			suite.ErrorIs(err, tc.want)
		})
	}
}

func (suite *StoreTestSuite) TestConsumeAuthCode_NotFound() {
	suite.mock.ExpectQuery(q(consumeCodeQuery)).
		WithArgs("nope", "client", suite.now, "").
		WillReturnError(pgx.ErrNoRows)
	suite.mock.ExpectQuery(q(codeStateQuery)).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := suite.store.ConsumeAuthCode(suite.ctx, "nope", "client", "", suite.now)
	suite.ErrorIs(err, domain.ErrAuthCodeNotFound)
}

func (suite *StoreTestSuite) TestDeleteExpiredAuthCodes() {
	suite.mock.ExpectExec(q(deleteExpiredCodesQuery)).
		WithArgs(suite.now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := suite.store.DeleteExpiredAuthCodes(suite.ctx, suite.now)
	suite.NoError(err)
	suite.Equal(int64(3), n)
}

func (suite *StoreTestSuite) TestRefreshToken_FindAndRedeem() {
	scope := []string{"read", "write"}
	exp := suite.now.Add(time.Hour)

	suite.mock.ExpectQuery(q(findRefreshQuery)).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"client_id", "username", "scope", "chain_id", "issued_at", "expires_at", "redeemed"}).
			AddRow("client", "bob", scope, "chain-1", suite.now, exp, false))
	suite.mock.ExpectQuery(q(redeemRefreshQuery)).
		WithArgs("h1", "client", suite.now).
		WillReturnRows(pgxmock.NewRows([]string{"username", "scope", "chain_id", "issued_at", "expires_at"}).
			AddRow("bob", scope, "chain-1", suite.now, exp))

	found, err := suite.store.FindRefreshToken(suite.ctx, "h1")
	suite.Require().NoError(err)
	suite.False(found.Redeemed)

	got, err := suite.store.RedeemRefreshToken(suite.ctx, "h1", "client", suite.now)
	suite.Require().NoError(err)
	suite.Equal("chain-1", got.ChainID)
	suite.Equal(scope, got.Scope)
	suite.True(got.Redeemed)
}

func (suite *StoreTestSuite) TestRedeemRefreshToken_Reused() {
	suite.mock.ExpectQuery(q(redeemRefreshQuery)).
		WithArgs("h1", "client", suite.now).
		WillReturnError(pgx.ErrNoRows)
	suite.mock.ExpectQuery(q(refreshStateQuery)).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"client_id", "redeemed"}).AddRow("client", true))

	_, err := suite.store.RedeemRefreshToken(suite.ctx, "h1", "client", suite.now)
	suite.ErrorIs(err, domain.ErrRefreshTokenRedeemed)
}

func (suite *StoreTestSuite) TestFindRefreshToken_NotFound() {
	suite.mock.ExpectQuery(q(findRefreshQuery)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := suite.store.FindRefreshToken(suite.ctx, "missing")
	suite.ErrorIs(err, domain.ErrRefreshTokenNotFound)
}

func (suite *StoreTestSuite) TestSaveRefreshToken_Duplicate() {
	exp := suite.now.Add(time.Hour)
	token := &domain.RefreshToken{
		TokenHash: "h1",
		ClientID:  "client",
		Username:  "bob",
		Scope:     []string{"read"},
		ChainID:   "chain-1",
		IssuedAt:  suite.now,
		ExpiresAt: exp,
	}
	suite.mock.ExpectExec(q(insertRefreshQuery)).
		WithArgs("h1", "client", "bob", token.Scope, "chain-1", suite.now, exp, false).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	suite.ErrorIs(suite.store.SaveRefreshToken(suite.ctx, token), domain.ErrRefreshTokenDuplicate)
}

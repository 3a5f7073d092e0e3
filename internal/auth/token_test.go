package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qurrota/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testAccount() types.Account {
	return types.Account{ID: "0b7c4c56-7c1e-4b8e-9d7f-3d1f1c1f0a01", Role: types.RoleModerator, Email: "a@x.com"}
}

func TestIssueAndParse(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("super-secret", time.Hour)
	token, err := issuer.Issue(testAccount())
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, testAccount().ID, claims.User.ID)
	assert.Equal(t, types.RoleModerator, claims.User.Role)
	assert.Equal(t, "a@x.com", claims.User.Email)
	assert.Equal(t, testAccount().ID, claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestParseExpired(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret", time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := issuer.Issue(testAccount())
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).Parse(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestParseWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := NewTokenIssuer("right-secret", time.Hour).Issue(testAccount())
	require.NoError(t, err)

	_, err = NewTokenIssuer("wrong-secret", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsNonHMAC(t *testing.T) {
	t.Parallel()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{User: TokenUser{ID: "x"}})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseMissingUser(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret", time.Hour)
	token, err := issuer.Issue(types.Account{})
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHasher(t *testing.T) {
	t.Parallel()

	hasher := NewPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	ok, err := hasher.Compare(hash, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Compare(hash, "secret2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = hasher.Compare("not-a-hash", "secret1")
	assert.Error(t, err)
}

func TestNewPasswordHasherClampsCost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(99).cost)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("secret", time.Hour)
	account := testAccount()
	account.Role = types.Role("root")
	token, err := issuer.Issue(account)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

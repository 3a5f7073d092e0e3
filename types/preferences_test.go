package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesMergeKeepsUnsetNestedKeys(t *testing.T) {
	current := DefaultPreferences()

	merged := current.Merge(Preferences{
		EmailNotifications: &EmailNotifications{News: boolPtr(false)},
	})

	data, err := json.Marshal(merged)
	require.NoError(t, err)
	assert.JSONEq(t, `{"emailNotifications":{"news":false,"promotions":true}}`, string(data))

	// the receiver is left untouched
	assert.True(t, *current.EmailNotifications.News)

	assert.Equal(t, merged, merged.Merge(Preferences{}))
}

func TestPreferencesMergeIntoEmpty(t *testing.T) {
	merged := Preferences{}.Merge(Preferences{
		EmailNotifications: &EmailNotifications{Promotions: boolPtr(false)},
	})
	require.NotNil(t, merged.EmailNotifications)
	assert.Nil(t, merged.EmailNotifications.News)
	assert.False(t, *merged.EmailNotifications.Promotions)
}

func TestPreferencesUnmarshalStrict(t *testing.T) {
	var p Preferences
	require.NoError(t, json.Unmarshal([]byte(`{"emailNotifications":{"news":false}}`), &p))
	require.NotNil(t, p.EmailNotifications)
	assert.False(t, *p.EmailNotifications.News)
	assert.Nil(t, p.EmailNotifications.Promotions)

	for _, raw := range []string{
		`{"anything":{"deep":[1,2,3]}}`,
		`{"emailNotifications":"nope"}`,
		`{"emailNotifications":{"news":"yes"}}`,
		`{"emailNotifications":{"sms":true}}`,
		`[]`,
	} {
		assert.Error(t, json.Unmarshal([]byte(raw), &p), raw)
	}
}

func TestPreferencesValueScan(t *testing.T) {
	value, err := DefaultPreferences().Value()
	require.NoError(t, err)

	var decoded Preferences
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, DefaultPreferences(), decoded)

	require.NoError(t, decoded.Scan("{}"))
	assert.Nil(t, decoded.EmailNotifications)

	require.NoError(t, decoded.Scan(nil))
	assert.Equal(t, Preferences{}, decoded)

	assert.Error(t, decoded.Scan(42))
}

func TestAccountProfileHidesSecrets(t *testing.T) {
	code := "123456"
	lock := time.Now().Add(time.Hour)
	account := Account{
		ID:                    "acc-1",
		Email:                 "a@x.com",
		PasswordHash:          "hash",
		EmailVerificationCode: &code,
		LockUntil:             &lock,
		Role:                  RoleUser,
		Preferences:           DefaultPreferences(),
	}

	profile := account.Profile()
	assert.Equal(t, "acc-1", profile.ID)
	assert.Equal(t, RoleUser, profile.Role)

	data, err := json.Marshal(profile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hash")
	assert.NotContains(t, string(data), code)
	assert.NotContains(t, string(data), "lockUntil")

	// the profile owns its preferences
	*profile.Preferences.EmailNotifications.News = false
	assert.True(t, *account.Preferences.EmailNotifications.News)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleModerator.Valid())
	assert.False(t, Role("root").Valid())
}

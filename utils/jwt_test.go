package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"leadforge/models"
)

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("jwt-secret", time.Minute, time.Hour)
	user := &models.User{Model: gorm.Model{ID: 7}, CompanyID: 3, Role: models.RoleManager, TokenVersion: 2}

	pair, err := m.GenerateTokens(user)
	require.NoError(t, err)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	claims, err := m.ParseToken(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 7, CompanyID: 3, Role: models.RoleManager}, claims.Identity())
	assert.Equal(t, 2, claims.TokenVersion)

	_, err = m.ParseToken(pair.AccessToken, TokenRefresh)
	assert.Error(t, err, "access token must not be accepted as refresh token")

	_, err = NewTokenManager("other", time.Minute, time.Hour).ParseToken(pair.AccessToken, TokenAccess)
	assert.Error(t, err)
}

func TestTokenManagerExpiry(t *testing.T) {
	m := NewTokenManager("jwt-secret", time.Minute, time.Hour)
	issued := time.Now()
	m.now = func() time.Time { return issued }

	pair, err := m.GenerateTokens(&models.User{Model: gorm.Model{ID: 1}, CompanyID: 1, Role: models.RoleAdmin})
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = m.ParseToken(pair.AccessToken, TokenAccess)
	assert.Error(t, err)

	_, err = m.ParseToken(pair.RefreshToken, TokenRefresh)
	assert.NoError(t, err)
}

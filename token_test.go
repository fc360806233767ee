package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel-tracker/domain/model"
)

func TestMintToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, mintToken(&out, "secret", []string{"root", model.RoleAdmin}))

	claims := &model.UserClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "root", claims.UserID())
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Greater(t, claims.ExpiresAt, claims.IssuedAt)
}

func TestMintToken_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, mintToken(&out, "", []string{"u1"}))
	assert.Error(t, mintToken(&out, "secret", nil))
	assert.Error(t, mintToken(&out, "secret", []string{"u1", "admin", "extra"}))
	assert.Empty(t, out.String())
}

package gauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestRSAKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

func TestSign_ProducesVerifiableToken(t *testing.T) {
	key, pemBytes := generateTestRSAKey(t)

	signed, err := Sign(jwt.MapClaims{"sub": "me", "aud": "you"}, pemBytes)
	require.Nil(t, err)
	require.NotEmpty(t, signed)

	parsed, perr := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, perr)
	assert.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "me", claims["sub"])
	assert.Equal(t, "you", claims["aud"])
}

func TestSign_RejectsGarbagePEM(t *testing.T) {
	_, err := Sign(jwt.MapClaims{"sub": "me"}, []byte("not a pem key"))
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidPrivateKey.Code, err.Code)
}

func TestSign_WrongKeyFailsVerification(t *testing.T) {
	_, pemBytes := generateTestRSAKey(t)
	otherKey, _ := generateTestRSAKey(t)

	signed, err := Sign(jwt.MapClaims{"sub": "me"}, pemBytes)
	require.Nil(t, err)

	_, perr := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return &otherKey.PublicKey, nil
	})
	assert.Error(t, perr)
}

package gauth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/rangen/geminigw/pkg/errx"
)

// Sign encodes claims as a JWT and signs it with pemKey using RS256. pemKey
// must be a PKCS#1 or PKCS#8 PEM-encoded RSA private key, the format Google
// service-account JSON keys ship their "private_key" field in.
func Sign(claims jwt.MapClaims, pemKey []byte) (string, *errx.Error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return "", WrapError(err, ErrInvalidPrivateKey)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", WrapError(err, ErrSigningFailed)
	}

	return signed, nil
}

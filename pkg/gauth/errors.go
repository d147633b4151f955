package gauth

import (
	"net/http"

	"github.com/rangen/geminigw/pkg/errx"
)

var errorRegistry = errx.NewRegistry("GAUTH")

var (
	ErrNoCredentials = errorRegistry.Register(
		"NO_CREDENTIALS",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"no usable credentials configured for this backend",
	)

	ErrInvalidPrivateKey = errorRegistry.Register(
		"INVALID_PRIVATE_KEY",
		errx.TypeValidation,
		http.StatusBadRequest,
		"service account private key is not a valid PEM-encoded RSA key",
	)

	ErrSigningFailed = errorRegistry.Register(
		"SIGNING_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"failed to sign JWT assertion",
	)

	ErrInvalidServiceAccount = errorRegistry.Register(
		"INVALID_SERVICE_ACCOUNT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"service account key material is malformed",
	)

	ErrTokenExchangeFailed = errorRegistry.Register(
		"TOKEN_EXCHANGE_FAILED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"failed to exchange JWT assertion for an access token",
	)

	ErrTokenExchangeRejected = errorRegistry.Register(
		"TOKEN_EXCHANGE_REJECTED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"token endpoint rejected the assertion",
	)

	ErrUnknownBackend = errorRegistry.Register(
		"UNKNOWN_BACKEND",
		errx.TypeValidation,
		http.StatusBadRequest,
		"unknown auth backend",
	)

	ErrAssertionInvariant = errorRegistry.Register(
		"ASSERTION_INVARIANT",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"service assertion does not satisfy sub==aud invariant",
	)
)

// WrapError wraps err with code, preserving an existing *errx.Error as-is.
func WrapError(err error, code *errx.ErrorCode) *errx.Error {
	if err == nil {
		return nil
	}
	var existing *errx.Error
	if errx.As(err, &existing) {
		return existing
	}
	return errorRegistry.NewWithCause(code, err)
}

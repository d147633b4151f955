package geminiclient

import "github.com/rangen/geminigw/pkg/errx"

var errorRegistry = errx.NewRegistry("GEMINICLIENT")

var (
	ErrEmptyInput   = errorRegistry.Register("EMPTY_INPUT", errx.TypeValidation, 400, "input must not be empty")
	ErrNoBackend    = errorRegistry.Register("NO_BACKEND", errx.TypeValidation, 400, "no backend is configured")
	ErrUnknownInput = errorRegistry.Register("UNKNOWN_INPUT", errx.TypeValidation, 400, "unsupported input type")
)

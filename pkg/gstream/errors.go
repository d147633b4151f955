package gstream

import "github.com/rangen/geminigw/pkg/errx"

var gstreamErrors = errx.NewRegistry("GSTREAM")

var (
	ErrCapacity = gstreamErrors.Register("CAPACITY", errx.TypeBusiness, 429, "open stream capacity exceeded")
	ErrNotFound = gstreamErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "stream not found")
)

package credcacheredis

import "github.com/rangen/geminigw/pkg/errx"

var redisErrors = errx.NewRegistry("CREDCACHEREDIS")

var (
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, 500, "failed to marshal cached token")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "failed to unmarshal cached token")
	ErrGet       = redisErrors.Register("GET", errx.TypeExternal, 502, "failed to read cached token")
	ErrSet       = redisErrors.Register("SET", errx.TypeExternal, 502, "failed to write cached token")
)

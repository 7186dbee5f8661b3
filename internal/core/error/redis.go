package errx

import (
	"net/http"
)

// WrapRedis wraps a Redis error with a consistent status code and message.
// Callers handle redis.Nil themselves; an empty list is not a failure.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	return New(KindInternal, err, http.StatusBadGateway, RedisErrorMessage)
}

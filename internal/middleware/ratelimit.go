package middleware

import (
	"net/http"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// RateLimit limits each client IP to the given formatted rate,
// e.g. "30-M" for 30 requests per minute. Guards the unauthenticated
// order and payment endpoints against abuse.
func RateLimit(formatted string) func(http.Handler) http.Handler {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		zap.L().Fatal("invalid rate limit format", zap.String("rate", formatted), zap.Error(err))
	}

	instance := limiter.New(memory.NewStore(), rate)
	return stdlib.NewMiddleware(instance).Handler
}

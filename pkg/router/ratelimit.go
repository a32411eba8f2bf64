package router

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// HttpRateLimit shares one token bucket across all callers, since the single
// WhatsApp session is the resource being protected. A non-positive rate
// disables limiting.
func HttpRateLimit(perSecond float64, burst int) fiber.Handler {
	if perSecond <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *fiber.Ctx) error {
		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(delay.Seconds())+1))
			return ResponseTooManyRequests(c, "Too many requests, slow down")
		}
		return c.Next()
	}
}

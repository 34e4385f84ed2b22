package middleware

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           `env:"RATE_LIMIT_GLOBAL_API" envDefault:"200"`
	GlobalAPIExpiration time.Duration `env:"RATE_LIMIT_GLOBAL_WINDOW" envDefault:"1m"`

	// Context match/fetch limits (per user ID). Fetches fan out to module
	// backends so they get their own, tighter bucket.
	MatchMax       int           `env:"RATE_LIMIT_CONTEXT_MATCH" envDefault:"120"`
	FetchMax       int           `env:"RATE_LIMIT_CONTEXT_FETCH" envDefault:"60"`
	UserExpiration time.Duration `env:"RATE_LIMIT_USER_WINDOW" envDefault:"1m"`
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig(environment string) *RateLimitConfig {
	config := &RateLimitConfig{}
	if err := env.Parse(config); err != nil {
		log.Printf("⚠️  [RATE-LIMIT] Invalid rate limit settings, using defaults: %v", err)
		config = &RateLimitConfig{
			GlobalAPIMax:        200,
			GlobalAPIExpiration: time.Minute,
			MatchMax:            120,
			FetchMax:            60,
			UserExpiration:      time.Minute,
		}
	}

	// Development mode: more lenient limits
	if environment == "development" {
		config.GlobalAPIMax = 1000
		config.MatchMax = 1000
		config.FetchMax = 500
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ContextMatchRateLimiter limits context matching per user
func ContextMatchRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userRateLimiter("match", config.MatchMax, config.UserExpiration)
}

// ContextFetchRateLimiter limits context fetches per user
func ContextFetchRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userRateLimiter("fetch", config.FetchMax, config.UserExpiration)
}

func userRateLimiter(prefix string, max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use user ID if available, fall back to IP
			if userID := UserID(c); userID != "" {
				return prefix + ":" + userID
			}
			return prefix + "-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] %s limit reached for user: %s on %s", prefix, UserID(c), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please wait before trying again.",
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}

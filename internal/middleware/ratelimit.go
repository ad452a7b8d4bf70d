package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/logger"
)

// scanBucketScript takes one token from a continuously refilled bucket.
// It reads the clock from Redis so scanner nodes with drifting clocks
// share one view. ARGV: capacity, tokens per second, ttl seconds.
// Returns {allowed, remaining, wait_ms}.
var scanBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local level = tonumber(redis.call('HGET', KEYS[1], 'level'))
local stamp = tonumber(redis.call('HGET', KEYS[1], 'stamp'))
if level == nil or stamp == nil then
  level = capacity
  stamp = now
end
level = math.min(capacity, level + math.max(0, now - stamp) * rate / 1000)

local wait = 0
local ok = 0
if level >= 1 then
  ok = 1
  level = level - 1
else
  wait = math.ceil((1 - level) * 1000 / rate)
end
redis.call('HSET', KEYS[1], 'level', tostring(level), 'stamp', now)
redis.call('EXPIRE', KEYS[1], ttl)
return { ok, math.floor(level), wait }
`)

// NewTokenBucket limits scan submission per device. Redis errors fail open
// so a cache outage never stops an entrance.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *logger.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.With("component", "ScanRateLimit")
	perSecond := float64(cfg.RefillTokens) / cfg.RefillInterval.Seconds()
	ttl := int64(math.Ceil(cfg.TTL.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := scanBucketScript.Run(c.Request().Context(), rdb, []string{key}, cfg.Capacity, perSecond, ttl).Int64Slice()
			if err != nil || len(res) != 3 {
				log.Warn("bucket unavailable; admitting scan", "key", key, "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res[0] == 1 {
				return next(c)
			}
			wait := time.Duration(res[2]) * time.Millisecond
			secs := int(math.Ceil(wait.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			log.Debug("scan throttled", "operator_id", OperatorID(c), "wait_ms", res[2])
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "scanner is submitting too fast",
				"retry_after": secs,
			})
		}
	}
}

// rateKey buckets by device (token subject) unless configured for IP.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	var id []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		id = []string{"ip", c.RealIP()}
	case "device_ip":
		id = []string{"dev", OperatorID(c), "ip", c.RealIP()}
	default:
		id = []string{"dev", OperatorID(c)}
	}
	return cfg.Prefix + ":" + strings.Join(id, ":")
}

package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
)

const redisKeyPrefix = "geocode:"

// placeCache is a process-local LRU in front of an optional shared Redis
// tier. Values are candidate lists; single resolutions store one element.
type placeCache struct {
	lru      gcache.Cache
	redis    *redis.Client
	redisTTL time.Duration
	log      logrus.FieldLogger
}

func newPlaceCache(size int, ttl time.Duration, rdb *redis.Client, redisTTL time.Duration, log logrus.FieldLogger) *placeCache {
	b := gcache.New(max(size, 1)).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &placeCache{lru: b.Build(), redis: rdb, redisTTL: redisTTL, log: log}
}

func (c *placeCache) get(ctx context.Context, key string) ([]model.Place, bool) {
	if v, err := c.lru.Get(key); err == nil {
		observability.GeocodeCacheHits.WithLabelValues("memory").Inc()
		return v.([]model.Place), true
	}
	if c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("geocode redis read failed")
		}
		return nil, false
	}
	var places []model.Place
	if err := json.Unmarshal(raw, &places); err != nil || len(places) == 0 {
		c.log.WithField("key", key).Warn("geocode redis entry unreadable, ignoring")
		return nil, false
	}

	observability.GeocodeCacheHits.WithLabelValues("redis").Inc()
	_ = c.lru.Set(key, places)
	return places, true
}

func (c *placeCache) set(ctx context.Context, key string, places []model.Place) {
	_ = c.lru.Set(key, places)
	if c.redis == nil {
		return
	}

	raw, err := json.Marshal(places)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+key, raw, c.redisTTL).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("geocode redis write failed")
	}
}

// ─── Keys ───────────────────────────────────────────────────

// normalizeText trims, lower-cases and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func forwardKey(text string) string {
	return "fwd:" + normalizeText(text)
}

func suggestKey(text string, limit int) string {
	return fmt.Sprintf("sug:%d:%s", limit, normalizeText(text))
}

// reverseKey rounds to 5 decimals (~1.1m), below any useful label change.
func reverseKey(c model.Coordinate) string {
	return fmt.Sprintf("rev:%.5f,%.5f", c.Lat, c.Lon)
}

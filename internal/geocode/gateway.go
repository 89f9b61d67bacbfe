package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/shiva/campusride/internal/model"
)

// MinSuggestRunes is the shortest input Suggest forwards upstream.
const MinSuggestRunes = 3

// Config tunes the gateway.
type Config struct {
	CacheSize         int
	CacheTTL          time.Duration
	RedisTTL          time.Duration
	Retry             RetryPolicy
	DefaultSuggestMax int
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize:         500,
		CacheTTL:          24 * time.Hour,
		RedisTTL:          24 * time.Hour,
		Retry:             DefaultRetryPolicy(),
		DefaultSuggestMax: 5,
	}
}

// Gateway is the only path to the geocoding service. It owns retry,
// caching and de-duplication of concurrent identical lookups.
type Gateway struct {
	upstream Upstream
	cache    *placeCache
	group    singleflight.Group
	cfg      Config
	log      logrus.FieldLogger
}

// NewGateway wires an upstream client. rdb may be nil to disable the shared tier.
func NewGateway(upstream Upstream, rdb *redis.Client, cfg Config, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		upstream: upstream,
		cache:    newPlaceCache(cfg.CacheSize, cfg.CacheTTL, rdb, cfg.RedisTTL, log),
		cfg:      cfg,
		log:      log,
	}
}

// Resolve returns the best match for a free-text place name.
func (g *Gateway) Resolve(ctx context.Context, text string) (model.Place, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		verr := model.NewValidationError(model.ErrInvalidQuery)
		verr.Add("text", "is required")
		return model.Place{}, verr
	}

	places, err := g.lookup(ctx, forwardKey(text), "search", func(ctx context.Context) ([]model.Place, error) {
		places, err := g.upstream.Search(ctx, text, 1)
		if len(places) > 1 {
			places = places[:1]
		}
		return places, err
	})
	if err != nil {
		return model.Place{}, fmt.Errorf("resolve %q: %w", text, err)
	}
	return places[0], nil
}

// ReverseResolve returns a human-readable label for a point.
func (g *Gateway) ReverseResolve(ctx context.Context, lat, lon float64) (string, error) {
	at := model.Coordinate{Lat: lat, Lon: lon}
	if !at.Valid() {
		verr := model.NewValidationError(model.ErrInvalidQuery)
		verr.Add("coordinate", fmt.Sprintf("(%g, %g) out of range", lat, lon))
		return "", verr
	}

	places, err := g.lookup(ctx, reverseKey(at), "reverse", func(ctx context.Context) ([]model.Place, error) {
		p, err := g.upstream.Reverse(ctx, at)
		if err != nil {
			return nil, err
		}
		return []model.Place{p}, nil
	})
	if err != nil {
		return "", fmt.Errorf("reverse resolve (%.5f, %.5f): %w", lat, lon, err)
	}
	return places[0].Label, nil
}

// Suggest returns up to limit candidates for partially typed text.
// Inputs shorter than MinSuggestRunes yield no suggestions and no upstream call.
func (g *Gateway) Suggest(ctx context.Context, text string, limit int) ([]model.Place, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinSuggestRunes {
		return []model.Place{}, nil
	}
	if limit <= 0 {
		limit = g.cfg.DefaultSuggestMax
	}

	places, err := g.lookup(ctx, suggestKey(text, limit), "suggest", func(ctx context.Context) ([]model.Place, error) {
		return g.upstream.Search(ctx, text, limit)
	})
	if errors.Is(err, model.ErrNotFound) {
		return []model.Place{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("suggest %q: %w", text, err)
	}
	if len(places) > limit {
		places = places[:limit]
	}
	return places, nil
}

// lookup serves key from cache, or runs fetch once for all concurrent
// callers asking for the same key. The shared fetch is detached from any
// single caller's cancellation and bounded by the retry policy; each caller
// stops waiting when its own context ends.
func (g *Gateway) lookup(
	ctx context.Context,
	key, op string,
	fetch func(ctx context.Context) ([]model.Place, error),
) ([]model.Place, error) {
	if places, ok := g.cache.get(ctx, key); ok {
		return places, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		if places, ok := g.cache.get(shared, key); ok {
			return places, nil
		}

		var places []model.Place
		err := g.cfg.Retry.do(shared, op, g.log, func(ctx context.Context) error {
			var err error
			places, err = fetch(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		g.cache.set(shared, key, places)
		return places, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.Place), nil
	}
}

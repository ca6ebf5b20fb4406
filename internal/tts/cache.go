package tts

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/observe"
)

var _ Engine = (*CachedEngine)(nil)

// NewResultCache builds a TinyLFU in-process cache, backed by Redis when a
// client is given.
func NewResultCache(client *redis.Client, localSize int, localTTL time.Duration) *cache.Cache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(localSize, localTTL),
	}
	if client != nil {
		opts.Redis = client
	}
	return cache.New(opts)
}

// flightTimeout bounds a shared synthesis once it no longer follows any
// single caller's context.
const flightTimeout = 2 * time.Minute

// CachedEngine is a wrapper around an Engine that caches synthesized results.
// Cache failures are logged and never fail a request.
type CachedEngine struct {
	next    Engine
	cache   *cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	metrics *observe.Metrics
	logger  *logger.Log
}

// NewCachedEngine wraps next. metrics may be nil.
func NewCachedEngine(next Engine, c *cache.Cache, ttl time.Duration, metrics *observe.Metrics) *CachedEngine {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedEngine{
		next:    next,
		cache:   c,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.New().With("engine", next.ID(), "component", "cache"),
	}
}

func (c *CachedEngine) ID() string   { return c.next.ID() }
func (c *CachedEngine) Name() string { return c.next.Name() }
func (c *CachedEngine) Kind() Kind   { return c.next.Kind() }

func (c *CachedEngine) Available(ctx context.Context) bool {
	return c.next.Available(ctx)
}

// Unwrap returns the decorated engine.
func (c *CachedEngine) Unwrap() Engine {
	return c.next
}

func (c *CachedEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text, err := ValidateText(req.Text)
	if err != nil {
		return nil, err
	}
	req.Text = text
	key := c.key(req)

	var cached Result
	err = c.cache.Get(ctx, key, &cached)
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ctx, c.next.ID(), err == nil)
	}
	switch {
	case err == nil:
		c.logger.Debug("cache hit", "key", key)
		return &cached, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.WithError(err).Warn("cache lookup failed", "key", key)
	}

	// the flight is shared, so one caller going away must not cancel it
	flight := c.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		res, err := c.next.Synthesize(flightCtx, req)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.cache.Set(&cache.Item{
			Ctx:   setCtx,
			Key:   key,
			Value: res,
			TTL:   c.ttl,
		}); err != nil {
			c.logger.WithError(err).Warn("failed to cache audio", "key", key)
		}
		return res, nil
	})

	var r singleflight.Result
	select {
	case r = <-flight:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}

	// callers sharing a flight must not share the slice
	res := *r.Val.(*Result)
	res.Audio = append([]byte(nil), res.Audio...)
	return &res, nil
}

// key is a BLAKE2b digest of the engine id and every request field.
func (c *CachedEngine) key(req Request) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{c.next.ID(), req.Language, req.Accent, req.Gender, req.Voice, req.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "tts:" + hex.EncodeToString(h.Sum(nil))
}

// Unwrap peels decorators such as CachedEngine off e.
func Unwrap(e Engine) Engine {
	for {
		u, ok := e.(interface{ Unwrap() Engine })
		if !ok {
			return e
		}
		e = u.Unwrap()
	}
}

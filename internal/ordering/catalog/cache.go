package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"order-workers/internal/common/database"
	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
)

// missMarker caches a lookup miss so repeated unknown names skip the base.
const missMarker = "-"

// CachedCatalog memoizes the menu snapshot and lookup answers in Redis.
// Redis errors fall through to the base catalog.
type CachedCatalog struct {
	base   Catalog
	client *database.RedisClient
	ttl    time.Duration
	logger Logger
}

func NewCachedCatalog(base Catalog, client *database.RedisClient, ttl time.Duration, log Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCatalog{base: base, client: client, ttl: ttl, logger: log}
}

func (c *CachedCatalog) menuKey() string {
	return c.client.Key("menu", "snapshot")
}

func (c *CachedCatalog) lookupKey(candidate string, categoryID int) string {
	return c.client.Key("menu", "lookup", strconv.Itoa(categoryID), lexicon.Fold(candidate))
}

func (c *CachedCatalog) Menu(ctx context.Context) (models.MenuSnapshot, error) {
	key := c.menuKey()
	if val, err := c.client.Client.Get(ctx, key).Result(); err == nil {
		var snap models.MenuSnapshot
		if json.Unmarshal([]byte(val), &snap) == nil {
			return snap, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn("menu cache read failed", key, err)
	}

	snap, err := c.base.Menu(ctx)
	if err != nil {
		return snap, err
	}
	if data, err := json.Marshal(snap); err == nil {
		if err := c.client.Client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.warn("menu cache write failed", key, err)
		}
	}
	return snap, nil
}

func (c *CachedCatalog) Lookup(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error) {
	key := c.lookupKey(candidate, categoryID)
	if val, err := c.client.Client.Get(ctx, key).Result(); err == nil {
		if val == missMarker {
			return models.MenuItem{}, false, nil
		}
		var item models.MenuItem
		if json.Unmarshal([]byte(val), &item) == nil {
			return item, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn("lookup cache read failed", key, err)
	}

	item, ok, err := c.base.Lookup(ctx, candidate, categoryID)
	if err != nil {
		return item, ok, err
	}

	val := missMarker
	if ok {
		data, err := json.Marshal(item)
		if err != nil {
			return item, ok, nil
		}
		val = string(data)
	}
	if err := c.client.Client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.warn("lookup cache write failed", key, err)
	}
	return item, ok, nil
}

// Invalidate drops the cached snapshot and every cached lookup. Call it
// after seeding.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	keys := []string{c.menuKey()}
	iter := c.client.Client.Scan(ctx, 0, c.client.Key("menu", "lookup", "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.client.Client.Del(ctx, keys...).Err()
}

func (c *CachedCatalog) warn(msg, key string, err error) {
	c.logger.Warn(msg, map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	})
}

package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// EmbedCache memoizes query embeddings so repeated questions skip the
// embedding backend. Keys are hashes of (model, mode, text); entries expire
// rather than being evicted by us.
type EmbedCache interface {
	Get(ctx context.Context, model string, mode string, text string) ([]float32, bool)
	Put(ctx context.Context, model string, mode string, text string, vec []float32)
	Close() error
}

type embedCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewEmbedCache connects to REDIS_ADDR. An empty address is an error; the
// caller decides whether the cache is optional.
func NewEmbedCache(log *logger.Logger) (EmbedCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlSec := envutil.GetEnvAsInt("EMBED_CACHE_TTL_SECONDS", 3600, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &embedCache{
		log: log.With("service", "RedisEmbedCache"),
		rdb: rdb,
		ttl: time.Duration(ttlSec) * time.Second,
	}, nil
}

func cacheKey(model string, mode string, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + mode + "\x00" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func (c *embedCache) Get(ctx context.Context, model string, mode string, text string) ([]float32, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(model, mode, text)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *embedCache) Put(ctx context.Context, model string, mode string, text string, vec []float32) {
	if c == nil || c.rdb == nil || len(vec) == 0 {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(model, mode, text), raw, c.ttl).Err(); err != nil {
		c.log.Debug("Embed cache write failed", "error", err.Error())
	}
}

func (c *embedCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

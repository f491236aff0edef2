package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"optiondesk/config"
	"optiondesk/logger"

	"github.com/redis/go-redis/v9"
)

// Database numbers, one logical concern per DB.
const (
	TokenDB = 1 // broker tokens
	LTPDB   = 2 // last-traded-price snapshots
)

// Key prefix for broker tokens.
const tokenKeyPrefix = "broker:token:"

// TokenData is the token payload cached per user.
type TokenData struct {
	AccessToken string `json:"access_token"`
	CreatedAt   int64  `json:"created_at"` // Unix milliseconds
	ExpiresAt   int64  `json:"expires_at"` // Unix milliseconds
}

var (
	redisInstance *RedisCache
	redisOnce     sync.Once
)

type RedisCache struct {
	pools map[int]*redis.Client
	log   *logger.Logger
}

// NewRedisCache creates or returns the existing Redis cache instance.
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	var initErr error
	redisOnce.Do(func() {
		redisInstance = &RedisCache{
			pools: make(map[int]*redis.Client),
			log:   logger.L(),
		}
		initErr = redisInstance.initialize(cfg)
	})

	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", initErr)
	}
	return redisInstance, nil
}

func (rc *RedisCache) initialize(cfg *config.RedisConfig) error {
	maxConns := cfg.MaxConnections
	if maxConns == 0 {
		maxConns = 10
	}

	for _, db := range []int{TokenDB, LTPDB} {
		client := redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Password:     cfg.Password,
			DB:           db,
			PoolSize:     maxConns,
			MinIdleConns: cfg.MinConnections,
			DialTimeout:  cfg.GetConnectTimeout(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), cfg.GetConnectTimeout())
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ping Redis db %d: %w", db, err)
		}
		rc.pools[db] = client
	}

	rc.log.Info("Successfully connected to Redis", map[string]interface{}{
		"host": cfg.Host,
		"port": cfg.Port,
	})
	return nil
}

// GetTokenDB returns the client for the token database.
func (rc *RedisCache) GetTokenDB() *redis.Client {
	return rc.pools[TokenDB]
}

// GetLTPDB returns the client for the LTP snapshot database.
func (rc *RedisCache) GetLTPDB() *redis.Client {
	return rc.pools[LTPDB]
}

// Close closes all Redis clients.
func (rc *RedisCache) Close() {
	for db, client := range rc.pools {
		if err := client.Close(); err != nil {
			rc.log.Error("Failed to close Redis client", map[string]interface{}{
				"db":    db,
				"error": err.Error(),
			})
		}
	}
}

// StoreAccessToken caches the user's decrypted broker token until its
// expiry so session restarts skip a database read.
func (rc *RedisCache) StoreAccessToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	data := TokenData{
		AccessToken: token,
		CreatedAt:   time.Now().UnixMilli(),
		ExpiresAt:   expiresAt.UnixMilli(),
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}

	key := tokenKeyPrefix + userID
	if err := rc.GetTokenDB().Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

// GetValidToken returns the cached token for the user, or "" if absent or
// past expiry.
func (rc *RedisCache) GetValidToken(ctx context.Context, userID string) string {
	key := tokenKeyPrefix + userID
	payload, err := rc.GetTokenDB().Get(ctx, key).Result()
	if err != nil {
		return ""
	}

	var data TokenData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return ""
	}
	if time.Now().UnixMilli() >= data.ExpiresAt {
		return ""
	}
	return data.AccessToken
}

// InvalidateToken drops the cached token, used when the broker rejects it.
func (rc *RedisCache) InvalidateToken(ctx context.Context, userID string) {
	if err := rc.GetTokenDB().Del(ctx, tokenKeyPrefix+userID).Err(); err != nil {
		rc.log.Debug("Failed to invalidate token", map[string]interface{}{
			"error": err.Error(),
			"user":  userID,
		})
	}
}

// StoreLTP publishes the latest price for an instrument key so other
// processes can read last prices without polling the broker themselves.
func (rc *RedisCache) StoreLTP(ctx context.Context, instrumentKey string, ltp float64) error {
	key := fmt.Sprintf("%s_ltp", instrumentKey)
	if err := rc.GetLTPDB().Set(ctx, key, ltp, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store LTP: %w", err)
	}
	return nil
}

// GetLTP reads the last published price for an instrument key.
func (rc *RedisCache) GetLTP(ctx context.Context, instrumentKey string) (float64, bool) {
	key := fmt.Sprintf("%s_ltp", instrumentKey)
	val, err := rc.GetLTPDB().Get(ctx, key).Result()
	if err != nil {
		return 0, false
	}
	ltp, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return ltp, true
}

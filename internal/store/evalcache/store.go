// Package evalcache keeps finished engine searches in Redis so repeated positions skip the engine.
package evalcache

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/review/score"
)

const (
	keyPrefix  = "rv:eval:"
	DefaultTTL = 7 * 24 * time.Hour
)

type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, ttl: ttl, logger: logger}
}

// Dial connects to REDIS_URL-style addresses and pings once.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis url required")
	}
	opts, err := ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func ParseURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	opts := &redis.Options{Addr: net.JoinHostPort(u.Hostname(), port), Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname()}
	}
	return opts, nil
}

func (s *Store) key(k string) string {
	sum := sha1.Sum([]byte(k))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get treats every Redis failure as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]score.Candidate, bool) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("eval cache get", zap.Error(err))
		return nil, false
	}
	var cands []score.Candidate
	if err := json.Unmarshal(raw, &cands); err != nil {
		s.logger.Warn("eval cache decode", zap.Error(err))
		return nil, false
	}
	return cands, true
}

func (s *Store) Put(ctx context.Context, key string, cands []score.Candidate) {
	raw, err := json.Marshal(cands)
	if err != nil {
		s.logger.Warn("eval cache encode", zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("eval cache put", zap.Error(err))
	}
}

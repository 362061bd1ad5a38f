// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// RateLimiter enforces a per-IP sliding window of one minute. Redis keeps
// the window shared across instances; without Redis (or when Redis
// errors) the limiter falls back to an in-memory window and, as a last
// resort, fails open.
type RateLimiter struct {
	rdb            *redis.Client // optional
	limitPerMinute int
	log            *logger.Logger

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates a limiter; rdb may be nil.
func NewRateLimiter(rdb *redis.Client, limitPerMinute int, log *logger.Logger) *RateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 100
	}
	if log == nil {
		log = logger.New("rate-limit")
	}
	return &RateLimiter{
		rdb:            rdb,
		limitPerMinute: limitPerMinute,
		log:            log,
		windows:        make(map[string][]time.Time),
	}
}

// Allow reports whether ip may issue one more request in the current
// window.
func (l *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if l.rdb != nil {
		allowed, err := l.allowRedis(ctx, ip)
		if err == nil {
			return allowed
		}
		l.log.Warn("", "", "redis rate limit check failed, using local window", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return l.allowLocal(ip)
}

// allowRedis runs the sliding window as one pipeline: trim, count, add,
// refresh expiry.
func (l *RateLimiter) allowRedis(ctx context.Context, ip string) (bool, error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", ip)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Add(-time.Minute).Unix()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return countCmd.Val() < int64(l.limitPerMinute), nil
}

func (l *RateLimiter) allowLocal(ip string) bool {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.windows[ip]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limitPerMinute {
		l.windows[ip] = kept
		return false
	}
	l.windows[ip] = append(kept, now)
	return true
}

// Middleware rejects over-limit clients with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":"error","message":"trop de requêtes, réessayez dans une minute"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

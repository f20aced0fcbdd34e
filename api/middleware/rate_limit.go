package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/glassapp/glass-server/api/responses"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/glassapp/glass-server/pkg/logger"
)

type RateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// ActivateRateLimitPolicy throttles the activation endpoint: per client IP to
// blunt scripted abuse, and per license key so one key cannot be brute-probed
// from many addresses.
type ActivateRateLimitPolicy struct {
	name     string
	window   time.Duration
	ipLimit  int
	keyLimit int
}

// NewActivateRateLimitPolicy builds a policy with the supplied window and limits.
func NewActivateRateLimitPolicy(name string, window time.Duration, ipLimit, keyLimit int) ActivateRateLimitPolicy {
	return ActivateRateLimitPolicy{
		name:     strings.ToLower(strings.TrimSpace(name)),
		window:   window,
		ipLimit:  ipLimit,
		keyLimit: keyLimit,
	}
}

func (p ActivateRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.keyLimit > 0)
}

func (p ActivateRateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "activate"
	}
	return p.name
}

func (p ActivateRateLimitPolicy) ipKey(ip string) string {
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("rl:ip:%s:%s", p.normalizedName(), ip)
}

func (p ActivateRateLimitPolicy) licenseKey(hash string) string {
	if hash == "" {
		return ""
	}
	return fmt.Sprintf("rl:key:%s:%s", p.normalizedName(), hash)
}

// ActivateRateLimit enforces per-IP and per-key counters for the activation
// endpoint. Without a redis store the limiter is a no-op.
func ActivateRateLimit(policy ActivateRateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ip := clientIP(r)
			if policy.ipLimit > 0 {
				if key := policy.ipKey(ip); key != "" {
					if allowed, count, err := allow(ctx, store, key, policy.window, int64(policy.ipLimit)); err != nil {
						responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					} else if !allowed {
						respondRateLimited(ctx, logg, w, policy, "ip", ip, "", count, policy.ipLimit)
						return
					}
				}
			}

			if policy.keyLimit > 0 {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				code := normalizeKeyCode(extractKeyCode(body))
				if code != "" {
					hash := hashValue(code)
					if key := policy.licenseKey(hash); key != "" {
						if allowed, count, err := allow(ctx, store, key, policy.window, int64(policy.keyLimit)); err != nil {
							responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
							return
						} else if !allowed {
							respondRateLimited(ctx, logg, w, policy, "key", "", hash, count, policy.keyLimit)
							return
						}
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allow(ctx context.Context, store RateLimiterStore, key string, window time.Duration, limit int64) (bool, int64, error) {
	count, err := store.IncrWithTTL(ctx, key, window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy ActivateRateLimitPolicy, scope, ip, keyHash string, count int64, limit int) {
	if logg != nil {
		fields := map[string]any{
			"scope":          scope,
			"policy":         policy.normalizedName(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.window.Seconds()),
		}
		if ip != "" {
			fields["ip"] = ip
		}
		if keyHash != "" {
			fields["key_hash"] = keyHash
		}
		logCtx := logg.WithFields(ctx, fields)
		logg.Warn(logCtx, "activate.rate_limit.blocked")
	}
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded")
	responses.WriteError(ctx, nil, w, err)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func extractKeyCode(payload []byte) string {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Key
}

func normalizeKeyCode(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

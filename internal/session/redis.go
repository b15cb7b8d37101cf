// Package session keeps the authenticated seller-center browser session
// alive between runs by persisting its cookies in Redis. Without this the
// operator would have to log in again every time the service restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"github.com/redis/go-redis/v9"
)

const cookieTTL = 30 * 24 * time.Hour

// Store is a cookie jar for one account, backed by Redis.
type Store struct {
	rdb *redis.Client
	key string
}

func New(rdb *redis.Client, account string) *Store {
	return &Store{rdb: rdb, key: "unmasker:session:" + account}
}

// Save stores the browser's current cookies. Refreshes the TTL on every run
// so an actively used session never expires.
func (s *Store) Save(ctx context.Context, cookies []pw.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("cookie marshal failed: %v", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, cookieTTL).Err(); err != nil {
		return fmt.Errorf("cookie save failed: %v", err)
	}
	return nil
}

// Load returns the saved cookies in the form AddCookies accepts, or nil when
// no session has been saved yet.
func (s *Store) Load(ctx context.Context) ([]pw.OptionalCookie, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cookie load failed: %v", err)
	}

	var cookies []pw.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("cookie unmarshal failed: %v", err)
	}

	restored := make([]pw.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		path := c.Path
		httpOnly := c.HttpOnly
		secure := c.Secure
		expires := c.Expires
		restored = append(restored, pw.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   &domain,
			Path:     &path,
			HttpOnly: &httpOnly,
			Secure:   &secure,
			Expires:  &expires,
		})
	}
	return restored, nil
}

// Clear drops the saved session, forcing a fresh login next launch.
func (s *Store) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

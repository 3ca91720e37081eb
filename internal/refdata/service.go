package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "refdata:payment_kind:"

// Service resolves kind rules with a Redis read-through cache. Unknown codes
// are cached too, so the vocabulary table is hit once per TTL per code.
type Service struct {
	repo   Repository
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewService constructs a Service. client may be nil to disable caching.
func NewService(repo Repository, client *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{repo: repo, client: client, ttl: ttl}
}

// Rule returns the rule for a kind label. Labels are normalized first.
func (s *Service) Rule(ctx context.Context, label string) (KindRule, error) {
	code := NormalizeCode(label)
	if code == "" {
		return KindRule{}, errors.New("refdata: empty payment kind")
	}
	if rule, ok := s.cached(ctx, code); ok {
		return rule, nil
	}
	// The shared load outlives any single caller; each caller still honors its own ctx.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(code, func() (interface{}, error) {
		rule, err := s.repo.GetKind(loadCtx, code)
		if errors.Is(err, ErrNotFound) {
			rule, err = KindRule{Code: code, Label: label}, nil
		}
		if err != nil {
			return KindRule{}, fmt.Errorf("refdata: load kind %s: %w", code, err)
		}
		s.store(loadCtx, rule)
		return rule, nil
	})
	select {
	case <-ctx.Done():
		return KindRule{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return KindRule{}, res.Err
		}
		return res.Val.(KindRule), nil
	}
}

// Invalidate drops a cached rule after the vocabulary changed.
func (s *Service) Invalidate(ctx context.Context, label string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, cacheKeyPrefix+NormalizeCode(label)).Err()
}

// List returns the active vocabulary, uncached.
func (s *Service) List(ctx context.Context) ([]KindRule, error) {
	return s.repo.ListKinds(ctx)
}

func (s *Service) cached(ctx context.Context, code string) (KindRule, bool) {
	if s.client == nil {
		return KindRule{}, false
	}
	payload, err := s.client.Get(ctx, cacheKeyPrefix+code).Bytes()
	if err != nil {
		return KindRule{}, false
	}
	var rule KindRule
	if err := json.Unmarshal(payload, &rule); err != nil {
		return KindRule{}, false
	}
	return rule, true
}

func (s *Service) store(ctx context.Context, rule KindRule) {
	if s.client == nil {
		return
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return
	}
	// a cache write failure only costs another lookup
	_ = s.client.Set(ctx, cacheKeyPrefix+rule.Code, raw, s.ttl).Err()
}

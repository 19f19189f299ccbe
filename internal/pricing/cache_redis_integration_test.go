//go:build integration

package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agencyhub/internal/pricing"
	"agencyhub/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *pricing.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = pricing.NewRedisCache(s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestMissThenHit() {
	ctx := context.Background()

	_, ok, err := s.cache.Get(ctx)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(ctx, pricing.FallbackTiers()))

	tiers, ok, err := s.cache.Get(ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(pricing.FallbackTiers(), tiers)

	s.Require().NoError(s.cache.Invalidate(ctx))
	_, ok, err = s.cache.Get(ctx)
	s.Require().NoError(err)
	s.False(ok)
}

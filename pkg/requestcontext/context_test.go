package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"certledger/pkg/domain"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.True(t, Actor(ctx).IsZero())
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	actor := domain.Actor{ID: "reg-1", Role: domain.RoleRegistrar}
	ctx = WithActor(ctx, actor)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithClientMetadata(ctx, "203.0.113.5", "curl/8.0")
	ctx = WithTime(ctx, at)

	assert.Equal(t, actor, Actor(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "203.0.113.5", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
	assert.Equal(t, at, Now(ctx))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	assert.False(t, Now(context.Background()).Before(before))
}

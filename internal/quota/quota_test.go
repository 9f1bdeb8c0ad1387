package quota_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/quota"
	"modelgate/internal/schema"
	"modelgate/internal/storage"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		userID string
		want   quota.Tier
	}{
		{"", quota.TierFree},
		{"anonymous", quota.TierFree},
		{"alice", quota.TierFree},
		{"test_bob", quota.TierFree},
		{"carol_starter", quota.TierStarter},
		{"dave_pro", quota.TierPro},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quota.TierFor(tt.userID), "user %q", tt.userID)
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := quota.ParseTier("pro")
	assert.True(t, ok)
	assert.Equal(t, quota.TierPro, tier)

	_, ok = quota.ParseTier("platinum")
	assert.False(t, ok)
}

func TestAdmit_FreeTierDailyLimit(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	allowed, remaining, limit, err := gate.Admit(ctx, "alice", quota.TierFor("alice"))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 50, remaining)
	assert.Equal(t, 50, limit)

	for i := 0; i < 50; i++ {
		gate.RecordMessage(ctx, "alice")
	}

	allowed, remaining, limit, err = gate.Admit(ctx, "alice", quota.TierFor("alice"))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 50, limit)
}

func TestAdmit_FreeTierMonthlyTighter(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	// 1460 monthly messages leave 40 this month but the daily window is
	// fresh, so monthly is the tighter bound.
	for i := 0; i < 1460; i++ {
		_, err := backend.Incr(ctx, "usage:alice:monthly", time.Hour)
		require.NoError(t, err)
	}

	allowed, remaining, limit, err := gate.Admit(ctx, "alice", quota.TierFor("alice"))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 40, remaining)
	assert.Equal(t, 50, limit)
}

func TestAdmit_StarterMonthlyOnly(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	// No daily cap on STARTER: 100 messages today is fine.
	for i := 0; i < 100; i++ {
		gate.RecordMessage(ctx, "carol_starter")
	}

	allowed, remaining, limit, err := gate.Admit(ctx, "carol_starter", quota.TierStarter)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1900, remaining)
	assert.Equal(t, 2000, limit)
}

func TestAdmit_UnlimitedTier(t *testing.T) {
	gate := quota.New(storage.NewMemoryBackend(), nil)

	allowed, remaining, limit, err := gate.Admit(context.Background(), "dave_pro", quota.TierPro)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, -1, remaining)
	assert.Equal(t, -1, limit)
}

func TestCurrentUsage_EstimatesFromTokens(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	// No message counter: 2400 tokens estimate to 4 messages at 500 each.
	key := fmt.Sprintf("usage:alice:%s", time.Now().Format("2006-01-02"))
	require.NoError(t, backend.HIncrBy(ctx, key, "input_tokens", 1000, time.Hour))
	require.NoError(t, backend.HIncrBy(ctx, key, "output_tokens", 1400, time.Hour))

	usage, err := gate.CurrentUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Daily)
}

func TestRecordTokens(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	gate.RecordTokens(ctx, schema.UsageDelta{
		UserID:       "alice",
		Model:        "glm-4.5",
		InputTokens:  120,
		OutputTokens: 80,
	})
	gate.RecordTokens(ctx, schema.UsageDelta{
		UserID:       "alice",
		Model:        "glm-4.5",
		InputTokens:  30,
		OutputTokens: 70,
	})

	key := fmt.Sprintf("usage:alice:%s", time.Now().Format("2006-01-02"))
	fields, err := backend.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "150", fields["input_tokens"])
	assert.Equal(t, "150", fields["output_tokens"])
	assert.Equal(t, "300", fields["total_tokens"])
	assert.Equal(t, "300", fields["model:glm-4.5:tokens"])
}

func TestRecordTokens_SkipsAnonymous(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	gate.RecordTokens(ctx, schema.UsageDelta{
		UserID:       "anonymous",
		Model:        "glm-4.5",
		InputTokens:  10,
		OutputTokens: 10,
	})

	key := fmt.Sprintf("usage:anonymous:%s", time.Now().Format("2006-01-02"))
	fields, err := backend.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestUsageSummary(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	gate := quota.New(backend, nil)

	for i := 0; i < 3; i++ {
		gate.RecordMessage(ctx, "alice")
	}

	s, err := gate.UsageSummary(ctx, "alice", quota.TierFree)
	require.NoError(t, err)
	assert.Equal(t, quota.TierFree, s.Tier)
	assert.Equal(t, 3, s.Usage.Daily)
	assert.Equal(t, 3, s.Usage.Monthly)
	assert.Equal(t, 47, s.Remaining["daily"])
	assert.Equal(t, 1497, s.Remaining["monthly"])

	s, err = gate.UsageSummary(ctx, "dave_pro", quota.TierPro)
	require.NoError(t, err)
	assert.True(t, s.Limits.Unlimited)
	assert.Empty(t, s.Remaining)
}

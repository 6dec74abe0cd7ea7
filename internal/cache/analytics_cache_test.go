package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
)

func newTestCache(t *testing.T) (*AnalyticsCache, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	c := NewWithClient(client, config.RedisConfig{TTL: time.Hour, Timeout: time.Second}, zerolog.Nop())
	return c, mock
}

func testPayload(sessionID string) *Payload {
	return &Payload{
		SessionID:    sessionID,
		CacheVersion: config.AnalyticsCacheVersion,
		Analytics: map[string]*emg.ChannelAnalytics{
			"CH1": {ChannelName: "CH1", TotalContractions: 4, GoodContractionCount: 3},
		},
		Summary: Summary{
			Channels:      []string{"CH1"},
			TotalChannels: 1,
		},
	}
}

func TestCacheHitRoundTrip(t *testing.T) {
	c, mock := newTestCache(t)
	p := testPayload("sess-1")

	data, err := json.Marshal(p)
	require.NoError(t, err)
	mock.ExpectGet(Key("sess-1")).SetVal(string(data))

	got, ok := c.Get(context.Background(), "sess-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, 4, got.Analytics["CH1"].TotalContractions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheMissOnRedisNil(t *testing.T) {
	c, mock := newTestCache(t)

	mock.ExpectGet(Key("sess-1")).RedisNil()

	_, ok := c.Get(context.Background(), "sess-1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheErrorDegradesToMiss(t *testing.T) {
	c, mock := newTestCache(t)

	mock.ExpectGet(Key("sess-1")).SetErr(assert.AnError)

	_, ok := c.Get(context.Background(), "sess-1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheCorruptPayloadIsMiss(t *testing.T) {
	c, mock := newTestCache(t)

	mock.ExpectGet(Key("sess-1")).SetVal("{not json")

	_, ok := c.Get(context.Background(), "sess-1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheVersionMismatchIsMiss(t *testing.T) {
	c, mock := newTestCache(t)
	p := testPayload("sess-1")
	p.CacheVersion = "1999.0"

	data, err := json.Marshal(p)
	require.NoError(t, err)
	mock.ExpectGet(Key("sess-1")).SetVal(string(data))

	_, ok := c.Get(context.Background(), "sess-1")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheSetStampsVersion(t *testing.T) {
	c, mock := newTestCache(t)
	p := testPayload("sess-1")
	p.CacheVersion = "" // Set must stamp the current version

	expected := testPayload("sess-1")
	data, err := json.Marshal(expected)
	require.NoError(t, err)

	mock.ExpectSet(Key("sess-1"), data, time.Hour).SetVal("OK")

	c.Set(context.Background(), p)
	assert.Equal(t, config.AnalyticsCacheVersion, p.CacheVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheSetFailureIsSilent(t *testing.T) {
	c, mock := newTestCache(t)
	p := testPayload("sess-1")

	data, err := json.Marshal(p)
	require.NoError(t, err)
	mock.ExpectSet(Key("sess-1"), data, time.Hour).SetErr(assert.AnError)

	// Must not panic or propagate.
	c.Set(context.Background(), p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheInvalidate(t *testing.T) {
	c, mock := newTestCache(t)

	mock.ExpectDel(Key("sess-1")).SetVal(1)

	c.Invalidate(context.Background(), "sess-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildSummary(t *testing.T) {
	analytics := map[string]*emg.ChannelAnalytics{
		"CH2": {ChannelName: "CH2", GoodContractionCount: 6},
		"CH1": {ChannelName: "CH1", GoodContractionCount: 12},
	}
	now := time.Now()

	s := BuildSummary(analytics, 12, now)
	assert.Equal(t, []string{"CH1", "CH2"}, s.Channels)
	assert.Equal(t, 2, s.TotalChannels)
	// CH1 at 12/12 capped to 1.0, CH2 at 6/12 = 0.5.
	assert.InDelta(t, 0.75, s.OverallCompliance, 1e-9)
	assert.Equal(t, now, s.ProcessedAt)
}

func TestBuildSummaryOverachieverCapped(t *testing.T) {
	analytics := map[string]*emg.ChannelAnalytics{
		"CH1": {ChannelName: "CH1", GoodContractionCount: 20},
	}
	s := BuildSummary(analytics, 12, time.Now())
	assert.InDelta(t, 1.0, s.OverallCompliance, 1e-9)
}

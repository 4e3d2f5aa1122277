package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func encodedEntry(t *testing.T, key string, value interface{}, expiresAt time.Time) string {
	t.Helper()
	raw, err := msgpack.Marshal(&Entry{
		Key:       key,
		Value:     value,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	return string(raw)
}

func TestRedisCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromCmdable(db, "mg")
	ctx := context.Background()

	t.Run("hit decodes the entry value", func(t *testing.T) {
		mock.ExpectGet("mg:price:AAPL:any").SetVal(encodedEntry(t, "price:AAPL:any", "cached", time.Now().Add(time.Minute)))

		value, ok, err := c.Get(ctx, "price:AAPL:any")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "cached", value)
	})

	t.Run("missing key is a miss, not an error", func(t *testing.T) {
		mock.ExpectGet("mg:price:MSFT:any").RedisNil()

		_, ok, err := c.Get(ctx, "price:MSFT:any")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stale entry reads as a miss", func(t *testing.T) {
		mock.ExpectGet("mg:price:TSLA:any").SetVal(encodedEntry(t, "price:TSLA:any", "old", time.Now().Add(-time.Minute)))

		_, ok, err := c.Get(ctx, "price:TSLA:any")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromCmdable(db, "mg")
	ctx := context.Background()

	mock.ExpectDel("mg:price:AAPL:any").SetVal(1)
	require.NoError(t, c.Delete(ctx, "price:AAPL:any"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheDeletePattern(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromCmdable(db, "mg")
	ctx := context.Background()

	mock.ExpectScan(0, "mg:price:AAPL:*", 200).SetVal([]string{"mg:price:AAPL:any", "mg:price:AAPL:1d"}, 0)
	mock.ExpectDel("mg:price:AAPL:any", "mg:price:AAPL:1d").SetVal(2)

	removed, err := c.DeletePattern(ctx, "price:AAPL:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheNoPrefix(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromCmdable(db, "")
	ctx := context.Background()

	mock.ExpectGet("price:AAPL:any").RedisNil()
	_, ok, err := c.Get(ctx, "price:AAPL:any")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

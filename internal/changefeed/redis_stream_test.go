package changefeed

import (
	"context"
	"testing"
	"time"

	rediscommon "irepair-admin/common/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisStream(t *testing.T) (*RedisStream, *Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub()
	feed := NewRedisStream(client, hub, zap.NewNop(), "")
	feed.block = 50 * time.Millisecond
	return feed, hub, mr
}

func TestRedisStream_PublishWritesEntry(t *testing.T) {
	feed, _, mr := setupRedisStream(t)

	require.NoError(t, feed.Publish(context.Background(), NewChange("technicians", "t1", OpMerge)))

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values, "data")
}

func TestRedisStream_ReadOnceDispatches(t *testing.T) {
	feed, hub, _ := setupRedisStream(t)

	var got []Change
	hub.Listen("appointments", func(c Change) { got = append(got, c) })

	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, NewChange("appointments", "a1", OpMerge)))
	require.NoError(t, feed.Publish(ctx, NewChange("appointments", "a2", OpMerge)))

	lastID, err := feed.readOnce(ctx, "0-0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].DocumentID)
	assert.Equal(t, "a2", got[1].DocumentID)

	// nothing newer than lastID
	next, err := feed.readOnce(ctx, lastID)
	require.NoError(t, err)
	assert.Equal(t, lastID, next)
	assert.Len(t, got, 2)
}

func TestRedisStream_SkipsMalformedEntries(t *testing.T) {
	feed, hub, _ := setupRedisStream(t)

	var got []Change
	hub.Listen("repairs", func(c Change) { got = append(got, c) })

	ctx := context.Background()
	_, err := rediscommon.PublishJSONToStream(ctx, feed.client, feed.stream, map[string]string{"foo": "bar"}, 0)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, NewChange("repairs", "r1", OpMerge)))

	_, err = feed.readOnce(ctx, "0-0")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].DocumentID)
}

func TestRedisStream_StartDeliversNewEntries(t *testing.T) {
	feed, hub, _ := setupRedisStream(t)

	got := make(chan Change, 16)
	hub.Listen("technicians", func(c Change) {
		select {
		case got <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Start(ctx)
	}()

	// the reader starts after the current tail, so keep publishing until one lands
	require.Eventually(t, func() bool {
		_ = feed.Publish(context.Background(), NewChange("technicians", "t1", OpMerge))
		select {
		case c := <-got:
			return c.DocumentID == "t1"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop")
	}
}

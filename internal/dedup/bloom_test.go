package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dongwoo46/bottlen/internal/feed"
)

type fakeDoer struct {
	mu    sync.Mutex
	calls [][]interface{}
	reply func(args []interface{}) *redis.Cmd
}

func (f *fakeDoer) Do(ctx context.Context, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	return f.reply(args)
}

func (f *fakeDoer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okReply(args []interface{}) *redis.Cmd {
	cmd := redis.NewCmd(context.Background(), args...)
	cmd.SetVal("OK")
	return cmd
}

func errReply(err error) func(args []interface{}) *redis.Cmd {
	return func(args []interface{}) *redis.Cmd {
		cmd := redis.NewCmd(context.Background(), args...)
		cmd.SetErr(err)
		return cmd
	}
}

func intReply(v int64) func(args []interface{}) *redis.Cmd {
	return func(args []interface{}) *redis.Cmd {
		cmd := redis.NewCmd(context.Background(), args...)
		cmd.SetVal(v)
		return cmd
	}
}

func TestRedisBloomInitReservesOnce(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: okReply}
	b := NewRedisBloom(doer, 0, 0, nil)

	require.NoError(t, b.Init(context.Background(), "dedup:news:cnbc"))
	require.NoError(t, b.Init(context.Background(), "dedup:news:cnbc"))
	require.Equal(t, 1, doer.callCount(), "reservation is cached after success")

	args := doer.calls[0]
	require.Equal(t, "BF.RESERVE", args[0])
	require.Equal(t, "dedup:news:cnbc", args[1])
	require.Equal(t, 0.01, args[2])
	require.Equal(t, int64(300_000), args[3])
}

func TestRedisBloomInitAlreadyExistsIsSuccess(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: errReply(errors.New("ERR item exists"))}
	b := NewRedisBloom(doer, 0.01, 1000, nil)

	require.NoError(t, b.Init(context.Background(), "dedup:news:dart"))
	// Cached as reserved even though the server said it already existed.
	require.NoError(t, b.Init(context.Background(), "dedup:news:dart"))
	require.Equal(t, 1, doer.callCount())
}

func TestRedisBloomInitFailureIsRetriedNextCall(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: errReply(errors.New("ERR unknown command"))}
	b := NewRedisBloom(doer, 0.01, 1000, nil)

	require.Error(t, b.Init(context.Background(), "dedup:news:edgar"))
	require.Error(t, b.Init(context.Background(), "dedup:news:edgar"))
	require.Equal(t, 2, doer.callCount(), "failed reservation is not cached")
}

func TestRedisBloomAdd(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: intReply(1)}
	b := NewRedisBloom(doer, 0.01, 1000, nil)

	added, err := b.Add(context.Background(), "dedup:news:cnbc", "abc123")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, []interface{}{"BF.ADD", "dedup:news:cnbc", "abc123"}, doer.calls[0])

	doer.reply = intReply(0)
	added, err = b.Add(context.Background(), "dedup:news:cnbc", "abc123")
	require.NoError(t, err)
	require.False(t, added)

	doer.reply = errReply(errors.New("connection refused"))
	_, err = b.Add(context.Background(), "dedup:news:cnbc", "abc123")
	require.Error(t, err)
}

func TestRedisBloomExists(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{reply: intReply(1)}
	b := NewRedisBloom(doer, 0.01, 1000, nil)

	present, err := b.Exists(context.Background(), "dedup:news:cnbc", "abc123")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []interface{}{"BF.EXISTS", "dedup:news:cnbc", "abc123"}, doer.calls[0])
}

func TestNamespace(t *testing.T) {
	t.Parallel()

	require.Equal(t, "dedup:news:cnbc", Namespace("cnbc", feed.TopicFinance))
	require.Equal(t, "dedup:news:arstechnica", Namespace("arstechnica", feed.TopicTech))
	require.Equal(t, "dedup:disclosure:edgar", Namespace("edgar", feed.TopicDisclosure))
	require.Equal(t, "dedup:disclosure:dart", Namespace("dart", feed.TopicDisclosure))
}

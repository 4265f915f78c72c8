package redisstreams

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/content"
	"stagekit/logging"
	"stagekit/messaging"
)

type fakeClient struct {
	added []*redis.XAddArgs
	acked []string
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, a)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("1-0")
	return cmd
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	<-ctx.Done()
	cmd := redis.NewXStreamSliceCmd(ctx)
	cmd.SetErr(ctx.Err())
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeClient) Close() error { return nil }

func TestPublishAndConsume(t *testing.T) {
	fc := &fakeClient{}
	tpt := newTransport(Config{MaxLen: 1000, Logger: logging.NewNoopLogger()}, fc, false)

	msg := messaging.NewMessage(messaging.TypeChangesetPersisted, messaging.ChangesetPersisted{
		UUID: "u-1",
		Refs: []content.EntityRef{content.Ref("post", 5)},
	})
	require.NoError(t, tpt.Publish(context.Background(), msg))
	require.Len(t, fc.added, 1)
	args := fc.added[0]
	assert.Equal(t, "stagekit:"+messaging.TypeChangesetPersisted, args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	var got messaging.ChangesetPersisted
	require.NoError(t, tpt.Subscribe(messaging.TypeChangesetPersisted, messaging.NewHandler("h", func(ctx context.Context, m messaging.IMessage) error {
		var err error
		got, err = messaging.DecodePayload[messaging.ChangesetPersisted](m)
		return err
	})))

	values := args.Values.(map[string]any)
	tpt.consume(context.Background(), args.Stream, redis.XMessage{ID: "1-0", Values: values})
	assert.Equal(t, "u-1", got.UUID)
	assert.Equal(t, []content.EntityRef{content.Ref("post", 5)}, got.Refs)
	assert.Equal(t, []string{"1-0"}, fc.acked)
}

func TestConsumeBadEntryIsAcked(t *testing.T) {
	fc := &fakeClient{}
	tpt := newTransport(Config{Logger: logging.NewNoopLogger()}, fc, false)
	tpt.consume(context.Background(), "s", redis.XMessage{ID: "9-0", Values: map[string]any{"data": "{"}})
	assert.Equal(t, []string{"9-0"}, fc.acked)

	_, err := decodeEntry(redis.XMessage{ID: "8-0", Values: map[string]any{}})
	assert.Error(t, err)
}

func TestNewTransportRequiresConnection(t *testing.T) {
	_, err := NewTransport(Config{})
	assert.Error(t, err)
}

func TestStartAndClose(t *testing.T) {
	fc := &fakeClient{}
	tpt := newTransport(Config{Logger: logging.NewNoopLogger()}, fc, false)
	require.NoError(t, tpt.Subscribe(messaging.TypeChangesetPublished, messaging.NewHandler("h", func(context.Context, messaging.IMessage) error { return nil })))
	require.NoError(t, tpt.Start(context.Background()))
	assert.True(t, tpt.Stats().Running)
	require.NoError(t, tpt.Close())
	assert.False(t, tpt.Stats().Running)
}

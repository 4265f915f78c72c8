package natsjetstream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/logging"
	"stagekit/messaging"
)

func TestNamingDefaults(t *testing.T) {
	tpt := NewTransport(Config{Logger: logging.NewNoopLogger()})
	assert.Equal(t, "stagekit.changeset.persisted", tpt.subject(messaging.TypeChangesetPersisted))
	assert.Equal(t, "stagekit-changeset_persisted", tpt.durable(messaging.TypeChangesetPersisted))
}

func TestStreamConfig(t *testing.T) {
	sc := streamConfig(Config{Stream: "S", SubjectPrefix: "p.", Retention: "limits", MaxAge: time.Hour})
	assert.Equal(t, "S", sc.Name)
	assert.Equal(t, []string{"p.>"}, sc.Subjects)
	assert.Equal(t, nats.LimitsPolicy, sc.Retention)
	assert.Equal(t, time.Hour, sc.MaxAge)

	assert.Equal(t, nats.WorkQueuePolicy, streamConfig(Config{}).Retention)

	tpt := NewTransport(Config{})
	assert.Equal(t, 5, tpt.cfg.MaxDeliver)
	assert.Equal(t, time.Second, tpt.cfg.NakDelay)
}

func TestPublishRequiresStart(t *testing.T) {
	tpt := NewTransport(Config{Logger: logging.NewNoopLogger()})
	err := tpt.Publish(context.Background(), messaging.NewMessage(messaging.TypeChangesetPublished, nil))
	assert.Error(t, err)
}

func TestOnMessageDispatch(t *testing.T) {
	tpt := NewTransport(Config{Logger: logging.NewNoopLogger()})
	var got string
	require.NoError(t, tpt.Subscribe(messaging.TypeChangesetDiscarded, messaging.NewHandler("h", func(ctx context.Context, m messaging.IMessage) error {
		p, err := messaging.DecodePayload[messaging.ChangesetDiscarded](m)
		got = p.UUID
		return err
	})))

	data, err := messaging.Encode(messaging.NewMessage(messaging.TypeChangesetDiscarded, messaging.ChangesetDiscarded{UUID: "gone"}))
	require.NoError(t, err)
	decoded, err := messaging.Decode(data)
	require.NoError(t, err)
	require.NoError(t, tpt.dispatch(context.Background(), decoded))
	assert.Equal(t, "gone", got)
}

func TestSubscribeBeforeStart(t *testing.T) {
	tpt := NewTransport(Config{Logger: logging.NewNoopLogger()})
	h := messaging.NewHandler("h", func(context.Context, messaging.IMessage) error { return nil })
	require.NoError(t, tpt.Subscribe(messaging.TypeChangesetPublished, h))

	stats := tpt.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, []string{messaging.TypeChangesetPublished}, stats.MessageTypes)

	require.NoError(t, tpt.Unsubscribe(messaging.TypeChangesetPublished, h))
	assert.Error(t, tpt.Unsubscribe(messaging.TypeChangesetPublished, h))
	assert.Zero(t, tpt.Stats().HandlerCount)
	assert.Error(t, tpt.PublishAll(context.Background(), []messaging.IMessage{messaging.NewMessage(messaging.TypeChangesetPublished, nil)}))
}

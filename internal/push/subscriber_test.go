package push_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLocShare/internal/api"
	"GoLocShare/internal/model"
	"GoLocShare/internal/push"
	"GoLocShare/internal/testutil"
)

func newSubscriberConfig(url, token string) *push.SubscriberConfig {
	config := push.DefaultSubscriberConfig(url, token)
	config.PingInterval = 200 * time.Millisecond
	config.PongTimeout = 200 * time.Millisecond
	config.ReconnectInterval = 50 * time.Millisecond
	return config
}

func TestSubscriberReceivesCreationEvents(t *testing.T) {
	env := testutil.NewEnv(t)

	var refreshes atomic.Int32
	var lastEvent atomic.Value
	dispatcher := push.NewDispatcher(
		func(ctx context.Context) error {
			refreshes.Add(1)
			return nil
		},
		func(ctx context.Context, kind model.SessionType, id string) error {
			lastEvent.Store(string(kind) + ":" + id)
			return nil
		},
	)

	subscriber := push.NewSubscriber(
		newSubscriberConfig(env.Server.PushURL(), env.Config.Token),
		dispatcher,
	)
	require.NoError(t, subscriber.Connect(context.Background()))
	defer subscriber.Close()

	// 创建一个位置请求会广播一条推送事件
	session, err := env.Client.SendRequest(context.Background(), api.RequestReq{
		Username: "alice01",
		Message:  "where are you?",
	})
	require.NoError(t, err)

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return refreshes.Load() >= 1
	}, "push event should trigger a feed refresh")

	testutil.WaitFor(t, 3*time.Second, func() bool {
		v, _ := lastEvent.Load().(string)
		return v == "request:"+session.ID
	}, "push event should carry the created session id")
}

func TestSubscriberReconnectsAfterDisconnect(t *testing.T) {
	env := testutil.NewEnv(t)

	var refreshes atomic.Int32
	dispatcher := push.NewDispatcher(
		func(ctx context.Context) error {
			refreshes.Add(1)
			return nil
		},
		nil,
	)

	subscriber := push.NewSubscriber(
		newSubscriberConfig(env.Server.PushURL(), env.Config.Token),
		dispatcher,
	)

	states := &testutil.Recorder{}
	subscriber.SetStateChangeHandler(func(oldState, newState push.SubscriberState) {
		states.Record(newState.String())
	})

	require.NoError(t, subscriber.Connect(context.Background()))
	defer subscriber.Close()

	// 服务端强制断开推送通道
	env.Server.ForceDisconnectPush()

	testutil.WaitFor(t, 5*time.Second, func() bool {
		return subscriber.Reconnects() >= 1
	}, "subscriber should reconnect after forced disconnect")

	assert.Contains(t, states.Events(), "RECONNECTING")
	assert.Contains(t, states.Events(), "CONNECTED")

	// 重连后的事件仍然可达
	_, err := env.Client.SendRequest(context.Background(), api.RequestReq{Username: "alice01"})
	require.NoError(t, err)

	testutil.WaitFor(t, 3*time.Second, func() bool {
		return refreshes.Load() >= 1
	}, "events should flow again after reconnect")
}

func TestSubscriberConnectFailure(t *testing.T) {
	dispatcher := push.NewDispatcher(nil, nil)
	subscriber := push.NewSubscriber(
		newSubscriberConfig("ws://127.0.0.1:1/push", "tok"),
		dispatcher,
	)

	err := subscriber.Connect(context.Background())
	require.Error(t, err)

	// 连接失败后可以再次尝试
	err = subscriber.Connect(context.Background())
	require.Error(t, err)
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)

	subscriber := push.NewSubscriber(
		newSubscriberConfig(env.Server.PushURL(), env.Config.Token),
		push.NewDispatcher(nil, nil),
	)
	require.NoError(t, subscriber.Connect(context.Background()))

	require.NoError(t, subscriber.Close())
	require.NoError(t, subscriber.Close())

	stats := subscriber.GetStats()
	assert.Equal(t, "CLOSED", stats["state"])
}

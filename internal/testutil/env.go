package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"GoLocShare/internal/api"
	"GoLocShare/internal/model"
	"GoLocShare/internal/testserver"
)

// 测试端口分配器，避免多个用例抢占同一端口
var portCounter atomic.Int32

func init() {
	portCounter.Store(18200)
}

// NextAddr 返回下一个可用的测试监听地址
func NextAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", portCounter.Add(1))
}

// Env 端到端测试环境：一个测试服务器加一个已认证客户端
type Env struct {
	Server *testserver.Server
	Client *api.Client
	Config *testserver.ServerConfig
}

// NewEnv 启动测试服务器并创建指向它的API客户端
func NewEnv(t *testing.T) *Env {
	t.Helper()

	config := testserver.DefaultServerConfig(NextAddr())
	server := testserver.New(config)
	require.NoError(t, server.Start(), "test server failed to start")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	clientConfig := api.DefaultClientConfig(server.URL())
	client := api.New(clientConfig, api.StaticToken(config.Token))

	return &Env{
		Server: server,
		Client: client,
		Config: config,
	}
}

// SeedRequest 预置一个由认证用户发出的位置请求会话
func (e *Env) SeedRequest(t *testing.T, recipient model.Friend) *model.Session {
	t.Helper()

	sess := &model.Session{
		Type:        model.TypeRequest,
		Sender:      e.Config.User,
		Recipient:   model.Identity{Username: recipient.Username, Name: recipient.Name, Email: recipient.Email},
		CreatedDate: time.Now().UTC().Add(-time.Minute),
		State:       model.ExchangeState{Key: "seed-key", Token: "seed-token"},
	}
	e.Server.Seed(sess)
	return sess
}

// SeedNotification 预置一个发给认证用户的位置通知会话
func (e *Env) SeedNotification(t *testing.T, sender model.Identity, location model.LatLng) *model.Session {
	t.Helper()

	sess := &model.Session{
		Type:        model.TypeNotification,
		Sender:      sender,
		Recipient:   e.Config.User,
		CreatedDate: time.Now().UTC().Add(-time.Minute),
		Location:    &location,
		State:       model.ExchangeState{Key: "seed-key"},
	}
	e.Server.Seed(sess)
	return sess
}

// WaitFor 轮询直到条件满足或超时
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// Recorder 线程安全的事件记录器，用于断言回调序列
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Record 追加一个事件
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events 返回事件快照
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Len 返回事件数量
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

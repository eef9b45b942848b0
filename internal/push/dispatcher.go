package push

import (
	"context"
	"log"

	"GoLocShare/internal/model"
)

// Event 带外到达的推送事件：某个会话有新动静
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RefreshFunc 整体刷新活动Feed
type RefreshFunc func(ctx context.Context) error

// SessionFunc 重新拉取单个会话
type SessionFunc func(ctx context.Context, kind model.SessionType, id string) error

// Dispatcher 把推送事件路由到与手动刷新相同的路径：
// 刷新Feed快照，并让激活中的详情视图重拉对应会话。
// Dispatcher不关心事件从哪种通道到达。
type Dispatcher struct {
	onRefresh RefreshFunc
	onSession SessionFunc
}

// NewDispatcher 创建分发器
func NewDispatcher(onRefresh RefreshFunc, onSession SessionFunc) *Dispatcher {
	return &Dispatcher{
		onRefresh: onRefresh,
		onSession: onSession,
	}
}

// Dispatch 处理一条推送事件。未知类型记录日志后丢弃。
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	var kind model.SessionType
	switch event.Type {
	case string(model.TypeRequest):
		kind = model.TypeRequest
	case string(model.TypeNotification):
		kind = model.TypeNotification
	default:
		log.Printf("Dropping push event with unknown type: %q", event.Type)
		return
	}

	if d.onRefresh != nil {
		if err := d.onRefresh(ctx); err != nil {
			log.Printf("Push-triggered feed refresh failed: %v", err)
		}
	}

	if d.onSession != nil && event.ID != "" {
		if err := d.onSession(ctx, kind, event.ID); err != nil {
			log.Printf("Push-triggered session reload failed: %v", err)
		}
	}
}

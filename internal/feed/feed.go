package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GoLocShare/internal/model"
)

// Direction 从哪个视角渲染会话：发送方（outgoing）或接收方（incoming）
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// 四种图标状态token
const (
	IconRequestOpen          = "ion-ios-bolt-outline"
	IconRequestComplete      = "ion-ios-bolt"
	IconNotificationOpen     = "ion-ios-location-outline"
	IconNotificationComplete = "ion-ios-location"
)

// Item 装饰后的活动条目（供列表视图直接渲染）
type Item struct {
	Session     model.Session
	Name        string
	Description string
	URL         string
	Icon        string
	Complete    bool
}

// Service 活动列表的数据来源
type Service interface {
	OutgoingActivity(ctx context.Context) ([]model.Session, error)
	IncomingActivity(ctx context.Context) ([]model.Session, error)
}

// Aggregator 活动Feed聚合器。每次拉取原子替换整个快照，
// 不做增量合并；complete状态在本进程内保持单调。
type Aggregator struct {
	svc Service
	now func() time.Time

	mu        sync.RWMutex
	outgoing  []Item
	incoming  []Item
	completed map[string]struct{} // 本进程内已观察到complete的会话
}

// NewAggregator 创建聚合器
func NewAggregator(svc Service) *Aggregator {
	return &Aggregator{
		svc:       svc,
		now:       time.Now,
		completed: make(map[string]struct{}),
	}
}

// ListOutgoing 拉取并格式化发出的活动。失败时不改动当前快照。
func (a *Aggregator) ListOutgoing(ctx context.Context) ([]Item, error) {
	sessions, err := a.svc.OutgoingActivity(ctx)
	if err != nil {
		return nil, err
	}

	items := a.decorate(sessions, Outgoing)

	a.mu.Lock()
	a.outgoing = items
	a.mu.Unlock()

	return copyItems(items), nil
}

// ListIncoming 拉取并格式化收到的活动
func (a *Aggregator) ListIncoming(ctx context.Context) ([]Item, error) {
	sessions, err := a.svc.IncomingActivity(ctx)
	if err != nil {
		return nil, err
	}

	items := a.decorate(sessions, Incoming)

	a.mu.Lock()
	a.incoming = items
	a.mu.Unlock()

	return copyItems(items), nil
}

// Refresh 同时刷新两个方向。任一方向失败即整体失败，
// 成功的一侧快照仍然生效。
func (a *Aggregator) Refresh(ctx context.Context) error {
	if _, err := a.ListOutgoing(ctx); err != nil {
		return fmt.Errorf("refresh outgoing: %w", err)
	}
	if _, err := a.ListIncoming(ctx); err != nil {
		return fmt.Errorf("refresh incoming: %w", err)
	}
	return nil
}

// Outgoing 返回当前发出方向的快照副本
func (a *Aggregator) Outgoing() []Item {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyItems(a.outgoing)
}

// Incoming 返回当前收到方向的快照副本
func (a *Aggregator) Incoming() []Item {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyItems(a.incoming)
}

// decorate 应用单调complete并格式化
func (a *Aggregator) decorate(sessions []model.Session, dir Direction) []Item {
	now := a.now()
	items := make([]Item, 0, len(sessions))

	a.mu.Lock()
	for i := range sessions {
		s := sessions[i]
		if _, seen := a.completed[s.ID]; seen {
			s.State.Complete = true
		} else if s.State.Complete {
			a.completed[s.ID] = struct{}{}
		}
		items = append(items, FormatItem(s, dir, now))
	}
	a.mu.Unlock()

	return items
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// FormatItem 纯函数：将会话装饰为列表条目。
// 规则沿用移动端列表的展示约定：
//   - notification：图标随complete从outline切换为实心，始终可导航
//   - request：incoming始终可导航；outgoing仅在complete后可导航
func FormatItem(s model.Session, dir Direction, now time.Time) Item {
	item := Item{
		Session:  s,
		Complete: s.State.Complete,
	}

	if dir == Outgoing {
		item.Name = s.Recipient.DisplayName()
		item.Description = "received " + timeAgo(now.Sub(s.CreatedDate))
	} else {
		item.Name = s.Sender.DisplayName()
		item.Description = "sent " + timeAgo(now.Sub(s.CreatedDate))
	}

	navURL := fmt.Sprintf("#/app/tab/%s_%s/%s", dir, s.Type, s.ID)

	switch s.Type {
	case model.TypeNotification:
		item.Icon = IconNotificationOpen
		item.URL = navURL
		if s.State.Complete {
			item.Icon = IconNotificationComplete
		}
	case model.TypeRequest:
		item.Icon = IconRequestOpen
		if dir == Incoming {
			item.URL = navURL
		}
		if s.State.Complete {
			item.Icon = IconRequestComplete
			item.URL = navURL
		}
	}

	return item
}

// timeAgo 粗粒度的人类可读时间差
func timeAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

package detail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"GoLocShare/internal/api"
	"GoLocShare/internal/feed"
	"GoLocShare/internal/geo"
	"GoLocShare/internal/model"
)

// State 详情视图状态
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateLoadFailed
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateLoaded:
		return "LOADED"
	case StateLoadFailed:
		return "LOAD_FAILED"
	case StateSubmitting:
		return "SUBMITTING"
	default:
		return "UNKNOWN"
	}
}

// StateChangeHandler 状态变化回调
type StateChangeHandler func(oldState, newState State)

// Service 详情控制器的数据来源
type Service interface {
	RequestDetail(ctx context.Context, id string) (*model.Session, error)
	NotificationDetail(ctx context.Context, id string) (*model.Session, error)
	SendNotification(ctx context.Context, req api.NotifyRequest) (*model.Session, error)
}

// Config 一次详情视图激活的配置
type Config struct {
	Kind        model.SessionType
	ID          string
	Direction   feed.Direction
	ContainerID string
	Zoom        int
}

// DefaultConfig 返回默认配置
func DefaultConfig(kind model.SessionType, id string, dir feed.Direction) *Config {
	return &Config{
		Kind:        kind,
		ID:          id,
		Direction:   dir,
		ContainerID: "locmap",
		Zoom:        13,
	}
}

// defaultCenter 定位失败时的初始镜头位置（旧金山）
var defaultCenter = model.LatLng{Lat: 37.7833, Lng: -122.4167}

// Controller 单个会话详情视图的控制器。一次激活对应一个实例；
// 导航离开后调用Dispose，在途请求的结果直接丢弃。
type Controller struct {
	config    *Config
	svc       Service
	locations geo.Provider
	renderer  geo.Renderer

	state   atomic.Int32
	onState StateChangeHandler

	// 载荷应用顺序控制：每次拉取领取一个epoch，
	// 只有比已应用epoch更新的结果才会生效
	loadSeq  atomic.Uint64
	applied  atomic.Uint64
	disposed atomic.Bool

	mu        sync.RWMutex
	session   *model.Session
	token     string
	mapHandle geo.MapHandle
	markers   []geo.MarkerHandle
	lastErr   error
}

// NewController 创建详情控制器
func NewController(config *Config, svc Service, locations geo.Provider, renderer geo.Renderer) *Controller {
	if config == nil {
		panic("config cannot be nil")
	}
	c := &Controller{
		config:    config,
		svc:       svc,
		locations: locations,
		renderer:  renderer,
	}
	c.state.Store(int32(StateIdle))
	return c
}

// SetStateChangeHandler 设置状态变化回调
func (c *Controller) SetStateChangeHandler(handler StateChangeHandler) {
	c.onState = handler
}

// Load 加载会话详情（每次激活只允许一次）
func (c *Controller) Load(ctx context.Context) error {
	if !c.compareAndSwapState(StateIdle, StateLoading) {
		return errors.New("detail view is already activated")
	}
	return c.fetch(ctx)
}

// Reload 重新拉取会话详情（手动刷新或推送触达时使用）
func (c *Controller) Reload(ctx context.Context) error {
	if c.disposed.Load() {
		return errors.New("detail view is disposed")
	}
	return c.fetch(ctx)
}

// SubmitLocation 针对收到的位置请求提交自己的位置。
// 确认提交成功后才发起重新拉取，重拉严格排在写入之后。
func (c *Controller) SubmitLocation(ctx context.Context, location model.LatLng) error {
	if c.config.Kind != model.TypeRequest || c.config.Direction != feed.Incoming {
		return errors.New("location can only be submitted for an incoming request")
	}
	if !c.compareAndSwapState(StateLoaded, StateSubmitting) {
		return errors.New("detail view is not ready for submission")
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	_, err := c.svc.SendNotification(ctx, api.NotifyRequest{
		Token:    token,
		Location: location,
	})
	if err != nil {
		// 提交失败回到Loaded，调用方保留表单内容以便重试
		c.setErr(err)
		c.setState(StateLoaded)
		return err
	}

	c.setState(StateLoading)
	return c.fetch(ctx)
}

// Dispose 视图销毁。之后到达的任何在途结果都不再生效。
func (c *Controller) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	markers := c.markers
	c.markers = nil
	c.mu.Unlock()

	if c.renderer != nil && len(markers) > 0 {
		c.renderer.ClearMarkers(markers)
	}
}

// fetch 执行一次拉取并按epoch顺序应用结果
func (c *Controller) fetch(ctx context.Context) error {
	epoch := c.loadSeq.Add(1)

	var (
		fresh *model.Session
		err   error
	)
	if c.config.Kind == model.TypeRequest {
		fresh, err = c.svc.RequestDetail(ctx, c.config.ID)
	} else {
		fresh, err = c.svc.NotificationDetail(ctx, c.config.ID)
	}

	if c.disposed.Load() {
		// 视图已销毁，迟到的结果不触碰任何可见状态
		if err != nil {
			return err
		}
		return nil
	}

	if err != nil {
		if epoch <= c.applied.Load() {
			// 已有更新的结果生效，过期失败不再改变可见状态
			return err
		}
		c.setErr(err)
		c.setState(StateLoadFailed)
		return err
	}

	c.apply(ctx, epoch, fresh)
	return nil
}

// apply 应用拉取结果。过期epoch的结果直接丢弃，
// 保证提交后的重拉不会被更慢的旧拉取覆盖。
func (c *Controller) apply(ctx context.Context, epoch uint64, fresh *model.Session) {
	for {
		last := c.applied.Load()
		if epoch <= last {
			return
		}
		if c.applied.CompareAndSwap(last, epoch) {
			break
		}
	}

	c.mu.Lock()
	if c.session == nil {
		merged := *fresh
		merged.SortNotifications()
		c.session = &merged
	} else {
		c.session.Merge(fresh)
	}
	c.token = c.session.State.Token
	c.mu.Unlock()

	c.renderMap(ctx)
	c.setState(StateLoaded)
}

// renderMap 重建地图和标记。镜头选择规则：
//   - notification详情：居中到该通知的位置
//   - outgoing request且已有位置事件：居中到第一个事件的位置（确定性默认）
//   - 其余情况：观察者当前位置；定位失败回退到固定默认点
func (c *Controller) renderMap(ctx context.Context) {
	if c.renderer == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	center := defaultCenter

	switch {
	case s.Type == model.TypeNotification && s.Location != nil:
		center = *s.Location
	case s.Type == model.TypeRequest && c.config.Direction == feed.Outgoing && len(s.Notifications) > 0:
		center = s.Notifications[0].Location
	default:
		if c.locations != nil {
			if current, err := c.locations.CurrentLocation(ctx); err == nil {
				center = current
			} else {
				c.lastErr = err
			}
		}
	}

	if len(c.markers) > 0 {
		c.renderer.ClearMarkers(c.markers)
	}
	c.markers = nil

	c.mapHandle = c.renderer.CreateMap(c.config.ContainerID, center, c.config.Zoom)

	if s.Type == model.TypeNotification && s.Location != nil {
		c.markers = append(c.markers,
			c.renderer.CreateMarker(c.mapHandle, *s.Location, 0, false))
		return
	}

	// 每个位置事件恰好一个标记；is_web只降低精度展示，从不剔除
	for i, event := range s.Notifications {
		c.markers = append(c.markers,
			c.renderer.CreateMarker(c.mapHandle, event.Location, i, event.IsWeb))
	}
}

// Session 当前会话副本，尚未加载时返回nil
func (c *Controller) Session() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Markers 当前标记句柄
func (c *Controller) Markers() []geo.MarkerHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	markers := make([]geo.MarkerHandle, len(c.markers))
	copy(markers, c.markers)
	return markers
}

// Map 当前地图句柄
func (c *Controller) Map() geo.MapHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapHandle
}

// Err 最近一次被surface的错误
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// State 当前状态
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(newState State) {
	oldState := State(c.state.Swap(int32(newState)))
	if oldState != newState && c.onState != nil {
		c.onState(oldState, newState)
	}
}

func (c *Controller) compareAndSwapState(oldState, newState State) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onState != nil {
		c.onState(oldState, newState)
	}
	return swapped
}

package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// SubscriberState 推送通道连接状态
type SubscriberState int32

const (
	StateDisconnected SubscriberState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s SubscriberState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateChangeHandler 连接状态变化回调
type StateChangeHandler func(oldState, newState SubscriberState)

// SubscriberConfig 推送订阅配置
type SubscriberConfig struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	UserAgent         string
}

// DefaultSubscriberConfig 返回默认配置
func DefaultSubscriberConfig(url, token string) *SubscriberConfig {
	return &SubscriberConfig{
		URL:               url,
		Token:             token,
		HandshakeTimeout:  10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectTries: 10,
		UserAgent:         "GoLocShare/1.0",
	}
}

// Subscriber 推送通道的WebSocket订阅端，支持自动重连。
// 每条JSON事件交给Dispatcher走与手动刷新一致的路径。
type Subscriber struct {
	config     *SubscriberConfig
	dialer     *websocket.Dialer
	dispatcher *Dispatcher

	conn  *websocket.Conn
	state atomic.Int32

	onStateChange StateChangeHandler

	mu            sync.RWMutex
	stopChan      chan struct{}
	reconnectChan chan struct{}

	reconnectCount atomic.Int32
	reconnects     atomic.Int32
}

// NewSubscriber 创建订阅端
func NewSubscriber(config *SubscriberConfig, dispatcher *Dispatcher) *Subscriber {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	s := &Subscriber{
		config:        config,
		dialer:        &dialer,
		dispatcher:    dispatcher,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// SetStateChangeHandler 设置状态变化回调
func (s *Subscriber) SetStateChangeHandler(handler StateChangeHandler) {
	s.onStateChange = handler
}

// Connect 连接推送通道并启动后台读取
func (s *Subscriber) Connect(ctx context.Context) error {
	if !s.compareAndSwapState(StateDisconnected, StateConnecting) {
		return errors.New("subscriber is not in disconnected state")
	}

	if err := s.doConnect(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.setState(StateConnected)

	go s.readLoop()
	go s.pingLoop()
	go s.reconnectLoop()

	return nil
}

func (s *Subscriber) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{s.config.UserAgent},
	}
	if s.config.Token != "" {
		headers.Set("Authorization", "Bearer "+s.config.Token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.config.URL, headers)
	if err != nil {
		return fmt.Errorf("dial push channel failed: %w", err)
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PongTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return nil
}

// Close 关闭订阅端
func (s *Subscriber) Close() error {
	if !s.compareAndSwapState(StateConnected, StateClosed) &&
		!s.compareAndSwapState(StateReconnecting, StateClosed) &&
		!s.compareAndSwapState(StateDisconnected, StateClosed) {
		return nil
	}

	close(s.stopChan)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop 事件读取循环
func (s *Subscriber) readLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
			if s.getState() != StateConnected {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}

			var event Event
			if err := conn.ReadJSON(&event); err != nil {
				if s.getState() == StateClosed {
					return
				}
				log.Printf("Read push event failed: %v", err)
				s.triggerReconnect()
				continue
			}

			if s.dispatcher != nil {
				s.dispatcher.Dispatch(context.Background(), event)
			}
		}
	}
}

// pingLoop 保活循环
func (s *Subscriber) pingLoop() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if s.getState() != StateConnected {
				continue
			}

			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}

			deadline := time.Now().Add(s.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("Push channel ping failed: %v", err)
				s.triggerReconnect()
			}
		}
	}
}

// reconnectLoop 重连循环
func (s *Subscriber) reconnectLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		case <-s.reconnectChan:
			s.doReconnect()
		}
	}
}

func (s *Subscriber) triggerReconnect() {
	if s.getState() == StateConnected {
		s.setState(StateReconnecting)
		select {
		case s.reconnectChan <- struct{}{}:
		default:
		}
	}
}

func (s *Subscriber) doReconnect() {
	count := s.reconnectCount.Add(1)
	if count > int32(s.config.MaxReconnectTries) {
		log.Printf("Max push reconnect tries exceeded, giving up")
		s.setState(StateDisconnected)
		return
	}

	log.Printf("Reconnecting push channel... (attempt %d/%d)", count, s.config.MaxReconnectTries)

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = s.config.ReconnectInterval
	backOff.MaxElapsedTime = time.Duration(s.config.MaxReconnectTries) * s.config.ReconnectInterval

	err := backoff.Retry(func() error {
		return s.doConnect(context.Background())
	}, backOff)

	if err != nil {
		log.Printf("Push channel reconnect failed: %v", err)
		s.setState(StateDisconnected)
	} else {
		log.Printf("Push channel reconnected")
		s.setState(StateConnected)
		s.reconnectCount.Store(0)
		s.reconnects.Add(1)
	}
}

// Reconnects 成功重连次数
func (s *Subscriber) Reconnects() int {
	return int(s.reconnects.Load())
}

func (s *Subscriber) getState() SubscriberState {
	return SubscriberState(s.state.Load())
}

func (s *Subscriber) setState(newState SubscriberState) {
	oldState := SubscriberState(s.state.Swap(int32(newState)))
	if oldState != newState && s.onStateChange != nil {
		s.onStateChange(oldState, newState)
	}
}

func (s *Subscriber) compareAndSwapState(oldState, newState SubscriberState) bool {
	swapped := s.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && s.onStateChange != nil {
		s.onStateChange(oldState, newState)
	}
	return swapped
}

// GetStats 订阅端统计信息
func (s *Subscriber) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":           s.getState().String(),
		"reconnect_count": s.reconnectCount.Load(),
		"reconnects":      s.reconnects.Load(),
	}
}
